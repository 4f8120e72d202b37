package secrets

import (
	"context"
	"errors"
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

const (
	// DefaultMount — точка монтирования KV v2 по умолчанию.
	DefaultMount = "secret"

	vaultScheme = "vault"
	valueKey    = "value"
)

// VaultConfig — параметры подключения к Vault.
type VaultConfig struct {
	Address string
	Token   string
	Mount   string
}

// VaultStore — секреты в Vault KV v2.
type VaultStore struct {
	kv *vault.KVv2
}

var _ Store = (*VaultStore)(nil)

// NewVaultStore создаёт клиента Vault.
func NewVaultStore(cfg VaultConfig) (*VaultStore, error) {
	vc := vault.DefaultConfig()
	if cfg.Address != "" {
		vc.Address = cfg.Address
	}
	if vc.Error != nil {
		return nil, fmt.Errorf("vault config: %w", vc.Error)
	}

	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	mount := cfg.Mount
	if mount == "" {
		mount = DefaultMount
	}
	return &VaultStore{kv: client.KVv2(mount)}, nil
}

// Put реализует Store.
func (s *VaultStore) Put(ctx context.Context, path, value string) (string, error) {
	if _, err := s.kv.Put(ctx, path, map[string]any{valueKey: value}); err != nil {
		return "", fmt.Errorf("vault put: %w", err)
	}
	return vaultScheme + ":" + path, nil
}

// Get реализует Store.
func (s *VaultStore) Get(ctx context.Context, handle string) (string, error) {
	path, err := parseHandle(vaultScheme, handle)
	if err != nil {
		return "", err
	}

	secret, err := s.kv.Get(ctx, path)
	if errors.Is(err, vault.ErrSecretNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("vault get: %w", err)
	}

	value, ok := secret.Data[valueKey].(string)
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Delete реализует Store. Удаляются все версии и метаданные.
func (s *VaultStore) Delete(ctx context.Context, handle string) error {
	path, err := parseHandle(vaultScheme, handle)
	if err != nil {
		return err
	}
	if err := s.kv.DeleteMetadata(ctx, path); err != nil {
		return fmt.Errorf("vault delete: %w", err)
	}
	return nil
}
