// Package secrets — хранилище учётных данных инстансов.
//
// Записи развёртываний содержат только непрозрачные ссылки (handle);
// сами значения живут в Vault.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Dozilab/internal/domain"
)

var (
	// ErrNotFound — секрет не найден.
	ErrNotFound = errors.New("secret not found")

	// ErrInvalidHandle — ссылка не принадлежит этому хранилищу.
	ErrInvalidHandle = errors.New("invalid secret handle")
)

// Store — хранилище секретов.
type Store interface {
	// Put сохраняет значение по пути и возвращает ссылку на него.
	Put(ctx context.Context, path, value string) (string, error)

	// Get возвращает значение по ссылке.
	Get(ctx context.Context, handle string) (string, error)

	// Delete удаляет секрет со всеми версиями. Отсутствующий секрет не ошибка.
	Delete(ctx context.Context, handle string) error
}

// InstancePath возвращает путь секрета точки доступа инстанса.
func InstancePath(deploymentID uuid.UUID, instance string, protocol domain.AccessProtocol) string {
	return fmt.Sprintf("deployments/%s/%s/%s", deploymentID, sanitize(instance), protocol)
}

func sanitize(segment string) string {
	segment = strings.ReplaceAll(segment, "/", "_")
	if segment == "" || segment == "." || segment == ".." {
		return "_"
	}
	return segment
}

func parseHandle(scheme, handle string) (string, error) {
	path, ok := strings.CutPrefix(handle, scheme+":")
	if !ok || path == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	return path, nil
}
