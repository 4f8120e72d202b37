// Package artifact — хранилище содержимого шаблонов, адресуемого по sha256.
//
// Ссылка на артефакт содержит хеш последним сегментом пути,
// поэтому при чтении содержимое всегда сверяется с ним.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNotFound — артефакт не найден.
	ErrNotFound = errors.New("artifact not found")

	// ErrCorrupted — содержимое не совпадает с хешем из ссылки.
	ErrCorrupted = errors.New("artifact content hash mismatch")

	// ErrInvalidRef — ссылка не содержит хеша.
	ErrInvalidRef = errors.New("invalid artifact reference")
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// HashContent возвращает sha256 содержимого в hex.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashFromRef извлекает хеш из ссылки на артефакт.
func HashFromRef(ref string) (string, error) {
	hash := ref[strings.LastIndex(ref, "/")+1:]
	if !hashPattern.MatchString(hash) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return hash, nil
}

func verify(hash string, content []byte) error {
	if got := HashContent(content); got != hash {
		return fmt.Errorf("%w: want %s, got %s", ErrCorrupted, hash, got)
	}
	return nil
}
