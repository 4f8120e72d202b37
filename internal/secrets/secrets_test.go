package secrets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Dozilab/internal/domain"
)

// fakeVault — KV v2 поверх httptest: data/ и metadata/ под mount "secret".
type fakeVault struct {
	mu      sync.Mutex
	data    map[string]map[string]any
	version map[string]int
}

const versionMeta = `"created_time":"2026-01-01T00:00:00Z","deletion_time":"","destroyed":false`

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("X-Vault-Token") != "test-token" {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasPrefix(r.URL.Path, "/v1/secret/data/"):
		path := strings.TrimPrefix(r.URL.Path, "/v1/secret/data/")
		switch r.Method {
		case http.MethodPut, http.MethodPost:
			var body struct {
				Data map[string]any `json:"data"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.data[path] = body.Data
			f.version[path]++
			_, _ = w.Write([]byte(`{"data":{"version":` + itoa(f.version[path]) + `,` + versionMeta + `}}`))
		case http.MethodGet:
			d, ok := f.data[path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"errors":[]}`))
				return
			}
			payload, _ := json.Marshal(d)
			_, _ = w.Write([]byte(`{"data":{"data":` + string(payload) + `,"metadata":{"version":` + itoa(f.version[path]) + `,` + versionMeta + `}}}`))
		}
	case strings.HasPrefix(r.URL.Path, "/v1/secret/metadata/") && r.Method == http.MethodDelete:
		path := strings.TrimPrefix(r.URL.Path, "/v1/secret/metadata/")
		delete(f.data, path)
		delete(f.version, path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[]}`))
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newVault(t *testing.T) (*VaultStore, *fakeVault) {
	t.Helper()
	fake := &fakeVault{data: make(map[string]map[string]any), version: make(map[string]int)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	s, err := NewVaultStore(VaultConfig{Address: server.URL, Token: "test-token"})
	require.NoError(t, err)
	return s, fake
}

func TestInstancePath(t *testing.T) {
	id := uuid.MustParse("6f1d0c52-9a1e-4c52-8f7e-7d5b3a2c1e00")
	assert.Equal(t,
		"deployments/6f1d0c52-9a1e-4c52-8f7e-7d5b3a2c1e00/vm-1/ssh",
		InstancePath(id, "vm-1", domain.AccessSSH))
	assert.Equal(t,
		"deployments/6f1d0c52-9a1e-4c52-8f7e-7d5b3a2c1e00/a_b/rdp",
		InstancePath(id, "a/b", domain.AccessRDP))
	assert.Equal(t,
		"deployments/6f1d0c52-9a1e-4c52-8f7e-7d5b3a2c1e00/_/vnc",
		InstancePath(id, "..", domain.AccessVNC))
}

func TestVaultStore(t *testing.T) {
	ctx := context.Background()
	s, fake := newVault(t)

	handle, err := s.Put(ctx, "deployments/d1/vm-1/ssh", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "vault:deployments/d1/vm-1/ssh", handle)
	assert.NotContains(t, handle, "hunter2")

	got, err := s.Get(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	require.NoError(t, s.Delete(ctx, handle))
	fake.mu.Lock()
	assert.Empty(t, fake.data)
	fake.mu.Unlock()

	_, err = s.Get(ctx, handle)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, "mem:deployments/d1/vm-1/ssh")
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	handle, err := s.Put(ctx, "deployments/d1/vm-1/rdp", "pw")
	require.NoError(t, err)
	got, err := s.Get(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "pw", got)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Delete(ctx, handle))
	require.NoError(t, s.Delete(ctx, handle))
	assert.Zero(t, s.Len())

	_, err = s.Get(ctx, "vault:x")
	assert.ErrorIs(t, err, ErrInvalidHandle)
}
