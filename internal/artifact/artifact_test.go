package artifact

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hot = "heat_template_version: 2021-04-16\nresources: {}\n"

func TestHashFromRef(t *testing.T) {
	t.Parallel()

	hash := HashContent([]byte(hot))

	tests := []struct {
		name    string
		ref     string
		wantErr bool
	}{
		{name: "s3", ref: "s3://bucket/templates/" + hash},
		{name: "memory", ref: "mem://templates/" + hash},
		{name: "bare hash", ref: hash},
		{name: "short", ref: "s3://bucket/templates/abc", wantErr: true},
		{name: "empty", ref: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := HashFromRef(tt.ref)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRef)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, hash, got)
		})
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	hash := HashContent([]byte(hot))

	_, err := s.Put(ctx, strings.Repeat("0", 64), []byte(hot))
	assert.ErrorIs(t, err, ErrCorrupted)

	ref, err := s.Put(ctx, hash, []byte(hot))
	require.NoError(t, err)
	again, err := s.Put(ctx, hash, []byte(hot))
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	content, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, hot, string(content))

	_, err = s.Get(ctx, "mem://templates/"+strings.Repeat("a", 64))
	assert.ErrorIs(t, err, ErrNotFound)
}

// fakeS3 — минимальный S3 поверх httptest с path-style адресацией.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	corrupt bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.puts++
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			return
		}
		if f.corrupt {
			body = append([]byte("x"), body...)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3Store(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(server.URL),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider("test-key", "test-secret", ""),
		HTTPClient:   &http.Client{Transport: &http.Transport{}},
	})
	return newS3Store(client, "dozilab", "", nil), fake
}

func TestS3Store_PutGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, fake := newTestS3Store(t)
	hash := HashContent([]byte(hot))

	ref, err := s.Put(ctx, hash, []byte(hot))
	require.NoError(t, err)
	assert.Equal(t, "s3://dozilab/templates/"+hash, ref)

	_, err = s.Put(ctx, hash, []byte(hot))
	require.NoError(t, err)
	assert.Equal(t, 1, fake.puts, "existing object must not be uploaded again")

	content, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, hot, string(content))
}

func TestS3Store_GetMissing(t *testing.T) {
	t.Parallel()
	s, _ := newTestS3Store(t)

	_, err := s.Get(context.Background(), "s3://dozilab/templates/"+strings.Repeat("b", 64))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Store_GetDetectsCorruption(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, fake := newTestS3Store(t)
	hash := HashContent([]byte(hot))

	ref, err := s.Put(ctx, hash, []byte(hot))
	require.NoError(t, err)

	fake.mu.Lock()
	fake.corrupt = true
	fake.mu.Unlock()

	_, err = s.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrCorrupted)
}
