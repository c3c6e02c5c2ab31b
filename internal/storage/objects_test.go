package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ascms.org/internal/config"
)

type fakeS3 struct {
	mu          sync.Mutex
	path        string
	contentType string
	body        []byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.path = r.URL.Path
	f.contentType = r.Header.Get("Content-Type")
	f.body = body
	f.mu.Unlock()
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

func newTestStore(t *testing.T, publicURL string) (*ObjectStore, *fakeS3) {
	t.Helper()
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := New(config.StorageConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		Region:    "us-east-1",
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "avatars",
		PublicURL: publicURL,
	})
	require.NoError(t, err)
	return store, fake
}

func TestPutUploadsAndReturnsPublicURL(t *testing.T) {
	store, fake := newTestStore(t, "https://cdn.example.com/avatars/")
	payload := []byte("\x89PNG\r\n\x1a\nfake-image")

	url, err := store.Put(context.Background(), "profile-images/u1/abc.png", bytes.NewReader(payload), int64(len(payload)), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/avatars/profile-images/u1/abc.png", url)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "/avatars/profile-images/u1/abc.png", fake.path)
	assert.Equal(t, "image/png", fake.contentType)
	assert.Equal(t, payload, fake.body)
}

func TestPutDefaultsURLToEndpoint(t *testing.T) {
	store, _ := newTestStore(t, "")
	url, err := store.Put(context.Background(), "k.bin", bytes.NewReader([]byte("x")), 1, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://127.0.0.1:"))
	assert.True(t, strings.HasSuffix(url, "/avatars/k.bin"))
}

func TestPutRejectsEmptyKey(t *testing.T) {
	store, _ := newTestStore(t, "")
	_, err := store.Put(context.Background(), "/", bytes.NewReader(nil), 0, "")
	require.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(config.StorageConfig{Bucket: "b"})
	require.Error(t, err)
	_, err = New(config.StorageConfig{Endpoint: "localhost:9000"})
	require.Error(t, err)
}
