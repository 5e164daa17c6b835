package encryptors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVaultServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/v1/secret/data/anvil/volumes/k1":
			_, _ = w.Write([]byte(`{"data":{"data":{"key":"deadbeef"},` +
				`"metadata":{"version":1,"created_time":"2026-01-05T10:00:00Z","deletion_time":"","destroyed":false}}}`))
		case "/v1/secret/data/anvil/volumes/bad":
			_, _ = w.Write([]byte(`{"data":{"data":{"key":"not-hex"},` +
				`"metadata":{"version":1,"created_time":"2026-01-05T10:00:00Z","deletion_time":"","destroyed":false}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVaultKeyManager_Key(t *testing.T) {
	srv := newVaultServer(t)

	km, err := NewVaultKeyManager(srv.URL, "test-token", "secret", "anvil/volumes")
	require.NoError(t, err)

	key, err := km.Key(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, key)

	_, err = km.Key(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = km.Key(context.Background(), "bad")
	assert.Error(t, err)

	_, err = km.Key(context.Background(), "")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encryption.yaml")
	content := `default:
  provider: luks
  key_id: shared
volumes:
  v1:
    provider: plain
    key_id: k1
    cipher: aes-xts-plain64
    key_size: 512
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)

	meta, err := catalog.EncryptionMetadata(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "plain", meta.Provider)
	assert.Equal(t, 512, meta.KeySize)

	meta, err = catalog.EncryptionMetadata(context.Background(), "other")
	require.NoError(t, err)
	assert.Equal(t, "shared", meta.KeyID)
}
