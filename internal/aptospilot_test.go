package internal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/aptospilot/aptospilot/internal/config"
	"github.com/aptospilot/aptospilot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, err := setupStorage(ctx, config.StorageConfig{Kind: config.StorageMemory})
		require.NoError(t, err)
		assert.IsType(t, &storage.MemoryStorage{}, store)
	})

	t.Run("sqlite encrypts and round-trips", func(t *testing.T) {
		store, err := setupStorage(ctx, config.StorageConfig{
			Kind:          config.StorageSQLite,
			Path:          filepath.Join(t.TempDir(), "pilot.db"),
			EncryptionKey: "an encryption secret of any length",
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })

		kv := storage.ForProfile(store, "p1")
		require.NoError(t, kv.Set(ctx, "aptos_user_email", "a@x.com"))
		got, err := kv.Get(ctx, "aptos_user_email")
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", got)
	})

	t.Run("persistent backend needs a key", func(t *testing.T) {
		_, err := setupStorage(ctx, config.StorageConfig{Kind: config.StorageSQLite, Path: ":memory:"})
		assert.Error(t, err)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := setupStorage(ctx, config.StorageConfig{Kind: "etcd", EncryptionKey: "k"})
		assert.ErrorContains(t, err, "unknown storage kind")
	})
}

func TestSetupAssistant(t *testing.T) {
	svc, limiter := setupAssistant(config.AssistantConfig{RequestsPerMinute: 1, MaxMessageLength: 10})
	assert.False(t, svc.Configured())

	ok, _ := limiter.Allow("203.0.113.9")
	assert.True(t, ok)
	ok, _ = limiter.Allow("203.0.113.9")
	assert.False(t, ok)

	svc, _ = setupAssistant(config.AssistantConfig{APIKey: "k", Model: "gemini-1.5-flash", BaseURL: "http://127.0.0.1:1", RequestsPerMinute: 1})
	assert.True(t, svc.Configured())
}

func TestBalanceFunc(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["42"]`))
	}))
	defer node.Close()

	networks, err := setupNetworks(config.Config{
		Networks:       map[string]config.NetworkConfig{"devnet": {NodeURL: node.URL + "/v1"}},
		DefaultNetwork: "devnet",
	})
	require.NoError(t, err)

	balance := balanceFunc(networks)
	octas, err := balance(context.Background(), "", "0x1")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), octas)

	_, err = balance(context.Background(), "mainnet", "0x1")
	assert.Error(t, err)
}
