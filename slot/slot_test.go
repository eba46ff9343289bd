package slot

import (
	"context"
	"encoding/hex"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	require.NoError(t, store.Set(ctx, "key", []byte(`{"a":1}`)))
	value, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(value))

	require.NoError(t, store.Set(ctx, "key", []byte(`{"a":2}`)))
	value, err = store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(value))

	require.NoError(t, store.Delete(ctx, "key"))
	_, err = store.Get(ctx, "key")
	assert.True(t, IsNotFound(err))

	assert.NoError(t, store.Delete(ctx, "key"), "deleting a missing key is a no-op")
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemory())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	value := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", value))
	value[0] = 'z'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewMemory().Set(ctx, "k", []byte("v"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileStore(t *testing.T) {
	store, err := NewFile(t.TempDir())
	require.NoError(t, err)
	storeContract(t, store)
}

func TestFileStoreKeysStayInDirAndDistinct(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFile(dir)
	require.NoError(t, err)

	keys := []string{"../escape", "a/b", "a_b", "a..b", `a\b`}
	for i, key := range keys {
		require.NoError(t, store.Set(ctx, key, []byte{byte('0' + i)}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, len(keys))
	assert.Equal(t, hex.EncodeToString([]byte("../escape"))+".json", entries[0].Name())

	for i, key := range keys {
		value, err := store.Get(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, []byte{byte('0' + i)}, value, key)
	}
}

func TestFileStoreRequiresDir(t *testing.T) {
	_, err := NewFile("  ")
	assert.Error(t, err)
}

func TestPrefixedStore(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	a := WithPrefix(base, "a:")
	b := WithPrefix(base, "b:")

	require.NoError(t, a.Set(ctx, "k", []byte("1")))
	require.NoError(t, b.Set(ctx, "k", []byte("2")))

	got, err := base.Get(ctx, "a:k")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))

	got, err = b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))

	require.NoError(t, a.Delete(ctx, "k"))
	_, err = b.Get(ctx, "k")
	assert.NoError(t, err)

	assert.Same(t, base, WithPrefix(base, ""))
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("OPSPILOT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("OPSPILOT_TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	client, err := DialRedis(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store := NewRedis(client, WithRedisPrefix("opspilot:test:"+t.Name()+":"))
	storeContract(t, store)
}

func TestRedisStoreUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	store := NewRedis(client)
	_, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}
