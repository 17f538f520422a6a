package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVStoreSetGetDelete(t *testing.T) {
	store, err := OpenKVStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	_, ok, err := store.Get(ctx, "state", "current_profile")
	require.NoError(t, err)
	assert.False(t, ok, "expected missing key to report ok=false")

	require.NoError(t, store.Set(ctx, "state", "current_profile", "default"))

	value, ok, err := store.Get(ctx, "state", "current_profile")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "default", value)

	require.NoError(t, store.Set(ctx, "state", "current_profile", "staging"))
	value, _, err = store.Get(ctx, "state", "current_profile")
	require.NoError(t, err)
	assert.Equal(t, "staging", value, "Set should overwrite an existing key")

	require.NoError(t, store.Delete(ctx, "state", "current_profile"))
	_, ok, err = store.Get(ctx, "state", "current_profile")
	require.NoError(t, err)
	assert.False(t, ok, "expected key to be gone after Delete")
}

func TestKVStoreTablesAreIsolated(t *testing.T) {
	store, err := OpenKVStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "auth_kv", "token", "secret"))

	_, ok, err := store.Get(ctx, "state", "token")
	require.NoError(t, err)
	assert.False(t, ok, "auth_kv entry should not be visible from the state table")
}

func TestKVStoreRejectsUnknownTable(t *testing.T) {
	store, err := OpenKVStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, _, err = store.Get(ctx, "bogus", "key")
	assert.Error(t, err)
	assert.Error(t, store.Set(ctx, "bogus", "key", "value"))
	assert.Error(t, store.Delete(ctx, "bogus", "key"))
}
