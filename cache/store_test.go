package cache_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodstr/cache"
	"foodstr/models"
)

func newStore(t *testing.T, compress bool) *cache.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	require.NoError(t, cache.Migrate(path))

	store, err := cache.NewStore(path, compress)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		store := newStore(t, compress)

		notes := []models.Note{
			{Id: "a", Pubkey: "pk1", Kind: models.KindNote, CreatedAt: 100, Text: "dinner", Tags: [][]string{{"t", "foodstr"}}},
			{Id: "b", Pubkey: "pk2", Kind: models.KindNote, CreatedAt: 90, Text: "lunch"},
		}

		key := cache.SnapshotKey("global", "")
		require.NoError(t, store.PutSnapshot(key, notes))

		got, ok, err := store.GetSnapshot(key, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, notes, got)

		// Overwrite replaces, not appends.
		require.NoError(t, store.PutSnapshot(key, notes[:1]))
		got, ok, err = store.GetSnapshot(key, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Len(t, got, 1)
	}
}

func TestSnapshotMissAndStale(t *testing.T) {
	store := newStore(t, true)

	_, ok, err := store.GetSnapshot("feed:missing", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	key := cache.SnapshotKey("following", "pk1")
	require.NoError(t, store.PutSnapshot(key, []models.Note{{Id: "a"}}))

	// A zero-ish freshness bound makes the fresh row stale.
	_, ok, err = store.GetSnapshot(key, time.Nanosecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKVRoundTrip(t *testing.T) {
	store := newStore(t, false)

	require.NoError(t, store.PutKV("engagement:a", `{"likes":3}`))

	value, ok, err := store.GetKV("engagement:a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"likes":3}`, value)

	_, ok, err = store.GetKV("engagement:missing", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidateStale(t *testing.T) {
	store := newStore(t, false)

	require.NoError(t, store.PutSnapshot("feed:global", []models.Note{{Id: "a"}}))
	require.NoError(t, store.PutKV("k", "v"))

	// Nothing is older than an hour yet.
	require.NoError(t, store.InvalidateStale(time.Hour))
	_, ok, err := store.GetSnapshot("feed:global", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// Everything is older than a negative bound.
	require.NoError(t, store.InvalidateStale(-time.Hour))
	_, ok, err = store.GetSnapshot("feed:global", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}
