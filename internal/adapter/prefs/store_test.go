package prefs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventmap/internal/domain/mapview"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "prefs.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpen_CreatesDatabaseInWALMode(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "prefs.sqlite")

	store, err := Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	require.NoError(t, err)

	var mode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestStore_GetSet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "u1", mapview.KeyPostalCode)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "u1", mapview.KeyPostalCode, "85201"))
	require.NoError(t, store.Set(ctx, "u1", mapview.KeyPostalCode, "85281"))

	value, ok, err := store.Get(ctx, "u1", mapview.KeyPostalCode)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "85281", value)

	// scopes are isolated
	_, ok, err = store.Get(ctx, "u2", mapview.KeyPostalCode)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DeleteAndAll(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "u1", mapview.KeyPostalCode, "85201"))
	require.NoError(t, store.Set(ctx, "u1", mapview.KeyLastLocation, "33.448400,-112.074000"))

	all, err := store.All(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		mapview.KeyLastLocation: "33.448400,-112.074000",
		mapview.KeyPostalCode:   "85201",
	}, all)

	require.NoError(t, store.Delete(ctx, "u1", mapview.KeyPostalCode))
	require.NoError(t, store.Delete(ctx, "u1", "missing"))

	all, err = store.All(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_EmptyKey(t *testing.T) {
	store := openTestStore(t)

	assert.ErrorIs(t, store.Set(context.Background(), "u1", "", "x"), ErrEmptyKey)
	_, _, err := store.Get(context.Background(), "u1", "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestStore_UpdatedAt(t *testing.T) {
	store := openTestStore(t)
	store.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, store.Set(context.Background(), "u1", "k", "v"))

	var updated string
	require.NoError(t, store.db.QueryRow(`SELECT updated_at FROM preferences WHERE scope = 'u1' AND key = 'k'`).Scan(&updated))
	assert.Equal(t, "2025-06-15T12:00:00.000000000Z", updated)
}

func TestScoped_ImplementsKeyValueStore(t *testing.T) {
	store := openTestStore(t)
	var kv mapview.KeyValueStore = store.Scoped("device-1")

	require.NoError(t, kv.Set(context.Background(), mapview.KeyLastLocation, "1.000000,2.000000"))
	value, ok, err := kv.Get(context.Background(), mapview.KeyLastLocation)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1.000000,2.000000", value)
}
