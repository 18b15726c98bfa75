package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukut03/agents/config"
	"github.com/mukut03/agents/framework"
)

func sampleSnapshot(t *testing.T) *framework.Snapshot {
	t.Helper()
	mem := framework.NewMemory(4)
	mem.AddMessage("user", "route from Chicago to Peoria", nil)
	mem.AddMessage("assistant", "Observation: Route found", map[string]any{"iteration": 0, "tool": "get_route"})
	mem.Remember("polyline_coords", []any{[]any{41.88, -87.63}, []any{40.69, -89.59}}, map[string]any{"source_tool": "sample_polyline"})
	return mem.Snapshot()
}

func storeSuite(t *testing.T, store SnapshotStore) {
	ctx := context.Background()
	snap := sampleSnapshot(t)

	missing, err := store.Load(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.Save(ctx, "conv-b", snap))
	require.NoError(t, store.Save(ctx, "conv-a", snap))

	loaded, err := store.Load(ctx, "conv-b")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	want, err := json.Marshal(snap)
	require.NoError(t, err)
	got, err := json.Marshal(loaded)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))

	mem, err := framework.RestoreSnapshot(loaded)
	require.NoError(t, err)
	assert.Len(t, mem.History(), 2)
	assert.True(t, mem.Has("polyline_coords"))

	snap.MaxMessages = 9
	require.NoError(t, store.Save(ctx, "conv-b", snap))
	loaded, err = store.Load(ctx, "conv-b")
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.MaxMessages)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"conv-a", "conv-b"}, ids)

	require.NoError(t, store.Delete(ctx, "conv-a"))
	require.NoError(t, store.Delete(ctx, "conv-a"))
	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"conv-b"}, ids)

	assert.ErrorIs(t, store.Save(ctx, "../escape", snap), ErrInvalidID)
	_, err = store.Load(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.Error(t, store.Save(ctx, "conv-c", nil))
}

func TestFileSnapshotStore(t *testing.T) {
	store, err := NewFileSnapshotStore(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)
	defer store.Close()
	storeSuite(t, store)
}

func TestSQLiteSnapshotStore(t *testing.T) {
	store, err := NewSQLiteSnapshotStore(filepath.Join(t.TempDir(), "db", "sessions.db"))
	require.NoError(t, err)
	defer store.Close()
	storeSuite(t, store)
}

func TestFileSnapshotStoreCorruptFile(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileSnapshotStore(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "bad"+snapshotSuffix), []byte("{"), 0o644))

	_, err = store.Load(context.Background(), "bad")
	var memErr *framework.MemoryError
	assert.True(t, errors.As(err, &memErr))
}

func TestFileSnapshotStoreHonoursContext(t *testing.T) {
	store, err := NewFileSnapshotStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Save(ctx, "conv", sampleSnapshot(t)), context.Canceled)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(config.StorageConfig{Driver: config.DriverFile, Path: filepath.Join(dir, "files")})
	require.NoError(t, err)
	assert.IsType(t, &FileSnapshotStore{}, store)

	store, err = Open(config.StorageConfig{Driver: config.DriverSQLite, Path: filepath.Join(dir, "s.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteSnapshotStore{}, store)
	require.NoError(t, store.Close())

	_, err = Open(config.StorageConfig{Driver: "redis"})
	var cfgErr *framework.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestNewConversationID(t *testing.T) {
	id := NewConversationID()
	assert.NoError(t, checkID(id))
	assert.NotEqual(t, id, NewConversationID())
}
