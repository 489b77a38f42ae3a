package settings

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.DB.Close() })
	return store
}

func TestSnapshotGetters(t *testing.T) {
	snap := FromMap(map[string]string{
		"STR":     "value",
		"EMPTY":   "",
		"INT":     "42",
		"BAD_INT": "forty",
		"FLOAT":   "30.5",
		"BOOL_T":  "yes",
		"BOOL_F":  "off",
		"SECS":    "2.5",
	})

	assert.Equal(t, "value", snap.Str("STR", "x"))
	assert.Equal(t, "x", snap.Str("EMPTY", "x"))
	assert.Equal(t, "x", snap.Str("MISSING", "x"))
	assert.Equal(t, 42, snap.Int("INT", 7))
	assert.Equal(t, 7, snap.Int("BAD_INT", 7))
	assert.InDelta(t, 30.5, snap.Float("FLOAT", 0), 0.001)
	assert.True(t, snap.Bool("BOOL_T", false))
	assert.False(t, snap.Bool("BOOL_F", true))
	assert.True(t, snap.Bool("MISSING", true))
	assert.Equal(t, 2500*time.Millisecond, snap.Seconds("SECS", time.Second))
	assert.Equal(t, time.Second, snap.Seconds("MISSING", time.Second))
}

func TestDefaultsEnvOverride(t *testing.T) {
	t.Setenv(KeyStreamFPS, "25")

	defaults := Defaults()

	assert.Equal(t, "25", defaults[KeyStreamFPS])
	assert.Equal(t, "1280x720", defaults[KeyStreamRes])
}

func TestStorePutAndAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, KeyMotionThreshold, "40"))
	require.NoError(t, store.Put(ctx, KeyMotionThreshold, "45")) // upsert

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, "45", all[KeyMotionThreshold])
	assert.Len(t, all, 1)
}

func TestLoaderMergesOverridesOverDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, KeyMotionThreshold, "40"))
	require.NoError(t, store.Put(ctx, KeyVideoSource, "  ")) // blank override is ignored

	snap, err := NewLoader(store).Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, 40, snap.Int(KeyMotionThreshold, 0))
	assert.Equal(t, "/dev/video0", snap.Str(KeyVideoSource, ""))
	assert.False(t, snap.LoadedAt().IsZero())
}

func TestLoaderWithoutStoreYieldsDefaults(t *testing.T) {
	snap, err := NewLoader(nil).Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 25, snap.Int(KeyMotionThreshold, 0))
	assert.True(t, snap.Bool(KeyMotionEnabled, false))
}

func TestLoaderFailsClosedOnStoreError(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.DB.Close())

	_, err := NewLoader(store).Snapshot(context.Background())
	assert.Error(t, err)
}
