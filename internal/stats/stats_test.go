package stats

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgehri/clcache/internal/lockmgr"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope"), 1<<30)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<30), c.MaxCacheSize)
	assert.Equal(t, int64(0), c.CallsTotal)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats")
	c := &Counters{CallsTotal: 5, CacheHits: 3, MaxCacheSize: 42}
	require.NoError(t, Save(path, c))

	loaded, err := Load(path, 0)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}

func TestUpdateIsReadModifyWriteUnderLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats")
	locks := lockmgr.New(2 * time.Second)

	for i := 0; i < 3; i++ {
		bypassed, err := Update(path, locks, 0, func(c *Counters) { c.CacheHits++ })
		require.NoError(t, err)
		assert.False(t, bypassed)
	}

	c, err := Load(path, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.CacheHits)
}

func TestResetPreservesMaxCacheSize(t *testing.T) {
	c := &Counters{CallsTotal: 10, CacheHits: 4, MaxCacheSize: 999}
	Reset(c)
	assert.Equal(t, int64(999), c.MaxCacheSize)
	assert.Equal(t, int64(0), c.CallsTotal)
	assert.Equal(t, int64(0), c.CacheHits)
}

func TestTableIncludesKeyCounters(t *testing.T) {
	c := &Counters{CallsTotal: 7, CacheHits: 2, CacheMisses: 5}
	out := Table(c)
	assert.Contains(t, out, "Calls total")
	assert.Contains(t, out, "7")
	assert.Contains(t, out, "Cache hits")
}
