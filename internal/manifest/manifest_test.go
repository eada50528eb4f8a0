package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.Empty(t, m.Entries)
}

func TestInsertThenLookupHit(t *testing.T) {
	var m Manifest
	m.Insert("fp1", "objkey1", 100, DefaultMaxEntries)

	key, ok := m.Lookup("fp1", 200)
	require.True(t, ok)
	assert.Equal(t, "objkey1", key)
	assert.Equal(t, int64(200), m.Entries[0].LastUsedEpoch)
}

func TestLookupMiss(t *testing.T) {
	var m Manifest
	m.Insert("fp1", "objkey1", 100, DefaultMaxEntries)

	_, ok := m.Lookup("fp-other", 200)
	assert.False(t, ok)
}

func TestInsertTruncatesToMaxEntriesDroppingOldest(t *testing.T) {
	var m Manifest
	for i := 0; i < DefaultMaxEntries+3; i++ {
		m.Insert(
			"fp"+string(rune('a'+i)),
			"obj"+string(rune('a'+i)),
			int64(i), // increasing epoch, so earlier inserts are "oldest"
			DefaultMaxEntries,
		)
	}

	require.Len(t, m.Entries, DefaultMaxEntries)

	// the three oldest (fp a, b, c -> epoch 0,1,2) must be gone
	for _, e := range m.Entries {
		assert.NotEqual(t, "fpa", e.IncludeSetFingerprint)
		assert.NotEqual(t, "fpb", e.IncludeSetFingerprint)
		assert.NotEqual(t, "fpc", e.IncludeSetFingerprint)
	}
}

func TestInsertReplacesExistingFingerprint(t *testing.T) {
	var m Manifest
	m.Insert("fp1", "obj-old", 1, DefaultMaxEntries)
	m.Insert("fp1", "obj-new", 2, DefaultMaxEntries)

	require.Len(t, m.Entries, 1)
	assert.Equal(t, "obj-new", m.Entries[0].ObjectKey)
}

func TestLookupDuplicateFingerprintDiscardsBoth(t *testing.T) {
	m := Manifest{Entries: []Entry{
		{IncludeSetFingerprint: "dup", ObjectKey: "a", LastUsedEpoch: 1},
		{IncludeSetFingerprint: "dup", ObjectKey: "b", LastUsedEpoch: 2},
		{IncludeSetFingerprint: "other", ObjectKey: "c", LastUsedEpoch: 3},
	}}

	_, ok := m.Lookup("dup", 10)
	assert.False(t, ok)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, "other", m.Entries[0].IncludeSetFingerprint)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aa", "bbbb")

	var m Manifest
	m.Insert("fp1", "obj1", 5, DefaultMaxEntries)
	require.NoError(t, Save(path, &m))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 1)
	assert.Equal(t, "obj1", loaded.Entries[0].ObjectKey)
}

func TestHashIsStableAndOrderSensitive(t *testing.T) {
	a := Hash(`src\a.c`, []string{"/O2", "/W4"})
	b := Hash(`src\a.c`, []string{"/O2", "/W4"})
	c := Hash(`src\a.c`, []string{"/W4", "/O2"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
