package objstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgehri/clcache/internal/hash"
	"github.com/dgehri/clcache/internal/lockmgr"
	"github.com/dgehri/clcache/internal/remoteobj"
)

// fakeRemote is an in-memory remoteobj.Backend test double, standing in for
// a real memcached instance so the read-through/push-through wiring can be
// exercised without a network dependency.
type fakeRemote struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newFakeRemote() *fakeRemote { return &fakeRemote{items: map[string][]byte{}} }

func (f *fakeRemote) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.items[key]
	if !ok {
		return nil, remoteobj.ErrNotFound
	}
	return v, nil
}

func (f *fakeRemote) Put(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[key] = append([]byte(nil), value...)
	return nil
}

func (f *fakeRemote) Touch(_ context.Context, key string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[key]; !ok {
		return remoteobj.ErrNotFound
	}
	return nil
}

func newTestStore(t *testing.T, compress bool) *Store {
	t.Helper()
	root := filepath.Join(t.TempDir(), "objects")
	return New(root, lockmgr.New(2*time.Second), compress, 6)
}

func writeTempObj(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.obj")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPutThenGetRoundTrip(t *testing.T) {
	s := newTestStore(t, false)
	key := hash.Bytes([]byte("key1"))

	objPath := writeTempObj(t, "fake object bytes")
	_, err := s.Put(key, objPath, []byte("out"), []byte("err"), 0)
	require.NoError(t, err)

	entry, ok, bypassed, err := s.Get(key)
	require.NoError(t, err)
	require.False(t, bypassed)
	require.True(t, ok)
	assert.Equal(t, []byte("out"), entry.Stdout)
	assert.Equal(t, []byte("err"), entry.Stderr)
	assert.Equal(t, 0, entry.ExitCode)

	destPath := filepath.Join(t.TempDir(), "materialized.obj")
	require.NoError(t, entry.Materialize(destPath, false))
	data, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, "fake object bytes", string(data))
}

func TestGetMissingKeyIsCleanMiss(t *testing.T) {
	s := newTestStore(t, false)
	_, ok, bypassed, err := s.Get(hash.Bytes([]byte("absent")))
	require.NoError(t, err)
	assert.False(t, bypassed)
	assert.False(t, ok)
}

func TestPutWithCompressionRoundTrips(t *testing.T) {
	s := newTestStore(t, true)
	key := hash.Bytes([]byte("key-compressed"))

	content := "object file contents that compress reasonably well aaaaaaaaaaaaaaaaaaaaaa"
	objPath := writeTempObj(t, content)
	_, err := s.Put(key, objPath, nil, nil, 0)
	require.NoError(t, err)

	entry, ok, _, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, entry.Meta.Compressed)

	destPath := filepath.Join(t.TempDir(), "out.obj")
	require.NoError(t, entry.Materialize(destPath, false))
	data, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestTouchUpdatesLastUsedEpoch(t *testing.T) {
	s := newTestStore(t, false)
	key := hash.Bytes([]byte("key-touch"))
	objPath := writeTempObj(t, "x")
	_, err := s.Put(key, objPath, nil, nil, 0)
	require.NoError(t, err)

	entryBefore, _, _, _ := s.Get(key)
	originalNow := nowFunc
	nowFunc = func() int64 { return originalNow() + 1000 }
	defer func() { nowFunc = originalNow }()

	require.NoError(t, s.Touch(key))
	entryAfter, ok, _, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, entryAfter.Meta.LastUsedEpoch, entryBefore.Meta.LastUsedEpoch)
}

func TestCleanEvictsOldestFirstUntilUnderNinetyPercent(t *testing.T) {
	s := newTestStore(t, false)

	sizes := []int{300_000, 300_000, 300_000, 300_000}
	for i, sz := range sizes {
		key := hash.Bytes([]byte{byte(i)})
		objPath := writeTempObj(t, string(make([]byte, sz)))
		_, err := s.Put(key, objPath, nil, nil, 0)
		require.NoError(t, err)
		// stagger LastUsedEpoch so eviction order is deterministic
		entry, _, _, _ := s.Get(key)
		m := entry.Meta
		m.LastUsedEpoch = int64(i)
		require.NoError(t, writeMeta(s.entryDir(key), m))
	}

	removed, newSize, err := s.Clean(1_000_000)
	require.NoError(t, err)
	assert.Greater(t, removed, 0)
	assert.LessOrEqual(t, newSize, int64(0.9*1_000_000))

	// the entry with LastUsedEpoch=0 (oldest) must be gone
	_, ok, _, err := s.Get(hash.Bytes([]byte{0}))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearRemovesAllEntries(t *testing.T) {
	s := newTestStore(t, false)
	key := hash.Bytes([]byte("key"))
	objPath := writeTempObj(t, "x")
	_, err := s.Put(key, objPath, nil, nil, 0)
	require.NoError(t, err)

	require.NoError(t, s.Clear())

	total, count, err := s.TotalSize()
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Equal(t, 0, count)
}

func TestModeSentinelCreatedOnFirstUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mode")
	require.NoError(t, CheckMode(path, true))

	// second check with the same setting succeeds
	require.NoError(t, CheckMode(path, true))
}

func TestPutMirrorsToRemoteBackend(t *testing.T) {
	s := newTestStore(t, false)
	remote := newFakeRemote()
	s.WithRemote(remote)

	key := hash.Bytes([]byte("key-remote"))
	objPath := writeTempObj(t, "remote-mirrored bytes")
	_, err := s.Put(key, objPath, []byte("out"), []byte("err"), 0)
	require.NoError(t, err)

	remote.mu.Lock()
	_, ok := remote.items[key.Hex()]
	remote.mu.Unlock()
	assert.True(t, ok, "Put should have pushed the entry to the remote backend")
}

func TestGetFallsThroughToRemoteOnLocalMiss(t *testing.T) {
	local := newTestStore(t, false)
	remote := newFakeRemote()

	// populate a second, independent local store and mirror its entry into
	// the same fake remote, simulating a peer build agent that already
	// compiled this key.
	peer := newTestStore(t, false)
	peer.WithRemote(remote)
	key := hash.Bytes([]byte("key-shared"))
	objPath := writeTempObj(t, "shared object bytes")
	_, err := peer.Put(key, objPath, []byte("peer-out"), nil, 0)
	require.NoError(t, err)

	local.WithRemote(remote)
	entry, ok, bypassed, err := local.Get(key)
	require.NoError(t, err)
	require.False(t, bypassed)
	require.True(t, ok, "local miss should fall through to the remote backend")
	assert.Equal(t, []byte("peer-out"), entry.Stdout)

	// the remote hit must also be materialized locally so a second Get
	// doesn't need the remote round trip again.
	entryAgain, okAgain, _, err := local.Get(key)
	require.NoError(t, err)
	require.True(t, okAgain)
	assert.Equal(t, entry.Stdout, entryAgain.Stdout)
}

func TestGetWithoutRemoteConfiguredStaysCleanMiss(t *testing.T) {
	s := newTestStore(t, false)
	_, ok, bypassed, err := s.Get(hash.Bytes([]byte("never-stored")))
	require.NoError(t, err)
	assert.False(t, bypassed)
	assert.False(t, ok)
}

func TestModeSentinelMismatchFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mode")
	require.NoError(t, CheckMode(path, false))

	err := CheckMode(path, true)
	require.Error(t, err)
	var mismatch *ErrModeMismatch
	assert.ErrorAs(t, err, &mismatch)
}
