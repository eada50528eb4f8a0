// Package objstore implements the content-addressed object store (spec
// §3, §4.6): a two-level sharded directory of cached compile results (object
// file, captured stdout/stderr/exit code, and metadata), with per-shard
// locking, optional compression and optional hardlink materialization, and
// LRU-style size-bounded eviction.
//
// Grounded heavily on this project's ancestor's file-cache.go
// (shardsDirCount, CreateHardLinkFromCache's hardlink-with-copy-fallback,
// SaveFileToCache's atomic rename) and obj-cache.go. Materially adapted: the
// ancestor keeps its LRU index in memory inside one long-lived server
// process; clcache's processes are short-lived and share state purely
// through the filesystem plus the per-shard lock (spec §4.6, §5), so
// eviction here enumerates on-disk meta files instead of walking an
// in-memory map.
package objstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/dgehri/clcache/internal/atomicfile"
	"github.com/dgehri/clcache/internal/hash"
	"github.com/dgehri/clcache/internal/lockmgr"
	"github.com/dgehri/clcache/internal/remoteobj"
)

// ShardCount is the number of first-two-hex-char shards (spec §4.6, §4.7).
const ShardCount = 256

const (
	objectFile   = "object"
	stdoutFile   = "output.txt"
	stderrFile   = "stderr.txt"
	exitCodeFile = "exit_code"
	metaFile     = "meta"
)

// Meta is the on-disk metadata record for one object entry (spec §3).
type Meta struct {
	CreatedEpoch  int64 `json:"created_epoch"`
	LastUsedEpoch int64 `json:"last_used_epoch"`
	OriginalSize  int64 `json:"original_size"`
	StoredSize    int64 `json:"stored_size"`
	Compressed    bool  `json:"compressed"`
}

// remoteTTL is how long a pushed entry survives in the remote backend
// before it must be re-derived locally and re-pushed.
const remoteTTL = 7 * 24 * time.Hour

// Store is the root handle for the content-addressed object store.
type Store struct {
	root          string // <CLCACHE_DIR>/objects
	locks         *lockmgr.Manager
	compress      bool
	compressLevel int
	remote        remoteobj.Backend // optional CLCACHE_MEMCACHED read-through (spec §9)
}

// New returns a Store rooted at root (typically Config.ObjectsDir()).
func New(root string, locks *lockmgr.Manager, compress bool, compressLevel int) *Store {
	return &Store{root: root, locks: locks, compress: compress, compressLevel: compressLevel}
}

// WithRemote attaches an optional remote object backend (spec §6
// CLCACHE_MEMCACHED; §9 "Dynamic dispatch over storage backends → capability
// interfaces"): a local miss falls through to the remote store before being
// reported as a true miss, and a local Put best-effort mirrors the entry
// remotely so other build agents sharing the same memcached instance can
// hit without recompiling.
func (s *Store) WithRemote(backend remoteobj.Backend) *Store {
	s.remote = backend
	return s
}

func (s *Store) entryDir(key hash.Digest) string {
	return filepath.Join(s.root, key.ShardHex(), key.RestHex())
}

// Entry is a handle to one cached compile result, returned by Get.
type Entry struct {
	dir      string
	Meta     Meta
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// nowFunc is overridable in tests; production code always uses the real
// clock via defaultNow (time.Now().Unix()).
var nowFunc = defaultNow

// Get looks up key under its shard lock. ok is false on a clean miss; err
// is non-nil only for unexpected I/O failures distinct from "not present".
// A corrupted entry (missing required files, unreadable meta) is treated as
// absent and removed on a best-effort basis (spec §7).
func (s *Store) Get(key hash.Digest) (entry *Entry, ok bool, bypassed bool, err error) {
	lock, locked, lerr := s.locks.LockShard(key.ShardHex())
	if lerr != nil {
		return nil, false, false, lerr
	}
	if !locked {
		return nil, false, true, nil
	}
	defer lock.Unlock()

	dir := s.entryDir(key)
	m, merr := readMeta(dir)
	if merr != nil {
		if os.IsNotExist(merr) {
			if s.remote != nil {
				if remoteEntry, ok := s.fetchRemote(key, dir); ok {
					return remoteEntry, true, false, nil
				}
			}
			return nil, false, false, nil
		}
		// corruption: best-effort remove, report as miss (spec §7).
		_ = os.RemoveAll(dir)
		return nil, false, false, nil
	}

	stdout, serr := os.ReadFile(filepath.Join(dir, stdoutFile))
	stderr, eerr := os.ReadFile(filepath.Join(dir, stderrFile))
	exitRaw, xerr := os.ReadFile(filepath.Join(dir, exitCodeFile))
	if serr != nil || eerr != nil || xerr != nil {
		_ = os.RemoveAll(dir)
		return nil, false, false, nil
	}
	exitCode, perr := strconv.Atoi(string(bytes.TrimSpace(exitRaw)))
	if perr != nil {
		_ = os.RemoveAll(dir)
		return nil, false, false, nil
	}

	if _, staterr := os.Stat(filepath.Join(dir, objectFile)); staterr != nil {
		_ = os.RemoveAll(dir)
		return nil, false, false, nil
	}

	return &Entry{dir: dir, Meta: m, Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, true, false, nil
}

// Materialize copies (or, if hardlink is true, hardlinks) the cached object
// file to destPath. Hardlink failures (e.g. cross-volume) fall back to a
// copy (spec §4.6: "on hardlink failure falls back to copy"). The object is
// decompressed transparently if the entry was stored compressed.
func (e *Entry) Materialize(destPath string, hardlink bool) error {
	srcPath := filepath.Join(e.dir, objectFile)

	if !e.Meta.Compressed {
		if hardlink {
			if err := atomicfile.MkdirForFile(destPath); err == nil {
				if lerr := os.Link(srcPath, destPath); lerr == nil {
					return nil
				}
				// fall through to copy on any hardlink failure
			}
		}
		return atomicfile.CopyFile(destPath, srcPath)
	}

	return decompressTo(destPath, srcPath)
}

// remoteBlob is the wire format pushed to/pulled from the remote object
// backend: one self-contained record per key, since memcached-style
// backends are a flat key/value store with no notion of a directory of
// sibling files (spec §9: the ObjectBackend interface works in terms of a
// single blob per key).
type remoteBlob struct {
	Object   []byte `json:"object"`
	Stdout   []byte `json:"stdout"`
	Stderr   []byte `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Meta     Meta   `json:"meta"`
}

// fetchRemote pulls key from the remote backend on a local miss and
// materializes it into dir so future local Gets hit without another round
// trip (spec §4.6 "get(key)" read-through semantics extended to the remote
// tier).
func (s *Store) fetchRemote(key hash.Digest, dir string) (*Entry, bool) {
	raw, err := s.remote.Get(context.Background(), key.Hex())
	if err != nil {
		return nil, false
	}
	var blob remoteBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, false
	}

	if werr := writeLocalFromRemote(dir, blob); werr != nil {
		return nil, false
	}

	return &Entry{dir: dir, Meta: blob.Meta, Stdout: blob.Stdout, Stderr: blob.Stderr, ExitCode: blob.ExitCode}, true
}

func writeLocalFromRemote(dir string, blob remoteBlob) error {
	tmpDir := dir + ".tmp" + strconv.Itoa(os.Getpid())
	if err := os.RemoveAll(tmpDir); err != nil {
		return err
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return err
	}
	removeTmp := true
	defer func() {
		if removeTmp {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	if err := writeAndSync(filepath.Join(tmpDir, objectFile), blob.Object); err != nil {
		return err
	}
	if err := writeAndSync(filepath.Join(tmpDir, stdoutFile), blob.Stdout); err != nil {
		return err
	}
	if err := writeAndSync(filepath.Join(tmpDir, stderrFile), blob.Stderr); err != nil {
		return err
	}
	if err := writeAndSync(filepath.Join(tmpDir, exitCodeFile), []byte(strconv.Itoa(blob.ExitCode))); err != nil {
		return err
	}
	metaData, err := json.Marshal(blob.Meta)
	if err != nil {
		return err
	}
	if err := writeAndSync(filepath.Join(tmpDir, metaFile), metaData); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return err
	}
	_ = os.RemoveAll(dir)
	if err := os.Rename(tmpDir, dir); err != nil {
		return err
	}
	removeTmp = false
	return nil
}

// pushRemote best-effort mirrors a freshly-stored entry to the remote
// backend; failures never affect the local Put that already succeeded
// (spec §7: cache errors never fail a build that would otherwise succeed).
func (s *Store) pushRemote(key hash.Digest, dir string, m Meta, stdout, stderr []byte, exitCode int) {
	object, err := os.ReadFile(filepath.Join(dir, objectFile))
	if err != nil {
		return
	}
	blob := remoteBlob{Object: object, Stdout: stdout, Stderr: stderr, ExitCode: exitCode, Meta: m}
	data, err := json.Marshal(blob)
	if err != nil {
		return
	}
	_ = s.remote.Put(context.Background(), key.Hex(), data, remoteTTL)
}

func decompressTo(destPath, srcPath string) (err error) {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	zr, err := zlib.NewReader(in)
	if err != nil {
		return err
	}
	defer zr.Close()

	if err = atomicfile.MkdirForFile(destPath); err != nil {
		return err
	}
	out, err := atomicfile.OpenTemp(destPath)
	if err != nil {
		return err
	}
	tmpPath := out.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(out, zr); err != nil {
		_ = out.Close()
		return err
	}
	if err = out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, destPath)
}

// Touch bumps LastUsedEpoch on a hit, under the entry's shard lock (spec
// §4.6: "touch(key): updates meta.last_used_epoch (used for LRU)").
func (s *Store) Touch(key hash.Digest) error {
	lock, ok, err := s.locks.LockShard(key.ShardHex())
	if err != nil {
		return err
	}
	if !ok {
		return nil // lock bypass: non-fatal, stats simply lag (spec §4.7)
	}
	defer lock.Unlock()

	dir := s.entryDir(key)
	m, err := readMeta(dir)
	if err != nil {
		return nil // entry vanished or corrupt; nothing to touch
	}
	m.LastUsedEpoch = nowFunc()
	if werr := writeMeta(dir, m); werr != nil {
		return werr
	}
	if s.remote != nil {
		_ = s.remote.Touch(context.Background(), key.Hex(), remoteTTL)
	}
	return nil
}

// PutResult reports what Put actually wrote, for the driver to update
// CacheSize (spec §4.9 step 8).
type PutResult struct {
	StoredSize   int64
	OriginalSize int64
}

// Put stores a new object entry under key's shard lock: sourceObjPath's
// bytes (optionally compressed), captured stdout/stderr, the exit code and
// a fresh meta record, all written to a sibling temp directory and renamed
// into place atomically (spec §4.6: "writes to a sibling temp directory,
// fsyncs files, atomically renames into place").
func (s *Store) Put(key hash.Digest, sourceObjPath string, stdout, stderr []byte, exitCode int) (*PutResult, error) {
	lock, ok, err := s.locks.LockShard(key.ShardHex())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errLockTimeout
	}
	defer lock.Unlock()

	dir := s.entryDir(key)
	tmpDir := dir + ".tmp" + strconv.Itoa(os.Getpid())
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, err
	}
	removeTmp := true
	defer func() {
		if removeTmp {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	st, err := os.Stat(sourceObjPath)
	if err != nil {
		return nil, err
	}
	originalSize := st.Size()

	storedSize, err := writeObject(filepath.Join(tmpDir, objectFile), sourceObjPath, s.compress, s.compressLevel)
	if err != nil {
		return nil, err
	}

	if err := writeAndSync(filepath.Join(tmpDir, stdoutFile), stdout); err != nil {
		return nil, err
	}
	if err := writeAndSync(filepath.Join(tmpDir, stderrFile), stderr); err != nil {
		return nil, err
	}
	if err := writeAndSync(filepath.Join(tmpDir, exitCodeFile), []byte(strconv.Itoa(exitCode))); err != nil {
		return nil, err
	}

	now := nowFunc()
	m := Meta{
		CreatedEpoch:  now,
		LastUsedEpoch: now,
		OriginalSize:  originalSize,
		StoredSize:    storedSize,
		Compressed:    s.compress,
	}
	metaData, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := writeAndSync(filepath.Join(tmpDir, metaFile), metaData); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, err
	}
	_ = os.RemoveAll(dir) // last-writer-wins on a concurrent identical insert (spec §5)
	if err := os.Rename(tmpDir, dir); err != nil {
		return nil, err
	}
	removeTmp = false

	if s.remote != nil {
		s.pushRemote(key, dir, m, stdout, stderr, exitCode)
	}

	return &PutResult{StoredSize: storedSize, OriginalSize: originalSize}, nil
}

func writeObject(destPath, srcPath string, compress bool, level int) (int64, error) {
	in, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(destPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}

	var n int64
	if compress {
		if level < 1 || level > 9 {
			level = 6
		}
		zw, zerr := zlib.NewWriterLevel(out, level)
		if zerr != nil {
			_ = out.Close()
			return 0, zerr
		}
		n, err = io.Copy(zw, in)
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
	} else {
		n, err = io.Copy(out, in)
	}
	if err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}

	if compress {
		st, serr := os.Stat(destPath)
		if serr != nil {
			return 0, serr
		}
		return st.Size(), nil
	}
	return n, nil
}

func writeAndSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func readMeta(dir string) (Meta, error) {
	var m Meta
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, err
	}
	return m, nil
}

func writeMeta(dir string, m Meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(filepath.Join(dir, metaFile), data)
}

var errLockTimeout = errors.New("objstore: shard lock timed out")

// diskEntry is one enumerated object entry, used only by Clean.
type diskEntry struct {
	key           hash.Digest
	dir           string
	lastUsedEpoch int64
	storedSize    int64
}

// Walk enumerates every object entry currently on disk, calling fn with
// each entry's key and recorded size. Used by the statistics recompute path
// and by Clean. It tolerates entries disappearing mid-scan (spec §4.6:
// "must tolerate entries disappearing mid-scan").
func (s *Store) Walk(fn func(key hash.Digest, m Meta)) error {
	shardDirs, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, shard := range shardDirs {
		if !shard.IsDir() {
			continue
		}
		restDirs, err := os.ReadDir(filepath.Join(s.root, shard.Name()))
		if err != nil {
			continue // peer removed the shard dir concurrently
		}
		for _, rest := range restDirs {
			if !rest.IsDir() {
				continue
			}
			keyHex := shard.Name() + rest.Name()
			key, derr := hash.DigestFromHex(keyHex)
			if derr != nil {
				continue
			}
			m, merr := readMeta(filepath.Join(s.root, shard.Name(), rest.Name()))
			if merr != nil {
				continue // removed or corrupt since the directory listing was taken
			}
			fn(key, m)
		}
	}
	return nil
}

// Remove deletes key's entry under its shard lock.
func (s *Store) Remove(key hash.Digest) error {
	lock, ok, err := s.locks.LockShard(key.ShardHex())
	if err != nil {
		return err
	}
	if !ok {
		return errLockTimeout
	}
	defer lock.Unlock()
	return os.RemoveAll(s.entryDir(key))
}

// Clean evicts entries oldest-LastUsedEpoch-first until the total stored
// size is at most 0.9*maxSize (spec §4.6, §8 property 7). It holds only
// per-entry (shard) locks while removing, never a global lock, and returns
// the number of entries removed and the resulting total size.
func (s *Store) Clean(maxSize int64) (removed int, newSize int64, err error) {
	var entries []diskEntry
	var total int64
	walkErr := s.Walk(func(key hash.Digest, m Meta) {
		entries = append(entries, diskEntry{key: key, lastUsedEpoch: m.LastUsedEpoch, storedSize: m.StoredSize})
		total += m.StoredSize
	})
	if walkErr != nil {
		return 0, total, walkErr
	}

	target := int64(0.9 * float64(maxSize))
	if total <= maxSize || total <= target {
		return 0, total, nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].lastUsedEpoch < entries[j].lastUsedEpoch })

	for _, e := range entries {
		if total <= target {
			break
		}
		if rerr := s.Remove(e.key); rerr != nil {
			continue // peer may have already removed it, or lock timed out; move on
		}
		total -= e.storedSize
		removed++
	}
	return removed, total, nil
}

// Clear removes every object entry (spec §4.9 "-C": "remove all object
// entries and manifests").
func (s *Store) Clear() error {
	if err := os.RemoveAll(s.root); err != nil {
		return err
	}
	return os.MkdirAll(s.root, 0o755)
}

// TotalSize sums StoredSize across every on-disk entry, used to
// (re)populate the CacheSize statistic when it may have drifted.
func (s *Store) TotalSize() (int64, int, error) {
	var total int64
	var count int
	err := s.Walk(func(_ hash.Digest, m Meta) {
		total += m.StoredSize
		count++
	})
	return total, count, err
}
