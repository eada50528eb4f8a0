// Package lockmgr implements the three-tier cross-process locking scheme
// described in spec §4.5/§4.6/§4.8: one lock per object-store shard (256 of
// them, keyed by the first two hex digits of an object hash), one lock per
// manifest hash, and a single global statistics lock. Locks are named
// OS mutexes so that unrelated clcache.exe invocations, not just goroutines
// within one process, serialize correctly (grounded on the cross-process
// locking idiom in this project's ancestor pack's vendored
// go.podman.io/storage/pkg/lockfile, adapted here from byte-range file locks
// to named mutexes per the spec's own "Windows named mutex" vocabulary).
package lockmgr

import (
	"fmt"
	"time"
)

// DefaultTimeout is used when a Manager is constructed with a zero or
// negative timeout (spec §6: CLCACHE_OBJECT_CACHE_TIMEOUT_MS default).
const DefaultTimeout = 10 * time.Second

// namePrefix distinguishes clcache's named locks from any other
// application's, and is global (not per-session) so that the scheme holds
// across all users and services on the machine.
const namePrefix = "Global\\clcache-"

// Lock is a held named lock. Unlock releases it; it must be called exactly
// once, typically via defer right after a successful acquisition.
type Lock interface {
	Unlock()
}

// Manager acquires and releases the three kinds of named lock clcache
// needs. It holds no state itself beyond the configured timeout — every
// lock is independent and cross-process, so there is nothing to share
// between acquisitions within one process either.
type Manager struct {
	timeout time.Duration
}

// New returns a Manager whose acquisitions give up and report a bypass
// after timeout (or DefaultTimeout, if timeout <= 0).
func New(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{timeout: timeout}
}

// ShardName returns the lock name for the object-store shard identified by
// its two-hex-digit prefix (spec §4.6: 256 shard locks).
func ShardName(shardHex string) string {
	return namePrefix + "shard-" + shardHex
}

// ManifestName returns the lock name for a single manifest hash (spec §4.5).
func ManifestName(manifestHash string) string {
	return namePrefix + "manifest-" + manifestHash
}

// StatsName is the single global statistics lock's name (spec §4.8).
const StatsName = namePrefix + "stats"

// Acquire takes the named lock, waiting up to the Manager's timeout.
// ok is false if the timeout elapsed first; per spec, callers must treat
// this as a bypass (proceed as if the cache were unavailable for this
// operation) rather than an error, since some other clcache process merely
// holds the lock for longer than expected, not indefinitely.
func (m *Manager) Acquire(name string) (lock Lock, ok bool, err error) {
	return acquireNamed(name, m.timeout)
}

// LockShard acquires the named lock for an object-store shard.
func (m *Manager) LockShard(shardHex string) (Lock, bool, error) {
	return m.Acquire(ShardName(shardHex))
}

// LockManifest acquires the named lock for one manifest hash.
func (m *Manager) LockManifest(manifestHash string) (Lock, bool, error) {
	return m.Acquire(ManifestName(manifestHash))
}

// LockStats acquires the single global statistics lock.
func (m *Manager) LockStats() (Lock, bool, error) {
	return m.Acquire(StatsName)
}

// timeoutError builds a descriptive error for a lock wait that ended
// without acquiring the lock, for callers that want to log rather than
// silently bypass.
func timeoutError(name string, timeout time.Duration) error {
	return fmt.Errorf("lockmgr: timed out after %s acquiring %q", timeout, name)
}
