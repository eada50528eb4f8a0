package lockmgr

import (
	"testing"
	"time"
)

func TestLockShardExcludesConcurrentAcquire(t *testing.T) {
	m := New(200 * time.Millisecond)

	lock, ok, err := m.LockShard("ab")
	if err != nil || !ok {
		t.Fatalf("first LockShard: ok=%v err=%v", ok, err)
	}

	_, ok2, err2 := m.LockShard("ab")
	if err2 != nil {
		t.Fatalf("second LockShard: %v", err2)
	}
	if ok2 {
		t.Error("expected second concurrent LockShard(\"ab\") to time out, got acquired")
	}

	lock.Unlock()
}

func TestLockShardDifferentNamesDontContend(t *testing.T) {
	m := New(200 * time.Millisecond)

	l1, ok, err := m.LockShard("ab")
	if err != nil || !ok {
		t.Fatalf("LockShard(ab): ok=%v err=%v", ok, err)
	}
	defer l1.Unlock()

	l2, ok, err := m.LockShard("cd")
	if err != nil || !ok {
		t.Fatalf("LockShard(cd): ok=%v err=%v", ok, err)
	}
	l2.Unlock()
}

func TestLockReleaseAllowsReacquire(t *testing.T) {
	m := New(500 * time.Millisecond)

	l1, ok, err := m.LockManifest("deadbeef")
	if err != nil || !ok {
		t.Fatalf("first LockManifest: ok=%v err=%v", ok, err)
	}
	l1.Unlock()

	l2, ok, err := m.LockManifest("deadbeef")
	if err != nil || !ok {
		t.Fatalf("reacquire LockManifest after Unlock: ok=%v err=%v", ok, err)
	}
	l2.Unlock()
}

func TestLockStatsName(t *testing.T) {
	m := New(200 * time.Millisecond)
	l, ok, err := m.LockStats()
	if err != nil || !ok {
		t.Fatalf("LockStats: ok=%v err=%v", ok, err)
	}
	l.Unlock()
}
