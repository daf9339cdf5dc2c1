package updatelock

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLock_AcquireThenReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "update.lock")
	l := New(path)

	if err := l.Acquire("owner-a", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := l.Acquire("owner-b", time.Minute); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
}

func TestLock_AcquireFailsWhileHeldByAnotherOwner(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "update.lock")
	l := New(path)

	if err := l.Acquire("owner-a", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	err := l.Acquire("owner-b", time.Minute)
	var held *ErrHeld
	if !errors.As(err, &held) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
	if held.State.OwnerID != "owner-a" {
		t.Fatalf("held.State.OwnerID = %q, want owner-a", held.State.OwnerID)
	}
}

func TestLock_SameOwnerCanReacquire(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "update.lock")
	l := New(path)

	if err := l.Acquire("owner-a", time.Minute); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := l.Acquire("owner-a", 2*time.Minute); err != nil {
		t.Fatalf("reacquire by same owner should extend lease: %v", err)
	}
}

func TestLock_StaleLockIsReclaimable(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "update.lock")
	l := New(path)

	if err := l.Acquire("owner-a", -time.Second); err != nil {
		t.Fatalf("acquire already-expired lease: %v", err)
	}
	if err := l.Acquire("owner-b", time.Minute); err != nil {
		t.Fatalf("expected stale lock to be reclaimable, got: %v", err)
	}

	current, err := l.Current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.OwnerID != "owner-b" {
		t.Fatalf("current.OwnerID = %q, want owner-b", current.OwnerID)
	}
}

func TestLock_HeartbeatExtendsExpiry(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "update.lock")
	l := New(path)

	if err := l.Acquire("owner-a", time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	before, err := l.Current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}

	if err := l.Heartbeat("owner-a", time.Minute); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	after, err := l.Current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if !after.ExpiresAt.After(before.ExpiresAt) {
		t.Fatalf("expected heartbeat to push expiry forward: before=%v after=%v", before.ExpiresAt, after.ExpiresAt)
	}
}

func TestLock_HeartbeatFailsForWrongOwner(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "update.lock")
	l := New(path)

	if err := l.Acquire("owner-a", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := l.Heartbeat("owner-b", time.Minute); err == nil {
		t.Fatal("expected heartbeat from non-owner to fail")
	}
}

func TestLock_CurrentOnMissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "never-created.lock")
	l := New(path)

	current, err := l.Current()
	if err != nil {
		t.Fatalf("current on missing file: %v", err)
	}
	if current.OwnerID != "" {
		t.Fatalf("expected empty state, got %+v", current)
	}
}
