package deploylock

import (
	"errors"
	"testing"
	"time"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	m := New(0)

	token, err := m.Acquire("bp-1", "alice")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	if _, err := m.Acquire("bp-1", "bob"); err == nil {
		t.Fatal("second acquire succeeded")
	} else {
		var locked *ErrLocked
		if !errors.As(err, &locked) || locked.Holder != "alice" {
			t.Fatalf("err = %v, want ErrLocked by alice", err)
		}
	}

	m.Release("bp-1", token)
	if _, err := m.Acquire("bp-1", "bob"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := New(0)
	token, err := m.Acquire("bp-1", "alice")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.Release("bp-1", token)
	m.Release("bp-1", token)
	m.Release("bp-1", "bogus")

	if _, ok := m.Holder("bp-1"); ok {
		t.Fatal("scope still held after release")
	}
}

func TestWrongTokenDoesNotRelease(t *testing.T) {
	m := New(0)
	if _, err := m.Acquire("bp-1", "alice"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.Release("bp-1", "not-the-token")
	if holder, ok := m.Holder("bp-1"); !ok || holder != "alice" {
		t.Fatalf("holder = %q %v, want alice held", holder, ok)
	}
}

func TestGlobalScopeConflicts(t *testing.T) {
	m := New(0)
	token, err := m.Acquire(ScopeGlobal, "alice")
	if err != nil {
		t.Fatalf("acquire global: %v", err)
	}
	if _, err := m.Acquire("bp-1", "bob"); err == nil {
		t.Fatal("per-blueprint acquire succeeded under global lock")
	}
	m.Release(ScopeGlobal, token)

	if _, err := m.Acquire("bp-1", "bob"); err != nil {
		t.Fatalf("acquire bp-1: %v", err)
	}
	if _, err := m.Acquire(ScopeGlobal, "alice"); err == nil {
		t.Fatal("global acquire succeeded under per-blueprint lock")
	}
	// an unrelated blueprint is still free
	if _, err := m.Acquire("bp-2", "carol"); err != nil {
		t.Fatalf("acquire bp-2: %v", err)
	}
}

func TestExpiredLockIsReclaimed(t *testing.T) {
	m := New(time.Second)
	clock := time.Unix(1000, 0)
	m.now = func() time.Time { return clock }

	if _, err := m.Acquire("bp-1", "alice"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	clock = clock.Add(2 * time.Second)
	if _, err := m.Acquire("bp-1", "bob"); err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	if holder, ok := m.Holder("bp-1"); !ok || holder != "bob" {
		t.Fatalf("holder = %q %v, want bob", holder, ok)
	}
}

func TestEmptyScopeIsGlobal(t *testing.T) {
	m := New(0)
	token, err := m.Acquire("", "alice")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if holder, ok := m.Holder(ScopeGlobal); !ok || holder != "alice" {
		t.Fatalf("holder = %q %v, want alice on global", holder, ok)
	}
	m.Release("", token)
}
