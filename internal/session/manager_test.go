package session

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCreateAndGet(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("home")
	if s.ID == "" {
		t.Fatalf("Create() returned empty ID")
	}
	if s.Status != StatusActive {
		t.Fatalf("Status = %q, want %q", s.Status, StatusActive)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ModelID != "home" {
		t.Fatalf("ModelID = %q, want home", got.ModelID)
	}
}

func TestGetUnknownSession(t *testing.T) {
	m := NewManager(time.Minute)
	if _, err := m.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestEndIsTerminal(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("home")

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", ended.Status, StatusEnded)
	}

	// The tombstone makes every later operation on the ID fail.
	if _, err := m.End(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second End() error = %v, want ErrNotFound", err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after End error = %v, want ErrNotFound", err)
	}
	if err := m.Touch(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Touch() after End error = %v, want ErrNotFound", err)
	}
}

func TestTouchUpdatesActivity(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("home")
	before, _ := m.Get(s.ID)

	time.Sleep(5 * time.Millisecond)
	if err := m.Touch(s.ID); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	after, _ := m.Get(s.ID)
	if !after.LastActivityAt.After(before.LastActivityAt) {
		t.Fatalf("LastActivityAt not advanced: before=%v after=%v",
			before.LastActivityAt, after.LastActivityAt)
	}
}

func TestConcurrentCreateUniqueIDs(t *testing.T) {
	m := NewManager(time.Minute)
	const n = 64

	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- m.Create("home").ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate session ID %q", id)
		}
		seen[id] = true
	}
	if m.ActiveCount() != n {
		t.Fatalf("ActiveCount() = %d, want %d", m.ActiveCount(), n)
	}
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	m := NewManager(20 * time.Millisecond)
	s := m.Create("home")

	var mu sync.Mutex
	var expired []string
	m.SetExpireHook(func(s *Session) {
		mu.Lock()
		expired = append(expired, s.ID)
		mu.Unlock()
	})

	time.Sleep(30 * time.Millisecond)
	m.sweep()

	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after sweep error = %v, want ErrNotFound", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != s.ID {
		t.Fatalf("expire hook got %v, want [%s]", expired, s.ID)
	}
}

func TestSweepDropsAgedTombstones(t *testing.T) {
	m := NewManager(20 * time.Millisecond)
	s := m.Create("home")
	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	m.sweep()

	m.mu.RLock()
	_, ok := m.sessions[s.ID]
	m.mu.RUnlock()
	if ok {
		t.Fatalf("tombstone for %s survived the sweep", s.ID)
	}
}

func TestFreshTombstoneSurvivesSweep(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("home")
	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	m.sweep()

	// Still tombstoned, so End keeps failing with ErrNotFound rather
	// than the ID becoming reusable.
	if _, err := m.End(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("End() after sweep error = %v, want ErrNotFound", err)
	}
}
