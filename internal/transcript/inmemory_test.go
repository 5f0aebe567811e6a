package transcript

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndRecent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three"} {
		if err := s.SaveTurn(ctx, TurnRecord{SessionID: "s1", Role: RoleUser, Content: content}); err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}
	if err := s.SaveTurn(ctx, TurnRecord{SessionID: "s2", Role: RoleAssistant, Content: "other"}); err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}

	turns, err := s.Recent(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[0].Content != "two" || turns[1].Content != "three" {
		t.Fatalf("turns = [%s %s], want the two most recent in order", turns[0].Content, turns[1].Content)
	}
	if turns[0].ID == "" || turns[0].CreatedAt.IsZero() {
		t.Fatalf("record missing generated fields: %+v", turns[0])
	}
}

func TestInMemoryStoreRecentUnknownSession(t *testing.T) {
	s := NewInMemoryStore()
	turns, err := s.Recent(context.Background(), "nope", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if turns != nil {
		t.Fatalf("turns = %+v, want nil", turns)
	}
}

func TestInMemoryStoreZeroLimitReturnsAll(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = s.SaveTurn(ctx, TurnRecord{SessionID: "s1", Role: RoleUser, Content: "x"})
	}
	turns, err := s.Recent(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(turns) != 5 {
		t.Fatalf("got %d turns, want 5", len(turns))
	}
}

func TestNewStoreDefaultsToInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore with empty URL returned %T, want *InMemoryStore", s)
	}
}
