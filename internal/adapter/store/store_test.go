package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"nimbus/internal/domain"
)

func sampleThread(id string) *domain.Thread {
	thread := domain.NewThread(id)
	call := domain.ToolCall{ID: "c1", Name: "wipe", Arguments: []byte(`{"city":"Beijing"}`)}
	thread.Append(
		domain.Message{Role: domain.RoleUser, Content: "hello"},
		domain.Message{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{call}},
		domain.NewToolResultMessage(call, "done"),
	)
	thread.Pending = &domain.PendingApproval{ToolCall: call, RequestedAt: time.Now()}
	return thread
}

func roundTrip(t *testing.T, s domain.ThreadStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Load(ctx, "missing"); !errors.Is(err, domain.ErrThreadNotFound) {
		t.Errorf("Load(missing) err = %v, want ErrThreadNotFound", err)
	}

	original := sampleThread("t1")
	if err := s.Save(ctx, original); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Messages) != 3 {
		t.Fatalf("loaded messages = %d, want 3", len(loaded.Messages))
	}
	if loaded.Messages[1].ToolCalls[0].Name != "wipe" {
		t.Errorf("tool call = %+v", loaded.Messages[1].ToolCalls[0])
	}
	if loaded.Messages[2].ToolCallID != "c1" {
		t.Errorf("tool result id = %q, want c1", loaded.Messages[2].ToolCallID)
	}
	if loaded.Pending == nil || loaded.Pending.ToolCall.ID != "c1" {
		t.Fatalf("Pending = %+v, want c1", loaded.Pending)
	}

	// Clearing Pending persists too.
	loaded.Pending = nil
	if err := s.Save(ctx, loaded); err != nil {
		t.Fatalf("Save cleared: %v", err)
	}
	again, err := s.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load again: %v", err)
	}
	if again.Pending != nil {
		t.Errorf("Pending = %+v after clearing, want nil", again.Pending)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	roundTrip(t, NewMemoryStore())
}

func TestMemoryStoreIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	original := sampleThread("t1")
	if err := s.Save(ctx, original); err != nil {
		t.Fatal(err)
	}

	// Mutating the saved pointer must not affect stored state.
	original.Messages[0].Content = "tampered"

	loaded, err := s.Load(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Messages[0].Content != "hello" {
		t.Errorf("stored content = %q, want \"hello\"", loaded.Messages[0].Content)
	}

	// Mutating a loaded copy must not affect stored state either.
	loaded.Messages[0].Content = "also tampered"
	reloaded, err := s.Load(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Messages[0].Content != "hello" {
		t.Errorf("stored content = %q after load mutation, want \"hello\"", reloaded.Messages[0].Content)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "threads.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	roundTrip(t, s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "threads.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(context.Background(), sampleThread("t1")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	loaded, err := reopened.Load(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Messages) != 3 || loaded.Pending == nil {
		t.Errorf("reopened thread = %d messages, pending %v", len(loaded.Messages), loaded.Pending)
	}
}
