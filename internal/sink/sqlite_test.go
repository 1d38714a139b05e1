package sink

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteSink_AppendAndCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	s, err := NewSQLite(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer func() { _ = s.Close() }()

	ev := testEvent("Ava", "signup")
	ev.ID = "evt-1"
	if err := s.Append(ctx, ev); err != nil {
		t.Fatalf("append: %v", err)
	}
	ev2 := testEvent("Ben", "login")
	ev2.ID = "evt-2"
	if err := s.Append(ctx, ev2); err != nil {
		t.Fatalf("second append: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestSQLiteSink_DuplicateIDRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	s, err := NewSQLite(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer func() { _ = s.Close() }()

	ev := testEvent("Ava", "signup")
	ev.ID = "evt-dup"
	if err := s.Append(ctx, ev); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, ev); err == nil {
		t.Error("expected primary key violation for duplicate event ID")
	}
}

func TestSQLiteSink_ContextTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	s, err := NewSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	if err := s.Append(ctx, testEvent("Ava", "signup")); err == nil {
		t.Error("expected error from expired context")
	}
}

func TestDisabledSink(t *testing.T) {
	s := Disabled("sheets")
	if s.Configured() {
		t.Error("disabled sink reports configured")
	}
	if s.Name() != "sheets" {
		t.Errorf("name = %q, want sheets", s.Name())
	}
	if err := s.Append(context.Background(), testEvent("Ava", "signup")); err != nil {
		t.Errorf("disabled append returned error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("disabled close returned error: %v", err)
	}
}
