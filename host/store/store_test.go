package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "events.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return s
}

func TestInsertAndListEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	batch := []Event{
		{ReceivedAt: base, Clock: 100, Count: 1, Edge: "rising"},
		{ReceivedAt: base.Add(time.Second), Clock: 1100, Count: 2, Edge: "rising"},
	}
	if err := s.InsertEvents(ctx, batch); err != nil {
		t.Fatalf("InsertEvents failed: %v", err)
	}
	if err := s.InsertEvent(ctx, Event{ReceivedAt: base.Add(2 * time.Second), Clock: 2100, Count: 3, Edge: "toggle"}); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}

	events, err := s.RecentEvents(ctx, 2)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Count != 3 || events[0].Edge != "toggle" {
		t.Errorf("Expected newest event first, got %+v", events[0])
	}
	if !events[1].ReceivedAt.Equal(base.Add(time.Second)) {
		t.Errorf("Expected timestamp round trip, got %v", events[1].ReceivedAt)
	}

	n, err := s.EventCount(ctx)
	if err != nil || n != 3 {
		t.Errorf("Expected 3 stored events, got %d (%v)", n, err)
	}
}

func TestInsertWait(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.InsertWait(ctx, Wait{RequestedAt: time.Now().UTC(), TimeoutMs: 1000, Triggered: false, Clock: 4000})
	if err != nil {
		t.Fatalf("InsertWait failed: %v", err)
	}
	if id <= 0 {
		t.Errorf("Expected positive row id, got %d", id)
	}
	if _, err := s.InsertWait(ctx, Wait{RequestedAt: time.Now().UTC(), TimeoutMs: 50, Triggered: true, Clock: 4100}); err != nil {
		t.Fatalf("InsertWait failed: %v", err)
	}

	waits, err := s.RecentWaits(ctx, 10)
	if err != nil {
		t.Fatalf("RecentWaits failed: %v", err)
	}
	if len(waits) != 2 {
		t.Fatalf("Expected 2 waits, got %d", len(waits))
	}
	if !waits[0].Triggered || waits[0].TimeoutMs != 50 {
		t.Errorf("Expected triggered 50ms wait first, got %+v", waits[0])
	}
	if waits[1].Triggered {
		t.Errorf("Expected timed-out wait, got %+v", waits[1])
	}
}

func TestEmptyQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertEvents(ctx, nil); err != nil {
		t.Errorf("Expected empty batch to be a no-op, got %v", err)
	}
	events, err := s.RecentEvents(ctx, 0)
	if err != nil || events != nil {
		t.Errorf("Expected nil for zero limit, got %v %v", events, err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.InsertEvent(ctx, Event{ReceivedAt: time.Now().UTC(), Clock: 1, Count: 1, Edge: "falling"}); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s.Close()
	n, err := s.EventCount(ctx)
	if err != nil || n != 1 {
		t.Errorf("Expected 1 event after reopen, got %d (%v)", n, err)
	}
}
