package learning_test

import (
	"context"
	"testing"

	"github.com/p-n-ai/pai-learn/internal/learning"
)

func TestMemoryEventLogger_LogEvent(t *testing.T) {
	logger := learning.NewMemoryEventLogger()

	err := logger.LogEvent(context.Background(), learning.Event{
		UserID:    "user-1",
		EventType: learning.EventQuizSubmitted,
		Data:      map[string]any{"quiz_id": "q1"},
	})
	if err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].EventType != learning.EventQuizSubmitted {
		t.Errorf("EventType = %q, want %q", events[0].EventType, learning.EventQuizSubmitted)
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestMemoryEventLogger_RequiresUser(t *testing.T) {
	logger := learning.NewMemoryEventLogger()

	if err := logger.LogEvent(context.Background(), learning.Event{EventType: learning.EventPaymentApplied}); err == nil {
		t.Fatal("LogEvent() without user_id should fail")
	}
	if err := logger.LogEvent(context.Background(), learning.Event{UserID: "user-1"}); err == nil {
		t.Fatal("LogEvent() without event_type should fail")
	}
	if got := len(logger.Events()); got != 0 {
		t.Errorf("len(events) = %d, want 0", got)
	}
}

func TestPostgresEventLogger_LogEvent_NilPool(t *testing.T) {
	logger := learning.NewPostgresEventLogger(nil)

	err := logger.LogEvent(context.Background(), learning.Event{
		UserID:    "user-1",
		EventType: learning.EventChapterCompleted,
	})
	if err == nil {
		t.Fatal("LogEvent() with nil pool should fail")
	}
}
