package events

import (
	"context"
	"errors"
	"testing"
)

func TestNoOpPublisher(t *testing.T) {
	p := &NoOpPublisher{}
	if err := p.PublishDispatched(context.Background(), &DispatchCompletedEvent{Path: "a"}); err != nil {
		t.Errorf("events:publisher_test - NoOpPublisher returned error: %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var got *DispatchCompletedEvent
	p := NewCallbackPublisher(func(_ context.Context, e *DispatchCompletedEvent) error {
		got = e
		return nil
	})

	event := &DispatchCompletedEvent{Category: "query", Path: "users/list", StatusCode: 200, Ok: true}
	if err := p.PublishDispatched(context.Background(), event); err != nil {
		t.Fatalf("events:publisher_test - publish failed: %v", err)
	}
	if got != event {
		t.Error("events:publisher_test - callback did not receive the event")
	}
}

func TestMultiPublisher_PublishesToAll(t *testing.T) {
	calls := 0
	count := NewCallbackPublisher(func(_ context.Context, _ *DispatchCompletedEvent) error {
		calls++
		return nil
	})

	m := MultiPublisher{count, count}
	if err := m.PublishDispatched(context.Background(), &DispatchCompletedEvent{}); err != nil {
		t.Fatalf("events:publisher_test - publish failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("events:publisher_test - calls = %d, want 2", calls)
	}
}

func TestMultiPublisher_FirstErrorAfterAllTried(t *testing.T) {
	calls := 0
	failing := NewCallbackPublisher(func(_ context.Context, _ *DispatchCompletedEvent) error {
		calls++
		return errors.New("down")
	})
	ok := NewCallbackPublisher(func(_ context.Context, _ *DispatchCompletedEvent) error {
		calls++
		return nil
	})

	m := MultiPublisher{failing, ok}
	if err := m.PublishDispatched(context.Background(), &DispatchCompletedEvent{}); err == nil {
		t.Error("events:publisher_test - expected first error to propagate")
	}
	if calls != 2 {
		t.Errorf("events:publisher_test - calls = %d, want 2 (all publishers tried)", calls)
	}
}
