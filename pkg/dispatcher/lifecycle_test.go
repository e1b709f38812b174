package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/morezero/rpc-dispatch/pkg/events"
	"github.com/morezero/rpc-dispatch/pkg/procedure"
	"github.com/morezero/rpc-dispatch/pkg/registry"
)

// stopRecorder counts termination requests made against a subscription.
type stopRecorder struct {
	mu      sync.Mutex
	reasons []procedure.StopReason
}

func (s *stopRecorder) record(r procedure.StopReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, r)
}

func (s *stopRecorder) snapshot() []procedure.StopReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]procedure.StopReason(nil), s.reasons...)
}

// subscriptionDispatcher registers a single subscription procedure on path
// "feed" whose handle resolves after produceAfter (never, if zero).
func subscriptionDispatcher(t *testing.T, timeout, produceAfter time.Duration, rec *stopRecorder) *Dispatcher {
	t.Helper()

	r := registry.Must(registry.New().Register(procedure.CategorySubscription, "feed",
		func(_ context.Context, _ *procedure.Call) (any, error) {
			sub := procedure.NewSubscription(rec.record)
			if produceAfter > 0 {
				go func() {
					time.Sleep(produceAfter)
					sub.Resolve(map[string]any{"tick": 1})
				}()
			}
			return sub, nil
		}))

	return New(Options{Registry: r, SubscriptionTimeout: timeout})
}

func TestSubscription_TimeoutEnvelope(t *testing.T) {
	rec := &stopRecorder{}
	d := subscriptionDispatcher(t, 50*time.Millisecond, 0, rec)

	start := time.Now()
	env := d.Handle(context.Background(), &Request{Verb: "PATCH", Path: "feed"})
	elapsed := time.Since(start)

	if env == nil {
		t.Fatal("dispatcher:lifecycle_test - expected a timeout envelope")
	}
	if env.StatusCode != 408 {
		t.Errorf("dispatcher:lifecycle_test - StatusCode = %d, want 408", env.StatusCode)
	}
	if env.Error.Message != "Subscription exceeded 50ms - please reconnect." {
		t.Errorf("dispatcher:lifecycle_test - Message = %q", env.Error.Message)
	}
	if elapsed < 50*time.Millisecond || elapsed > 200*time.Millisecond {
		t.Errorf("dispatcher:lifecycle_test - resolved after %v, want ~50ms", elapsed)
	}

	reasons := rec.snapshot()
	if len(reasons) != 1 || reasons[0] != procedure.StopTimeout {
		t.Errorf("dispatcher:lifecycle_test - stop reasons = %v, want exactly [timeout]", reasons)
	}
}

func TestSubscription_OutputBeforeTimeout(t *testing.T) {
	rec := &stopRecorder{}
	d := subscriptionDispatcher(t, 50*time.Millisecond, 10*time.Millisecond, rec)

	env := d.Handle(context.Background(), &Request{Verb: "PATCH", Path: "feed"})

	if env == nil || !env.OK {
		t.Fatalf("dispatcher:lifecycle_test - expected success envelope, got %+v", env)
	}
	data, ok := env.Data.(map[string]any)
	if !ok || data["tick"] != 1 {
		t.Errorf("dispatcher:lifecycle_test - Data = %v", env.Data)
	}

	// Wait past the original deadline: the timer was cancelled, so no
	// timeout side effect may fire late.
	time.Sleep(60 * time.Millisecond)
	if reasons := rec.snapshot(); len(reasons) != 0 {
		t.Errorf("dispatcher:lifecycle_test - stop fired after success: %v", reasons)
	}
}

func TestSubscription_ClientDisconnect(t *testing.T) {
	rec := &stopRecorder{}
	d := subscriptionDispatcher(t, 50*time.Millisecond, 0, rec)

	gone := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		close(gone)
	}()

	env := d.Handle(context.Background(), &Request{Verb: "PATCH", Path: "feed", ClientGone: gone})

	if env != nil {
		t.Errorf("dispatcher:lifecycle_test - no envelope may be emitted after disconnect, got %+v", env)
	}

	reasons := rec.snapshot()
	if len(reasons) != 1 || reasons[0] != procedure.StopClosed {
		t.Errorf("dispatcher:lifecycle_test - stop reasons = %v, want exactly [closed]", reasons)
	}

	// No timeout side effect may fire after the disconnect decision.
	time.Sleep(60 * time.Millisecond)
	if reasons := rec.snapshot(); len(reasons) != 1 {
		t.Errorf("dispatcher:lifecycle_test - extra stop after disconnect: %v", reasons)
	}
}

func TestSubscription_DisconnectStillPublishesAndTearsDown(t *testing.T) {
	rec := &stopRecorder{}

	var pubCtxErr, tdCtxErr error
	var got *events.DispatchCompletedEvent
	r := registry.Must(registry.New().Register(procedure.CategorySubscription, "feed",
		func(_ context.Context, _ *procedure.Call) (any, error) {
			return procedure.NewSubscription(rec.record), nil
		}))
	d := New(Options{
		Registry:            r,
		SubscriptionTimeout: time.Second,
		Teardown: func(ctx context.Context) error {
			tdCtxErr = ctx.Err()
			return nil
		},
		Publisher: events.NewCallbackPublisher(func(ctx context.Context, e *events.DispatchCompletedEvent) error {
			pubCtxErr = ctx.Err()
			got = e
			return nil
		}),
	})

	// The HTTP adapter hands the request context's done channel to the
	// dispatcher, so on disconnect the context is canceled as well.
	ctx, cancel := context.WithCancel(context.Background())
	gone := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
		close(gone)
	}()

	env := d.Handle(ctx, &Request{Verb: "PATCH", Path: "feed", ClientGone: gone})

	if env != nil {
		t.Errorf("dispatcher:lifecycle_test - expected nil envelope, got %+v", env)
	}
	if tdCtxErr != nil {
		t.Errorf("dispatcher:lifecycle_test - teardown received dead context: %v", tdCtxErr)
	}
	if pubCtxErr != nil {
		t.Errorf("dispatcher:lifecycle_test - publisher received dead context: %v", pubCtxErr)
	}
	if got == nil {
		t.Fatal("dispatcher:lifecycle_test - no completion event after disconnect")
	}
	if got.Ok || got.StatusCode != 0 {
		t.Errorf("dispatcher:lifecycle_test - event = %+v, want Ok=false StatusCode=0", got)
	}
}

func TestSubscription_FailedOutcomeBecomesErrorEnvelope(t *testing.T) {
	r := registry.Must(registry.New().Register(procedure.CategorySubscription, "feed",
		func(_ context.Context, _ *procedure.Call) (any, error) {
			sub := procedure.NewSubscription(nil)
			go sub.Fail(procedure.NewUnauthorized("Unauthorized"))
			return sub, nil
		}))
	d := New(Options{Registry: r, SubscriptionTimeout: time.Second})

	env := d.Handle(context.Background(), &Request{Verb: "PATCH", Path: "feed"})

	if env == nil || env.StatusCode != 401 {
		t.Errorf("dispatcher:lifecycle_test - env = %+v, want 401", env)
	}
}

func TestSubscription_NonHandleReturnIsServerError(t *testing.T) {
	r := registry.Must(registry.New().Register(procedure.CategorySubscription, "feed",
		func(_ context.Context, _ *procedure.Call) (any, error) {
			return map[string]any{"not": "a handle"}, nil
		}))
	d := New(Options{Registry: r})

	env := d.Handle(context.Background(), &Request{Verb: "PATCH", Path: "feed"})

	if env.StatusCode != 500 {
		t.Errorf("dispatcher:lifecycle_test - StatusCode = %d, want 500", env.StatusCode)
	}
}

func TestSubscription_TeardownRunsOnDisconnect(t *testing.T) {
	rec := &stopRecorder{}
	teardowns := 0

	r := registry.Must(registry.New().Register(procedure.CategorySubscription, "feed",
		func(_ context.Context, _ *procedure.Call) (any, error) {
			return procedure.NewSubscription(rec.record), nil
		}))
	d := New(Options{
		Registry:            r,
		SubscriptionTimeout: time.Second,
		Teardown: func(_ context.Context) error {
			teardowns++
			return nil
		},
	})

	gone := make(chan struct{})
	close(gone)
	env := d.Handle(context.Background(), &Request{Verb: "PATCH", Path: "feed", ClientGone: gone})

	if env != nil {
		t.Errorf("dispatcher:lifecycle_test - expected nil envelope, got %+v", env)
	}
	if teardowns != 1 {
		t.Errorf("dispatcher:lifecycle_test - teardown ran %d times, want 1", teardowns)
	}
}
