package procedure

import (
	"errors"
	"testing"
	"time"
)

func TestChannelSubscription_SingleOutcome(t *testing.T) {
	sub := NewSubscription(nil)
	sub.Resolve(map[string]any{"n": 1})
	sub.Resolve(map[string]any{"n": 2})
	sub.Fail(errors.New("too late"))

	select {
	case out := <-sub.Outcome():
		m, ok := out.Output.(map[string]any)
		if !ok || m["n"] != 1 {
			t.Errorf("procedure:subscription_test - first outcome wins, got %v", out.Output)
		}
	case <-time.After(time.Second):
		t.Fatal("procedure:subscription_test - no outcome delivered")
	}

	select {
	case out := <-sub.Outcome():
		t.Errorf("procedure:subscription_test - second outcome delivered: %v", out)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestChannelSubscription_StopInvokesOnStopOnce(t *testing.T) {
	var reasons []StopReason
	sub := NewSubscription(func(r StopReason) { reasons = append(reasons, r) })

	sub.Stop(StopTimeout)
	sub.Stop(StopClosed)
	sub.Stop(StopStopped)

	if len(reasons) != 1 {
		t.Fatalf("procedure:subscription_test - onStop called %d times, want 1", len(reasons))
	}
	if reasons[0] != StopTimeout {
		t.Errorf("procedure:subscription_test - reason = %s, want %s", reasons[0], StopTimeout)
	}
}

func TestChannelSubscription_StopAfterResolveIsNoOp(t *testing.T) {
	stopped := false
	sub := NewSubscription(func(StopReason) { stopped = true })

	sub.Resolve("done")
	sub.Stop(StopClosed)

	if stopped {
		t.Error("procedure:subscription_test - Stop after Resolve must be a no-op")
	}
}

func TestChannelSubscription_ResolveAfterStopIsNoOp(t *testing.T) {
	sub := NewSubscription(nil)
	sub.Stop(StopClosed)
	sub.Resolve("late")

	select {
	case out := <-sub.Outcome():
		t.Errorf("procedure:subscription_test - outcome after Stop: %v", out)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestChannelSubscription_FailDeliversError(t *testing.T) {
	sub := NewSubscription(nil)
	sub.Fail(NewForbidden("Forbidden"))

	out := <-sub.Outcome()
	var perr *Error
	if !errors.As(out.Err, &perr) || perr.StatusCode != 403 {
		t.Errorf("procedure:subscription_test - Err = %v, want 403 Error", out.Err)
	}
}
