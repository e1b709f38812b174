package procedure

import "sync"

// StopReason tags a termination request made against a subscription handle.
type StopReason string

// Stop reasons.
const (
	StopClosed  StopReason = "closed"
	StopTimeout StopReason = "timeout"
	StopStopped StopReason = "stopped"
)

// Outcome is the single terminal result of a subscription.
type Outcome struct {
	Output any
	Err    error
}

// Subscription is an externally-terminable asynchronous output source.
// At most one terminal Outcome is ever produced.
type Subscription interface {
	// Outcome returns a channel that delivers at most one terminal outcome.
	Outcome() <-chan Outcome
	// Stop requests termination with the given reason. Stop after a
	// terminal outcome has been produced is a no-op.
	Stop(reason StopReason)
}

// ChannelSubscription is an in-process Subscription backed by a buffered
// channel, for subscription procedures that produce their result from a
// goroutine.
type ChannelSubscription struct {
	mu     sync.Mutex
	done   bool
	ch     chan Outcome
	onStop func(StopReason)
}

// NewSubscription creates a ChannelSubscription. onStop, if non-nil, is
// invoked at most once when termination is requested before a terminal
// outcome exists; the producer should observe it and release its resources.
func NewSubscription(onStop func(StopReason)) *ChannelSubscription {
	return &ChannelSubscription{ch: make(chan Outcome, 1), onStop: onStop}
}

// Resolve delivers the terminal output. No-op if a terminal event already
// occurred.
func (s *ChannelSubscription) Resolve(output any) {
	s.finish(Outcome{Output: output})
}

// Fail delivers a terminal error. No-op if a terminal event already occurred.
func (s *ChannelSubscription) Fail(err error) {
	s.finish(Outcome{Err: err})
}

// Outcome implements Subscription.
func (s *ChannelSubscription) Outcome() <-chan Outcome {
	return s.ch
}

// Stop implements Subscription.
func (s *ChannelSubscription) Stop(reason StopReason) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	stop := s.onStop
	s.mu.Unlock()

	if stop != nil {
		stop(reason)
	}
}

func (s *ChannelSubscription) finish(out Outcome) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()

	s.ch <- out
}
