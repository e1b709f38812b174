package events

import "context"

// Publisher is the interface for publishing dispatch completion events.
type Publisher interface {
	PublishDispatched(ctx context.Context, event *DispatchCompletedEvent) error
}

// NoOpPublisher is a Publisher that does nothing (for in-process usage
// without events).
type NoOpPublisher struct{}

// PublishDispatched is a no-op.
func (p *NoOpPublisher) PublishDispatched(_ context.Context, _ *DispatchCompletedEvent) error {
	return nil
}

// CallbackPublisher is a Publisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *DispatchCompletedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *DispatchCompletedEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishDispatched calls the callback.
func (p *CallbackPublisher) PublishDispatched(ctx context.Context, event *DispatchCompletedEvent) error {
	return p.callback(ctx, event)
}

// MultiPublisher fans one event out to several publishers. The first error
// is returned after all publishers have been tried.
type MultiPublisher []Publisher

// PublishDispatched publishes to every underlying publisher.
func (m MultiPublisher) PublishDispatched(ctx context.Context, event *DispatchCompletedEvent) error {
	var first error
	for _, p := range m {
		if err := p.PublishDispatched(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
