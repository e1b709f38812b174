// Package dispatcher maps transport-level requests onto registered
// procedures and converts their outcome into a response envelope.
package dispatcher

import "context"

// Request is one transport-level dispatch request.
type Request struct {
	// Verb selects the procedure category via the dispatcher's verb table.
	Verb string
	// Path is the fully-qualified procedure path.
	Path string
	// Payload is the raw encoded input. Empty means no input.
	Payload []byte
	// ResponseStatus lets the transport pre-assign a success status code.
	// Zero means 200.
	ResponseStatus int
	// ClientGone, if non-nil, is closed when the client disconnects.
	// Only subscriptions observe it.
	ClientGone <-chan struct{}
	// Meta carries transport metadata for the context factory.
	Meta map[string]string
}

// ContextFactory builds the per-request context value handed to the
// procedure. Nil factories yield a nil context value.
type ContextFactory func(ctx context.Context, req *Request) (any, error)

// TeardownFunc runs after every request, once the envelope has been decided.
// Its errors are logged and never alter the response.
type TeardownFunc func(ctx context.Context) error

// Transformer converts payload values at the wire boundary.
type Transformer interface {
	Serialize(v any) (any, error)
	Deserialize(v any) (any, error)
}

// IdentityTransformer passes values through unchanged. It is the default.
type IdentityTransformer struct{}

// Serialize returns v unchanged.
func (IdentityTransformer) Serialize(v any) (any, error) { return v, nil }

// Deserialize returns v unchanged.
func (IdentityTransformer) Deserialize(v any) (any, error) { return v, nil }
