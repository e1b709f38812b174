// Package procedure defines the callable units the dispatcher routes to:
// queries, mutations, and subscriptions, plus the structured errors and the
// subscription handle contract they share.
package procedure

import "context"

// Category classifies a procedure and determines how its result is handled.
type Category string

// Procedure categories.
const (
	CategoryQuery        Category = "query"
	CategoryMutation     Category = "mutation"
	CategorySubscription Category = "subscription"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryQuery, CategoryMutation, CategorySubscription:
		return true
	}
	return false
}

// Call is the per-request view handed to a procedure invocation.
type Call struct {
	// Ctx is the value produced by the transport's context factory.
	// Consumed read-only by exactly one invocation.
	Ctx any
	// Input is the deserialized request payload; nil when the request
	// carried no payload.
	Input any
}

// InvokeFunc executes one procedure call. Subscription procedures return a
// Subscription handle instead of a final output.
type InvokeFunc func(ctx context.Context, call *Call) (any, error)

// ValidateFunc rejects an input before the procedure runs. A returned error
// that is not a structured *Error is treated as a validation failure (400).
type ValidateFunc func(input any) error

// Procedure is a registered server-side callable. Immutable once registered.
type Procedure struct {
	Category Category
	Path     string
	Validate ValidateFunc
	Invoke   InvokeFunc
}
