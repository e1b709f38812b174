package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/morezero/rpc-dispatch/pkg/envelope"
	"github.com/morezero/rpc-dispatch/pkg/events"
	"github.com/morezero/rpc-dispatch/pkg/procedure"
	"github.com/morezero/rpc-dispatch/pkg/registry"
)

const logPrefix = "dispatcher:dispatch"

// DefaultSubscriptionTimeout bounds a subscription's lifetime when no
// timeout is configured. It sits under the 30s request ceiling common on
// serverless platforms.
const DefaultSubscriptionTimeout = 20 * time.Second

// invalidPayloadMessage is the fixed client-facing text for payloads that
// fail to decode. The parser's own error text is never exposed.
const invalidPayloadMessage = "Invalid request payload"

// DefaultVerbMap returns the default verb → category table.
func DefaultVerbMap() map[string]procedure.Category {
	return map[string]procedure.Category{
		http.MethodGet:   procedure.CategoryQuery,
		http.MethodPost:  procedure.CategoryMutation,
		http.MethodPatch: procedure.CategorySubscription,
	}
}

// Options configures a Dispatcher. Zero values use defaults.
type Options struct {
	Registry *registry.Registry
	// VerbMap overrides the verb → category table (transport adapters
	// carry their own verbs). Nil means DefaultVerbMap.
	VerbMap map[string]procedure.Category
	// Transformer converts inputs after decode and outputs before the
	// envelope. Nil means identity.
	Transformer Transformer
	// CreateContext builds the per-request context value.
	CreateContext ContextFactory
	// Teardown runs after every request; errors are logged, never thrown.
	Teardown TeardownFunc
	// SubscriptionTimeout bounds subscription lifetimes. Zero means
	// DefaultSubscriptionTimeout.
	SubscriptionTimeout time.Duration
	// ExposeStack includes original error text and traces in failure
	// envelopes. Leave false in production.
	ExposeStack bool
	// Publisher, if set, receives a completion event per request.
	Publisher events.Publisher
}

// Dispatcher resolves requests against the registry, invokes the matched
// procedure, and converts the result or any failure into an envelope. It is
// the single catch boundary: no failure escapes Handle.
type Dispatcher struct {
	registry            *registry.Registry
	verbs               map[string]procedure.Category
	transformer         Transformer
	createContext       ContextFactory
	teardown            TeardownFunc
	subscriptionTimeout time.Duration
	exposeStack         bool
	publisher           events.Publisher
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}
	verbs := opts.VerbMap
	if verbs == nil {
		verbs = DefaultVerbMap()
	}
	var transformer Transformer = IdentityTransformer{}
	if opts.Transformer != nil {
		transformer = opts.Transformer
	}
	timeout := opts.SubscriptionTimeout
	if timeout <= 0 {
		timeout = DefaultSubscriptionTimeout
	}
	var pub events.Publisher = &events.NoOpPublisher{}
	if opts.Publisher != nil {
		pub = opts.Publisher
	}

	return &Dispatcher{
		registry:            reg,
		verbs:               verbs,
		transformer:         transformer,
		createContext:       opts.CreateContext,
		teardown:            opts.Teardown,
		subscriptionTimeout: timeout,
		exposeStack:         opts.ExposeStack,
		publisher:           pub,
	}
}

// Handle processes one request end to end. A nil envelope means the client
// disconnected before a subscription completed and nothing should be
// written. The teardown hook runs exactly once per call, after the envelope
// is decided; the completion event is published last.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) *envelope.Envelope {
	start := time.Now()

	env := d.dispatch(ctx, req)

	// The request context is already canceled on the disconnect branch;
	// teardown and event publishing still have to complete.
	postCtx := context.WithoutCancel(ctx)

	if d.teardown != nil {
		if err := d.teardown(postCtx); err != nil {
			slog.Error(fmt.Sprintf("%s - teardown failed: %v", logPrefix, err))
		}
	}

	d.publishCompleted(postCtx, req, env, time.Since(start))
	return env
}

// dispatch is the catch-everything body of Handle. Every failure, including
// panics in procedure code, becomes a failure envelope here.
func (d *Dispatcher) dispatch(ctx context.Context, req *Request) (env *envelope.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - recovered panic on %s %s: %v", logPrefix, req.Verb, req.Path, r))
			env = envelope.FromPanic(r, debug.Stack(), d.exposeStack)
		}
	}()

	slog.Debug(fmt.Sprintf("%s - verb=%s path=%s", logPrefix, req.Verb, req.Path))

	cat, ok := d.verbs[req.Verb]
	if !ok {
		return envelope.FromError(
			procedure.NewError(http.StatusBadRequest, fmt.Sprintf("Unexpected request method %s", req.Verb)),
			d.exposeStack)
	}

	callCtx, err := d.buildContext(ctx, req)
	if err != nil {
		return envelope.FromError(fmt.Errorf("%s - create context: %w", logPrefix, err), d.exposeStack)
	}

	input, err := d.decodeInput(req.Payload)
	if err != nil {
		return envelope.FromError(procedure.NewValidation(invalidPayloadMessage), d.exposeStack)
	}

	proc, err := d.registry.Resolve(cat, req.Path)
	if err != nil {
		return envelope.FromError(err, d.exposeStack)
	}

	if proc.Validate != nil {
		if err := proc.Validate(input); err != nil {
			return envelope.FromError(asValidation(err), d.exposeStack)
		}
	}

	out, err := proc.Invoke(ctx, &procedure.Call{Ctx: callCtx, Input: input})
	if err != nil {
		return envelope.FromError(err, d.exposeStack)
	}

	if cat == procedure.CategorySubscription {
		sub, ok := out.(procedure.Subscription)
		if !ok {
			return envelope.FromError(
				fmt.Errorf("%s - subscription procedure %q returned %T, not a Subscription", logPrefix, req.Path, out),
				d.exposeStack)
		}
		return d.awaitSubscription(req, sub)
	}

	return d.successEnvelope(req, out)
}

func (d *Dispatcher) buildContext(ctx context.Context, req *Request) (any, error) {
	if d.createContext == nil {
		return nil, nil
	}
	return d.createContext(ctx, req)
}

// decodeInput turns the raw payload into the procedure input. An absent
// payload yields nil input, not an error.
func (d *Dispatcher) decodeInput(payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("%s - decode payload: %w", logPrefix, err)
	}
	return d.transformer.Deserialize(v)
}

func (d *Dispatcher) successEnvelope(req *Request, out any) *envelope.Envelope {
	data, err := d.transformer.Serialize(out)
	if err != nil {
		return envelope.FromError(fmt.Errorf("%s - serialize output: %w", logPrefix, err), d.exposeStack)
	}
	return envelope.Success(req.ResponseStatus, data)
}

func (d *Dispatcher) publishCompleted(ctx context.Context, req *Request, env *envelope.Envelope, elapsed time.Duration) {
	event := &events.DispatchCompletedEvent{
		Category:   string(d.verbs[req.Verb]),
		Path:       req.Path,
		Verb:       req.Verb,
		DurationMs: elapsed.Milliseconds(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if env != nil {
		event.Ok = env.OK
		event.StatusCode = env.StatusCode
	}
	if err := d.publisher.PublishDispatched(ctx, event); err != nil {
		slog.Error(fmt.Sprintf("%s - publish completion event: %v", logPrefix, err))
	}
}

// asValidation coerces a validator error to a 400 unless it is already a
// structured procedure error.
func asValidation(err error) error {
	var perr *procedure.Error
	if errors.As(err, &perr) {
		return err
	}
	return procedure.NewValidation(err.Error())
}
