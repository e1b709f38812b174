package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rpc-dispatch/pkg/commsutil"
	"github.com/morezero/rpc-dispatch/pkg/dispatcher"
	"github.com/morezero/rpc-dispatch/pkg/envelope"
	"github.com/morezero/rpc-dispatch/pkg/procedure"
)

const commsLogPrefix = "server:comms"

// CommsVerbMap is the verb table for the COMMS transport: messages carry
// category names directly instead of HTTP methods.
func CommsVerbMap() map[string]procedure.Category {
	return map[string]procedure.Category{
		"query":        procedure.CategoryQuery,
		"mutation":     procedure.CategoryMutation,
		"subscription": procedure.CategorySubscription,
	}
}

// CommsRequest is the JSON envelope for incoming COMMS dispatch requests.
type CommsRequest struct {
	ID     string          `json:"id,omitempty"`
	Verb   string          `json:"verb"`
	Path   string          `json:"path"`
	Params json.RawMessage `json:"params,omitempty"`
}

// CommsAdapter serves dispatch requests over a COMMS subject using
// request/reply. There is no disconnect signal on this transport, so
// subscriptions resolve by outcome or timeout only.
type CommsAdapter struct {
	disp           *dispatcher.Dispatcher
	subject        string
	requestTimeout time.Duration
}

// NewCommsAdapter creates a CommsAdapter around a dispatcher configured
// with CommsVerbMap.
func NewCommsAdapter(disp *dispatcher.Dispatcher, subject string, requestTimeout time.Duration) *CommsAdapter {
	return &CommsAdapter{disp: disp, subject: subject, requestTimeout: requestTimeout}
}

// Subscribe registers the adapter on its subject and replies to each
// request with the dispatch envelope.
func (a *CommsAdapter) Subscribe(ctx context.Context, nc *comms.Conn) (*comms.Subscription, error) {
	return nc.Subscribe(a.subject, func(msg *comms.Msg) {
		var req CommsRequest
		if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to decode request: %v", commsLogPrefix, err))
			a.respond(msg, &envelope.Envelope{
				OK:         false,
				StatusCode: http.StatusBadRequest,
				Error:      &envelope.ErrorDetail{Message: "Failed to decode request"},
			})
			return
		}

		reqCtx, cancel := context.WithTimeout(ctx, a.requestTimeout)
		defer cancel()

		env := a.disp.Handle(reqCtx, &dispatcher.Request{
			Verb:    req.Verb,
			Path:    req.Path,
			Payload: req.Params,
			Meta:    map[string]string{"requestId": req.ID},
		})
		if env == nil {
			return
		}
		a.respond(msg, env)
	})
}

func (a *CommsAdapter) respond(msg *comms.Msg, env *envelope.Envelope) {
	data, err := commsutil.EncodePayload(env)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", commsLogPrefix, err))
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to respond: %v", commsLogPrefix, err))
	}
}
