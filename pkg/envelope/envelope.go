// Package envelope builds the canonical success/failure response shape.
package envelope

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/morezero/rpc-dispatch/pkg/procedure"
)

// genericMessage replaces unstructured error text in production configuration.
const genericMessage = "Internal Server Error"

// Envelope is the canonical wire response.
type Envelope struct {
	OK         bool         `json:"ok"`
	StatusCode int          `json:"statusCode"`
	Data       any          `json:"data,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail holds the failure message and, outside production
// configuration only, a diagnostic trace.
type ErrorDetail struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Success wraps data verbatim. A statusCode of 0 defaults to 200.
func Success(statusCode int, data any) *Envelope {
	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	return &Envelope{OK: true, StatusCode: statusCode, Data: data}
}

// FromError converts any failure into a failure envelope. Structured
// procedure errors keep their status code and message; everything else maps
// to 500 with the original message exposed only when exposeStack is set.
// Stack traces are never included in production configuration.
func FromError(err error, exposeStack bool) *Envelope {
	var perr *procedure.Error
	if errors.As(err, &perr) {
		return &Envelope{
			OK:         false,
			StatusCode: perr.StatusCode,
			Error:      &ErrorDetail{Message: perr.Message},
		}
	}

	detail := &ErrorDetail{Message: genericMessage}
	if exposeStack && err != nil {
		detail.Message = err.Error()
	}
	return &Envelope{OK: false, StatusCode: http.StatusInternalServerError, Error: detail}
}

// FromPanic converts a recovered panic value into a 500 failure envelope.
// The panic message and stack are exposed only when exposeStack is set.
func FromPanic(v any, stack []byte, exposeStack bool) *Envelope {
	detail := &ErrorDetail{Message: genericMessage}
	if exposeStack {
		detail.Message = fmt.Sprintf("panic: %v", v)
		detail.Stack = string(stack)
	}
	return &Envelope{OK: false, StatusCode: http.StatusInternalServerError, Error: detail}
}
