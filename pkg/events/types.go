// Package events defines event types and publisher interfaces for dispatch
// completion events.
package events

// DispatchCompletedEvent is emitted after every handled request, once the
// envelope has been decided. A StatusCode of 0 with Ok=false means the
// client disconnected before a subscription produced output, so no envelope
// was emitted.
type DispatchCompletedEvent struct {
	Category   string `json:"category,omitempty"`
	Path       string `json:"path"`
	Verb       string `json:"verb"`
	Ok         bool   `json:"ok"`
	StatusCode int    `json:"statusCode"`
	DurationMs int64  `json:"durationMs"`
	Timestamp  string `json:"timestamp"`
}
