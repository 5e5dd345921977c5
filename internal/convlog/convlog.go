// Package convlog provides an asynchronous, durable log of conversation
// traffic for diagnostics. It is a sink, not state: the channel never reads
// it back, and disabling it changes nothing about channel behavior.
package convlog

import (
	"time"
)

// Event is one logged conversation occurrence.
type Event struct {
	Timestamp string `json:"ts"`
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`
	Channel   string `json:"channel"`   // "realtime" or "fallback"
	Direction string `json:"direction"` // "outbound" or "inbound"
	EventType string `json:"event_type"`
	Content   string `json:"content,omitempty"`
}

// Stamp fills the timestamp if the caller left it empty.
func (e Event) Stamp() Event {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return e
}

// Logger records conversation events. Implementations must not block the
// caller; the channel's send paths call Log inline.
type Logger interface {
	Log(Event)
	Close() error
}

type noopLogger struct{}

func (noopLogger) Log(Event)    {}
func (noopLogger) Close() error { return nil }

// Noop returns a logger that discards everything.
func Noop() Logger {
	return noopLogger{}
}
