// Package session holds the conversation state the channel must preserve
// across reconnects and transport switches: the server-issued session ID and
// the append-only transcript.
package session

import "sync"

// Tracker records the session identifier issued by the assistant. Both the
// realtime path and the HTTP fallback read Current immediately before
// sending, so a session established on one transport is honored by the
// other.
type Tracker struct {
	mu sync.RWMutex
	id string
}

// NewTracker returns a tracker with no session established yet.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Current returns the active session ID, or "" if the assistant has not
// issued one yet.
func (t *Tracker) Current() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.id
}

// Update replaces the session ID. Empty values are ignored: a session, once
// established, may only be replaced by a newer non-empty value.
func (t *Tracker) Update(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	t.id = id
	t.mu.Unlock()
}

// Reset clears the session. Only the widget owner calls this, when a closed
// widget is reopened to start a fresh conversation.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.id = ""
	t.mu.Unlock()
}
