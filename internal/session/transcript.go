package session

import (
	"sync"
	"time"
)

// Origin identifies who produced a transcript entry.
type Origin string

const (
	// OriginUser marks text typed by the visitor.
	OriginUser Origin = "user"
	// OriginAssistant marks text produced by the assistant service.
	OriginAssistant Origin = "assistant"
)

// Entry is one line of the conversation. Entries are never mutated after
// being appended. Seq is assigned by the transcript in append order, so
// consumers observe a deterministic ordering even when the realtime channel
// and an in-flight fallback call complete close together.
type Entry struct {
	Seq       int64
	Origin    Origin
	Text      string
	Timestamp time.Time
}

// Transcript is the append-only conversation log for one widget session.
// It grows without bound for the session's lifetime; eviction and
// persistence are the embedding application's concern.
type Transcript struct {
	mu      sync.RWMutex
	entries []Entry
	nextSeq int64
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append records one entry and returns it with its sequence number set.
func (t *Transcript) Append(origin Origin, text string) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSeq++
	e := Entry{
		Seq:       t.nextSeq,
		Origin:    origin,
		Text:      text,
		Timestamp: time.Now(),
	}
	t.entries = append(t.entries, e)
	return e
}

// Entries returns a snapshot of the transcript in append order.
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries appended so far.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
