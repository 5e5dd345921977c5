package assiststub

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/bookline/assist-widget/internal/protocol"
)

// cannedSlots is the availability the stub always offers.
var cannedSlots = []protocol.Slot{
	{Datetime: "2025-01-01T10:00", Display: "Jan 1, 10am", Duration: "30m"},
	{Datetime: "2025-01-01T14:30", Display: "Jan 1, 2:30pm", Duration: "30m"},
}

// Responder produces deterministic assistant replies and issues session
// IDs, shared by the realtime and fallback handlers so a session started
// on one transport is recognized on the other.
type Responder struct {
	mu       sync.Mutex
	sessions map[string]int // session ID -> turn count
}

// NewResponder creates a responder with no sessions.
func NewResponder() *Responder {
	return &Responder{sessions: make(map[string]int)}
}

// Greeting returns the connect-time greeting.
func (r *Responder) Greeting() string {
	return "Hi! I'm the booking assistant. How can I help?"
}

// Chat answers one user turn. An empty sessionID starts a new session.
func (r *Responder) Chat(message, sessionID string) protocol.ChatResponse {
	r.mu.Lock()
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	r.sessions[sessionID]++
	turn := r.sessions[sessionID]
	r.mu.Unlock()

	resp := protocol.ChatResponse{
		Message:   fmt.Sprintf("You said: %s (turn %d)", message, turn),
		SessionID: sessionID,
	}
	if wantsBooking(message) {
		resp.Message = "I found some openings for you."
		resp.Actions = &protocol.ActionGroup{
			ActionsTaken: []protocol.Action{{
				Type:           protocol.ActionCalendarCheck,
				Success:        true,
				AvailableSlots: append([]protocol.Slot(nil), cannedSlots...),
			}},
		}
	}
	if wantsHuman(message) {
		resp.RequiresHuman = true
	}
	return resp
}

// Schedule acknowledges a booking.
func (r *Responder) Schedule(req protocol.ScheduleMessage) protocol.ScheduleResponse {
	return protocol.ScheduleResponse{
		Type: protocol.TypeScheduleResponse,
		Result: protocol.ScheduleResult{
			Success: true,
			Message: fmt.Sprintf("You're booked for %s. See you then, %s!", req.SlotDatetime, req.CustomerInfo.Name),
		},
	}
}

// SessionTurns returns how many turns a session has seen. Zero means the
// session is unknown.
func (r *Responder) SessionTurns(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}
