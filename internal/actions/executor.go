// Package actions interprets the side-effect instructions embedded in
// assistant replies and maintains the externally visible scheduling state
// derived from them.
package actions

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/bookline/assist-widget/internal/protocol"
)

// ErrContactInfoRequired signals that a schedule request cannot be built
// until the caller collects the visitor's name and phone number.
var ErrContactInfoRequired = errors.New("contact name and phone are required before scheduling")

// Executor applies action frames to visible state. It never touches the
// channel lifecycle; the connection manager is the only writer there.
type Executor struct {
	mu        sync.RWMutex
	slots     []protocol.Slot
	offerable bool
}

// NewExecutor returns an executor with no offerable slots.
func NewExecutor() *Executor {
	return &Executor{}
}

// Apply processes the actions from one assistant reply. A successful
// calendar_check replaces the offered slot list; unrecognized action tags
// are ignored so newer assistant versions stay compatible.
func (e *Executor) Apply(acts []protocol.Action) {
	for _, a := range acts {
		switch a.Type {
		case protocol.ActionCalendarCheck:
			if !a.Success {
				continue
			}
			e.mu.Lock()
			e.slots = append([]protocol.Slot(nil), a.AvailableSlots...)
			e.offerable = len(e.slots) > 0
			e.mu.Unlock()
			slog.Debug("calendar availability updated", "slot_count", len(a.AvailableSlots))
		default:
			slog.Debug("ignoring unrecognized action", "type", a.Type)
		}
	}
}

// OfferedSlots returns a snapshot of the currently offerable slots.
func (e *Executor) OfferedSlots() []protocol.Slot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]protocol.Slot, len(e.slots))
	copy(out, e.slots)
	return out
}

// Offerable reports whether the scheduling UI should offer slots.
func (e *Executor) Offerable() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.offerable
}

// BuildScheduleRequest validates the contact info and builds the schedule
// frame for slot. It returns ErrContactInfoRequired when name or phone is
// missing, so the caller collects them instead of sending an incomplete
// request.
func (e *Executor) BuildScheduleRequest(slot protocol.Slot, info protocol.CustomerInfo, sessionID string) (protocol.ScheduleMessage, error) {
	if info.Name == "" || info.Phone == "" {
		return protocol.ScheduleMessage{}, ErrContactInfoRequired
	}
	return protocol.ScheduleMessage{
		Type:         protocol.TypeSchedule,
		SlotDatetime: slot.Datetime,
		CustomerInfo: info,
		SessionID:    sessionID,
	}, nil
}
