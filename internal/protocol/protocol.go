// Package protocol defines the wire types exchanged with the assistant
// service over both the realtime channel and the HTTP fallback path.
package protocol

import "encoding/json"

// Inbound frame types.
const (
	TypeConnected        = "connected"
	TypeChatResponse     = "chat_response"
	TypeScheduleResponse = "schedule_response"
	TypeError            = "error"
	TypePong             = "pong"
)

// Outbound frame types.
const (
	TypeChat     = "chat"
	TypeSchedule = "schedule"
	TypePing     = "ping"
)

// ActionCalendarCheck is the action tag for slot-availability results.
const ActionCalendarCheck = "calendar_check"

// RawFrame is an inbound frame with its type pre-parsed so the router can
// dispatch without double-decoding.
type RawFrame struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"` // original bytes
}

// DecodeFrame partially decodes data so the router can dispatch on Type.
// A decode error means the payload is not a protocol frame at all; callers
// degrade it to plain display text.
func DecodeFrame(data []byte) (RawFrame, error) {
	var f RawFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return f, err
	}
	f.Raw = data
	return f, nil
}

// ── Assistant → widget ───────────────────────────────────────────────────────

// ConnectedFrame is the greeting sent when the realtime channel opens.
type ConnectedFrame struct {
	Type    string `json:"type"` // "connected"
	Message string `json:"message,omitempty"`
}

// ChatResponse is an assistant reply. The same payload (minus the type
// wrapper) is returned by the HTTP fallback endpoint.
type ChatResponse struct {
	Type          string       `json:"type,omitempty"` // "chat_response"
	Message       string       `json:"message"`
	SessionID     string       `json:"session_id"`
	Actions       *ActionGroup `json:"actions,omitempty"`
	RequiresHuman bool         `json:"requires_human,omitempty"`
}

// ActionGroup carries the side-effect instructions embedded in a reply.
type ActionGroup struct {
	ActionsTaken []Action `json:"actions_taken"`
}

// Action is a typed side-effect instruction. Unrecognized Type values are
// ignored by the executor so the assistant can add new actions freely.
type Action struct {
	Type           string `json:"type"`
	Success        bool   `json:"success"`
	AvailableSlots []Slot `json:"available_slots,omitempty"`
}

// Slot is one offerable appointment slot from a calendar_check action.
type Slot struct {
	Datetime string `json:"datetime"`
	Display  string `json:"display"`
	Duration string `json:"duration"`
}

// ScheduleResponse acknowledges a schedule request.
type ScheduleResponse struct {
	Type   string         `json:"type"` // "schedule_response"
	Result ScheduleResult `json:"result"`
}

// ScheduleResult is the outcome of a schedule request.
type ScheduleResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorFrame signals a server-side failure for the current turn.
type ErrorFrame struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message,omitempty"`
}

// PongFrame answers a liveness ping.
type PongFrame struct {
	Type string `json:"type"` // "pong"
}

// ── Widget → assistant ───────────────────────────────────────────────────────

// ChatMessage carries one user turn over the realtime channel.
type ChatMessage struct {
	Type      string  `json:"type"` // "chat"
	Message   string  `json:"message"`
	SessionID *string `json:"session_id"`
	TurnID    string  `json:"turn_id,omitempty"`
}

// NewChatMessage builds a chat frame. An empty sessionID is encoded as null
// so the assistant knows to start a fresh conversation.
func NewChatMessage(text, sessionID, turnID string) ChatMessage {
	m := ChatMessage{Type: TypeChat, Message: text, TurnID: turnID}
	if sessionID != "" {
		m.SessionID = &sessionID
	}
	return m
}

// CustomerInfo identifies the person booking a slot. Name and Phone are
// required before a schedule frame may be sent.
type CustomerInfo struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// ScheduleMessage books a specific slot.
type ScheduleMessage struct {
	Type         string       `json:"type"` // "schedule"
	SlotDatetime string       `json:"slot_datetime"`
	CustomerInfo CustomerInfo `json:"customer_info"`
	SessionID    string       `json:"session_id"`
}

// PingMessage is the periodic liveness probe.
type PingMessage struct {
	Type string `json:"type"` // "ping"
}

// ── HTTP fallback ────────────────────────────────────────────────────────────

// FallbackRequest is the body of the stateless fallback chat call.
type FallbackRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	CompanyID string `json:"company_id"`
}
