// Package widget ties the assistant channel together: it owns the
// connection manager, routes inbound frames, tracks the session and the
// transcript, and falls back to the stateless transport when no realtime
// channel is open.
package widget

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bookline/assist-widget/internal/actions"
	"github.com/bookline/assist-widget/internal/channel"
	"github.com/bookline/assist-widget/internal/convlog"
	"github.com/bookline/assist-widget/internal/fallback"
	"github.com/bookline/assist-widget/internal/protocol"
	"github.com/bookline/assist-widget/internal/session"
)

// User-visible notices. Fixed strings: the channel never leaks transport or
// protocol details into the conversation.
const (
	escalationNotice = "One of our team members will follow up with you shortly."
	troubleNotice    = "Sorry, we're having trouble connecting right now. Please try again in a moment."
	errorNotice      = "Sorry, something went wrong on our end. Please try again."
)

// ErrEmptyMessage is returned when Send is called with no text.
var ErrEmptyMessage = errors.New("message text is required")

// ErrClosed is returned when the widget has been closed.
var ErrClosed = errors.New("widget is closed")

// ErrContactInfoRequired mirrors the executor's sentinel so callers only
// need to import this package.
var ErrContactInfoRequired = actions.ErrContactInfoRequired

// Options configures a Widget. TenantID and BaseAddress are required.
type Options struct {
	TenantID    string
	BaseAddress string

	RetryDelay   time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration

	// Dialer and Clock are injectable for tests; nil selects the real
	// websocket dialer and wall clock.
	Dialer channel.Dialer
	Clock  channel.Clock

	// ConversationLog receives a diagnostic copy of the traffic. Nil
	// disables logging.
	ConversationLog convlog.Logger

	// OnEntry, when set, is called for every transcript append.
	OnEntry func(session.Entry)

	// OnStateChange, when set, observes channel state transitions.
	OnStateChange func(channel.State)
}

// Widget is one embedded assistant conversation.
type Widget struct {
	opts Options

	mgr        *channel.Manager
	tracker    *session.Tracker
	transcript *session.Transcript
	executor   *actions.Executor
	fb         *fallback.Client
	log        convlog.Logger

	mu     sync.Mutex
	closed bool
}

// New builds a widget. Call Open to start connecting.
func New(opts Options) *Widget {
	if opts.ConversationLog == nil {
		opts.ConversationLog = convlog.Noop()
	}

	w := &Widget{
		opts:       opts,
		tracker:    session.NewTracker(),
		transcript: session.NewTranscript(),
		executor:   actions.NewExecutor(),
		fb:         fallback.NewClient(opts.BaseAddress, opts.TenantID),
		log:        opts.ConversationLog,
	}
	w.mgr = channel.NewManager(channel.Options{
		TenantID:      opts.TenantID,
		BaseAddress:   opts.BaseAddress,
		RetryDelay:    opts.RetryDelay,
		PingInterval:  opts.PingInterval,
		PongTimeout:   opts.PongTimeout,
		Dialer:        opts.Dialer,
		Clock:         opts.Clock,
		OnFrame:       w.route,
		OnStateChange: opts.OnStateChange,
	})
	return w
}

// Open starts the realtime connection attempt cycle. Idempotent.
func (w *Widget) Open() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	w.mgr.Open()
}

// Close tears the widget down: the channel is closed, all timers are
// cancelled, and no further traffic is sent. Terminal for this instance.
func (w *Widget) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.mgr.Close()
}

// State returns the realtime channel state.
func (w *Widget) State() channel.State {
	return w.mgr.State()
}

// Session returns the current server-issued session ID, or "".
func (w *Widget) Session() string {
	return w.tracker.Current()
}

// Transcript returns a snapshot of the conversation so far.
func (w *Widget) Transcript() []session.Entry {
	return w.transcript.Entries()
}

// OfferedSlots returns the currently offerable appointment slots.
func (w *Widget) OfferedSlots() []protocol.Slot {
	return w.executor.OfferedSlots()
}

// Offerable reports whether scheduling should be offered to the visitor.
func (w *Widget) Offerable() bool {
	return w.executor.Offerable()
}

// Send delivers one user turn. It prefers the realtime channel and falls
// back to the stateless transport when no channel is open. Transport
// failures are absorbed: the visitor sees a single fixed notice and the
// next Send simply tries again.
func (w *Widget) Send(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.mu.Unlock()

	turnID := uuid.NewString()
	w.appendEntry(session.OriginUser, text)

	// The session is read immediately before sending so a session
	// established on the other transport is honored here.
	msg := protocol.NewChatMessage(text, w.tracker.Current(), turnID)
	err := w.mgr.Send(ctx, msg)
	if err == nil {
		w.log.Log(convlog.Event{
			TenantID:  w.opts.TenantID,
			SessionID: w.tracker.Current(),
			TurnID:    turnID,
			Channel:   "realtime",
			Direction: "outbound",
			EventType: "user_message",
			Content:   text,
		})
		return nil
	}
	if !errors.Is(err, channel.ErrNotConnected) {
		// A write failure on an established channel; the read loop will
		// notice the drop. This turn still goes out via fallback.
		slog.Warn("realtime send failed, using fallback", "error", err)
	}

	w.sendFallback(ctx, text, turnID)
	return nil
}

// sendFallback performs one stateless request/response turn. Failures
// surface a single fixed notice and are not retried.
func (w *Widget) sendFallback(ctx context.Context, text, turnID string) {
	w.log.Log(convlog.Event{
		TenantID:  w.opts.TenantID,
		SessionID: w.tracker.Current(),
		TurnID:    turnID,
		Channel:   "fallback",
		Direction: "outbound",
		EventType: "user_message",
		Content:   text,
	})

	resp, err := w.fb.Send(ctx, text, w.tracker.Current())
	if err != nil {
		slog.Warn("fallback request failed", "error", err)
		w.appendEntry(session.OriginAssistant, troubleNotice)
		return
	}
	w.handleChatResponse(resp, "fallback")
}

// Schedule books a specific slot over the realtime channel. It returns
// ErrContactInfoRequired when the contact details are incomplete and
// channel.ErrNotConnected when no realtime channel is open.
func (w *Widget) Schedule(ctx context.Context, slot protocol.Slot, info protocol.CustomerInfo) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.mu.Unlock()

	msg, err := w.executor.BuildScheduleRequest(slot, info, w.tracker.Current())
	if err != nil {
		return err
	}
	if err := w.mgr.Send(ctx, msg); err != nil {
		return err
	}
	w.log.Log(convlog.Event{
		TenantID:  w.opts.TenantID,
		SessionID: w.tracker.Current(),
		Channel:   "realtime",
		Direction: "outbound",
		EventType: "schedule_request",
		Content:   slot.Display,
	})
	return nil
}

// route classifies one inbound frame and dispatches it. Payloads that are
// not protocol frames at all degrade to plain assistant text; frames with
// an unrecognized declared type are ignored.
func (w *Widget) route(data []byte) {
	f, err := protocol.DecodeFrame(data)
	if err != nil || f.Type == "" {
		w.appendEntry(session.OriginAssistant, string(data))
		return
	}

	switch f.Type {
	case protocol.TypeConnected:
		var frame protocol.ConnectedFrame
		if err := json.Unmarshal(f.Raw, &frame); err != nil {
			slog.Debug("malformed connected frame", "error", err)
			return
		}
		if frame.Message != "" {
			w.appendEntry(session.OriginAssistant, frame.Message)
		}

	case protocol.TypeChatResponse:
		var resp protocol.ChatResponse
		if err := json.Unmarshal(f.Raw, &resp); err != nil {
			slog.Debug("malformed chat_response frame", "error", err)
			return
		}
		w.handleChatResponse(&resp, "realtime")

	case protocol.TypeScheduleResponse:
		var resp protocol.ScheduleResponse
		if err := json.Unmarshal(f.Raw, &resp); err != nil {
			slog.Debug("malformed schedule_response frame", "error", err)
			return
		}
		if resp.Result.Message != "" {
			w.appendEntry(session.OriginAssistant, resp.Result.Message)
		}
		w.log.Log(convlog.Event{
			TenantID:  w.opts.TenantID,
			SessionID: w.tracker.Current(),
			Channel:   "realtime",
			Direction: "inbound",
			EventType: "schedule_response",
			Content:   resp.Result.Message,
		})

	case protocol.TypeError:
		w.appendEntry(session.OriginAssistant, errorNotice)

	case protocol.TypePong:
		// Liveness bookkeeping happens in the connection manager.

	default:
		slog.Debug("ignoring frame with unknown type", "type", f.Type)
	}
}

// handleChatResponse applies one assistant reply regardless of which
// transport carried it: session update, transcript append, actions, and
// the escalation notice.
func (w *Widget) handleChatResponse(resp *protocol.ChatResponse, transport string) {
	w.tracker.Update(resp.SessionID)

	if resp.Message != "" {
		w.appendEntry(session.OriginAssistant, resp.Message)
	}
	if resp.Actions != nil {
		w.executor.Apply(resp.Actions.ActionsTaken)
	}
	if resp.RequiresHuman {
		w.appendEntry(session.OriginAssistant, escalationNotice)
	}

	w.log.Log(convlog.Event{
		TenantID:  w.opts.TenantID,
		SessionID: w.tracker.Current(),
		Channel:   transport,
		Direction: "inbound",
		EventType: "assistant_message",
		Content:   resp.Message,
	})
}

func (w *Widget) appendEntry(origin session.Origin, text string) {
	e := w.transcript.Append(origin, text)
	if w.opts.OnEntry != nil {
		w.opts.OnEntry(e)
	}
}
