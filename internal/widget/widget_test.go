package widget

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bookline/assist-widget/internal/channel"
	"github.com/bookline/assist-widget/internal/protocol"
	"github.com/bookline/assist-widget/internal/session"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeConn struct {
	mu      sync.Mutex
	inbound chan []byte
	failure chan error
	writes  [][]byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		failure: make(chan error, 1),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-c.inbound:
		return data, nil
	case err := <-c.failure:
		return nil, err
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		select {
		case c.failure <- errors.New("connection closed"):
		default:
		}
	}
	return nil
}

func (c *fakeConn) lastWrite(t *testing.T) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		t.Fatal("expected at least one write")
	}
	var m map[string]any
	if err := json.Unmarshal(c.writes[len(c.writes)-1], &m); err != nil {
		t.Fatalf("decode written frame: %v", err)
	}
	return m
}

type fakeDialer struct {
	conn *fakeConn
}

func (d *fakeDialer) Dial(context.Context, string) (channel.Conn, error) {
	return d.conn, nil
}

// fallbackRecorder is an httptest assistant that records fallback requests.
type fallbackRecorder struct {
	mu       sync.Mutex
	requests []map[string]any
	respond  func() protocol.ChatResponse
	fail     bool
}

func (f *fallbackRecorder) server(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/api/v1/assistant/chat", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Errorf("decode fallback body: %v", err)
		}
		f.mu.Lock()
		f.requests = append(f.requests, body)
		fail := f.fail
		respond := f.respond
		f.mu.Unlock()
		if fail {
			http.Error(w, `{"error":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		resp := protocol.ChatResponse{Message: "fallback reply", SessionID: "S-fb"}
		if respond != nil {
			resp = respond()
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fallbackRecorder) recorded() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.requests...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newConnectedWidget(t *testing.T, conn *fakeConn, base string) *Widget {
	t.Helper()
	w := New(Options{
		TenantID:    "acme",
		BaseAddress: base,
		Dialer:      &fakeDialer{conn: conn},
	})
	t.Cleanup(w.Close)
	w.Open()
	waitFor(t, func() bool { return w.State() == channel.StateConnected }, "expected Connected")
	return w
}

func transcriptTexts(w *Widget) []string {
	var out []string
	for _, e := range w.Transcript() {
		out = append(out, e.Text)
	}
	return out
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestSendPrefersRealtime(t *testing.T) {
	t.Parallel()

	rec := &fallbackRecorder{}
	srv := rec.server(t)
	conn := newFakeConn()
	w := newConnectedWidget(t, conn, srv.URL)

	if err := w.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	frame := conn.lastWrite(t)
	if frame["type"] != "chat" || frame["message"] != "hello" {
		t.Fatalf("unexpected realtime frame: %v", frame)
	}
	if frame["session_id"] != nil {
		t.Fatalf("fresh conversation must send null session_id, got %v", frame["session_id"])
	}
	if got := rec.recorded(); len(got) != 0 {
		t.Fatalf("fallback must not be used while connected, got %v", got)
	}
}

func TestSendFallbackWhenDisconnected(t *testing.T) {
	t.Parallel()

	rec := &fallbackRecorder{}
	srv := rec.server(t)
	w := New(Options{TenantID: "acme", BaseAddress: srv.URL})
	defer w.Close()

	if err := w.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	reqs := rec.recorded()
	if len(reqs) != 1 {
		t.Fatalf("expected exactly one fallback call, got %d", len(reqs))
	}
	if _, present := reqs[0]["session_id"]; present {
		t.Fatalf("expected no session_id for a brand-new conversation, got %v", reqs[0]["session_id"])
	}
	if reqs[0]["company_id"] != "acme" {
		t.Fatalf("expected company_id acme, got %v", reqs[0]["company_id"])
	}

	texts := transcriptTexts(w)
	if len(texts) != 2 || texts[0] != "hello" || texts[1] != "fallback reply" {
		t.Fatalf("expected user turn then one fallback reply, got %v", texts)
	}
	if got := w.Session(); got != "S-fb" {
		t.Fatalf("expected session from fallback reply, got %q", got)
	}
}

func TestSessionPersistsAcrossTransportSwitch(t *testing.T) {
	t.Parallel()

	rec := &fallbackRecorder{}
	srv := rec.server(t)
	conn := newFakeConn()
	w := newConnectedWidget(t, conn, srv.URL)

	conn.inbound <- []byte(`{"type":"chat_response","message":"hi","session_id":"S1"}`)
	waitFor(t, func() bool { return w.Session() == "S1" }, "expected session S1")

	// Drop the channel, then send: the fallback call must carry S1.
	conn.failure <- errors.New("connection reset")
	waitFor(t, func() bool { return w.State() != channel.StateConnected }, "expected channel drop")

	if err := w.Send(context.Background(), "still there?"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	reqs := rec.recorded()
	if len(reqs) != 1 {
		t.Fatalf("expected one fallback call, got %d", len(reqs))
	}
	if reqs[0]["session_id"] != "S1" {
		t.Fatalf("fallback must carry the realtime session, got %v", reqs[0]["session_id"])
	}
}

func TestSessionNonRegression(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	w := newConnectedWidget(t, conn, "http://assist.invalid")

	conn.inbound <- []byte(`{"type":"chat_response","message":"hi","session_id":"S1"}`)
	waitFor(t, func() bool { return w.Session() == "S1" }, "expected session S1")

	conn.inbound <- []byte(`{"type":"chat_response","message":"again","session_id":""}`)
	waitFor(t, func() bool { return len(w.Transcript()) == 2 }, "expected second reply")

	if got := w.Session(); got != "S1" {
		t.Fatalf("empty session_id must not overwrite S1, got %q", got)
	}
}

func TestGracefulDecode(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	w := newConnectedWidget(t, conn, "http://assist.invalid")

	conn.inbound <- []byte("not json at all")
	conn.inbound <- []byte(`{"message":"json without type"}`)
	conn.inbound <- []byte(`{"type":"totally_new_frame","data":1}`)

	waitFor(t, func() bool { return len(w.Transcript()) == 2 }, "expected two plain-text entries")
	time.Sleep(20 * time.Millisecond)

	entries := w.Transcript()
	if len(entries) != 2 {
		t.Fatalf("unknown declared types must be ignored, got %d entries", len(entries))
	}
	if entries[0].Origin != session.OriginAssistant || entries[0].Text != "not json at all" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Text != `{"message":"json without type"}` {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}

func TestChatResponseActionsAndEscalation(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	w := newConnectedWidget(t, conn, "http://assist.invalid")

	conn.inbound <- []byte(`{
		"type": "chat_response",
		"message": "I can offer this slot",
		"session_id": "S1",
		"requires_human": true,
		"actions": {"actions_taken": [{
			"type": "calendar_check",
			"success": true,
			"available_slots": [{"datetime":"2025-01-01T10:00","display":"Jan 1, 10am","duration":"30m"}]
		}]}
	}`)

	waitFor(t, func() bool { return len(w.Transcript()) == 2 }, "expected reply and escalation notice")

	slots := w.OfferedSlots()
	if len(slots) != 1 || slots[0].Display != "Jan 1, 10am" {
		t.Fatalf("expected exactly one offerable slot, got %+v", slots)
	}
	texts := transcriptTexts(w)
	if texts[0] != "I can offer this slot" {
		t.Fatalf("unexpected reply text: %q", texts[0])
	}
	if texts[1] != escalationNotice {
		t.Fatalf("expected escalation notice, got %q", texts[1])
	}
}

func TestFallbackFailureSurfacesSingleNotice(t *testing.T) {
	t.Parallel()

	rec := &fallbackRecorder{fail: true}
	srv := rec.server(t)
	w := New(Options{TenantID: "acme", BaseAddress: srv.URL})
	defer w.Close()

	if err := w.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	texts := transcriptTexts(w)
	if len(texts) != 2 || texts[1] != troubleNotice {
		t.Fatalf("expected single trouble notice, got %v", texts)
	}

	// The failure is not retried automatically; the next user message is
	// what triggers the next attempt.
	if err := w.Send(context.Background(), "anyone?"); err != nil {
		t.Fatalf("second Send failed: %v", err)
	}
	if got := len(rec.recorded()); got != 2 {
		t.Fatalf("expected exactly 2 fallback calls, got %d", got)
	}
}

func TestErrorFrameSurfacesFixedNotice(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	w := newConnectedWidget(t, conn, "http://assist.invalid")

	conn.inbound <- []byte(`{"type":"error","message":"internal stack trace"}`)
	waitFor(t, func() bool { return len(w.Transcript()) == 1 }, "expected error notice")

	if got := w.Transcript()[0].Text; got != errorNotice {
		t.Fatalf("expected fixed error notice, got %q", got)
	}
}

func TestScheduleRequiresContactInfo(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	w := newConnectedWidget(t, conn, "http://assist.invalid")

	slot := protocol.Slot{Datetime: "2025-01-01T10:00", Display: "Jan 1"}
	err := w.Schedule(context.Background(), slot, protocol.CustomerInfo{Name: "Ada"})
	if !errors.Is(err, ErrContactInfoRequired) {
		t.Fatalf("expected ErrContactInfoRequired, got %v", err)
	}

	err = w.Schedule(context.Background(), slot, protocol.CustomerInfo{Name: "Ada", Phone: "555-0100"})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	frame := conn.lastWrite(t)
	if frame["type"] != "schedule" || frame["slot_datetime"] != "2025-01-01T10:00" {
		t.Fatalf("unexpected schedule frame: %v", frame)
	}
}

func TestScheduleNotConnected(t *testing.T) {
	t.Parallel()

	w := New(Options{TenantID: "acme", BaseAddress: "http://assist.invalid"})
	defer w.Close()

	slot := protocol.Slot{Datetime: "2025-01-01T10:00"}
	info := protocol.CustomerInfo{Name: "Ada", Phone: "555-0100"}
	if err := w.Schedule(context.Background(), slot, info); !errors.Is(err, channel.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSendValidation(t *testing.T) {
	t.Parallel()

	w := New(Options{TenantID: "acme", BaseAddress: "http://assist.invalid"})

	if err := w.Send(context.Background(), ""); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	w.Close()
	if err := w.Send(context.Background(), "hello"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestConnectedGreetingAppended(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	w := newConnectedWidget(t, conn, "http://assist.invalid")

	conn.inbound <- []byte(`{"type":"connected","message":"Hi! How can we help?"}`)
	waitFor(t, func() bool { return len(w.Transcript()) == 1 }, "expected greeting")

	if got := w.Transcript()[0].Text; got != "Hi! How can we help?" {
		t.Fatalf("unexpected greeting: %q", got)
	}
}
