// Package channel owns the realtime connection lifecycle: candidate
// cycling, reconnection policy, and the liveness probe. At most one
// realtime connection is open at any time, and only the Manager ever
// mutates the connection handle or the connection state.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bookline/assist-widget/internal/endpoint"
	"github.com/bookline/assist-widget/internal/protocol"
)

// State is the connection state of the realtime channel.
type State string

const (
	// StateDisconnected means no connection exists and none is being attempted.
	StateDisconnected State = "disconnected"
	// StateConnecting means an attempt cycle is in progress or a retry is scheduled.
	StateConnecting State = "connecting"
	// StateConnected means a realtime connection is open.
	StateConnected State = "connected"
)

// ErrNotConnected is returned by Send when no realtime connection is open.
// Callers fall back to the stateless transport on this error.
var ErrNotConnected = errors.New("realtime channel not connected")

var errPongTimeout = errors.New("no pong received within timeout")

const (
	defaultRetryDelay   = 3 * time.Second
	defaultPingInterval = 30 * time.Second
)

// Options configures a Manager. TenantID and BaseAddress are required; all
// other fields have working defaults.
type Options struct {
	TenantID    string
	BaseAddress string

	// RetryDelay is the pause between full attempt cycles. Failures within
	// a cycle advance to the next candidate immediately.
	RetryDelay time.Duration

	// PingInterval is how often the liveness probe is sent while connected.
	PingInterval time.Duration

	// PongTimeout drops the connection when no pong has arrived for this
	// long. Zero selects twice the ping interval; negative disables the
	// check entirely.
	PongTimeout time.Duration

	Dialer Dialer
	Clock  Clock

	// OnFrame receives every inbound frame in arrival order.
	OnFrame func(data []byte)

	// OnStateChange, when set, is notified of every state transition.
	OnStateChange func(State)
}

// Manager runs the connection state machine. All mutable connection state
// is guarded by mu; in-flight attempts and timers are tagged with a
// generation counter so callbacks from abandoned attempts are discarded.
type Manager struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	closed     bool
	generation uint64
	conn       Conn
	endpoint   string
	cursor     int
	retryTimer Timer
	pingTimer  Timer
	lastPong   time.Time

	writeMu sync.Mutex
}

// NewManager creates a manager in the Disconnected state.
func NewManager(opts Options) *Manager {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PongTimeout == 0 {
		opts.PongTimeout = 2 * opts.PingInterval
	}
	if opts.Dialer == nil {
		opts.Dialer = wsDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		state:  StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open starts the attempt cycle. It is idempotent: calling it while already
// connecting or connected does nothing, so no second connection can ever be
// created.
func (m *Manager) Open() {
	m.mu.Lock()
	if m.closed || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	gen := m.generation
	m.mu.Unlock()

	m.notify(StateConnecting)
	go m.runCycle(gen)
}

// Send marshals v and writes it on the open connection. It returns
// ErrNotConnected when no connection is open; it never queues.
func (m *Manager) Send(ctx context.Context, v any) error {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.Write(ctx, data)
}

// Close tears the channel down terminally: the open connection is closed,
// every pending timer is cancelled, and no further attempt will be
// scheduled. Close is idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.generation++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.pingTimer != nil {
		m.pingTimer.Stop()
		m.pingTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	m.cancel()
	if conn != nil {
		if err := conn.Close(); err != nil {
			slog.Debug("closing realtime connection", "error", err)
		}
	}
	m.notify(StateDisconnected)
	slog.Info("realtime channel closed")
}

// runCycle tries every candidate endpoint in order. Failures advance to the
// next candidate without delay; only exhausting the whole cycle schedules a
// delayed retry. The candidate list is resolved fresh for each cycle and
// never mutated while the cycle runs.
func (m *Manager) runCycle(gen uint64) {
	candidates := endpoint.Resolve(m.opts.TenantID, m.opts.BaseAddress)

	for i, ep := range candidates {
		m.mu.Lock()
		if m.closed || gen != m.generation {
			m.mu.Unlock()
			return
		}
		m.cursor = i
		m.mu.Unlock()

		conn, err := m.opts.Dialer.Dial(m.ctx, ep)
		if err != nil {
			slog.Debug("realtime attempt failed", "endpoint", ep, "error", err)
			continue
		}

		if m.bind(gen, conn, ep) {
			return
		}
		// The attempt was abandoned while the dial was in flight.
		if err := conn.Close(); err != nil {
			slog.Debug("closing abandoned connection", "error", err)
		}
		return
	}

	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.cursor = 0
	m.retryTimer = m.opts.Clock.AfterFunc(m.opts.RetryDelay, func() { m.retryFired(gen) })
	m.mu.Unlock()
	slog.Warn("all realtime endpoints failed, retry scheduled",
		"candidates", len(candidates),
		"delay", m.opts.RetryDelay,
	)
}

func (m *Manager) retryFired(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	m.mu.Unlock()
	m.runCycle(gen)
}

// bind installs conn as the active connection, resets the cursor so a later
// drop retries the most-specific candidate first, and starts the liveness
// lease and the read loop. It reports false if the attempt went stale.
func (m *Manager) bind(gen uint64, conn Conn, ep string) bool {
	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	m.endpoint = ep
	m.state = StateConnected
	m.cursor = 0
	m.lastPong = m.opts.Clock.Now()
	m.pingTimer = m.opts.Clock.AfterFunc(m.opts.PingInterval, func() { m.pingTick(gen) })
	m.mu.Unlock()

	m.notify(StateConnected)
	slog.Info("realtime channel connected", "endpoint", ep)
	go m.readLoop(gen, conn)
	return true
}

// readLoop delivers frames in arrival order until the connection fails.
func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.Read(m.ctx)
		if err != nil {
			m.handleDrop(gen, err)
			return
		}
		if f, derr := protocol.DecodeFrame(data); derr == nil && f.Type == protocol.TypePong {
			m.pongReceived(gen)
		}
		if m.opts.OnFrame != nil {
			m.opts.OnFrame(data)
		}
	}
}

func (m *Manager) pongReceived(gen uint64) {
	m.mu.Lock()
	if gen == m.generation {
		m.lastPong = m.opts.Clock.Now()
	}
	m.mu.Unlock()
}

// pingTick sends one liveness probe and reschedules itself. The lease ends
// the moment the generation moves on, so no probe can fire against a
// connection that has been torn down.
func (m *Manager) pingTick(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.generation || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	ep := m.endpoint
	if m.opts.PongTimeout > 0 && m.opts.Clock.Now().Sub(m.lastPong) > m.opts.PongTimeout {
		m.mu.Unlock()
		slog.Warn("pong overdue, dropping realtime channel", "endpoint", ep)
		m.handleDrop(gen, errPongTimeout)
		return
	}
	m.pingTimer = m.opts.Clock.AfterFunc(m.opts.PingInterval, func() { m.pingTick(gen) })
	m.mu.Unlock()

	data, err := json.Marshal(protocol.PingMessage{Type: protocol.TypePing})
	if err != nil {
		return
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.Write(m.ctx, data); err != nil {
		// The read loop observes the same failure and handles the drop.
		slog.Debug("liveness ping failed", "error", err)
	}
}

// handleDrop reacts to the loss of an established connection: unless the
// drop belongs to an abandoned generation, it schedules a fresh attempt
// cycle starting from the most-specific candidate after the retry delay.
func (m *Manager) handleDrop(gen uint64, cause error) {
	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.generation++
	newGen := m.generation
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			slog.Debug("closing dropped connection", "error", err)
		}
		m.conn = nil
	}
	if m.pingTimer != nil {
		m.pingTimer.Stop()
		m.pingTimer = nil
	}
	ep := m.endpoint
	m.endpoint = ""
	m.state = StateConnecting
	m.cursor = 0
	m.retryTimer = m.opts.Clock.AfterFunc(m.opts.RetryDelay, func() { m.retryFired(newGen) })
	m.mu.Unlock()

	m.notify(StateConnecting)
	slog.Warn("realtime channel lost, retry scheduled",
		"endpoint", ep,
		"error", cause,
		"delay", m.opts.RetryDelay,
	)
}

func (m *Manager) notify(s State) {
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(s)
	}
}
