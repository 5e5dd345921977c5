package convlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bookline/assist-widget/internal/shared"
)

// SQLiteLogger persists conversation events to a local SQLite database.
// Writes go through a bounded queue drained by a single goroutine so the
// send paths never wait on disk; when the queue is full, events are dropped
// with a warning rather than blocking.
type SQLiteLogger struct {
	db      *sql.DB
	queue   chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// NewSQLite opens (or creates) the conversation log database at dbPath.
func NewSQLite(dbPath string, queueSize int) (*SQLiteLogger, error) {
	if queueSize <= 0 {
		queueSize = 1000
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create conversation log directory: %w", err)
	}

	// WAL mode keeps the single writer from blocking readers.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open conversation log database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping conversation log database: %w", err)
	}

	l := &SQLiteLogger{
		db:    db,
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
	if err := l.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize conversation log schema: %w", err)
	}

	l.wg.Add(1)
	go l.drain()

	return l, nil
}

func (l *SQLiteLogger) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversation_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		session_id TEXT,
		turn_id TEXT,
		channel TEXT NOT NULL,
		direction TEXT NOT NULL,
		event_type TEXT NOT NULL,
		content TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_session ON conversation_events(session_id);
	`
	if _, err := l.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Log enqueues one event. It never blocks; a full queue drops the event.
func (l *SQLiteLogger) Log(e Event) {
	select {
	case l.queue <- e.Stamp():
	case <-l.done:
	default:
		slog.Warn("conversation log queue full, dropping event",
			"event_type", e.EventType,
			"session_id", e.SessionID,
		)
	}
}

func (l *SQLiteLogger) drain() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.queue:
			l.write(e)
		case <-l.done:
			// Flush whatever is still queued.
			for {
				select {
				case e := <-l.queue:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

func (l *SQLiteLogger) write(e Event) {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		_, err = l.db.Exec(
			`INSERT INTO conversation_events
			 (ts, tenant_id, session_id, turn_id, channel, direction, event_type, content)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Timestamp, e.TenantID, e.SessionID, e.TurnID, e.Channel, e.Direction, e.EventType, e.Content,
		)
		if err == nil || !shared.IsSQLiteConflictError(err) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	if err != nil {
		slog.Warn("failed to write conversation event", "error", err, "event_type", e.EventType)
	}
}

// Recent returns up to limit events for a session, oldest first.
func (l *SQLiteLogger) Recent(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT ts, tenant_id, session_id, turn_id, channel, direction, event_type, content
		 FROM conversation_events WHERE session_id = ? ORDER BY id LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversation events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Debug("closing conversation event rows", "error", closeErr)
		}
	}()

	var out []Event
	for rows.Next() {
		var e Event
		var sessionID, turnID, content sql.NullString
		if err := rows.Scan(&e.Timestamp, &e.TenantID, &sessionID, &turnID, &e.Channel, &e.Direction, &e.EventType, &content); err != nil {
			return nil, fmt.Errorf("scan conversation event: %w", err)
		}
		e.SessionID = sessionID.String
		e.TurnID = turnID.String
		e.Content = content.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation events: %w", err)
	}
	return out, nil
}

// Close stops the drain goroutine, flushes the queue, and closes the
// database. Safe to call more than once.
func (l *SQLiteLogger) Close() error {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	l.closeMu.Unlock()

	l.wg.Wait()
	return l.db.Close()
}
