package channel

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// Conn is the narrow view of a realtime connection the manager needs.
// Other components never see the raw handle; they go through Manager.Send.
type Conn interface {
	// Read blocks until the next frame arrives or the connection fails.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one text frame.
	Write(ctx context.Context, data []byte) error
	// Close tears the connection down.
	Close() error
}

// Dialer opens a realtime connection to one candidate endpoint. The
// websocket implementation is the default; tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

const dialTimeout = 10 * time.Second

// wsDialer dials with github.com/coder/websocket.
type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	c, _, err := websocket.Dial(dialCtx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "widget closed")
}
