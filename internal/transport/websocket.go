package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// WebSocketDialer dials websocket connections using gobwas/ws.
type WebSocketDialer struct{}

// Dial implements Dialer.
func (WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &wsConn{conn: conn}, nil
}

// wsConn carries frames as websocket text messages over a gobwas/ws client
// connection.
type wsConn struct {
	conn    net.Conn
	writeMu sync.Mutex
}

// Read blocks on the underlying connection; Close unblocks it. The context
// is not consulted mid-read.
func (c *wsConn) Read(_ context.Context) ([]byte, error) {
	return wsutil.ReadServerText(c.conn)
}

func (c *wsConn) Write(_ context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientText(c.conn, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, nil)
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
