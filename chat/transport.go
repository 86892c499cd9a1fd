package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a single established bidirectional message channel.
type Conn interface {
	// Read blocks until the next inbound frame or a transport error.
	Read() ([]byte, error)
	// Write submits one outbound frame.
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Transport opens room connections. It is keyed by (roomID, token): the token
// authorizes exactly one room for one user and is consumed per dial.
type Transport interface {
	Dial(ctx context.Context, roomID, token string) (Conn, error)
}

// WSTransport dials the chat backend over websocket.
type WSTransport struct {
	// URL is the base ws:// or wss:// endpoint.
	URL          string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
}

// Dial opens a websocket to the chat endpoint with the room in the query
// string and the bearer token in the handshake headers.
func (t *WSTransport) Dial(ctx context.Context, roomID, token string) (Conn, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("parse chat ws url: %w", err)
	}
	q := u.Query()
	q.Set("room", roomID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	d := t.Dialer
	if d == nil {
		timeout := t.DialTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		d = &websocket.Dialer{HandshakeTimeout: timeout}
	}
	c, resp, err := d.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("websocket dial %s: %w", u.Host, err)
	}
	writeTimeout := t.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &wsConn{conn: c, writeTimeout: writeTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *wsConn) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(c.writeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	// Best-effort close handshake before dropping the socket.
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
