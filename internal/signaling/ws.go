package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/pairline/internal/util"
)

const writeTimeout = 10 * time.Second

// WSClient is the gorilla/websocket implementation of Client. It talks to a
// relay exposing GET /ws/:sessionId?peer=<id>&name=<display name>.
type WSClient struct {
	baseURL string
	dialer  *websocket.Dialer

	mu      sync.Mutex // guards conn writes and the fields below
	conn    *websocket.Conn
	self    string
	handler func(Message)
	closed  bool

	done chan struct{}
}

// NewWSClient returns a client for the relay at baseURL (ws:// or wss://).
func NewWSClient(baseURL string) *WSClient {
	return &WSClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer:  websocket.DefaultDialer,
		done:    make(chan struct{}),
	}
}

// Endpoint returns the relay URL a peer described by info dials.
func Endpoint(baseURL string, info PeerInfo) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid signaling URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid signaling URL scheme %q", u.Scheme)
	}

	u.Path += "/ws/" + url.PathEscape(info.SessionID)
	q := u.Query()
	q.Set("peer", info.PeerID)
	if info.DisplayName != "" {
		q.Set("name", info.DisplayName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the relay and starts the read loop. Messages received before
// OnMessage is called are dropped.
func (c *WSClient) Connect(ctx context.Context, info PeerInfo) error {
	endpoint, err := Endpoint(c.baseURL, info)
	if err != nil {
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to signaling relay: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	}
	c.conn = conn
	c.self = info.PeerID
	c.mu.Unlock()

	util.LogDebug("signaling connected: %s", endpoint)
	go c.watch(conn)
	return nil
}

// OnMessage registers the inbound message callback.
func (c *WSClient) OnMessage(fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

// Send writes one message, guarded by a mutex. The context deadline, if any,
// bounds the write.
func (c *WSClient) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.closed {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)

	if msg.From == "" {
		msg.From = c.self
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

// Disconnect closes the connection. Safe to call more than once.
func (c *WSClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	if c.conn == nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"))
	return errors.Join(err, c.conn.Close())
}

// Done is closed once Disconnect has been called.
func (c *WSClient) Done() <-chan struct{} {
	return c.done
}

// watch is the read loop. It exits when the connection is closed.
func (c *WSClient) watch(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				util.LogWarning("signaling read failed: %v", err)
			}
			return
		}

		c.mu.Lock()
		fn := c.handler
		c.mu.Unlock()

		if fn != nil {
			fn(msg)
		}
	}
}
