package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	albon "github.com/coolguy916/Monitor-Framework-ALBON"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/protocol"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pingPeriod     = 54 * time.Second
)

// Client is one accepted connection: the transport socket plus the
// per-connection state the dispatcher and engines operate on.
type Client struct {
	id         string
	conn       *websocket.Conn
	remoteAddr string
	ctx        context.Context
	cancel     context.CancelFunc
	sendCh     chan []byte
	maxPayload int

	mu     sync.RWMutex
	closed bool

	identityMu   sync.RWMutex
	clientType   string
	capabilities []string

	authenticated atomic.Bool
	messageCount  atomic.Int64
	lastActivity  atomic.Int64
	lastHeartbeat atomic.Int64
	connectedAt   time.Time

	rateLimiter *rate.Limiter
}

// NewClient wraps an accepted transport socket. The connection starts with
// category "unknown" and an empty capability set until the handshake
// arrives.
func NewClient(conn *websocket.Conn, remoteAddr string, maxPayload int, rl *RateLimitConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if rl != nil && rl.Enabled {
		limiter = rate.NewLimiter(rl.MessagesPerSecond, rl.Burst)
	}

	c := &Client{
		id:          uuid.NewString(),
		conn:        conn,
		remoteAddr:  remoteAddr,
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan []byte, sendBufferSize),
		maxPayload:  maxPayload,
		clientType:  albon.ClientTypeUnknown,
		connectedAt: time.Now(),
		rateLimiter: limiter,
	}
	c.Touch()

	go c.writePump()

	return c
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

func (c *Client) Context() context.Context {
	return c.ctx
}

func (c *Client) ClientType() string {
	c.identityMu.RLock()
	defer c.identityMu.RUnlock()
	return c.clientType
}

func (c *Client) Capabilities() []string {
	c.identityMu.RLock()
	defer c.identityMu.RUnlock()

	out := make([]string, len(c.capabilities))
	copy(out, c.capabilities)
	return out
}

// setIdentity records the category and capability set declared in the
// handshake.
func (c *Client) setIdentity(clientType string, capabilities []string) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()

	if clientType != "" {
		c.clientType = clientType
	}
	c.capabilities = append([]string(nil), capabilities...)
}

func (c *Client) IsAuthenticated() bool {
	return c.authenticated.Load()
}

func (c *Client) setAuthenticated(v bool) {
	c.authenticated.Store(v)
}

// Touch records inbound activity for the heartbeat monitor.
func (c *Client) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Client) markHeartbeat() {
	c.lastHeartbeat.Store(time.Now().UnixNano())
}

func (c *Client) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

func (c *Client) ConnectedAt() time.Time {
	return c.connectedAt
}

func (c *Client) countMessage() int64 {
	return c.messageCount.Add(1)
}

func (c *Client) MessageCount() int64 {
	return c.messageCount.Load()
}

// Send encodes the envelope and queues it for delivery. Non-blocking until
// the send buffer fills; returns an error once the connection is closed.
func (c *Client) Send(ctx context.Context, msg *protocol.Message) error {
	data, err := protocol.Encode(msg, c.maxPayload)
	if err != nil {
		return err
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return albon.ErrConnectionClosed
	}

	// Keep the lock while queueing to prevent a race with Close.
	select {
	case c.sendCh <- data:
		c.mu.RUnlock()
		return nil
	case <-ctx.Done():
		c.mu.RUnlock()
		return ctx.Err()
	case <-c.ctx.Done():
		c.mu.RUnlock()
		return albon.ErrConnectionClosed
	}
}

// Close closes the connection with a normal-closure frame.
func (c *Client) Close(ctx context.Context) error {
	return c.CloseWithCode(ctx, websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the connection with a specific close code and
// optional reason.
func (c *Client) CloseWithCode(_ context.Context, code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.cancel()

	message := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, message, deadline)

	close(c.sendCh)
	return c.conn.Close()
}

func (c *Client) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// checkRateLimit reports whether the next inbound message is allowed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter == nil {
		return true
	}
	return c.rateLimiter.Allow()
}

// writePump pumps queued frames to the socket and keeps the transport
// alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) String() string {
	return fmt.Sprintf("client %s (%s)", c.id, c.remoteAddr)
}
