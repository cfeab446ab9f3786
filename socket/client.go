// Package socket owns the raw per-tenant websocket: the connect/reconnect
// loop, frame normalization, and the local message buffer kept consistent
// with server-reported delivery status.
package socket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"console-realtime/contract"
	"console-realtime/domain"
	"console-realtime/fanout"
)

// keepAliveToken is the literal frame the backend sends between events.
const keepAliveToken = "ping"

const (
	DefaultReconnectDelay   = 3 * time.Second
	DefaultHeartbeatTimeout = 60 * time.Second
)

// Client maintains exactly one socket per tenant. It normalizes inbound
// frames into canonical messages, fans them out through the registry, and
// reconciles delivery-status events against its local buffer.
//
// One instance exists per mounted consumer surface; multiplexing belongs to
// the pubsub layer, not here.
type Client struct {
	log              *slog.Logger
	baseURL          string
	dial             contract.SocketDialer
	reconnectDelay   time.Duration
	heartbeatTimeout time.Duration
	now              func() time.Time

	sm       *domain.ConnectionStateMachine
	registry *fanout.Registry
	buffer   *Buffer

	mu              sync.Mutex
	conn            contract.SocketConn
	tenantID        string
	payloads        []domain.ContactEventPayload
	newMessageCount int
	keepAliveCount  int
	reconnectTimer  *time.Timer
	heartbeatTimer  *time.Timer
}

func NewClient(log *slog.Logger, baseURL string, registry *fanout.Registry) *Client {
	return &Client{
		log:              log,
		baseURL:          strings.TrimRight(baseURL, "/"),
		dial:             gorillaDial,
		reconnectDelay:   DefaultReconnectDelay,
		heartbeatTimeout: DefaultHeartbeatTimeout,
		now:              time.Now,
		sm:               domain.NewConnectionStateMachine(),
		registry:         registry,
		buffer:           NewBuffer(),
	}
}

func (c *Client) WithDialer(d contract.SocketDialer) *Client {
	c.dial = d
	return c
}

func (c *Client) WithReconnectDelay(d time.Duration) *Client {
	c.reconnectDelay = d
	return c
}

// WithHeartbeatTimeout sets the silence window after which the socket is
// cycled. Zero disables the heartbeat watchdog.
func (c *Client) WithHeartbeatTimeout(d time.Duration) *Client {
	c.heartbeatTimeout = d
	return c
}

func gorillaDial(ctx context.Context, url string) (contract.SocketConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Connect opens the socket for tenantID. It is idempotent: while a
// connection attempt is in flight or a socket is open, later calls are
// no-ops. Dial failures route into the same fixed-delay reconnect path as a
// dropped connection.
func (c *Client) Connect(ctx context.Context, tenantID string) {
	c.mu.Lock()
	if c.sm.TornDown() {
		c.mu.Unlock()
		return
	}
	if st := c.sm.State(); st == domain.StateConnecting || st == domain.StateOpen {
		c.mu.Unlock()
		return
	}
	c.tenantID = tenantID
	c.sm.Transition(domain.StateConnecting)
	c.mu.Unlock()

	go c.dialAndRead(ctx, tenantID)
}

func (c *Client) dialAndRead(ctx context.Context, tenantID string) {
	url := fmt.Sprintf("%s/ws/%s", c.baseURL, tenantID)
	conn, err := c.dial(ctx, url)
	if err != nil {
		c.log.Warn("Socket dial failed", "url", url, "err", err)
		c.handleDisconnect(ctx, domain.StateError)
		return
	}

	c.mu.Lock()
	if c.sm.TornDown() {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.sm.Transition(domain.StateOpen)
	c.resetHeartbeatLocked()
	c.mu.Unlock()
	c.log.Info("Socket open", "tenant", tenantID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.sm.TornDown() {
				return
			}
			c.log.Warn("Socket read failed", "tenant", tenantID, "err", err)
			c.handleDisconnect(ctx, domain.StateClosed)
			return
		}
		c.handleFrame(data)
	}
}

// handleDisconnect records the terminal state of the current connection and
// schedules a single reconnect attempt. A new timer is never armed while one
// is already pending, and never after teardown.
func (c *Client) handleDisconnect(ctx context.Context, to domain.ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sm.Transition(to)
	c.conn = nil
	c.stopHeartbeatLocked()

	if c.sm.TornDown() || c.reconnectTimer != nil {
		return
	}
	tenantID := c.tenantID
	c.reconnectTimer = time.AfterFunc(c.reconnectDelay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		tornDown := c.sm.TornDown()
		c.mu.Unlock()
		if tornDown || ctx.Err() != nil {
			return
		}
		c.Connect(ctx, tenantID)
	})
}

// resetHeartbeatLocked re-arms the silence watchdog. Firing closes the
// connection, which surfaces as a read error and runs the normal reconnect
// path. Caller holds c.mu.
func (c *Client) resetHeartbeatLocked() {
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
	if c.heartbeatTimeout <= 0 {
		return
	}
	conn := c.conn
	tenantID := c.tenantID
	c.heartbeatTimer = time.AfterFunc(c.heartbeatTimeout, func() {
		if c.sm.TornDown() {
			return
		}
		c.log.Warn("Heartbeat window elapsed, cycling socket", "tenant", tenantID)
		if conn != nil {
			_ = conn.Close()
		}
	})
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
}

// handleFrame processes one inbound frame. Malformed frames are logged and
// swallowed; they never affect connection state.
func (c *Client) handleFrame(data []byte) {
	c.mu.Lock()
	c.resetHeartbeatLocked()
	c.mu.Unlock()

	if string(bytes.TrimSpace(data)) == keepAliveToken {
		c.mu.Lock()
		c.keepAliveCount++
		c.mu.Unlock()
		return
	}

	var frame rawFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.log.Debug("Discarding malformed frame", "err", err)
		return
	}

	switch frame.Event {
	case eventMessageIncoming, eventMessageOutgoing:
		var p rawMessagePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			c.log.Debug("Discarding malformed message payload", "err", err)
			return
		}
		payload := hydrate(frame.Event, p, c.now)
		c.buffer.Append(payload.Message)
		c.mu.Lock()
		c.payloads = append(c.payloads, payload)
		if frame.Event == eventMessageIncoming {
			c.newMessageCount++
		}
		c.mu.Unlock()
		c.registry.NotifyNewMessage(payload)

	case eventMessageStatus:
		var s rawStatus
		if err := json.Unmarshal(frame.Data, &s); err != nil {
			c.log.Debug("Discarding malformed status payload", "err", err)
			return
		}
		evt := domain.StatusEvent{
			MessageID: s.MessageID,
			Status:    domain.MessageStatus(s.Status),
			Timestamp: s.Timestamp,
		}
		if !c.buffer.Reconcile(evt.MessageID, evt.Status) {
			c.log.Debug("Status event matched no buffered message", "message_id", evt.MessageID)
		}
		c.registry.NotifyMessageStatus(evt)

	default:
		c.log.Debug("Ignoring unknown frame event", "event", frame.Event)
	}
}

// Teardown cancels the pending reconnect and heartbeat timers, closes the
// socket, and suppresses every further reconnect attempt.
func (c *Client) Teardown() {
	c.sm.Teardown()
	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Status returns the current connection state.
func (c *Client) Status() domain.ConnectionState {
	return c.sm.State()
}

// Messages returns a copy of the buffered messages in arrival order.
func (c *Client) Messages() []domain.Message {
	return c.buffer.Snapshot()
}

// Payloads returns the running payload history, for subscribers that attach
// after events already arrived.
func (c *Client) Payloads() []domain.ContactEventPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ContactEventPayload(nil), c.payloads...)
}

func (c *Client) NewMessageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newMessageCount
}

func (c *Client) ClearNewMessageCount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.newMessageCount = 0
}

// KeepAliveCount reports how many keep-alive tokens arrived on the current
// process lifetime.
func (c *Client) KeepAliveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAliveCount
}

// UpdateMessageStatus applies a status change by hand, through the same
// tiered reconciliation used for server events.
func (c *Client) UpdateMessageStatus(messageID string, status domain.MessageStatus) bool {
	return c.buffer.Reconcile(messageID, status)
}

// TrackOutgoing appends an optimistic outgoing message with a generated
// temporary id and the provisional upload flag. Reconciliation later adopts
// the server-assigned id for it.
func (c *Client) TrackOutgoing(to, content string) domain.Message {
	m := domain.Message{
		ID:        domain.NewTempID(),
		Direction: domain.DirectionOutgoing,
		To:        to,
		Content:   content,
		Status:    domain.StatusPending,
		Timestamp: domain.NormalizeTimestamp("", c.now),
		Metadata:  domain.Metadata{domain.MetaIsUploading: true},
	}
	c.buffer.Append(m)
	return m
}
