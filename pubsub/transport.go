// Package pubsub carries the shared authenticated channel: a single
// transport connection per process, multiplexed to any number of consumers.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"console-realtime/contract"
	"console-realtime/domain"
	errs "console-realtime/errors"
)

// Wire events of the channel protocol (Pusher-compatible subset).
const (
	eventConnectionEstablished = "pusher:connection_established"
	eventSubscribe             = "pusher:subscribe"
	eventUnsubscribe           = "pusher:unsubscribe"
	eventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	eventSubscriptionError     = "pusher:subscription_error"
	eventError                 = "pusher:error"

	// EventVendorUpdated is the single application broadcast event carried
	// on the tenant channel.
	EventVendorUpdated = "vendor.updated"
)

type wireFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Transport is the low-level channel connection. It dials once, captures the
// server-assigned socket id from the handshake frame, and forwards every
// later frame to the bound handler. It does not reconnect by itself;
// reconnection after a disconnect is the owner's call (typically following a
// credential refresh).
type Transport struct {
	log *slog.Logger
	url string
	sm  *domain.ConnectionStateMachine

	mu       sync.Mutex
	conn     *websocket.Conn
	socketID string
	handler  func(event string, data []byte)

	wmu sync.Mutex // serializes writes to conn
}

func NewTransport(log *slog.Logger, url string) *Transport {
	return &Transport{
		log: log,
		url: url,
		sm:  domain.NewConnectionStateMachine(),
	}
}

// Bind installs the frame handler, replacing any previous one.
func (t *Transport) Bind(handler func(event string, data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Connect dials the channel endpoint and waits for the handshake frame
// announcing the socket id. Calling Connect on an already-connected
// transport returns the existing socket id.
func (t *Transport) Connect(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.conn != nil {
		id := t.socketID
		t.mu.Unlock()
		return id, nil
	}
	t.mu.Unlock()

	t.sm.Transition(domain.StateConnecting)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		t.sm.Transition(domain.StateError)
		return "", fmt.Errorf("channel dial: %w", err)
	}

	var frame wireFrame
	if err := conn.ReadJSON(&frame); err != nil {
		_ = conn.Close()
		t.sm.Transition(domain.StateError)
		return "", fmt.Errorf("channel handshake: %w", err)
	}
	if frame.Event != eventConnectionEstablished {
		_ = conn.Close()
		t.sm.Transition(domain.StateError)
		return "", fmt.Errorf("channel handshake: unexpected event %q", frame.Event)
	}
	var hello struct {
		SocketID string `json:"socket_id"`
	}
	if err := json.Unmarshal(frame.Data, &hello); err != nil || hello.SocketID == "" {
		_ = conn.Close()
		t.sm.Transition(domain.StateError)
		return "", fmt.Errorf("channel handshake: missing socket id")
	}

	t.mu.Lock()
	t.conn = conn
	t.socketID = hello.SocketID
	t.mu.Unlock()
	t.sm.Transition(domain.StateOpen)
	t.log.Info("Channel transport connected", "socket_id", hello.SocketID)

	go t.readLoop(conn)
	return hello.SocketID, nil
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		var frame wireFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if t.sm.TornDown() {
				return
			}
			t.log.Warn("Channel transport read failed", "err", err)
			t.sm.Transition(domain.StateClosed)
			t.mu.Lock()
			t.conn = nil
			t.socketID = ""
			t.mu.Unlock()
			t.dispatch(eventError, nil)
			return
		}
		t.dispatch(frame.Event, frame.Data)
	}
}

func (t *Transport) dispatch(event string, data []byte) {
	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	if handler != nil {
		handler(event, data)
	}
}

func (t *Transport) write(frame wireFrame) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errs.ErrNotConnected
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return conn.WriteJSON(frame)
}

// Subscribe joins an authorized private channel.
func (t *Transport) Subscribe(channel, authToken string) error {
	data, _ := json.Marshal(map[string]string{"channel": channel, "auth": authToken})
	return t.write(wireFrame{Event: eventSubscribe, Data: data})
}

// Unsubscribe leaves a channel. Failing to tell a dead connection is fine.
func (t *Transport) Unsubscribe(channel string) error {
	data, _ := json.Marshal(map[string]string{"channel": channel})
	return t.write(wireFrame{Event: eventUnsubscribe, Data: data})
}

func (t *Transport) Connected() bool {
	return t.sm.State() == domain.StateOpen
}

func (t *Transport) Close() error {
	t.sm.Teardown()
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.socketID = ""
	t.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

var _ contract.PubSubTransport = (*Transport)(nil)

var (
	sharedMu sync.Mutex
	shared   *Transport
)

// InitShared returns the process-wide transport, creating it on first call.
// A second call while an instance exists returns that instance unchanged,
// so no orphaned duplicate socket can appear.
func InitShared(log *slog.Logger, url string) *Transport {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		shared = NewTransport(log, url)
	}
	return shared
}

// ResetShared closes and drops the shared transport so the next InitShared
// builds a fresh one, e.g. after a credential rotation.
func ResetShared() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared != nil {
		_ = shared.Close()
		shared = nil
	}
}
