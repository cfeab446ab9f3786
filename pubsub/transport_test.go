package pubsub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// channelServer speaks just enough of the wire protocol to drive Transport.
type channelServer struct {
	mu       sync.Mutex
	received []wireFrame
	conns    []*websocket.Conn
	srv      *httptest.Server
}

func newChannelServer(t *testing.T) *channelServer {
	t.Helper()
	cs := &channelServer{}
	upgrader := websocket.Upgrader{}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		cs.mu.Lock()
		cs.conns = append(cs.conns, conn)
		cs.mu.Unlock()

		hello, _ := json.Marshal(map[string]string{"socket_id": "sock-7"})
		require.NoError(t, conn.WriteJSON(wireFrame{Event: eventConnectionEstablished, Data: hello}))

		for {
			var frame wireFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			cs.mu.Lock()
			cs.received = append(cs.received, frame)
			cs.mu.Unlock()
			if frame.Event == eventSubscribe {
				_ = conn.WriteJSON(wireFrame{Event: eventSubscriptionSucceeded})
			}
		}
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *channelServer) wsURL() string {
	return "ws" + strings.TrimPrefix(cs.srv.URL, "http")
}

// closeClientConnections drops every upgraded websocket connection.
// httptest's CloseClientConnections skips hijacked connections, so the
// server must close them itself to simulate going away.
func (cs *channelServer) closeClientConnections() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, c := range cs.conns {
		_ = c.Close()
	}
}

func (cs *channelServer) frames() []wireFrame {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]wireFrame(nil), cs.received...)
}

func TestTransport_ConnectCapturesSocketID(t *testing.T) {
	req := require.New(t)
	server := newChannelServer(t)
	transport := NewTransport(testLogger(), server.wsURL())
	defer transport.Close()

	socketID, err := transport.Connect(context.Background())

	req.NoError(err)
	req.Equal("sock-7", socketID)
	req.True(transport.Connected())

	// Connecting again reuses the live connection
	again, err := transport.Connect(context.Background())
	req.NoError(err)
	req.Equal("sock-7", again)
}

func TestTransport_SubscribeRoundTrip(t *testing.T) {
	req := require.New(t)
	server := newChannelServer(t)
	transport := NewTransport(testLogger(), server.wsURL())
	defer transport.Close()

	var mu sync.Mutex
	var events []string
	transport.Bind(func(event string, _ []byte) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	_, err := transport.Connect(context.Background())
	req.NoError(err)
	req.NoError(transport.Subscribe("vendor-channel.42", "auth-token"))

	// The subscribe frame reaches the server with channel and auth
	req.Eventually(func() bool { return len(server.frames()) == 1 },
		time.Second, time.Millisecond)
	frame := server.frames()[0]
	req.Equal(eventSubscribe, frame.Event)
	var payload map[string]string
	req.NoError(json.Unmarshal(frame.Data, &payload))
	req.Equal("vendor-channel.42", payload["channel"])
	req.Equal("auth-token", payload["auth"])

	// And the confirmation frame reaches the bound handler
	req.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == eventSubscriptionSucceeded {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestTransport_SubscribeBeforeConnectFails(t *testing.T) {
	req := require.New(t)
	transport := NewTransport(testLogger(), "ws://nowhere.invalid")

	err := transport.Subscribe("vendor-channel.42", "auth")

	req.Error(err)
}

func TestTransport_DisconnectSurfacesErrorEvent(t *testing.T) {
	req := require.New(t)
	server := newChannelServer(t)
	transport := NewTransport(testLogger(), server.wsURL())

	var mu sync.Mutex
	var events []string
	transport.Bind(func(event string, _ []byte) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})
	_, err := transport.Connect(context.Background())
	req.NoError(err)

	// When the server goes away
	server.closeClientConnections()

	// Then the handler learns about it and the transport reports offline
	req.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == eventError {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	req.False(transport.Connected())
}

func TestInitShared_IsIdempotent(t *testing.T) {
	req := require.New(t)
	ResetShared()
	t.Cleanup(ResetShared)

	a := InitShared(testLogger(), "ws://one")
	b := InitShared(testLogger(), "ws://two")

	// The second call must hand back the existing instance
	req.Same(a, b)

	ResetShared()
	c := InitShared(testLogger(), "ws://three")
	req.NotSame(a, c)
}
