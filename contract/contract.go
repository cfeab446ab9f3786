package contract

import (
	"console-realtime/domain"
	"context"
)

// Callbacks is one subscriber's bundle of event handlers. Any field may be
// nil; the registry only invokes the handlers a subscriber defined.
type Callbacks struct {
	OnNewMessage      func(domain.ContactEventPayload)
	OnContactUpdated  func(domain.ContactSummary)
	OnMessageStatus   func(domain.StatusEvent)
	OnVendorBroadcast func(domain.VendorBroadcast)
	OnConnected       func()
	OnError           func(error)
}

// AuthBridge supplies the bearer credential and tenant/vendor id used both
// as the socket URL parameter and as the channel authorization header.
// Both getters are synchronous and may return empty strings.
type AuthBridge interface {
	BearerToken() string
	VendorID() string
}

// SocketConn is the minimal surface of a raw websocket connection the
// socket client needs.
type SocketConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// SocketDialer opens a raw socket to url.
type SocketDialer func(ctx context.Context, url string) (SocketConn, error)

// PubSubTransport is the shared channel transport the multiplexer drives.
// Exactly one instance exists per process; the multiplexer never constructs
// one itself.
type PubSubTransport interface {
	// Connect establishes the transport connection and returns the
	// server-assigned socket id used by the authorization handshake.
	Connect(ctx context.Context) (socketID string, err error)
	// Bind installs the handler receiving every transport event. The
	// handler replaces any previous one.
	Bind(handler func(event string, data []byte))
	// Subscribe joins an authorized private channel.
	Subscribe(channel, authToken string) error
	// Unsubscribe leaves a channel previously joined.
	Unsubscribe(channel string) error
	Connected() bool
	Close() error
}

// ChannelAuthorizer exchanges a socket id and channel name for a signed
// authorization token.
type ChannelAuthorizer interface {
	Authorize(ctx context.Context, socketID, channel string) (string, error)
}
