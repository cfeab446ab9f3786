package pubsub

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"console-realtime/contract"
	"console-realtime/domain"
	errs "console-realtime/errors"
	"console-realtime/fanout"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTransport struct {
	mu           sync.Mutex
	handler      func(string, []byte)
	connectCalls int
	subscribed   []string
	authTokens   []string
	unsubscribed []string

	// optional hooks to freeze a Subscribe in flight
	subscribeEntered chan struct{}
	subscribeGate    chan struct{}
}

func (f *fakeTransport) Connect(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return "sock-1", nil
}

func (f *fakeTransport) Bind(h func(string, []byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeTransport) Subscribe(channel, authToken string) error {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, channel)
	f.authTokens = append(f.authTokens, authToken)
	entered, gate := f.subscribeEntered, f.subscribeGate
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return nil
}

func (f *fakeTransport) Unsubscribe(channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, channel)
	return nil
}

func (f *fakeTransport) Connected() bool { return true }
func (f *fakeTransport) Close() error    { return nil }

func (f *fakeTransport) emit(event string, data []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(event, data)
	}
}

func (f *fakeTransport) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribed)
}

func (f *fakeTransport) unsubscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unsubscribed)
}

// gateAuthorizer blocks Authorize until released, to model a slow handshake.
type gateAuthorizer struct {
	gate chan struct{}
}

func (g *gateAuthorizer) Authorize(context.Context, string, string) (string, error) {
	if g.gate != nil {
		<-g.gate
	}
	return "auth-ok", nil
}

type failingAuthorizer struct{ err error }

func (f *failingAuthorizer) Authorize(context.Context, string, string) (string, error) {
	return "", f.err
}

func newTestMux(transport contract.PubSubTransport, authorizer contract.ChannelAuthorizer) (*Multiplexer, *fanout.Registry) {
	registry := fanout.NewRegistry(testLogger())
	return NewMultiplexer(testLogger(), registry, transport, authorizer), registry
}

func TestMultiplexer_SingleSubscriptionPerTenant(t *testing.T) {
	req := require.New(t)
	transport := &fakeTransport{}
	mux, registry := newTestMux(transport, &gateAuthorizer{})

	var mu sync.Mutex
	connectedA, connectedB := 0, 0

	// Given one subscriber triggering the channel open
	unsubA := mux.Subscribe(context.Background(), "42", contract.Callbacks{
		OnConnected: func() { mu.Lock(); connectedA++; mu.Unlock() },
	})
	req.Eventually(func() bool { return transport.subscribeCount() == 1 },
		time.Second, time.Millisecond)
	transport.mu.Lock()
	req.Equal("vendor-channel.42", transport.subscribed[0])
	req.Equal("auth-ok", transport.authTokens[0])
	transport.mu.Unlock()

	transport.emit(eventSubscriptionSucceeded, nil)
	mu.Lock()
	req.Equal(1, connectedA)
	mu.Unlock()
	req.True(mux.Subscribed())

	// When a second consumer subscribes the same tenant
	unsubB := mux.Subscribe(context.Background(), "42", contract.Callbacks{
		OnConnected: func() { mu.Lock(); connectedB++; mu.Unlock() },
	})

	// Then no second channel opens and the late registrant is replayed
	req.Equal(1, transport.subscribeCount())
	req.Equal(2, registry.Size())
	mu.Lock()
	req.Equal(1, connectedB)
	req.Equal(1, connectedA) // replay reaches the newcomer only
	mu.Unlock()

	unsubA()
	unsubB()
}

func TestMultiplexer_FanOutDeliversToAllSubscribers(t *testing.T) {
	req := require.New(t)
	transport := &fakeTransport{}
	mux, _ := newTestMux(transport, &gateAuthorizer{})

	var mu sync.Mutex
	received := 0
	for i := 0; i < 3; i++ {
		defer mux.Subscribe(context.Background(), "42", contract.Callbacks{
			OnNewMessage: func(domain.ContactEventPayload) {
				mu.Lock()
				received++
				mu.Unlock()
			},
		})()
	}
	req.Eventually(func() bool { return transport.subscribeCount() == 1 },
		time.Second, time.Millisecond)
	transport.emit(eventSubscriptionSucceeded, nil)

	// When a single broadcast arrives
	transport.emit(EventVendorUpdated,
		[]byte(`{"message":{"id":"m1"},"contact":{"id":"c1"}}`))

	// Then every subscriber saw it exactly once
	mu.Lock()
	req.Equal(3, received)
	mu.Unlock()
}

func TestMultiplexer_EnvelopeDispatch(t *testing.T) {
	req := require.New(t)
	transport := &fakeTransport{}
	mux, _ := newTestMux(transport, &gateAuthorizer{})

	var mu sync.Mutex
	var vendor *domain.VendorBroadcast
	var contact *domain.ContactSummary
	var status *domain.StatusEvent
	defer mux.Subscribe(context.Background(), "42", contract.Callbacks{
		OnVendorBroadcast: func(b domain.VendorBroadcast) { mu.Lock(); vendor = &b; mu.Unlock() },
		OnContactUpdated:  func(c domain.ContactSummary) { mu.Lock(); contact = &c; mu.Unlock() },
		OnMessageStatus:   func(e domain.StatusEvent) { mu.Lock(); status = &e; mu.Unlock() },
	})()
	req.Eventually(func() bool { return transport.subscribeCount() == 1 },
		time.Second, time.Millisecond)
	transport.emit(eventSubscriptionSucceeded, nil)

	transport.emit(EventVendorUpdated, []byte(`{"contactUid":"c-7","isNewIncomingMessage":true}`))
	transport.emit(EventVendorUpdated, []byte(`{"contact":{"id":"c1"}}`))
	transport.emit(EventVendorUpdated, []byte(`{"message":{"id":"m1","status":"read"}}`))

	mu.Lock()
	defer mu.Unlock()
	req.NotNil(vendor)
	req.Equal("c-7", vendor.ContactUID)
	req.NotNil(contact)
	req.Equal("c1", contact.ID)
	req.NotNil(status)
	req.Equal(domain.StatusRead, status.Status)
}

func TestMultiplexer_AuthFailureSurfacesAsCallback(t *testing.T) {
	req := require.New(t)
	transport := &fakeTransport{}
	mux, _ := newTestMux(transport, &failingAuthorizer{err: errs.ErrChannelAuthDenied})

	var mu sync.Mutex
	var got error
	defer mux.Subscribe(context.Background(), "42", contract.Callbacks{
		OnError: func(err error) { mu.Lock(); got = err; mu.Unlock() },
	})()

	// The failure arrives through OnError, never as a panic or return
	req.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, time.Second, time.Millisecond)
	mu.Lock()
	req.ErrorIs(got, errs.ErrChannelAuthDenied)
	mu.Unlock()
	req.Equal(0, transport.subscribeCount())
}

func TestMultiplexer_SubscriptionErrorFrame(t *testing.T) {
	req := require.New(t)
	transport := &fakeTransport{}
	mux, _ := newTestMux(transport, &gateAuthorizer{})

	var mu sync.Mutex
	var got error
	defer mux.Subscribe(context.Background(), "42", contract.Callbacks{
		OnError: func(err error) { mu.Lock(); got = err; mu.Unlock() },
	})()
	req.Eventually(func() bool { return transport.subscribeCount() == 1 },
		time.Second, time.Millisecond)

	transport.emit(eventSubscriptionError, nil)

	mu.Lock()
	req.ErrorIs(got, errs.ErrSubscriptionFailed)
	mu.Unlock()
	req.False(mux.Subscribed())
}

func TestMultiplexer_LastUnsubscribeTearsDownChannel(t *testing.T) {
	req := require.New(t)
	transport := &fakeTransport{}
	mux, registry := newTestMux(transport, &gateAuthorizer{})

	delivered := 0
	unsubA := mux.Subscribe(context.Background(), "42", contract.Callbacks{
		OnNewMessage: func(domain.ContactEventPayload) { delivered++ },
	})
	unsubB := mux.Subscribe(context.Background(), "42", contract.Callbacks{})
	req.Eventually(func() bool { return transport.subscribeCount() == 1 },
		time.Second, time.Millisecond)
	transport.emit(eventSubscriptionSucceeded, nil)

	// When one of two subscribers leaves, the channel stays up
	unsubB()
	req.Equal(0, transport.unsubscribeCount())
	req.Equal(1, registry.Size())

	// When the last one leaves, the transport leaves the channel
	unsubA()
	req.Equal(1, transport.unsubscribeCount())
	transport.mu.Lock()
	req.Equal("vendor-channel.42", transport.unsubscribed[0])
	transport.mu.Unlock()
	req.False(mux.Subscribed())

	// And frames arriving afterwards reach nobody
	transport.emit(EventVendorUpdated, []byte(`{"message":{"id":"m1"},"contact":{"id":"c1"}}`))
	req.Equal(0, delivered)

	// Unsubscribing twice is harmless
	unsubA()
	req.Equal(1, transport.unsubscribeCount())
}

func TestMultiplexer_LateAuthResponseCannotResurrectChannel(t *testing.T) {
	req := require.New(t)
	transport := &fakeTransport{}
	authorizer := &gateAuthorizer{gate: make(chan struct{})}
	mux, registry := newTestMux(transport, authorizer)

	// Given a subscriber whose auth round-trip is still in flight
	unsub := mux.Subscribe(context.Background(), "42", contract.Callbacks{})
	req.Eventually(func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return transport.connectCalls == 1
	}, time.Second, time.Millisecond)

	// When the subscriber leaves before the handshake completes
	unsub()
	req.Equal(0, registry.Size())

	// Then the delayed auth response must not subscribe the channel
	close(authorizer.gate)
	time.Sleep(20 * time.Millisecond)
	req.Equal(0, transport.subscribeCount())
}

func TestMultiplexer_FreshSubscribeAfterFullTeardown(t *testing.T) {
	req := require.New(t)
	transport := &fakeTransport{}
	mux, _ := newTestMux(transport, &gateAuthorizer{})

	unsub := mux.Subscribe(context.Background(), "42", contract.Callbacks{})
	req.Eventually(func() bool { return transport.subscribeCount() == 1 },
		time.Second, time.Millisecond)
	transport.emit(eventSubscriptionSucceeded, nil)
	unsub()

	// A later subscribe opens a fresh channel subscription
	defer mux.Subscribe(context.Background(), "77", contract.Callbacks{})()
	req.Eventually(func() bool { return transport.subscribeCount() == 2 },
		time.Second, time.Millisecond)
	transport.mu.Lock()
	req.Equal("vendor-channel.77", transport.subscribed[1])
	transport.mu.Unlock()
}

func TestMultiplexer_SecondTenantRejected(t *testing.T) {
	req := require.New(t)
	transport := &fakeTransport{}
	mux, registry := newTestMux(transport, &gateAuthorizer{})

	// Given a channel already bound to one tenant
	defer mux.Subscribe(context.Background(), "42", contract.Callbacks{})()
	req.Eventually(func() bool { return transport.subscribeCount() == 1 },
		time.Second, time.Millisecond)
	transport.emit(eventSubscriptionSucceeded, nil)

	var mu sync.Mutex
	var got error
	foreign := 0

	// When a consumer subscribes a different tenant
	unsub := mux.Subscribe(context.Background(), "77", contract.Callbacks{
		OnError:      func(err error) { mu.Lock(); got = err; mu.Unlock() },
		OnNewMessage: func(domain.ContactEventPayload) { mu.Lock(); foreign++; mu.Unlock() },
	})

	// Then it is rejected without touching the active channel
	mu.Lock()
	req.ErrorIs(got, errs.ErrChannelBusy)
	mu.Unlock()
	req.Equal(1, transport.subscribeCount())
	req.Equal(1, registry.Size())
	req.True(mux.Subscribed())

	// And broadcasts for the active tenant never reach the rejected consumer
	transport.emit(EventVendorUpdated, []byte(`{"message":{"id":"m1"},"contact":{"id":"c1"}}`))
	mu.Lock()
	req.Equal(0, foreign)
	mu.Unlock()

	// Releasing the rejected handle leaves the active channel alone
	unsub()
	req.Equal(0, transport.unsubscribeCount())
	req.True(mux.Subscribed())
}

func TestMultiplexer_UnsubscribeDuringSubscribeSendStillCleansUp(t *testing.T) {
	req := require.New(t)
	transport := &fakeTransport{
		subscribeEntered: make(chan struct{}, 1),
		subscribeGate:    make(chan struct{}),
	}
	mux, registry := newTestMux(transport, &gateAuthorizer{})

	// Given a subscribe frozen mid-send
	unsub := mux.Subscribe(context.Background(), "42", contract.Callbacks{})
	<-transport.subscribeEntered

	// When the only subscriber leaves while the frame is in flight
	done := make(chan struct{})
	go func() {
		unsub()
		close(done)
	}()
	close(transport.subscribeGate)
	<-done

	// Then the channel the frame created is unsubscribed again
	req.Equal(0, registry.Size())
	req.Equal(1, transport.subscribeCount())
	req.Eventually(func() bool { return transport.unsubscribeCount() == 1 },
		time.Second, time.Millisecond)
	req.False(mux.Subscribed())
}
