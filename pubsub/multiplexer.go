package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"console-realtime/contract"
	errs "console-realtime/errors"
	"console-realtime/fanout"
)

// ChannelName derives the private channel for a tenant.
func ChannelName(tenantID string) string {
	return "vendor-channel." + tenantID
}

// Multiplexer guarantees a single authenticated channel subscription per
// tenant no matter how many independent consumers subscribe, fanning every
// channel event out through the registry.
//
// The transport and authorizer are injected; the multiplexer never owns
// process-global state itself, which keeps the single-subscription
// invariant testable.
type Multiplexer struct {
	log        *slog.Logger
	registry   *fanout.Registry
	transport  contract.PubSubTransport
	authorizer contract.ChannelAuthorizer

	mu           sync.Mutex
	epoch        int // bumped on teardown; stale async work checks it and aborts
	tenantID     string
	channel      string
	initializing bool
	subscribed   bool
	connected    bool
}

func NewMultiplexer(log *slog.Logger, registry *fanout.Registry, transport contract.PubSubTransport, authorizer contract.ChannelAuthorizer) *Multiplexer {
	m := &Multiplexer{
		log:        log,
		registry:   registry,
		transport:  transport,
		authorizer: authorizer,
	}
	transport.Bind(m.dispatch)
	return m
}

// Subscribe registers the callback bundle and ensures the tenant channel is
// subscribed. The bundle is registered before anything else so that an
// in-flight connected or error event reaches it; if the channel is already
// up, OnConnected is replayed synchronously to the new registrant alone.
// The returned closure removes only this registrant; the channel itself is
// torn down when the last one leaves.
func (m *Multiplexer) Subscribe(ctx context.Context, tenantID string, cb contract.Callbacks) func() {
	id := m.registry.Register(cb)

	m.mu.Lock()
	if (m.subscribed || m.initializing) && m.tenantID != tenantID {
		active := m.tenantID
		m.mu.Unlock()
		// The shared channel is bound to another tenant. Rejecting the
		// newcomer keeps the active tenant's subscribers from receiving
		// foreign events through the shared registry.
		m.registry.Unregister(id)
		m.log.Warn("Rejecting subscribe for a second tenant",
			"active", active, "requested", tenantID)
		if cb.OnError != nil {
			cb.OnError(errs.ErrChannelBusy)
		}
		return func() {}
	}
	if (m.subscribed || m.initializing) && m.tenantID == tenantID {
		replay := m.subscribed && m.connected
		m.mu.Unlock()
		if replay && cb.OnConnected != nil {
			cb.OnConnected()
		}
		return m.unsubscribeFn(id)
	}
	m.initializing = true
	m.subscribed = false
	m.connected = false
	m.tenantID = tenantID
	m.channel = ChannelName(tenantID)
	epoch := m.epoch
	m.mu.Unlock()

	go m.open(ctx, epoch)
	return m.unsubscribeFn(id)
}

// open runs the connect / authorize / subscribe sequence. Every resumption
// re-checks the epoch so a teardown that happened mid-flight cannot be
// resurrected by a late auth response.
func (m *Multiplexer) open(ctx context.Context, epoch int) {
	socketID, err := m.transport.Connect(ctx)
	if err != nil {
		m.failOpen(epoch, fmt.Errorf("channel connect: %w", err))
		return
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	channel := m.channel
	m.mu.Unlock()

	authToken, err := m.authorizer.Authorize(ctx, socketID, channel)
	if err != nil {
		m.failOpen(epoch, err)
		return
	}

	// The epoch re-check and the subscribe share the lock: a last
	// unsubscribe either bumps the epoch before we get here, or blocks
	// until the frame is sent and then unsubscribes the channel itself.
	// transport.Subscribe never calls back into the multiplexer, so
	// holding the lock across it cannot deadlock.
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	err = m.transport.Subscribe(channel, authToken)
	m.mu.Unlock()
	if err != nil {
		m.failOpen(epoch, fmt.Errorf("%w: %v", errs.ErrSubscriptionFailed, err))
	}
	// Success is confirmed by the subscription_succeeded frame.
}

// failOpen surfaces an initialization failure through OnError. Failures are
// delivered as callbacks, never thrown across the subscriber boundary.
func (m *Multiplexer) failOpen(epoch int, err error) {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	m.initializing = false
	m.mu.Unlock()
	m.log.Warn("Channel subscription failed", "err", err)
	m.registry.NotifyError(err)
}

// dispatch receives every transport frame and fans it out.
func (m *Multiplexer) dispatch(event string, data []byte) {
	switch event {
	case eventSubscriptionSucceeded:
		m.mu.Lock()
		if m.tenantID == "" {
			// Confirmation landed after the last unsubscribe.
			m.mu.Unlock()
			return
		}
		m.initializing = false
		m.subscribed = true
		m.connected = true
		m.mu.Unlock()
		m.registry.NotifyConnected()

	case eventSubscriptionError:
		m.mu.Lock()
		m.initializing = false
		m.mu.Unlock()
		m.registry.NotifyError(errs.ErrSubscriptionFailed)

	case eventError:
		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()
		m.registry.NotifyError(errs.ErrTransportClosed)

	case EventVendorUpdated:
		env, err := DecodeEnvelope(data)
		if err != nil {
			m.log.Debug("Discarding malformed broadcast payload", "err", err)
			return
		}
		switch env.Kind {
		case EnvelopeVendorBroadcast:
			m.registry.NotifyVendorBroadcast(env.Vendor)
		case EnvelopeNewMessage:
			m.registry.NotifyNewMessage(env.Payload)
		case EnvelopeContactUpdated:
			m.registry.NotifyContactUpdated(env.Contact)
		case EnvelopeStatusChange:
			m.registry.NotifyMessageStatus(env.Status)
		default:
			m.log.Debug("Broadcast payload matched no known shape")
		}

	default:
		m.log.Debug("Ignoring channel event", "event", event)
	}
}

// unsubscribeFn builds the closure removing one registrant. The last one
// out leaves the channel and resets all multiplexer state, so a future
// Subscribe opens a fresh channel.
func (m *Multiplexer) unsubscribeFn(id string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.registry.Unregister(id)
			if m.registry.Size() > 0 {
				return
			}
			m.mu.Lock()
			channel := m.channel
			m.tenantID = ""
			m.channel = ""
			m.initializing = false
			m.subscribed = false
			m.connected = false
			m.epoch++
			m.mu.Unlock()
			if channel != "" {
				if err := m.transport.Unsubscribe(channel); err != nil {
					m.log.Debug("Channel unsubscribe failed", "channel", channel, "err", err)
				}
			}
		})
	}
}

// Subscribed reports whether the tenant channel is currently confirmed.
func (m *Multiplexer) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribed
}
