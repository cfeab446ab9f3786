// Package fanout decouples how many UI consumers are interested in channel
// events from how many transport connections exist.
package fanout

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"console-realtime/contract"
	"console-realtime/domain"
)

// Registry is an addressable set of subscriber callback bundles keyed by an
// opaque subscription id.
//
// Broadcast is best-effort fan-out with no guarantees regarding delivery
// order across subscribers. A panicking callback is isolated: it is logged
// and the remaining subscribers still receive the event.
//
// Registry is safe for concurrent use by multiple goroutines.
type Registry struct {
	log *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]contract.Callbacks
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:         log,
		subscribers: make(map[string]contract.Callbacks),
	}
}

// Register adds a callback bundle and returns its subscription id.
func (r *Registry) Register(cb contract.Callbacks) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[id] = cb
	return id
}

// Unregister removes a subscription. Removing an unknown id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers, id)
}

// Size returns the current registrant count. The multiplexer uses it to
// decide when the shared transport may be released.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// snapshot copies the current bundles so delivery never holds the lock and
// a callback may unregister itself mid-broadcast.
func (r *Registry) snapshot() []contract.Callbacks {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bundles := make([]contract.Callbacks, 0, len(r.subscribers))
	for _, cb := range r.subscribers {
		bundles = append(bundles, cb)
	}
	return bundles
}

// invoke runs one callback, containing any panic so siblings still get the
// event.
func (r *Registry) invoke(event string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Subscriber callback panicked", "event", event, "panic", rec)
		}
	}()
	fn()
}

func (r *Registry) NotifyNewMessage(p domain.ContactEventPayload) {
	for _, cb := range r.snapshot() {
		if cb.OnNewMessage != nil {
			fn := cb.OnNewMessage
			r.invoke("new_message", func() { fn(p) })
		}
	}
}

func (r *Registry) NotifyContactUpdated(c domain.ContactSummary) {
	for _, cb := range r.snapshot() {
		if cb.OnContactUpdated != nil {
			fn := cb.OnContactUpdated
			r.invoke("contact_updated", func() { fn(c) })
		}
	}
}

func (r *Registry) NotifyMessageStatus(e domain.StatusEvent) {
	for _, cb := range r.snapshot() {
		if cb.OnMessageStatus != nil {
			fn := cb.OnMessageStatus
			r.invoke("message_status", func() { fn(e) })
		}
	}
}

func (r *Registry) NotifyVendorBroadcast(b domain.VendorBroadcast) {
	for _, cb := range r.snapshot() {
		if cb.OnVendorBroadcast != nil {
			fn := cb.OnVendorBroadcast
			r.invoke("vendor_broadcast", func() { fn(b) })
		}
	}
}

func (r *Registry) NotifyConnected() {
	for _, cb := range r.snapshot() {
		if cb.OnConnected != nil {
			fn := cb.OnConnected
			r.invoke("connected", func() { fn() })
		}
	}
}

func (r *Registry) NotifyError(err error) {
	for _, cb := range r.snapshot() {
		if cb.OnError != nil {
			fn := cb.OnError
			r.invoke("error", func() { fn(err) })
		}
	}
}
