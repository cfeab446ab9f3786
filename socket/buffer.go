package socket

import (
	"sync"

	"console-realtime/domain"
)

// Buffer is the local ordered message list one socket client maintains.
// It is append-only from the consumer's perspective: entries are never
// reordered or deleted, and only status reconciliation mutates them in
// place. It lives for the lifetime of the owning client.
type Buffer struct {
	mu       sync.Mutex
	messages []domain.Message
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Append(m domain.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, m)
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// Snapshot returns a copy of the buffer in arrival order.
func (b *Buffer) Snapshot() []domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Message(nil), b.messages...)
}

// Reconcile applies a delivery-status event against the buffer. Tiers, in
// priority order, stopping at the first hit:
//
//  1. the message whose id equals messageID
//  2. the first outgoing message still flagged as uploading, which adopts
//     messageID as its id
//  3. the most recently added outgoing message with a client-generated
//     temporary id, which adopts messageID
//
// The tiers exist because the server may echo its assigned id after the
// client already rendered an optimistic, locally-id'd send; a single logical
// send must never end up duplicated. An event matching nothing is discarded:
// the counterpart message may live in REST history rather than this buffer.
// Reconcile never changes the buffer length.
func (b *Buffer) Reconcile(messageID string, status domain.MessageStatus) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.messages {
		if b.messages[i].ID == messageID {
			b.messages[i].Status = status
			b.messages[i].ClearUploading()
			return true
		}
	}

	for i := range b.messages {
		m := &b.messages[i]
		if m.Direction == domain.DirectionOutgoing && m.IsUploading() {
			m.ID = messageID
			m.Status = status
			m.ClearUploading()
			return true
		}
	}

	for i := len(b.messages) - 1; i >= 0; i-- {
		m := &b.messages[i]
		if m.Direction == domain.DirectionOutgoing && domain.IsTempID(m.ID) {
			m.ID = messageID
			m.Status = status
			return true
		}
	}

	return false
}
