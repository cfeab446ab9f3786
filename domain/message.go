// Package domain contains core concepts of the real-time messaging layer.
// This file defines chat Messages and their identity rules.
// Messages are appended once and mutated only by status reconciliation.
package domain

import (
	"github.com/google/uuid"
)

// Direction tells which side of the conversation produced a message.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// MessageStatus is the delivery state reported by the channel.
// Transitions are monotonic in principle, but the transport does not
// guarantee ordered delivery of status events, so no ordering is enforced.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// TempIDPrefix marks a client-generated provisional message id, used for
// optimistic rendering before the server acknowledges a send.
const TempIDPrefix = "temp_"

// Metadata is an open mapping of transport echo fields.
type Metadata map[string]any

const (
	// MetaIsUploading flags an outgoing message whose media upload has not
	// been acknowledged yet.
	MetaIsUploading = "is_uploading"
	// MetaPhone carries the resolved counterparty phone.
	MetaPhone = "phone"
	// MetaTimestamp carries the normalized message timestamp.
	MetaTimestamp = "timestamp"
	// MetaReceivedAt is the local receipt instant, for ordering/debugging
	// only. It never reorders the buffer.
	MetaReceivedAt = "ws_received_at"
)

// Message is one chat message exchanged over the channel.
type Message struct {
	ID        string        `json:"id"`
	Direction Direction     `json:"direction"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"status"`
	Timestamp string        `json:"timestamp"`
	Metadata  Metadata      `json:"metadata,omitempty"`
}

// NewTempID generates a provisional client-side message id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id is a client-generated provisional id.
func IsTempID(id string) bool {
	return len(id) > len(TempIDPrefix) && id[:len(TempIDPrefix)] == TempIDPrefix
}

// IsUploading reports whether the message still carries the provisional
// upload flag.
func (m Message) IsUploading() bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[MetaIsUploading].(bool)
	return ok && v
}

// ClearUploading removes the provisional upload flag.
func (m *Message) ClearUploading() {
	if m.Metadata != nil {
		delete(m.Metadata, MetaIsUploading)
	}
}
