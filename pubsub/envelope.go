package pubsub

import (
	"encoding/json"

	"console-realtime/domain"
)

// EnvelopeKind discriminates the payload shapes the broadcast event can
// carry. Newer backends emit the simplified vendor broadcast; older ones
// emit the legacy message/contact triad.
type EnvelopeKind int

const (
	EnvelopeUnknown EnvelopeKind = iota
	EnvelopeVendorBroadcast
	EnvelopeNewMessage
	EnvelopeContactUpdated
	EnvelopeStatusChange
)

// Envelope is the tagged decoding of one broadcast payload. Only the field
// matching Kind is populated.
type Envelope struct {
	Kind    EnvelopeKind
	Vendor  domain.VendorBroadcast
	Payload domain.ContactEventPayload
	Contact domain.ContactSummary
	Status  domain.StatusEvent
}

// DecodeEnvelope resolves a broadcast payload into exactly one variant.
// The discriminant is checked once, up front, rather than re-probing field
// presence in every consumer:
//
//   - a contactUid field      -> vendor broadcast
//   - message and contact     -> new message
//   - contact only            -> contact updated
//   - message with a status   -> status change
func DecodeEnvelope(data []byte) (Envelope, error) {
	var probe struct {
		ContactUID *string         `json:"contactUid"`
		Message    json.RawMessage `json:"message"`
		Contact    json.RawMessage `json:"contact"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Envelope{}, err
	}

	switch {
	case probe.ContactUID != nil:
		var v domain.VendorBroadcast
		if err := json.Unmarshal(data, &v); err != nil {
			return Envelope{}, err
		}
		return Envelope{Kind: EnvelopeVendorBroadcast, Vendor: v}, nil

	case len(probe.Message) > 0 && len(probe.Contact) > 0:
		var p domain.ContactEventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Envelope{}, err
		}
		if p.Phone == "" {
			p.Phone = p.Contact.Phone
		}
		return Envelope{Kind: EnvelopeNewMessage, Payload: p}, nil

	case len(probe.Contact) > 0:
		var c struct {
			Contact domain.ContactSummary `json:"contact"`
		}
		if err := json.Unmarshal(data, &c); err != nil {
			return Envelope{}, err
		}
		return Envelope{Kind: EnvelopeContactUpdated, Contact: c.Contact}, nil

	case len(probe.Message) > 0:
		var m struct {
			Message domain.Message `json:"message"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return Envelope{}, err
		}
		if m.Message.Status == "" {
			return Envelope{Kind: EnvelopeUnknown}, nil
		}
		return Envelope{
			Kind: EnvelopeStatusChange,
			Status: domain.StatusEvent{
				MessageID: m.Message.ID,
				Status:    m.Message.Status,
				Timestamp: m.Message.Timestamp,
			},
		}, nil
	}

	return Envelope{Kind: EnvelopeUnknown}, nil
}
