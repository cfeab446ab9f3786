package socket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/samber/lo"

	"console-realtime/domain"
)

// Inbound frame events.
const (
	eventMessageIncoming = "message_incoming"
	eventMessageOutgoing = "message_outgoing"
	eventMessageStatus   = "message_status"
)

// rawFrame is the envelope of one inbound socket frame.
type rawFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// rawMessage mirrors the loosely-shaped message object the backend emits.
// Fields are filled opportunistically; hydrate resolves the gaps.
type rawMessage struct {
	ID        string         `json:"id"`
	Direction string         `json:"direction"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Content   string         `json:"content"`
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

type rawContact struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	IsNew  bool   `json:"is_new"`
	Exists bool   `json:"exists"`
}

type rawMessagePayload struct {
	Phone   string     `json:"phone"`
	Name    string     `json:"name"`
	Contact rawContact `json:"contact"`
	Message rawMessage `json:"message"`
}

type rawStatus struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

var (
	receiptMu   sync.Mutex
	lastReceipt time.Time
)

// nextReceiptInstant returns a strictly increasing local receipt time, so
// ws_received_at can order frames that arrive within the same clock tick.
func nextReceiptInstant(now func() time.Time) time.Time {
	receiptMu.Lock()
	defer receiptMu.Unlock()
	t := now()
	if !t.After(lastReceipt) {
		t = lastReceipt.Add(time.Microsecond)
	}
	lastReceipt = t
	return t
}

// hydrate normalizes a raw inbound payload into the canonical event shape:
// direction is inferred from the frame event when absent, the counterparty
// phone is resolved through the fallback chain (top-level, contact, message
// from/to), the missing side of from/to is filled in, the timestamp is
// canonicalized, and echo metadata is merged in.
func hydrate(event string, p rawMessagePayload, now func() time.Time) domain.ContactEventPayload {
	direction := domain.Direction(p.Message.Direction)
	if direction != domain.DirectionIncoming && direction != domain.DirectionOutgoing {
		if event == eventMessageIncoming {
			direction = domain.DirectionIncoming
		} else {
			direction = domain.DirectionOutgoing
		}
	}

	phone := p.Phone
	if phone == "" {
		phone = p.Contact.Phone
	}
	if phone == "" {
		if direction == domain.DirectionIncoming {
			phone = p.Message.From
		} else {
			phone = p.Message.To
		}
	}

	from, to := p.Message.From, p.Message.To
	if direction == domain.DirectionIncoming && from == "" {
		from = phone
	}
	if direction == domain.DirectionOutgoing && to == "" {
		to = phone
	}

	ts := domain.NormalizeTimestamp(p.Message.Timestamp, now)
	receivedAt := nextReceiptInstant(now).UTC().Format(time.RFC3339Nano)

	metadata := lo.Assign(domain.Metadata{}, domain.Metadata(p.Message.Metadata), domain.Metadata{
		domain.MetaPhone:      phone,
		domain.MetaTimestamp:  ts,
		domain.MetaReceivedAt: receivedAt,
	})

	status := domain.MessageStatus(p.Message.Status)
	if status == "" {
		status = domain.StatusSent
	}

	return domain.ContactEventPayload{
		Phone: phone,
		Name:  p.Name,
		Contact: domain.ContactSummary{
			ID:     p.Contact.ID,
			Name:   p.Contact.Name,
			Phone:  p.Contact.Phone,
			IsNew:  p.Contact.IsNew,
			Exists: p.Contact.Exists,
		},
		Message: domain.Message{
			ID:        p.Message.ID,
			Direction: direction,
			From:      from,
			To:        to,
			Content:   p.Message.Content,
			Status:    status,
			Timestamp: ts,
			Metadata:  metadata,
		},
	}
}
