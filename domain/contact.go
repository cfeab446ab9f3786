package domain

// ContactSummary is the contact digest attached to a new-message event.
type ContactSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Phone  string `json:"phone,omitempty"`
	IsNew  bool   `json:"is_new"`
	Exists bool   `json:"exists"`
}

// ContactEventPayload is the envelope accompanying a new-message event.
// It is handed to consumers once per inbound frame; the socket client also
// keeps a copy in its payload history for late subscribers.
type ContactEventPayload struct {
	Phone   string         `json:"phone"`
	Name    string         `json:"name"`
	Contact ContactSummary `json:"contact"`
	Message Message        `json:"message"`
}

// StatusEvent is a delivery-status change reported by the channel.
type StatusEvent struct {
	MessageID string        `json:"message_id"`
	Status    MessageStatus `json:"status"`
	Timestamp string        `json:"timestamp,omitempty"`
}

// VendorBroadcast is the simplified broadcast envelope newer backends emit
// on the tenant channel, replacing the legacy message/contact triad.
type VendorBroadcast struct {
	ContactUID           string `json:"contactUid"`
	ContactWaID          string `json:"contactWaId"`
	IsNewIncomingMessage bool   `json:"isNewIncomingMessage"`
	MessageStatus        string `json:"message_status,omitempty"`
	LastMessageUID       string `json:"lastMessageUid,omitempty"`
	AssignedUserID       string `json:"assignedUserId,omitempty"`
}
