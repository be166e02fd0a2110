package models

import (
	"encoding/json"
	"time"
)

// Inbound message types as delivered by the webhook.
const (
	MessageTypeText        = "text"
	MessageTypeImage       = "image"
	MessageTypeAudio       = "audio"
	MessageTypeVoice       = "voice"
	MessageTypeDocument    = "document"
	MessageTypeInteractive = "interactive"
	MessageTypeLocation    = "location"
	MessageTypeContacts    = "contacts"
	MessageTypeSystem      = "system"
)

// InboundMessage is a normalized inbound WhatsApp message, flattened from
// the webhook envelope.
type InboundMessage struct {
	ID          string
	From        string // E.164
	Timestamp   time.Time
	Type        string
	Text        string
	ButtonID    string
	ButtonTitle string
	ListID      string
	ListTitle   string
	// NFMResponse is the response_json of an nfm_reply (Flow completion
	// delivered through the regular message webhook).
	NFMResponse json.RawMessage
	MediaID     string
}

// BodyText returns the best textual rendering of the message: the text
// body, or the tapped button/list title.
func (m *InboundMessage) BodyText() string {
	if m.Text != "" {
		return m.Text
	}
	if m.ButtonTitle != "" {
		return m.ButtonTitle
	}
	if m.ListTitle != "" {
		return m.ListTitle
	}
	return ""
}

// ReplyID returns the tapped interactive ID, button or list row.
func (m *InboundMessage) ReplyID() string {
	if m.ButtonID != "" {
		return m.ButtonID
	}
	return m.ListID
}
