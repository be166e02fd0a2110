// Package dispatch turns raw WhatsApp webhook deliveries into per-user work:
// envelope normalization, duplicate suppression, user resolution and routing
// into the onboarding machine, active dialogues or the intent resolver.
package dispatch

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/emeka-okafor/kudipal/models"
)

// Envelope is the outer webhook body Meta posts for every event batch.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one WABA account's batch of changes.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one changed field, messages or statuses.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries the actual messages and delivery statuses.
type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts"`
	Messages         []Message `json:"messages"`
	Statuses         []Status  `json:"statuses"`
}

// Metadata identifies the receiving business number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender's profile as WhatsApp knows it.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Message is one inbound message in webhook form.
type Message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`

	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image *struct {
		ID      string `json:"id"`
		Caption string `json:"caption"`
	} `json:"image"`
	Audio *struct {
		ID    string `json:"id"`
		Voice bool   `json:"voice"`
	} `json:"audio"`
	Document *struct {
		ID       string `json:"id"`
		Filename string `json:"filename"`
	} `json:"document"`
	Interactive *Interactive `json:"interactive"`
}

// Interactive is a button tap, list selection or Flow completion.
type Interactive struct {
	Type        string `json:"type"`
	ButtonReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"button_reply"`
	ListReply *struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"list_reply"`
	NFMReply *struct {
		Name         string `json:"name"`
		Body         string `json:"body"`
		ResponseJSON string `json:"response_json"`
	} `json:"nfm_reply"`
}

// Status is a delivery status update for an outbound message. Statuses are
// acknowledged and otherwise ignored.
type Status struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Normalize flattens the envelope into the messages it carries, in delivery
// order. Statuses and non-message changes are skipped.
func Normalize(env *Envelope) []models.InboundMessage {
	var out []models.InboundMessage
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for i := range change.Value.Messages {
				out = append(out, normalizeMessage(&change.Value.Messages[i]))
			}
		}
	}
	return out
}

func normalizeMessage(msg *Message) models.InboundMessage {
	in := models.InboundMessage{
		ID:        msg.ID,
		From:      msg.From,
		Type:      msg.Type,
		Timestamp: parseTimestamp(msg.Timestamp),
	}

	switch msg.Type {
	case models.MessageTypeText:
		if msg.Text != nil {
			in.Text = msg.Text.Body
		}
	case models.MessageTypeImage:
		if msg.Image != nil {
			in.MediaID = msg.Image.ID
			in.Text = msg.Image.Caption
		}
	case models.MessageTypeAudio, models.MessageTypeVoice:
		if msg.Audio != nil {
			in.MediaID = msg.Audio.ID
			if msg.Audio.Voice {
				in.Type = models.MessageTypeVoice
			}
		}
	case models.MessageTypeDocument:
		if msg.Document != nil {
			in.MediaID = msg.Document.ID
		}
	case models.MessageTypeInteractive:
		if msg.Interactive == nil {
			break
		}
		switch {
		case msg.Interactive.ButtonReply != nil:
			in.ButtonID = msg.Interactive.ButtonReply.ID
			in.ButtonTitle = msg.Interactive.ButtonReply.Title
		case msg.Interactive.ListReply != nil:
			in.ListID = msg.Interactive.ListReply.ID
			in.ListTitle = msg.Interactive.ListReply.Title
		case msg.Interactive.NFMReply != nil:
			in.NFMResponse = json.RawMessage(msg.Interactive.NFMReply.ResponseJSON)
		}
	}
	return in
}

func parseTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(secs, 0)
}
