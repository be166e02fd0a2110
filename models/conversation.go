package models

import (
	"encoding/json"
	"time"
)

// Awaited-input tags for ConversationState. Each tag names exactly what the
// next inbound message is expected to contain.
const (
	AwaitingPersonalDetails = "personal_details"
	AwaitingBVN             = "bvn"
	AwaitingPINSetup        = "pin_setup"
	AwaitingPINConfirm      = "pin_confirm"
	AwaitingTransferConfirm = "transfer_confirm"
	AwaitingPINForTransfer  = "pin_for_transfer"
	AwaitingPINForPurchase  = "pin_for_purchase"
	AwaitingDataPlan        = "data_plan_selection"
	AwaitingEmail           = "email_address"
)

// ConversationState tracks a user's position inside a multi-step dialogue.
// At most one exists per user; it lives in the KV store under a 30 minute TTL
// and is cleared on completion or explicit cancellation.
type ConversationState struct {
	Intent        string          `json:"intent"`
	AwaitingInput string          `json:"awaiting_input"`
	Context       string          `json:"context"`
	Step          int             `json:"step"`
	Data          json.RawMessage `json:"data,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SetData marshals v into the state's opaque payload.
func (s *ConversationState) SetData(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.Data = raw
	return nil
}

// GetData unmarshals the opaque payload into v.
func (s *ConversationState) GetData(v interface{}) error {
	if len(s.Data) == 0 {
		return nil
	}
	return json.Unmarshal(s.Data, v)
}

// Flow type tags for FlowSession.
const (
	FlowTypeOnboarding   = "onboarding"
	FlowTypeTransferPIN  = "transfer_pin"
	FlowTypeDataPurchase = "data_purchase"
)

// FlowSession correlates an encrypted WhatsApp Flow exchange with a user.
// Keyed by the flow token the backend issued when it dispatched the Flow;
// destroyed on terminal completion or after 30 minutes.
type FlowSession struct {
	UserID      uint                   `json:"user_id"`
	PhoneNumber string                 `json:"phone_number"`
	FlowType    string                 `json:"flow_type"`
	Data        map[string]interface{} `json:"data,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}
