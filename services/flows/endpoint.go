package flows

import (
	"context"
	"crypto/rsa"
	"encoding/json"

	"github.com/emeka-okafor/kudipal/models"
	"github.com/emeka-okafor/kudipal/services/conversation"
	"github.com/emeka-okafor/kudipal/services/ledger"
	"github.com/emeka-okafor/kudipal/services/onboarding"
	"github.com/emeka-okafor/kudipal/services/ports"
	"github.com/emeka-okafor/kudipal/services/transactions"
	"github.com/emeka-okafor/kudipal/utils"
)

// Flow endpoint actions as posted by Meta.
const (
	actionPing     = "ping"
	actionInit     = "INIT"
	actionExchange = "data_exchange"
	actionBack     = "BACK"
	actionComplete = "complete"
)

const flowVersion = "3.0"

// Screen names shared with the Flow JSON published in the Meta console.
const (
	ScreenPersonalDetails = "PERSONAL_DETAILS"
	ScreenBVN             = "BVN"
	ScreenPINSetup        = "PIN_SETUP"
	ScreenPINVerification = "PIN_VERIFICATION_SCREEN"
	ScreenSelectNetwork   = "SELECT_NETWORK"
	ScreenSelectPlan      = "SELECT_PLAN"
	ScreenSuccess         = "SUCCESS"
)

// FlowIDs are the published Flow IDs per flow type. An empty ID disables
// that interactive flow; callers fall back to chat prompts.
type FlowIDs struct {
	Onboarding   string
	TransferPIN  string
	DataPurchase string
}

// exchangeRequest is the decrypted request payload.
type exchangeRequest struct {
	Version   string                 `json:"version"`
	Action    string                 `json:"action"`
	Screen    string                 `json:"screen"`
	Data      map[string]interface{} `json:"data"`
	FlowToken string                 `json:"flow_token"`
}

// exchangeResponse is the payload encrypted back to the client.
type exchangeResponse struct {
	Version string                 `json:"version,omitempty"`
	Screen  string                 `json:"screen,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Service terminates the encrypted Flow endpoint and dispatches the
// interactive flows. It implements the FlowLauncher interfaces of the
// onboarding and transactions packages.
type Service struct {
	priv     *rsa.PrivateKey
	tokens   *Tokens
	sessions *Sessions
	users    ports.UserStore
	msgr     ports.Messenger
	conv     *conversation.Store
	ledger   *ledger.Ledger
	onb      *onboarding.Machine
	orch     *transactions.Orchestrator
	ids      FlowIDs
}

// NewService wires the Flow service.
func NewService(priv *rsa.PrivateKey, tokens *Tokens, sessions *Sessions, users ports.UserStore, msgr ports.Messenger, conv *conversation.Store, ledg *ledger.Ledger, onb *onboarding.Machine, orch *transactions.Orchestrator, ids FlowIDs) *Service {
	return &Service{
		priv:     priv,
		tokens:   tokens,
		sessions: sessions,
		users:    users,
		msgr:     msgr,
		conv:     conv,
		ledger:   ledg,
		onb:      onb,
		orch:     orch,
		ids:      ids,
	}
}

// Handle decrypts one endpoint request, dispatches it and returns the
// base64 encrypted response body. Errors tagged flow_decrypt_failed mean
// the controller must answer 421 so the client refreshes the public key;
// flow_token_invalid maps to 427.
func (s *Service) Handle(ctx context.Context, req EncryptedRequest) (string, error) {
	if s.priv == nil {
		return "", utils.E(utils.KindFlowDecryptFailed, "flow private key not configured", nil)
	}
	exchange, err := decryptRequest(s.priv, req)
	if err != nil {
		return "", err
	}

	var payload exchangeRequest
	if err := json.Unmarshal(exchange.payload, &payload); err != nil {
		return "", utils.E(utils.KindFlowDecryptFailed, "malformed flow payload", err)
	}

	// Health checks carry no token and touch no state.
	if payload.Action == actionPing {
		return s.seal(exchangeResponse{Data: map[string]interface{}{"status": "active"}}, exchange)
	}

	claims, err := s.tokens.Verify(payload.FlowToken)
	if err != nil {
		return "", err
	}
	session, err := s.sessions.Get(ctx, payload.FlowToken)
	if err != nil {
		return "", err
	}
	if session == nil || session.UserID != claims.UserID {
		return "", utils.E(utils.KindFlowTokenInvalid, "flow session expired", nil)
	}
	user, err := s.users.ByID(ctx, claims.UserID)
	if err != nil || user == nil {
		return "", utils.E(utils.KindFlowTokenInvalid, "flow user not found", err)
	}

	resp, err := s.dispatch(ctx, user, session, payload)
	if err != nil {
		// The exchange is healthy, the input is not: surface the problem on
		// the current screen instead of failing the whole flow.
		resp = exchangeResponse{
			Version: flowVersion,
			Screen:  payload.Screen,
			Data:    map[string]interface{}{"error_message": utils.UserMessage(err)},
		}
	}
	return s.seal(resp, exchange)
}

func (s *Service) dispatch(ctx context.Context, user *models.User, session *models.FlowSession, payload exchangeRequest) (exchangeResponse, error) {
	switch payload.Action {
	case actionInit, actionBack:
		return s.initialScreen(ctx, session)
	case actionExchange, actionComplete:
		switch session.FlowType {
		case models.FlowTypeOnboarding:
			return s.handleOnboardingScreen(ctx, user, session, payload)
		case models.FlowTypeTransferPIN:
			return s.handlePINScreen(ctx, user, session, payload)
		case models.FlowTypeDataPurchase:
			return s.handleDataScreen(ctx, user, session, payload)
		}
		return exchangeResponse{}, utils.E(utils.KindFlowTokenInvalid, "unknown flow type", nil)
	}
	return exchangeResponse{}, utils.ValidationError("Unsupported action")
}

// seal encrypts the response with the request's AES key and flipped IV.
func (s *Service) seal(resp exchangeResponse, exchange *decryptedExchange) (string, error) {
	if resp.Version == "" && resp.Screen != "" {
		resp.Version = flowVersion
	}
	return encryptResponse(resp, exchange.aesKey, exchange.requestIV)
}

// terminal builds the SUCCESS response that closes a flow on the device.
func terminal(flowToken string) exchangeResponse {
	return exchangeResponse{
		Version: flowVersion,
		Screen:  ScreenSuccess,
		Data: map[string]interface{}{
			"extension_message_response": map[string]interface{}{
				"params": map[string]interface{}{"flow_token": flowToken},
			},
		},
	}
}

// LaunchOnboarding dispatches the onboarding Flow.
// Implements onboarding.FlowLauncher.
func (s *Service) LaunchOnboarding(ctx context.Context, user *models.User) error {
	if s.ids.Onboarding == "" {
		return utils.InternalError("onboarding flow not configured", nil)
	}
	token, err := s.launch(ctx, user, models.FlowTypeOnboarding, nil)
	if err != nil {
		return err
	}
	return s.msgr.SendFlow(ctx, user.WhatsAppNumber, ports.FlowPrompt{
		FlowID:    s.ids.Onboarding,
		FlowToken: token,
		Screen:    ScreenPersonalDetails,
		CTA:       "Open account",
		Body:      "Let's open your KudiPal account. It takes about two minutes.",
	})
}

// LaunchTransferPIN dispatches the PIN entry Flow for a priced draft.
// Implements transactions.FlowLauncher.
func (s *Service) LaunchTransferPIN(ctx context.Context, user *models.User, draft transactions.Draft) error {
	if s.ids.TransferPIN == "" {
		return utils.InternalError("transfer PIN flow not configured", nil)
	}
	token, err := s.launch(ctx, user, models.FlowTypeTransferPIN, map[string]interface{}{
		"draft": encodeDraft(draft),
	})
	if err != nil {
		return err
	}
	return s.msgr.SendFlow(ctx, user.WhatsAppNumber, ports.FlowPrompt{
		FlowID:    s.ids.TransferPIN,
		FlowToken: token,
		Screen:    ScreenPINVerification,
		CTA:       "Enter PIN",
		Body:      draft.Summary() + "\n\nApprove with your PIN.",
		Data:      map[string]interface{}{"summary": draft.Summary()},
	})
}

// LaunchDataPurchase dispatches the data purchase Flow.
// Implements transactions.FlowLauncher.
func (s *Service) LaunchDataPurchase(ctx context.Context, user *models.User, draft transactions.Draft) error {
	if s.ids.DataPurchase == "" {
		return utils.InternalError("data purchase flow not configured", nil)
	}
	token, err := s.launch(ctx, user, models.FlowTypeDataPurchase, map[string]interface{}{
		"draft": encodeDraft(draft),
	})
	if err != nil {
		return err
	}
	return s.msgr.SendFlow(ctx, user.WhatsAppNumber, ports.FlowPrompt{
		FlowID:    s.ids.DataPurchase,
		FlowToken: token,
		Screen:    ScreenSelectNetwork,
		CTA:       "Buy data",
		Body:      "Pick a network and plan.",
	})
}

func (s *Service) launch(ctx context.Context, user *models.User, flowType string, data map[string]interface{}) (string, error) {
	token, err := s.tokens.Issue(user.ID, flowType, SessionTTL)
	if err != nil {
		return "", err
	}
	err = s.sessions.Create(ctx, token, &models.FlowSession{
		UserID:      user.ID,
		PhoneNumber: user.WhatsAppNumber,
		FlowType:    flowType,
		Data:        data,
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *Service) initialScreen(ctx context.Context, session *models.FlowSession) (exchangeResponse, error) {
	switch session.FlowType {
	case models.FlowTypeOnboarding:
		return exchangeResponse{Version: flowVersion, Screen: ScreenPersonalDetails}, nil
	case models.FlowTypeTransferPIN:
		data := map[string]interface{}{}
		if draft, ok := decodeDraft(session); ok {
			data["summary"] = draft.Summary()
		}
		return exchangeResponse{Version: flowVersion, Screen: ScreenPINVerification, Data: data}, nil
	case models.FlowTypeDataPurchase:
		return exchangeResponse{Version: flowVersion, Screen: ScreenSelectNetwork}, nil
	}
	return exchangeResponse{}, utils.E(utils.KindFlowTokenInvalid, "unknown flow type", nil)
}

func encodeDraft(draft transactions.Draft) string {
	raw, err := json.Marshal(draft)
	if err != nil {
		return ""
	}
	return string(raw)
}

func decodeDraft(session *models.FlowSession) (transactions.Draft, bool) {
	var draft transactions.Draft
	raw, ok := session.Data["draft"].(string)
	if !ok || raw == "" {
		return draft, false
	}
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return draft, false
	}
	return draft, draft.Kind != ""
}

func stringField(data map[string]interface{}, key string) string {
	value, _ := data[key].(string)
	return value
}
