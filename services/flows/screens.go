package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/emeka-okafor/kudipal/models"
	"github.com/emeka-okafor/kudipal/services/onboarding"
	"github.com/emeka-okafor/kudipal/utils"
)

// handleOnboardingScreen walks the onboarding Flow: personal details, BVN,
// then PIN setup. Each submission lands on the shared state machine methods,
// so the Flow path and the chat fallback converge on identical transitions.
func (s *Service) handleOnboardingScreen(ctx context.Context, user *models.User, session *models.FlowSession, payload exchangeRequest) (exchangeResponse, error) {
	switch payload.Screen {
	case ScreenPersonalDetails:
		details := onboarding.PersonalDetails{
			FirstName:   stringField(payload.Data, "first_name"),
			LastName:    stringField(payload.Data, "last_name"),
			DateOfBirth: stringField(payload.Data, "date_of_birth"),
			Gender:      stringField(payload.Data, "gender"),
			Address:     stringField(payload.Data, "address"),
			Email:       stringField(payload.Data, "email"),
		}
		if err := s.onb.ApplyPersonalDetails(ctx, user, details); err != nil {
			return exchangeResponse{}, err
		}
		return exchangeResponse{Version: flowVersion, Screen: ScreenBVN}, nil

	case ScreenBVN:
		if err := s.onb.ApplyBVN(ctx, user, stringField(payload.Data, "bvn")); err != nil {
			return exchangeResponse{}, err
		}
		if err := s.onb.ProvisionVirtualAccount(ctx, user); err != nil {
			// The account can be provisioned later from chat; don't trap the
			// user on a screen that can't succeed right now.
			utils.LogWarn("Provisioning inside flow failed for user %d: %v", user.ID, err)
			_ = s.sessions.Destroy(ctx, payload.FlowToken)
			_ = s.msgr.SendText(ctx, user.WhatsAppNumber,
				"We couldn't open your account just now. Send any message in a few minutes and I'll try again.")
			return terminal(payload.FlowToken), nil
		}
		return s.pinSetupScreen(ctx, user)

	case ScreenPINSetup:
		pin := strings.TrimSpace(stringField(payload.Data, "pin"))
		confirm := strings.TrimSpace(stringField(payload.Data, "pin_confirm"))
		if pin != confirm {
			return exchangeResponse{}, utils.ValidationError("The PINs don't match. Try again.")
		}
		if err := s.onb.ApplyPIN(ctx, user, pin); err != nil {
			return exchangeResponse{}, err
		}
		_ = s.sessions.Destroy(ctx, payload.FlowToken)
		if err := s.onb.SendWelcome(ctx, user); err != nil {
			utils.LogError("Welcome message failed for user %d: %v", user.ID, err)
		}
		return terminal(payload.FlowToken), nil
	}
	return exchangeResponse{}, utils.ValidationError("Unknown screen")
}

func (s *Service) pinSetupScreen(ctx context.Context, user *models.User) (exchangeResponse, error) {
	wallet, err := s.ledger.Wallet(ctx, user.ID)
	if err != nil {
		return exchangeResponse{Version: flowVersion, Screen: ScreenPINSetup}, nil
	}
	return exchangeResponse{
		Version: flowVersion,
		Screen:  ScreenPINSetup,
		Data: map[string]interface{}{
			"account_number": wallet.VirtualAccountNumber,
			"bank_name":      wallet.VirtualBankName,
			"account_name":   wallet.VirtualAccountName,
		},
	}, nil
}

// handlePINScreen executes a priced draft once the user approves it with
// their PIN inside the Flow keypad.
func (s *Service) handlePINScreen(ctx context.Context, user *models.User, session *models.FlowSession, payload exchangeRequest) (exchangeResponse, error) {
	if payload.Screen != ScreenPINVerification {
		return exchangeResponse{}, utils.ValidationError("Unknown screen")
	}
	draft, ok := decodeDraft(session)
	if !ok {
		return exchangeResponse{}, utils.E(utils.KindFlowTokenInvalid, "flow session has no transaction", nil)
	}

	pin := strings.TrimSpace(stringField(payload.Data, "pin"))
	_, err := s.orch.ExecuteWithPIN(ctx, user, draft, pin)
	if err != nil {
		switch utils.KindOf(err) {
		case utils.KindPINMismatch:
			// Keep the keypad open for another attempt.
			return exchangeResponse{}, err
		case utils.KindProviderRetryable:
			// Ambiguous outcome: close the flow, updates arrive in chat.
		default:
			// Definite failure: close the flow and tell the user in chat.
			_ = s.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
		}
	}
	s.orch.ClearDialogue(ctx, user)
	_ = s.sessions.Destroy(ctx, payload.FlowToken)
	return terminal(payload.FlowToken), nil
}

// handleDataScreen walks the data purchase Flow: network, plan, PIN.
func (s *Service) handleDataScreen(ctx context.Context, user *models.User, session *models.FlowSession, payload exchangeRequest) (exchangeResponse, error) {
	draft, _ := decodeDraft(session)
	if draft.Kind == "" {
		draft.Kind = models.TransactionTypeData
	}
	if draft.Phone == "" {
		draft.Phone = user.WhatsAppNumber
	}

	switch payload.Screen {
	case ScreenSelectNetwork:
		network := strings.ToLower(stringField(payload.Data, "network"))
		if network == "" {
			return exchangeResponse{}, utils.ValidationError("Pick a network")
		}
		draft.Network = network

		plans, err := s.orch.Plans(ctx, network)
		if err != nil || len(plans) == 0 {
			return exchangeResponse{}, utils.E(utils.KindProviderRetryable, "data plans unavailable", err)
		}
		planRows := make([]map[string]interface{}, 0, len(plans))
		for _, plan := range plans {
			planRows = append(planRows, map[string]interface{}{
				"id":    plan.Code,
				"title": fmt.Sprintf("%s · %s · %s", plan.Name, utils.FormatNaira(plan.Amount), plan.Validity),
			})
		}

		session.Data = map[string]interface{}{"draft": encodeDraft(draft)}
		if err := s.sessions.Update(ctx, payload.FlowToken, session); err != nil {
			return exchangeResponse{}, err
		}
		return exchangeResponse{
			Version: flowVersion,
			Screen:  ScreenSelectPlan,
			Data:    map[string]interface{}{"plans": planRows},
		}, nil

	case ScreenSelectPlan:
		code := stringField(payload.Data, "plan_code")
		plans, err := s.orch.Plans(ctx, draft.Network)
		if err != nil {
			return exchangeResponse{}, utils.E(utils.KindProviderRetryable, "data plans unavailable", err)
		}
		found := false
		for _, plan := range plans {
			if plan.Code == code {
				draft.PlanCode = plan.Code
				draft.PlanName = plan.Name
				draft.Amount = plan.Amount
				found = true
				break
			}
		}
		if !found {
			return exchangeResponse{}, utils.ValidationError("That plan is no longer available")
		}
		s.orch.PriceDraft(&draft)

		session.Data = map[string]interface{}{"draft": encodeDraft(draft)}
		if err := s.sessions.Update(ctx, payload.FlowToken, session); err != nil {
			return exchangeResponse{}, err
		}
		return exchangeResponse{
			Version: flowVersion,
			Screen:  ScreenPINVerification,
			Data:    map[string]interface{}{"summary": draft.Summary()},
		}, nil

	case ScreenPINVerification:
		return s.handlePINScreen(ctx, user, session, payload)
	}
	return exchangeResponse{}, utils.ValidationError("Unknown screen")
}
