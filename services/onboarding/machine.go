// Package onboarding drives the first-contact state machine: greeting,
// personal details, BVN, virtual account provisioning and PIN setup. Steps
// only move forward; a webhook replay or an out-of-order Flow response can
// never regress a user to an earlier step.
package onboarding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/emeka-okafor/kudipal/models"
	"github.com/emeka-okafor/kudipal/services/conversation"
	"github.com/emeka-okafor/kudipal/services/ledger"
	"github.com/emeka-okafor/kudipal/services/ports"
	"github.com/emeka-okafor/kudipal/utils"
)

// FlowLauncher dispatches the interactive onboarding Flow when one is
// configured. When nil, the machine falls back to plain text prompts.
type FlowLauncher interface {
	LaunchOnboarding(ctx context.Context, user *models.User) error
}

// Virtual account provisioning retry schedule.
const (
	provisionAttempts = 3
	provisionTimeout  = 15 * time.Second
)

var provisionBackoff = []time.Duration{0, time.Second, 2 * time.Second}

// stepRank orders onboarding steps so transitions can be kept monotonic.
var stepRank = map[string]int{
	models.OnboardingStepInitial:         0,
	models.OnboardingStepGreeting:        1,
	models.OnboardingStepPersonalDetails: 2,
	models.OnboardingStepBVN:             3,
	models.OnboardingStepVirtualAccount:  4,
	models.OnboardingStepPINSetup:        5,
	models.OnboardingStepCompleted:       6,
}

// Machine walks a user through onboarding, one inbound message at a time.
// The User Coordinator serializes calls per user, so the machine never races
// with itself for the same user.
type Machine struct {
	users  ports.UserStore
	ledger *ledger.Ledger
	msgr   ports.Messenger
	conv   *conversation.Store
	kyc    ports.KYCClient
	bank   ports.BankClient
	flows  FlowLauncher
	now    func() time.Time
}

// NewMachine wires the onboarding machine. kyc and bank may be nil in
// degraded deployments; BVN verification then stays pending and virtual
// accounts are not provisioned.
func NewMachine(users ports.UserStore, l *ledger.Ledger, msgr ports.Messenger, conv *conversation.Store, kyc ports.KYCClient, bank ports.BankClient) *Machine {
	return &Machine{
		users:  users,
		ledger: l,
		msgr:   msgr,
		conv:   conv,
		kyc:    kyc,
		bank:   bank,
		now:    time.Now,
	}
}

// SetFlowLauncher attaches the interactive Flow dispatcher. Called once at
// composition time; breaks the dependency cycle with the flows package.
func (m *Machine) SetFlowLauncher(fl FlowLauncher) {
	m.flows = fl
}

// Handle advances the user's onboarding based on one inbound message.
func (m *Machine) Handle(ctx context.Context, user *models.User, msg *models.InboundMessage) error {
	switch user.OnboardingStep {
	case "", models.OnboardingStepInitial:
		return m.greet(ctx, user)
	case models.OnboardingStepGreeting:
		return m.startPersonalDetails(ctx, user)
	case models.OnboardingStepPersonalDetails:
		return m.handlePersonalDetails(ctx, user, msg)
	case models.OnboardingStepBVN:
		return m.handleBVN(ctx, user, msg)
	case models.OnboardingStepVirtualAccount:
		return m.retryProvisioning(ctx, user)
	case models.OnboardingStepPINSetup:
		return m.handlePINSetup(ctx, user, msg)
	case models.OnboardingStepCompleted:
		return nil
	}
	utils.LogWarn("Unknown onboarding step %q for user %d", user.OnboardingStep, user.ID)
	return m.greet(ctx, user)
}

func (m *Machine) greet(ctx context.Context, user *models.User) error {
	if err := m.advance(ctx, user, models.OnboardingStepGreeting); err != nil {
		return err
	}
	body := "Welcome to KudiPal! 👋\n\n" +
		"I'm your money assistant on WhatsApp. You can send money, buy airtime " +
		"and data, and pay bills right here in chat.\n\n" +
		"Let's set up your account. Reply with anything to begin."
	return m.msgr.SendText(ctx, user.WhatsAppNumber, body)
}

func (m *Machine) startPersonalDetails(ctx context.Context, user *models.User) error {
	if err := m.advance(ctx, user, models.OnboardingStepPersonalDetails); err != nil {
		return err
	}
	if m.flows != nil {
		if err := m.flows.LaunchOnboarding(ctx, user); err == nil {
			return nil
		} else {
			utils.LogWarn("Onboarding flow launch failed for user %d, falling back to text: %v", user.ID, err)
		}
	}
	if err := m.conv.Set(ctx, user.WhatsAppNumber, &models.ConversationState{
		Intent:        "onboarding",
		AwaitingInput: models.AwaitingPersonalDetails,
	}); err != nil {
		return err
	}
	return m.msgr.SendText(ctx, user.WhatsAppNumber, personalDetailsPrompt)
}

const personalDetailsPrompt = "First, a few details. Please send them in this format:\n\n" +
	"Name: Ada Obi\n" +
	"Date of birth: 14/02/1995\n" +
	"Gender: female\n" +
	"Address: 12 Allen Avenue, Ikeja, Lagos"

// PersonalDetails is the validated personal-details submission, from either
// the interactive Flow or the text fallback.
type PersonalDetails struct {
	FirstName   string
	LastName    string
	DateOfBirth string // dd/mm/yyyy
	Gender      string
	Address     string
	Email       string
}

func (m *Machine) handlePersonalDetails(ctx context.Context, user *models.User, msg *models.InboundMessage) error {
	details, err := parsePersonalDetails(msg)
	if err != nil {
		return m.msgr.SendText(ctx, user.WhatsAppNumber,
			utils.UserMessage(err)+"\n\n"+personalDetailsPrompt)
	}
	if err := m.ApplyPersonalDetails(ctx, user, details); err != nil {
		return m.msgr.SendText(ctx, user.WhatsAppNumber,
			utils.UserMessage(err)+"\n\n"+personalDetailsPrompt)
	}
	_ = m.conv.Clear(ctx, user.WhatsAppNumber)
	return m.promptBVN(ctx, user)
}

// ApplyPersonalDetails validates and persists the personal details and
// advances the user to the BVN step. Shared with the Flow endpoint.
func (m *Machine) ApplyPersonalDetails(ctx context.Context, user *models.User, details PersonalDetails) error {
	first := strings.TrimSpace(details.FirstName)
	last := strings.TrimSpace(details.LastName)
	if first == "" || last == "" {
		return utils.ValidationError("Please include your first and last name")
	}
	dob, err := utils.ParseDOB(details.DateOfBirth)
	if err != nil {
		return err
	}
	gender, err := utils.NormalizeGender(details.Gender)
	if err != nil {
		return err
	}
	address := strings.TrimSpace(details.Address)
	if address == "" {
		return utils.ValidationError("Please include your address")
	}
	if details.Email != "" {
		if err := utils.ValidateEmail(details.Email); err != nil {
			return err
		}
		user.Email = strings.TrimSpace(details.Email)
	}

	user.FirstName = first
	user.LastName = last
	user.DateOfBirth = &dob
	user.Gender = gender
	user.Address = address
	return m.advance(ctx, user, models.OnboardingStepBVN)
}

func (m *Machine) promptBVN(ctx context.Context, user *models.User) error {
	body := fmt.Sprintf("Thanks %s! 🎉\n\n"+
		"Next, your Bank Verification Number (BVN). We use it to verify your "+
		"identity; we never share it. Dial *565*0# on your registered line if "+
		"you've forgotten it.\n\nPlease send your 11-digit BVN.", user.FirstName)
	return m.msgr.SendText(ctx, user.WhatsAppNumber, body)
}

func (m *Machine) handleBVN(ctx context.Context, user *models.User, msg *models.InboundMessage) error {
	bvn := strings.TrimSpace(msg.BodyText())
	if err := m.ApplyBVN(ctx, user, bvn); err != nil {
		return m.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
	}
	return m.retryProvisioning(ctx, user)
}

// ApplyBVN validates and stores the BVN, runs a best-effort identity check
// and advances the user to virtual account provisioning. A KYC outage never
// blocks onboarding; the status stays pending for a later re-check.
func (m *Machine) ApplyBVN(ctx context.Context, user *models.User, bvn string) error {
	bvn = strings.TrimSpace(bvn)
	if err := utils.ValidateBVN(bvn); err != nil {
		return err
	}
	user.BVN = bvn
	user.KYCStatus = models.KYCStatusPending

	if m.kyc != nil {
		kycCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		result, err := m.kyc.VerifyBVN(kycCtx, bvn, user.FirstName, user.LastName, user.DateOfBirth)
		cancel()
		switch {
		case err != nil:
			utils.LogWarn("BVN verification unavailable for user %d: %v", user.ID, err)
		case result.Match:
			user.KYCStatus = models.KYCStatusVerified
		default:
			utils.LogInfo("BVN mismatch for user %d: %s", user.ID, result.Reason)
			user.KYCStatus = models.KYCStatusRejected
		}
	}
	return m.advance(ctx, user, models.OnboardingStepVirtualAccount)
}

// retryProvisioning attempts virtual account provisioning and either moves
// the user on to PIN setup or asks them to try again later.
func (m *Machine) retryProvisioning(ctx context.Context, user *models.User) error {
	if err := m.ProvisionVirtualAccount(ctx, user); err != nil {
		utils.LogError("Virtual account provisioning failed for user %d: %v", user.ID, err)
		return m.msgr.SendText(ctx, user.WhatsAppNumber,
			"We couldn't open your account just now. Send any message in a few minutes and I'll try again.")
	}
	return m.promptPINSetup(ctx, user)
}

// ProvisionVirtualAccount asks the bank partner for a dedicated collection
// account, retrying transient failures, then creates the wallet and stores
// the account details. Safe to call again after a partial failure.
func (m *Machine) ProvisionVirtualAccount(ctx context.Context, user *models.User) error {
	wallet, err := m.ledger.EnsureWallet(ctx, user.ID)
	if err != nil {
		return err
	}
	if wallet.VirtualAccountNumber != "" {
		return m.advance(ctx, user, models.OnboardingStepPINSetup)
	}
	if m.bank == nil {
		return utils.InternalError("no banking partner configured", nil)
	}

	req := ports.VirtualAccountRequest{
		UserID:      user.ID,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		BVN:         user.BVN,
		PhoneNumber: user.WhatsAppNumber,
	}
	var account ports.VirtualAccount
	var lastErr error
	for attempt := 0; attempt < provisionAttempts; attempt++ {
		if wait := provisionBackoff[attempt]; wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, provisionTimeout)
		account, lastErr = m.bank.CreateVirtualAccount(callCtx, req)
		cancel()
		if lastErr == nil {
			break
		}
		utils.LogWarn("Virtual account attempt %d failed for user %d: %v", attempt+1, user.ID, lastErr)
	}
	if lastErr != nil {
		return utils.E(utils.KindProviderRetryable, "virtual account provisioning failed", lastErr)
	}

	wallet.VirtualAccountNumber = account.AccountNumber
	wallet.VirtualBankCode = account.BankCode
	wallet.VirtualBankName = account.BankName
	wallet.VirtualAccountName = account.AccountName
	if err := m.ledger.SaveWallet(ctx, wallet); err != nil {
		return err
	}
	return m.advance(ctx, user, models.OnboardingStepPINSetup)
}

func (m *Machine) promptPINSetup(ctx context.Context, user *models.User) error {
	if err := m.conv.Set(ctx, user.WhatsAppNumber, &models.ConversationState{
		Intent:        "onboarding",
		AwaitingInput: models.AwaitingPINSetup,
	}); err != nil {
		return err
	}
	body := "Your account is ready! 🏦\n\n" +
		"Last step: choose a 4-digit transaction PIN. You'll use it to approve " +
		"every transaction, so keep it secret.\n\nSend your new PIN now."
	return m.msgr.SendText(ctx, user.WhatsAppNumber, body)
}

// pinDraft carries the first PIN entry between the setup and confirm turns.
type pinDraft struct {
	PIN string `json:"pin"`
}

func (m *Machine) handlePINSetup(ctx context.Context, user *models.User, msg *models.InboundMessage) error {
	entry := strings.TrimSpace(msg.BodyText())
	state, err := m.conv.Get(ctx, user.WhatsAppNumber)
	if err != nil {
		return err
	}
	if state == nil {
		return m.promptPINSetup(ctx, user)
	}

	switch state.AwaitingInput {
	case models.AwaitingPINSetup:
		if err := utils.ValidatePIN(entry); err != nil {
			return m.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
		}
		next := &models.ConversationState{Intent: "onboarding", AwaitingInput: models.AwaitingPINConfirm}
		if err := next.SetData(pinDraft{PIN: entry}); err != nil {
			return err
		}
		if err := m.conv.Set(ctx, user.WhatsAppNumber, next); err != nil {
			return err
		}
		return m.msgr.SendText(ctx, user.WhatsAppNumber, "Got it. Send the same PIN once more to confirm.")

	case models.AwaitingPINConfirm:
		var draft pinDraft
		if err := state.GetData(&draft); err != nil || draft.PIN == "" {
			_ = m.conv.Clear(ctx, user.WhatsAppNumber)
			return m.promptPINSetup(ctx, user)
		}
		if entry != draft.PIN {
			_ = m.conv.Clear(ctx, user.WhatsAppNumber)
			if err := m.msgr.SendText(ctx, user.WhatsAppNumber, "The PINs don't match. Let's start over."); err != nil {
				return err
			}
			return m.promptPINSetup(ctx, user)
		}
		if err := m.ApplyPIN(ctx, user, entry); err != nil {
			return m.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
		}
		_ = m.conv.Clear(ctx, user.WhatsAppNumber)
		return m.SendWelcome(ctx, user)
	}
	return m.promptPINSetup(ctx, user)
}

// ApplyPIN hashes and stores the transaction PIN and completes onboarding.
// Shared with the Flow endpoint, which collects PIN and confirmation in one
// screen.
func (m *Machine) ApplyPIN(ctx context.Context, user *models.User, pin string) error {
	if err := utils.ValidatePIN(pin); err != nil {
		return err
	}
	hash, err := utils.HashPIN(pin)
	if err != nil {
		return utils.InternalError("failed to hash PIN", err)
	}
	user.PINHash = hash
	user.PINFailures = 0
	user.PINLockedUntil = nil
	if user.ReferralCode == "" {
		user.ReferralCode = utils.NewReferralCode()
	}
	now := m.now()
	user.LastWelcomedAt = &now
	return m.advance(ctx, user, models.OnboardingStepCompleted)
}

// SendWelcome sends the completion message with the funding account details.
func (m *Machine) SendWelcome(ctx context.Context, user *models.User) error {
	wallet, err := m.ledger.Wallet(ctx, user.ID)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("You're all set, %s! ✅\n\n"+
		"Fund your wallet with a bank transfer to:\n"+
		"Account: %s\n"+
		"Bank: %s\n"+
		"Name: %s\n\n"+
		"Then try:\n"+
		"• \"Send 2000 to 0123456789 GTBank\"\n"+
		"• \"Buy 500 airtime\"\n"+
		"• \"Balance\"",
		user.FirstName, wallet.VirtualAccountNumber, wallet.VirtualBankName, wallet.VirtualAccountName)
	return m.msgr.SendText(ctx, user.WhatsAppNumber, body)
}

// advance persists the user at the target step. Transitions are monotonic:
// asking for a step at or behind the current one only saves the user's other
// field changes.
func (m *Machine) advance(ctx context.Context, user *models.User, step string) error {
	if stepRank[step] > stepRank[user.OnboardingStep] {
		user.OnboardingStep = step
	}
	return m.users.Save(ctx, user)
}

// parsePersonalDetails reads a submission from either a Flow nfm_reply or
// the labelled-lines text fallback.
func parsePersonalDetails(msg *models.InboundMessage) (PersonalDetails, error) {
	if len(msg.NFMResponse) > 0 {
		var payload struct {
			FirstName   string `json:"first_name"`
			LastName    string `json:"last_name"`
			DateOfBirth string `json:"date_of_birth"`
			Gender      string `json:"gender"`
			Address     string `json:"address"`
			Email       string `json:"email"`
		}
		if err := json.Unmarshal(msg.NFMResponse, &payload); err != nil {
			return PersonalDetails{}, utils.ValidationError("We couldn't read that form. Please try again.")
		}
		return PersonalDetails{
			FirstName:   payload.FirstName,
			LastName:    payload.LastName,
			DateOfBirth: payload.DateOfBirth,
			Gender:      payload.Gender,
			Address:     payload.Address,
			Email:       payload.Email,
		}, nil
	}
	return parsePersonalDetailsText(msg.BodyText())
}

func parsePersonalDetailsText(body string) (PersonalDetails, error) {
	var details PersonalDetails
	for _, line := range strings.Split(body, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "name":
			first, last, _ := strings.Cut(value, " ")
			details.FirstName = strings.TrimSpace(first)
			details.LastName = strings.TrimSpace(last)
		case "date of birth", "dob":
			details.DateOfBirth = value
		case "gender":
			details.Gender = value
		case "address":
			details.Address = value
		case "email":
			details.Email = value
		}
	}
	if details.FirstName == "" {
		return details, utils.ValidationError("Please send your details using the format shown")
	}
	return details, nil
}
