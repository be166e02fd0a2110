// Package transactions orchestrates money movement: transfer, airtime, data
// and utility drafts, confirmation and PIN challenge, the debit-hold /
// provider-call / settle-or-fail pipeline, and reconciliation of ambiguous
// outcomes. All entry points run inside the per-user serialized zone.
package transactions

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/emeka-okafor/kudipal/models"
	"github.com/emeka-okafor/kudipal/services/conversation"
	"github.com/emeka-okafor/kudipal/services/ledger"
	"github.com/emeka-okafor/kudipal/services/ports"
	"github.com/emeka-okafor/kudipal/utils"
)

// PIN lockout policy: five consecutive failures lock the PIN for 30 minutes.
const (
	maxPINAttempts = 5
	pinLockout     = 30 * time.Minute
)

// Provider call policy: 30 s per attempt, up to three attempts for failures
// tagged retryable. Ambiguous outcomes go to the reconciler, never to an
// immediate refund.
const (
	providerTimeout  = 30 * time.Second
	providerAttempts = 3
)

var providerBackoff = []time.Duration{0, time.Second, 2 * time.Second}

// FeePolicy computes transaction fees. Transfer fees are the greater of the
// flat fee and the rate applied to the amount, rounded up to the naira.
type FeePolicy struct {
	TransferFlat float64
	TransferRate float64
	UtilityFlat  float64
}

// Fee returns the fee for a draft of the given kind and amount.
func (f FeePolicy) Fee(kind string, amount float64) float64 {
	switch kind {
	case models.TransactionTypeTransfer:
		pct := math.Ceil(amount * f.TransferRate)
		if pct > f.TransferFlat {
			return pct
		}
		return f.TransferFlat
	case models.TransactionTypeUtility:
		return f.UtilityFlat
	}
	return 0
}

// Draft is a fully priced transaction awaiting confirmation and PIN. It is
// stored in conversation state (or a Flow session) between turns.
type Draft struct {
	Kind   string  `json:"kind"`
	Amount float64 `json:"amount"`
	Fee    float64 `json:"fee"`

	// Transfer fields.
	AccountNumber string `json:"account_number,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	BankName      string `json:"bank_name,omitempty"`
	AccountName   string `json:"account_name,omitempty"`
	Narration     string `json:"narration,omitempty"`

	// Airtime and data fields.
	Network  string `json:"network,omitempty"`
	Phone    string `json:"phone,omitempty"`
	PlanCode string `json:"plan_code,omitempty"`
	PlanName string `json:"plan_name,omitempty"`

	// Utility fields.
	Biller     string `json:"biller,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
}

// Total is the amount leaving the wallet: amount plus fee.
func (d Draft) Total() float64 {
	return d.Amount + d.Fee
}

// Summary renders the confirmation copy for the draft.
func (d Draft) Summary() string {
	switch d.Kind {
	case models.TransactionTypeTransfer:
		lines := []string{
			fmt.Sprintf("Send %s to:", utils.FormatNaira(d.Amount)),
			fmt.Sprintf("Account: %s", utils.MaskAccountNumber(d.AccountNumber)),
			fmt.Sprintf("Bank: %s", d.BankName),
		}
		if d.AccountName != "" {
			lines = append(lines, fmt.Sprintf("Name: %s", d.AccountName))
		}
		lines = append(lines, fmt.Sprintf("Fee: %s", utils.FormatNaira(d.Fee)),
			fmt.Sprintf("Total: %s", utils.FormatNaira(d.Total())))
		return strings.Join(lines, "\n")
	case models.TransactionTypeAirtime:
		return fmt.Sprintf("Buy %s %s airtime for %s?\nTotal: %s",
			utils.FormatNaira(d.Amount), strings.ToUpper(d.Network), d.Phone, utils.FormatNaira(d.Total()))
	case models.TransactionTypeData:
		return fmt.Sprintf("Buy %s (%s) for %s?\nTotal: %s",
			d.PlanName, strings.ToUpper(d.Network), d.Phone, utils.FormatNaira(d.Total()))
	case models.TransactionTypeUtility:
		return fmt.Sprintf("Pay %s to %s (%s)?\nFee: %s\nTotal: %s",
			utils.FormatNaira(d.Amount), d.Biller, d.CustomerID,
			utils.FormatNaira(d.Fee), utils.FormatNaira(d.Total()))
	}
	return fmt.Sprintf("Pay %s?", utils.FormatNaira(d.Total()))
}

func (d Draft) description() string {
	switch d.Kind {
	case models.TransactionTypeTransfer:
		if d.AccountName != "" {
			return fmt.Sprintf("Transfer to %s (%s)", d.AccountName, d.BankName)
		}
		return fmt.Sprintf("Transfer to %s (%s)", utils.MaskAccountNumber(d.AccountNumber), d.BankName)
	case models.TransactionTypeAirtime:
		return fmt.Sprintf("%s airtime for %s", strings.ToUpper(d.Network), d.Phone)
	case models.TransactionTypeData:
		return fmt.Sprintf("%s for %s", d.PlanName, d.Phone)
	case models.TransactionTypeUtility:
		return fmt.Sprintf("%s bill for %s", d.Biller, d.CustomerID)
	}
	return "Wallet debit"
}

func (d Draft) refPrefix() string {
	switch d.Kind {
	case models.TransactionTypeAirtime:
		return utils.RefAirtime
	case models.TransactionTypeData:
		return utils.RefData
	case models.TransactionTypeUtility:
		return utils.RefUtility
	}
	return utils.RefBankTransfer
}

// FlowLauncher dispatches interactive Flows for PIN entry and data-plan
// selection. When nil, the orchestrator falls back to chat prompts.
type FlowLauncher interface {
	LaunchTransferPIN(ctx context.Context, user *models.User, draft Draft) error
	LaunchDataPurchase(ctx context.Context, user *models.User, draft Draft) error
}

// Orchestrator owns the transaction lifecycle for all debit products.
type Orchestrator struct {
	users  ports.UserStore
	ledger *ledger.Ledger
	conv   *conversation.Store
	msgr   ports.Messenger
	bank   ports.BankClient
	vas    ports.VasClient
	fees   FeePolicy
	flows  FlowLauncher
	now    func() time.Time
}

// NewOrchestrator wires the orchestrator. bank and vas may be nil in degraded
// deployments; the affected products then fail with a clear message.
func NewOrchestrator(users ports.UserStore, l *ledger.Ledger, conv *conversation.Store, msgr ports.Messenger, bank ports.BankClient, vas ports.VasClient, fees FeePolicy) *Orchestrator {
	return &Orchestrator{
		users:  users,
		ledger: l,
		conv:   conv,
		msgr:   msgr,
		bank:   bank,
		vas:    vas,
		fees:   fees,
		now:    time.Now,
	}
}

// SetFlowLauncher attaches the Flow dispatcher at composition time.
func (o *Orchestrator) SetFlowLauncher(fl FlowLauncher) {
	o.flows = fl
}

// StartTransfer prices a transfer from the resolved intent slots and asks the
// user to confirm. Slots arrive as the raw strings the user typed.
func (o *Orchestrator) StartTransfer(ctx context.Context, user *models.User, amountRaw, accountNumber, bankName string) error {
	if o.bank == nil {
		return o.msgr.SendText(ctx, user.WhatsAppNumber, "Transfers are unavailable right now. Please try again later.")
	}
	amount, err := utils.ParseAmount(amountRaw)
	if err != nil {
		return o.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
	}
	accountNumber = strings.TrimSpace(accountNumber)
	if err := utils.ValidateAccountNumber(accountNumber); err != nil {
		return o.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
	}
	bank, ok := utils.ResolveBank(bankName)
	if !ok {
		return o.msgr.SendText(ctx, user.WhatsAppNumber,
			fmt.Sprintf("I don't recognize the bank %q. Try the common name, e.g. GTBank, Zenith, Opay.", bankName))
	}

	draft := Draft{
		Kind:          models.TransactionTypeTransfer,
		Amount:        amount,
		Fee:           o.fees.Fee(models.TransactionTypeTransfer, amount),
		AccountNumber: accountNumber,
		BankCode:      bank.Code,
		BankName:      bank.Name,
	}

	if err := o.precheck(ctx, user, draft); err != nil {
		return o.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
	}

	// Name enquiry is best effort: a resolution outage shouldn't block the
	// transfer, the user confirms the account number either way.
	nameCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if name, err := o.bank.ResolveAccount(nameCtx, accountNumber, bank.Code); err == nil {
		draft.AccountName = name
	} else {
		utils.LogWarn("Account name enquiry failed for %s/%s: %v", utils.MaskAccountNumber(accountNumber), bank.Code, err)
	}
	cancel()

	return o.askConfirmation(ctx, user, draft)
}

// StartAirtime prices an airtime top-up. An empty phone defaults to the
// user's own number.
func (o *Orchestrator) StartAirtime(ctx context.Context, user *models.User, amountRaw, network, phone string) error {
	if o.vas == nil {
		return o.msgr.SendText(ctx, user.WhatsAppNumber, "Airtime purchases are unavailable right now. Please try again later.")
	}
	amount, err := utils.ParseAmount(amountRaw)
	if err != nil {
		return o.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
	}
	msisdn, err := o.topupNumber(user, phone)
	if err != nil {
		return o.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
	}
	network = normalizeNetwork(network)
	if network == "" {
		return o.askNetwork(ctx, user, Draft{Kind: models.TransactionTypeAirtime, Amount: amount, Phone: msisdn})
	}

	draft := Draft{
		Kind:    models.TransactionTypeAirtime,
		Amount:  amount,
		Network: network,
		Phone:   msisdn,
	}
	if err := o.precheck(ctx, user, draft); err != nil {
		return o.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
	}
	return o.askConfirmation(ctx, user, draft)
}

// StartData begins a data purchase: the user picks a network, then a plan
// from the vendor's catalogue, then confirms and enters their PIN.
func (o *Orchestrator) StartData(ctx context.Context, user *models.User, network, phone string) error {
	if o.vas == nil {
		return o.msgr.SendText(ctx, user.WhatsAppNumber, "Data purchases are unavailable right now. Please try again later.")
	}
	msisdn, err := o.topupNumber(user, phone)
	if err != nil {
		return o.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
	}
	draft := Draft{Kind: models.TransactionTypeData, Phone: msisdn, Network: normalizeNetwork(network)}
	if draft.Network == "" {
		return o.askNetwork(ctx, user, draft)
	}
	return o.askDataPlan(ctx, user, draft)
}

// StartUtility prices a bill payment and asks the user to confirm.
func (o *Orchestrator) StartUtility(ctx context.Context, user *models.User, amountRaw, biller, customerID string) error {
	if o.vas == nil {
		return o.msgr.SendText(ctx, user.WhatsAppNumber, "Bill payments are unavailable right now. Please try again later.")
	}
	amount, err := utils.ParseAmount(amountRaw)
	if err != nil {
		return o.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
	}
	biller = strings.TrimSpace(biller)
	customerID = strings.TrimSpace(customerID)
	if biller == "" || customerID == "" {
		return o.msgr.SendText(ctx, user.WhatsAppNumber,
			"To pay a bill, send the biller and your customer or meter number, e.g. \"Pay 5000 IKEDC 45021234567\".")
	}

	draft := Draft{
		Kind:       models.TransactionTypeUtility,
		Amount:     amount,
		Fee:        o.fees.Fee(models.TransactionTypeUtility, amount),
		Biller:     biller,
		CustomerID: customerID,
	}
	if err := o.precheck(ctx, user, draft); err != nil {
		return o.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
	}
	return o.askConfirmation(ctx, user, draft)
}

// Resume continues a multi-turn transaction dialogue. Returns false when the
// awaited input doesn't belong to this package.
func (o *Orchestrator) Resume(ctx context.Context, user *models.User, state *models.ConversationState, msg *models.InboundMessage) (bool, error) {
	switch state.AwaitingInput {
	case models.AwaitingTransferConfirm:
		return true, o.handleConfirmation(ctx, user, state, msg)
	case models.AwaitingPINForTransfer, models.AwaitingPINForPurchase:
		return true, o.handlePINEntry(ctx, user, state, msg)
	case models.AwaitingDataPlan:
		return true, o.handleDataSelection(ctx, user, state, msg)
	}
	return false, nil
}

func (o *Orchestrator) askConfirmation(ctx context.Context, user *models.User, draft Draft) error {
	state := &models.ConversationState{Intent: draft.Kind, AwaitingInput: models.AwaitingTransferConfirm}
	if err := state.SetData(draft); err != nil {
		return err
	}
	if err := o.conv.Set(ctx, user.WhatsAppNumber, state); err != nil {
		return err
	}
	return o.msgr.SendButtons(ctx, user.WhatsAppNumber, draft.Summary(), []ports.Button{
		{ID: "confirm", Title: "Confirm"},
		{ID: "cancel", Title: "Cancel"},
	})
}

func (o *Orchestrator) handleConfirmation(ctx context.Context, user *models.User, state *models.ConversationState, msg *models.InboundMessage) error {
	var draft Draft
	if err := state.GetData(&draft); err != nil || draft.Kind == "" {
		_ = o.conv.Clear(ctx, user.WhatsAppNumber)
		return o.msgr.SendText(ctx, user.WhatsAppNumber, "That request has expired. Please start again.")
	}

	switch answer(msg) {
	case "confirm":
		return o.challengePIN(ctx, user, draft)
	case "cancel":
		_ = o.conv.Clear(ctx, user.WhatsAppNumber)
		return o.msgr.SendText(ctx, user.WhatsAppNumber, "Cancelled. Nothing left your wallet.")
	}
	return o.msgr.SendButtons(ctx, user.WhatsAppNumber, "Please confirm or cancel:\n\n"+draft.Summary(), []ports.Button{
		{ID: "confirm", Title: "Confirm"},
		{ID: "cancel", Title: "Cancel"},
	})
}

// challengePIN moves the dialogue into PIN entry, preferring the encrypted
// Flow keypad over a chat message.
func (o *Orchestrator) challengePIN(ctx context.Context, user *models.User, draft Draft) error {
	if user.PINLocked(o.now()) {
		_ = o.conv.Clear(ctx, user.WhatsAppNumber)
		return o.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(utils.E(utils.KindPINLocked, "", nil)))
	}

	awaiting := models.AwaitingPINForPurchase
	if draft.Kind == models.TransactionTypeTransfer {
		awaiting = models.AwaitingPINForTransfer
	}
	state := &models.ConversationState{Intent: draft.Kind, AwaitingInput: awaiting}
	if err := state.SetData(draft); err != nil {
		return err
	}
	if err := o.conv.Set(ctx, user.WhatsAppNumber, state); err != nil {
		return err
	}

	if o.flows != nil {
		if err := o.flows.LaunchTransferPIN(ctx, user, draft); err == nil {
			return nil
		} else {
			utils.LogWarn("PIN flow launch failed for user %d, falling back to text: %v", user.ID, err)
		}
	}
	return o.msgr.SendText(ctx, user.WhatsAppNumber, "Enter your 4-digit PIN to approve this transaction.")
}

func (o *Orchestrator) handlePINEntry(ctx context.Context, user *models.User, state *models.ConversationState, msg *models.InboundMessage) error {
	var draft Draft
	if err := state.GetData(&draft); err != nil || draft.Kind == "" {
		_ = o.conv.Clear(ctx, user.WhatsAppNumber)
		return o.msgr.SendText(ctx, user.WhatsAppNumber, "That request has expired. Please start again.")
	}

	pin := strings.TrimSpace(msg.BodyText())
	_, err := o.ExecuteWithPIN(ctx, user, draft, pin)
	if err != nil {
		switch utils.KindOf(err) {
		case utils.KindPINMismatch:
			// Keep the dialogue open for another attempt.
			return o.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
		case utils.KindProviderRetryable:
			_ = o.conv.Clear(ctx, user.WhatsAppNumber)
			return o.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
		default:
			_ = o.conv.Clear(ctx, user.WhatsAppNumber)
			return o.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
		}
	}
	_ = o.conv.Clear(ctx, user.WhatsAppNumber)
	return nil
}

func (o *Orchestrator) askNetwork(ctx context.Context, user *models.User, draft Draft) error {
	state := &models.ConversationState{Intent: draft.Kind, AwaitingInput: models.AwaitingDataPlan}
	if err := state.SetData(draft); err != nil {
		return err
	}
	if err := o.conv.Set(ctx, user.WhatsAppNumber, state); err != nil {
		return err
	}
	return o.msgr.SendList(ctx, user.WhatsAppNumber, "Which network?", "Choose network", []ports.ListSection{{
		Title: "Networks",
		Rows: []ports.ListRow{
			{ID: "network:mtn", Title: "MTN"},
			{ID: "network:glo", Title: "Glo"},
			{ID: "network:airtel", Title: "Airtel"},
			{ID: "network:9mobile", Title: "9mobile"},
		},
	}})
}

func (o *Orchestrator) askDataPlan(ctx context.Context, user *models.User, draft Draft) error {
	plansCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	plans, err := o.vas.DataPlans(plansCtx, draft.Network)
	cancel()
	if err != nil || len(plans) == 0 {
		utils.LogError("Data plan catalogue unavailable for %s: %v", draft.Network, err)
		return o.msgr.SendText(ctx, user.WhatsAppNumber, "We couldn't load data plans right now. Please try again shortly.")
	}
	if len(plans) > 10 {
		plans = plans[:10] // WhatsApp caps list rows
	}

	rows := make([]ports.ListRow, 0, len(plans))
	for _, plan := range plans {
		rows = append(rows, ports.ListRow{
			ID:          "plan:" + plan.Code,
			Title:       plan.Name,
			Description: fmt.Sprintf("%s · %s", utils.FormatNaira(plan.Amount), plan.Validity),
		})
	}

	state := &models.ConversationState{Intent: draft.Kind, AwaitingInput: models.AwaitingDataPlan}
	if err := state.SetData(draft); err != nil {
		return err
	}
	if err := o.conv.Set(ctx, user.WhatsAppNumber, state); err != nil {
		return err
	}
	return o.msgr.SendList(ctx, user.WhatsAppNumber,
		fmt.Sprintf("%s data plans for %s:", strings.ToUpper(draft.Network), draft.Phone),
		"Choose plan", []ports.ListSection{{Title: "Data plans", Rows: rows}})
}

func (o *Orchestrator) handleDataSelection(ctx context.Context, user *models.User, state *models.ConversationState, msg *models.InboundMessage) error {
	var draft Draft
	if err := state.GetData(&draft); err != nil {
		_ = o.conv.Clear(ctx, user.WhatsAppNumber)
		return o.msgr.SendText(ctx, user.WhatsAppNumber, "That request has expired. Please start again.")
	}

	reply := msg.ReplyID()
	switch {
	case strings.HasPrefix(reply, "network:"):
		draft.Network = strings.TrimPrefix(reply, "network:")
		if draft.Kind == models.TransactionTypeAirtime {
			if err := o.precheck(ctx, user, draft); err != nil {
				_ = o.conv.Clear(ctx, user.WhatsAppNumber)
				return o.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
			}
			return o.askConfirmation(ctx, user, draft)
		}
		return o.askDataPlan(ctx, user, draft)

	case strings.HasPrefix(reply, "plan:"):
		code := strings.TrimPrefix(reply, "plan:")
		plansCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		plans, err := o.vas.DataPlans(plansCtx, draft.Network)
		cancel()
		if err != nil {
			return o.msgr.SendText(ctx, user.WhatsAppNumber, "We couldn't load that plan. Please try again.")
		}
		for _, plan := range plans {
			if plan.Code == code {
				draft.PlanCode = plan.Code
				draft.PlanName = plan.Name
				draft.Amount = plan.Amount
				if err := o.precheck(ctx, user, draft); err != nil {
					_ = o.conv.Clear(ctx, user.WhatsAppNumber)
					return o.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
				}
				return o.askConfirmation(ctx, user, draft)
			}
		}
		return o.msgr.SendText(ctx, user.WhatsAppNumber, "That plan is no longer available. Please pick another.")
	}
	return o.msgr.SendText(ctx, user.WhatsAppNumber, "Please pick an option from the list.")
}

// VerifyPIN checks the PIN under the lockout policy. Five consecutive wrong
// entries lock the PIN for 30 minutes; attempts during the lockout fail
// without counting. A correct entry resets the failure count.
func (o *Orchestrator) VerifyPIN(ctx context.Context, user *models.User, pin string) error {
	now := o.now()
	if user.PINLocked(now) {
		return utils.E(utils.KindPINLocked, "PIN locked", nil)
	}
	if !user.HasPIN() {
		return utils.ValidationError("You haven't set a transaction PIN yet.")
	}
	if utils.CheckPIN(pin, user.PINHash) {
		if user.PINFailures != 0 || user.PINLockedUntil != nil {
			user.PINFailures = 0
			user.PINLockedUntil = nil
			if err := o.users.Save(ctx, user); err != nil {
				return err
			}
		}
		return nil
	}

	user.PINFailures++
	if user.PINFailures >= maxPINAttempts {
		lockedUntil := now.Add(pinLockout)
		user.PINLockedUntil = &lockedUntil
		user.PINFailures = 0
		if err := o.users.Save(ctx, user); err != nil {
			return err
		}
		utils.LogWarn("PIN locked for user %d until %s", user.ID, lockedUntil.Format(time.RFC3339))
		return utils.E(utils.KindPINLocked, "PIN locked after too many attempts", nil)
	}
	if err := o.users.Save(ctx, user); err != nil {
		return err
	}
	remaining := maxPINAttempts - user.PINFailures
	return utils.E(utils.KindPINMismatch,
		fmt.Sprintf("Wrong PIN. %d attempt(s) left before a 30-minute lock.", remaining), nil)
}

// ExecuteWithPIN verifies the PIN and runs the draft. The Flow endpoint and
// the chat PIN prompt both land here.
func (o *Orchestrator) ExecuteWithPIN(ctx context.Context, user *models.User, draft Draft, pin string) (*models.Transaction, error) {
	if err := o.VerifyPIN(ctx, user, pin); err != nil {
		return nil, err
	}
	return o.Execute(ctx, user, draft)
}

// Execute debits the wallet under a hold, calls the provider and settles or
// fails the transaction. Ambiguous provider outcomes leave the hold in place
// and park the transaction in processing for the reconciler.
func (o *Orchestrator) Execute(ctx context.Context, user *models.User, draft Draft) (*models.Transaction, error) {
	ref := utils.NewReference(draft.refPrefix())
	tx, err := o.ledger.DebitWithHold(ctx, user.ID, draft.Amount, draft.Fee,
		draft.Kind, draft.Kind, ref, draft.description(), draft)
	if err != nil {
		return nil, err
	}

	result := o.callProvider(ctx, user.ID, ref, draft)
	switch {
	case result.OK:
		settled, err := o.ledger.SettleDebit(ctx, user.ID, ref, result.ProviderRef)
		if err != nil {
			// The money moved; never refund here. The reconciler resolves it.
			utils.LogError("Settle failed for %s: %v", ref, err)
			if _, mErr := o.ledger.MarkProcessing(ctx, user.ID, ref); mErr != nil {
				utils.LogError("Mark processing failed for %s: %v", ref, mErr)
			}
			return tx, utils.E(utils.KindProviderRetryable, "settlement pending", err)
		}
		o.notifySuccess(ctx, user, settled, draft)
		return settled, nil

	case result.ErrorKind == ports.ProviderErrPermanent:
		reason := result.Message
		if reason == "" {
			reason = "The transaction was declined."
		}
		if _, err := o.ledger.FailDebit(ctx, user.ID, ref, reason); err != nil {
			utils.LogError("Fail debit failed for %s: %v", ref, err)
		}
		return tx, utils.E(utils.KindProviderPermanent, reason, nil)

	default:
		// Retryable or timeout after all attempts: the provider may have
		// executed the transaction. Hold stays; reconciler decides.
		if _, err := o.ledger.MarkProcessing(ctx, user.ID, ref); err != nil {
			utils.LogError("Mark processing failed for %s: %v", ref, err)
		}
		return tx, utils.E(utils.KindProviderRetryable, "awaiting provider confirmation", nil)
	}
}

// callProvider invokes the product's provider with a per-attempt timeout,
// retrying failures tagged retryable.
func (o *Orchestrator) callProvider(ctx context.Context, userID uint, ref string, draft Draft) ports.ProviderResult {
	var result ports.ProviderResult
	for attempt := 0; attempt < providerAttempts; attempt++ {
		if wait := providerBackoff[attempt]; wait > 0 {
			select {
			case <-ctx.Done():
				return ports.ProviderResult{ErrorKind: ports.ProviderErrTimeout, Message: ctx.Err().Error()}
			case <-time.After(wait):
			}
			if _, err := o.ledger.BumpRetry(ctx, userID, ref); err != nil {
				utils.LogWarn("Retry bump failed for %s: %v", ref, err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, providerTimeout)
		var err error
		result, err = o.dispatchProvider(callCtx, ref, draft)
		cancel()
		if err != nil {
			// Transport failure: ambiguous, the request may have landed.
			result = ports.ProviderResult{ErrorKind: ports.ProviderErrTimeout, Message: err.Error()}
		}
		if result.OK || !result.Retryable() {
			return result
		}
		utils.LogWarn("Provider attempt %d for %s failed (%s): %s", attempt+1, ref, result.ErrorKind, result.Message)
	}
	return result
}

func (o *Orchestrator) dispatchProvider(ctx context.Context, ref string, draft Draft) (ports.ProviderResult, error) {
	switch draft.Kind {
	case models.TransactionTypeTransfer:
		return o.bank.Transfer(ctx, ports.BankTransferRequest{
			Reference:     ref,
			AccountNumber: draft.AccountNumber,
			BankCode:      draft.BankCode,
			AccountName:   draft.AccountName,
			Narration:     draft.Narration,
			Amount:        draft.Amount,
		})
	case models.TransactionTypeAirtime:
		return o.vas.BuyAirtime(ctx, ports.AirtimeRequest{
			Reference:   ref,
			Network:     draft.Network,
			PhoneNumber: utils.ToLocalFormat(draft.Phone),
			Amount:      draft.Amount,
		})
	case models.TransactionTypeData:
		return o.vas.BuyData(ctx, ports.DataRequest{
			Reference:   ref,
			Network:     draft.Network,
			PhoneNumber: utils.ToLocalFormat(draft.Phone),
			PlanCode:    draft.PlanCode,
			Amount:      draft.Amount,
		})
	case models.TransactionTypeUtility:
		return o.vas.PayUtility(ctx, ports.UtilityRequest{
			Reference:  ref,
			Biller:     draft.Biller,
			CustomerID: draft.CustomerID,
			Amount:     draft.Amount,
		})
	}
	return ports.ProviderResult{}, fmt.Errorf("unknown draft kind %q", draft.Kind)
}

func (o *Orchestrator) notifySuccess(ctx context.Context, user *models.User, tx *models.Transaction, draft Draft) {
	var body string
	switch draft.Kind {
	case models.TransactionTypeTransfer:
		recipient := draft.AccountName
		if recipient == "" {
			recipient = utils.MaskAccountNumber(draft.AccountNumber)
		}
		body = fmt.Sprintf("✅ %s sent to %s (%s).\nRef: %s", utils.FormatNaira(tx.Amount), recipient, draft.BankName, tx.Reference)
	case models.TransactionTypeAirtime:
		body = fmt.Sprintf("✅ %s %s airtime delivered to %s.\nRef: %s", utils.FormatNaira(tx.Amount), strings.ToUpper(draft.Network), draft.Phone, tx.Reference)
	case models.TransactionTypeData:
		body = fmt.Sprintf("✅ %s delivered to %s.\nRef: %s", draft.PlanName, draft.Phone, tx.Reference)
	case models.TransactionTypeUtility:
		body = fmt.Sprintf("✅ %s paid to %s for %s.\nRef: %s", utils.FormatNaira(tx.Amount), draft.Biller, draft.CustomerID, tx.Reference)
	default:
		body = fmt.Sprintf("✅ Payment of %s completed.\nRef: %s", utils.FormatNaira(tx.TotalAmount), tx.Reference)
	}
	if err := o.msgr.SendText(ctx, user.WhatsAppNumber, body); err != nil {
		utils.LogError("Success notification failed for %s: %v", tx.Reference, err)
	}

	if draft.Kind == models.TransactionTypeTransfer {
		o.sendReceipt(ctx, user, tx, draft)
	}
}

// sendReceipt renders and delivers the PDF receipt, best effort.
func (o *Orchestrator) sendReceipt(ctx context.Context, user *models.User, tx *models.Transaction, draft Draft) {
	pdf, err := utils.TransferReceiptPDF(user, tx, utils.ReceiptDetails{
		RecipientName: draft.AccountName,
		AccountNumber: draft.AccountNumber,
		BankName:      draft.BankName,
		Narration:     draft.Narration,
	})
	if err != nil {
		utils.LogError("Receipt render failed for %s: %v", tx.Reference, err)
		return
	}
	filename := fmt.Sprintf("receipt-%s.pdf", tx.Reference)
	if err := o.msgr.SendDocument(ctx, user.WhatsAppNumber, filename, pdf, "Your transfer receipt"); err != nil {
		utils.LogError("Receipt delivery failed for %s: %v", tx.Reference, err)
	}
}

// Plans returns the vendor's data plan catalogue for a network.
func (o *Orchestrator) Plans(ctx context.Context, network string) ([]ports.DataPlan, error) {
	if o.vas == nil {
		return nil, utils.InternalError("no VAS vendor configured", nil)
	}
	return o.vas.DataPlans(ctx, network)
}

// PriceDraft fills the fee for a draft built outside the chat path.
func (o *Orchestrator) PriceDraft(draft *Draft) {
	draft.Fee = o.fees.Fee(draft.Kind, draft.Amount)
}

// ClearDialogue drops any in-flight conversation state for the user. Used
// when a Flow resolves a dialogue that was opened in chat.
func (o *Orchestrator) ClearDialogue(ctx context.Context, user *models.User) {
	_ = o.conv.Clear(ctx, user.WhatsAppNumber)
}

// precheck rejects a draft early when the wallet clearly cannot cover it.
// The authoritative check happens again inside DebitWithHold.
func (o *Orchestrator) precheck(ctx context.Context, user *models.User, draft Draft) error {
	wallet, err := o.ledger.Wallet(ctx, user.ID)
	if err != nil {
		return err
	}
	if wallet.Frozen {
		return utils.E(utils.KindWalletFrozen, "wallet is frozen", nil)
	}
	if wallet.Available < draft.Total() {
		return utils.E(utils.KindInsufficientFunds,
			fmt.Sprintf("insufficient funds: need %s, available %s",
				utils.FormatNaira(draft.Total()), utils.FormatNaira(wallet.Available)), nil)
	}
	return nil
}

func (o *Orchestrator) topupNumber(user *models.User, phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return user.WhatsAppNumber, nil
	}
	return utils.FormatToE164(phone)
}

func answer(msg *models.InboundMessage) string {
	if id := msg.ReplyID(); id != "" {
		return id
	}
	switch strings.ToLower(strings.TrimSpace(msg.BodyText())) {
	case "yes", "y", "confirm", "ok", "okay", "proceed":
		return "confirm"
	case "no", "n", "cancel", "stop":
		return "cancel"
	}
	return ""
}

func normalizeNetwork(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "mtn":
		return "mtn"
	case "glo":
		return "glo"
	case "airtel":
		return "airtel"
	case "9mobile", "etisalat", "9mob":
		return "9mobile"
	}
	return ""
}
