package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emeka-okafor/kudipal/models"
	"github.com/emeka-okafor/kudipal/services/conversation"
	"github.com/emeka-okafor/kudipal/services/coordinator"
	"github.com/emeka-okafor/kudipal/services/intent"
	"github.com/emeka-okafor/kudipal/services/ledger"
	"github.com/emeka-okafor/kudipal/services/onboarding"
	"github.com/emeka-okafor/kudipal/services/ports"
	"github.com/emeka-okafor/kudipal/services/transactions"
	"github.com/emeka-okafor/kudipal/utils"
)

// dedupTTL is how long a processed webhook message ID is remembered.
// WhatsApp redelivers for minutes, not hours.
const dedupTTL = 15 * time.Minute

const dedupPrefix = "wamsg:"

// statementWindow is how far back emailed statements reach.
const statementWindow = 90 * 24 * time.Hour

// Router is the webhook-facing front of the backend. It deduplicates
// deliveries, resolves the sender to a user, and hands one task per message
// to the coordinator so all per-user work stays serialized.
type Router struct {
	users    ports.UserStore
	kv       ports.KVStore
	conv     *conversation.Store
	coord    *coordinator.Coordinator
	resolver *intent.Resolver
	msgr     ports.Messenger
	ledger   *ledger.Ledger
	onb      *onboarding.Machine
	orch     *transactions.Orchestrator
	mailer   *utils.Mailer
	cards    ports.CardClient
	stt      ports.Transcriber
	ocr      ports.OCRReader
}

// RouterDeps collects the router's collaborators. mailer, cards, stt and ocr
// are optional; the matching features degrade to a polite message.
type RouterDeps struct {
	Users    ports.UserStore
	KV       ports.KVStore
	Conv     *conversation.Store
	Coord    *coordinator.Coordinator
	Resolver *intent.Resolver
	Msgr     ports.Messenger
	Ledger   *ledger.Ledger
	Onb      *onboarding.Machine
	Orch     *transactions.Orchestrator
	Mailer   *utils.Mailer
	Cards    ports.CardClient
	STT      ports.Transcriber
	OCR      ports.OCRReader
}

// NewRouter wires the router.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		users:    deps.Users,
		kv:       deps.KV,
		conv:     deps.Conv,
		coord:    deps.Coord,
		resolver: deps.Resolver,
		msgr:     deps.Msgr,
		ledger:   deps.Ledger,
		onb:      deps.Onb,
		orch:     deps.Orch,
		mailer:   deps.Mailer,
		cards:    deps.Cards,
		stt:      deps.STT,
		ocr:      deps.OCR,
	}
}

// Dispatch enqueues every message in the envelope. Called from the webhook
// controller after the 200 has been decided; failures here must never bubble
// back into the HTTP response.
func (r *Router) Dispatch(ctx context.Context, env *Envelope) {
	for _, msg := range Normalize(env) {
		r.route(ctx, msg)
	}
}

func (r *Router) route(ctx context.Context, msg models.InboundMessage) {
	fresh, err := r.kv.SetNX(ctx, dedupPrefix+msg.ID, "1", dedupTTL)
	if err != nil {
		// Dedup store outage: favor processing over dropping. The ledger's
		// reference idempotency catches money replays.
		utils.LogWarn("Dedup check failed for %s, processing anyway: %v", msg.ID, err)
	} else if !fresh {
		utils.LogDebug("Duplicate delivery %s dropped", msg.ID)
		return
	}

	number, err := utils.FormatToE164(msg.From)
	if err != nil {
		utils.LogWarn("Unroutable sender %q on message %s: %v", msg.From, msg.ID, err)
		return
	}
	msg.From = number

	task := func(taskCtx context.Context) {
		if err := r.handle(taskCtx, number, &msg); err != nil {
			utils.LogError("Handler failed for %s (%s): %v", msg.ID, number, err)
		}
	}
	if err := r.coord.Submit(number, task); err != nil {
		utils.LogWarn("Dropping message %s for %s: %v", msg.ID, number, err)
	}
}

// handle runs inside the per-user serialized zone.
func (r *Router) handle(ctx context.Context, number string, msg *models.InboundMessage) error {
	user, err := r.users.ByWhatsAppNumber(ctx, number)
	if err != nil {
		return err
	}
	if user == nil {
		user = &models.User{
			WhatsAppNumber: number,
			OnboardingStep: models.OnboardingStepInitial,
			KYCStatus:      models.KYCStatusNone,
			IsActive:       true,
		}
		if err := r.users.Create(ctx, user); err != nil {
			return err
		}
	}
	if !user.IsActive || user.IsBanned {
		return r.msgr.SendText(ctx, number, "Your account is restricted. Please contact support.")
	}
	now := time.Now()
	user.LastSeenAt = &now
	if err := r.users.Save(ctx, user); err != nil {
		utils.LogWarn("Last-seen update failed for user %d: %v", user.ID, err)
	}

	handledMedia, err := r.extractMediaText(ctx, user, msg)
	if handledMedia || err != nil {
		return err
	}

	if user.OnboardingStep != models.OnboardingStepCompleted {
		return r.onb.Handle(ctx, user, msg)
	}

	body := strings.ToLower(strings.TrimSpace(msg.BodyText()))

	state, err := r.conv.Get(ctx, number)
	if err != nil {
		return err
	}
	if state != nil {
		// Escape hatches work mid-dialogue.
		switch body {
		case "cancel", "stop", "abort":
			_ = r.conv.Clear(ctx, number)
			return r.msgr.SendText(ctx, number, "Cancelled. What would you like to do next?")
		case "help", "menu":
			return r.sendHelp(ctx, user)
		}
		handled, err := r.orch.Resume(ctx, user, state, msg)
		if handled || err != nil {
			return err
		}
		if state.AwaitingInput == models.AwaitingEmail {
			return r.handleEmailCapture(ctx, user, msg)
		}
		// Stale dialogue nothing claims: drop it and treat the message fresh.
		_ = r.conv.Clear(ctx, number)
	}

	return r.handleIntent(ctx, user, msg)
}

// extractMediaText turns voice notes and images into text the rest of the
// pipeline can classify. handled=true means the message was answered here
// (degradation reply sent) and must not reach the intent pipeline.
func (r *Router) extractMediaText(ctx context.Context, user *models.User, msg *models.InboundMessage) (handled bool, err error) {
	switch msg.Type {
	case models.MessageTypeVoice, models.MessageTypeAudio:
		if r.stt == nil {
			return true, r.msgr.SendText(ctx, user.WhatsAppNumber, "I can't listen to voice notes yet. Please type your request.")
		}
		text, err := r.stt.Transcribe(ctx, msg.MediaID)
		if err != nil {
			utils.LogWarn("Transcription failed for %s: %v", msg.ID, err)
			return true, r.msgr.SendText(ctx, user.WhatsAppNumber, "I couldn't hear that clearly. Please type your request.")
		}
		msg.Text = text
	case models.MessageTypeImage:
		if msg.Text != "" {
			return false, nil // caption is enough
		}
		if r.ocr == nil {
			return true, r.msgr.SendText(ctx, user.WhatsAppNumber, "I can't read images yet. Please type your request.")
		}
		text, err := r.ocr.ExtractText(ctx, msg.MediaID)
		if err != nil {
			utils.LogWarn("OCR failed for %s: %v", msg.ID, err)
			return true, r.msgr.SendText(ctx, user.WhatsAppNumber, "I couldn't read that image. Please type your request.")
		}
		msg.Text = text
	}
	return false, nil
}

func (r *Router) handleIntent(ctx context.Context, user *models.User, msg *models.InboundMessage) error {
	it := r.resolver.Resolve(ctx, msg.BodyText(), r.userContext(ctx, user))

	switch it.Kind {
	case intent.KindBalance:
		return r.sendBalance(ctx, user)
	case intent.KindTransfer:
		if it.Slots["amount"] == "" || it.Slots["account_number"] == "" || it.Slots["bank"] == "" {
			return r.msgr.SendText(ctx, user.WhatsAppNumber,
				"To send money, tell me the amount, account and bank, e.g.\n\"Send 2000 to 0123456789 GTBank\"")
		}
		return r.orch.StartTransfer(ctx, user, it.Slots["amount"], it.Slots["account_number"], it.Slots["bank"])
	case intent.KindAirtime:
		if it.Slots["amount"] == "" {
			return r.msgr.SendText(ctx, user.WhatsAppNumber,
				"How much airtime? e.g. \"Buy 500 airtime\"")
		}
		return r.orch.StartAirtime(ctx, user, it.Slots["amount"], it.Slots["network"], it.Slots["phone"])
	case intent.KindData:
		return r.orch.StartData(ctx, user, it.Slots["network"], it.Slots["phone"])
	case intent.KindUtility:
		return r.orch.StartUtility(ctx, user, it.Slots["amount"], it.Slots["biller"], it.Slots["customer_id"])
	case intent.KindStatement:
		return r.handleStatement(ctx, user)
	case intent.KindRefer:
		return r.sendReferral(ctx, user)
	case intent.KindCard:
		return r.handleCard(ctx, user)
	case intent.KindGreeting:
		return r.msgr.SendText(ctx, user.WhatsAppNumber,
			fmt.Sprintf("Hi %s! 👋 What would you like to do? Try \"balance\", \"send 2000 to 0123456789 GTBank\" or \"buy 500 airtime\".", user.FirstName))
	case intent.KindCancel:
		return r.msgr.SendText(ctx, user.WhatsAppNumber, "Nothing to cancel. What would you like to do?")
	case intent.KindHelp:
		return r.sendHelp(ctx, user)
	}
	return r.msgr.SendText(ctx, user.WhatsAppNumber,
		"I didn't get that. 🤔 Reply \"help\" to see what I can do.")
}

func (r *Router) userContext(ctx context.Context, user *models.User) intent.UserContext {
	uctx := intent.UserContext{FirstName: user.FirstName}
	if wallet, err := r.ledger.Wallet(ctx, user.ID); err == nil {
		switch {
		case wallet.Available <= 0:
			uctx.BalanceClass = "empty"
		case wallet.Available < 1000:
			uctx.BalanceClass = "low"
		default:
			uctx.BalanceClass = "funded"
		}
	}
	return uctx
}

func (r *Router) sendBalance(ctx context.Context, user *models.User) error {
	wallet, err := r.ledger.Wallet(ctx, user.ID)
	if err != nil {
		return r.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
	}
	body := fmt.Sprintf("💰 Wallet balance\n\nAvailable: %s", utils.FormatNaira(wallet.Available))
	if wallet.Pending > 0 {
		body += fmt.Sprintf("\nPending: %s", utils.FormatNaira(wallet.Pending))
	}
	body += fmt.Sprintf("\nDaily limit left: %s", utils.FormatNaira(wallet.DailyLimit-wallet.DailySpent))
	return r.msgr.SendText(ctx, user.WhatsAppNumber, body)
}

func (r *Router) handleStatement(ctx context.Context, user *models.User) error {
	if r.mailer == nil || !r.mailer.Enabled() {
		return r.msgr.SendText(ctx, user.WhatsAppNumber, "Statements are unavailable right now. Please try again later.")
	}
	if user.Email == "" {
		if err := r.conv.Set(ctx, user.WhatsAppNumber, &models.ConversationState{
			Intent:        intent.KindStatement,
			AwaitingInput: models.AwaitingEmail,
		}); err != nil {
			return err
		}
		return r.msgr.SendText(ctx, user.WhatsAppNumber, "Where should I email your statement? Send your email address.")
	}
	return r.emailStatement(ctx, user)
}

func (r *Router) handleEmailCapture(ctx context.Context, user *models.User, msg *models.InboundMessage) error {
	email := strings.TrimSpace(msg.BodyText())
	if err := utils.ValidateEmail(email); err != nil {
		return r.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
	}
	user.Email = email
	if err := r.users.Save(ctx, user); err != nil {
		return err
	}
	_ = r.conv.Clear(ctx, user.WhatsAppNumber)
	return r.emailStatement(ctx, user)
}

func (r *Router) emailStatement(ctx context.Context, user *models.User) error {
	wallet, err := r.ledger.Wallet(ctx, user.ID)
	if err != nil {
		return r.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
	}
	txs, err := r.ledger.Transactions(ctx, wallet.ID, time.Now().Add(-statementWindow))
	if err != nil {
		return r.msgr.SendText(ctx, user.WhatsAppNumber, utils.UserMessage(err))
	}
	statement, err := utils.StatementXLSX(user, txs)
	if err != nil {
		utils.LogError("Statement render failed for user %d: %v", user.ID, err)
		return r.msgr.SendText(ctx, user.WhatsAppNumber, "We couldn't generate your statement. Please try again later.")
	}
	if err := r.mailer.SendStatement(user.Email, user.FirstName, statement); err != nil {
		utils.LogError("Statement email failed for user %d: %v", user.ID, err)
		return r.msgr.SendText(ctx, user.WhatsAppNumber, "We couldn't email your statement. Please try again later.")
	}
	return r.msgr.SendText(ctx, user.WhatsAppNumber,
		fmt.Sprintf("📄 Your statement for the last 90 days is on its way to %s.", user.Email))
}

func (r *Router) sendReferral(ctx context.Context, user *models.User) error {
	if user.ReferralCode == "" {
		user.ReferralCode = utils.NewReferralCode()
		if err := r.users.Save(ctx, user); err != nil {
			return err
		}
	}
	return r.msgr.SendText(ctx, user.WhatsAppNumber,
		fmt.Sprintf("🎁 Share KudiPal with friends!\n\nYour referral code: %s\n\nThey get a bonus when they sign up with it, and so do you.", user.ReferralCode))
}

func (r *Router) handleCard(ctx context.Context, user *models.User) error {
	if r.cards == nil {
		return r.msgr.SendText(ctx, user.WhatsAppNumber, "Virtual cards are coming soon. 💳")
	}
	result, err := r.cards.IssueCard(ctx, ports.CardRequest{
		Reference: utils.NewReference(utils.RefVirtualCard),
		UserID:    user.ID,
		Currency:  "NGN",
	})
	if err != nil || !result.OK {
		utils.LogError("Card issuance failed for user %d: %v (%s)", user.ID, err, result.Message)
		return r.msgr.SendText(ctx, user.WhatsAppNumber, "We couldn't issue your card right now. Please try again later.")
	}
	return r.msgr.SendText(ctx, user.WhatsAppNumber,
		"💳 Your virtual card is being issued. You'll get the details here shortly.")
}

func (r *Router) sendHelp(ctx context.Context, user *models.User) error {
	body := "Here's what I can do:\n\n" +
		"💸 \"Send 2000 to 0123456789 GTBank\"\n" +
		"📱 \"Buy 500 airtime\"\n" +
		"🌐 \"Buy data\"\n" +
		"💡 \"Pay 5000 IKEDC 45021234567\"\n" +
		"💰 \"Balance\"\n" +
		"📄 \"Statement\"\n" +
		"🎁 \"Refer\"\n\n" +
		"Reply \"cancel\" anytime to stop what we're doing."
	return r.msgr.SendText(ctx, user.WhatsAppNumber, body)
}
