// Package intent classifies inbound text into a closed set of intent tags
// with typed slots. A rule layer of anchored regexes handles the common
// phrasings; everything else falls through to the LLM, whose reply is parsed
// against a strict JSON contract. The resolver is stateless and never
// mutates user or wallet data.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/emeka-okafor/kudipal/services/ports"
	"github.com/emeka-okafor/kudipal/utils"
)

// Intent kinds.
const (
	KindBalance   = "balance"
	KindTransfer  = "transfer"
	KindAirtime   = "airtime"
	KindData      = "data"
	KindUtility   = "utility"
	KindStatement = "statement"
	KindRefer     = "refer"
	KindCard      = "card"
	KindHelp      = "help"
	KindCancel    = "cancel"
	KindGreeting  = "greeting"
	KindUnknown   = "unknown"
)

// Intent is a resolved intent tag with its slots.
type Intent struct {
	Kind       string            `json:"intent"`
	Slots      map[string]string `json:"slots"`
	Confidence float64           `json:"confidence"`
}

// UserContext is the short digest sent to the LLM alongside the message.
type UserContext struct {
	FirstName     string
	BalanceClass  string // "empty", "low", "funded"
	AwaitingInput string
}

var (
	balanceRegex  = regexp.MustCompile(`^(my\s+)?(wallet\s+)?(balance|bal)$`)
	greetingRegex = regexp.MustCompile(`^(hi|hello|hey|good\s+(morning|afternoon|evening)|how far)[.!?]*$`)
	helpRegex     = regexp.MustCompile(`^(help|menu|start|what can you do)[.!?]*$`)
	cancelRegex   = regexp.MustCompile(`^(cancel|stop|abort|never mind|nevermind)[.!?]*$`)
	statementRe   = regexp.MustCompile(`^(account\s+)?statement$`)
	referRegex    = regexp.MustCompile(`^(refer|referral|invite)( a friend)?$`)
	cardRegex     = regexp.MustCompile(`^(virtual\s+)?card$`)

	// "send 2000 to 0123456789 gtb" / "transfer ₦5,000 to 0123456789 at zenith bank"
	transferRegex = regexp.MustCompile(`^(?:send|transfer)\s+(?:₦|n)?([\d,]+(?:\.\d+)?)\s+to\s+(\d{10})\s+(?:at\s+|@\s*)?([a-z][a-z ]+?)$`)

	// "buy 500 airtime for 08012345678" / "500 airtime" / "recharge 200 for 080..."
	airtimeRegex = regexp.MustCompile(`^(?:buy\s+|recharge\s+)?(?:₦|n)?([\d,]+)\s+airtime(?:\s+for\s+(\+?\d{10,14}))?$`)

	// "data 1GB mtn 08012345678" / "buy 2gb glo"
	dataRegex = regexp.MustCompile(`^(?:buy\s+)?data\s+([\d.]+\s*(?:gb|mb))\s+(mtn|glo|airtel|9mobile)(?:\s+(\+?\d{10,14}))?$|^(?:buy\s+)?([\d.]+\s*(?:gb|mb))\s+(mtn|glo|airtel|9mobile)(?:\s+(\+?\d{10,14}))?$`)
)

// Resolver is the two-tier intent classifier.
type Resolver struct {
	model ports.ChatModel
}

// NewResolver creates a Resolver. model may be nil; rule misses then resolve
// to unknown.
func NewResolver(model ports.ChatModel) *Resolver {
	return &Resolver{model: model}
}

// Resolve classifies text. Never returns an error: anything unclassifiable
// is the unknown intent, which surfaces the help prompt downstream.
func (r *Resolver) Resolve(ctx context.Context, text string, uctx UserContext) Intent {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.Join(strings.Fields(normalized), " ")
	if normalized == "" {
		return Intent{Kind: KindUnknown, Confidence: 1}
	}

	if it, ok := r.resolveRules(normalized); ok {
		return it
	}
	if r.model == nil {
		return Intent{Kind: KindUnknown}
	}
	return r.resolveLLM(ctx, text, uctx)
}

func (r *Resolver) resolveRules(text string) (Intent, bool) {
	switch {
	case balanceRegex.MatchString(text):
		return Intent{Kind: KindBalance, Confidence: 1}, true
	case greetingRegex.MatchString(text):
		return Intent{Kind: KindGreeting, Confidence: 1}, true
	case helpRegex.MatchString(text):
		return Intent{Kind: KindHelp, Confidence: 1}, true
	case cancelRegex.MatchString(text):
		return Intent{Kind: KindCancel, Confidence: 1}, true
	case statementRe.MatchString(text):
		return Intent{Kind: KindStatement, Confidence: 1}, true
	case referRegex.MatchString(text):
		return Intent{Kind: KindRefer, Confidence: 1}, true
	case cardRegex.MatchString(text):
		return Intent{Kind: KindCard, Confidence: 1}, true
	}

	if m := transferRegex.FindStringSubmatch(text); m != nil {
		return Intent{
			Kind:       KindTransfer,
			Confidence: 0.95,
			Slots: map[string]string{
				"amount":         strings.ReplaceAll(m[1], ",", ""),
				"account_number": m[2],
				"bank":           strings.TrimSpace(m[3]),
			},
		}, true
	}
	if m := airtimeRegex.FindStringSubmatch(text); m != nil {
		slots := map[string]string{"amount": strings.ReplaceAll(m[1], ",", "")}
		if m[2] != "" {
			slots["phone"] = m[2]
		}
		return Intent{Kind: KindAirtime, Confidence: 0.95, Slots: slots}, true
	}
	if m := dataRegex.FindStringSubmatch(text); m != nil {
		plan, network, phone := m[1], m[2], m[3]
		if plan == "" {
			plan, network, phone = m[4], m[5], m[6]
		}
		slots := map[string]string{
			"plan":    strings.ReplaceAll(plan, " ", ""),
			"network": network,
		}
		if phone != "" {
			slots["phone"] = phone
		}
		return Intent{Kind: KindData, Confidence: 0.95, Slots: slots}, true
	}
	return Intent{}, false
}

const llmSystemPrompt = `You classify WhatsApp messages for a Nigerian wallet service.
Respond with ONLY a JSON object, no prose, matching:
{"intent": "balance|transfer|airtime|data|utility|statement|refer|card|help|cancel|greeting|unknown",
 "slots": {"amount": "...", "account_number": "...", "bank": "...", "phone": "...", "network": "...", "plan": "...", "biller": "...", "customer_id": "..."},
 "confidence": 0.0}
Omit slots you cannot fill. Use "unknown" when unsure.`

func (r *Resolver) resolveLLM(ctx context.Context, text string, uctx UserContext) Intent {
	userPrompt := fmt.Sprintf("User: %s\nBalance: %s\nAwaiting: %s\nMessage: %q",
		uctx.FirstName, uctx.BalanceClass, uctx.AwaitingInput, text)

	reply, err := r.model.Complete(ctx, llmSystemPrompt, userPrompt)
	if err != nil {
		utils.LogWarn("Intent LLM call failed: %v", err)
		return Intent{Kind: KindUnknown}
	}

	parsed, err := parseModelReply(reply)
	if err != nil {
		utils.LogWarn("Unparseable intent reply: %v", err)
		return Intent{Kind: KindUnknown}
	}
	if parsed.Confidence < 0.5 || !validKind(parsed.Kind) {
		return Intent{Kind: KindUnknown}
	}
	return parsed
}

// parseModelReply extracts the JSON object from the model reply, tolerating
// markdown code fences.
func parseModelReply(reply string) (Intent, error) {
	cleaned := strings.TrimSpace(reply)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return Intent{}, fmt.Errorf("no JSON object in reply")
	}

	var parsed Intent
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &parsed); err != nil {
		return Intent{}, err
	}
	return parsed, nil
}

func validKind(kind string) bool {
	switch kind {
	case KindBalance, KindTransfer, KindAirtime, KindData, KindUtility,
		KindStatement, KindRefer, KindCard, KindHelp, KindCancel,
		KindGreeting, KindUnknown:
		return true
	}
	return false
}
