// Package ports defines the capability interfaces the core depends on.
// Third-party integrations (banking, KYC, VAS vendors, OCR, speech-to-text,
// LLM) are consumed only through these interfaces; concrete adapters live at
// the composition root.
package ports

import (
	"context"
	"time"

	"github.com/emeka-okafor/kudipal/models"
)

// Provider error kinds, carried on ProviderResult.
const (
	ProviderErrRetryable = "retryable"
	ProviderErrPermanent = "permanent"
	ProviderErrTimeout   = "timeout"
)

// ProviderResult is the tagged outcome of a provider call. A non-OK result
// with kind retryable or timeout is ambiguous: the money may have moved, so
// the orchestrator must reconcile instead of refunding immediately.
type ProviderResult struct {
	OK          bool
	ProviderRef string
	ErrorKind   string
	Message     string
	Raw         map[string]interface{}
}

// Retryable reports whether the failure is worth another attempt.
func (r ProviderResult) Retryable() bool {
	return !r.OK && (r.ErrorKind == ProviderErrRetryable || r.ErrorKind == ProviderErrTimeout)
}

// Button is an interactive reply button.
type Button struct {
	ID    string
	Title string
}

// ListRow is one selectable row inside a list section.
type ListRow struct {
	ID          string
	Title       string
	Description string
}

// ListSection groups list rows under a title.
type ListSection struct {
	Title string
	Rows  []ListRow
}

// FlowPrompt describes an interactive Flow message to dispatch.
type FlowPrompt struct {
	FlowID    string
	FlowToken string
	Screen    string
	CTA       string
	Body      string
	Data      map[string]interface{}
}

// Messenger sends outbound WhatsApp messages.
type Messenger interface {
	SendText(ctx context.Context, to, body string) error
	SendButtons(ctx context.Context, to, body string, buttons []Button) error
	SendList(ctx context.Context, to, body, buttonText string, sections []ListSection) error
	SendFlow(ctx context.Context, to string, prompt FlowPrompt) error
	SendDocument(ctx context.Context, to, filename string, data []byte, caption string) error
}

// KVStore is the volatile session store: conversation state, flow sessions
// and webhook dedup. All operations are atomic per key.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets the key only when absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

// UserStore persists users. ByWhatsAppNumber returns (nil, nil) when no user
// exists for the number.
type UserStore interface {
	ByWhatsAppNumber(ctx context.Context, number string) (*models.User, error)
	ByID(ctx context.Context, id uint) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Save(ctx context.Context, user *models.User) error
}

// LedgerStore persists wallets and transactions with per-wallet atomicity.
type LedgerStore interface {
	WalletByUserID(ctx context.Context, userID uint) (*models.Wallet, error)
	CreateWallet(ctx context.Context, wallet *models.Wallet) error
	SaveWallet(ctx context.Context, wallet *models.Wallet) error
	TransactionByReference(ctx context.Context, ref string) (*models.Transaction, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]models.Transaction, error)
	ListByWallet(ctx context.Context, walletID uint, since time.Time) ([]models.Transaction, error)

	// Apply runs fn against the locked wallet row and commits the mutated
	// wallet together with the transaction fn returns, atomically. When a
	// transaction with reference ref already exists, the stored record is
	// returned with replayed=true and fn is not called.
	Apply(ctx context.Context, userID uint, ref string, fn func(w *models.Wallet) (*models.Transaction, error)) (tx *models.Transaction, replayed bool, err error)

	// ApplyExisting runs fn against the locked wallet row and the existing
	// transaction with reference ref, committing both mutations atomically.
	ApplyExisting(ctx context.Context, userID uint, ref string, fn func(w *models.Wallet, tx *models.Transaction) error) (*models.Transaction, error)
}

// BankTransferRequest describes an outbound interbank transfer.
type BankTransferRequest struct {
	Reference     string
	AccountNumber string
	BankCode      string
	AccountName   string
	Narration     string
	Amount        float64
}

// VirtualAccountRequest asks the bank partner for a collection account.
type VirtualAccountRequest struct {
	UserID      uint
	FirstName   string
	LastName    string
	BVN         string
	PhoneNumber string
}

// VirtualAccount is a provisioned collection account.
type VirtualAccount struct {
	AccountNumber string
	BankCode      string
	BankName      string
	AccountName   string
}

// BankClient is the banking partner capability.
type BankClient interface {
	Transfer(ctx context.Context, req BankTransferRequest) (ProviderResult, error)
	TransferStatus(ctx context.Context, reference string) (ProviderResult, error)
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (string, error)
	CreateVirtualAccount(ctx context.Context, req VirtualAccountRequest) (VirtualAccount, error)
}

// AirtimeRequest describes an airtime top-up.
type AirtimeRequest struct {
	Reference   string
	Network     string
	PhoneNumber string
	Amount      float64
}

// DataRequest describes a data bundle purchase.
type DataRequest struct {
	Reference   string
	Network     string
	PhoneNumber string
	PlanCode    string
	Amount      float64
}

// UtilityRequest describes a bill payment (electricity, cable, ...).
type UtilityRequest struct {
	Reference  string
	Biller     string
	CustomerID string
	Amount     float64
}

// DataPlan is a purchasable data bundle.
type DataPlan struct {
	Code     string
	Name     string
	Network  string
	Amount   float64
	Validity string
}

// VasClient is the value-added-services vendor capability.
type VasClient interface {
	BuyAirtime(ctx context.Context, req AirtimeRequest) (ProviderResult, error)
	BuyData(ctx context.Context, req DataRequest) (ProviderResult, error)
	PayUtility(ctx context.Context, req UtilityRequest) (ProviderResult, error)
	PurchaseStatus(ctx context.Context, reference string) (ProviderResult, error)
	DataPlans(ctx context.Context, network string) ([]DataPlan, error)
}

// BVNResult is the KYC provider's verdict on a BVN check.
type BVNResult struct {
	Match  bool
	Reason string
}

// KYCClient verifies identity details against the BVN registry.
type KYCClient interface {
	VerifyBVN(ctx context.Context, bvn, firstName, lastName string, dob *time.Time) (BVNResult, error)
}

// CardRequest asks the card partner to issue a virtual card.
type CardRequest struct {
	Reference string
	UserID    uint
	Currency  string
}

// CardClient is the virtual card issuing capability.
type CardClient interface {
	IssueCard(ctx context.Context, req CardRequest) (ProviderResult, error)
}

// ChatModel is the LLM capability used by the intent resolver's fallback.
type ChatModel interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Transcriber converts a voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaID string) (string, error)
}

// OCRReader extracts text from an image message.
type OCRReader interface {
	ExtractText(ctx context.Context, mediaID string) (string, error)
}
