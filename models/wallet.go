package models

import (
	"time"

	"gorm.io/gorm"
)

// Wallet holds a user's balances and spending counters. Balance is the total
// position (may go negative through maintenance fees), AvailableBalance is
// spendable and never negative, PendingBalance is the sum of active holds.
type Wallet struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `json:"user_id" gorm:"uniqueIndex"`
	Balance   float64        `json:"balance" gorm:"default:0"`
	Available float64        `json:"available_balance" gorm:"column:available_balance;default:0"`
	Pending   float64        `json:"pending_balance" gorm:"column:pending_balance;default:0"`
	Currency  string         `json:"currency" gorm:"default:'NGN'"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	TotalCredits float64 `json:"total_credits" gorm:"default:0"`
	TotalDebits  float64 `json:"total_debits" gorm:"default:0"`

	DailyLimit       float64   `json:"daily_limit"`
	DailySpent       float64   `json:"daily_spent" gorm:"default:0"`
	LastDailyReset   time.Time `json:"last_daily_reset"`
	MonthlyLimit     float64   `json:"monthly_limit"`
	MonthlySpent     float64   `json:"monthly_spent" gorm:"default:0"`
	LastMonthlyReset time.Time `json:"last_monthly_reset"`

	VirtualAccountNumber string `json:"virtual_account_number"`
	VirtualBankCode      string `json:"virtual_bank_code"`
	VirtualBankName      string `json:"virtual_bank_name"`
	VirtualAccountName   string `json:"virtual_account_name"`

	Frozen           bool   `json:"frozen" gorm:"default:false"`
	ComplianceStatus string `json:"compliance_status" gorm:"default:'clear'"`
}

// Transaction is an append-only ledger record. Reference is the idempotency
// key: replaying any mutating ledger operation with the same reference
// returns the stored record without touching the wallet again.
type Transaction struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UserID      uint           `json:"user_id" gorm:"index"`
	WalletID    uint           `json:"wallet_id" gorm:"index"`
	Reference   string         `json:"reference" gorm:"uniqueIndex;not null"`
	Type        string         `json:"type"`
	Category    string         `json:"category"`
	Amount      float64        `json:"amount"`
	Fee         float64        `json:"fee"`
	TotalAmount float64        `json:"total_amount"`
	Currency    string         `json:"currency" gorm:"default:'NGN'"`
	Status      string         `json:"status" gorm:"index"`
	Description string         `json:"description"`
	// Balance is the total wallet balance observed around the commit.
	BalanceBefore float64 `json:"balance_before"`
	BalanceAfter  float64 `json:"balance_after"`
	ProviderRef   string  `json:"provider_ref"`
	// Details carries recipient/sender specifics as JSON.
	Details     string         `json:"details"`
	RetryCount  int            `json:"retry_count" gorm:"default:0"`
	ParentID    *uint          `json:"parent_id"`
	CompletedAt *time.Time     `json:"completed_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// Transaction type constants
const (
	TransactionTypeCredit   = "credit"
	TransactionTypeDebit    = "debit"
	TransactionTypeTransfer = "transfer"
	TransactionTypeAirtime  = "airtime"
	TransactionTypeData     = "data"
	TransactionTypeUtility  = "utility"
	TransactionTypeFee      = "fee"
	TransactionTypeRefund   = "refund"
	TransactionTypeReversal = "reversal"
)

// Transaction status constants. Transitions are monotonic:
// pending -> processing -> completed|failed|cancelled; completed -> reversed.
const (
	TransactionStatusPending    = "pending"
	TransactionStatusProcessing = "processing"
	TransactionStatusCompleted  = "completed"
	TransactionStatusFailed     = "failed"
	TransactionStatusCancelled  = "cancelled"
	TransactionStatusReversed   = "reversed"
)

// Terminal reports whether no further status transition is allowed, other
// than completed -> reversed via a child reversal.
func (t *Transaction) Terminal() bool {
	switch t.Status {
	case TransactionStatusCompleted, TransactionStatusFailed,
		TransactionStatusCancelled, TransactionStatusReversed:
		return true
	}
	return false
}
