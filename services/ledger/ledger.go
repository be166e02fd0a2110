// Package ledger implements double-entry wallet mutations: credits, holds,
// PIN-gated debits with daily/monthly limit accounting, settlements and
// reversals. Every mutating operation is idempotent by transaction
// reference; replays return the stored record without touching the wallet.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emeka-okafor/kudipal/models"
	"github.com/emeka-okafor/kudipal/services/ports"
	"github.com/emeka-okafor/kudipal/utils"
)

// Options sets the limits stamped onto newly provisioned wallets.
type Options struct {
	DefaultDailyLimit   float64
	DefaultMonthlyLimit float64
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Ledger owns all wallet and transaction mutations.
type Ledger struct {
	store ports.LedgerStore
	opts  Options
	now   func() time.Time
}

// New creates a Ledger over the given store.
func New(store ports.LedgerStore, opts Options) *Ledger {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, opts: opts, now: now}
}

// EnsureWallet returns the user's wallet, creating one with default limits
// when none exists yet.
func (l *Ledger) EnsureWallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	wallet, err := l.store.WalletByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet != nil {
		return wallet, nil
	}
	now := l.now()
	wallet = &models.Wallet{
		UserID:           userID,
		Currency:         "NGN",
		DailyLimit:       l.opts.DefaultDailyLimit,
		MonthlyLimit:     l.opts.DefaultMonthlyLimit,
		LastDailyReset:   now,
		LastMonthlyReset: now,
	}
	if err := l.store.CreateWallet(ctx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

// Wallet returns the user's wallet or a not_found error.
func (l *Ledger) Wallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	wallet, err := l.store.WalletByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, utils.E(utils.KindNotFound, "wallet not found", nil)
	}
	return wallet, nil
}

// SaveWallet persists non-balance wallet changes (virtual account details,
// limits, freeze state). Balance mutations go through Apply.
func (l *Ledger) SaveWallet(ctx context.Context, wallet *models.Wallet) error {
	return l.store.SaveWallet(ctx, wallet)
}

// Transactions returns the wallet's transactions since the given time.
func (l *Ledger) Transactions(ctx context.Context, walletID uint, since time.Time) ([]models.Transaction, error) {
	return l.store.ListByWallet(ctx, walletID, since)
}

// ProcessingTransactions returns debits stuck in processing, oldest first,
// for the reconciler to chase.
func (l *Ledger) ProcessingTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	return l.store.ListByStatus(ctx, models.TransactionStatusProcessing, limit)
}

// Credit increments balance and available balance and appends a completed
// credit transaction. Idempotent by ref.
func (l *Ledger) Credit(ctx context.Context, userID uint, amount float64, category, ref, description string, details interface{}) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, utils.ValidationError("Credit amount must be positive")
	}
	tx, _, err := l.store.Apply(ctx, userID, ref, func(w *models.Wallet) (*models.Transaction, error) {
		before := w.Balance
		w.Balance += amount
		w.Available += amount
		w.TotalCredits += amount
		now := l.now()
		return &models.Transaction{
			UserID:        userID,
			WalletID:      w.ID,
			Reference:     ref,
			Type:          models.TransactionTypeCredit,
			Category:      category,
			Amount:        amount,
			TotalAmount:   amount,
			Currency:      w.Currency,
			Status:        models.TransactionStatusCompleted,
			Description:   description,
			BalanceBefore: before,
			BalanceAfter:  w.Balance,
			Details:       encodeDetails(details),
			CompletedAt:   &now,
			CreatedAt:     now,
		}, nil
	})
	return tx, err
}

// Hold moves amount from available into pending without writing a
// transaction record. Callers inside the per-user serialized zone only.
func (l *Ledger) Hold(ctx context.Context, userID uint, amount float64) error {
	wallet, err := l.Wallet(ctx, userID)
	if err != nil {
		return err
	}
	if wallet.Available < amount {
		return utils.E(utils.KindInsufficientFunds, "insufficient available balance for hold", nil)
	}
	wallet.Available -= amount
	wallet.Pending += amount
	return l.store.SaveWallet(ctx, wallet)
}

// Release moves amount from pending back into available, clamping at zero.
func (l *Ledger) Release(ctx context.Context, userID uint, amount float64) error {
	wallet, err := l.Wallet(ctx, userID)
	if err != nil {
		return err
	}
	if amount > wallet.Pending {
		amount = wallet.Pending
	}
	wallet.Pending -= amount
	wallet.Available += amount
	return l.store.SaveWallet(ctx, wallet)
}

// DebitWithHold atomically checks limits and availability, moves amount+fee
// from available into pending, counts the spend against the daily and
// monthly limits, and writes a pending transaction. Idempotent by ref.
func (l *Ledger) DebitWithHold(ctx context.Context, userID uint, amount, fee float64, txType, category, ref, description string, details interface{}) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, utils.ValidationError("Debit amount must be positive")
	}
	total := amount + fee
	tx, _, err := l.store.Apply(ctx, userID, ref, func(w *models.Wallet) (*models.Transaction, error) {
		l.resetCounters(w)
		if w.Frozen {
			return nil, utils.E(utils.KindWalletFrozen, "wallet is frozen", nil)
		}
		if w.Available < total {
			return nil, utils.E(utils.KindInsufficientFunds, "insufficient funds", nil)
		}
		if w.DailyLimit > 0 && w.DailySpent+total > w.DailyLimit {
			return nil, utils.E(utils.KindDailyLimitExceeded, "daily limit exceeded", nil)
		}
		if w.MonthlyLimit > 0 && w.MonthlySpent+total > w.MonthlyLimit {
			return nil, utils.E(utils.KindMonthlyLimit, "monthly limit exceeded", nil)
		}

		w.Available -= total
		w.Pending += total
		w.DailySpent += total
		w.MonthlySpent += total

		return &models.Transaction{
			UserID:        userID,
			WalletID:      w.ID,
			Reference:     ref,
			Type:          txType,
			Category:      category,
			Amount:        amount,
			Fee:           fee,
			TotalAmount:   total,
			Currency:      w.Currency,
			Status:        models.TransactionStatusPending,
			Description:   description,
			BalanceBefore: w.Balance,
			BalanceAfter:  w.Balance,
			Details:       encodeDetails(details),
			CreatedAt:     l.now(),
		}, nil
	})
	return tx, err
}

// SettleDebit completes a pending or processing debit: the held total leaves
// the wallet and the transaction becomes completed. Settling an already
// completed transaction is a no-op.
func (l *Ledger) SettleDebit(ctx context.Context, userID uint, ref, providerRef string) (*models.Transaction, error) {
	return l.store.ApplyExisting(ctx, userID, ref, func(w *models.Wallet, t *models.Transaction) error {
		if t.Status == models.TransactionStatusCompleted {
			return nil
		}
		if t.Terminal() {
			return utils.InternalError(fmt.Sprintf("cannot settle %s transaction %s", t.Status, ref), nil)
		}
		t.BalanceBefore = w.Balance
		w.Balance -= t.TotalAmount
		w.Pending -= t.TotalAmount
		if w.Pending < 0 {
			w.Pending = 0
		}
		w.TotalDebits += t.TotalAmount
		t.BalanceAfter = w.Balance
		t.Status = models.TransactionStatusCompleted
		if providerRef != "" {
			t.ProviderRef = providerRef
		}
		now := l.now()
		t.CompletedAt = &now
		return nil
	})
}

// FailDebit releases the hold back into available balance, refunds the limit
// counters and marks the transaction failed. Failing a transaction that is
// already terminal is a no-op.
func (l *Ledger) FailDebit(ctx context.Context, userID uint, ref, reason string) (*models.Transaction, error) {
	return l.store.ApplyExisting(ctx, userID, ref, func(w *models.Wallet, t *models.Transaction) error {
		if t.Terminal() {
			return nil
		}
		release := t.TotalAmount
		if release > w.Pending {
			release = w.Pending
		}
		w.Pending -= release
		w.Available += release
		w.DailySpent -= t.TotalAmount
		if w.DailySpent < 0 {
			w.DailySpent = 0
		}
		w.MonthlySpent -= t.TotalAmount
		if w.MonthlySpent < 0 {
			w.MonthlySpent = 0
		}
		t.Status = models.TransactionStatusFailed
		if reason != "" {
			t.Description = reason
		}
		return nil
	})
}

// MarkProcessing moves a pending debit into processing so the reconciler
// picks it up. Balances are untouched; the hold stays in place.
func (l *Ledger) MarkProcessing(ctx context.Context, userID uint, ref string) (*models.Transaction, error) {
	return l.store.ApplyExisting(ctx, userID, ref, func(w *models.Wallet, t *models.Transaction) error {
		if t.Status == models.TransactionStatusProcessing || t.Terminal() {
			return nil
		}
		t.Status = models.TransactionStatusProcessing
		return nil
	})
}

// BumpRetry increments the retry counter on a non-terminal transaction.
func (l *Ledger) BumpRetry(ctx context.Context, userID uint, ref string) (*models.Transaction, error) {
	return l.store.ApplyExisting(ctx, userID, ref, func(w *models.Wallet, t *models.Transaction) error {
		if t.Terminal() {
			return nil
		}
		t.RetryCount++
		return nil
	})
}

// Reverse credits back a completed debit through a child reversal
// transaction and marks the parent reversed. The reversal reference is
// derived from the original so replays are idempotent.
func (l *Ledger) Reverse(ctx context.Context, userID uint, originalRef, reason string) (*models.Transaction, error) {
	original, err := l.store.TransactionByReference(ctx, originalRef)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, utils.E(utils.KindNotFound, "original transaction not found", nil)
	}
	if original.Status != models.TransactionStatusCompleted && original.Status != models.TransactionStatusReversed {
		return nil, utils.InternalError(fmt.Sprintf("cannot reverse %s transaction %s", original.Status, originalRef), nil)
	}

	reversalRef := utils.RefReversal + "_" + originalRef
	reversal, _, err := l.store.Apply(ctx, userID, reversalRef, func(w *models.Wallet) (*models.Transaction, error) {
		before := w.Balance
		w.Balance += original.TotalAmount
		w.Available += original.TotalAmount
		now := l.now()
		parentID := original.ID
		return &models.Transaction{
			UserID:        userID,
			WalletID:      w.ID,
			Reference:     reversalRef,
			Type:          models.TransactionTypeReversal,
			Category:      original.Category,
			Amount:        original.TotalAmount,
			TotalAmount:   original.TotalAmount,
			Currency:      w.Currency,
			Status:        models.TransactionStatusCompleted,
			Description:   reason,
			BalanceBefore: before,
			BalanceAfter:  w.Balance,
			ParentID:      &parentID,
			CompletedAt:   &now,
			CreatedAt:     now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if original.Status != models.TransactionStatusReversed {
		if _, err := l.store.ApplyExisting(ctx, userID, originalRef, func(w *models.Wallet, t *models.Transaction) error {
			t.Status = models.TransactionStatusReversed
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return reversal, nil
}

// resetCounters zeroes the daily counter when the stored reset day is behind
// today, and the monthly counter when the month has rolled over. Called at
// the start of every debit, inside the wallet's transactional scope.
func (l *Ledger) resetCounters(w *models.Wallet) {
	now := l.now()
	if dayOf(w.LastDailyReset) != dayOf(now) {
		w.DailySpent = 0
		w.LastDailyReset = now
	}
	ly, lm, _ := w.LastMonthlyReset.Date()
	ny, nm, _ := now.Date()
	if ly != ny || lm != nm {
		w.MonthlySpent = 0
		w.LastMonthlyReset = now
	}
}

func dayOf(t time.Time) string {
	return t.Format("2006-01-02")
}

func encodeDetails(details interface{}) string {
	if details == nil {
		return ""
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	return string(raw)
}
