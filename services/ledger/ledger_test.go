package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emeka-okafor/kudipal/models"
	"github.com/emeka-okafor/kudipal/services/storage"
	"github.com/emeka-okafor/kudipal/utils"
)

func newTestLedger(t *testing.T) (*Ledger, *time.Time) {
	t.Helper()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	l := New(storage.NewMemoryLedgerStore(), Options{
		DefaultDailyLimit:   50_000,
		DefaultMonthlyLimit: 200_000,
		Clock:               func() time.Time { return now },
	})
	return l, &now
}

func fundedWallet(t *testing.T, l *Ledger, userID uint, amount float64) *models.Wallet {
	t.Helper()
	ctx := context.Background()
	wallet, err := l.EnsureWallet(ctx, userID)
	require.NoError(t, err)
	if amount > 0 {
		_, err = l.Credit(ctx, userID, amount, "funding", utils.NewReference(utils.RefCredit), "Wallet funding", nil)
		require.NoError(t, err)
	}
	return wallet
}

func TestEnsureWallet(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	wallet, err := l.EnsureWallet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "NGN", wallet.Currency)
	assert.Equal(t, float64(50_000), wallet.DailyLimit)

	again, err := l.EnsureWallet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, again.ID)
}

func TestCreditIdempotent(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	fundedWallet(t, l, 1, 0)

	tx, err := l.Credit(ctx, 1, 5000, "funding", "CR_TEST_1", "Funding", nil)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, tx.Status)

	replay, err := l.Credit(ctx, 1, 5000, "funding", "CR_TEST_1", "Funding", nil)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, replay.ID)

	wallet, err := l.Wallet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(5000), wallet.Balance)
	assert.Equal(t, float64(5000), wallet.Available)
}

func TestDebitWithHold(t *testing.T) {
	ctx := context.Background()

	t.Run("moves available into pending", func(t *testing.T) {
		l, _ := newTestLedger(t)
		fundedWallet(t, l, 1, 10_000)

		tx, err := l.DebitWithHold(ctx, 1, 2000, 10, models.TransactionTypeTransfer, "transfer", "BT_1", "Transfer", nil)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusPending, tx.Status)
		assert.Equal(t, float64(2010), tx.TotalAmount)

		wallet, _ := l.Wallet(ctx, 1)
		assert.Equal(t, float64(7990), wallet.Available)
		assert.Equal(t, float64(2010), wallet.Pending)
		assert.Equal(t, float64(10_000), wallet.Balance, "balance only moves at settlement")
		assert.Equal(t, float64(2010), wallet.DailySpent)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		l, _ := newTestLedger(t)
		fundedWallet(t, l, 1, 100)

		_, err := l.DebitWithHold(ctx, 1, 2000, 10, models.TransactionTypeTransfer, "transfer", "BT_2", "Transfer", nil)
		require.Error(t, err)
		assert.Equal(t, utils.KindInsufficientFunds, utils.KindOf(err))

		wallet, _ := l.Wallet(ctx, 1)
		assert.Equal(t, float64(100), wallet.Available, "failed debit must not touch the wallet")
		assert.Zero(t, wallet.DailySpent)
	})

	t.Run("daily limit", func(t *testing.T) {
		l, _ := newTestLedger(t)
		fundedWallet(t, l, 1, 100_000)

		_, err := l.DebitWithHold(ctx, 1, 49_000, 0, models.TransactionTypeTransfer, "transfer", "BT_3", "T", nil)
		require.NoError(t, err)
		_, err = l.DebitWithHold(ctx, 1, 2000, 0, models.TransactionTypeTransfer, "transfer", "BT_4", "T", nil)
		require.Error(t, err)
		assert.Equal(t, utils.KindDailyLimitExceeded, utils.KindOf(err))
	})

	t.Run("monthly limit", func(t *testing.T) {
		l, _ := newTestLedger(t)
		wallet := fundedWallet(t, l, 1, 500_000)
		wallet, err := l.Wallet(ctx, 1)
		require.NoError(t, err)
		wallet.DailyLimit = 500_000
		require.NoError(t, l.SaveWallet(ctx, wallet))

		_, err = l.DebitWithHold(ctx, 1, 150_000, 0, models.TransactionTypeTransfer, "transfer", "BT_5", "T", nil)
		require.NoError(t, err)
		_, err = l.DebitWithHold(ctx, 1, 60_000, 0, models.TransactionTypeTransfer, "transfer", "BT_6", "T", nil)
		require.Error(t, err)
		assert.Equal(t, utils.KindMonthlyLimit, utils.KindOf(err))
	})

	t.Run("frozen wallet", func(t *testing.T) {
		l, _ := newTestLedger(t)
		fundedWallet(t, l, 1, 10_000)
		wallet, _ := l.Wallet(ctx, 1)
		wallet.Frozen = true
		require.NoError(t, l.SaveWallet(ctx, wallet))

		_, err := l.DebitWithHold(ctx, 1, 100, 0, models.TransactionTypeTransfer, "transfer", "BT_7", "T", nil)
		require.Error(t, err)
		assert.Equal(t, utils.KindWalletFrozen, utils.KindOf(err))
	})

	t.Run("replay returns stored record untouched", func(t *testing.T) {
		l, _ := newTestLedger(t)
		fundedWallet(t, l, 1, 10_000)

		first, err := l.DebitWithHold(ctx, 1, 2000, 0, models.TransactionTypeTransfer, "transfer", "BT_8", "T", nil)
		require.NoError(t, err)
		replay, err := l.DebitWithHold(ctx, 1, 2000, 0, models.TransactionTypeTransfer, "transfer", "BT_8", "T", nil)
		require.NoError(t, err)
		assert.Equal(t, first.ID, replay.ID)

		wallet, _ := l.Wallet(ctx, 1)
		assert.Equal(t, float64(8000), wallet.Available, "replay must not double-debit")
	})
}

func TestSettleDebit(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	fundedWallet(t, l, 1, 10_000)

	_, err := l.DebitWithHold(ctx, 1, 2000, 10, models.TransactionTypeTransfer, "transfer", "BT_S", "T", nil)
	require.NoError(t, err)

	tx, err := l.SettleDebit(ctx, 1, "BT_S", "PROV-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, tx.Status)
	assert.Equal(t, "PROV-1", tx.ProviderRef)
	require.NotNil(t, tx.CompletedAt)

	wallet, _ := l.Wallet(ctx, 1)
	assert.Equal(t, float64(7990), wallet.Balance)
	assert.Zero(t, wallet.Pending)
	assert.Equal(t, float64(2010), wallet.TotalDebits)

	// Settling again is a no-op.
	again, err := l.SettleDebit(ctx, 1, "BT_S", "PROV-1")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, again.ID)
	wallet, _ = l.Wallet(ctx, 1)
	assert.Equal(t, float64(7990), wallet.Balance)
}

func TestFailDebit(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	fundedWallet(t, l, 1, 10_000)

	_, err := l.DebitWithHold(ctx, 1, 2000, 10, models.TransactionTypeTransfer, "transfer", "BT_F", "T", nil)
	require.NoError(t, err)

	tx, err := l.FailDebit(ctx, 1, "BT_F", "declined")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, tx.Status)

	wallet, _ := l.Wallet(ctx, 1)
	assert.Equal(t, float64(10_000), wallet.Available, "hold must be released")
	assert.Zero(t, wallet.Pending)
	assert.Zero(t, wallet.DailySpent, "limit counters must be refunded")
	assert.Equal(t, float64(10_000), wallet.Balance)

	// Failing a failed transaction is a no-op.
	_, err = l.FailDebit(ctx, 1, "BT_F", "declined")
	require.NoError(t, err)
	wallet, _ = l.Wallet(ctx, 1)
	assert.Equal(t, float64(10_000), wallet.Available)
}

func TestSettleAfterFailRejected(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	fundedWallet(t, l, 1, 10_000)

	_, err := l.DebitWithHold(ctx, 1, 2000, 0, models.TransactionTypeTransfer, "transfer", "BT_X", "T", nil)
	require.NoError(t, err)
	_, err = l.FailDebit(ctx, 1, "BT_X", "declined")
	require.NoError(t, err)

	_, err = l.SettleDebit(ctx, 1, "BT_X", "")
	assert.Error(t, err, "failed transaction must not settle")
}

func TestReverse(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	fundedWallet(t, l, 1, 10_000)

	_, err := l.DebitWithHold(ctx, 1, 2000, 0, models.TransactionTypeTransfer, "transfer", "BT_R", "T", nil)
	require.NoError(t, err)
	_, err = l.SettleDebit(ctx, 1, "BT_R", "")
	require.NoError(t, err)

	reversal, err := l.Reverse(ctx, 1, "BT_R", "provider reversal")
	require.NoError(t, err)
	assert.Equal(t, "RV_BT_R", reversal.Reference)
	assert.Equal(t, models.TransactionTypeReversal, reversal.Type)

	wallet, _ := l.Wallet(ctx, 1)
	assert.Equal(t, float64(10_000), wallet.Balance)
	assert.Equal(t, float64(10_000), wallet.Available)

	// Replay credits nothing twice.
	again, err := l.Reverse(ctx, 1, "BT_R", "provider reversal")
	require.NoError(t, err)
	assert.Equal(t, reversal.ID, again.ID)
	wallet, _ = l.Wallet(ctx, 1)
	assert.Equal(t, float64(10_000), wallet.Balance)

	// Pending transactions cannot be reversed.
	_, err = l.DebitWithHold(ctx, 1, 100, 0, models.TransactionTypeTransfer, "transfer", "BT_R2", "T", nil)
	require.NoError(t, err)
	_, err = l.Reverse(ctx, 1, "BT_R2", "nope")
	assert.Error(t, err)
}

func TestLimitCounterResets(t *testing.T) {
	l, now := newTestLedger(t)
	ctx := context.Background()
	fundedWallet(t, l, 1, 400_000)
	wallet, _ := l.Wallet(ctx, 1)
	wallet.DailyLimit = 400_000
	require.NoError(t, l.SaveWallet(ctx, wallet))

	_, err := l.DebitWithHold(ctx, 1, 40_000, 0, models.TransactionTypeTransfer, "transfer", "BT_D1", "T", nil)
	require.NoError(t, err)
	wallet, _ = l.Wallet(ctx, 1)
	assert.Equal(t, float64(40_000), wallet.DailySpent)

	// Next calendar day: the daily counter resets, monthly does not.
	*now = now.Add(24 * time.Hour)
	_, err = l.DebitWithHold(ctx, 1, 1000, 0, models.TransactionTypeTransfer, "transfer", "BT_D2", "T", nil)
	require.NoError(t, err)
	wallet, _ = l.Wallet(ctx, 1)
	assert.Equal(t, float64(1000), wallet.DailySpent)
	assert.Equal(t, float64(41_000), wallet.MonthlySpent)

	// Next month: the monthly counter resets too.
	*now = now.AddDate(0, 1, 0)
	_, err = l.DebitWithHold(ctx, 1, 500, 0, models.TransactionTypeTransfer, "transfer", "BT_D3", "T", nil)
	require.NoError(t, err)
	wallet, _ = l.Wallet(ctx, 1)
	assert.Equal(t, float64(500), wallet.DailySpent)
	assert.Equal(t, float64(500), wallet.MonthlySpent)
}

func TestHoldRelease(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	fundedWallet(t, l, 1, 1000)

	require.NoError(t, l.Hold(ctx, 1, 600))
	wallet, _ := l.Wallet(ctx, 1)
	assert.Equal(t, float64(400), wallet.Available)
	assert.Equal(t, float64(600), wallet.Pending)

	err := l.Hold(ctx, 1, 500)
	assert.Equal(t, utils.KindInsufficientFunds, utils.KindOf(err))

	require.NoError(t, l.Release(ctx, 1, 600))
	wallet, _ = l.Wallet(ctx, 1)
	assert.Equal(t, float64(1000), wallet.Available)
	assert.Zero(t, wallet.Pending)
}
