package transactions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emeka-okafor/kudipal/models"
	"github.com/emeka-okafor/kudipal/services/ports"
	"github.com/emeka-okafor/kudipal/utils"
)

func newReconciler(f *fixture) *Reconciler {
	return NewReconciler(f.users, f.ledg, f.msgr, f.bank, f.vas, nil, "")
}

// parkProcessing puts a held transfer into processing, as an ambiguous
// provider outcome would.
func parkProcessing(t *testing.T, f *fixture, user *models.User, amount, fee float64) *models.Transaction {
	t.Helper()
	ctx := context.Background()
	ref := utils.NewReference(utils.RefBankTransfer)
	_, err := f.ledg.DebitWithHold(ctx, user.ID, amount, fee,
		models.TransactionTypeTransfer, models.TransactionTypeTransfer, ref, "Transfer to 012*****89 (GTBank)", nil)
	require.NoError(t, err)
	tx, err := f.ledg.MarkProcessing(ctx, user.ID, ref)
	require.NoError(t, err)
	return tx
}

func TestSweepSettlesConfirmedTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newUser(t, 10_000)
	tx := parkProcessing(t, f, user, 2000, 10)
	f.bank.statusResult = ports.ProviderResult{OK: true, ProviderRef: "PRV-REC-1"}

	r := newReconciler(f)
	r.Sweep(ctx)

	stored, err := f.store.TransactionByReference(ctx, tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, stored.Status)
	assert.Equal(t, "PRV-REC-1", stored.ProviderRef)

	wallet, err := f.ledg.Wallet(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, wallet.Pending)
	assert.Equal(t, 7990.0, wallet.Available)

	require.NotEmpty(t, f.msgr.sent)
	assert.Contains(t, f.msgr.last().body, "confirmed")
	assert.Contains(t, f.msgr.last().body, tx.Reference)
}

func TestSweepFailsDeclinedTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newUser(t, 10_000)
	tx := parkProcessing(t, f, user, 2000, 10)
	f.bank.statusResult = ports.ProviderResult{
		OK:        false,
		ErrorKind: ports.ProviderErrPermanent,
		Message:   "Beneficiary bank rejected the credit.",
	}

	r := newReconciler(f)
	r.Sweep(ctx)

	stored, err := f.store.TransactionByReference(ctx, tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, stored.Status)

	wallet, err := f.ledg.Wallet(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 10_000.0, wallet.Available, "the held total is back")
	assert.Zero(t, wallet.Pending)
	assert.Zero(t, wallet.DailySpent)

	assert.Contains(t, f.msgr.last().body, "back in your wallet")
}

func TestSweepKeepsAmbiguousOnHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newUser(t, 10_000)
	tx := parkProcessing(t, f, user, 2000, 10)
	f.bank.statusResult = ports.ProviderResult{OK: false, ErrorKind: ports.ProviderErrRetryable}

	r := newReconciler(f)
	r.Sweep(ctx)
	r.Sweep(ctx)

	stored, err := f.store.TransactionByReference(ctx, tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusProcessing, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)

	wallet, err := f.ledg.Wallet(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2010.0, wallet.Pending, "hold survives every inconclusive pass")

	assert.Empty(t, r.alerted, "a fresh transaction raises no alert")
	assert.Empty(t, f.msgr.sent, "the user hears nothing until there is an answer")
}

func TestSweepAlertsAfterMaxAge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newUser(t, 10_000)
	tx := parkProcessing(t, f, user, 2000, 10)
	f.bank.statusResult = ports.ProviderResult{OK: false, ErrorKind: ports.ProviderErrTimeout}

	r := newReconciler(f)
	r.now = func() time.Time { return tx.CreatedAt.Add(reconcileMaxAge + time.Minute) }

	r.Sweep(ctx)
	assert.True(t, r.alerted[tx.Reference], "stale ambiguity escalates to the operator")

	// A later resolution clears the alert bookkeeping.
	f.bank.statusResult = ports.ProviderResult{OK: true, ProviderRef: "PRV-REC-2"}
	r.Sweep(ctx)
	assert.False(t, r.alerted[tx.Reference])

	stored, err := f.store.TransactionByReference(ctx, tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, stored.Status)
}

func TestCompactDetails(t *testing.T) {
	assert.Equal(t, "none", compactDetails(""))
	assert.Equal(t, `{"bank":"058","account":"0123456789"}`,
		compactDetails("{\n  \"bank\": \"058\",\n  \"account\": \"0123456789\"\n}"))
	assert.Equal(t, "not json", compactDetails("not json"), "unparseable details pass through")
}

func TestSweepStatusOutageLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.newUser(t, 10_000)
	tx := parkProcessing(t, f, user, 2000, 10)
	f.bank.statusErr = assert.AnError

	r := newReconciler(f)
	r.Sweep(ctx)

	stored, err := f.store.TransactionByReference(ctx, tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusProcessing, stored.Status)
	assert.Zero(t, stored.RetryCount, "a failed status query is not a provider answer")
}
