package transactions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emeka-okafor/kudipal/models"
	"github.com/emeka-okafor/kudipal/services/ledger"
	"github.com/emeka-okafor/kudipal/services/ports"
	"github.com/emeka-okafor/kudipal/utils"
)

// Reconciliation policy: poll the provider every 60 s; after 10 minutes of
// ambiguity, raise an operator alert and keep polling.
const (
	reconcileInterval = time.Minute
	reconcileMaxAge   = 10 * time.Minute
	reconcileBatch    = 50
	statusTimeout     = 15 * time.Second
)

// Reconciler chases transactions stuck in processing until the provider
// gives a final answer. It never guesses: a transaction settles or fails
// only on an unambiguous provider status.
type Reconciler struct {
	users    ports.UserStore
	ledger   *ledger.Ledger
	msgr     ports.Messenger
	bank     ports.BankClient
	vas      ports.VasClient
	mailer   *utils.Mailer
	opsEmail string
	now      func() time.Time

	alerted map[string]bool
}

// NewReconciler wires the reconciler. mailer/opsEmail are optional; without
// them the escalation alert degrades to an error log.
func NewReconciler(users ports.UserStore, l *ledger.Ledger, msgr ports.Messenger, bank ports.BankClient, vas ports.VasClient, mailer *utils.Mailer, opsEmail string) *Reconciler {
	return &Reconciler{
		users:    users,
		ledger:   l,
		msgr:     msgr,
		bank:     bank,
		vas:      vas,
		mailer:   mailer,
		opsEmail: opsEmail,
		now:      time.Now,
		alerted:  make(map[string]bool),
	}
}

// Run polls until ctx is cancelled. Intended to run as a single goroutine
// from main.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep resolves one batch of processing transactions. Exported so tests and
// an admin endpoint can trigger a pass directly.
func (r *Reconciler) Sweep(ctx context.Context) {
	txs, err := r.ledger.ProcessingTransactions(ctx, reconcileBatch)
	if err != nil {
		utils.LogError("Reconciler: listing processing transactions failed: %v", err)
		return
	}
	for i := range txs {
		if ctx.Err() != nil {
			return
		}
		r.reconcile(ctx, &txs[i])
	}
}

func (r *Reconciler) reconcile(ctx context.Context, tx *models.Transaction) {
	statusCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	result, err := r.queryStatus(statusCtx, tx)
	cancel()
	if err != nil {
		utils.LogWarn("Reconciler: status query failed for %s: %v", tx.Reference, err)
		r.maybeAlert(tx)
		return
	}

	switch {
	case result.OK:
		settled, err := r.ledger.SettleDebit(ctx, tx.UserID, tx.Reference, result.ProviderRef)
		if err != nil {
			utils.LogError("Reconciler: settle failed for %s: %v", tx.Reference, err)
			return
		}
		utils.LogInfo("Reconciler: settled %s", tx.Reference)
		delete(r.alerted, tx.Reference)
		r.notify(ctx, settled, fmt.Sprintf("✅ Your %s of %s is confirmed.\nRef: %s",
			productName(settled.Type), utils.FormatNaira(settled.Amount), settled.Reference))

	case result.ErrorKind == ports.ProviderErrPermanent:
		reason := result.Message
		if reason == "" {
			reason = "The provider declined the transaction."
		}
		failed, err := r.ledger.FailDebit(ctx, tx.UserID, tx.Reference, reason)
		if err != nil {
			utils.LogError("Reconciler: fail failed for %s: %v", tx.Reference, err)
			return
		}
		utils.LogInfo("Reconciler: failed %s (%s)", tx.Reference, reason)
		delete(r.alerted, tx.Reference)
		r.notify(ctx, failed, fmt.Sprintf("❌ Your %s of %s could not be completed. The %s is back in your wallet.\nRef: %s",
			productName(failed.Type), utils.FormatNaira(failed.Amount), utils.FormatNaira(failed.TotalAmount), failed.Reference))

	default:
		// Still ambiguous. Keep the hold; escalate when it has dragged on.
		if _, err := r.ledger.BumpRetry(ctx, tx.UserID, tx.Reference); err != nil {
			utils.LogWarn("Reconciler: retry bump failed for %s: %v", tx.Reference, err)
		}
		r.maybeAlert(tx)
	}
}

func (r *Reconciler) queryStatus(ctx context.Context, tx *models.Transaction) (ports.ProviderResult, error) {
	switch tx.Type {
	case models.TransactionTypeTransfer:
		if r.bank == nil {
			return ports.ProviderResult{}, fmt.Errorf("no banking partner configured")
		}
		return r.bank.TransferStatus(ctx, tx.Reference)
	case models.TransactionTypeAirtime, models.TransactionTypeData, models.TransactionTypeUtility:
		if r.vas == nil {
			return ports.ProviderResult{}, fmt.Errorf("no VAS vendor configured")
		}
		return r.vas.PurchaseStatus(ctx, tx.Reference)
	}
	return ports.ProviderResult{}, fmt.Errorf("unreconcilable transaction type %q", tx.Type)
}

// maybeAlert raises a one-time operator alert once a transaction has been
// ambiguous for longer than the reconciliation window.
func (r *Reconciler) maybeAlert(tx *models.Transaction) {
	if r.alerted[tx.Reference] || r.now().Sub(tx.CreatedAt) < reconcileMaxAge {
		return
	}
	r.alerted[tx.Reference] = true

	subject := fmt.Sprintf("KudiPal: transaction %s unresolved for %s", tx.Reference, reconcileMaxAge)
	body := fmt.Sprintf("Transaction %s (user %d, %s, %s) has been in processing since %s after %d status checks.\n\nDetails: %s\n\nManual reconciliation required.",
		tx.Reference, tx.UserID, tx.Type, utils.FormatNaira(tx.TotalAmount),
		tx.CreatedAt.Format(time.RFC3339), tx.RetryCount, compactDetails(tx.Details))

	if r.mailer != nil && r.mailer.Enabled() && r.opsEmail != "" {
		if err := r.mailer.SendOpsAlert(r.opsEmail, subject, body); err != nil {
			utils.LogError("Reconciler: ops alert failed for %s: %v", tx.Reference, err)
		}
		return
	}
	utils.LogError("Reconciler: %s", subject)
}

func (r *Reconciler) notify(ctx context.Context, tx *models.Transaction, body string) {
	user, err := r.users.ByID(ctx, tx.UserID)
	if err != nil || user == nil {
		utils.LogError("Reconciler: user %d lookup failed for %s: %v", tx.UserID, tx.Reference, err)
		return
	}
	if err := r.msgr.SendText(ctx, user.WhatsAppNumber, body); err != nil {
		utils.LogError("Reconciler: notification failed for %s: %v", tx.Reference, err)
	}
}

func productName(txType string) string {
	switch txType {
	case models.TransactionTypeTransfer:
		return "transfer"
	case models.TransactionTypeAirtime:
		return "airtime purchase"
	case models.TransactionTypeData:
		return "data purchase"
	case models.TransactionTypeUtility:
		return "bill payment"
	}
	return "transaction"
}

func compactDetails(details string) string {
	if details == "" {
		return "none"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(details)); err != nil {
		return details
	}
	return buf.String()
}
