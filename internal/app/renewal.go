/**
 * @description
 * The renewal unit of work: extend a subscription's paid period by exactly one
 * billing cycle, charging the wallet, with all-or-nothing semantics. The wallet
 * debit must be durably recorded before the subscription end advances; if the
 * advance fails after a successful debit, the debit is rolled back with a
 * compensating credit before returning.
 *
 * @notes
 * - Expected business outcomes (insufficient funds, free trial) are reported
 *   through the RenewalResult, not through errors. The sweep branches on
 *   Reason without exception-driven control flow.
 * - Rollback is a best-effort compensating action, not a database transaction:
 *   the wallet and subscription rows live in different tables and no
 *   distributed transaction is assumed. Each compensating step is idempotent
 *   and logged.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nimbushost/lifecycle-service/internal/domain"
	"github.com/nimbushost/lifecycle-service/internal/store"
)

// Repository defines the database operations the app layer needs.
type Repository interface {
	GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	GetDueSubscriptions(ctx context.Context, now time.Time, buffer time.Duration) ([]domain.Subscription, error)
	GetActiveCPanelSubscriptions(ctx context.Context, webhostPlanID uuid.UUID) ([]domain.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus) error
	ApplyRenewal(ctx context.Context, id uuid.UUID, cycleStart, subscriptionEnd time.Time) error
	SetGracePeriod(ctx context.Context, id uuid.UUID, graceEnd time.Time) error
	MarkTerminated(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus) error
	SetAutoRenew(ctx context.Context, id uuid.UUID, autoRenew bool) error
	ApplyCPanelRenewal(ctx context.Context, id uuid.UUID, expiry time.Time) error
	ExpireCPanelLicense(ctx context.Context, id uuid.UUID) error
	GetVPSByID(ctx context.Context, id uuid.UUID) (*domain.VPSInstance, error)
	UpdateVPSStatus(ctx context.Context, id uuid.UUID, status string) error
	DeleteVPSRecord(ctx context.Context, id uuid.UUID) error
	GetOrCreateWallet(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error)
	GetWalletBalance(ctx context.Context, userID uuid.UUID, currency string) (int64, error)
	DebitWallet(ctx context.Context, userID uuid.UUID, currency string, amount int64) error
	CreditWallet(ctx context.Context, userID uuid.UUID, currency string, amount int64) error
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	DeleteTransaction(ctx context.Context, txID uuid.UUID) error
}

// Failure reasons reported in a RenewalResult.
const (
	ReasonNotFound          = "not_found"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonFreeTrial         = "free_trial_not_renewable"
	ReasonPersistence       = "persistence_failure"
)

// RenewalResult reports the outcome of a renewal attempt.
type RenewalResult struct {
	Success              bool      `json:"success"`
	Message              string    `json:"message"`
	Reason               string    `json:"reason,omitempty"`
	TransactionReference string    `json:"transaction_reference,omitempty"`
	SubscriptionEnd      time.Time `json:"subscription_end,omitempty"`
}

// Renewer charges wallets and extends subscriptions.
type Renewer struct {
	repo     Repository
	notifier *Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewRenewer creates a renewal unit-of-work runner.
func NewRenewer(repo Repository, notifier *Notifier, logger *slog.Logger) *Renewer {
	return &Renewer{repo: repo, notifier: notifier, logger: logger, now: time.Now}
}

// Renew extends the subscription's paid period by one billing cycle, debiting
// the wallet for the stored per-cycle price. Pricing was computed at
// creation/upgrade time; renewal never re-prices.
func (r *Renewer) Renew(ctx context.Context, subscriptionID uuid.UUID, isAutoRenewal bool) RenewalResult {
	sub, err := r.repo.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			return RenewalResult{Message: "subscription not found", Reason: ReasonNotFound}
		}
		return RenewalResult{Message: err.Error(), Reason: ReasonPersistence}
	}

	if sub.PriceCents <= 0 {
		// A zero-amount debit would mask misconfigured pricing.
		return RenewalResult{Message: "free trial subscriptions cannot be renewed", Reason: ReasonFreeTrial}
	}

	prefix := "renewal"
	if isAutoRenewal {
		prefix = "auto_renewal"
	}
	reference := fmt.Sprintf("%s_%s_%d", prefix, sub.ID, r.now().Unix())

	return r.chargeAndExtend(ctx, sub, sub.PriceCents, reference)
}

// Reinstate recovers a subscription from grace period: a single debit of the
// cycle price plus the reinstatement fee, then the regular period extension.
// Restarting the stopped instance is the orchestrator's job, after this
// succeeds.
func (r *Renewer) Reinstate(ctx context.Context, sub *domain.Subscription, reinstatementFee int64) RenewalResult {
	if sub.PriceCents <= 0 {
		return RenewalResult{Message: "free trial subscriptions cannot be reinstated", Reason: ReasonFreeTrial}
	}

	reference := fmt.Sprintf("reinstatement_%s_%d", sub.ID, r.now().Unix())
	return r.chargeAndExtend(ctx, sub, sub.PriceCents+reinstatementFee, reference)
}

// chargeAndExtend is the shared debit/extend/rollback sequence.
func (r *Renewer) chargeAndExtend(ctx context.Context, sub *domain.Subscription, amount int64, reference string) RenewalResult {
	now := r.now()

	if sub.BillingCycle == nil {
		return RenewalResult{Message: "subscription has no billing cycle loaded", Reason: ReasonPersistence}
	}

	wallet, err := r.repo.GetOrCreateWallet(ctx, sub.UserID, sub.Currency)
	if err != nil {
		return RenewalResult{Message: fmt.Sprintf("wallet lookup failed: %v", err), Reason: ReasonPersistence}
	}

	// Pre-debit check; nothing has been mutated if this fails. The debit below
	// re-checks under a row lock, so a concurrent spend cannot slip through.
	if wallet.BalanceCents < amount {
		return RenewalResult{Message: "wallet balance is insufficient", Reason: ReasonInsufficientFunds}
	}

	if err := r.repo.DebitWallet(ctx, sub.UserID, sub.Currency, amount); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return RenewalResult{Message: "wallet balance is insufficient", Reason: ReasonInsufficientFunds}
		}
		return RenewalResult{Message: fmt.Sprintf("wallet debit failed: %v", err), Reason: ReasonPersistence}
	}

	txRecord := &domain.Transaction{
		ID:        uuid.New(),
		UserID:    sub.UserID,
		WalletID:  wallet.ID,
		Amount:    amount,
		Currency:  sub.Currency,
		Type:      domain.TxDebit,
		Method:    "wallet",
		Reference: reference,
		Status:    domain.TxCompleted,
	}
	if err := r.repo.CreateTransaction(ctx, txRecord); err != nil {
		r.rollbackDebit(ctx, sub, amount, uuid.Nil)
		return RenewalResult{Message: fmt.Sprintf("transaction record failed: %v", err), Reason: ReasonPersistence}
	}

	newEnd, err := NextPaymentDate(sub.SubscriptionEnd, sub.BillingCycle.Type, now)
	if err != nil {
		r.rollbackDebit(ctx, sub, amount, txRecord.ID)
		return RenewalResult{Message: err.Error(), Reason: ReasonPersistence}
	}

	if err := r.repo.ApplyRenewal(ctx, sub.ID, now, newEnd); err != nil {
		r.rollbackDebit(ctx, sub, amount, txRecord.ID)
		return RenewalResult{Message: fmt.Sprintf("failed to extend subscription: %v", err), Reason: ReasonPersistence}
	}

	r.notifier.Notify(ctx, sub.UserID, sub.ID, domain.NotifyRenewalConfirmation, map[string]interface{}{
		"amount_cents":     amount,
		"currency":         sub.Currency,
		"subscription_end": newEnd,
		"reference":        reference,
	})

	return RenewalResult{
		Success:              true,
		Message:              "subscription renewed",
		TransactionReference: reference,
		SubscriptionEnd:      newEnd,
	}
}

// rollbackDebit reverses a wallet debit and removes its ledger record. Both
// steps are idempotent; failures are logged at error level because they leave
// the wallet short until repaired.
func (r *Renewer) rollbackDebit(ctx context.Context, sub *domain.Subscription, amount int64, txID uuid.UUID) {
	if err := r.repo.CreditWallet(ctx, sub.UserID, sub.Currency, amount); err != nil {
		r.logger.Error("rollback credit failed",
			"subscription_id", sub.ID, "user_id", sub.UserID, "amount_cents", amount, "error", err)
	}
	if txID != uuid.Nil {
		if err := r.repo.DeleteTransaction(ctx, txID); err != nil {
			r.logger.Error("rollback transaction delete failed",
				"subscription_id", sub.ID, "transaction_id", txID, "error", err)
		}
	}
}

// RenewCPanelLicense renews only the embedded cPanel license: same
// debit/extend/rollback pattern as Renew, scoped to the cpanel sub-record. The
// parent subscription's status and period are never touched.
func (r *Renewer) RenewCPanelLicense(ctx context.Context, sub *domain.Subscription) RenewalResult {
	if sub.CPanel == nil || sub.CPanelPlan == nil {
		return RenewalResult{Message: "subscription has no cPanel license", Reason: ReasonNotFound}
	}
	price := sub.CPanelPlan.PriceCents
	if price <= 0 {
		return RenewalResult{Message: "cPanel plan has no renewable price", Reason: ReasonFreeTrial}
	}

	now := r.now()
	wallet, err := r.repo.GetOrCreateWallet(ctx, sub.UserID, sub.Currency)
	if err != nil {
		return RenewalResult{Message: fmt.Sprintf("wallet lookup failed: %v", err), Reason: ReasonPersistence}
	}
	if wallet.BalanceCents < price {
		return RenewalResult{Message: "wallet balance is insufficient", Reason: ReasonInsufficientFunds}
	}

	if err := r.repo.DebitWallet(ctx, sub.UserID, sub.Currency, price); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return RenewalResult{Message: "wallet balance is insufficient", Reason: ReasonInsufficientFunds}
		}
		return RenewalResult{Message: fmt.Sprintf("wallet debit failed: %v", err), Reason: ReasonPersistence}
	}

	reference := fmt.Sprintf("cpanel_renewal_%s_%d", sub.ID, now.Unix())
	txRecord := &domain.Transaction{
		ID:        uuid.New(),
		UserID:    sub.UserID,
		WalletID:  wallet.ID,
		Amount:    price,
		Currency:  sub.Currency,
		Type:      domain.TxDebit,
		Method:    "wallet",
		Reference: reference,
		Status:    domain.TxCompleted,
	}
	if err := r.repo.CreateTransaction(ctx, txRecord); err != nil {
		r.rollbackDebit(ctx, sub, price, uuid.Nil)
		return RenewalResult{Message: fmt.Sprintf("transaction record failed: %v", err), Reason: ReasonPersistence}
	}

	newExpiry, err := NextLicenseExpiry(sub.CPanel.ExpiryDate, sub.CPanelPlan, now)
	if err != nil {
		r.rollbackDebit(ctx, sub, price, txRecord.ID)
		return RenewalResult{Message: err.Error(), Reason: ReasonPersistence}
	}

	if err := r.repo.ApplyCPanelRenewal(ctx, sub.ID, newExpiry); err != nil {
		r.rollbackDebit(ctx, sub, price, txRecord.ID)
		return RenewalResult{Message: fmt.Sprintf("failed to extend cPanel license: %v", err), Reason: ReasonPersistence}
	}

	r.notifier.Notify(ctx, sub.UserID, sub.ID, domain.NotifyRenewalConfirmation, map[string]interface{}{
		"license":      "cpanel",
		"amount_cents": price,
		"currency":     sub.Currency,
		"expiry_date":  newExpiry,
		"reference":    reference,
	})

	return RenewalResult{
		Success:              true,
		Message:              "cPanel license renewed",
		TransactionReference: reference,
		SubscriptionEnd:      newExpiry,
	}
}
