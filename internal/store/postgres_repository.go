/**
 * @description
 * PostgreSQL implementation of the Repository interface using pgx/v5. The read
 * path hydrates a subscription with its plan, billing cycle, OS, disk type,
 * cPanel plan, user and VM rows in a single joined query so the state-machine
 * code never issues storage queries of its own.
 *
 * @notes
 * - Wallet debits lock the balance row with FOR UPDATE so concurrent renewals
 *   for the same user (VPS job and cPanel job firing in the same tick) cannot
 *   race the balance below zero.
 * - Subscription writes are scoped UPDATEs: lifecycle transitions and cPanel
 *   license transitions touch disjoint column sets.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nimbushost/lifecycle-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const subscriptionSelect = `
	SELECT s.id, s.user_id, s.vm_id, s.plan_id, s.billing_cycle_id, s.os_id, s.disk_type_id,
	       s.status, s.price_cents, s.currency, s.auto_renewable,
	       s.cycle_start, s.subscription_end, s.grace_end_date,
	       s.renewal_first_reminder_sent, s.renewal_final_reminder_sent,
	       s.cpanel_plan_id, s.cpanel_status, s.cpanel_expiry_date, s.cpanel_license_canceled,
	       s.cpanel_renewal_first_reminder_sent, s.cpanel_renewal_final_reminder_sent,
	       s.cpanel_expiry_first_reminder_sent, s.cpanel_expiry_final_reminder_sent,
	       s.created_at, s.updated_at,
	       p.id, p.name, p.cpu_count, p.ram_mb, p.disk_gb,
	       bc.id, bc.type,
	       os.id, os.name, os.family, os.version,
	       dt.id, dt.name, dt.type,
	       cp.id, cp.name, cp.type, cp.price_cents, cp.billing_duration, cp.duration_value,
	       u.id, u.email, u.username,
	       vm.id, vm.user_id, vm.label, vm.instance_name, vm.zone, vm.status
	FROM subscriptions s
	JOIN plans p ON p.id = s.plan_id
	JOIN billing_cycles bc ON bc.id = s.billing_cycle_id
	JOIN os_images os ON os.id = s.os_id
	JOIN disk_types dt ON dt.id = s.disk_type_id
	LEFT JOIN cpanel_plans cp ON cp.id = s.cpanel_plan_id
	JOIN users u ON u.id = s.user_id
	LEFT JOIN vps_instances vm ON vm.id = s.vm_id
`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub         domain.Subscription
		cpanel      domain.CPanelLicense
		cpPlanID    *uuid.UUID
		cpStatus    *string
		plan        domain.Plan
		cycle       domain.BillingCycle
		osImage     domain.OSImage
		diskType    domain.DiskType
		cpID        *uuid.UUID
		cpName      *string
		cpType      *string
		cpPrice     *int64
		cpDuration  *string
		cpDurValue  *int
		user        domain.User
		vmID        *uuid.UUID
		vmUserID    *uuid.UUID
		vmLabel     *string
		vmInstance  *string
		vmZone      *string
		vmStatus    *string
	)

	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.VMID, &sub.PlanID, &sub.BillingCycleID, &sub.OSID, &sub.DiskTypeID,
		&sub.Status, &sub.PriceCents, &sub.Currency, &sub.AutoRenewable,
		&sub.CycleStart, &sub.SubscriptionEnd, &sub.GraceEndDate,
		&sub.RenewalReminder.FirstReminderSent, &sub.RenewalReminder.FinalReminderSent,
		&cpPlanID, &cpStatus, &cpanel.ExpiryDate, &cpanel.LicenseCanceled,
		&cpanel.RenewalReminder.FirstReminderSent, &cpanel.RenewalReminder.FinalReminderSent,
		&cpanel.ExpiryReminder.FirstReminderSent, &cpanel.ExpiryReminder.FinalReminderSent,
		&sub.CreatedAt, &sub.UpdatedAt,
		&plan.ID, &plan.Name, &plan.CPUCount, &plan.RAMMB, &plan.DiskGB,
		&cycle.ID, &cycle.Type,
		&osImage.ID, &osImage.Name, &osImage.Family, &osImage.Version,
		&diskType.ID, &diskType.Name, &diskType.Type,
		&cpID, &cpName, &cpType, &cpPrice, &cpDuration, &cpDurValue,
		&user.ID, &user.Email, &user.Username,
		&vmID, &vmUserID, &vmLabel, &vmInstance, &vmZone, &vmStatus,
	)
	if err != nil {
		return nil, err
	}

	sub.Plan = &plan
	sub.BillingCycle = &cycle
	sub.OS = &osImage
	sub.DiskType = &diskType
	sub.User = &user

	if cpPlanID != nil && cpStatus != nil {
		cpanel.PlanID = cpPlanID
		cpanel.Status = domain.CPanelStatus(*cpStatus)
		sub.CPanel = &cpanel
	}
	if cpID != nil {
		sub.CPanelPlan = &domain.CPanelPlan{
			ID:   *cpID,
			Name: *cpName,
			Type: domain.CPanelPlanType(*cpType),
		}
		if cpPrice != nil {
			sub.CPanelPlan.PriceCents = *cpPrice
		}
		if cpDuration != nil {
			sub.CPanelPlan.BillingDuration = *cpDuration
		}
		if cpDurValue != nil {
			sub.CPanelPlan.DurationValue = *cpDurValue
		}
	}
	if vmID != nil {
		sub.VM = &domain.VPSInstance{
			ID:           *vmID,
			UserID:       *vmUserID,
			Label:        derefString(vmLabel),
			InstanceName: derefString(vmInstance),
			Zone:         derefString(vmZone),
			Status:       derefString(vmStatus),
		}
	}

	return &sub, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// GetSubscriptionByID fetches a single subscription with all relations hydrated.
func (r *PostgresRepository) GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	row := r.db.QueryRow(ctx, subscriptionSelect+` WHERE s.id = $1`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// GetDueSubscriptions fetches all subscriptions whose paid period ended before
// now minus the buffer window and which are in a sweepable state. The buffer
// absorbs clock skew between marking a subscription due and the sweep running.
func (r *PostgresRepository) GetDueSubscriptions(ctx context.Context, now time.Time, buffer time.Duration) ([]domain.Subscription, error) {
	query := subscriptionSelect + `
	WHERE s.subscription_end < $1
	  AND s.status = ANY($2)
	ORDER BY s.subscription_end ASC`

	statuses := []string{
		string(domain.StatusActive),
		string(domain.StatusPendingRenewal),
		string(domain.StatusGracePeriod),
		string(domain.StatusSuspended),
	}

	rows, err := r.db.Query(ctx, query, now.Add(-buffer), statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// GetActiveCPanelSubscriptions fetches subscriptions with an active, non-canceled
// cPanel license on a WHM plan or a Plesk plan other than the webhost plan.
func (r *PostgresRepository) GetActiveCPanelSubscriptions(ctx context.Context, webhostPlanID uuid.UUID) ([]domain.Subscription, error) {
	query := subscriptionSelect + `
	WHERE s.cpanel_status = 'active'
	  AND s.cpanel_license_canceled = FALSE
	  AND (cp.type = 'WHM' OR (cp.type = 'Plesk' AND cp.id <> $1))`

	rows, err := r.db.Query(ctx, query, webhostPlanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// UpdateSubscriptionStatus sets only the status column.
func (r *PostgresRepository) UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus) error {
	_, err := r.db.Exec(ctx,
		`UPDATE subscriptions SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

// ApplyRenewal records a successful renewal: active status, new cycle window,
// and both renewal reminder flags marked sent, closing the reminder window
// until the next cycle. subscription_end is guarded to only move forward.
func (r *PostgresRepository) ApplyRenewal(ctx context.Context, id uuid.UUID, cycleStart, subscriptionEnd time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'active',
		    cycle_start = $1,
		    subscription_end = $2,
		    grace_end_date = NULL,
		    renewal_first_reminder_sent = TRUE,
		    renewal_final_reminder_sent = TRUE,
		    updated_at = NOW()
		WHERE id = $3 AND subscription_end <= $2`,
		cycleStart, subscriptionEnd, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// SetGracePeriod moves a subscription into grace_period with the given deadline.
func (r *PostgresRepository) SetGracePeriod(ctx context.Context, id uuid.UUID, graceEnd time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'grace_period', grace_end_date = $1, updated_at = NOW()
		WHERE id = $2`,
		graceEnd, id)
	return err
}

// MarkTerminated finalizes a subscription after the cloud-side instance is gone.
// The cPanel license is closed out in the same statement.
func (r *PostgresRepository) MarkTerminated(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus) error {
	_, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET status = $1,
		    cpanel_status = CASE WHEN cpanel_plan_id IS NOT NULL THEN 'deleted' ELSE cpanel_status END,
		    cpanel_license_canceled = CASE WHEN cpanel_plan_id IS NOT NULL THEN TRUE ELSE cpanel_license_canceled END,
		    updated_at = NOW()
		WHERE id = $2`,
		status, id)
	return err
}

// SetAutoRenew toggles auto-renewal for a subscription.
func (r *PostgresRepository) SetAutoRenew(ctx context.Context, id uuid.UUID, autoRenew bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions SET auto_renewable = $1, updated_at = NOW() WHERE id = $2`,
		autoRenew, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ApplyCPanelRenewal extends the license expiry and resets its reminder flags.
// Only cpanel_* columns are written so the parent lifecycle job can interleave.
func (r *PostgresRepository) ApplyCPanelRenewal(ctx context.Context, id uuid.UUID, expiry time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET cpanel_status = 'active',
		    cpanel_expiry_date = $1,
		    cpanel_renewal_first_reminder_sent = TRUE,
		    cpanel_renewal_final_reminder_sent = TRUE,
		    updated_at = NOW()
		WHERE id = $2 AND cpanel_plan_id IS NOT NULL`,
		expiry, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ExpireCPanelLicense marks the license expired and canceled.
func (r *PostgresRepository) ExpireCPanelLicense(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET cpanel_status = 'expired', cpanel_license_canceled = TRUE, updated_at = NOW()
		WHERE id = $1`,
		id)
	return err
}

// GetVPSByID looks up a stored VPS instance record.
func (r *PostgresRepository) GetVPSByID(ctx context.Context, id uuid.UUID) (*domain.VPSInstance, error) {
	var vm domain.VPSInstance
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, label, instance_name, zone, status, created_at
		FROM vps_instances WHERE id = $1`, id).
		Scan(&vm.ID, &vm.UserID, &vm.Label, &vm.InstanceName, &vm.Zone, &vm.Status, &vm.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVPSNotFound
		}
		return nil, err
	}
	return &vm, nil
}

// UpdateVPSStatus sets the stored status of a VPS instance.
func (r *PostgresRepository) UpdateVPSStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE vps_instances SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

// DeleteVPSRecord removes the stored VPS record after cloud-side deletion succeeded.
func (r *PostgresRepository) DeleteVPSRecord(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM vps_instances WHERE id = $1`, id)
	return err
}

// GetOrCreateWallet returns the user's wallet for a currency, creating a zero
// balance row on first access.
func (r *PostgresRepository) GetOrCreateWallet(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO wallets (id, user_id, currency, balance_cents)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (user_id, currency) DO NOTHING`,
		uuid.New(), userID, currency)
	if err != nil {
		return nil, err
	}

	var w domain.Wallet
	err = r.db.QueryRow(ctx, `
		SELECT id, user_id, currency, balance_cents, created_at, updated_at
		FROM wallets WHERE user_id = $1 AND currency = $2`,
		userID, currency).
		Scan(&w.ID, &w.UserID, &w.Currency, &w.BalanceCents, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWalletBalance reads the balance for a user/currency pair. A missing wallet
// reads as zero, matching lazy creation semantics.
func (r *PostgresRepository) GetWalletBalance(ctx context.Context, userID uuid.UUID, currency string) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx,
		`SELECT balance_cents FROM wallets WHERE user_id = $1 AND currency = $2`,
		userID, currency).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

// DebitWallet performs an atomic debit on a user's wallet.
func (r *PostgresRepository) DebitWallet(ctx context.Context, userID uuid.UUID, currency string, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var balance int64
	// FOR UPDATE locks the row so concurrent debits for the same user serialize.
	err = tx.QueryRow(ctx,
		`SELECT balance_cents FROM wallets WHERE user_id = $1 AND currency = $2 FOR UPDATE`,
		userID, currency).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrWalletNotFound
		}
		return err
	}

	if balance < amount {
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx,
		`UPDATE wallets SET balance_cents = balance_cents - $1, updated_at = NOW()
		 WHERE user_id = $2 AND currency = $3`,
		amount, userID, currency)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CreditWallet performs an atomic credit on a user's wallet.
func (r *PostgresRepository) CreditWallet(ctx context.Context, userID uuid.UUID, currency string, amount int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE wallets SET balance_cents = balance_cents + $1, updated_at = NOW()
		 WHERE user_id = $2 AND currency = $3`,
		amount, userID, currency)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// CreateTransaction inserts an immutable ledger record.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO transactions (id, user_id, wallet_id, amount, currency, type, method, reference, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`,
		t.ID, t.UserID, t.WalletID, t.Amount, t.Currency, t.Type, t.Method, t.Reference, t.Status)
	return err
}

// DeleteTransaction removes a ledger record during a compensating rollback.
// Restricted to rows that never completed an external effect; deleting an
// already-deleted row is a no-op so rollback retries stay idempotent.
func (r *PostgresRepository) DeleteTransaction(ctx context.Context, txID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, txID)
	return err
}
