/**
 * @description
 * The cPanel/Plesk license sweep. Licenses piggyback on a VPS subscription but
 * renew independently and have their own expiry semantics: there is no grace
 * period for a license, a failed renewal expires and cancels it immediately.
 *
 * This job must never assume the parent subscription moves in lockstep — a VPS
 * can stay active while its license expires, and the two sweeps may interleave
 * on the same subscription because they write disjoint column families.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nimbushost/lifecycle-service/internal/domain"
)

// LicenseConfig carries the tuning knobs for the license sweep.
type LicenseConfig struct {
	// ReminderWindow is how far before expiry a license becomes eligible for
	// renewal (or expiry when auto-renew is off).
	ReminderWindow time.Duration
	// WebhostPlanID is the Plesk plan excluded from automatic renewal; its
	// licenses are assigned manually.
	WebhostPlanID uuid.UUID
}

// LicenseJob runs the periodic cPanel license sweep.
type LicenseJob struct {
	repo     Repository
	renewer  *Renewer
	notifier *Notifier
	logger   *slog.Logger
	cfg      LicenseConfig
	now      func() time.Time
}

// NewLicenseJob creates the license sweep runner.
func NewLicenseJob(repo Repository, renewer *Renewer, notifier *Notifier, logger *slog.Logger, cfg LicenseConfig) *LicenseJob {
	return &LicenseJob{
		repo:     repo,
		renewer:  renewer,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run executes one license sweep tick. Registered with the cron scheduler.
func (j *LicenseJob) Run() {
	ctx := context.Background()

	subs, err := j.repo.GetActiveCPanelSubscriptions(ctx, j.cfg.WebhostPlanID)
	if err != nil {
		j.logger.Error("failed to fetch active cPanel subscriptions", "error", err)
		return
	}

	now := j.now()
	for i := range subs {
		sub := &subs[i]
		if err := j.processOne(ctx, sub, now); err != nil {
			j.logger.Error("failed to process cPanel license",
				"subscription_id", sub.ID, "error", err)
		}
	}
}

func (j *LicenseJob) processOne(ctx context.Context, sub *domain.Subscription, now time.Time) error {
	if sub.CPanel == nil || sub.CPanel.ExpiryDate == nil {
		return nil
	}

	remaining := sub.CPanel.ExpiryDate.Sub(now)
	if remaining > j.cfg.ReminderWindow {
		return nil
	}

	if !sub.AutoRenewable {
		return j.expire(ctx, sub, "auto-renew disabled")
	}

	res := j.renewer.RenewCPanelLicense(ctx, sub)
	if res.Success {
		j.logger.Info("cPanel license renewed",
			"subscription_id", sub.ID, "reference", res.TransactionReference,
			"expiry_date", res.SubscriptionEnd)
		return nil
	}

	j.logger.Info("cPanel license renewal failed, expiring license",
		"subscription_id", sub.ID, "reason", res.Reason, "message", res.Message)
	return j.expire(ctx, sub, res.Message)
}

func (j *LicenseJob) expire(ctx context.Context, sub *domain.Subscription, reason string) error {
	if err := j.repo.ExpireCPanelLicense(ctx, sub.ID); err != nil {
		return fmt.Errorf("failed to expire cPanel license: %w", err)
	}

	extra := map[string]interface{}{"reason": reason}
	j.notifier.Notify(ctx, sub.UserID, sub.ID, domain.NotifyCPanelExpired, extra)
	j.notifier.Notify(ctx, sub.UserID, sub.ID, domain.NotifyCPanelExpiredAdmin, extra)
	return nil
}
