/**
 * @description
 * The lifecycle sweep: finds subscriptions whose billing period has elapsed and
 * drives them through state transitions (active → pending_renewal →
 * grace_period → suspended → terminated, or back to active).
 *
 * Each due subscription is processed independently; a failure on one is logged
 * with its context and never aborts the sweep for the others. Provisioning
 * failures leave the subscription in its prior state so the next tick retries
 * the same transition.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nimbushost/lifecycle-service/internal/domain"
)

// LifecycleConfig carries the tuning knobs for the sweep.
type LifecycleConfig struct {
	GracePeriodDays       int
	SuspensionPeriodDays  int
	ReinstatementFeeCents int64
	DueBuffer             time.Duration
}

// LifecycleJob runs the periodic VPS subscription sweep.
type LifecycleJob struct {
	repo         Repository
	renewer      *Renewer
	orchestrator *Orchestrator
	notifier     *Notifier
	logger       *slog.Logger
	cfg          LifecycleConfig
	now          func() time.Time
}

// NewLifecycleJob creates the sweep runner.
func NewLifecycleJob(repo Repository, renewer *Renewer, orchestrator *Orchestrator, notifier *Notifier, logger *slog.Logger, cfg LifecycleConfig) *LifecycleJob {
	return &LifecycleJob{
		repo:         repo,
		renewer:      renewer,
		orchestrator: orchestrator,
		notifier:     notifier,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Run executes one sweep tick. Registered with the cron scheduler.
func (j *LifecycleJob) Run() {
	ctx := context.Background()
	now := j.now()

	subs, err := j.repo.GetDueSubscriptions(ctx, now, j.cfg.DueBuffer)
	if err != nil {
		j.logger.Error("failed to fetch due subscriptions", "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	j.logger.Info("processing due subscriptions", "count", len(subs))
	for i := range subs {
		sub := &subs[i]
		if err := j.processOne(ctx, sub, now); err != nil {
			j.logger.Error("failed to process subscription",
				"subscription_id", sub.ID, "status", sub.Status, "error", err)
		}
	}
}

func (j *LifecycleJob) processOne(ctx context.Context, sub *domain.Subscription, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch sub.Status {
	case domain.StatusActive:
		return j.processActive(ctx, sub, now)
	case domain.StatusPendingRenewal:
		return j.attemptRenewal(ctx, sub)
	case domain.StatusGracePeriod:
		return j.processGrace(ctx, sub, now)
	case domain.StatusSuspended:
		return j.processSuspended(ctx, sub, now)
	default:
		// Guarded by the due query; nothing to do.
		return nil
	}
}

func (j *LifecycleJob) processActive(ctx context.Context, sub *domain.Subscription, now time.Time) error {
	if !sub.AutoRenewable {
		// Cycle ended with auto-renew off: the paid period is over for good.
		res := j.orchestrator.Terminate(ctx, sub, domain.StatusExpired)
		if !res.Success {
			if res.Retryable {
				j.logger.Warn("expiry termination will be retried",
					"subscription_id", sub.ID, "message", res.Message)
				return nil
			}
			return fmt.Errorf("expiry termination failed: %s", res.Message)
		}
		return nil
	}

	if err := j.repo.UpdateSubscriptionStatus(ctx, sub.ID, domain.StatusPendingRenewal); err != nil {
		return fmt.Errorf("failed to mark pending renewal: %w", err)
	}
	sub.Status = domain.StatusPendingRenewal
	return j.attemptRenewal(ctx, sub)
}

// attemptRenewal drives pending_renewal → active on success, → grace_period
// on insufficient funds, or → expired for free periods. Any other failure
// leaves the subscription in pending_renewal for the next tick.
func (j *LifecycleJob) attemptRenewal(ctx context.Context, sub *domain.Subscription) error {
	res := j.renewer.Renew(ctx, sub.ID, true)
	if res.Success {
		j.logger.Info("subscription auto-renewed",
			"subscription_id", sub.ID, "reference", res.TransactionReference,
			"subscription_end", res.SubscriptionEnd)
		return nil
	}

	if res.Reason == ReasonFreeTrial {
		// Free periods are rejected outright, never retried: the cycle
		// simply ends, same as auto-renew being off.
		termRes := j.orchestrator.Terminate(ctx, sub, domain.StatusExpired)
		if !termRes.Success {
			if termRes.Retryable {
				j.logger.Warn("free trial expiry will be retried",
					"subscription_id", sub.ID, "message", termRes.Message)
				return nil
			}
			return fmt.Errorf("free trial expiry failed: %s", termRes.Message)
		}
		return nil
	}

	if res.Reason != ReasonInsufficientFunds {
		return fmt.Errorf("renewal failed (%s): %s", res.Reason, res.Message)
	}

	// Insufficient funds is an expected condition, not an error: open the
	// grace window and stop the instance to cap cloud spend immediately.
	graceEnd := sub.SubscriptionEnd.AddDate(0, 0, j.cfg.GracePeriodDays)
	if err := j.repo.SetGracePeriod(ctx, sub.ID, graceEnd); err != nil {
		return fmt.Errorf("failed to set grace period: %w", err)
	}
	j.logger.Info("subscription entered grace period",
		"subscription_id", sub.ID, "grace_end", graceEnd)

	j.notifier.Notify(ctx, sub.UserID, sub.ID, domain.NotifyInsufficientFunds, map[string]interface{}{
		"amount_cents": sub.PriceCents,
		"grace_end":    graceEnd,
	})
	j.notifier.Notify(ctx, sub.UserID, sub.ID, domain.NotifyInsufficientFundsAdmin, map[string]interface{}{
		"amount_cents": sub.PriceCents,
	})
	j.notifier.Notify(ctx, sub.UserID, sub.ID, domain.NotifyReinstatementFee, map[string]interface{}{
		"fee_cents": j.cfg.ReinstatementFeeCents,
	})

	if res := j.orchestrator.StopVPS(ctx, sub); !res.Success {
		// The grace transition stands; processGrace re-issues the stop on
		// every tick until the instance is recorded suspended.
		j.logger.Warn("failed to stop instance on grace entry",
			"subscription_id", sub.ID, "message", res.Message)
	}
	return nil
}

func (j *LifecycleJob) graceEnd(sub *domain.Subscription) time.Time {
	if sub.GraceEndDate != nil {
		return *sub.GraceEndDate
	}
	return sub.SubscriptionEnd.AddDate(0, 0, j.cfg.GracePeriodDays)
}

func (j *LifecycleJob) processGrace(ctx context.Context, sub *domain.Subscription, now time.Time) error {
	required := sub.PriceCents + j.cfg.ReinstatementFeeCents
	balance, err := j.repo.GetWalletBalance(ctx, sub.UserID, sub.Currency)
	if err != nil {
		return fmt.Errorf("failed to read wallet balance: %w", err)
	}

	if balance >= required {
		res := j.renewer.Reinstate(ctx, sub, j.cfg.ReinstatementFeeCents)
		if !res.Success {
			if res.Reason == ReasonInsufficientFunds {
				// Lost a race with another spend; treat as still waiting.
				return nil
			}
			return fmt.Errorf("reinstatement failed (%s): %s", res.Reason, res.Message)
		}

		if startRes := j.orchestrator.StartVPS(ctx, sub); !startRes.Success {
			// Billing succeeded; the restart is retried manually or via
			// support. Do not unwind the reinstatement over a slow start.
			j.logger.Warn("failed to restart instance after reinstatement",
				"subscription_id", sub.ID, "message", startRes.Message)
		}
		j.notifier.Notify(ctx, sub.UserID, sub.ID, domain.NotifyActive, map[string]interface{}{
			"subscription_end": res.SubscriptionEnd,
		})
		j.logger.Info("subscription reinstated from grace period",
			"subscription_id", sub.ID, "reference", res.TransactionReference)
		return nil
	}

	// Boundary is inclusive: a subscription exactly at its grace deadline is
	// grace-expired.
	if now.Before(j.graceEnd(sub)) {
		// Still waiting out grace. Re-issue the stop in case it failed at
		// grace entry; StopVPS is a no-op once the instance is recorded
		// suspended, so a recovered backend only sees one extra call.
		if res := j.orchestrator.StopVPS(ctx, sub); !res.Success {
			j.logger.Warn("failed to stop instance during grace period",
				"subscription_id", sub.ID, "message", res.Message)
		}
		return nil
	}

	res := j.orchestrator.Suspend(ctx, sub)
	if !res.Success {
		if res.Retryable {
			j.logger.Warn("suspension will be retried",
				"subscription_id", sub.ID, "message", res.Message)
			return nil
		}
		return fmt.Errorf("suspension failed: %s", res.Message)
	}
	j.logger.Info("subscription suspended after grace period", "subscription_id", sub.ID)
	return nil
}

func (j *LifecycleJob) processSuspended(ctx context.Context, sub *domain.Subscription, now time.Time) error {
	terminateAt := j.graceEnd(sub).AddDate(0, 0, j.cfg.SuspensionPeriodDays)
	if now.Before(terminateAt) {
		return nil
	}

	res := j.orchestrator.Terminate(ctx, sub, domain.StatusTerminated)
	if !res.Success {
		if res.Retryable {
			j.logger.Warn("termination will be retried",
				"subscription_id", sub.ID, "message", res.Message)
			return nil
		}
		return fmt.Errorf("termination failed: %s", res.Message)
	}
	j.logger.Info("suspended subscription terminated", "subscription_id", sub.ID)
	return nil
}
