/**
 * @description
 * Cron scheduler setup for the two lifecycle sweeps. The VPS lifecycle job and
 * the cPanel license job run on independent tickers with no ordering guarantee
 * between them.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron          *cron.Cron
	lifecycle     *LifecycleJob
	license       *LicenseJob
	logger        *slog.Logger
	lifecycleSpec string
	licenseSpec   string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(lifecycle *LifecycleJob, license *LicenseJob, logger *slog.Logger, lifecycleSpec, licenseSpec string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:          c,
		lifecycle:     lifecycle,
		license:       license,
		logger:        logger,
		lifecycleSpec: lifecycleSpec,
		licenseSpec:   licenseSpec,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddJob(s.lifecycleSpec, s.lifecycle); err != nil {
		s.logger.Error("failed to schedule lifecycle sweep", "error", err)
	} else {
		s.logger.Info("scheduled lifecycle sweep", "schedule", s.lifecycleSpec)
	}

	if _, err := s.cron.AddJob(s.licenseSpec, s.license); err != nil {
		s.logger.Error("failed to schedule cPanel license sweep", "error", err)
	} else {
		s.logger.Info("scheduled cPanel license sweep", "schedule", s.licenseSpec)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
