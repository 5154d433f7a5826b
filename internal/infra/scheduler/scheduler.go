package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefinitionRefresher reloads the status definition cache.
type DefinitionRefresher interface {
	Refresh(ctx context.Context) error
}

// PendingRehydrator re-arms timers for every PENDING notification.
type PendingRehydrator interface {
	Rehydrate(ctx context.Context) (int, error)
}

// MaintenanceScheduler runs the periodic housekeeping jobs on a cron engine.
type MaintenanceScheduler struct {
	cronEngine        *cron.Cron
	catalog           DefinitionRefresher
	notifications     PendingRehydrator
	logger            *logrus.Entry
	cronSpecRefresh   string
	cronSpecRehydrate string
	jobTimeout        time.Duration
}

func NewMaintenanceScheduler(
	catalog DefinitionRefresher,
	notifications PendingRehydrator,
	logger *logrus.Entry,
	cronSpecRefresh string, // e.g. "*/10 * * * *"
	cronSpecRehydrate string, // e.g. "*/15 * * * *"
) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		cronEngine:        cron.New(cron.WithLocation(time.Local)),
		catalog:           catalog,
		notifications:     notifications,
		logger:            logger,
		cronSpecRefresh:   cronSpecRefresh,
		cronSpecRehydrate: cronSpecRehydrate,
		jobTimeout:        time.Minute,
	}
}

func (s *MaintenanceScheduler) Start() error {
	s.logger.Info("Starting maintenance scheduler...")

	if _, err := s.cronEngine.AddFunc(s.cronSpecRefresh, s.refreshDefinitions); err != nil {
		return fmt.Errorf("could not add definition refresh cron job: %w", err)
	}

	// Re-arming is idempotent, so this only matters for rows whose timer was lost.
	if _, err := s.cronEngine.AddFunc(s.cronSpecRehydrate, s.rehydratePending); err != nil {
		return fmt.Errorf("could not add rehydrate sweep cron job: %w", err)
	}

	s.cronEngine.Start()
	s.logger.WithField("jobs", len(s.cronEngine.Entries())).Info("Maintenance scheduler started.")
	return nil
}

func (s *MaintenanceScheduler) refreshDefinitions() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()
	if err := s.catalog.Refresh(ctx); err != nil {
		s.logger.WithError(err).Error("Definition refresh job failed.")
		return
	}
	s.logger.Debug("Definition cache refreshed.")
}

func (s *MaintenanceScheduler) rehydratePending() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()
	n, err := s.notifications.Rehydrate(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Rehydrate sweep failed.")
		return
	}
	s.logger.WithField("armed", n).Debug("Rehydrate sweep finished.")
}

func (s *MaintenanceScheduler) Stop() {
	s.logger.Info("Stopping maintenance scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Maintenance scheduler gracefully stopped.")
}
