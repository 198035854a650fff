package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"transaction-api/internal/client"
	"transaction-api/internal/engine"
	"transaction-api/internal/models"
	"transaction-api/internal/monitoring"
	"transaction-api/internal/repository"
	"transaction-api/internal/service"
)

// Scheduler runs the background jobs on a UTC cron. Every tick first takes
// a Redis lease named after the job, so in a multi-replica deployment each
// slot runs on exactly one replica; replicas that lose the race skip the
// tick. A lease store outage degrades to running everywhere rather than
// nowhere.
type Scheduler struct {
	cron   *cron.Cron
	logger *logrus.Logger

	leases       repository.LeaseRepository
	transactions repository.TransactionRepository
	engine       engine.TransactionEngine
	accounts     client.AccountClient
	alerts       service.AlertService
	admin        service.AdminService
	audit        service.AuditService
	metrics      monitoring.MetricsService
	health       monitoring.HealthChecker

	retentionEnabled bool
}

func NewScheduler(
	leases repository.LeaseRepository,
	transactions repository.TransactionRepository,
	txEngine engine.TransactionEngine,
	accounts client.AccountClient,
	alerts service.AlertService,
	admin service.AdminService,
	audit service.AuditService,
	metrics monitoring.MetricsService,
	health monitoring.HealthChecker,
	retentionEnabled bool,
	logger *logrus.Logger,
) *Scheduler {
	return &Scheduler{
		cron:             cron.New(cron.WithLocation(time.UTC)),
		logger:           logger,
		leases:           leases,
		transactions:     transactions,
		engine:           txEngine,
		accounts:         accounts,
		alerts:           alerts,
		admin:            admin,
		audit:            audit,
		metrics:          metrics,
		health:           health,
		retentionEnabled: retentionEnabled,
	}
}

// Start registers all jobs and begins scheduling.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name string
		spec string
		ttl  time.Duration
		run  func(ctx context.Context) error
	}{
		{"pending-gauge", "@every 1m", 50 * time.Second, s.refreshPendingGauge},
		{"stale-sweep", "@every 1m", 50 * time.Second, s.sweepStale},
		{"alert-checks", "@every 1m", 50 * time.Second, s.checkAlerts},
		{"account-ping", "@every 30s", 25 * time.Second, s.pingAccountService},
		{"health-snapshot", "@every 5m", 4 * time.Minute, s.snapshotHealth},
		{"daily-reset", "0 0 * * *", 10 * time.Minute, s.resetDailyCounters},
		{"daily-summary", "30 23 * * *", 10 * time.Minute, s.dailySummary},
	}
	if s.retentionEnabled {
		jobs = append(jobs, struct {
			name string
			spec string
			ttl  time.Duration
			run  func(ctx context.Context) error
		}{"retention-cleanup", "15 2 * * *", 30 * time.Minute, s.retentionCleanup})
	}

	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.spec, s.leased(j.name, j.ttl, j.run)); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", j.name, err)
		}
	}

	s.cron.Start()
	s.logger.WithField("jobs", len(jobs)).Info("Scheduler started")
	return nil
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// leased wraps a job with lease acquisition and a deadline matching the
// lease lifetime, so work never outlives its exclusivity window.
func (s *Scheduler) leased(name string, ttl time.Duration, run func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), ttl)
		defer cancel()

		lease, acquired, err := s.leases.TryAcquire(ctx, name, ttl)
		switch {
		case err != nil:
			s.logger.WithError(err).WithField("job", name).Warn("Job lease store unavailable, running without lease")
		case !acquired:
			return
		default:
			defer func() {
				releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer releaseCancel()
				if err := s.leases.Release(releaseCtx, lease); err != nil {
					s.logger.WithError(err).WithField("job", name).Debug("Job lease already gone")
				}
			}()
		}

		start := time.Now()
		if err := run(ctx); err != nil {
			s.logger.WithError(err).WithField("job", name).Error("Scheduled job failed")
			return
		}
		s.logger.WithFields(logrus.Fields{
			"job":         name,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("Scheduled job finished")
	}
}

func (s *Scheduler) refreshPendingGauge(ctx context.Context) error {
	counts, err := s.transactions.CountByStatus(ctx)
	if err != nil {
		return err
	}
	s.metrics.SetPendingTransactions(counts[models.StatusProcessing])
	return nil
}

func (s *Scheduler) sweepStale(ctx context.Context) error {
	swept, err := s.engine.SweepStaleProcessing(ctx)
	if err != nil {
		return err
	}
	if swept > 0 {
		s.logger.WithField("count", swept).Warn("Failed stale PROCESSING transactions")
	}
	return nil
}

func (s *Scheduler) checkAlerts(ctx context.Context) error {
	s.alerts.RunChecks(ctx)
	return nil
}

// pingAccountService keeps the dependency gauge current between requests.
// A failed ping is a gauge flip, not a job failure.
func (s *Scheduler) pingAccountService(ctx context.Context) error {
	err := s.accounts.Ping(ctx)
	s.metrics.SetComponentUp("account-service", err == nil)
	if err != nil {
		s.logger.WithError(err).Warn("Account service ping failed")
	}
	return nil
}

func (s *Scheduler) snapshotHealth(ctx context.Context) error {
	status := s.health.CheckHealth(ctx)
	s.metrics.RecordSystemMetrics()
	if status.Status != monitoring.StatusUp {
		s.logger.WithField("status", status.Status).Warn("Periodic health check degraded")
	}
	return nil
}

func (s *Scheduler) resetDailyCounters(ctx context.Context) error {
	s.metrics.ResetDailyCounters()
	s.audit.LogSystemEvent(ctx, "daily_counters_reset", nil)
	return nil
}

// dailySummary writes the end-of-day totals to the audit trail before the
// midnight counter reset wipes them.
func (s *Scheduler) dailySummary(ctx context.Context) error {
	counts, err := s.transactions.CountByStatus(ctx)
	if err != nil {
		return err
	}
	snap := s.metrics.Snapshot()

	details := map[string]interface{}{
		"daily_volume":    snap.DailyVolume,
		"daily_amount":    snap.DailyAmount,
		"completed_total": snap.CompletedTotal,
		"failed_total":    snap.FailedTotal,
		"processing_rows": counts[models.StatusProcessing],
	}
	s.audit.LogSystemEvent(ctx, "daily_summary", details)
	s.logger.WithFields(logrus.Fields(details)).Info("Daily transaction summary")
	return nil
}

func (s *Scheduler) retentionCleanup(ctx context.Context) error {
	_, err := s.admin.RunRetention(ctx)
	return err
}
