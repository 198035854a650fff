package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"transaction-api/internal/config"
	"transaction-api/internal/external"
	"transaction-api/internal/models"
	"transaction-api/internal/monitoring"
)

// AlertService raises operational alerts. A repeated alert of the same
// (level, type) inside the suppression window is counted and logged but not
// dispatched again. Dispatch fans out to the log, the audit trail, the alert
// exchange and the optional webhook.
type AlertService interface {
	Trigger(ctx context.Context, alert *models.Alert)
	RunChecks(ctx context.Context)
	RecentAlerts() []*models.Alert
}

const alertHistorySize = 100

type alertService struct {
	config    config.AlertingConfig
	metrics   monitoring.MetricsService
	audit     AuditService
	publisher external.EventPublisher
	notifier  external.AlertNotifier

	window time.Duration
	now    func() time.Time

	mu             sync.Mutex
	lastDispatched map[string]time.Time
	history        []*models.Alert

	// Condition check state between runs.
	prevCompleted      int64
	prevFailed         int64
	errorStreak        int
	accountServiceDown bool
}

func NewAlertService(
	cfg config.AlertingConfig,
	metrics monitoring.MetricsService,
	audit AuditService,
	publisher external.EventPublisher,
	notifier external.AlertNotifier,
) AlertService {
	return &alertService{
		config:         cfg,
		metrics:        metrics,
		audit:          audit,
		publisher:      publisher,
		notifier:       notifier,
		window:         time.Duration(cfg.SuppressionMinutes) * time.Minute,
		now:            time.Now,
		lastDispatched: make(map[string]time.Time),
	}
}

func (s *alertService) Trigger(ctx context.Context, alert *models.Alert) {
	key := alert.SuppressionKey()

	s.mu.Lock()
	last, seen := s.lastDispatched[key]
	suppressed := seen && s.now().Sub(last) < s.window
	if !suppressed {
		s.lastDispatched[key] = s.now()
		s.history = append(s.history, alert)
		if len(s.history) > alertHistorySize {
			s.history = s.history[len(s.history)-alertHistorySize:]
		}
	}
	s.mu.Unlock()

	fields := logrus.Fields{
		"alert_id": alert.AlertID,
		"level":    string(alert.Level),
		"type":     alert.Type,
		"details":  alert.Details,
	}

	if suppressed {
		s.metrics.RecordAlertSuppressed(string(alert.Level), alert.Type)
		logrus.WithFields(fields).Info("Alert suppressed: " + alert.Message)
		return
	}

	s.metrics.RecordAlertTriggered(string(alert.Level), alert.Type)
	switch alert.Level {
	case models.AlertLevelCritical:
		logrus.WithFields(fields).Error("ALERT: " + alert.Message)
	case models.AlertLevelWarning:
		logrus.WithFields(fields).Warn("ALERT: " + alert.Message)
	default:
		logrus.WithFields(fields).Info("ALERT: " + alert.Message)
	}

	s.audit.LogAlert(ctx, alert)

	// Broker and webhook delivery off the caller's path; alerts can fire
	// from inside a request when the breaker trips.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.publisher.PublishAlert(ctx, alert); err != nil {
			logrus.WithError(err).WithField("alert_id", alert.AlertID).
				Warn("Failed to publish alert")
		}
		if err := s.notifier.Notify(ctx, alert); err != nil {
			logrus.WithError(err).WithField("alert_id", alert.AlertID).
				Warn("Failed to deliver alert webhook")
		}
	}()
}

// RunChecks evaluates the alert conditions against the current metrics
// snapshot. The scheduler runs it once a minute, which makes each run one
// sample for the streak-based checks.
func (s *alertService) RunChecks(ctx context.Context) {
	snap := s.metrics.Snapshot()

	s.checkErrorRate(ctx, snap)
	s.checkAccountService(ctx, snap)
	s.checkDailyVolume(ctx, snap)
	s.checkActiveTransactions(ctx, snap)
	s.checkProcessingSpeed(ctx, snap)
}

func (s *alertService) checkErrorRate(ctx context.Context, snap monitoring.Snapshot) {
	deltaCompleted := snap.CompletedTotal - s.prevCompleted
	deltaFailed := snap.FailedTotal - s.prevFailed
	s.prevCompleted = snap.CompletedTotal
	s.prevFailed = snap.FailedTotal

	total := deltaCompleted + deltaFailed
	if total == 0 {
		// No traffic in this sample counts as a healthy sample.
		s.errorStreak = 0
		return
	}

	rate := float64(deltaFailed) / float64(total)
	if rate <= s.config.ErrorRateThreshold {
		s.errorStreak = 0
		return
	}

	s.errorStreak++
	if s.errorStreak < s.config.ErrorRateSamples {
		return
	}

	alert := models.NewAlert(models.AlertLevelCritical, models.AlertHighErrorRate,
		"Transaction failure rate is above threshold").
		WithDetail("failure_rate", rate).
		WithDetail("threshold", s.config.ErrorRateThreshold).
		WithDetail("sample_transactions", total).
		WithDetail("consecutive_samples", s.errorStreak)
	s.Trigger(ctx, alert)
}

func (s *alertService) checkAccountService(ctx context.Context, snap monitoring.Snapshot) {
	if snap.ConsecutiveAccountErrors >= int64(s.config.AccountServiceErrorThreshold) {
		s.accountServiceDown = true
		alert := models.NewAlert(models.AlertLevelCritical, models.AlertAccountServiceUnavailable,
			"Account service is not responding").
			WithDetail("consecutive_errors", snap.ConsecutiveAccountErrors).
			WithDetail("circuit_breaker_state", snap.CircuitBreakerState)
		s.Trigger(ctx, alert)
		return
	}

	if s.accountServiceDown && snap.ConsecutiveAccountErrors == 0 {
		s.accountServiceDown = false
		alert := models.NewAlert(models.AlertLevelInfo, models.AlertAccountServiceRecovered,
			"Account service is responding again").
			WithDetail("circuit_breaker_state", snap.CircuitBreakerState)
		s.Trigger(ctx, alert)
	}
}

func (s *alertService) checkDailyVolume(ctx context.Context, snap monitoring.Snapshot) {
	if snap.DailyAmount <= s.config.DailyVolumeThreshold {
		return
	}
	alert := models.NewAlert(models.AlertLevelWarning, models.AlertHighDailyVolume,
		"Daily transaction volume is above threshold").
		WithDetail("daily_amount", snap.DailyAmount).
		WithDetail("daily_count", snap.DailyVolume).
		WithDetail("threshold", s.config.DailyVolumeThreshold)
	s.Trigger(ctx, alert)
}

func (s *alertService) checkActiveTransactions(ctx context.Context, snap monitoring.Snapshot) {
	if snap.ActiveTransactions <= int64(s.config.ActiveTransactionsThreshold) {
		return
	}
	alert := models.NewAlert(models.AlertLevelWarning, models.AlertHighActiveTransactions,
		"Unusually many transactions are in flight").
		WithDetail("active_transactions", snap.ActiveTransactions).
		WithDetail("threshold", s.config.ActiveTransactionsThreshold)
	s.Trigger(ctx, alert)
}

func (s *alertService) checkProcessingSpeed(ctx context.Context, snap monitoring.Snapshot) {
	if snap.AvgProcessingSeconds == 0 {
		return
	}
	threshold := s.config.ResponseTimeThreshold.Seconds()
	if snap.AvgProcessingSeconds <= threshold {
		return
	}
	alert := models.NewAlert(models.AlertLevelWarning, models.AlertSlowProcessing,
		"Transaction processing is slower than expected").
		WithDetail("avg_processing_seconds", snap.AvgProcessingSeconds).
		WithDetail("threshold_seconds", threshold)
	s.Trigger(ctx, alert)
}

func (s *alertService) RecentAlerts() []*models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Newest first.
	alerts := make([]*models.Alert, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		alerts = append(alerts, s.history[i])
	}
	return alerts
}
