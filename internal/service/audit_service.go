package service

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"transaction-api/internal/external"
	"transaction-api/internal/models"
)

// AuditService writes the audit trail. Every entry goes to the dedicated
// audit logger synchronously; the copy to the event exchange is queued and
// published in the background so a slow broker never touches the money path.
// Auditing is fire and forget: it has no business failing the operation it
// describes.
type AuditService interface {
	LogTransactionEvent(ctx context.Context, action string, transaction *models.Transaction, outcome string, details map[string]interface{})
	LogLimitCheck(ctx context.Context, transaction *models.Transaction, outcome string, details map[string]interface{})
	LogAccountValidation(ctx context.Context, accountID, transactionID, outcome string, details map[string]interface{})
	LogBalanceCheck(ctx context.Context, accountID, transactionID, outcome string, details map[string]interface{})
	LogSecurityEvent(ctx context.Context, action, userID, outcome string, details map[string]interface{})
	LogAPIAccess(ctx context.Context, userID, method, path string, statusCode int, durationMs int64)
	LogSystemEvent(ctx context.Context, action string, details map[string]interface{})
	LogAlert(ctx context.Context, alert *models.Alert)
	Close()
}

const auditQueueSize = 256

type auditService struct {
	logger    *logrus.Logger
	publisher external.EventPublisher

	events    chan *models.AuditEvent
	done      chan struct{}
	closeOnce sync.Once
}

func NewAuditService(auditLogger *logrus.Logger, publisher external.EventPublisher) AuditService {
	s := &auditService{
		logger:    auditLogger,
		publisher: publisher,
		events:    make(chan *models.AuditEvent, auditQueueSize),
		done:      make(chan struct{}),
	}

	go s.publishLoop()
	return s
}

func (s *auditService) publishLoop() {
	defer close(s.done)
	for event := range s.events {
		if err := s.publisher.PublishAuditEvent(context.Background(), event); err != nil {
			logrus.WithError(err).WithField("event_id", event.EventID).
				Debug("Failed to publish audit event")
		}
	}
}

// Close drains the publish queue and stops the background worker.
func (s *auditService) Close() {
	s.closeOnce.Do(func() {
		close(s.events)
		<-s.done
	})
}

func (s *auditService) LogTransactionEvent(ctx context.Context, action string, transaction *models.Transaction, outcome string, details map[string]interface{}) {
	event := models.NewAuditEvent(models.AuditEventTransaction, action, outcome).
		WithTransaction(transaction.TransactionID).
		WithUser(transaction.CreatedBy).
		WithDetail("type", string(transaction.Type)).
		WithDetail("status", string(transaction.Status)).
		WithDetail("amount", transaction.Amount.String()).
		WithDetail("currency", transaction.Currency)
	if transaction.FailureReason != "" {
		event.WithDetail("failure_reason", transaction.FailureReason)
	}
	mergeDetails(event, details)
	s.record(ctx, event)
}

func (s *auditService) LogLimitCheck(ctx context.Context, transaction *models.Transaction, outcome string, details map[string]interface{}) {
	event := models.NewAuditEvent(models.AuditEventLimitCheck, "LIMIT_CHECK", outcome).
		WithTransaction(transaction.TransactionID).
		WithUser(transaction.CreatedBy).
		WithDetail("account_id", transaction.LimitAccountID()).
		WithDetail("type", string(transaction.Type)).
		WithDetail("amount", transaction.Amount.String())
	mergeDetails(event, details)
	s.record(ctx, event)
}

func (s *auditService) LogAccountValidation(ctx context.Context, accountID, transactionID, outcome string, details map[string]interface{}) {
	event := models.NewAuditEvent(models.AuditEventAccountValidation, "ACCOUNT_VALIDATION", outcome).
		WithTransaction(transactionID).
		WithDetail("account_id", accountID)
	mergeDetails(event, details)
	s.record(ctx, event)
}

func (s *auditService) LogBalanceCheck(ctx context.Context, accountID, transactionID, outcome string, details map[string]interface{}) {
	event := models.NewAuditEvent(models.AuditEventBalanceCheck, "BALANCE_CHECK", outcome).
		WithTransaction(transactionID).
		WithDetail("account_id", accountID)
	mergeDetails(event, details)
	s.record(ctx, event)
}

func (s *auditService) LogSecurityEvent(ctx context.Context, action, userID, outcome string, details map[string]interface{}) {
	event := models.NewAuditEvent(models.AuditEventSecurity, action, outcome).
		WithUser(userID)
	mergeDetails(event, details)
	s.record(ctx, event)
}

func (s *auditService) LogAPIAccess(ctx context.Context, userID, method, path string, statusCode int, durationMs int64) {
	outcome := models.AuditOutcomeSuccess
	if statusCode >= 400 {
		outcome = models.AuditOutcomeFailure
	}
	event := models.NewAuditEvent(models.AuditEventAPIAccess, "API_ACCESS", outcome).
		WithUser(userID).
		WithDetail("method", method).
		WithDetail("path", path).
		WithDetail("status", statusCode).
		WithDetail("duration_ms", durationMs)
	s.record(ctx, event)
}

func (s *auditService) LogSystemEvent(ctx context.Context, action string, details map[string]interface{}) {
	event := models.NewAuditEvent(models.AuditEventSystem, action, models.AuditOutcomeSuccess)
	mergeDetails(event, details)
	s.record(ctx, event)
}

func (s *auditService) LogAlert(ctx context.Context, alert *models.Alert) {
	event := models.NewAuditEvent(models.AuditEventAlertTriggered, alert.Type, models.AuditOutcomeSuccess).
		WithDetail("alert_id", alert.AlertID).
		WithDetail("level", string(alert.Level)).
		WithDetail("message", alert.Message)
	mergeDetails(event, alert.Details)
	s.record(ctx, event)
}

func (s *auditService) record(ctx context.Context, event *models.AuditEvent) {
	if event.CorrelationID == "" {
		if correlationID, ok := ctx.Value("correlation_id").(string); ok {
			event.CorrelationID = correlationID
		}
	}

	s.logger.WithFields(logrus.Fields{
		"event_id":       event.EventID,
		"event_type":     event.EventType,
		"action":         event.Action,
		"outcome":        event.Outcome,
		"user_id":        event.UserID,
		"transaction_id": event.TransactionID,
		"correlation_id": event.CorrelationID,
		"details":        event.Details,
	}).Info(event.Action)

	// Queue full means the broker has been down long enough to back up 256
	// events; the file log above already has the record.
	select {
	case s.events <- event:
	default:
	}
}

func mergeDetails(event *models.AuditEvent, details map[string]interface{}) {
	for key, value := range details {
		event.WithDetail(key, value)
	}
}
