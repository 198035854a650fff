package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit event types
const (
	AuditEventTransaction       = "TRANSACTION"
	AuditEventSecurity          = "SECURITY"
	AuditEventLimitCheck        = "LIMIT_CHECK"
	AuditEventAccountValidation = "ACCOUNT_VALIDATION"
	AuditEventBalanceCheck      = "BALANCE_CHECK"
	AuditEventAPIAccess         = "API_ACCESS"
	AuditEventSystem            = "SYSTEM_EVENT"
	AuditEventAlertTriggered    = "ALERT_TRIGGERED"
)

// Audit outcomes
const (
	AuditOutcomeSuccess = "SUCCESS"
	AuditOutcomeFailure = "FAILURE"
)

// AuditEvent is one entry in the audit trail. Events go to the dedicated
// audit log and, best effort, to the event exchange.
type AuditEvent struct {
	EventID       string                 `json:"eventId"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	EventType     string                 `json:"eventType"`
	Action        string                 `json:"action"`
	Outcome       string                 `json:"outcome"`
	UserID        string                 `json:"userId,omitempty"`
	TransactionID string                 `json:"transactionId,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// NewAuditEvent builds an event with a fresh id and the current time.
func NewAuditEvent(eventType, action, outcome string) *AuditEvent {
	return &AuditEvent{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Action:    action,
		Outcome:   outcome,
		Details:   make(map[string]interface{}),
	}
}

// WithUser attaches the acting user.
func (e *AuditEvent) WithUser(userID string) *AuditEvent {
	e.UserID = userID
	return e
}

// WithTransaction attaches the affected transaction.
func (e *AuditEvent) WithTransaction(transactionID string) *AuditEvent {
	e.TransactionID = transactionID
	return e
}

// WithCorrelation attaches the request correlation id.
func (e *AuditEvent) WithCorrelation(correlationID string) *AuditEvent {
	e.CorrelationID = correlationID
	return e
}

// WithDetail adds one detail field.
func (e *AuditEvent) WithDetail(key string, value interface{}) *AuditEvent {
	e.Details[key] = value
	return e
}
