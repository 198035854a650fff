package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertLevel orders alerts by urgency.
type AlertLevel string

const (
	AlertLevelCritical AlertLevel = "CRITICAL"
	AlertLevelWarning  AlertLevel = "WARNING"
	AlertLevelInfo     AlertLevel = "INFO"
)

// Alert types raised by the periodic condition checks.
const (
	AlertHighErrorRate             = "HIGH_ERROR_RATE"
	AlertAccountServiceUnavailable = "ACCOUNT_SERVICE_UNAVAILABLE"
	AlertAccountServiceRecovered   = "ACCOUNT_SERVICE_RECOVERED"
	AlertHighDailyVolume           = "HIGH_DAILY_VOLUME"
	AlertHighActiveTransactions    = "HIGH_ACTIVE_TRANSACTIONS"
	AlertSlowProcessing            = "SLOW_TRANSACTION_PROCESSING"
)

// Alert is a raised operational condition. Repeated alerts of the same
// (level, type) within the suppression window are counted but not
// re-dispatched.
type Alert struct {
	AlertID     string                 `json:"alertId"`
	Level       AlertLevel             `json:"level"`
	Type        string                 `json:"type"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	TriggeredAt time.Time              `json:"triggeredAt"`
}

// NewAlert builds an alert with a fresh id and the current time.
func NewAlert(level AlertLevel, alertType, message string) *Alert {
	return &Alert{
		AlertID:     uuid.NewString(),
		Level:       level,
		Type:        alertType,
		Message:     message,
		Details:     make(map[string]interface{}),
		TriggeredAt: time.Now().UTC(),
	}
}

// WithDetail adds one detail field.
func (a *Alert) WithDetail(key string, value interface{}) *Alert {
	a.Details[key] = value
	return a
}

// SuppressionKey identifies the suppression bucket for this alert.
func (a *Alert) SuppressionKey() string {
	return string(a.Level) + ":" + a.Type
}
