package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account categories as reported by the account service.
const (
	AccountTypeDebit  = "DEBIT"
	AccountTypeCredit = "CREDIT"
)

// Account statuses as reported by the account service.
const (
	AccountStatusActive = "ACTIVE"
	AccountStatusFrozen = "FROZEN"
	AccountStatusClosed = "CLOSED"
)

// AccountSnapshot is the account service's view of an account at a point
// in time. Snapshots may be served from cache for up to the configured TTL.
type AccountSnapshot struct {
	AccountID       string           `json:"accountId"`
	OwnerID         string           `json:"ownerId"`
	Type            string           `json:"type"`
	Status          string           `json:"status"`
	Balance         decimal.Decimal  `json:"balance"`
	AvailableCredit *decimal.Decimal `json:"availableCredit,omitempty"`
	Currency        string           `json:"currency"`
	Version         int64            `json:"version"`
	FetchedAt       time.Time        `json:"-"`
}

// IsActive reports whether the account accepts transactions.
func (a *AccountSnapshot) IsActive() bool {
	return a.Status == AccountStatusActive
}

// CanCover reports whether a debit of amount is admissible for this
// account. Debit accounts must hold the full amount; credit accounts are
// checked against their available credit when the account service reports
// it and are otherwise bounded by the service itself.
func (a *AccountSnapshot) CanCover(amount decimal.Decimal) bool {
	if a.Type == AccountTypeCredit {
		if a.AvailableCredit != nil {
			return a.AvailableCredit.GreaterThanOrEqual(amount)
		}
		return true
	}
	return a.Balance.GreaterThanOrEqual(amount)
}

// BalanceOperation is the idempotent balance mutation sent to the account
// service. OperationID dedupes retried deliveries of the same mutation.
type BalanceOperation struct {
	OperationID   string          `json:"operationId"`
	Delta         decimal.Decimal `json:"delta"`
	TransactionID string          `json:"transactionId"`
	Reason        string          `json:"reason"`
	AllowNegative bool            `json:"allowNegative"`
}

// BalanceOperationResult is the account service's acknowledgement of a
// balance operation. Applied is false when the operation id had already
// been committed and the call was a replay.
type BalanceOperationResult struct {
	AccountID   string          `json:"accountId"`
	OperationID string          `json:"operationId"`
	Applied     bool            `json:"applied"`
	NewBalance  decimal.Decimal `json:"newBalance"`
	Version     int64           `json:"version"`
	Status      string          `json:"status"`
}
