package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Limit dimensions, in evaluation order. When several dimensions are
// breached at once the first one in this order is reported.
const (
	LimitPerTransaction = "PER_TXN"
	LimitDailyAmount    = "DAILY_AMOUNT"
	LimitDailyCount     = "DAILY_COUNT"
	LimitMonthlyAmount  = "MONTHLY_AMOUNT"
	LimitMonthlyCount   = "MONTHLY_COUNT"
)

// TransactionLimit is a configured cap for one (account type, transaction
// type) pair. Nil pointers mean the dimension is uncapped.
type TransactionLimit struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	AccountType         string             `bson:"account_type" json:"accountType"`
	TransactionType     TransactionType    `bson:"transaction_type" json:"transactionType"`
	PerTransactionLimit *decimal.Decimal   `bson:"per_transaction_limit,omitempty" json:"perTransactionLimit,omitempty"`
	DailyLimit          *decimal.Decimal   `bson:"daily_limit,omitempty" json:"dailyLimit,omitempty"`
	MonthlyLimit        *decimal.Decimal   `bson:"monthly_limit,omitempty" json:"monthlyLimit,omitempty"`
	DailyCount          *int64             `bson:"daily_count,omitempty" json:"dailyCount,omitempty"`
	MonthlyCount        *int64             `bson:"monthly_count,omitempty" json:"monthlyCount,omitempty"`
	Active              bool               `bson:"active" json:"active"`
	UpdatedAt           time.Time          `bson:"updated_at" json:"updatedAt"`
	UpdatedBy           string             `bson:"updated_by" json:"updatedBy"`
}

// Validate checks a limit row before persisting it.
func (l *TransactionLimit) Validate() error {
	if l.AccountType != AccountTypeDebit && l.AccountType != AccountTypeCredit {
		return fmt.Errorf("invalid account type: %s", l.AccountType)
	}

	typeValid := false
	for _, tt := range validTypes {
		if l.TransactionType == tt {
			typeValid = true
			break
		}
	}
	if !typeValid {
		return fmt.Errorf("invalid transaction type: %s", l.TransactionType)
	}

	for name, v := range map[string]*decimal.Decimal{
		"perTransactionLimit": l.PerTransactionLimit,
		"dailyLimit":          l.DailyLimit,
		"monthlyLimit":        l.MonthlyLimit,
	} {
		if v != nil && !v.IsPositive() {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	for name, v := range map[string]*int64{
		"dailyCount":   l.DailyCount,
		"monthlyCount": l.MonthlyCount,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	return nil
}

// LimitUsage is an account's accrued usage over a calendar window.
type LimitUsage struct {
	Amount decimal.Decimal `bson:"amount" json:"amount"`
	Count  int64           `bson:"count" json:"count"`
}

// RemainingAmount returns how much of cap is left after usage, clamped at
// zero. A nil cap means uncapped and returns nil.
func RemainingAmount(cap *decimal.Decimal, used decimal.Decimal) *decimal.Decimal {
	if cap == nil {
		return nil
	}
	remaining := cap.Sub(used)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return &remaining
}

// RemainingCount returns how many transactions are left under cap, clamped
// at zero. A nil cap means uncapped and returns nil.
func RemainingCount(cap *int64, used int64) *int64 {
	if cap == nil {
		return nil
	}
	remaining := *cap - used
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// LimitResponse is the API representation of a configured limit row.
type LimitResponse struct {
	AccountType         string  `json:"accountType"`
	TransactionType     string  `json:"transactionType"`
	PerTransactionLimit *string `json:"perTransactionLimit,omitempty"`
	DailyLimit          *string `json:"dailyLimit,omitempty"`
	MonthlyLimit        *string `json:"monthlyLimit,omitempty"`
	DailyCount          *int64  `json:"dailyCount,omitempty"`
	MonthlyCount        *int64  `json:"monthlyCount,omitempty"`
	Active              bool    `json:"active"`
	UpdatedAt           string  `json:"updatedAt"`
	UpdatedBy           string  `json:"updatedBy,omitempty"`
}

// ToResponse converts the limit row to its API shape.
func (l *TransactionLimit) ToResponse() *LimitResponse {
	return &LimitResponse{
		AccountType:         l.AccountType,
		TransactionType:     string(l.TransactionType),
		PerTransactionLimit: moneyString(l.PerTransactionLimit),
		DailyLimit:          moneyString(l.DailyLimit),
		MonthlyLimit:        moneyString(l.MonthlyLimit),
		DailyCount:          l.DailyCount,
		MonthlyCount:        l.MonthlyCount,
		Active:              l.Active,
		UpdatedAt:           l.UpdatedAt.UTC().Format(time.RFC3339),
		UpdatedBy:           l.UpdatedBy,
	}
}

// LimitStatusResponse reports an account's remaining headroom against a
// limit row given its current usage.
type LimitStatusResponse struct {
	AccountID        string         `json:"accountId"`
	AccountType      string         `json:"accountType"`
	TransactionType  string         `json:"transactionType"`
	Limit            *LimitResponse `json:"limit"`
	DailyUsed        string         `json:"dailyUsed"`
	DailyCountUsed   int64          `json:"dailyCountUsed"`
	MonthlyUsed      string         `json:"monthlyUsed"`
	MonthlyCountUsed int64          `json:"monthlyCountUsed"`
	DailyRemaining   *string        `json:"dailyRemaining,omitempty"`
	MonthlyRemaining *string        `json:"monthlyRemaining,omitempty"`
	DailyCountLeft   *int64         `json:"dailyCountRemaining,omitempty"`
	MonthlyCountLeft *int64         `json:"monthlyCountRemaining,omitempty"`
}
