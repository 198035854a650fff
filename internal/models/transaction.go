package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TransactionType identifies the money movement kind
type TransactionType string

const (
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
	TypeTransfer   TransactionType = "TRANSFER"
	TypeReversal   TransactionType = "REVERSAL"
)

// TransactionStatus is the lifecycle state of a ledger row
type TransactionStatus string

const (
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusCompleted  TransactionStatus = "COMPLETED"
	StatusFailed     TransactionStatus = "FAILED"
	StatusReversed   TransactionStatus = "REVERSED"
)

// ExternalAccount is the sentinel counter-leg for deposits and withdrawals.
const ExternalAccount = "EXTERNAL"

// Failure reasons recorded on FAILED rows
const (
	FailureAccountNotFound    = "ACCOUNT_NOT_FOUND"
	FailureAccountInactive    = "ACCOUNT_INACTIVE"
	FailureServiceUnavailable = "SERVICE_UNAVAILABLE"
	FailureLimitExceeded      = "LIMIT_EXCEEDED"
	FailureInsufficientFunds  = "INSUFFICIENT_FUNDS"
	FailureWouldGoNegative    = "WOULD_GO_NEGATIVE"
	FailureBalanceOperation   = "BALANCE_OPERATION_FAILED"
	FailureStuck              = "STUCK"
)

// Transaction is a single money-movement record in the ledger. Balance
// snapshots are taken from the account service around the balance
// operations; EXTERNAL legs never carry snapshots.
type Transaction struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	TransactionID string             `bson:"transaction_id" json:"transactionId"`
	FromAccountID string             `bson:"from_account_id" json:"fromAccountId"`
	ToAccountID   string             `bson:"to_account_id" json:"toAccountId"`
	Amount        decimal.Decimal    `bson:"amount" json:"amount"`
	Currency      string             `bson:"currency" json:"currency"`
	Type          TransactionType    `bson:"type" json:"type"`
	Status        TransactionStatus  `bson:"status" json:"status"`
	Description   string             `bson:"description,omitempty" json:"description,omitempty"`
	Reference     string             `bson:"reference,omitempty" json:"reference,omitempty"`

	CreatedAt   time.Time  `bson:"created_at" json:"createdAt"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty" json:"processedAt,omitempty"`
	ReversedAt  *time.Time `bson:"reversed_at,omitempty" json:"reversedAt,omitempty"`
	CreatedBy   string     `bson:"created_by" json:"createdBy"`
	ProcessedBy string     `bson:"processed_by,omitempty" json:"processedBy,omitempty"`
	ReversedBy  string     `bson:"reversed_by,omitempty" json:"reversedBy,omitempty"`

	FromBalanceBefore *decimal.Decimal `bson:"from_balance_before,omitempty" json:"fromAccountBalanceBefore,omitempty"`
	FromBalanceAfter  *decimal.Decimal `bson:"from_balance_after,omitempty" json:"fromAccountBalanceAfter,omitempty"`
	ToBalanceBefore   *decimal.Decimal `bson:"to_balance_before,omitempty" json:"toAccountBalanceBefore,omitempty"`
	ToBalanceAfter    *decimal.Decimal `bson:"to_balance_after,omitempty" json:"toAccountBalanceAfter,omitempty"`

	OriginalTransactionID string `bson:"original_transaction_id,omitempty" json:"originalTransactionId,omitempty"`
	ReversalTransactionID string `bson:"reversal_transaction_id,omitempty" json:"reversalTransactionId,omitempty"`
	ReversalReason        string `bson:"reversal_reason,omitempty" json:"reversalReason,omitempty"`
	IsReversed            bool   `bson:"is_reversed" json:"isReversed"`
	FailureReason         string `bson:"failure_reason,omitempty" json:"failureReason,omitempty"`
}

// NewTransaction creates a ledger row in PROCESSING state with a fresh
// opaque transaction id.
func NewTransaction(txType TransactionType, fromAccountID, toAccountID string, amount decimal.Decimal, currency, description, reference, createdBy string) *Transaction {
	return &Transaction{
		TransactionID: uuid.NewString(),
		FromAccountID: fromAccountID,
		ToAccountID:   toAccountID,
		Amount:        amount,
		Currency:      currency,
		Type:          txType,
		Status:        StatusProcessing,
		Description:   description,
		Reference:     reference,
		CreatedAt:     time.Now().UTC(),
		CreatedBy:     createdBy,
	}
}

// NewReversal builds the compensating row for a completed transaction:
// legs swapped, same amount and currency, linked back to the original.
func NewReversal(original *Transaction, reason, requestedBy string) *Transaction {
	reversal := NewTransaction(
		TypeReversal,
		original.ToAccountID,
		original.FromAccountID,
		original.Amount,
		original.Currency,
		fmt.Sprintf("Reversal of %s: %s", original.TransactionID, reason),
		original.Reference,
		requestedBy,
	)
	reversal.OriginalTransactionID = original.TransactionID
	return reversal
}

// MarkCompleted transitions the row to its successful terminal state.
func (t *Transaction) MarkCompleted(processedBy string) {
	now := time.Now().UTC()
	t.Status = StatusCompleted
	t.ProcessedAt = &now
	t.ProcessedBy = processedBy
}

// MarkFailed transitions the row to FAILED with the reason recorded.
func (t *Transaction) MarkFailed(reason, processedBy string) {
	now := time.Now().UTC()
	t.Status = StatusFailed
	t.ProcessedAt = &now
	t.ProcessedBy = processedBy
	t.FailureReason = reason
}

// MarkReversed records the reversal linkage on the original row.
func (t *Transaction) MarkReversed(reversalID, reason, reversedBy string) {
	now := time.Now().UTC()
	t.Status = StatusReversed
	t.IsReversed = true
	t.ReversalTransactionID = reversalID
	t.ReversalReason = reason
	t.ReversedAt = &now
	t.ReversedBy = reversedBy
}

// SetFromBalances records the debit-side snapshots.
func (t *Transaction) SetFromBalances(before, after decimal.Decimal) {
	t.FromBalanceBefore = &before
	t.FromBalanceAfter = &after
}

// SetToBalances records the credit-side snapshots.
func (t *Transaction) SetToBalances(before, after decimal.Decimal) {
	t.ToBalanceBefore = &before
	t.ToBalanceAfter = &after
}

// IsTerminal reports whether the status admits no further transition.
// COMPLETED still admits the single allowed reversal.
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusFailed || t.Status == StatusReversed
}

// CanBeReversed reports whether the row is eligible for reversal
// irrespective of the reversal window: completed, not already reversed,
// and not itself a reversal.
func (t *Transaction) CanBeReversed() bool {
	return t.Status == StatusCompleted && !t.IsReversed && t.Type != TypeReversal
}

// LimitAccountID returns the customer account whose limits govern this
// transaction: the credited side for deposits, the debited side otherwise.
func (t *Transaction) LimitAccountID() string {
	if t.Type == TypeDeposit {
		return t.ToAccountID
	}
	return t.FromAccountID
}

// HasExternalLeg reports whether either side is the EXTERNAL sentinel.
func (t *Transaction) HasExternalLeg() bool {
	return t.FromAccountID == ExternalAccount || t.ToAccountID == ExternalAccount
}

var validTypes = []TransactionType{TypeDeposit, TypeWithdrawal, TypeTransfer, TypeReversal}

var validStatuses = []TransactionStatus{StatusProcessing, StatusCompleted, StatusFailed, StatusReversed}

// Validate checks structural invariants of the row.
func (t *Transaction) Validate() error {
	if t.TransactionID == "" {
		return fmt.Errorf("transaction id is required")
	}

	typeValid := false
	for _, tt := range validTypes {
		if t.Type == tt {
			typeValid = true
			break
		}
	}
	if !typeValid {
		return fmt.Errorf("invalid transaction type: %s", t.Type)
	}

	statusValid := false
	for _, s := range validStatuses {
		if t.Status == s {
			statusValid = true
			break
		}
	}
	if !statusValid {
		return fmt.Errorf("invalid transaction status: %s", t.Status)
	}

	if !t.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}

	if t.FromAccountID == "" || t.ToAccountID == "" {
		return fmt.Errorf("both account legs are required")
	}

	switch t.Type {
	case TypeDeposit:
		if t.FromAccountID != ExternalAccount {
			return fmt.Errorf("deposit must originate from %s", ExternalAccount)
		}
		if t.ToAccountID == ExternalAccount {
			return fmt.Errorf("deposit target must be a customer account")
		}
	case TypeWithdrawal:
		if t.ToAccountID != ExternalAccount {
			return fmt.Errorf("withdrawal must pay out to %s", ExternalAccount)
		}
		if t.FromAccountID == ExternalAccount {
			return fmt.Errorf("withdrawal source must be a customer account")
		}
	case TypeTransfer:
		if t.HasExternalLeg() {
			return fmt.Errorf("transfer legs must be customer accounts")
		}
		if t.FromAccountID == t.ToAccountID {
			return fmt.Errorf("transfer accounts must differ")
		}
	case TypeReversal:
		if t.OriginalTransactionID == "" {
			return fmt.Errorf("reversal must reference the original transaction")
		}
	}

	return nil
}

// TransactionResponse is the API representation of a ledger row. Money is
// rendered as fixed-point strings with two decimals.
type TransactionResponse struct {
	TransactionID            string  `json:"transactionId"`
	FromAccountID            string  `json:"fromAccountId"`
	ToAccountID              string  `json:"toAccountId"`
	Amount                   string  `json:"amount"`
	Currency                 string  `json:"currency"`
	Type                     string  `json:"type"`
	Status                   string  `json:"status"`
	Description              string  `json:"description,omitempty"`
	Reference                string  `json:"reference,omitempty"`
	CreatedAt                string  `json:"createdAt"`
	ProcessedAt              string  `json:"processedAt,omitempty"`
	ReversedAt               string  `json:"reversedAt,omitempty"`
	CreatedBy                string  `json:"createdBy"`
	ProcessedBy              string  `json:"processedBy,omitempty"`
	ReversedBy               string  `json:"reversedBy,omitempty"`
	FromAccountBalanceBefore *string `json:"fromAccountBalanceBefore,omitempty"`
	FromAccountBalanceAfter  *string `json:"fromAccountBalanceAfter,omitempty"`
	ToAccountBalanceBefore   *string `json:"toAccountBalanceBefore,omitempty"`
	ToAccountBalanceAfter    *string `json:"toAccountBalanceAfter,omitempty"`
	OriginalTransactionID    string  `json:"originalTransactionId,omitempty"`
	ReversalTransactionID    string  `json:"reversalTransactionId,omitempty"`
	ReversalReason           string  `json:"reversalReason,omitempty"`
	IsReversed               bool    `json:"isReversed"`
	FailureReason            string  `json:"failureReason,omitempty"`
}

// ToResponse converts the ledger row to its API shape.
func (t *Transaction) ToResponse() *TransactionResponse {
	resp := &TransactionResponse{
		TransactionID:         t.TransactionID,
		FromAccountID:         t.FromAccountID,
		ToAccountID:           t.ToAccountID,
		Amount:                t.Amount.StringFixed(2),
		Currency:              t.Currency,
		Type:                  string(t.Type),
		Status:                string(t.Status),
		Description:           t.Description,
		Reference:             t.Reference,
		CreatedAt:             t.CreatedAt.UTC().Format(time.RFC3339),
		CreatedBy:             t.CreatedBy,
		ProcessedBy:           t.ProcessedBy,
		ReversedBy:            t.ReversedBy,
		OriginalTransactionID: t.OriginalTransactionID,
		ReversalTransactionID: t.ReversalTransactionID,
		ReversalReason:        t.ReversalReason,
		IsReversed:            t.IsReversed,
		FailureReason:         t.FailureReason,
	}

	if t.ProcessedAt != nil {
		resp.ProcessedAt = t.ProcessedAt.UTC().Format(time.RFC3339)
	}
	if t.ReversedAt != nil {
		resp.ReversedAt = t.ReversedAt.UTC().Format(time.RFC3339)
	}
	resp.FromAccountBalanceBefore = moneyString(t.FromBalanceBefore)
	resp.FromAccountBalanceAfter = moneyString(t.FromBalanceAfter)
	resp.ToAccountBalanceBefore = moneyString(t.ToBalanceBefore)
	resp.ToAccountBalanceAfter = moneyString(t.ToBalanceAfter)

	return resp
}

func moneyString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}
