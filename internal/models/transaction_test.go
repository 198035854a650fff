package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransaction(t *testing.T) {
	tx := NewTransaction(TypeDeposit, ExternalAccount, "acc-1", decimal.NewFromInt(100), "USD", "payroll", "ref-1", "user-1")

	assert.Len(t, tx.TransactionID, 36)
	assert.Equal(t, StatusProcessing, tx.Status)
	assert.Equal(t, ExternalAccount, tx.FromAccountID)
	assert.Equal(t, "acc-1", tx.ToAccountID)
	assert.Equal(t, "payroll", tx.Description)
	assert.Equal(t, "ref-1", tx.Reference)
	assert.Equal(t, "user-1", tx.CreatedBy)
	assert.Equal(t, time.UTC, tx.CreatedAt.Location())
	assert.False(t, tx.IsReversed)
}

func TestNewReversal(t *testing.T) {
	original := NewTransaction(TypeWithdrawal, "acc-1", ExternalAccount, decimal.NewFromInt(75), "USD", "", "ref-9", "user-1")
	original.MarkCompleted("user-1")

	reversal := NewReversal(original, "customer dispute", "admin-1")

	assert.Equal(t, TypeReversal, reversal.Type)
	assert.Equal(t, StatusProcessing, reversal.Status)
	assert.Equal(t, original.ToAccountID, reversal.FromAccountID)
	assert.Equal(t, original.FromAccountID, reversal.ToAccountID)
	assert.True(t, reversal.Amount.Equal(original.Amount))
	assert.Equal(t, original.Currency, reversal.Currency)
	assert.Equal(t, original.TransactionID, reversal.OriginalTransactionID)
	assert.Contains(t, reversal.Description, original.TransactionID)
	assert.Contains(t, reversal.Description, "customer dispute")
	assert.NotEqual(t, original.TransactionID, reversal.TransactionID)
}

func TestTransaction_StatusTransitions(t *testing.T) {
	t.Run("mark completed", func(t *testing.T) {
		tx := NewTransaction(TypeDeposit, ExternalAccount, "acc-1", decimal.NewFromInt(10), "USD", "", "", "user-1")
		tx.MarkCompleted("worker-1")

		assert.Equal(t, StatusCompleted, tx.Status)
		assert.Equal(t, "worker-1", tx.ProcessedBy)
		require.NotNil(t, tx.ProcessedAt)
		assert.False(t, tx.IsTerminal())
	})

	t.Run("mark failed", func(t *testing.T) {
		tx := NewTransaction(TypeDeposit, ExternalAccount, "acc-1", decimal.NewFromInt(10), "USD", "", "", "user-1")
		tx.MarkFailed(FailureInsufficientFunds, "worker-1")

		assert.Equal(t, StatusFailed, tx.Status)
		assert.Equal(t, FailureInsufficientFunds, tx.FailureReason)
		require.NotNil(t, tx.ProcessedAt)
		assert.True(t, tx.IsTerminal())
	})

	t.Run("mark reversed", func(t *testing.T) {
		tx := NewTransaction(TypeDeposit, ExternalAccount, "acc-1", decimal.NewFromInt(10), "USD", "", "", "user-1")
		tx.MarkCompleted("worker-1")
		tx.MarkReversed("rev-1", "dispute", "admin-1")

		assert.Equal(t, StatusReversed, tx.Status)
		assert.True(t, tx.IsReversed)
		assert.Equal(t, "rev-1", tx.ReversalTransactionID)
		assert.Equal(t, "dispute", tx.ReversalReason)
		assert.Equal(t, "admin-1", tx.ReversedBy)
		require.NotNil(t, tx.ReversedAt)
		assert.True(t, tx.IsTerminal())
	})
}

func TestTransaction_Validate(t *testing.T) {
	valid := func(txType TransactionType, from, to string) *Transaction {
		tx := NewTransaction(txType, from, to, decimal.NewFromInt(50), "USD", "", "", "user-1")
		if txType == TypeReversal {
			tx.OriginalTransactionID = "tx-original"
		}
		return tx
	}

	tests := []struct {
		name      string
		mutate    func(*Transaction)
		tx        *Transaction
		wantError string
	}{
		{name: "valid deposit", tx: valid(TypeDeposit, ExternalAccount, "acc-1")},
		{name: "valid withdrawal", tx: valid(TypeWithdrawal, "acc-1", ExternalAccount)},
		{name: "valid transfer", tx: valid(TypeTransfer, "acc-1", "acc-2")},
		{name: "valid reversal", tx: valid(TypeReversal, ExternalAccount, "acc-1")},
		{
			name:      "missing transaction id",
			tx:        valid(TypeDeposit, ExternalAccount, "acc-1"),
			mutate:    func(tx *Transaction) { tx.TransactionID = "" },
			wantError: "transaction id is required",
		},
		{
			name:      "unknown type",
			tx:        valid(TypeDeposit, ExternalAccount, "acc-1"),
			mutate:    func(tx *Transaction) { tx.Type = TransactionType("REFUND") },
			wantError: "invalid transaction type",
		},
		{
			name:      "unknown status",
			tx:        valid(TypeDeposit, ExternalAccount, "acc-1"),
			mutate:    func(tx *Transaction) { tx.Status = TransactionStatus("QUEUED") },
			wantError: "invalid transaction status",
		},
		{
			name:      "zero amount",
			tx:        valid(TypeDeposit, ExternalAccount, "acc-1"),
			mutate:    func(tx *Transaction) { tx.Amount = decimal.Zero },
			wantError: "amount must be positive",
		},
		{
			name:      "deposit from customer account",
			tx:        valid(TypeDeposit, "acc-2", "acc-1"),
			wantError: "deposit must originate from EXTERNAL",
		},
		{
			name:      "deposit into external",
			tx:        valid(TypeDeposit, ExternalAccount, ExternalAccount),
			wantError: "deposit target must be a customer account",
		},
		{
			name:      "withdrawal into customer account",
			tx:        valid(TypeWithdrawal, "acc-1", "acc-2"),
			wantError: "withdrawal must pay out to EXTERNAL",
		},
		{
			name:      "transfer with external leg",
			tx:        valid(TypeTransfer, "acc-1", ExternalAccount),
			wantError: "transfer legs must be customer accounts",
		},
		{
			name:      "transfer to itself",
			tx:        valid(TypeTransfer, "acc-1", "acc-1"),
			wantError: "transfer accounts must differ",
		},
		{
			name:      "reversal without original",
			tx:        valid(TypeReversal, ExternalAccount, "acc-1"),
			mutate:    func(tx *Transaction) { tx.OriginalTransactionID = "" },
			wantError: "reversal must reference the original transaction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.mutate != nil {
				tt.mutate(tt.tx)
			}
			err := tt.tx.Validate()
			if tt.wantError == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
			}
		})
	}
}

func TestTransaction_CanBeReversed(t *testing.T) {
	completed := NewTransaction(TypeWithdrawal, "acc-1", ExternalAccount, decimal.NewFromInt(10), "USD", "", "", "user-1")
	completed.MarkCompleted("user-1")
	assert.True(t, completed.CanBeReversed())

	failed := NewTransaction(TypeWithdrawal, "acc-1", ExternalAccount, decimal.NewFromInt(10), "USD", "", "", "user-1")
	failed.MarkFailed(FailureInsufficientFunds, "user-1")
	assert.False(t, failed.CanBeReversed())

	reversed := NewTransaction(TypeWithdrawal, "acc-1", ExternalAccount, decimal.NewFromInt(10), "USD", "", "", "user-1")
	reversed.MarkCompleted("user-1")
	reversed.MarkReversed("rev-1", "dispute", "admin-1")
	assert.False(t, reversed.CanBeReversed())

	reversal := NewReversal(completed, "dispute", "admin-1")
	reversal.MarkCompleted("admin-1")
	assert.False(t, reversal.CanBeReversed())
}

func TestTransaction_LimitAccountID(t *testing.T) {
	deposit := NewTransaction(TypeDeposit, ExternalAccount, "acc-1", decimal.NewFromInt(10), "USD", "", "", "user-1")
	assert.Equal(t, "acc-1", deposit.LimitAccountID())

	withdrawal := NewTransaction(TypeWithdrawal, "acc-1", ExternalAccount, decimal.NewFromInt(10), "USD", "", "", "user-1")
	assert.Equal(t, "acc-1", withdrawal.LimitAccountID())

	transfer := NewTransaction(TypeTransfer, "acc-1", "acc-2", decimal.NewFromInt(10), "USD", "", "", "user-1")
	assert.Equal(t, "acc-1", transfer.LimitAccountID())
}

func TestTransaction_ToResponse(t *testing.T) {
	tx := NewTransaction(TypeTransfer, "acc-1", "acc-2", decimal.RequireFromString("30.5"), "USD", "rent", "ref-2", "user-1")
	tx.SetFromBalances(decimal.NewFromInt(100), decimal.RequireFromString("69.5"))
	tx.SetToBalances(decimal.NewFromInt(10), decimal.RequireFromString("40.5"))
	tx.MarkCompleted("user-1")

	resp := tx.ToResponse()

	assert.Equal(t, "30.50", resp.Amount)
	assert.Equal(t, "TRANSFER", resp.Type)
	assert.Equal(t, "COMPLETED", resp.Status)
	require.NotNil(t, resp.FromAccountBalanceBefore)
	assert.Equal(t, "100.00", *resp.FromAccountBalanceBefore)
	require.NotNil(t, resp.ToAccountBalanceAfter)
	assert.Equal(t, "40.50", *resp.ToAccountBalanceAfter)
	assert.NotEmpty(t, resp.ProcessedAt)

	bare := NewTransaction(TypeDeposit, ExternalAccount, "acc-1", decimal.NewFromInt(5), "USD", "", "", "user-1")
	bareResp := bare.ToResponse()
	assert.Nil(t, bareResp.FromAccountBalanceBefore)
	assert.Nil(t, bareResp.ToAccountBalanceAfter)
	assert.Empty(t, bareResp.ProcessedAt)
}
