package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"transaction-api/internal/apperrors"
	"transaction-api/internal/external"
	"transaction-api/internal/models"
	"transaction-api/internal/monitoring"
)

// Mocks for the engine's collaborators

type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Create(ctx context.Context, transaction *models.Transaction) error {
	args := m.Called(ctx, transaction)
	return args.Error(0)
}

func (m *MockTransactionRepository) Update(ctx context.Context, transaction *models.Transaction) error {
	args := m.Called(ctx, transaction)
	return args.Error(0)
}

func (m *MockTransactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) GetByAccountID(ctx context.Context, accountID string, page models.Page) (*models.PagedTransactions, error) {
	args := m.Called(ctx, accountID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PagedTransactions), args.Error(1)
}

func (m *MockTransactionRepository) GetByUserID(ctx context.Context, userID string, page models.Page) (*models.PagedTransactions, error) {
	args := m.Called(ctx, userID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PagedTransactions), args.Error(1)
}

func (m *MockTransactionRepository) GetByStatus(ctx context.Context, status models.TransactionStatus, page models.Page) (*models.PagedTransactions, error) {
	args := m.Called(ctx, status, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PagedTransactions), args.Error(1)
}

func (m *MockTransactionRepository) Search(ctx context.Context, filter *models.SearchFilter, page models.Page) (*models.PagedTransactions, error) {
	args := m.Called(ctx, filter, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PagedTransactions), args.Error(1)
}

func (m *MockTransactionRepository) FindStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*models.Transaction, error) {
	args := m.Called(ctx, olderThan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) GetReversals(ctx context.Context, originalTransactionID string) ([]*models.Transaction, error) {
	args := m.Called(ctx, originalTransactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) IsReversed(ctx context.Context, transactionID string) (bool, error) {
	args := m.Called(ctx, transactionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransactionRepository) MarkReversed(ctx context.Context, originalID, reversalID, reason, reversedBy string, at time.Time) error {
	args := m.Called(ctx, originalID, reversalID, reason, reversedBy, at)
	return args.Error(0)
}

func (m *MockTransactionRepository) UnmarkReversed(ctx context.Context, originalID, reversalID string) error {
	args := m.Called(ctx, originalID, reversalID)
	return args.Error(0)
}

func (m *MockTransactionRepository) GetAccountStats(ctx context.Context, accountID string, from, to time.Time) (*models.TransactionStats, error) {
	args := m.Called(ctx, accountID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransactionStats), args.Error(1)
}

func (m *MockTransactionRepository) GetUserStats(ctx context.Context, userID string, from, to time.Time) (*models.TransactionStats, error) {
	args := m.Called(ctx, userID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransactionStats), args.Error(1)
}

func (m *MockTransactionRepository) GetDailyUsage(ctx context.Context, accountID string, txType models.TransactionType, day time.Time) (*models.LimitUsage, error) {
	args := m.Called(ctx, accountID, txType, day)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LimitUsage), args.Error(1)
}

func (m *MockTransactionRepository) GetMonthlyUsage(ctx context.Context, accountID string, txType models.TransactionType, month time.Time) (*models.LimitUsage, error) {
	args := m.Called(ctx, accountID, txType, month)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LimitUsage), args.Error(1)
}

func (m *MockTransactionRepository) CountByStatus(ctx context.Context) (map[models.TransactionStatus]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[models.TransactionStatus]int64), args.Error(1)
}

func (m *MockTransactionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses ...models.TransactionStatus) (int64, error) {
	args := m.Called(ctx, cutoff, statuses)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTransactionRepository) CreateIndexes(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockAccountClient struct {
	mock.Mock
}

func (m *MockAccountClient) GetAccount(ctx context.Context, accountID string) (*models.AccountSnapshot, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AccountSnapshot), args.Error(1)
}

func (m *MockAccountClient) ValidateAccount(ctx context.Context, accountID string) (*models.AccountSnapshot, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AccountSnapshot), args.Error(1)
}

func (m *MockAccountClient) HasSufficientFunds(ctx context.Context, accountID string, amount decimal.Decimal) (bool, *models.AccountSnapshot, error) {
	args := m.Called(ctx, accountID, amount)
	if args.Get(1) == nil {
		return args.Bool(0), nil, args.Error(2)
	}
	return args.Bool(0), args.Get(1).(*models.AccountSnapshot), args.Error(2)
}

func (m *MockAccountClient) ApplyBalanceOperation(ctx context.Context, accountID string, op *models.BalanceOperation) (*models.BalanceOperationResult, error) {
	args := m.Called(ctx, accountID, op)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BalanceOperationResult), args.Error(1)
}

func (m *MockAccountClient) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockLimitChecker struct {
	mock.Mock
}

func (m *MockLimitChecker) Validate(ctx context.Context, accountID, accountType string, txType models.TransactionType, amount decimal.Decimal) error {
	args := m.Called(ctx, accountID, accountType, txType, amount)
	return args.Error(0)
}

// noopAudit and noopMetrics absorb the engine's observability chatter so
// tests only assert on the collaborators that move money.

type noopAudit struct{}

func (noopAudit) LogTransactionEvent(context.Context, string, *models.Transaction, string, map[string]interface{}) {
}
func (noopAudit) LogLimitCheck(context.Context, *models.Transaction, string, map[string]interface{}) {
}
func (noopAudit) LogAccountValidation(context.Context, string, string, string, map[string]interface{}) {
}
func (noopAudit) LogBalanceCheck(context.Context, string, string, string, map[string]interface{}) {}
func (noopAudit) LogSystemEvent(context.Context, string, map[string]interface{})                  {}

type noopMetrics struct{}

func (noopMetrics) RecordTransactionInitiated(string)                         {}
func (noopMetrics) RecordTransactionCompleted(string, float64, time.Duration) {}
func (noopMetrics) RecordTransactionFailed(string, string, time.Duration)     {}
func (noopMetrics) RecordTransactionReversed(string)                          {}
func (noopMetrics) IncrementActiveTransactions()                              {}
func (noopMetrics) DecrementActiveTransactions()                              {}
func (noopMetrics) SetPendingTransactions(int64)                              {}
func (noopMetrics) ResetDailyCounters()                                       {}
func (noopMetrics) RecordAccountServiceCall(string, time.Duration, bool)      {}
func (noopMetrics) SetCircuitBreakerState(string)                             {}
func (noopMetrics) RecordLimitRejection(string)                               {}
func (noopMetrics) RecordAlertTriggered(string, string)                       {}
func (noopMetrics) RecordAlertSuppressed(string, string)                      {}
func (noopMetrics) RecordHTTPRequest(string, string, int, time.Duration)      {}
func (noopMetrics) SetComponentUp(string, bool)                               {}
func (noopMetrics) RecordSystemMetrics()                                      {}
func (noopMetrics) Snapshot() monitoring.Snapshot                             { return monitoring.Snapshot{} }

func newTestEngine(repo *MockTransactionRepository, accounts *MockAccountClient, limits *MockLimitChecker) *transactionEngine {
	return &transactionEngine{
		transactionRepo: repo,
		accounts:        accounts,
		limits:          limits,
		audit:           noopAudit{},
		metrics:         noopMetrics{},
		publisher:       external.NewNoopPublisher(),
		reversalWindow:  30 * 24 * time.Hour,
		staleCutoff:     15 * time.Minute,
		now:             time.Now,
	}
}

func activeDebitAccount(id string, balance float64) *models.AccountSnapshot {
	return &models.AccountSnapshot{
		AccountID: id,
		Type:      models.AccountTypeDebit,
		Status:    models.AccountStatusActive,
		Balance:   decimal.NewFromFloat(balance),
		Currency:  "USD",
	}
}

func operationWithSuffix(suffix string) interface{} {
	return mock.MatchedBy(func(op *models.BalanceOperation) bool {
		return strings.HasSuffix(op.OperationID, suffix)
	})
}

func TestTransactionEngine_ProcessDeposit(t *testing.T) {
	tests := []struct {
		name         string
		setupMocks   func(*MockTransactionRepository, *MockAccountClient, *MockLimitChecker)
		expectedKind apperrors.Kind
	}{
		{
			name: "successful deposit",
			setupMocks: func(repo *MockTransactionRepository, accounts *MockAccountClient, limits *MockLimitChecker) {
				accounts.On("ValidateAccount", mock.Anything, "acc-1").Return(activeDebitAccount("acc-1", 50), nil)
				limits.On("Validate", mock.Anything, "acc-1", models.AccountTypeDebit, models.TypeDeposit, mock.Anything).Return(nil)
				repo.On("Create", mock.Anything, mock.AnythingOfType("*models.Transaction")).Return(nil)
				accounts.On("ApplyBalanceOperation", mock.Anything, "acc-1", operationWithSuffix(":credit")).Return(&models.BalanceOperationResult{
					AccountID:  "acc-1",
					Applied:    true,
					NewBalance: decimal.NewFromInt(150),
				}, nil)
				repo.On("Update", mock.Anything, mock.AnythingOfType("*models.Transaction")).Return(nil)
			},
		},
		{
			name: "unknown account is rejected before the ledger row exists",
			setupMocks: func(repo *MockTransactionRepository, accounts *MockAccountClient, limits *MockLimitChecker) {
				accounts.On("ValidateAccount", mock.Anything, "acc-1").Return(nil, apperrors.Newf(apperrors.KindAccountNotFound, "account acc-1 not found"))
			},
			expectedKind: apperrors.KindAccountNotFound,
		},
		{
			name: "limit violation is rejected before the ledger row exists",
			setupMocks: func(repo *MockTransactionRepository, accounts *MockAccountClient, limits *MockLimitChecker) {
				accounts.On("ValidateAccount", mock.Anything, "acc-1").Return(activeDebitAccount("acc-1", 50), nil)
				limits.On("Validate", mock.Anything, "acc-1", models.AccountTypeDebit, models.TypeDeposit, mock.Anything).
					Return(apperrors.LimitExceeded("DAILY_AMOUNT", "daily limit exceeded"))
			},
			expectedKind: apperrors.KindLimitExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockTransactionRepository{}
			accounts := &MockAccountClient{}
			limits := &MockLimitChecker{}
			tt.setupMocks(repo, accounts, limits)

			engine := newTestEngine(repo, accounts, limits)
			result, err := engine.ProcessDeposit(context.Background(), &DepositRequest{
				ToAccountID: "acc-1",
				Amount:      decimal.NewFromInt(100),
				Currency:    "USD",
				InitiatedBy: "user-1",
			})

			if tt.expectedKind != "" {
				require.Error(t, err)
				assert.True(t, apperrors.IsKind(err, tt.expectedKind), "expected kind %s, got %v", tt.expectedKind, err)
				repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			} else {
				require.NoError(t, err)
				require.NotNil(t, result)
				assert.Equal(t, models.StatusCompleted, result.Status)
				assert.Equal(t, models.ExternalAccount, result.FromAccountID)
				require.NotNil(t, result.ToBalanceBefore)
				assert.True(t, result.ToBalanceBefore.Equal(decimal.NewFromInt(50)))
				require.NotNil(t, result.ToBalanceAfter)
				assert.True(t, result.ToBalanceAfter.Equal(decimal.NewFromInt(150)))
			}

			repo.AssertExpectations(t)
			accounts.AssertExpectations(t)
			limits.AssertExpectations(t)
		})
	}
}

func TestTransactionEngine_ProcessWithdrawal(t *testing.T) {
	t.Run("successful withdrawal debits the source account", func(t *testing.T) {
		repo := &MockTransactionRepository{}
		accounts := &MockAccountClient{}
		limits := &MockLimitChecker{}

		accounts.On("ValidateAccount", mock.Anything, "acc-1").Return(activeDebitAccount("acc-1", 100), nil)
		limits.On("Validate", mock.Anything, "acc-1", models.AccountTypeDebit, models.TypeWithdrawal, mock.Anything).Return(nil)
		repo.On("Create", mock.Anything, mock.AnythingOfType("*models.Transaction")).Return(nil)
		accounts.On("ApplyBalanceOperation", mock.Anything, "acc-1", mock.MatchedBy(func(op *models.BalanceOperation) bool {
			return strings.HasSuffix(op.OperationID, ":debit") && op.Delta.Equal(decimal.NewFromInt(-40))
		})).Return(&models.BalanceOperationResult{
			AccountID:  "acc-1",
			Applied:    true,
			NewBalance: decimal.NewFromInt(60),
		}, nil)
		repo.On("Update", mock.Anything, mock.AnythingOfType("*models.Transaction")).Return(nil)

		engine := newTestEngine(repo, accounts, limits)
		result, err := engine.ProcessWithdrawal(context.Background(), &WithdrawalRequest{
			FromAccountID: "acc-1",
			Amount:        decimal.NewFromInt(40),
			Currency:      "USD",
			InitiatedBy:   "user-1",
		})

		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, result.Status)
		assert.Equal(t, models.ExternalAccount, result.ToAccountID)
		require.NotNil(t, result.FromBalanceAfter)
		assert.True(t, result.FromBalanceAfter.Equal(decimal.NewFromInt(60)))

		repo.AssertExpectations(t)
		accounts.AssertExpectations(t)
	})

	t.Run("insufficient funds rejects without persisting", func(t *testing.T) {
		repo := &MockTransactionRepository{}
		accounts := &MockAccountClient{}
		limits := &MockLimitChecker{}

		accounts.On("ValidateAccount", mock.Anything, "acc-1").Return(activeDebitAccount("acc-1", 50), nil)
		limits.On("Validate", mock.Anything, "acc-1", models.AccountTypeDebit, models.TypeWithdrawal, mock.Anything).Return(nil)

		engine := newTestEngine(repo, accounts, limits)
		_, err := engine.ProcessWithdrawal(context.Background(), &WithdrawalRequest{
			FromAccountID: "acc-1",
			Amount:        decimal.NewFromInt(100),
			Currency:      "USD",
			InitiatedBy:   "user-1",
		})

		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindInsufficientFunds))
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		accounts.AssertNotCalled(t, "ApplyBalanceOperation", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestTransactionEngine_ProcessTransfer(t *testing.T) {
	t.Run("successful transfer posts debit then credit", func(t *testing.T) {
		repo := &MockTransactionRepository{}
		accounts := &MockAccountClient{}
		limits := &MockLimitChecker{}

		accounts.On("ValidateAccount", mock.Anything, "src").Return(activeDebitAccount("src", 100), nil)
		accounts.On("ValidateAccount", mock.Anything, "dst").Return(activeDebitAccount("dst", 10), nil)
		limits.On("Validate", mock.Anything, "src", models.AccountTypeDebit, models.TypeTransfer, mock.Anything).Return(nil)
		repo.On("Create", mock.Anything, mock.AnythingOfType("*models.Transaction")).Return(nil)
		accounts.On("ApplyBalanceOperation", mock.Anything, "src", operationWithSuffix(":debit")).Return(&models.BalanceOperationResult{
			AccountID:  "src",
			Applied:    true,
			NewBalance: decimal.NewFromInt(70),
		}, nil)
		accounts.On("ApplyBalanceOperation", mock.Anything, "dst", operationWithSuffix(":credit")).Return(&models.BalanceOperationResult{
			AccountID:  "dst",
			Applied:    true,
			NewBalance: decimal.NewFromInt(40),
		}, nil)
		repo.On("Update", mock.Anything, mock.AnythingOfType("*models.Transaction")).Return(nil)

		engine := newTestEngine(repo, accounts, limits)
		result, err := engine.ProcessTransfer(context.Background(), &TransferRequest{
			FromAccountID: "src",
			ToAccountID:   "dst",
			Amount:        decimal.NewFromInt(30),
			Currency:      "USD",
			InitiatedBy:   "user-1",
		})

		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, result.Status)
		require.NotNil(t, result.FromBalanceAfter)
		assert.True(t, result.FromBalanceAfter.Equal(decimal.NewFromInt(70)))
		require.NotNil(t, result.ToBalanceAfter)
		assert.True(t, result.ToBalanceAfter.Equal(decimal.NewFromInt(40)))

		repo.AssertExpectations(t)
		accounts.AssertExpectations(t)
	})

	t.Run("failed credit leg triggers a compensating credit on the source", func(t *testing.T) {
		repo := &MockTransactionRepository{}
		accounts := &MockAccountClient{}
		limits := &MockLimitChecker{}

		var created *models.Transaction

		accounts.On("ValidateAccount", mock.Anything, "src").Return(activeDebitAccount("src", 100), nil)
		accounts.On("ValidateAccount", mock.Anything, "dst").Return(activeDebitAccount("dst", 10), nil)
		limits.On("Validate", mock.Anything, "src", models.AccountTypeDebit, models.TypeTransfer, mock.Anything).Return(nil)
		repo.On("Create", mock.Anything, mock.AnythingOfType("*models.Transaction")).Run(func(args mock.Arguments) {
			created = args.Get(1).(*models.Transaction)
		}).Return(nil)
		accounts.On("ApplyBalanceOperation", mock.Anything, "src", operationWithSuffix(":debit")).Return(&models.BalanceOperationResult{
			AccountID:  "src",
			Applied:    true,
			NewBalance: decimal.NewFromInt(70),
		}, nil)
		accounts.On("ApplyBalanceOperation", mock.Anything, "dst", operationWithSuffix(":credit")).
			Return(nil, apperrors.Unavailable("account service unavailable", 30*time.Second))
		accounts.On("ApplyBalanceOperation", mock.Anything, "src", mock.MatchedBy(func(op *models.BalanceOperation) bool {
			return strings.HasSuffix(op.OperationID, ":compensate") && op.Delta.Equal(decimal.NewFromInt(30))
		})).Return(&models.BalanceOperationResult{
			AccountID:  "src",
			Applied:    true,
			NewBalance: decimal.NewFromInt(100),
		}, nil)
		repo.On("Update", mock.Anything, mock.AnythingOfType("*models.Transaction")).Return(nil)

		engine := newTestEngine(repo, accounts, limits)
		_, err := engine.ProcessTransfer(context.Background(), &TransferRequest{
			FromAccountID: "src",
			ToAccountID:   "dst",
			Amount:        decimal.NewFromInt(30),
			Currency:      "USD",
			InitiatedBy:   "user-1",
		})

		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindUnavailable))
		require.NotNil(t, created)
		assert.Equal(t, models.StatusFailed, created.Status)
		assert.Equal(t, models.FailureServiceUnavailable, created.FailureReason)

		repo.AssertExpectations(t)
		accounts.AssertExpectations(t)
	})
}

func TestTransactionEngine_ReverseTransaction(t *testing.T) {
	completedWithdrawal := func() *models.Transaction {
		return &models.Transaction{
			TransactionID: "tx-original",
			FromAccountID: "acc-1",
			ToAccountID:   models.ExternalAccount,
			Amount:        decimal.NewFromInt(30),
			Currency:      "USD",
			Type:          models.TypeWithdrawal,
			Status:        models.StatusCompleted,
			CreatedAt:     time.Now().UTC().Add(-time.Hour),
			CreatedBy:     "user-1",
		}
	}

	t.Run("successful reversal credits the funds back", func(t *testing.T) {
		repo := &MockTransactionRepository{}
		accounts := &MockAccountClient{}
		limits := &MockLimitChecker{}

		repo.On("GetByTransactionID", mock.Anything, "tx-original").Return(completedWithdrawal(), nil)
		repo.On("MarkReversed", mock.Anything, "tx-original", mock.AnythingOfType("string"), "customer dispute", "admin-1", mock.AnythingOfType("time.Time")).Return(nil)
		accounts.On("ValidateAccount", mock.Anything, "acc-1").Return(activeDebitAccount("acc-1", 70), nil)
		repo.On("Create", mock.Anything, mock.AnythingOfType("*models.Transaction")).Return(nil)
		accounts.On("ApplyBalanceOperation", mock.Anything, "acc-1", operationWithSuffix(":credit")).Return(&models.BalanceOperationResult{
			AccountID:  "acc-1",
			Applied:    true,
			NewBalance: decimal.NewFromInt(100),
		}, nil)
		repo.On("Update", mock.Anything, mock.AnythingOfType("*models.Transaction")).Return(nil)

		engine := newTestEngine(repo, accounts, limits)
		reversal, err := engine.ReverseTransaction(context.Background(), &ReversalRequest{
			TransactionID: "tx-original",
			Reason:        "customer dispute",
			RequestedBy:   "admin-1",
		})

		require.NoError(t, err)
		assert.Equal(t, models.TypeReversal, reversal.Type)
		assert.Equal(t, models.StatusCompleted, reversal.Status)
		assert.Equal(t, "tx-original", reversal.OriginalTransactionID)
		assert.Equal(t, "acc-1", reversal.ToAccountID)

		// Limits never apply to reversals.
		limits.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		repo.AssertExpectations(t)
		accounts.AssertExpectations(t)
	})

	t.Run("already reversed transaction is refused", func(t *testing.T) {
		repo := &MockTransactionRepository{}
		accounts := &MockAccountClient{}
		limits := &MockLimitChecker{}

		original := completedWithdrawal()
		original.IsReversed = true
		repo.On("GetByTransactionID", mock.Anything, "tx-original").Return(original, nil)

		engine := newTestEngine(repo, accounts, limits)
		_, err := engine.ReverseTransaction(context.Background(), &ReversalRequest{
			TransactionID: "tx-original",
			Reason:        "dup",
			RequestedBy:   "admin-1",
		})

		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindAlreadyReversed))
		repo.AssertNotCalled(t, "MarkReversed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("a reversal cannot itself be reversed", func(t *testing.T) {
		repo := &MockTransactionRepository{}
		accounts := &MockAccountClient{}
		limits := &MockLimitChecker{}

		original := completedWithdrawal()
		original.Type = models.TypeReversal
		repo.On("GetByTransactionID", mock.Anything, "tx-original").Return(original, nil)

		engine := newTestEngine(repo, accounts, limits)
		_, err := engine.ReverseTransaction(context.Background(), &ReversalRequest{
			TransactionID: "tx-original",
			Reason:        "nope",
			RequestedBy:   "admin-1",
		})

		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	})

	t.Run("transaction outside the reversal window is refused", func(t *testing.T) {
		repo := &MockTransactionRepository{}
		accounts := &MockAccountClient{}
		limits := &MockLimitChecker{}

		original := completedWithdrawal()
		original.CreatedAt = time.Now().UTC().Add(-40 * 24 * time.Hour)
		repo.On("GetByTransactionID", mock.Anything, "tx-original").Return(original, nil)

		engine := newTestEngine(repo, accounts, limits)
		_, err := engine.ReverseTransaction(context.Background(), &ReversalRequest{
			TransactionID: "tx-original",
			Reason:        "too late",
			RequestedBy:   "admin-1",
		})

		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	})

	t.Run("claim is released when the compensating row fails", func(t *testing.T) {
		repo := &MockTransactionRepository{}
		accounts := &MockAccountClient{}
		limits := &MockLimitChecker{}

		repo.On("GetByTransactionID", mock.Anything, "tx-original").Return(completedWithdrawal(), nil)
		repo.On("MarkReversed", mock.Anything, "tx-original", mock.AnythingOfType("string"), "dispute", "admin-1", mock.AnythingOfType("time.Time")).Return(nil)
		accounts.On("ValidateAccount", mock.Anything, "acc-1").
			Return(nil, apperrors.Unavailable("account service unavailable", 30*time.Second))
		repo.On("UnmarkReversed", mock.Anything, "tx-original", mock.AnythingOfType("string")).Return(nil)

		engine := newTestEngine(repo, accounts, limits)
		_, err := engine.ReverseTransaction(context.Background(), &ReversalRequest{
			TransactionID: "tx-original",
			Reason:        "dispute",
			RequestedBy:   "admin-1",
		})

		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindUnavailable))
		repo.AssertCalled(t, "UnmarkReversed", mock.Anything, "tx-original", mock.AnythingOfType("string"))
	})
}

func TestTransactionEngine_SweepStaleProcessing(t *testing.T) {
	repo := &MockTransactionRepository{}
	accounts := &MockAccountClient{}
	limits := &MockLimitChecker{}

	stale1 := &models.Transaction{
		TransactionID: "tx-stale-1",
		Type:          models.TypeTransfer,
		Status:        models.StatusProcessing,
		CreatedAt:     time.Now().UTC().Add(-time.Hour),
	}
	stale2 := &models.Transaction{
		TransactionID: "tx-stale-2",
		Type:          models.TypeDeposit,
		Status:        models.StatusProcessing,
		CreatedAt:     time.Now().UTC().Add(-2 * time.Hour),
	}

	repo.On("FindStaleProcessing", mock.Anything, mock.AnythingOfType("time.Time"), 100).
		Return([]*models.Transaction{stale1, stale2}, nil)
	repo.On("Update", mock.Anything, stale1).Return(nil)
	repo.On("Update", mock.Anything, stale2).Return(apperrors.Newf(apperrors.KindConflict, "transaction tx-stale-2 is no longer updatable"))

	engine := newTestEngine(repo, accounts, limits)
	swept, err := engine.SweepStaleProcessing(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.Equal(t, models.StatusFailed, stale1.Status)
	assert.Equal(t, models.FailureStuck, stale1.FailureReason)
	repo.AssertExpectations(t)
}
