package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"transaction-api/internal/apperrors"
	"transaction-api/internal/config"
	"transaction-api/internal/engine"
	"transaction-api/internal/models"
)

type MockTransactionEngine struct {
	mock.Mock
}

func (m *MockTransactionEngine) ProcessDeposit(ctx context.Context, req *engine.DepositRequest) (*models.Transaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionEngine) ProcessWithdrawal(ctx context.Context, req *engine.WithdrawalRequest) (*models.Transaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionEngine) ProcessTransfer(ctx context.Context, req *engine.TransferRequest) (*models.Transaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionEngine) ReverseTransaction(ctx context.Context, req *engine.ReversalRequest) (*models.Transaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionEngine) SweepStaleProcessing(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

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
	callArgs := []interface{}{ctx, cutoff}
	for _, status := range statuses {
		callArgs = append(callArgs, status)
	}
	args := m.Called(callArgs...)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTransactionRepository) CreateIndexes(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockLimitService struct {
	mock.Mock
}

func (m *MockLimitService) Validate(ctx context.Context, accountID, accountType string, txType models.TransactionType, amount decimal.Decimal) error {
	args := m.Called(ctx, accountID, accountType, txType, amount)
	return args.Error(0)
}

func (m *MockLimitService) RemainingDaily(ctx context.Context, accountID, accountType string, txType models.TransactionType) (*LimitHeadroom, error) {
	args := m.Called(ctx, accountID, accountType, txType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*LimitHeadroom), args.Error(1)
}

func (m *MockLimitService) RemainingMonthly(ctx context.Context, accountID, accountType string, txType models.TransactionType) (*LimitHeadroom, error) {
	args := m.Called(ctx, accountID, accountType, txType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*LimitHeadroom), args.Error(1)
}

func (m *MockLimitService) Status(ctx context.Context, accountID, accountType string, txType models.TransactionType) (*models.LimitStatusResponse, error) {
	args := m.Called(ctx, accountID, accountType, txType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LimitStatusResponse), args.Error(1)
}

func testConfig() *config.Config {
	return &config.Config{
		Limits: config.LimitsConfig{
			MinTransactionAmount: 0.01,
			MaxTransactionAmount: 1000000,
			MaxDescriptionLength: 255,
			MaxReferenceLength:   100,
		},
		Currency: config.CurrencyConfig{
			Allowed: []string{"USD", "EUR"},
		},
	}
}

func newTestService(txEngine *MockTransactionEngine, repo *MockTransactionRepository, limits *MockLimitService) *transactionService {
	return &transactionService{
		engine:          txEngine,
		transactionRepo: repo,
		limits:          limits,
		cfg:             testConfig(),
		now:             time.Now,
	}
}

func fieldNames(t *testing.T, err error) []string {
	t.Helper()
	appErr := apperrors.AsError(err)
	names := make([]string, 0, len(appErr.Fields))
	for _, f := range appErr.Fields {
		names = append(names, f.Field)
	}
	return names
}

func completedDeposit(accountID string, amount int64) *models.Transaction {
	tx := models.NewTransaction(models.TypeDeposit, models.ExternalAccount, accountID, decimal.NewFromInt(amount), "USD", "", "", "user-1")
	tx.MarkCompleted("user-1")
	return tx
}

func TestTransactionService_Deposit_Validation(t *testing.T) {
	tests := []struct {
		name          string
		request       *DepositRequest
		expectedField string
	}{
		{
			name: "missing account id",
			request: &DepositRequest{
				Amount:   decimal.NewFromInt(100),
				Currency: "USD",
			},
			expectedField: "accountId",
		},
		{
			name: "amount below minimum",
			request: &DepositRequest{
				AccountID: "acc-1",
				Amount:    decimal.Zero,
				Currency:  "USD",
			},
			expectedField: "amount",
		},
		{
			name: "amount above maximum",
			request: &DepositRequest{
				AccountID: "acc-1",
				Amount:    decimal.NewFromInt(2000000),
				Currency:  "USD",
			},
			expectedField: "amount",
		},
		{
			name: "amount with sub-cent precision",
			request: &DepositRequest{
				AccountID: "acc-1",
				Amount:    decimal.RequireFromString("10.005"),
				Currency:  "USD",
			},
			expectedField: "amount",
		},
		{
			name: "unsupported currency",
			request: &DepositRequest{
				AccountID: "acc-1",
				Amount:    decimal.NewFromInt(100),
				Currency:  "GBP",
			},
			expectedField: "currency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txEngine := &MockTransactionEngine{}
			svc := newTestService(txEngine, &MockTransactionRepository{}, &MockLimitService{})

			_, err := svc.Deposit(context.Background(), tt.request)

			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
			assert.Contains(t, fieldNames(t, err), tt.expectedField)
			txEngine.AssertNotCalled(t, "ProcessDeposit", mock.Anything, mock.Anything)
		})
	}
}

func TestTransactionService_Deposit_DefaultsCurrency(t *testing.T) {
	txEngine := &MockTransactionEngine{}
	svc := newTestService(txEngine, &MockTransactionRepository{}, &MockLimitService{})

	txEngine.On("ProcessDeposit", mock.Anything, mock.MatchedBy(func(req *engine.DepositRequest) bool {
		return req.ToAccountID == "acc-1" && req.Currency == "USD"
	})).Return(completedDeposit("acc-1", 100), nil)

	resp, err := svc.Deposit(context.Background(), &DepositRequest{
		AccountID:   "  acc-1  ",
		Amount:      decimal.NewFromInt(100),
		InitiatedBy: "user-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Equal(t, "100.00", resp.Amount)
	txEngine.AssertExpectations(t)
}

func TestTransactionService_Transfer_Validation(t *testing.T) {
	t.Run("missing destination", func(t *testing.T) {
		txEngine := &MockTransactionEngine{}
		svc := newTestService(txEngine, &MockTransactionRepository{}, &MockLimitService{})

		_, err := svc.Transfer(context.Background(), &TransferRequest{
			FromAccountID: "acc-1",
			Amount:        decimal.NewFromInt(50),
			Currency:      "USD",
		})

		require.Error(t, err)
		assert.Contains(t, fieldNames(t, err), "toAccountId")
		txEngine.AssertNotCalled(t, "ProcessTransfer", mock.Anything, mock.Anything)
	})

	t.Run("source equals destination", func(t *testing.T) {
		txEngine := &MockTransactionEngine{}
		svc := newTestService(txEngine, &MockTransactionRepository{}, &MockLimitService{})

		_, err := svc.Transfer(context.Background(), &TransferRequest{
			FromAccountID: "acc-1",
			ToAccountID:   " acc-1 ",
			Amount:        decimal.NewFromInt(50),
			Currency:      "USD",
		})

		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
		assert.Contains(t, fieldNames(t, err), "toAccountId")
	})
}

func TestTransactionService_Reverse_Validation(t *testing.T) {
	longReason := make([]byte, 300)
	for i := range longReason {
		longReason[i] = 'x'
	}

	tests := []struct {
		name          string
		request       *ReversalRequest
		expectedField string
	}{
		{
			name:          "missing transaction id",
			request:       &ReversalRequest{Reason: "dispute"},
			expectedField: "transactionId",
		},
		{
			name:          "blank reason",
			request:       &ReversalRequest{TransactionID: "tx-1", Reason: "   "},
			expectedField: "reason",
		},
		{
			name:          "reason too long",
			request:       &ReversalRequest{TransactionID: "tx-1", Reason: string(longReason)},
			expectedField: "reason",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txEngine := &MockTransactionEngine{}
			svc := newTestService(txEngine, &MockTransactionRepository{}, &MockLimitService{})

			_, err := svc.Reverse(context.Background(), tt.request)

			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
			assert.Contains(t, fieldNames(t, err), tt.expectedField)
			txEngine.AssertNotCalled(t, "ReverseTransaction", mock.Anything, mock.Anything)
		})
	}
}

func TestTransactionService_Search(t *testing.T) {
	t.Run("min amount above max amount is rejected", func(t *testing.T) {
		svc := newTestService(&MockTransactionEngine{}, &MockTransactionRepository{}, &MockLimitService{})

		min := decimal.NewFromInt(100)
		max := decimal.NewFromInt(10)
		_, err := svc.Search(context.Background(), &models.SearchFilter{MinAmount: &min, MaxAmount: &max}, models.NormalizedPage(0, 20))

		require.Error(t, err)
		assert.Contains(t, fieldNames(t, err), "minAmount")
	})

	t.Run("inverted period is rejected", func(t *testing.T) {
		svc := newTestService(&MockTransactionEngine{}, &MockTransactionRepository{}, &MockLimitService{})

		from := time.Now()
		to := from.Add(-time.Hour)
		_, err := svc.Search(context.Background(), &models.SearchFilter{From: &from, To: &to}, models.NormalizedPage(0, 20))

		require.Error(t, err)
		assert.Contains(t, fieldNames(t, err), "startDate")
	})

	t.Run("nil filter searches everything", func(t *testing.T) {
		repo := &MockTransactionRepository{}
		svc := newTestService(&MockTransactionEngine{}, repo, &MockLimitService{})

		page := models.NormalizedPage(0, 20)
		repo.On("Search", mock.Anything, mock.AnythingOfType("*models.SearchFilter"), page).Return(&models.PagedTransactions{
			Items: []*models.Transaction{completedDeposit("acc-1", 10)},
			Total: 1,
			Page:  page,
		}, nil)

		resp, err := svc.Search(context.Background(), nil, page)

		require.NoError(t, err)
		assert.Equal(t, int64(1), resp.TotalElements)
		assert.Equal(t, int64(1), resp.TotalPages)
		repo.AssertExpectations(t)
	})
}

func TestTransactionService_GetAccountStats_DefaultWindow(t *testing.T) {
	repo := &MockTransactionRepository{}
	svc := newTestService(&MockTransactionEngine{}, repo, &MockLimitService{})

	fixed := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	var gotFrom, gotTo time.Time
	repo.On("GetAccountStats", mock.Anything, "acc-1", mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) {
			gotFrom = args.Get(2).(time.Time)
			gotTo = args.Get(3).(time.Time)
		}).
		Return(&models.TransactionStats{}, nil)

	resp, err := svc.GetAccountStats(context.Background(), "acc-1", time.Time{}, time.Time{})

	require.NoError(t, err)
	assert.Equal(t, fixed, gotTo)
	assert.Equal(t, fixed.AddDate(0, 0, -30), gotFrom)
	assert.Equal(t, "acc-1", resp.Subject)
	assert.Equal(t, "0.00", resp.TotalAmount)
}

func TestTransactionService_GetAccountStats_InvalidWindow(t *testing.T) {
	svc := newTestService(&MockTransactionEngine{}, &MockTransactionRepository{}, &MockLimitService{})

	from := time.Now()
	to := from.Add(-24 * time.Hour)
	_, err := svc.GetAccountStats(context.Background(), "acc-1", from, to)

	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestTransactionService_GetUserTransactions_RequiresIdentity(t *testing.T) {
	svc := newTestService(&MockTransactionEngine{}, &MockTransactionRepository{}, &MockLimitService{})

	_, err := svc.GetUserTransactions(context.Background(), "  ", models.NormalizedPage(0, 20))

	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnauthorized))
}

func TestTransactionService_GetLimitStatus(t *testing.T) {
	t.Run("rejects unknown transaction type", func(t *testing.T) {
		limits := &MockLimitService{}
		svc := newTestService(&MockTransactionEngine{}, &MockTransactionRepository{}, limits)

		_, err := svc.GetLimitStatus(context.Background(), "acc-1", "DEBIT", models.TransactionType("REFUND"))

		require.Error(t, err)
		assert.Contains(t, fieldNames(t, err), "type")
		limits.AssertNotCalled(t, "Status", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("normalizes the account type", func(t *testing.T) {
		limits := &MockLimitService{}
		svc := newTestService(&MockTransactionEngine{}, &MockTransactionRepository{}, limits)

		limits.On("Status", mock.Anything, "acc-1", "DEBIT", models.TypeWithdrawal).Return(&models.LimitStatusResponse{
			AccountID: "acc-1",
		}, nil)

		resp, err := svc.GetLimitStatus(context.Background(), "acc-1", " debit ", models.TypeWithdrawal)

		require.NoError(t, err)
		assert.Equal(t, "acc-1", resp.AccountID)
		limits.AssertExpectations(t)
	})
}
