package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"transaction-api/internal/apperrors"
	"transaction-api/internal/models"
	"transaction-api/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockTransactionService struct {
	mock.Mock
}

func (m *MockTransactionService) Deposit(ctx context.Context, req *service.DepositRequest) (*models.TransactionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransactionResponse), args.Error(1)
}

func (m *MockTransactionService) Withdraw(ctx context.Context, req *service.WithdrawalRequest) (*models.TransactionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransactionResponse), args.Error(1)
}

func (m *MockTransactionService) Transfer(ctx context.Context, req *service.TransferRequest) (*models.TransactionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransactionResponse), args.Error(1)
}

func (m *MockTransactionService) Reverse(ctx context.Context, req *service.ReversalRequest) (*models.TransactionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransactionResponse), args.Error(1)
}

func (m *MockTransactionService) GetTransaction(ctx context.Context, transactionID string) (*models.TransactionResponse, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransactionResponse), args.Error(1)
}

func (m *MockTransactionService) GetAccountTransactions(ctx context.Context, accountID string, page models.Page) (*models.PageResponse, error) {
	args := m.Called(ctx, accountID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PageResponse), args.Error(1)
}

func (m *MockTransactionService) GetUserTransactions(ctx context.Context, userID string, page models.Page) (*models.PageResponse, error) {
	args := m.Called(ctx, userID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PageResponse), args.Error(1)
}

func (m *MockTransactionService) Search(ctx context.Context, filter *models.SearchFilter, page models.Page) (*models.PageResponse, error) {
	args := m.Called(ctx, filter, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PageResponse), args.Error(1)
}

func (m *MockTransactionService) GetAccountStats(ctx context.Context, accountID string, from, to time.Time) (*models.StatsResponse, error) {
	args := m.Called(ctx, accountID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StatsResponse), args.Error(1)
}

func (m *MockTransactionService) GetUserStats(ctx context.Context, userID string, from, to time.Time) (*models.StatsResponse, error) {
	args := m.Called(ctx, userID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StatsResponse), args.Error(1)
}

func (m *MockTransactionService) GetReversals(ctx context.Context, transactionID string) ([]*models.TransactionResponse, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.TransactionResponse), args.Error(1)
}

func (m *MockTransactionService) IsReversed(ctx context.Context, transactionID string) (bool, error) {
	args := m.Called(ctx, transactionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransactionService) GetLimitStatus(ctx context.Context, accountID, accountType string, txType models.TransactionType) (*models.LimitStatusResponse, error) {
	args := m.Called(ctx, accountID, accountType, txType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LimitStatusResponse), args.Error(1)
}

// newTransactionRouter mirrors the route layout of the real server without
// the auth stack, which has its own tests.
func newTransactionRouter(svc service.TransactionService) *gin.Engine {
	ctrl := NewTransactionController(svc)

	router := gin.New()
	router.Use(requestid.New())

	transactions := router.Group("/api/transactions")
	transactions.POST("/deposit", ctrl.Deposit)
	transactions.POST("/withdraw", ctrl.Withdraw)
	transactions.POST("/transfer", ctrl.Transfer)
	transactions.POST("/:id/reverse", ctrl.Reverse)
	transactions.GET("/search", ctrl.Search)
	transactions.GET("/limits", ctrl.GetLimits)
	transactions.GET("/account/:accountId", ctrl.GetAccountTransactions)
	transactions.GET("/:id", ctrl.GetTransaction)
	transactions.GET("/:id/reversed", ctrl.IsReversed)
	return router
}

func performJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRespondError_StatusByKind(t *testing.T) {
	cases := []struct {
		kind   apperrors.Kind
		status int
	}{
		{apperrors.KindValidation, http.StatusBadRequest},
		{apperrors.KindInsufficientFunds, http.StatusBadRequest},
		{apperrors.KindLimitExceeded, http.StatusBadRequest},
		{apperrors.KindAccountNotFound, http.StatusNotFound},
		{apperrors.KindNotFound, http.StatusNotFound},
		{apperrors.KindAlreadyReversed, http.StatusConflict},
		{apperrors.KindConflict, http.StatusConflict},
		{apperrors.KindUnauthorized, http.StatusUnauthorized},
		{apperrors.KindForbidden, http.StatusForbidden},
		{apperrors.KindUnavailable, http.StatusServiceUnavailable},
		{apperrors.KindInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			respondError(c, apperrors.New(tc.kind, "boom"))

			assert.Equal(t, tc.status, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, string(tc.kind), body.Error)
			assert.NotEmpty(t, body.Timestamp)
		})
	}
}

func TestRespondError_UnavailableSetsRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	respondError(c, apperrors.Unavailable("account service unreachable", 20*time.Second))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "20", w.Header().Get("Retry-After"))
	body := decodeError(t, w)
	assert.Equal(t, "SERVICE_UNAVAILABLE", body.Error)
	assert.Equal(t, "account service unreachable", body.Message)
}

func TestRespondError_UnavailableDefaultsRetryHint(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	respondError(c, apperrors.New(apperrors.KindUnavailable, "dependency down"))

	assert.Equal(t, "30", w.Header().Get("Retry-After"))
}

func TestRespondError_ScrubsUnexpectedErrors(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	respondError(c, errors.New("pq: connection refused for user ledger"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "INTERNAL_ERROR", body.Error)
	assert.Equal(t, "an unexpected error occurred", body.Message)
	assert.Empty(t, body.Detail)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestRespondError_ScrubsClassifiedInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	respondError(c, &apperrors.Error{
		Kind:    apperrors.KindInternal,
		Message: "update failed on transactions collection",
		Detail:  "mongodb://ledger:secret@db:27017",
	})

	body := decodeError(t, w)
	assert.Equal(t, "an unexpected error occurred", body.Message)
	assert.Empty(t, body.Detail)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestRespondError_KeepsLimitDimension(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	respondError(c, apperrors.LimitExceeded("DAILY_AMOUNT", "daily amount limit exceeded"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "LIMIT_EXCEEDED", body.Error)
	assert.Equal(t, "DAILY_AMOUNT", body.Detail)
}

func TestErrorResponsesCarryRequestID(t *testing.T) {
	svc := new(MockTransactionService)
	svc.On("GetTransaction", mock.Anything, "tx-missing").
		Return(nil, apperrors.New(apperrors.KindNotFound, "transaction not found"))

	router := newTransactionRouter(svc)
	req := httptest.NewRequest(http.MethodGet, "/api/transactions/tx-missing", nil)
	req.Header.Set("X-Request-ID", "req-test-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "req-test-1", w.Header().Get("X-Request-ID"))
	body := decodeError(t, w)
	assert.Equal(t, "req-test-1", body.RequestID)
}

func TestDeposit_ReturnsTransaction(t *testing.T) {
	svc := new(MockTransactionService)
	svc.On("Deposit", mock.Anything, mock.MatchedBy(func(r *service.DepositRequest) bool {
		return r.AccountID == "acc-1" &&
			r.Amount.Equal(decimal.NewFromInt(100)) &&
			r.Currency == "USD" &&
			r.CorrelationID != ""
	})).Return(&models.TransactionResponse{
		TransactionID: "tx-1",
		ToAccountID:   "acc-1",
		Amount:        "100.00",
		Status:        "COMPLETED",
	}, nil)

	router := newTransactionRouter(svc)
	w := performJSON(router, http.MethodPost, "/api/transactions/deposit",
		`{"accountId":"acc-1","amount":100,"currency":"USD"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var body models.TransactionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "tx-1", body.TransactionID)
	assert.Equal(t, "100.00", body.Amount)
	assert.Equal(t, "COMPLETED", body.Status)
	svc.AssertExpectations(t)
}

func TestDeposit_AcceptsStringAmount(t *testing.T) {
	svc := new(MockTransactionService)
	svc.On("Deposit", mock.Anything, mock.MatchedBy(func(r *service.DepositRequest) bool {
		return r.Amount.Equal(decimal.RequireFromString("25.75"))
	})).Return(&models.TransactionResponse{TransactionID: "tx-2", Amount: "25.75"}, nil)

	router := newTransactionRouter(svc)
	w := performJSON(router, http.MethodPost, "/api/transactions/deposit",
		`{"accountId":"acc-1","amount":"25.75"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestDeposit_MalformedBody(t *testing.T) {
	svc := new(MockTransactionService)
	router := newTransactionRouter(svc)

	w := performJSON(router, http.MethodPost, "/api/transactions/deposit", `{"accountId":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "VALIDATION_ERROR", body.Error)
	assert.Equal(t, "invalid request format", body.Message)
	assert.NotEmpty(t, body.Detail)
	svc.AssertNotCalled(t, "Deposit", mock.Anything, mock.Anything)
}

func TestDeposit_MissingAccountIDReportsJSONFieldName(t *testing.T) {
	svc := new(MockTransactionService)
	router := newTransactionRouter(svc)

	w := performJSON(router, http.MethodPost, "/api/transactions/deposit", `{"amount":50}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "invalid request", body.Message)
	require.Len(t, body.Fields, 1)
	assert.Equal(t, "accountId", body.Fields[0].Field)
	assert.Equal(t, "is required", body.Fields[0].Message)
	svc.AssertNotCalled(t, "Deposit", mock.Anything, mock.Anything)
}

func TestReverse_MapsConflict(t *testing.T) {
	svc := new(MockTransactionService)
	svc.On("Reverse", mock.Anything, mock.MatchedBy(func(r *service.ReversalRequest) bool {
		return r.TransactionID == "tx-9" && r.Reason == "duplicate charge"
	})).Return(nil, apperrors.New(apperrors.KindAlreadyReversed, "transaction already reversed"))

	router := newTransactionRouter(svc)
	w := performJSON(router, http.MethodPost, "/api/transactions/tx-9/reverse",
		`{"reason":"duplicate charge"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_REVERSED", decodeError(t, w).Error)
	svc.AssertExpectations(t)
}

func TestSearch_BuildsFilterFromQuery(t *testing.T) {
	svc := new(MockTransactionService)
	var gotFilter *models.SearchFilter
	var gotPage models.Page
	svc.On("Search", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			gotFilter = args.Get(1).(*models.SearchFilter)
			gotPage = args.Get(2).(models.Page)
		}).
		Return(&models.PageResponse{Content: []*models.TransactionResponse{}}, nil)

	router := newTransactionRouter(svc)
	w := performJSON(router, http.MethodGet,
		"/api/transactions/search?accountId=acc-1&type=deposit&status=completed&currency=usd&minAmount=10.5&q=rent&startDate=2025-06-01&page=2&size=50&sort=createdAt,asc", "")

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, gotFilter)
	assert.Equal(t, "acc-1", gotFilter.AccountID)
	assert.Equal(t, models.TypeDeposit, gotFilter.Type)
	assert.Equal(t, models.StatusCompleted, gotFilter.Status)
	assert.Equal(t, "USD", gotFilter.Currency)
	assert.Equal(t, "rent", gotFilter.Text)
	require.NotNil(t, gotFilter.MinAmount)
	assert.True(t, gotFilter.MinAmount.Equal(decimal.RequireFromString("10.5")))
	require.NotNil(t, gotFilter.From)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), *gotFilter.From)
	assert.Nil(t, gotFilter.To)

	assert.Equal(t, models.Page{Number: 2, Size: 50, Asc: true}, gotPage)
}

func TestSearch_RejectsBadAmountFilter(t *testing.T) {
	svc := new(MockTransactionService)
	router := newTransactionRouter(svc)

	w := performJSON(router, http.MethodGet, "/api/transactions/search?minAmount=abc", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	require.Len(t, body.Fields, 1)
	assert.Equal(t, "minAmount", body.Fields[0].Field)
	svc.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetLimits_DefaultsAccountTypeAndTransactionType(t *testing.T) {
	svc := new(MockTransactionService)
	svc.On("GetLimitStatus", mock.Anything, "acc-1", "DEBIT", models.TypeWithdrawal).
		Return(&models.LimitStatusResponse{AccountID: "acc-1"}, nil)

	router := newTransactionRouter(svc)
	w := performJSON(router, http.MethodGet, "/api/transactions/limits?accountId=acc-1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestGetLimits_UppercasesQueryValues(t *testing.T) {
	svc := new(MockTransactionService)
	svc.On("GetLimitStatus", mock.Anything, "acc-1", "CREDIT", models.TypeTransfer).
		Return(&models.LimitStatusResponse{AccountID: "acc-1"}, nil)

	router := newTransactionRouter(svc)
	w := performJSON(router, http.MethodGet,
		"/api/transactions/limits?accountId=acc-1&accountType=credit&type=transfer", "")

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestGetAccountTransactions_NormalizesPaging(t *testing.T) {
	svc := new(MockTransactionService)
	svc.On("GetAccountTransactions", mock.Anything, "acc-1", models.Page{Number: 0, Size: 20}).
		Return(&models.PageResponse{Content: []*models.TransactionResponse{}, Size: 20}, nil)

	router := newTransactionRouter(svc)
	w := performJSON(router, http.MethodGet, "/api/transactions/account/acc-1?page=-3&size=0", "")

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestIsReversed_WrapsAnswer(t *testing.T) {
	svc := new(MockTransactionService)
	svc.On("IsReversed", mock.Anything, "tx-1").Return(true, nil)

	router := newTransactionRouter(svc)
	w := performJSON(router, http.MethodGet, "/api/transactions/tx-1/reversed", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body ReversedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "tx-1", body.TransactionID)
	assert.True(t, body.IsReversed)
}

func TestQueryTime(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"rfc3339", "2025-06-01T15:04:05Z", time.Date(2025, 6, 1, 15, 4, 5, 0, time.UTC)},
		{"date only", "2025-06-01", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"unparseable", "yesterday", time.Time{}},
		{"absent", "", time.Time{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/?at="+tc.raw, nil)

			assert.Equal(t, tc.want, queryTime(c, "at"))
		})
	}
}
