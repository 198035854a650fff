package controller

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"transaction-api/internal/apperrors"
	"transaction-api/internal/middleware"
	"transaction-api/internal/models"
	"transaction-api/internal/service"
)

// TransactionController exposes the money-movement and ledger read
// endpoints. All request validation beyond body shape lives in the
// service layer so error payloads stay uniform.
type TransactionController struct {
	transactionService service.TransactionService
}

func NewTransactionController(transactionService service.TransactionService) *TransactionController {
	return &TransactionController{transactionService: transactionService}
}

// MovementRequest is the body for deposits and withdrawals. Amounts are
// accepted as JSON numbers or fixed-point strings.
type MovementRequest struct {
	AccountID   string          `json:"accountId" binding:"required"`
	Amount      decimal.Decimal `json:"amount" swaggertype:"number"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
}

// TransferRequest is the body for transfers between two accounts.
type TransferRequest struct {
	FromAccountID string          `json:"fromAccountId" binding:"required"`
	ToAccountID   string          `json:"toAccountId" binding:"required"`
	Amount        decimal.Decimal `json:"amount" swaggertype:"number"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
	Reference     string          `json:"reference"`
}

// ReversalRequest is the body for reversing a completed transaction.
type ReversalRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ReversedResponse answers the reversal status probe.
type ReversedResponse struct {
	TransactionID string `json:"transactionId"`
	IsReversed    bool   `json:"isReversed"`
}

// @Summary Deposit funds
// @Description Credits an account and records the ledger entry
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body MovementRequest true "Deposit request"
// @Success 200 {object} models.TransactionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions/deposit [post]
func (c *TransactionController) Deposit(ctx *gin.Context) {
	var req MovementRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		bindError(ctx, err)
		return
	}

	response, err := c.transactionService.Deposit(ctx.Request.Context(), &service.DepositRequest{
		AccountID:     req.AccountID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   req.Description,
		Reference:     req.Reference,
		InitiatedBy:   middleware.PrincipalFrom(ctx).UserID,
		CorrelationID: requestid.Get(ctx),
	})
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// @Summary Withdraw funds
// @Description Debits an account after funds and limit checks
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body MovementRequest true "Withdrawal request"
// @Success 200 {object} models.TransactionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions/withdraw [post]
func (c *TransactionController) Withdraw(ctx *gin.Context) {
	var req MovementRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		bindError(ctx, err)
		return
	}

	response, err := c.transactionService.Withdraw(ctx.Request.Context(), &service.WithdrawalRequest{
		AccountID:     req.AccountID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   req.Description,
		Reference:     req.Reference,
		InitiatedBy:   middleware.PrincipalFrom(ctx).UserID,
		CorrelationID: requestid.Get(ctx),
	})
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// @Summary Transfer funds
// @Description Moves funds between two accounts with compensation on partial failure
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body TransferRequest true "Transfer request"
// @Success 200 {object} models.TransactionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions/transfer [post]
func (c *TransactionController) Transfer(ctx *gin.Context) {
	var req TransferRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		bindError(ctx, err)
		return
	}

	response, err := c.transactionService.Transfer(ctx.Request.Context(), &service.TransferRequest{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   req.Description,
		Reference:     req.Reference,
		InitiatedBy:   middleware.PrincipalFrom(ctx).UserID,
		CorrelationID: requestid.Get(ctx),
	})
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// @Summary Reverse a transaction
// @Description Creates a compensating reversal for a completed transaction
// @Tags transactions
// @Accept json
// @Produce json
// @Param id path string true "Transaction ID"
// @Param request body ReversalRequest true "Reversal request"
// @Success 200 {object} models.TransactionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions/{id}/reverse [post]
func (c *TransactionController) Reverse(ctx *gin.Context) {
	var req ReversalRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		bindError(ctx, err)
		return
	}

	response, err := c.transactionService.Reverse(ctx.Request.Context(), &service.ReversalRequest{
		TransactionID: ctx.Param("id"),
		Reason:        req.Reason,
		RequestedBy:   middleware.PrincipalFrom(ctx).UserID,
		CorrelationID: requestid.Get(ctx),
	})
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// @Summary Get a transaction
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} models.TransactionResponse
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions/{id} [get]
func (c *TransactionController) GetTransaction(ctx *gin.Context) {
	response, err := c.transactionService.GetTransaction(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// @Summary List own transactions
// @Description Pages through the transactions created by the caller
// @Tags transactions
// @Produce json
// @Param page query int false "Page number (zero-based)"
// @Param size query int false "Page size"
// @Success 200 {object} models.PageResponse
// @Failure 401 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions [get]
func (c *TransactionController) GetMyTransactions(ctx *gin.Context) {
	userID := middleware.PrincipalFrom(ctx).UserID
	response, err := c.transactionService.GetUserTransactions(ctx.Request.Context(), userID, pageFromQuery(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// @Summary List transactions for an account
// @Tags transactions
// @Produce json
// @Param accountId path string true "Account ID"
// @Param page query int false "Page number (zero-based)"
// @Param size query int false "Page size"
// @Param sort query string false "Sort direction, e.g. createdAt,desc"
// @Success 200 {object} models.PageResponse
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions/account/{accountId} [get]
func (c *TransactionController) GetAccountTransactions(ctx *gin.Context) {
	response, err := c.transactionService.GetAccountTransactions(ctx.Request.Context(), ctx.Param("accountId"), pageFromQuery(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// @Summary List transactions for a user
// @Description Administrative view over another user's transactions
// @Tags transactions
// @Produce json
// @Param userId path string true "User ID"
// @Param page query int false "Page number (zero-based)"
// @Param size query int false "Page size"
// @Success 200 {object} models.PageResponse
// @Failure 403 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions/user/{userId} [get]
func (c *TransactionController) GetUserTransactions(ctx *gin.Context) {
	response, err := c.transactionService.GetUserTransactions(ctx.Request.Context(), ctx.Param("userId"), pageFromQuery(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// @Summary Search transactions
// @Description Filters the ledger by account, type, status, amount range, date range and free text
// @Tags transactions
// @Produce json
// @Param accountId query string false "Account ID (either side)"
// @Param createdBy query string false "Initiating user"
// @Param type query string false "Transaction type"
// @Param status query string false "Transaction status"
// @Param currency query string false "Currency code"
// @Param reference query string false "Exact reference"
// @Param q query string false "Free text over description and reference"
// @Param minAmount query string false "Minimum amount"
// @Param maxAmount query string false "Maximum amount"
// @Param startDate query string false "Window start (RFC3339 or YYYY-MM-DD)"
// @Param endDate query string false "Window end (RFC3339 or YYYY-MM-DD)"
// @Param page query int false "Page number (zero-based)"
// @Param size query int false "Page size"
// @Success 200 {object} models.PageResponse
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions/search [get]
func (c *TransactionController) Search(ctx *gin.Context) {
	filter, err := searchFilterFromQuery(ctx)
	if err != nil {
		respondError(ctx, err)
		return
	}

	response, err := c.transactionService.Search(ctx.Request.Context(), filter, pageFromQuery(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// @Summary Account statistics
// @Description Aggregates an account's activity over a window, defaulting to the last 30 days
// @Tags transactions
// @Produce json
// @Param accountId path string true "Account ID"
// @Param startDate query string false "Window start (RFC3339 or YYYY-MM-DD)"
// @Param endDate query string false "Window end (RFC3339 or YYYY-MM-DD)"
// @Success 200 {object} models.StatsResponse
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions/account/{accountId}/stats [get]
func (c *TransactionController) GetAccountStats(ctx *gin.Context) {
	response, err := c.transactionService.GetAccountStats(ctx.Request.Context(), ctx.Param("accountId"),
		queryTime(ctx, "startDate"), queryTime(ctx, "endDate"))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// @Summary Own statistics
// @Description Aggregates the caller's activity over a window, defaulting to the last 30 days
// @Tags transactions
// @Produce json
// @Param startDate query string false "Window start (RFC3339 or YYYY-MM-DD)"
// @Param endDate query string false "Window end (RFC3339 or YYYY-MM-DD)"
// @Success 200 {object} models.StatsResponse
// @Failure 401 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions/stats [get]
func (c *TransactionController) GetMyStats(ctx *gin.Context) {
	userID := middleware.PrincipalFrom(ctx).UserID
	response, err := c.transactionService.GetUserStats(ctx.Request.Context(), userID,
		queryTime(ctx, "startDate"), queryTime(ctx, "endDate"))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// @Summary List reversals of a transaction
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {array} models.TransactionResponse
// @Security BearerAuth
// @Router /api/transactions/{id}/reversals [get]
func (c *TransactionController) GetReversals(ctx *gin.Context) {
	response, err := c.transactionService.GetReversals(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// @Summary Reversal status of a transaction
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} ReversedResponse
// @Security BearerAuth
// @Router /api/transactions/{id}/reversed [get]
func (c *TransactionController) IsReversed(ctx *gin.Context) {
	id := ctx.Param("id")
	reversed, err := c.transactionService.IsReversed(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, ReversedResponse{TransactionID: id, IsReversed: reversed})
}

// @Summary Limit status
// @Description Current limit caps, usage and remaining headroom for an account
// @Tags transactions
// @Produce json
// @Param accountId query string true "Account ID"
// @Param accountType query string false "Account type (default DEBIT)"
// @Param type query string false "Transaction type (default WITHDRAWAL)"
// @Success 200 {object} models.LimitStatusResponse
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/transactions/limits [get]
func (c *TransactionController) GetLimits(ctx *gin.Context) {
	accountType := strings.ToUpper(ctx.DefaultQuery("accountType", models.AccountTypeDebit))
	txType := models.TransactionType(strings.ToUpper(ctx.DefaultQuery("type", string(models.TypeWithdrawal))))

	response, err := c.transactionService.GetLimitStatus(ctx.Request.Context(), ctx.Query("accountId"), accountType, txType)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

func searchFilterFromQuery(ctx *gin.Context) (*models.SearchFilter, error) {
	filter := &models.SearchFilter{
		AccountID: ctx.Query("accountId"),
		CreatedBy: ctx.Query("createdBy"),
		Currency:  strings.ToUpper(ctx.Query("currency")),
		Reference: ctx.Query("reference"),
		Text:      ctx.Query("q"),
	}
	if t := ctx.Query("type"); t != "" {
		filter.Type = models.TransactionType(strings.ToUpper(t))
	}
	if s := ctx.Query("status"); s != "" {
		filter.Status = models.TransactionStatus(strings.ToUpper(s))
	}
	if raw := ctx.Query("minAmount"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, apperrors.Validation("invalid search filter", apperrors.FieldError{
				Field: "minAmount", Message: "must be a decimal number",
			})
		}
		filter.MinAmount = &v
	}
	if raw := ctx.Query("maxAmount"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, apperrors.Validation("invalid search filter", apperrors.FieldError{
				Field: "maxAmount", Message: "must be a decimal number",
			})
		}
		filter.MaxAmount = &v
	}
	if t := queryTime(ctx, "startDate"); !t.IsZero() {
		filter.From = &t
	}
	if t := queryTime(ctx, "endDate"); !t.IsZero() {
		filter.To = &t
	}
	return filter, nil
}
