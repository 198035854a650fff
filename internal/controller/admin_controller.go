package controller

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"transaction-api/internal/middleware"
	"transaction-api/internal/models"
	"transaction-api/internal/service"
)

// AdminController exposes limit configuration and maintenance actions.
// Every route behind it requires the ADMIN role.
type AdminController struct {
	adminService service.AdminService
}

func NewAdminController(adminService service.AdminService) *AdminController {
	return &AdminController{adminService: adminService}
}

// LimitRequest configures one (accountType, transactionType) limit row.
// Omitted caps leave that dimension uncapped; active defaults to true.
type LimitRequest struct {
	AccountType         string           `json:"accountType" binding:"required"`
	TransactionType     string           `json:"transactionType" binding:"required"`
	PerTransactionLimit *decimal.Decimal `json:"perTransactionLimit" swaggertype:"number"`
	DailyLimit          *decimal.Decimal `json:"dailyLimit" swaggertype:"number"`
	MonthlyLimit        *decimal.Decimal `json:"monthlyLimit" swaggertype:"number"`
	DailyCount          *int64           `json:"dailyCount"`
	MonthlyCount        *int64           `json:"monthlyCount"`
	Active              *bool            `json:"active"`
}

// @Summary Create or update a transaction limit
// @Description Upserts the limit row for an account type and transaction type pair
// @Tags admin
// @Accept json
// @Produce json
// @Param request body LimitRequest true "Limit configuration"
// @Success 200 {object} models.LimitResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/admin/limits [put]
func (c *AdminController) UpsertLimit(ctx *gin.Context) {
	var req LimitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		bindError(ctx, err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	response, err := c.adminService.UpsertLimit(ctx.Request.Context(), &service.UpsertLimitRequest{
		AccountType:         req.AccountType,
		TransactionType:     models.TransactionType(strings.ToUpper(req.TransactionType)),
		PerTransactionLimit: req.PerTransactionLimit,
		DailyLimit:          req.DailyLimit,
		MonthlyLimit:        req.MonthlyLimit,
		DailyCount:          req.DailyCount,
		MonthlyCount:        req.MonthlyCount,
		Active:              active,
		UpdatedBy:           middleware.PrincipalFrom(ctx).UserID,
	})
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// @Summary List transaction limits
// @Tags admin
// @Produce json
// @Success 200 {array} models.LimitResponse
// @Failure 403 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/admin/limits [get]
func (c *AdminController) ListLimits(ctx *gin.Context) {
	response, err := c.adminService.ListLimits(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// @Summary Get one transaction limit
// @Tags admin
// @Produce json
// @Param accountType path string true "Account type"
// @Param type path string true "Transaction type"
// @Success 200 {object} models.LimitResponse
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/admin/limits/{accountType}/{type} [get]
func (c *AdminController) GetLimit(ctx *gin.Context) {
	txType := models.TransactionType(strings.ToUpper(ctx.Param("type")))
	response, err := c.adminService.GetLimit(ctx.Request.Context(), ctx.Param("accountType"), txType)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// @Summary Delete a transaction limit
// @Description Removes the limit row; the pair becomes uncapped
// @Tags admin
// @Param accountType path string true "Account type"
// @Param type path string true "Transaction type"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/admin/limits/{accountType}/{type} [delete]
func (c *AdminController) DeleteLimit(ctx *gin.Context) {
	txType := models.TransactionType(strings.ToUpper(ctx.Param("type")))
	err := c.adminService.DeleteLimit(ctx.Request.Context(), ctx.Param("accountType"), txType,
		middleware.PrincipalFrom(ctx).UserID)
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

// @Summary Run retention cleanup
// @Description Deletes terminal transactions older than the configured retention window
// @Tags admin
// @Produce json
// @Success 200 {object} map[string]int64
// @Failure 403 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/admin/retention [post]
func (c *AdminController) RunRetention(ctx *gin.Context) {
	deleted, err := c.adminService.RunRetention(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// @Summary Transaction counts by status
// @Tags admin
// @Produce json
// @Success 200 {object} map[string]int64
// @Failure 403 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/admin/transactions/status-counts [get]
func (c *AdminController) StatusCounts(ctx *gin.Context) {
	counts, err := c.adminService.CountByStatus(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, counts)
}
