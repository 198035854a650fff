package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"transaction-api/internal/client"
	"transaction-api/internal/monitoring"
	"transaction-api/internal/service"
)

// MonitoringController exposes the operator diagnostics surface: alert
// history, circuit breaker state, metric snapshots and on-demand
// maintenance triggers.
type MonitoringController struct {
	alertService service.AlertService
	adminService service.AdminService
	health       monitoring.HealthChecker
	metrics      monitoring.MetricsService
	breaker      *client.CircuitBreaker
}

func NewMonitoringController(
	alertService service.AlertService,
	adminService service.AdminService,
	health monitoring.HealthChecker,
	metrics monitoring.MetricsService,
	breaker *client.CircuitBreaker,
) *MonitoringController {
	return &MonitoringController{
		alertService: alertService,
		adminService: adminService,
		health:       health,
		metrics:      metrics,
		breaker:      breaker,
	}
}

// @Summary Recent alerts
// @Description Alerts triggered since startup, newest first
// @Tags monitoring
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/monitoring/alerts [get]
func (c *MonitoringController) GetAlerts(ctx *gin.Context) {
	alerts := c.alertService.RecentAlerts()
	ctx.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// @Summary Circuit breaker state
// @Description State of the account service circuit breaker
// @Tags monitoring
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/monitoring/circuit-breaker [get]
func (c *MonitoringController) GetCircuitBreaker(ctx *gin.Context) {
	state := c.breaker.State()
	body := gin.H{
		"name":  "account-service",
		"state": state.String(),
	}
	if state == client.StateOpen {
		body["retryAfterSeconds"] = int(c.breaker.RetryAfter().Seconds())
	}
	ctx.JSON(http.StatusOK, body)
}

// @Summary Metrics snapshot
// @Description Point-in-time view of the service counters and gauges
// @Tags monitoring
// @Produce json
// @Success 200 {object} monitoring.Snapshot
// @Failure 403 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/monitoring/metrics [get]
func (c *MonitoringController) GetMetrics(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.metrics.Snapshot())
}

// @Summary Detailed health
// @Description Component-level health with latencies; 503 when a required component is down
// @Tags monitoring
// @Produce json
// @Success 200 {object} monitoring.HealthStatus
// @Failure 503 {object} monitoring.HealthStatus
// @Security BearerAuth
// @Router /api/monitoring/health [get]
func (c *MonitoringController) GetHealth(ctx *gin.Context) {
	status := c.health.CheckHealth(ctx.Request.Context())
	code := http.StatusOK
	if status.Status == monitoring.StatusDown {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, status)
}

// @Summary Trigger the stale transaction sweep
// @Description Fails transactions stuck in PROCESSING beyond the stale cutoff
// @Tags monitoring
// @Produce json
// @Success 200 {object} map[string]int
// @Failure 403 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/monitoring/sweep [post]
func (c *MonitoringController) TriggerSweep(ctx *gin.Context) {
	swept, err := c.adminService.TriggerSweep(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"swept": swept})
}
