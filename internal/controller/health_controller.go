package controller

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"transaction-api/internal/monitoring"
)

// BuildInfo identifies the running binary. Values are injected at link
// time by the build pipeline.
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"buildTime"`
	GitCommit string `json:"gitCommit"`
}

// HealthController serves the public probe endpoints and the actuator
// surface kept for platform compatibility. The service probe is a cheap
// liveness signal; the actuator health runs the full component checks.
type HealthController struct {
	health monitoring.HealthChecker
	build  BuildInfo
	start  time.Time
}

func NewHealthController(health monitoring.HealthChecker, build BuildInfo) *HealthController {
	return &HealthController{
		health: health,
		build:  build,
		start:  time.Now(),
	}
}

// @Summary Service liveness
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/transactions/health [get]
func (c *HealthController) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":        monitoring.StatusUp,
		"service":       "transaction-api",
		"version":       c.build.Version,
		"uptimeSeconds": int64(time.Since(c.start).Seconds()),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// @Summary Readiness with component checks
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /actuator/health [get]
func (c *HealthController) ActuatorHealth(ctx *gin.Context) {
	status := c.health.CheckHealth(ctx.Request.Context())
	code := http.StatusOK
	if status.Status == monitoring.StatusDown {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, gin.H{"status": status.Status})
}

// @Summary Build information
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /actuator/info [get]
func (c *HealthController) ActuatorInfo(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"app": gin.H{
			"name":        "transaction-api",
			"description": "Transaction processing service for the accounts platform",
		},
		"build": c.build,
	})
}
