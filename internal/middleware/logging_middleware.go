package middleware

import (
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"transaction-api/internal/monitoring"
	"transaction-api/internal/service"
)

// Requests slower than this are logged at warn level regardless of status.
const slowRequestThreshold = 2 * time.Second

// skippedPaths are high-frequency probe endpoints that would drown the
// request log and the audit trail.
var skippedPaths = map[string]bool{
	"/api/transactions/health": true,
	"/actuator/health":         true,
	"/actuator/prometheus":     true,
	"/actuator/metrics":        true,
}

// LoggingMiddleware emits one structured line per request plus the
// API_ACCESS audit record and the HTTP metrics sample.
type LoggingMiddleware struct {
	logger  *logrus.Logger
	audit   service.AuditService
	metrics monitoring.MetricsService
}

func NewLoggingMiddleware(logger *logrus.Logger, audit service.AuditService, metrics monitoring.MetricsService) *LoggingMiddleware {
	return &LoggingMiddleware{
		logger:  logger,
		audit:   audit,
		metrics: metrics,
	}
}

// RequestLogger logs every request with its latency and outcome. Server
// errors log at error level, client errors at warn.
func (m *LoggingMiddleware) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if skippedPaths[path] {
			return
		}

		latency := time.Since(start)
		status := c.Writer.Status()

		fields := logrus.Fields{
			"request_id":  requestid.Get(c),
			"method":      c.Request.Method,
			"path":        path,
			"status_code": status,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"size":        c.Writer.Size(),
		}
		if query := c.Request.URL.RawQuery; query != "" {
			fields["query"] = query
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		entry := m.logger.WithFields(fields)
		switch {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Warn("request rejected")
		case latency > slowRequestThreshold:
			entry.Warn("slow request")
		default:
			entry.Info("request completed")
		}
	}
}

// Metrics records the request counter and latency histogram. The route
// template keeps label cardinality bounded; unmatched routes collapse
// into a single label.
func (m *LoggingMiddleware) Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.metrics.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// APIAudit writes an API_ACCESS audit record for every handled request.
func (m *LoggingMiddleware) APIAudit() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if skippedPaths[path] {
			return
		}

		userID := PrincipalFrom(c).UserID
		m.audit.LogAPIAccess(c.Request.Context(), userID, c.Request.Method, path,
			c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
