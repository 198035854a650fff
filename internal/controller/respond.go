package controller

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"transaction-api/internal/apperrors"
	"transaction-api/internal/models"
)

// Binding errors report the json field name, not the Go one.
func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

// ErrorResponse is the error body for every non-2xx response. Detail
// carries machine-readable context such as the exceeded limit dimension.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Message   string                 `json:"message"`
	Detail    string                 `json:"detail,omitempty"`
	Fields    []apperrors.FieldError `json:"fields,omitempty"`
	Timestamp string                 `json:"timestamp"`
	RequestID string                 `json:"requestId,omitempty"`
}

var kindStatus = map[apperrors.Kind]int{
	apperrors.KindValidation:        http.StatusBadRequest,
	apperrors.KindInsufficientFunds: http.StatusBadRequest,
	apperrors.KindLimitExceeded:     http.StatusBadRequest,
	apperrors.KindAccountNotFound:   http.StatusNotFound,
	apperrors.KindNotFound:          http.StatusNotFound,
	apperrors.KindAlreadyReversed:   http.StatusConflict,
	apperrors.KindConflict:          http.StatusConflict,
	apperrors.KindUnauthorized:      http.StatusUnauthorized,
	apperrors.KindForbidden:         http.StatusForbidden,
	apperrors.KindUnavailable:       http.StatusServiceUnavailable,
	apperrors.KindInternal:          http.StatusInternalServerError,
}

// respondError translates a service error into its HTTP shape. Unexpected
// errors surface only a correlation id, never their message.
func respondError(c *gin.Context, err error) {
	appErr := apperrors.AsError(err)
	status, ok := kindStatus[appErr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := ErrorResponse{
		Error:     string(appErr.Kind),
		Message:   appErr.Message,
		Detail:    appErr.Detail,
		Fields:    appErr.Fields,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestid.Get(c),
	}

	switch status {
	case http.StatusServiceUnavailable:
		retry := appErr.RetryAfter
		if retry <= 0 {
			retry = 30 * time.Second
		}
		c.Header("Retry-After", strconv.Itoa(int(retry.Seconds())))
	case http.StatusInternalServerError:
		body.Message = "an unexpected error occurred"
		body.Detail = ""
	}

	c.JSON(status, body)
}

// bindError reports a malformed request body. Validator failures carry
// per-field messages; anything else is a generic format error.
func bindError(c *gin.Context, err error) {
	body := ErrorResponse{
		Error:     string(apperrors.KindValidation),
		Message:   "invalid request format",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestid.Get(c),
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		body.Message = "invalid request"
		for _, fe := range verrs {
			body.Fields = append(body.Fields, apperrors.FieldError{
				Field:   fe.Field(),
				Message: bindingMessage(fe),
			})
		}
	} else {
		body.Detail = err.Error()
	}

	c.JSON(http.StatusBadRequest, body)
}

func bindingMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// pageFromQuery reads the standard pagination parameters. The sort value
// accepts "createdAt,asc" style directives; only the direction is honored.
func pageFromQuery(c *gin.Context) models.Page {
	page := models.NormalizedPage(queryInt(c, "page", 0), queryInt(c, "size", 0))
	if sort := strings.ToLower(c.Query("sort")); sort != "" {
		page.Asc = sort == "asc" || strings.HasSuffix(sort, ",asc")
	}
	return page
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// queryTime parses an RFC3339 or date-only query parameter. The zero time
// means the parameter was absent or unparseable.
func queryTime(c *gin.Context, name string) time.Time {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
