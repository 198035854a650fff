package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"transaction-api/internal/apperrors"
	"transaction-api/internal/client"
	"transaction-api/internal/service"
)

// Roles recognized by route guards. Claims may carry them with or without
// the ROLE_ prefix; normalization strips it.
const (
	RoleAdmin           = "ADMIN"
	RoleInternalService = "INTERNAL_SERVICE"

	principalKey = "auth.principal"
)

// Claims is the accepted bearer token payload. Issuers differ on whether
// roles arrive as a list or a single role claim, so both are read.
type Claims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	Role   string   `json:"role"`
	jwt.RegisteredClaims
}

func (cl *Claims) subject() string {
	if cl.UserID != "" {
		return cl.UserID
	}
	return cl.Subject
}

func (cl *Claims) roleNames() []string {
	raw := make([]string, 0, len(cl.Roles)+1)
	raw = append(raw, cl.Roles...)
	if cl.Role != "" {
		raw = append(raw, cl.Role)
	}

	names := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(r), "ROLE_"))
		if r != "" {
			names = append(names, r)
		}
	}
	return names
}

// Principal is the resolved caller identity for a request. The zero value
// is the anonymous principal.
type Principal struct {
	UserID        string
	Roles         []string
	Authenticated bool
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal may use administrative endpoints.
func (p Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin)
}

// AuthMiddleware validates bearer tokens and enforces route-level access
// rules. Token parsing happens once per request; guards only inspect the
// resolved principal.
type AuthMiddleware struct {
	secret []byte
	audit  service.AuditService
}

func NewAuthMiddleware(jwtSecret string, audit service.AuditService) *AuthMiddleware {
	return &AuthMiddleware{
		secret: []byte(jwtSecret),
		audit:  audit,
	}
}

// Authenticate resolves the caller's principal from the Authorization
// header. Requests without a valid token proceed as anonymous; the route
// guards decide whether that is acceptable. The raw token is kept on the
// request context so account reads can be performed on the caller's
// behalf.
func (a *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			c.Set(principalKey, Principal{})
			c.Next()
			return
		}

		claims, err := a.parseToken(raw)
		if err != nil {
			a.logSecurity(c, "TOKEN_REJECTED", "", map[string]interface{}{
				"reason": err.Error(),
			})
			c.Set(principalKey, Principal{})
			c.Next()
			return
		}

		c.Set(principalKey, Principal{
			UserID:        claims.subject(),
			Roles:         claims.roleNames(),
			Authenticated: true,
		})
		c.Request = c.Request.WithContext(client.WithUserToken(c.Request.Context(), raw))
		c.Next()
	}
}

// RequireAuthenticated rejects anonymous requests with 401.
func (a *AuthMiddleware) RequireAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if !p.Authenticated {
			a.logSecurity(c, "UNAUTHENTICATED_ACCESS", "", nil)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   string(apperrors.KindUnauthorized),
				"message": "authentication required",
			})
			return
		}
		c.Next()
	}
}

// RequireRoles rejects requests whose principal holds none of the given
// roles. Anonymous callers get 401, authenticated ones 403.
func (a *AuthMiddleware) RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if !p.Authenticated {
			a.logSecurity(c, "UNAUTHENTICATED_ACCESS", "", nil)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   string(apperrors.KindUnauthorized),
				"message": "authentication required",
			})
			return
		}

		for _, role := range roles {
			if p.HasRole(role) {
				c.Next()
				return
			}
		}

		a.logSecurity(c, "ACCESS_DENIED", p.UserID, map[string]interface{}{
			"required_roles": roles,
		})
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   string(apperrors.KindForbidden),
			"message": "insufficient privileges",
		})
	}
}

// PrincipalFrom returns the request principal, anonymous when the
// authenticate middleware has not run.
func PrincipalFrom(c *gin.Context) Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(Principal); ok {
			return p
		}
	}
	return Principal{}
}

func (a *AuthMiddleware) parseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	return claims, nil
}

func (a *AuthMiddleware) logSecurity(c *gin.Context, action, userID string, details map[string]interface{}) {
	if a.audit == nil {
		return
	}
	if details == nil {
		details = map[string]interface{}{}
	}
	details["path"] = c.Request.URL.Path
	details["method"] = c.Request.Method
	details["client_ip"] = c.ClientIP()
	a.audit.LogSecurityEvent(c.Request.Context(), action, userID, "DENIED", details)
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
