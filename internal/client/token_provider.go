package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"transaction-api/internal/config"
)

// Claims carried on every service-to-service token.
const (
	ServiceSubject     = "transaction-service"
	ServiceAudience    = "account-service"
	ServiceRole        = "ROLE_INTERNAL_SERVICE"
	tokenRefreshMargin = 10 * time.Second
)

// TokenProvider mints the short-lived HS256 tokens used for balance
// operations against the account service. Tokens are cached until shortly
// before expiry so concurrent balance legs reuse one signature.
type TokenProvider struct {
	secret []byte
	issuer string
	ttl    time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	now func() time.Time
}

func NewTokenProvider(cfg config.AuthConfig) *TokenProvider {
	return &TokenProvider{
		secret: []byte(cfg.InternalSecret),
		issuer: cfg.JWTIssuer,
		ttl:    cfg.ServiceTokenTTL,
		now:    time.Now,
	}
}

// ServiceToken returns a signed token with at least the refresh margin of
// validity left, minting a new one when the cached token is close to
// expiry.
func (p *TokenProvider) ServiceToken() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.token != "" && p.expiresAt.Sub(now) > tokenRefreshMargin {
		return p.token, nil
	}

	expiresAt := now.Add(p.ttl)
	claims := jwt.MapClaims{
		"sub":  ServiceSubject,
		"aud":  ServiceAudience,
		"iss":  p.issuer,
		"role": ServiceRole,
		"iat":  now.Unix(),
		"exp":  expiresAt.Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}

	p.token = signed
	p.expiresAt = expiresAt
	return signed, nil
}
