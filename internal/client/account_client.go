package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"transaction-api/internal/apperrors"
	"transaction-api/internal/cache"
	"transaction-api/internal/config"
	"transaction-api/internal/models"
)

// AccountClient talks to the account service, which owns balances. All
// calls except Ping run through a per-call deadline, the circuit breaker,
// retry, and the snapshot cache, in that order.
type AccountClient interface {
	GetAccount(ctx context.Context, accountID string) (*models.AccountSnapshot, error)
	ValidateAccount(ctx context.Context, accountID string) (*models.AccountSnapshot, error)
	HasSufficientFunds(ctx context.Context, accountID string, amount decimal.Decimal) (bool, *models.AccountSnapshot, error)
	ApplyBalanceOperation(ctx context.Context, accountID string, op *models.BalanceOperation) (*models.BalanceOperationResult, error)
	Ping(ctx context.Context) error
}

// Observer receives call outcomes for metrics and alert streak tracking.
type Observer struct {
	OnCall func(operation string, duration time.Duration, err error)
}

type accountClient struct {
	baseURL     string
	httpClient  *http.Client
	callTimeout time.Duration
	cb          *CircuitBreaker
	retry       RetryPolicy
	tokens      *TokenProvider
	cache       *cache.AccountCache
	observer    Observer
}

// NewAccountClient wires the resilient client. The breaker is injected so
// monitoring and alerting can watch the same instance.
func NewAccountClient(cfg config.AccountServiceConfig, cb *CircuitBreaker, retry RetryPolicy, tokens *TokenProvider, accountCache *cache.AccountCache, observer Observer) AccountClient {
	return &accountClient{
		baseURL:     cfg.BaseURL,
		httpClient:  &http.Client{},
		callTimeout: cfg.Timeout,
		cb:          cb,
		retry:       retry,
		tokens:      tokens,
		cache:       accountCache,
		observer:    observer,
	}
}

type userTokenKey struct{}

// WithUserToken stashes the inbound bearer token so account reads run
// with the caller's identity.
func WithUserToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, userTokenKey{}, token)
}

// UserTokenFrom returns the stashed bearer token, if any.
func UserTokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(userTokenKey{}).(string)
	return token
}

func (c *accountClient) GetAccount(ctx context.Context, accountID string) (*models.AccountSnapshot, error) {
	return c.fetchAccount(ctx, "get_account", accountID)
}

// ValidateAccount resolves the account and requires it to be active.
func (c *accountClient) ValidateAccount(ctx context.Context, accountID string) (*models.AccountSnapshot, error) {
	snapshot, err := c.fetchAccount(ctx, "validate_account", accountID)
	if err != nil {
		return nil, err
	}
	if !snapshot.IsActive() {
		inactive := apperrors.Newf(apperrors.KindValidation, "account %s is not active", accountID)
		inactive.Detail = models.FailureAccountInactive
		return nil, inactive
	}
	return snapshot, nil
}

func (c *accountClient) HasSufficientFunds(ctx context.Context, accountID string, amount decimal.Decimal) (bool, *models.AccountSnapshot, error) {
	snapshot, err := c.fetchAccount(ctx, "funds_check", accountID)
	if err != nil {
		return false, nil, err
	}
	return snapshot.CanCover(amount), snapshot, nil
}

func (c *accountClient) ApplyBalanceOperation(ctx context.Context, accountID string, op *models.BalanceOperation) (*models.BalanceOperationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	if err := c.cb.Allow(); err != nil {
		c.observe("apply_balance_op", start, err)
		return nil, c.openError()
	}

	var result *models.BalanceOperationResult
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		applied, reqErr := c.postBalanceOperation(ctx, accountID, op)
		if reqErr != nil {
			return reqErr
		}
		result = applied
		return nil
	})

	c.feedback(err)
	c.observe("apply_balance_op", start, err)
	if err != nil {
		return nil, c.mapError(accountID, err)
	}

	// The balance moved; the cached snapshot is stale.
	if c.cache != nil {
		_ = c.cache.Invalidate(ctx, accountID)
	}

	logrus.WithFields(logrus.Fields{
		"account_id":   accountID,
		"operation_id": op.OperationID,
		"applied":      result.Applied,
	}).Debug("Balance operation acknowledged")

	return result, nil
}

// Ping hits the account service health endpoint directly: no breaker, no
// retry, no cache, so health reflects the wire and nothing else.
func (c *accountClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/actuator/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("account service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("account service health returned %d", resp.StatusCode)
	}
	return nil
}

func (c *accountClient) fetchAccount(ctx context.Context, operation, accountID string) (*models.AccountSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	if err := c.cb.Allow(); err != nil {
		c.observe(operation, start, err)
		return nil, c.openError()
	}

	var snapshot *models.AccountSnapshot
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		if c.cache != nil {
			if cached, cacheErr := c.cache.Get(ctx, accountID); cacheErr == nil {
				snapshot = cached
				return nil
			}
		}

		fetched, reqErr := c.requestAccount(ctx, accountID)
		if reqErr != nil {
			return reqErr
		}

		fetched.FetchedAt = time.Now().UTC()
		if c.cache != nil {
			_ = c.cache.Put(ctx, fetched)
		}
		snapshot = fetched
		return nil
	})

	c.feedback(err)
	c.observe(operation, start, err)
	if err != nil {
		return nil, c.mapError(accountID, err)
	}
	return snapshot, nil
}

func (c *accountClient) requestAccount(ctx context.Context, accountID string) (*models.AccountSnapshot, error) {
	url := fmt.Sprintf("%s/api/accounts/%s", c.baseURL, accountID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.authorizeRead(ctx, req); err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, accountID); err != nil {
		return nil, err
	}

	var snapshot models.AccountSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode account response: %w", err)
	}
	if snapshot.AccountID == "" {
		snapshot.AccountID = accountID
	}
	return &snapshot, nil
}

func (c *accountClient) postBalanceOperation(ctx context.Context, accountID string, op *models.BalanceOperation) (*models.BalanceOperationResult, error) {
	url := fmt.Sprintf("%s/api/internal/accounts/%s/balance-ops", c.baseURL, accountID)

	body, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal balance operation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Balance mutations always run under the service identity.
	token, err := c.tokens.ServiceToken()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, accountID); err != nil {
		return nil, err
	}

	var result models.BalanceOperationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode balance operation response: %w", err)
	}
	return &result, nil
}

// authorizeRead prefers the caller's own bearer so the account service
// applies the caller's permissions; background work falls back to the
// service token.
func (c *accountClient) authorizeRead(ctx context.Context, req *http.Request) error {
	if userToken := UserTokenFrom(ctx); userToken != "" {
		req.Header.Set("Authorization", "Bearer "+userToken)
		return nil
	}

	token, err := c.tokens.ServiceToken()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *accountClient) checkStatus(resp *http.Response, accountID string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusNotFound {
		return apperrors.Newf(apperrors.KindAccountNotFound, "account %s not found", accountID)
	}

	var envelope errorEnvelope
	_ = json.NewDecoder(resp.Body).Decode(&envelope)
	return &RemoteError{
		StatusCode: resp.StatusCode,
		ErrorCode:  envelope.Error,
		Message:    envelope.Message,
	}
}

// feedback records the call outcome in the breaker. Answers the service
// gave on purpose, not-found included, count as successes; only
// infrastructure faults push the breaker toward open.
func (c *accountClient) feedback(err error) {
	if err == nil || !isRetryable(err) {
		c.cb.RecordSuccess()
		return
	}
	c.cb.RecordFailure()
}

func (c *accountClient) observe(operation string, start time.Time, err error) {
	if c.observer.OnCall != nil {
		c.observer.OnCall(operation, time.Since(start), err)
	}
}

func (c *accountClient) openError() *apperrors.Error {
	return apperrors.Unavailable("account service circuit breaker is open", c.cb.RetryAfter())
}

// mapError converts transport-level failures into the API error taxonomy.
func (c *accountClient) mapError(accountID string, err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}

	var remote *RemoteError
	if errors.As(err, &remote) {
		switch {
		case remote.StatusCode >= 500:
			return apperrors.Wrap(apperrors.KindUnavailable, "account service error", err)
		case remote.ErrorCode == "INSUFFICIENT_FUNDS":
			return apperrors.Wrap(apperrors.KindInsufficientFunds,
				fmt.Sprintf("account %s has insufficient funds", accountID), err)
		case remote.ErrorCode == "WOULD_GO_NEGATIVE":
			mapped := apperrors.Wrap(apperrors.KindInsufficientFunds,
				fmt.Sprintf("operation would drive account %s negative", accountID), err)
			mapped.Detail = models.FailureWouldGoNegative
			return mapped
		case remote.ErrorCode == "ACCOUNT_INACTIVE":
			mapped := apperrors.Wrap(apperrors.KindValidation,
				fmt.Sprintf("account %s is not active", accountID), err)
			mapped.Detail = models.FailureAccountInactive
			return mapped
		default:
			return apperrors.Wrap(apperrors.KindInternal, "unexpected account service response", err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.KindUnavailable, "account service call timed out", err)
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return apperrors.Wrap(apperrors.KindUnavailable, "account service unreachable", err)
	}

	return apperrors.Wrap(apperrors.KindInternal, "account service call failed", err)
}
