package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"transaction-api/internal/apperrors"
	"transaction-api/internal/config"
	"transaction-api/internal/engine"
	"transaction-api/internal/models"
	"transaction-api/internal/repository"
)

const defaultStatsWindowDays = 30

// TransactionService fronts the engine with request validation and owns the
// read paths over the ledger. Controllers talk to this interface only.
type TransactionService interface {
	Deposit(ctx context.Context, req *DepositRequest) (*models.TransactionResponse, error)
	Withdraw(ctx context.Context, req *WithdrawalRequest) (*models.TransactionResponse, error)
	Transfer(ctx context.Context, req *TransferRequest) (*models.TransactionResponse, error)
	Reverse(ctx context.Context, req *ReversalRequest) (*models.TransactionResponse, error)

	GetTransaction(ctx context.Context, transactionID string) (*models.TransactionResponse, error)
	GetAccountTransactions(ctx context.Context, accountID string, page models.Page) (*models.PageResponse, error)
	GetUserTransactions(ctx context.Context, userID string, page models.Page) (*models.PageResponse, error)
	Search(ctx context.Context, filter *models.SearchFilter, page models.Page) (*models.PageResponse, error)
	GetAccountStats(ctx context.Context, accountID string, from, to time.Time) (*models.StatsResponse, error)
	GetUserStats(ctx context.Context, userID string, from, to time.Time) (*models.StatsResponse, error)
	GetReversals(ctx context.Context, transactionID string) ([]*models.TransactionResponse, error)
	IsReversed(ctx context.Context, transactionID string) (bool, error)
	GetLimitStatus(ctx context.Context, accountID, accountType string, txType models.TransactionType) (*models.LimitStatusResponse, error)
}

type DepositRequest struct {
	AccountID     string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	Reference     string
	InitiatedBy   string
	CorrelationID string
}

type WithdrawalRequest struct {
	AccountID     string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	Reference     string
	InitiatedBy   string
	CorrelationID string
}

type TransferRequest struct {
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	Reference     string
	InitiatedBy   string
	CorrelationID string
}

type ReversalRequest struct {
	TransactionID string
	Reason        string
	RequestedBy   string
	CorrelationID string
}

type transactionService struct {
	engine          engine.TransactionEngine
	transactionRepo repository.TransactionRepository
	limits          LimitService
	cfg             *config.Config
	now             func() time.Time
}

func NewTransactionService(
	txEngine engine.TransactionEngine,
	transactionRepo repository.TransactionRepository,
	limits LimitService,
	cfg *config.Config,
) TransactionService {
	return &transactionService{
		engine:          txEngine,
		transactionRepo: transactionRepo,
		limits:          limits,
		cfg:             cfg,
		now:             time.Now,
	}
}

func (s *transactionService) Deposit(ctx context.Context, req *DepositRequest) (*models.TransactionResponse, error) {
	currency, err := s.validateMovement(req.AccountID, "accountId", req.Amount, req.Currency, req.Description, req.Reference)
	if err != nil {
		return nil, err
	}

	tx, err := s.engine.ProcessDeposit(ctx, &engine.DepositRequest{
		ToAccountID:   strings.TrimSpace(req.AccountID),
		Amount:        req.Amount,
		Currency:      currency,
		Description:   req.Description,
		Reference:     req.Reference,
		InitiatedBy:   req.InitiatedBy,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return nil, err
	}
	return tx.ToResponse(), nil
}

func (s *transactionService) Withdraw(ctx context.Context, req *WithdrawalRequest) (*models.TransactionResponse, error) {
	currency, err := s.validateMovement(req.AccountID, "accountId", req.Amount, req.Currency, req.Description, req.Reference)
	if err != nil {
		return nil, err
	}

	tx, err := s.engine.ProcessWithdrawal(ctx, &engine.WithdrawalRequest{
		FromAccountID: strings.TrimSpace(req.AccountID),
		Amount:        req.Amount,
		Currency:      currency,
		Description:   req.Description,
		Reference:     req.Reference,
		InitiatedBy:   req.InitiatedBy,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return nil, err
	}
	return tx.ToResponse(), nil
}

func (s *transactionService) Transfer(ctx context.Context, req *TransferRequest) (*models.TransactionResponse, error) {
	currency, err := s.validateMovement(req.FromAccountID, "fromAccountId", req.Amount, req.Currency, req.Description, req.Reference)
	if err != nil {
		return nil, err
	}

	to := strings.TrimSpace(req.ToAccountID)
	from := strings.TrimSpace(req.FromAccountID)
	if to == "" {
		return nil, apperrors.Validation("invalid transfer request", apperrors.FieldError{
			Field: "toAccountId", Message: "destination account id is required",
		})
	}
	if from == to {
		return nil, apperrors.Validation("invalid transfer request", apperrors.FieldError{
			Field: "toAccountId", Message: "source and destination accounts must differ",
		})
	}

	tx, err := s.engine.ProcessTransfer(ctx, &engine.TransferRequest{
		FromAccountID: from,
		ToAccountID:   to,
		Amount:        req.Amount,
		Currency:      currency,
		Description:   req.Description,
		Reference:     req.Reference,
		InitiatedBy:   req.InitiatedBy,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return nil, err
	}
	return tx.ToResponse(), nil
}

func (s *transactionService) Reverse(ctx context.Context, req *ReversalRequest) (*models.TransactionResponse, error) {
	if strings.TrimSpace(req.TransactionID) == "" {
		return nil, apperrors.Validation("invalid reversal request", apperrors.FieldError{
			Field: "transactionId", Message: "transaction id is required",
		})
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, apperrors.Validation("invalid reversal request", apperrors.FieldError{
			Field: "reason", Message: "reason is required",
		})
	}
	if len(reason) > s.cfg.Limits.MaxDescriptionLength {
		return nil, apperrors.Validation("invalid reversal request", apperrors.FieldError{
			Field:   "reason",
			Message: fmt.Sprintf("reason must be at most %d characters", s.cfg.Limits.MaxDescriptionLength),
		})
	}

	reversal, err := s.engine.ReverseTransaction(ctx, &engine.ReversalRequest{
		TransactionID: strings.TrimSpace(req.TransactionID),
		Reason:        reason,
		RequestedBy:   req.RequestedBy,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return nil, err
	}
	return reversal.ToResponse(), nil
}

func (s *transactionService) GetTransaction(ctx context.Context, transactionID string) (*models.TransactionResponse, error) {
	tx, err := s.transactionRepo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return tx.ToResponse(), nil
}

func (s *transactionService) GetAccountTransactions(ctx context.Context, accountID string, page models.Page) (*models.PageResponse, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, apperrors.Validation("account id is required")
	}
	result, err := s.transactionRepo.GetByAccountID(ctx, accountID, page)
	if err != nil {
		return nil, err
	}
	return result.ToPageResponse(), nil
}

func (s *transactionService) GetUserTransactions(ctx context.Context, userID string, page models.Page) (*models.PageResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.New(apperrors.KindUnauthorized, "caller identity is required")
	}
	result, err := s.transactionRepo.GetByUserID(ctx, userID, page)
	if err != nil {
		return nil, err
	}
	return result.ToPageResponse(), nil
}

func (s *transactionService) Search(ctx context.Context, filter *models.SearchFilter, page models.Page) (*models.PageResponse, error) {
	if filter == nil {
		filter = &models.SearchFilter{}
	}
	if filter.MinAmount != nil && filter.MaxAmount != nil && filter.MinAmount.GreaterThan(*filter.MaxAmount) {
		return nil, apperrors.Validation("invalid search filter", apperrors.FieldError{
			Field: "minAmount", Message: "minAmount must not exceed maxAmount",
		})
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, apperrors.Validation("invalid search filter", apperrors.FieldError{
			Field: "startDate", Message: "startDate must not be after endDate",
		})
	}

	result, err := s.transactionRepo.Search(ctx, filter, page)
	if err != nil {
		return nil, err
	}
	return result.ToPageResponse(), nil
}

func (s *transactionService) GetAccountStats(ctx context.Context, accountID string, from, to time.Time) (*models.StatsResponse, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, apperrors.Validation("account id is required")
	}
	from, to, err := s.statsWindow(from, to)
	if err != nil {
		return nil, err
	}
	stats, err := s.transactionRepo.GetAccountStats(ctx, accountID, from, to)
	if err != nil {
		return nil, err
	}
	return stats.ToResponse(accountID), nil
}

func (s *transactionService) GetUserStats(ctx context.Context, userID string, from, to time.Time) (*models.StatsResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.New(apperrors.KindUnauthorized, "caller identity is required")
	}
	from, to, err := s.statsWindow(from, to)
	if err != nil {
		return nil, err
	}
	stats, err := s.transactionRepo.GetUserStats(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	return stats.ToResponse(userID), nil
}

func (s *transactionService) GetReversals(ctx context.Context, transactionID string) ([]*models.TransactionResponse, error) {
	reversals, err := s.transactionRepo.GetReversals(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	responses := make([]*models.TransactionResponse, 0, len(reversals))
	for _, reversal := range reversals {
		responses = append(responses, reversal.ToResponse())
	}
	return responses, nil
}

func (s *transactionService) IsReversed(ctx context.Context, transactionID string) (bool, error) {
	return s.transactionRepo.IsReversed(ctx, transactionID)
}

func (s *transactionService) GetLimitStatus(ctx context.Context, accountID, accountType string, txType models.TransactionType) (*models.LimitStatusResponse, error) {
	var fields []apperrors.FieldError
	if strings.TrimSpace(accountID) == "" {
		fields = append(fields, apperrors.FieldError{Field: "accountId", Message: "account id is required"})
	}
	if strings.TrimSpace(accountType) == "" {
		fields = append(fields, apperrors.FieldError{Field: "accountType", Message: "account type is required"})
	}
	switch txType {
	case models.TypeDeposit, models.TypeWithdrawal, models.TypeTransfer:
	default:
		fields = append(fields, apperrors.FieldError{Field: "type", Message: "type must be DEPOSIT, WITHDRAWAL or TRANSFER"})
	}
	if len(fields) > 0 {
		return nil, apperrors.Validation("invalid limit status request", fields...)
	}
	return s.limits.Status(ctx, accountID, strings.ToUpper(strings.TrimSpace(accountType)), txType)
}

// validateMovement applies the request-level rules shared by deposit,
// withdrawal and transfer. It returns the normalized currency so an empty
// request field falls back to the configured default.
func (s *transactionService) validateMovement(accountID, accountField string, amount decimal.Decimal, currency, description, reference string) (string, error) {
	var fields []apperrors.FieldError

	if strings.TrimSpace(accountID) == "" {
		fields = append(fields, apperrors.FieldError{Field: accountField, Message: "account id is required"})
	}

	min := decimal.NewFromFloat(s.cfg.Limits.MinTransactionAmount)
	max := decimal.NewFromFloat(s.cfg.Limits.MaxTransactionAmount)
	switch {
	case amount.LessThan(min):
		fields = append(fields, apperrors.FieldError{
			Field:   "amount",
			Message: fmt.Sprintf("amount must be at least %s", min.StringFixed(2)),
		})
	case amount.GreaterThan(max):
		fields = append(fields, apperrors.FieldError{
			Field:   "amount",
			Message: fmt.Sprintf("amount must not exceed %s", max.StringFixed(2)),
		})
	case amount.Exponent() < -2:
		fields = append(fields, apperrors.FieldError{
			Field:   "amount",
			Message: "amount supports at most 2 decimal places",
		})
	}

	normalized, ok := s.normalizeCurrency(currency)
	if !ok {
		fields = append(fields, apperrors.FieldError{
			Field:   "currency",
			Message: fmt.Sprintf("currency must be one of %s", strings.Join(s.cfg.Currency.Allowed, ", ")),
		})
	}

	if len(description) > s.cfg.Limits.MaxDescriptionLength {
		fields = append(fields, apperrors.FieldError{
			Field:   "description",
			Message: fmt.Sprintf("description must be at most %d characters", s.cfg.Limits.MaxDescriptionLength),
		})
	}
	if len(reference) > s.cfg.Limits.MaxReferenceLength {
		fields = append(fields, apperrors.FieldError{
			Field:   "reference",
			Message: fmt.Sprintf("reference must be at most %d characters", s.cfg.Limits.MaxReferenceLength),
		})
	}

	if len(fields) > 0 {
		return "", apperrors.Validation("invalid transaction request", fields...)
	}
	return normalized, nil
}

func (s *transactionService) normalizeCurrency(currency string) (string, bool) {
	allowed := s.cfg.Currency.Allowed
	if currency = strings.ToUpper(strings.TrimSpace(currency)); currency == "" {
		if len(allowed) == 0 {
			return "", false
		}
		return allowed[0], true
	}
	for _, candidate := range allowed {
		if currency == strings.ToUpper(candidate) {
			return currency, true
		}
	}
	return "", false
}

// statsWindow fills the default reporting window of the last 30 days when
// either bound is missing.
func (s *transactionService) statsWindow(from, to time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = s.now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -defaultStatsWindowDays)
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, apperrors.Validation("invalid stats window", apperrors.FieldError{
			Field: "startDate", Message: "startDate must not be after endDate",
		})
	}
	return from, to, nil
}
