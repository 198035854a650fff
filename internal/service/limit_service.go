package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"transaction-api/internal/apperrors"
	"transaction-api/internal/cache"
	"transaction-api/internal/models"
	"transaction-api/internal/repository"
)

// LimitService evaluates configured transaction limits. Evaluation is
// fail-safe: when usage or configuration cannot be read the transaction is
// rejected as unavailable, never waved through.
type LimitService interface {
	Validate(ctx context.Context, accountID, accountType string, txType models.TransactionType, amount decimal.Decimal) error
	RemainingDaily(ctx context.Context, accountID, accountType string, txType models.TransactionType) (*LimitHeadroom, error)
	RemainingMonthly(ctx context.Context, accountID, accountType string, txType models.TransactionType) (*LimitHeadroom, error)
	Status(ctx context.Context, accountID, accountType string, txType models.TransactionType) (*models.LimitStatusResponse, error)
}

// LimitHeadroom is the unused portion of a window. Nil fields mean the
// dimension is uncapped.
type LimitHeadroom struct {
	Amount *decimal.Decimal
	Count  *int64
}

type limitService struct {
	limitRepo       repository.LimitRepository
	transactionRepo repository.TransactionRepository
	limitCache      *cache.LimitCache
	now             func() time.Time
}

func NewLimitService(limitRepo repository.LimitRepository, transactionRepo repository.TransactionRepository, limitCache *cache.LimitCache) LimitService {
	return &limitService{
		limitRepo:       limitRepo,
		transactionRepo: transactionRepo,
		limitCache:      limitCache,
		now:             time.Now,
	}
}

// Validate checks amount against the limit row for (accountType, txType).
// Dimensions are evaluated in order: per-transaction, daily amount, daily
// count, monthly amount, monthly count; the first breached dimension is the
// one reported. A missing or inactive row allows everything.
func (s *limitService) Validate(ctx context.Context, accountID, accountType string, txType models.TransactionType, amount decimal.Decimal) error {
	limit, err := s.loadLimit(ctx, accountType, txType)
	if err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "limit configuration is unavailable", err)
	}
	if limit == nil || !limit.Active {
		return nil
	}

	if limit.PerTransactionLimit != nil && amount.GreaterThan(*limit.PerTransactionLimit) {
		return apperrors.LimitExceeded(models.LimitPerTransaction,
			fmt.Sprintf("amount %s exceeds the per-transaction limit of %s",
				amount.StringFixed(2), limit.PerTransactionLimit.StringFixed(2)))
	}

	if limit.DailyLimit != nil || limit.DailyCount != nil {
		usage, err := s.transactionRepo.GetDailyUsage(ctx, accountID, txType, s.now().UTC())
		if err != nil {
			return apperrors.Wrap(apperrors.KindUnavailable, "daily limit usage is unavailable", err)
		}
		if limit.DailyLimit != nil && usage.Amount.Add(amount).GreaterThan(*limit.DailyLimit) {
			return apperrors.LimitExceeded(models.LimitDailyAmount,
				fmt.Sprintf("amount %s would exceed the daily limit of %s (used %s today)",
					amount.StringFixed(2), limit.DailyLimit.StringFixed(2), usage.Amount.StringFixed(2)))
		}
		if limit.DailyCount != nil && usage.Count >= *limit.DailyCount {
			return apperrors.LimitExceeded(models.LimitDailyCount,
				fmt.Sprintf("daily transaction count limit of %d reached", *limit.DailyCount))
		}
	}

	if limit.MonthlyLimit != nil || limit.MonthlyCount != nil {
		usage, err := s.transactionRepo.GetMonthlyUsage(ctx, accountID, txType, s.now().UTC())
		if err != nil {
			return apperrors.Wrap(apperrors.KindUnavailable, "monthly limit usage is unavailable", err)
		}
		if limit.MonthlyLimit != nil && usage.Amount.Add(amount).GreaterThan(*limit.MonthlyLimit) {
			return apperrors.LimitExceeded(models.LimitMonthlyAmount,
				fmt.Sprintf("amount %s would exceed the monthly limit of %s (used %s this month)",
					amount.StringFixed(2), limit.MonthlyLimit.StringFixed(2), usage.Amount.StringFixed(2)))
		}
		if limit.MonthlyCount != nil && usage.Count >= *limit.MonthlyCount {
			return apperrors.LimitExceeded(models.LimitMonthlyCount,
				fmt.Sprintf("monthly transaction count limit of %d reached", *limit.MonthlyCount))
		}
	}

	return nil
}

func (s *limitService) RemainingDaily(ctx context.Context, accountID, accountType string, txType models.TransactionType) (*LimitHeadroom, error) {
	limit, err := s.loadLimit(ctx, accountType, txType)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnavailable, "limit configuration is unavailable", err)
	}
	if limit == nil || !limit.Active {
		return &LimitHeadroom{}, nil
	}

	usage, err := s.transactionRepo.GetDailyUsage(ctx, accountID, txType, s.now().UTC())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnavailable, "daily limit usage is unavailable", err)
	}
	return &LimitHeadroom{
		Amount: models.RemainingAmount(limit.DailyLimit, usage.Amount),
		Count:  models.RemainingCount(limit.DailyCount, usage.Count),
	}, nil
}

func (s *limitService) RemainingMonthly(ctx context.Context, accountID, accountType string, txType models.TransactionType) (*LimitHeadroom, error) {
	limit, err := s.loadLimit(ctx, accountType, txType)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnavailable, "limit configuration is unavailable", err)
	}
	if limit == nil || !limit.Active {
		return &LimitHeadroom{}, nil
	}

	usage, err := s.transactionRepo.GetMonthlyUsage(ctx, accountID, txType, s.now().UTC())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnavailable, "monthly limit usage is unavailable", err)
	}
	return &LimitHeadroom{
		Amount: models.RemainingAmount(limit.MonthlyLimit, usage.Amount),
		Count:  models.RemainingCount(limit.MonthlyCount, usage.Count),
	}, nil
}

// Status combines the configured row with the account's current usage and
// headroom. The row may be nil when nothing is configured.
func (s *limitService) Status(ctx context.Context, accountID, accountType string, txType models.TransactionType) (*models.LimitStatusResponse, error) {
	limit, err := s.loadLimit(ctx, accountType, txType)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnavailable, "limit configuration is unavailable", err)
	}

	daily, err := s.transactionRepo.GetDailyUsage(ctx, accountID, txType, s.now().UTC())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnavailable, "daily limit usage is unavailable", err)
	}
	monthly, err := s.transactionRepo.GetMonthlyUsage(ctx, accountID, txType, s.now().UTC())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnavailable, "monthly limit usage is unavailable", err)
	}

	status := &models.LimitStatusResponse{
		AccountID:        accountID,
		AccountType:      accountType,
		TransactionType:  string(txType),
		DailyUsed:        daily.Amount.StringFixed(2),
		DailyCountUsed:   daily.Count,
		MonthlyUsed:      monthly.Amount.StringFixed(2),
		MonthlyCountUsed: monthly.Count,
	}
	if limit != nil {
		status.Limit = limit.ToResponse()
		if limit.Active {
			if remaining := models.RemainingAmount(limit.DailyLimit, daily.Amount); remaining != nil {
				value := remaining.StringFixed(2)
				status.DailyRemaining = &value
			}
			if remaining := models.RemainingAmount(limit.MonthlyLimit, monthly.Amount); remaining != nil {
				value := remaining.StringFixed(2)
				status.MonthlyRemaining = &value
			}
			status.DailyCountLeft = models.RemainingCount(limit.DailyCount, daily.Count)
			status.MonthlyCountLeft = models.RemainingCount(limit.MonthlyCount, monthly.Count)
		}
	}
	return status, nil
}

// loadLimit resolves the limit row through the cache. Absent rows come back
// as (nil, nil); only genuine storage failures surface as errors.
func (s *limitService) loadLimit(ctx context.Context, accountType string, txType models.TransactionType) (*models.TransactionLimit, error) {
	if s.limitCache != nil {
		if cached, err := s.limitCache.Get(ctx, accountType, txType); err == nil {
			return cached, nil
		}
	}

	limit, err := s.limitRepo.Get(ctx, accountType, txType)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if s.limitCache != nil {
		if err := s.limitCache.Put(ctx, limit); err != nil {
			logrus.WithError(err).Debug("Failed to cache limit row")
		}
	}
	return limit, nil
}
