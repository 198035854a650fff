package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"transaction-api/internal/apperrors"
	"transaction-api/internal/cache"
	"transaction-api/internal/config"
	"transaction-api/internal/engine"
	"transaction-api/internal/models"
	"transaction-api/internal/repository"
)

// AdminService covers the operator surface: limit configuration and the
// maintenance actions that otherwise only run on the scheduler.
type AdminService interface {
	UpsertLimit(ctx context.Context, req *UpsertLimitRequest) (*models.LimitResponse, error)
	GetLimit(ctx context.Context, accountType string, txType models.TransactionType) (*models.LimitResponse, error)
	ListLimits(ctx context.Context) ([]*models.LimitResponse, error)
	DeleteLimit(ctx context.Context, accountType string, txType models.TransactionType, deletedBy string) error

	TriggerSweep(ctx context.Context) (int, error)
	RunRetention(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context) (map[models.TransactionStatus]int64, error)
}

type UpsertLimitRequest struct {
	AccountType         string
	TransactionType     models.TransactionType
	PerTransactionLimit *decimal.Decimal
	DailyLimit          *decimal.Decimal
	MonthlyLimit        *decimal.Decimal
	DailyCount          *int64
	MonthlyCount        *int64
	Active              bool
	UpdatedBy           string
}

type adminService struct {
	limitRepo       repository.LimitRepository
	transactionRepo repository.TransactionRepository
	limitCache      *cache.LimitCache
	engine          engine.TransactionEngine
	audit           AuditService
	cfg             *config.Config
	now             func() time.Time
}

func NewAdminService(
	limitRepo repository.LimitRepository,
	transactionRepo repository.TransactionRepository,
	limitCache *cache.LimitCache,
	txEngine engine.TransactionEngine,
	audit AuditService,
	cfg *config.Config,
) AdminService {
	return &adminService{
		limitRepo:       limitRepo,
		transactionRepo: transactionRepo,
		limitCache:      limitCache,
		engine:          txEngine,
		audit:           audit,
		cfg:             cfg,
		now:             time.Now,
	}
}

func (s *adminService) UpsertLimit(ctx context.Context, req *UpsertLimitRequest) (*models.LimitResponse, error) {
	limit := &models.TransactionLimit{
		AccountType:         strings.ToUpper(strings.TrimSpace(req.AccountType)),
		TransactionType:     req.TransactionType,
		PerTransactionLimit: req.PerTransactionLimit,
		DailyLimit:          req.DailyLimit,
		MonthlyLimit:        req.MonthlyLimit,
		DailyCount:          req.DailyCount,
		MonthlyCount:        req.MonthlyCount,
		Active:              req.Active,
		UpdatedAt:           s.now().UTC(),
		UpdatedBy:           req.UpdatedBy,
	}
	if err := limit.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, err.Error(), err)
	}

	if err := s.limitRepo.Upsert(ctx, limit); err != nil {
		return nil, err
	}
	s.invalidateLimit(ctx, limit.AccountType, limit.TransactionType)

	s.audit.LogSystemEvent(ctx, "limit_upserted", map[string]interface{}{
		"account_type":     limit.AccountType,
		"transaction_type": limit.TransactionType,
		"active":           limit.Active,
		"updated_by":       limit.UpdatedBy,
	})
	logrus.WithFields(logrus.Fields{
		"account_type":     limit.AccountType,
		"transaction_type": limit.TransactionType,
		"updated_by":       limit.UpdatedBy,
	}).Info("Transaction limit updated")

	return limit.ToResponse(), nil
}

func (s *adminService) GetLimit(ctx context.Context, accountType string, txType models.TransactionType) (*models.LimitResponse, error) {
	limit, err := s.limitRepo.Get(ctx, strings.ToUpper(strings.TrimSpace(accountType)), txType)
	if err != nil {
		return nil, err
	}
	if limit == nil {
		return nil, apperrors.Newf(apperrors.KindNotFound, "no limit configured for %s/%s", accountType, txType)
	}
	return limit.ToResponse(), nil
}

func (s *adminService) ListLimits(ctx context.Context) ([]*models.LimitResponse, error) {
	limits, err := s.limitRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	responses := make([]*models.LimitResponse, 0, len(limits))
	for _, limit := range limits {
		responses = append(responses, limit.ToResponse())
	}
	return responses, nil
}

func (s *adminService) DeleteLimit(ctx context.Context, accountType string, txType models.TransactionType, deletedBy string) error {
	accountType = strings.ToUpper(strings.TrimSpace(accountType))
	if err := s.limitRepo.Delete(ctx, accountType, txType); err != nil {
		return err
	}
	s.invalidateLimit(ctx, accountType, txType)

	s.audit.LogSystemEvent(ctx, "limit_deleted", map[string]interface{}{
		"account_type":     accountType,
		"transaction_type": txType,
		"deleted_by":       deletedBy,
	})
	return nil
}

// TriggerSweep runs the stale PROCESSING sweep on demand, outside its
// scheduled tick.
func (s *adminService) TriggerSweep(ctx context.Context) (int, error) {
	swept, err := s.engine.SweepStaleProcessing(ctx)
	if err != nil {
		return 0, err
	}
	s.audit.LogSystemEvent(ctx, "manual_sweep", map[string]interface{}{"swept": swept})
	return swept, nil
}

// RunRetention deletes terminal rows older than the configured retention.
// With retention disabled (0 days) it is a no-op.
func (s *adminService) RunRetention(ctx context.Context) (int64, error) {
	days := s.cfg.Limits.RetentionDays
	if days <= 0 {
		return 0, nil
	}

	cutoff := s.now().UTC().AddDate(0, 0, -days)
	deleted, err := s.transactionRepo.DeleteOlderThan(ctx, cutoff,
		models.StatusCompleted,
		models.StatusFailed,
		models.StatusReversed,
	)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.audit.LogSystemEvent(ctx, "retention_cleanup", map[string]interface{}{
			"deleted": deleted,
			"cutoff":  cutoff.Format(time.RFC3339),
		})
		logrus.WithFields(logrus.Fields{
			"deleted": deleted,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("Retention cleanup removed old transactions")
	}
	return deleted, nil
}

func (s *adminService) CountByStatus(ctx context.Context) (map[models.TransactionStatus]int64, error) {
	return s.transactionRepo.CountByStatus(ctx)
}

func (s *adminService) invalidateLimit(ctx context.Context, accountType string, txType models.TransactionType) {
	if s.limitCache == nil {
		return
	}
	if err := s.limitCache.Invalidate(ctx, accountType, txType); err != nil {
		logrus.WithError(err).Warn("Failed to invalidate limit cache entry")
	}
}
