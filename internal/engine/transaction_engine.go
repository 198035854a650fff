package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"transaction-api/internal/apperrors"
	"transaction-api/internal/cache"
	"transaction-api/internal/client"
	"transaction-api/internal/config"
	"transaction-api/internal/external"
	"transaction-api/internal/models"
	"transaction-api/internal/monitoring"
	"transaction-api/internal/repository"
)

// Operation id suffixes sent to the account service. The account service
// deduplicates on the full operation id, so a retried delivery of the same
// leg can never post twice.
const (
	opSuffixDebit      = ":debit"
	opSuffixCredit     = ":credit"
	opSuffixCompensate = ":compensate"
)

const (
	staleSweepBatch = 100
	publishTimeout  = 10 * time.Second
	terminalTimeout = 10 * time.Second
)

// TransactionEngine drives a money movement end to end: account
// resolution, limit and funds checks, the ledger row, the balance
// operations against the account service, and the terminal transition.
type TransactionEngine interface {
	ProcessDeposit(ctx context.Context, req *DepositRequest) (*models.Transaction, error)
	ProcessWithdrawal(ctx context.Context, req *WithdrawalRequest) (*models.Transaction, error)
	ProcessTransfer(ctx context.Context, req *TransferRequest) (*models.Transaction, error)
	ReverseTransaction(ctx context.Context, req *ReversalRequest) (*models.Transaction, error)
	SweepStaleProcessing(ctx context.Context) (int, error)
}

// LimitChecker validates an amount against the configured transaction
// limits for an account.
type LimitChecker interface {
	Validate(ctx context.Context, accountID, accountType string, txType models.TransactionType, amount decimal.Decimal) error
}

// AuditTrail records the engine's decision points.
type AuditTrail interface {
	LogTransactionEvent(ctx context.Context, action string, transaction *models.Transaction, outcome string, details map[string]interface{})
	LogLimitCheck(ctx context.Context, transaction *models.Transaction, outcome string, details map[string]interface{})
	LogAccountValidation(ctx context.Context, accountID, transactionID, outcome string, details map[string]interface{})
	LogBalanceCheck(ctx context.Context, accountID, transactionID, outcome string, details map[string]interface{})
	LogSystemEvent(ctx context.Context, action string, details map[string]interface{})
}

type DepositRequest struct {
	ToAccountID   string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	Reference     string
	InitiatedBy   string
	CorrelationID string
}

type WithdrawalRequest struct {
	FromAccountID string
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

type transactionEngine struct {
	transactionRepo repository.TransactionRepository
	accounts        client.AccountClient
	limits          LimitChecker
	audit           AuditTrail
	metrics         monitoring.MetricsService
	publisher       external.EventPublisher
	accountCache    *cache.AccountCache
	reversalWindow  time.Duration
	staleCutoff     time.Duration
	now             func() time.Time
}

func NewTransactionEngine(
	transactionRepo repository.TransactionRepository,
	accounts client.AccountClient,
	limits LimitChecker,
	audit AuditTrail,
	metrics monitoring.MetricsService,
	publisher external.EventPublisher,
	accountCache *cache.AccountCache,
	cfg *config.Config,
) TransactionEngine {
	return &transactionEngine{
		transactionRepo: transactionRepo,
		accounts:        accounts,
		limits:          limits,
		audit:           audit,
		metrics:         metrics,
		publisher:       publisher,
		accountCache:    accountCache,
		reversalWindow:  time.Duration(cfg.Reversal.WindowDays) * 24 * time.Hour,
		staleCutoff:     cfg.Limits.StaleCutoff,
		now:             time.Now,
	}
}

func (e *transactionEngine) ProcessDeposit(ctx context.Context, req *DepositRequest) (*models.Transaction, error) {
	transaction := models.NewTransaction(
		models.TypeDeposit,
		models.ExternalAccount,
		req.ToAccountID,
		req.Amount,
		req.Currency,
		req.Description,
		req.Reference,
		req.InitiatedBy,
	)
	return e.execute(withCorrelation(ctx, req.CorrelationID), transaction)
}

func (e *transactionEngine) ProcessWithdrawal(ctx context.Context, req *WithdrawalRequest) (*models.Transaction, error) {
	transaction := models.NewTransaction(
		models.TypeWithdrawal,
		req.FromAccountID,
		models.ExternalAccount,
		req.Amount,
		req.Currency,
		req.Description,
		req.Reference,
		req.InitiatedBy,
	)
	return e.execute(withCorrelation(ctx, req.CorrelationID), transaction)
}

func (e *transactionEngine) ProcessTransfer(ctx context.Context, req *TransferRequest) (*models.Transaction, error) {
	transaction := models.NewTransaction(
		models.TypeTransfer,
		req.FromAccountID,
		req.ToAccountID,
		req.Amount,
		req.Currency,
		req.Description,
		req.Reference,
		req.InitiatedBy,
	)
	return e.execute(withCorrelation(ctx, req.CorrelationID), transaction)
}

// ReverseTransaction claims the original through the is_reversed predicate
// before any money moves, so concurrent reversal attempts resolve to
// exactly one winner and the loser never posts. If the compensating row
// fails to process, the claim is released and the original is restored.
func (e *transactionEngine) ReverseTransaction(ctx context.Context, req *ReversalRequest) (*models.Transaction, error) {
	ctx = withCorrelation(ctx, req.CorrelationID)

	original, err := e.transactionRepo.GetByTransactionID(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}

	if original.Type == models.TypeReversal {
		return nil, apperrors.New(apperrors.KindValidation, "a reversal cannot itself be reversed")
	}
	if original.IsReversed || original.Status == models.StatusReversed {
		return nil, apperrors.Newf(apperrors.KindAlreadyReversed, "transaction %s has already been reversed", original.TransactionID)
	}
	if original.Status != models.StatusCompleted {
		return nil, apperrors.Newf(apperrors.KindValidation, "only completed transactions can be reversed; %s is %s", original.TransactionID, original.Status)
	}
	if age := e.now().UTC().Sub(original.CreatedAt); age > e.reversalWindow {
		return nil, apperrors.Newf(apperrors.KindValidation, "transaction %s is outside the %d-day reversal window", original.TransactionID, int(e.reversalWindow.Hours())/24)
	}

	reversal := models.NewReversal(original, req.Reason, req.RequestedBy)

	if err := e.transactionRepo.MarkReversed(ctx, original.TransactionID, reversal.TransactionID, req.Reason, req.RequestedBy, e.now().UTC()); err != nil {
		return nil, err
	}

	processed, err := e.execute(ctx, reversal)
	if err != nil {
		e.releaseReversalClaim(ctx, original.TransactionID, reversal.TransactionID)
		return nil, err
	}

	original.MarkReversed(reversal.TransactionID, req.Reason, req.RequestedBy)
	e.metrics.RecordTransactionReversed(string(original.Type))
	e.audit.LogTransactionEvent(ctx, "TRANSACTION_REVERSED", original, models.AuditOutcomeSuccess, map[string]interface{}{
		"reversal_transaction_id": reversal.TransactionID,
		"reason":                  req.Reason,
	})
	e.publishAsync(ctx, original, e.publisher.PublishTransactionReversed)

	logrus.WithFields(logrus.Fields{
		"transaction_id": original.TransactionID,
		"reversal_id":    reversal.TransactionID,
		"requested_by":   req.RequestedBy,
	}).Info("Transaction reversed")

	return processed, nil
}

// SweepStaleProcessing fails rows stuck in PROCESSING past the cutoff.
// These are rows where the worker died between inserting the row and
// writing the terminal state; failing them makes the gap visible instead
// of leaving the ledger open-ended.
func (e *transactionEngine) SweepStaleProcessing(ctx context.Context) (int, error) {
	cutoff := e.now().UTC().Add(-e.staleCutoff)
	stale, err := e.transactionRepo.FindStaleProcessing(ctx, cutoff, staleSweepBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale transactions: %w", err)
	}

	swept := 0
	for _, transaction := range stale {
		age := e.now().Sub(transaction.CreatedAt)
		transaction.MarkFailed(models.FailureStuck, "system")
		if err := e.transactionRepo.Update(ctx, transaction); err != nil {
			logrus.WithFields(logrus.Fields{
				"transaction_id": transaction.TransactionID,
				"error":          err.Error(),
			}).Error("Failed to sweep stale transaction")
			continue
		}
		swept++
		e.metrics.RecordTransactionFailed(string(transaction.Type), models.FailureStuck, age)
		e.audit.LogTransactionEvent(ctx, "TRANSACTION_SWEPT", transaction, models.AuditOutcomeFailure, map[string]interface{}{
			"failure_reason": models.FailureStuck,
			"stale_for":      age.String(),
		})
		e.publishAsync(ctx, transaction, e.publisher.PublishTransactionFailed)
	}

	if swept > 0 {
		logrus.WithFields(logrus.Fields{"count": swept}).Warn("Swept stale PROCESSING transactions")
	}
	return swept, nil
}

// execute runs the common processing skeleton. Rejections before the
// ledger row is inserted return an error without persisting anything;
// failures after the row exists transition it to FAILED.
func (e *transactionEngine) execute(ctx context.Context, transaction *models.Transaction) (*models.Transaction, error) {
	start := e.now()
	e.metrics.RecordTransactionInitiated(string(transaction.Type))
	e.metrics.IncrementActiveTransactions()
	defer e.metrics.DecrementActiveTransactions()

	logrus.WithFields(logrus.Fields{
		"transaction_id": transaction.TransactionID,
		"type":           transaction.Type,
		"from_account":   transaction.FromAccountID,
		"to_account":     transaction.ToAccountID,
		"amount":         transaction.Amount.String(),
		"currency":       transaction.Currency,
	}).Info("Processing transaction")

	e.audit.LogTransactionEvent(ctx, "TRANSACTION_INITIATED", transaction, models.AuditOutcomeSuccess, nil)

	from, to, err := e.resolveAccounts(ctx, transaction)
	if err != nil {
		e.reject(ctx, transaction, start, err)
		return nil, err
	}

	if err := e.checkLimits(ctx, transaction, from, to); err != nil {
		e.reject(ctx, transaction, start, err)
		return nil, err
	}

	if err := e.checkFunds(ctx, transaction, from); err != nil {
		e.reject(ctx, transaction, start, err)
		return nil, err
	}

	if from != nil {
		transaction.FromBalanceBefore = decimalPtr(from.Balance)
	}
	if to != nil {
		transaction.ToBalanceBefore = decimalPtr(to.Balance)
	}

	if err := e.transactionRepo.Create(ctx, transaction); err != nil {
		wrapped := apperrors.Wrap(apperrors.KindInternal, "failed to record transaction", err)
		e.reject(ctx, transaction, start, wrapped)
		return nil, wrapped
	}
	e.publishAsync(ctx, transaction, e.publisher.PublishTransactionCreated)

	if err := e.applyBalanceOperations(ctx, transaction, from, to); err != nil {
		e.fail(ctx, transaction, start, err)
		return nil, err
	}

	// Balances have already moved; the terminal write must not die with
	// the request context, or the sweeper would later mislabel this row
	// as STUCK and invite a retried double movement.
	transaction.MarkCompleted(transaction.CreatedBy)
	persistCtx, cancel := detach(ctx, terminalTimeout)
	err = e.transactionRepo.Update(persistCtx, transaction)
	cancel()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"transaction_id": transaction.TransactionID,
			"error":          err.Error(),
		}).Error("Balance operations applied but COMPLETED status could not be persisted")
		e.audit.LogSystemEvent(ctx, "STATUS_PERSIST_FAILED", map[string]interface{}{
			"transaction_id": transaction.TransactionID,
			"status":         string(models.StatusCompleted),
		})
	}

	duration := e.now().Sub(start)
	e.metrics.RecordTransactionCompleted(string(transaction.Type), transaction.Amount.InexactFloat64(), duration)
	e.audit.LogTransactionEvent(ctx, "TRANSACTION_COMPLETED", transaction, models.AuditOutcomeSuccess, map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
	})
	e.publishAsync(ctx, transaction, e.publisher.PublishTransactionCompleted)

	logrus.WithFields(logrus.Fields{
		"transaction_id": transaction.TransactionID,
		"type":           transaction.Type,
		"duration_ms":    duration.Milliseconds(),
	}).Info("Transaction completed")

	return transaction, nil
}

// resolveAccounts fetches and validates every non-external leg. Both legs
// must resolve before anything is persisted.
func (e *transactionEngine) resolveAccounts(ctx context.Context, transaction *models.Transaction) (from, to *models.AccountSnapshot, err error) {
	if transaction.FromAccountID != models.ExternalAccount {
		from, err = e.validateLeg(ctx, transaction, transaction.FromAccountID)
		if err != nil {
			return nil, nil, err
		}
	}
	if transaction.ToAccountID != models.ExternalAccount {
		to, err = e.validateLeg(ctx, transaction, transaction.ToAccountID)
		if err != nil {
			return nil, nil, err
		}
	}
	return from, to, nil
}

func (e *transactionEngine) validateLeg(ctx context.Context, transaction *models.Transaction, accountID string) (*models.AccountSnapshot, error) {
	snapshot, err := e.accounts.ValidateAccount(ctx, accountID)
	if err != nil {
		e.audit.LogAccountValidation(ctx, accountID, transaction.TransactionID, models.AuditOutcomeFailure, map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}
	e.audit.LogAccountValidation(ctx, accountID, transaction.TransactionID, models.AuditOutcomeSuccess, map[string]interface{}{
		"account_type":   snapshot.Type,
		"account_status": snapshot.Status,
	})
	return snapshot, nil
}

// checkLimits evaluates configured limits for the governing account: the
// credited side for deposits, the debited side for withdrawals and
// transfers. Reversals are exempt.
func (e *transactionEngine) checkLimits(ctx context.Context, transaction *models.Transaction, from, to *models.AccountSnapshot) error {
	if transaction.Type == models.TypeReversal {
		return nil
	}

	governing := to
	if transaction.Type != models.TypeDeposit {
		governing = from
	}
	if governing == nil {
		return nil
	}

	if err := e.limits.Validate(ctx, governing.AccountID, governing.Type, transaction.Type, transaction.Amount); err != nil {
		appErr := apperrors.AsError(err)
		if appErr.Kind == apperrors.KindLimitExceeded {
			e.metrics.RecordLimitRejection(appErr.Detail)
		}
		e.audit.LogLimitCheck(ctx, transaction, models.AuditOutcomeFailure, map[string]interface{}{
			"dimension": appErr.Detail,
			"error":     err.Error(),
		})
		return err
	}

	e.audit.LogLimitCheck(ctx, transaction, models.AuditOutcomeSuccess, nil)
	return nil
}

// checkFunds verifies the debit side can cover the amount: balance for
// DEBIT accounts, available credit for CREDIT accounts. A reversal may
// push a CREDIT account further negative, but must never overdraw a
// DEBIT account.
func (e *transactionEngine) checkFunds(ctx context.Context, transaction *models.Transaction, from *models.AccountSnapshot) error {
	if from == nil {
		return nil
	}
	if transaction.Type == models.TypeReversal && from.Type == models.AccountTypeCredit {
		return nil
	}

	if !from.CanCover(transaction.Amount) {
		reason := models.FailureInsufficientFunds
		message := fmt.Sprintf("account %s cannot cover %s %s", from.AccountID, transaction.Amount.StringFixed(2), transaction.Currency)
		if transaction.Type == models.TypeReversal {
			reason = models.FailureWouldGoNegative
			message = fmt.Sprintf("reversing would overdraw account %s", from.AccountID)
		}
		e.audit.LogBalanceCheck(ctx, from.AccountID, transaction.TransactionID, models.AuditOutcomeFailure, map[string]interface{}{
			"reason":  reason,
			"amount":  transaction.Amount.String(),
			"balance": from.Balance.String(),
		})
		appErr := apperrors.New(apperrors.KindInsufficientFunds, message)
		appErr.Detail = reason
		return appErr
	}

	e.audit.LogBalanceCheck(ctx, from.AccountID, transaction.TransactionID, models.AuditOutcomeSuccess, nil)
	return nil
}

// applyBalanceOperations posts the debit leg, then the credit leg. When
// the credit fails after a successful debit, a compensating credit is
// attempted before the failure is surfaced.
func (e *transactionEngine) applyBalanceOperations(ctx context.Context, transaction *models.Transaction, from, to *models.AccountSnapshot) error {
	if from != nil {
		allowNegative := transaction.Type == models.TypeReversal && from.Type == models.AccountTypeCredit
		result, err := e.applyOperation(ctx, transaction, from.AccountID, transaction.Amount.Neg(), opSuffixDebit, allowNegative)
		if err != nil {
			return err
		}
		transaction.FromBalanceAfter = decimalPtr(result.NewBalance)
	}

	if to != nil {
		result, err := e.applyOperation(ctx, transaction, to.AccountID, transaction.Amount, opSuffixCredit, false)
		if err != nil {
			if from != nil {
				e.compensateDebit(ctx, transaction, from.AccountID)
			}
			return err
		}
		transaction.ToBalanceAfter = decimalPtr(result.NewBalance)
	}

	return nil
}

func (e *transactionEngine) applyOperation(ctx context.Context, transaction *models.Transaction, accountID string, delta decimal.Decimal, opSuffix string, allowNegative bool) (*models.BalanceOperationResult, error) {
	operation := &models.BalanceOperation{
		OperationID:   transaction.TransactionID + opSuffix,
		Delta:         delta,
		TransactionID: transaction.TransactionID,
		Reason:        string(transaction.Type),
		AllowNegative: allowNegative,
	}

	result, err := e.accounts.ApplyBalanceOperation(ctx, accountID, operation)
	if err != nil {
		e.audit.LogTransactionEvent(ctx, "BALANCE_OPERATION_FAILED", transaction, models.AuditOutcomeFailure, map[string]interface{}{
			"account_id":   accountID,
			"operation_id": operation.OperationID,
			"error":        err.Error(),
		})
		return nil, err
	}

	if !result.Applied {
		logrus.WithFields(logrus.Fields{
			"transaction_id": transaction.TransactionID,
			"operation_id":   operation.OperationID,
		}).Info("Balance operation was already applied, treating as replay")
	}
	return result, nil
}

// compensateDebit credits the debited amount back after a failed credit
// leg. It runs on a detached context: compensation is the one thing that
// must not die with the request.
func (e *transactionEngine) compensateDebit(ctx context.Context, transaction *models.Transaction, accountID string) {
	operation := &models.BalanceOperation{
		OperationID:   transaction.TransactionID + opSuffixCompensate,
		Delta:         transaction.Amount,
		TransactionID: transaction.TransactionID,
		Reason:        "COMPENSATION",
	}

	opCtx, cancel := detach(ctx, terminalTimeout)
	defer cancel()

	if _, err := e.accounts.ApplyBalanceOperation(opCtx, accountID, operation); err != nil {
		logrus.WithFields(logrus.Fields{
			"transaction_id": transaction.TransactionID,
			"account_id":     accountID,
			"amount":         transaction.Amount.String(),
			"error":          err.Error(),
		}).Error("Compensating credit failed, account needs manual reconciliation")
		e.audit.LogSystemEvent(ctx, "COMPENSATION_FAILED", map[string]interface{}{
			"transaction_id": transaction.TransactionID,
			"account_id":     accountID,
			"amount":         transaction.Amount.String(),
		})
		return
	}

	e.audit.LogSystemEvent(ctx, "COMPENSATION_APPLIED", map[string]interface{}{
		"transaction_id": transaction.TransactionID,
		"account_id":     accountID,
		"amount":         transaction.Amount.String(),
	})
}

// reject handles failures before the ledger row exists. Nothing is
// persisted; the rejection is visible through metrics and audit only.
func (e *transactionEngine) reject(ctx context.Context, transaction *models.Transaction, start time.Time, cause error) {
	reason := failureReasonFor(cause)
	e.metrics.RecordTransactionFailed(string(transaction.Type), reason, e.now().Sub(start))
	e.audit.LogTransactionEvent(ctx, "TRANSACTION_REJECTED", transaction, models.AuditOutcomeFailure, map[string]interface{}{
		"failure_reason": reason,
		"error":          cause.Error(),
	})
	logrus.WithFields(logrus.Fields{
		"transaction_id": transaction.TransactionID,
		"type":           transaction.Type,
		"reason":         reason,
	}).Warn("Transaction rejected")
}

// fail transitions an already-persisted row to FAILED. Cached snapshots
// for both legs are dropped because a failed remote call leaves the true
// balance unknown.
func (e *transactionEngine) fail(ctx context.Context, transaction *models.Transaction, start time.Time, cause error) {
	reason := failureReasonFor(cause)
	transaction.MarkFailed(reason, transaction.CreatedBy)

	persistCtx, cancel := detach(ctx, terminalTimeout)
	err := e.transactionRepo.Update(persistCtx, transaction)
	cancel()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"transaction_id": transaction.TransactionID,
			"error":          err.Error(),
		}).Error("Failed to persist FAILED status, sweeper will reconcile")
	}

	e.metrics.RecordTransactionFailed(string(transaction.Type), reason, e.now().Sub(start))
	e.audit.LogTransactionEvent(ctx, "TRANSACTION_FAILED", transaction, models.AuditOutcomeFailure, map[string]interface{}{
		"failure_reason": reason,
		"error":          cause.Error(),
	})
	e.publishAsync(ctx, transaction, e.publisher.PublishTransactionFailed)
	e.invalidateAccounts(ctx, transaction)

	logrus.WithFields(logrus.Fields{
		"transaction_id": transaction.TransactionID,
		"type":           transaction.Type,
		"reason":         reason,
	}).Warn("Transaction failed")
}

func (e *transactionEngine) releaseReversalClaim(ctx context.Context, originalID, reversalID string) {
	persistCtx, cancel := detach(ctx, terminalTimeout)
	defer cancel()

	if err := e.transactionRepo.UnmarkReversed(persistCtx, originalID, reversalID); err != nil {
		logrus.WithFields(logrus.Fields{
			"transaction_id": originalID,
			"error":          err.Error(),
		}).Error("Failed to release reversal claim, row needs manual reconciliation")
		e.audit.LogSystemEvent(ctx, "REVERSAL_ROLLBACK_FAILED", map[string]interface{}{
			"transaction_id": originalID,
		})
		return
	}
	e.audit.LogSystemEvent(ctx, "REVERSAL_ROLLED_BACK", map[string]interface{}{
		"transaction_id": originalID,
	})
}

// publishAsync fires a lifecycle event without blocking the processing
// path. The row is copied first so the goroutine never races a terminal
// transition.
func (e *transactionEngine) publishAsync(ctx context.Context, transaction *models.Transaction, publish func(context.Context, *models.Transaction) error) {
	snapshot := *transaction
	pubCtx, cancel := detach(ctx, publishTimeout)
	go func() {
		defer cancel()
		if err := publish(pubCtx, &snapshot); err != nil {
			logrus.WithFields(logrus.Fields{
				"transaction_id": snapshot.TransactionID,
				"error":          err.Error(),
			}).Warn("Failed to publish transaction event")
		}
	}()
}

func (e *transactionEngine) invalidateAccounts(ctx context.Context, transaction *models.Transaction) {
	if e.accountCache == nil {
		return
	}
	for _, accountID := range []string{transaction.FromAccountID, transaction.ToAccountID} {
		if accountID == "" || accountID == models.ExternalAccount {
			continue
		}
		if err := e.accountCache.Invalidate(ctx, accountID); err != nil {
			logrus.WithFields(logrus.Fields{
				"account_id": accountID,
				"error":      err.Error(),
			}).Debug("Failed to invalidate account cache entry")
		}
	}
}

// failureReasonFor maps an error to the reason recorded on the row and in
// failure metrics.
func failureReasonFor(err error) string {
	appErr := apperrors.AsError(err)
	switch appErr.Kind {
	case apperrors.KindAccountNotFound:
		return models.FailureAccountNotFound
	case apperrors.KindInsufficientFunds:
		if appErr.Detail == models.FailureWouldGoNegative {
			return models.FailureWouldGoNegative
		}
		return models.FailureInsufficientFunds
	case apperrors.KindLimitExceeded:
		return models.FailureLimitExceeded
	case apperrors.KindUnavailable:
		return models.FailureServiceUnavailable
	case apperrors.KindValidation:
		if appErr.Detail == models.FailureAccountInactive {
			return models.FailureAccountInactive
		}
		return models.FailureBalanceOperation
	default:
		return models.FailureBalanceOperation
	}
}

// detach keeps the values of ctx (correlation id in particular) but drops
// its cancellation, for writes that must survive the request.
func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func withCorrelation(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, "correlation_id", correlationID)
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
