package repository

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"transaction-api/internal/apperrors"
	"transaction-api/internal/models"
)

// TransactionRepository is the persistence contract for the ledger.
type TransactionRepository interface {
	Create(ctx context.Context, transaction *models.Transaction) error
	Update(ctx context.Context, transaction *models.Transaction) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error)
	GetByAccountID(ctx context.Context, accountID string, page models.Page) (*models.PagedTransactions, error)
	GetByUserID(ctx context.Context, userID string, page models.Page) (*models.PagedTransactions, error)
	GetByStatus(ctx context.Context, status models.TransactionStatus, page models.Page) (*models.PagedTransactions, error)
	Search(ctx context.Context, filter *models.SearchFilter, page models.Page) (*models.PagedTransactions, error)
	FindStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*models.Transaction, error)
	GetReversals(ctx context.Context, originalTransactionID string) ([]*models.Transaction, error)
	IsReversed(ctx context.Context, transactionID string) (bool, error)
	MarkReversed(ctx context.Context, originalID, reversalID, reason, reversedBy string, at time.Time) error
	UnmarkReversed(ctx context.Context, originalID, reversalID string) error
	GetAccountStats(ctx context.Context, accountID string, from, to time.Time) (*models.TransactionStats, error)
	GetUserStats(ctx context.Context, userID string, from, to time.Time) (*models.TransactionStats, error)
	GetDailyUsage(ctx context.Context, accountID string, txType models.TransactionType, day time.Time) (*models.LimitUsage, error)
	GetMonthlyUsage(ctx context.Context, accountID string, txType models.TransactionType, month time.Time) (*models.LimitUsage, error)
	CountByStatus(ctx context.Context) (map[models.TransactionStatus]int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses ...models.TransactionStatus) (int64, error)
	CreateIndexes(ctx context.Context) error
}

type transactionRepository struct {
	collection *mongo.Collection
}

func NewTransactionRepository(db *mongo.Database) TransactionRepository {
	return &transactionRepository{
		collection: db.Collection("transactions"),
	}
}

// usageStatuses are the statuses counted toward limit usage and money
// sums. A reversed transaction did complete and keeps its consumed quota.
var usageStatuses = []models.TransactionStatus{models.StatusCompleted, models.StatusReversed}

func (r *transactionRepository) Create(ctx context.Context, transaction *models.Transaction) error {
	if transaction.CreatedAt.IsZero() {
		transaction.CreatedAt = time.Now().UTC()
	}

	result, err := r.collection.InsertOne(ctx, transaction)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.Newf(apperrors.KindConflict, "transaction %s already exists", transaction.TransactionID)
		}
		return storeError("create transaction", err)
	}

	transaction.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

// Update persists the full row, but only while it is still PROCESSING.
// Terminal rows never change through this path, which keeps the status
// machine monotone even under concurrent writers.
func (r *transactionRepository) Update(ctx context.Context, transaction *models.Transaction) error {
	filter := bson.M{
		"_id":    transaction.ID,
		"status": models.StatusProcessing,
	}

	result, err := r.collection.ReplaceOne(ctx, filter, transaction)
	if err != nil {
		return storeError("update transaction", err)
	}

	if result.MatchedCount == 0 {
		return apperrors.Newf(apperrors.KindConflict, "transaction %s is no longer updatable", transaction.TransactionID)
	}

	return nil
}

func (r *transactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	var transaction models.Transaction
	err := r.collection.FindOne(ctx, bson.M{"transaction_id": transactionID}).Decode(&transaction)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperrors.Newf(apperrors.KindNotFound, "transaction %s not found", transactionID)
		}
		return nil, storeError("get transaction", err)
	}
	return &transaction, nil
}

func (r *transactionRepository) GetByAccountID(ctx context.Context, accountID string, page models.Page) (*models.PagedTransactions, error) {
	filter := bson.M{
		"$or": []bson.M{
			{"from_account_id": accountID},
			{"to_account_id": accountID},
		},
	}
	return r.findPage(ctx, filter, page)
}

func (r *transactionRepository) GetByUserID(ctx context.Context, userID string, page models.Page) (*models.PagedTransactions, error) {
	return r.findPage(ctx, bson.M{"created_by": userID}, page)
}

func (r *transactionRepository) GetByStatus(ctx context.Context, status models.TransactionStatus, page models.Page) (*models.PagedTransactions, error) {
	return r.findPage(ctx, bson.M{"status": status}, page)
}

func (r *transactionRepository) Search(ctx context.Context, filter *models.SearchFilter, page models.Page) (*models.PagedTransactions, error) {
	query := bson.M{}

	if filter.AccountID != "" {
		query["$or"] = []bson.M{
			{"from_account_id": filter.AccountID},
			{"to_account_id": filter.AccountID},
		}
	}
	if filter.CreatedBy != "" {
		query["created_by"] = filter.CreatedBy
	}
	if filter.Type != "" {
		query["type"] = filter.Type
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Currency != "" {
		query["currency"] = filter.Currency
	}
	if filter.Reference != "" {
		query["reference"] = filter.Reference
	}
	if filter.Text != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(filter.Text), Options: "i"}
		query["$and"] = []bson.M{
			{"$or": []bson.M{
				{"description": pattern},
				{"reference": pattern},
			}},
		}
	}
	if filter.MinAmount != nil || filter.MaxAmount != nil {
		amount := bson.M{}
		if filter.MinAmount != nil {
			amount["$gte"] = *filter.MinAmount
		}
		if filter.MaxAmount != nil {
			amount["$lte"] = *filter.MaxAmount
		}
		query["amount"] = amount
	}
	if filter.From != nil || filter.To != nil {
		window := bson.M{}
		if filter.From != nil {
			window["$gte"] = *filter.From
		}
		if filter.To != nil {
			window["$lte"] = *filter.To
		}
		query["created_at"] = window
	}

	return r.findPage(ctx, query, page)
}

func (r *transactionRepository) FindStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*models.Transaction, error) {
	filter := bson.M{
		"status":     models.StatusProcessing,
		"created_at": bson.M{"$lt": olderThan},
	}
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.M{"created_at": 1})

	return r.findMany(ctx, filter, opts, "find stale transactions")
}

func (r *transactionRepository) GetReversals(ctx context.Context, originalTransactionID string) ([]*models.Transaction, error) {
	filter := bson.M{"original_transaction_id": originalTransactionID}
	opts := options.Find().SetSort(bson.M{"created_at": -1})

	return r.findMany(ctx, filter, opts, "get reversals")
}

// IsReversed reports whether the transaction is reversed or has a live
// reversal in flight against it.
func (r *transactionRepository) IsReversed(ctx context.Context, transactionID string) (bool, error) {
	filter := bson.M{
		"$or": []bson.M{
			{"transaction_id": transactionID, "is_reversed": true},
			{"original_transaction_id": transactionID, "status": bson.M{"$in": []models.TransactionStatus{
				models.StatusProcessing, models.StatusCompleted,
			}}},
		},
	}

	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return false, storeError("check reversal", err)
	}
	return count > 0, nil
}

// MarkReversed flips the original row to REVERSED, guarded so only one
// reversal can ever win: the update matches only while the row is still
// COMPLETED and unreversed.
func (r *transactionRepository) MarkReversed(ctx context.Context, originalID, reversalID, reason, reversedBy string, at time.Time) error {
	filter := bson.M{
		"transaction_id": originalID,
		"status":         models.StatusCompleted,
		"is_reversed":    false,
	}
	update := bson.M{
		"$set": bson.M{
			"status":                  models.StatusReversed,
			"is_reversed":             true,
			"reversal_transaction_id": reversalID,
			"reversal_reason":         reason,
			"reversed_at":             at,
			"reversed_by":             reversedBy,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return storeError("mark reversed", err)
	}

	if result.MatchedCount == 0 {
		return apperrors.Newf(apperrors.KindAlreadyReversed, "transaction %s is not reversible", originalID)
	}

	return nil
}

// UnmarkReversed releases a reversal claim after the compensating row
// failed to process. The reversal id fences the filter, so only the claim
// taken for that specific reversal can be released.
func (r *transactionRepository) UnmarkReversed(ctx context.Context, originalID, reversalID string) error {
	filter := bson.M{
		"transaction_id":          originalID,
		"status":                  models.StatusReversed,
		"reversal_transaction_id": reversalID,
	}
	update := bson.M{
		"$set": bson.M{
			"status":      models.StatusCompleted,
			"is_reversed": false,
		},
		"$unset": bson.M{
			"reversal_transaction_id": "",
			"reversal_reason":         "",
			"reversed_at":             "",
			"reversed_by":             "",
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return storeError("unmark reversed", err)
	}

	if result.MatchedCount == 0 {
		return apperrors.Newf(apperrors.KindConflict, "reversal claim on %s was not found", originalID)
	}

	return nil
}

func (r *transactionRepository) GetAccountStats(ctx context.Context, accountID string, from, to time.Time) (*models.TransactionStats, error) {
	match := bson.M{
		"$or": []bson.M{
			{"from_account_id": accountID},
			{"to_account_id": accountID},
		},
		"created_at": bson.M{"$gte": from, "$lte": to},
	}

	moneyIn := bson.M{"$cond": bson.A{
		bson.M{"$and": bson.A{
			bson.M{"$eq": bson.A{"$to_account_id", accountID}},
			bson.M{"$in": bson.A{"$status", usageStatuses}},
		}},
		"$amount", 0,
	}}
	moneyOut := bson.M{"$cond": bson.A{
		bson.M{"$and": bson.A{
			bson.M{"$eq": bson.A{"$from_account_id", accountID}},
			bson.M{"$in": bson.A{"$status", usageStatuses}},
		}},
		"$amount", 0,
	}}

	return r.aggregateStats(ctx, match, moneyIn, moneyOut, from, to)
}

func (r *transactionRepository) GetUserStats(ctx context.Context, userID string, from, to time.Time) (*models.TransactionStats, error) {
	match := bson.M{
		"created_by": userID,
		"created_at": bson.M{"$gte": from, "$lte": to},
	}

	moneyIn := bson.M{"$cond": bson.A{
		bson.M{"$and": bson.A{
			bson.M{"$eq": bson.A{"$type", models.TypeDeposit}},
			bson.M{"$in": bson.A{"$status", usageStatuses}},
		}},
		"$amount", 0,
	}}
	moneyOut := bson.M{"$cond": bson.A{
		bson.M{"$and": bson.A{
			bson.M{"$in": bson.A{"$type", bson.A{models.TypeWithdrawal, models.TypeTransfer}}},
			bson.M{"$in": bson.A{"$status", usageStatuses}},
		}},
		"$amount", 0,
	}}

	return r.aggregateStats(ctx, match, moneyIn, moneyOut, from, to)
}

func (r *transactionRepository) aggregateStats(ctx context.Context, match, moneyIn, moneyOut bson.M, from, to time.Time) (*models.TransactionStats, error) {
	settled := bson.M{"$in": bson.A{"$status", usageStatuses}}
	statusCount := func(s models.TransactionStatus) bson.M {
		return bson.M{"$sum": bson.M{"$cond": bson.A{
			bson.M{"$eq": bson.A{"$status", s}}, 1, 0,
		}}}
	}
	typeCount := func(t models.TransactionType) bson.M {
		return bson.M{"$sum": bson.M{"$cond": bson.A{
			bson.M{"$eq": bson.A{"$type", t}}, 1, 0,
		}}}
	}
	settledAmount := func(and ...bson.M) bson.M {
		cond := bson.A{settled}
		for _, c := range and {
			cond = append(cond, c)
		}
		return bson.M{"$sum": bson.M{"$cond": bson.A{
			bson.M{"$and": cond}, "$amount", 0,
		}}}
	}

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	pipeline := []bson.M{
		{"$match": match},
		{"$group": bson.M{
			"_id":              nil,
			"total_count":      bson.M{"$sum": 1},
			"processing_count": statusCount(models.StatusProcessing),
			"completed_count":  statusCount(models.StatusCompleted),
			"failed_count":     statusCount(models.StatusFailed),
			"reversed_count":   statusCount(models.StatusReversed),
			"deposit_count":    typeCount(models.TypeDeposit),
			"withdrawal_count": typeCount(models.TypeWithdrawal),
			"transfer_count":   typeCount(models.TypeTransfer),
			"reversal_count":   typeCount(models.TypeReversal),
			"money_in":         bson.M{"$sum": moneyIn},
			"money_out":        bson.M{"$sum": moneyOut},
			"total_amount":     settledAmount(),
			"deposit_amount":   settledAmount(bson.M{"$eq": bson.A{"$type", models.TypeDeposit}}),
			"withdrawal_amount": settledAmount(
				bson.M{"$eq": bson.A{"$type", models.TypeWithdrawal}},
			),
			"transfer_amount": settledAmount(bson.M{"$eq": bson.A{"$type", models.TypeTransfer}}),
			"largest_amount": bson.M{"$max": bson.M{"$cond": bson.A{
				settled, "$amount", 0,
			}}},
			// $min skips nulls, so rows outside the money sums never win;
			// an all-null result decodes to a zero decimal.
			"smallest_amount": bson.M{"$min": bson.M{"$cond": bson.A{
				settled, "$amount", nil,
			}}},
			"daily_total":   settledAmount(bson.M{"$gte": bson.A{"$created_at", dayStart}}),
			"monthly_total": settledAmount(bson.M{"$gte": bson.A{"$created_at", monthStart}}),
		}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, storeError("aggregate stats", err)
	}
	defer cursor.Close(ctx)

	stats := &models.TransactionStats{From: from, To: to}
	if cursor.Next(ctx) {
		if err := cursor.Decode(stats); err != nil {
			return nil, storeError("decode stats", err)
		}
		stats.From = from
		stats.To = to
	}

	return stats, cursor.Err()
}

func (r *transactionRepository) GetDailyUsage(ctx context.Context, accountID string, txType models.TransactionType, day time.Time) (*models.LimitUsage, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return r.usageWindow(ctx, accountID, txType, start, start.AddDate(0, 0, 1))
}

func (r *transactionRepository) GetMonthlyUsage(ctx context.Context, accountID string, txType models.TransactionType, month time.Time) (*models.LimitUsage, error) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	return r.usageWindow(ctx, accountID, txType, start, start.AddDate(0, 1, 0))
}

// usageWindow sums completed amounts and counts for the account side the
// transaction type moves money through: the credited account for deposits,
// the debited account otherwise.
func (r *transactionRepository) usageWindow(ctx context.Context, accountID string, txType models.TransactionType, start, end time.Time) (*models.LimitUsage, error) {
	sideField := "from_account_id"
	if txType == models.TypeDeposit {
		sideField = "to_account_id"
	}

	pipeline := []bson.M{
		{"$match": bson.M{
			sideField:    accountID,
			"type":       txType,
			"status":     bson.M{"$in": usageStatuses},
			"created_at": bson.M{"$gte": start, "$lt": end},
		}},
		{"$group": bson.M{
			"_id":    nil,
			"amount": bson.M{"$sum": "$amount"},
			"count":  bson.M{"$sum": 1},
		}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, storeError("aggregate usage", err)
	}
	defer cursor.Close(ctx)

	usage := &models.LimitUsage{}
	if cursor.Next(ctx) {
		if err := cursor.Decode(usage); err != nil {
			return nil, storeError("decode usage", err)
		}
	}

	return usage, cursor.Err()
}

func (r *transactionRepository) CountByStatus(ctx context.Context) (map[models.TransactionStatus]int64, error) {
	pipeline := []bson.M{
		{"$group": bson.M{
			"_id":   "$status",
			"count": bson.M{"$sum": 1},
		}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, storeError("count by status", err)
	}
	defer cursor.Close(ctx)

	counts := make(map[models.TransactionStatus]int64)
	for cursor.Next(ctx) {
		var row struct {
			Status models.TransactionStatus `bson:"_id"`
			Count  int64                    `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			continue
		}
		counts[row.Status] = row.Count
	}

	return counts, cursor.Err()
}

func (r *transactionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses ...models.TransactionStatus) (int64, error) {
	filter := bson.M{
		"status":     bson.M{"$in": statuses},
		"created_at": bson.M{"$lt": cutoff},
	}

	result, err := r.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, storeError("delete old transactions", err)
	}
	return result.DeletedCount, nil
}

func (r *transactionRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "transaction_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "from_account_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "to_account_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "created_by", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "original_transaction_id", Value: 1}},
			Options: options.Index().SetPartialFilterExpression(
				bson.M{"original_transaction_id": bson.M{"$exists": true}},
			),
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create transaction indexes: %w", err)
	}
	return nil
}

func (r *transactionRepository) findPage(ctx context.Context, filter bson.M, page models.Page) (*models.PagedTransactions, error) {
	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, storeError("count transactions", err)
	}

	sortDir := -1
	if page.Asc {
		sortDir = 1
	}
	opts := options.Find().
		SetLimit(page.Limit()).
		SetSkip(page.Skip()).
		SetSort(bson.M{"created_at": sortDir})

	items, err := r.findMany(ctx, filter, opts, "list transactions")
	if err != nil {
		return nil, err
	}

	return &models.PagedTransactions{
		Items: items,
		Total: total,
		Page:  page,
	}, nil
}

func (r *transactionRepository) findMany(ctx context.Context, filter bson.M, opts *options.FindOptions, op string) ([]*models.Transaction, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeError(op, err)
	}
	defer cursor.Close(ctx)

	transactions := make([]*models.Transaction, 0)
	for cursor.Next(ctx) {
		var transaction models.Transaction
		if err := cursor.Decode(&transaction); err != nil {
			continue
		}
		transactions = append(transactions, &transaction)
	}

	return transactions, cursor.Err()
}

// storeError classifies driver failures as unavailable so the HTTP layer
// answers 503 rather than 500 when the database is down.
func storeError(op string, err error) error {
	return apperrors.Wrap(apperrors.KindUnavailable, fmt.Sprintf("transaction store: failed to %s", op), err)
}
