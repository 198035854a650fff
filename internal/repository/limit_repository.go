package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"transaction-api/internal/apperrors"
	"transaction-api/internal/models"
)

// LimitRepository stores configured transaction limits, one row per
// (account type, transaction type) pair.
type LimitRepository interface {
	Upsert(ctx context.Context, limit *models.TransactionLimit) error
	Get(ctx context.Context, accountType string, txType models.TransactionType) (*models.TransactionLimit, error)
	List(ctx context.Context) ([]*models.TransactionLimit, error)
	Delete(ctx context.Context, accountType string, txType models.TransactionType) error
	CreateIndexes(ctx context.Context) error
}

type limitRepository struct {
	collection *mongo.Collection
}

func NewLimitRepository(db *mongo.Database) LimitRepository {
	return &limitRepository{
		collection: db.Collection("transaction_limits"),
	}
}

func (r *limitRepository) Upsert(ctx context.Context, limit *models.TransactionLimit) error {
	limit.UpdatedAt = time.Now().UTC()

	filter := bson.M{
		"account_type":     limit.AccountType,
		"transaction_type": limit.TransactionType,
	}
	opts := options.Replace().SetUpsert(true)

	if _, err := r.collection.ReplaceOne(ctx, filter, limit, opts); err != nil {
		return storeError("upsert limit", err)
	}
	return nil
}

func (r *limitRepository) Get(ctx context.Context, accountType string, txType models.TransactionType) (*models.TransactionLimit, error) {
	filter := bson.M{
		"account_type":     accountType,
		"transaction_type": txType,
	}

	var limit models.TransactionLimit
	err := r.collection.FindOne(ctx, filter).Decode(&limit)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperrors.Newf(apperrors.KindNotFound, "no limit configured for %s/%s", accountType, txType)
		}
		return nil, storeError("get limit", err)
	}
	return &limit, nil
}

func (r *limitRepository) List(ctx context.Context) ([]*models.TransactionLimit, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "account_type", Value: 1},
		{Key: "transaction_type", Value: 1},
	})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, storeError("list limits", err)
	}
	defer cursor.Close(ctx)

	limits := make([]*models.TransactionLimit, 0)
	for cursor.Next(ctx) {
		var limit models.TransactionLimit
		if err := cursor.Decode(&limit); err != nil {
			continue
		}
		limits = append(limits, &limit)
	}

	return limits, cursor.Err()
}

func (r *limitRepository) Delete(ctx context.Context, accountType string, txType models.TransactionType) error {
	filter := bson.M{
		"account_type":     accountType,
		"transaction_type": txType,
	}

	result, err := r.collection.DeleteOne(ctx, filter)
	if err != nil {
		return storeError("delete limit", err)
	}
	if result.DeletedCount == 0 {
		return apperrors.Newf(apperrors.KindNotFound, "no limit configured for %s/%s", accountType, txType)
	}
	return nil
}

func (r *limitRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "account_type", Value: 1},
				{Key: "transaction_type", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "active", Value: 1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create limit indexes: %w", err)
	}
	return nil
}
