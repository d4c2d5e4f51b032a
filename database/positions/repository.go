// Package positions persists the trader_positions collection.
package positions

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hyperwatch/database"
)

const collPositions = "trader_positions"

// Repository handles position snapshot persistence.
type Repository struct {
	coll *mongo.Collection
}

// NewRepository creates a positions repository.
func NewRepository(db *database.Database) *Repository {
	return &Repository{coll: db.Collection(collPositions)}
}

// EnsureIndexes creates the composite (eth, coin, t) key and the TTL on t.
func (r *Repository) EnsureIndexes(ctx context.Context, retentionDays int) error {
	ttl := int32(retentionDays * 24 * 3600)
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "eth", Value: 1}, {Key: "coin", Value: 1}, {Key: "t", Value: -1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "t", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(ttl)},
	})
	if err != nil {
		return fmt.Errorf("EnsureIndexes trader_positions: %w", err)
	}
	return nil
}

// Save persists one position snapshot. The unique (eth, coin, t) key makes
// the write idempotent: a duplicate is treated as already persisted.
func (r *Repository) Save(ctx context.Context, doc database.PositionDoc) error {
	ctx, cancel := context.WithTimeout(ctx, database.WriteTimeout)
	defer cancel()

	_, err := r.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("Save %s/%s: %w", doc.Eth, doc.Coin, err)
	}
	return nil
}

// Last returns the most recent stored snapshot for (eth, coin), or
// (nil, nil) when none exists.
func (r *Repository) Last(ctx context.Context, eth, coin string) (*database.PositionDoc, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "t", Value: -1}})
	var doc database.PositionDoc
	err := r.coll.FindOne(ctx, bson.M{"eth": eth, "coin": coin}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Last %s/%s: %w", eth, coin, err)
	}
	return &doc, nil
}

// History returns recent snapshots for one trader, newest first.
func (r *Repository) History(ctx context.Context, eth string, limit int64) ([]database.PositionDoc, error) {
	opts := options.Find().SetSort(bson.D{{Key: "t", Value: -1}}).SetLimit(limit)
	cursor, err := r.coll.Find(ctx, bson.M{"eth": eth}, opts)
	if err != nil {
		return nil, fmt.Errorf("History %s: %w", eth, err)
	}
	var docs []database.PositionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("History %s decode: %w", eth, err)
	}
	return docs, nil
}
