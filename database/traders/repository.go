// Package traders persists the tracked_traders and trader_scores
// collections.
package traders

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hyperwatch/database"
)

const (
	collTracked = "tracked_traders"
	collScores  = "trader_scores"
)

// Repository handles tracked trader persistence.
type Repository struct {
	tracked *mongo.Collection
	scores  *mongo.Collection
}

// NewRepository creates a traders repository.
func NewRepository(db *database.Database) *Repository {
	return &Repository{
		tracked: db.Collection(collTracked),
		scores:  db.Collection(collScores),
	}
}

// EnsureIndexes creates the unique key on eth, the secondary indices, and
// the score history TTL.
func (r *Repository) EnsureIndexes(ctx context.Context, scoreRetentionDays int) error {
	_, err := r.tracked.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "eth", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "score", Value: -1}}},
		{Keys: bson.D{{Key: "active", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("EnsureIndexes tracked_traders: %w", err)
	}

	ttl := int32(scoreRetentionDays * 24 * 3600)
	_, err = r.scores.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "eth", Value: 1}, {Key: "t", Value: -1}}},
		{Keys: bson.D{{Key: "t", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(ttl)},
	})
	if err != nil {
		return fmt.Errorf("EnsureIndexes trader_scores: %w", err)
	}
	return nil
}

// Upsert writes current row state for a tracked trader. added_at is set
// only on first insert; the active flag is forced true.
func (r *Repository) Upsert(ctx context.Context, doc database.TrackedTraderDoc) error {
	ctx, cancel := context.WithTimeout(ctx, database.WriteTimeout)
	defer cancel()

	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"name":       doc.DisplayName,
			"score":      doc.Score,
			"tags":       doc.Tags,
			"active":     true,
			"acct":       doc.AccountValue,
			"windows":    doc.Windows,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{"added_at": now},
	}
	_, err := r.tracked.UpdateOne(ctx, bson.M{"eth": doc.Eth}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("Upsert %s: %w", doc.Eth, err)
	}
	return nil
}

// Deactivate marks a removed trader inactive while retaining its history.
func (r *Repository) Deactivate(ctx context.Context, eth string) error {
	ctx, cancel := context.WithTimeout(ctx, database.WriteTimeout)
	defer cancel()

	update := bson.M{"$set": bson.M{"active": false, "updated_at": time.Now().UTC()}}
	_, err := r.tracked.UpdateOne(ctx, bson.M{"eth": eth}, update)
	if err != nil {
		return fmt.Errorf("Deactivate %s: %w", eth, err)
	}
	return nil
}

// GetActive returns every trader with active=true.
func (r *Repository) GetActive(ctx context.Context) ([]database.TrackedTraderDoc, error) {
	cursor, err := r.tracked.Find(ctx, bson.M{"active": true}, options.Find().SetSort(bson.D{{Key: "score", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("GetActive: %w", err)
	}
	var docs []database.TrackedTraderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("GetActive decode: %w", err)
	}
	return docs, nil
}

// Get returns one trader by address; a miss yields (nil, nil).
func (r *Repository) Get(ctx context.Context, eth string) (*database.TrackedTraderDoc, error) {
	var doc database.TrackedTraderDoc
	err := r.tracked.FindOne(ctx, bson.M{"eth": eth}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get %s: %w", eth, err)
	}
	return &doc, nil
}

// SaveScore appends one score history row.
func (r *Repository) SaveScore(ctx context.Context, doc database.ScoreDoc) error {
	ctx, cancel := context.WithTimeout(ctx, database.WriteTimeout)
	defer cancel()

	if _, err := r.scores.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("SaveScore %s: %w", doc.Eth, err)
	}
	return nil
}
