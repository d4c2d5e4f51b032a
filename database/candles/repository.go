// Package candles persists the per-symbol, per-interval candle
// collections ({symbol}_candles_{interval}).
package candles

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hyperwatch/database"
	"hyperwatch/venue"
)

// Repository handles candle persistence for one symbol.
type Repository struct {
	db     *database.Database
	symbol string
}

// NewRepository creates a candle repository for the configured symbol.
func NewRepository(db *database.Database, symbol string) *Repository {
	return &Repository{db: db, symbol: strings.ToLower(symbol)}
}

// CollectionName returns the fixed collection name for an interval.
func (r *Repository) CollectionName(interval string) string {
	return fmt.Sprintf("%s_candles_%s", r.symbol, interval)
}

func (r *Repository) coll(interval string) *mongo.Collection {
	return r.db.Collection(r.CollectionName(interval))
}

// EnsureIndexes creates the unique t key with TTL for every interval.
func (r *Repository) EnsureIndexes(ctx context.Context, retentionDays int) error {
	ttl := int32(retentionDays * 24 * 3600)
	for _, interval := range venue.Intervals {
		_, err := r.coll(interval).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "t", Value: 1}},
			Options: options.Index().SetUnique(true).SetExpireAfterSeconds(ttl),
		})
		if err != nil {
			return fmt.Errorf("EnsureIndexes %s: %w", r.CollectionName(interval), err)
		}
	}
	return nil
}

// Upsert writes one bucket. Later updates to an in-progress bucket
// overwrite the prior row: bucket-start uniquely identifies a candle.
func (r *Repository) Upsert(ctx context.Context, interval string, doc database.CandleDoc) error {
	ctx, cancel := context.WithTimeout(ctx, database.WriteTimeout)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"o": doc.Open,
		"h": doc.High,
		"l": doc.Low,
		"c": doc.Close,
		"v": doc.Volume,
	}}
	_, err := r.coll(interval).UpdateOne(ctx, bson.M{"t": doc.T}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("Upsert %s t=%v: %w", r.CollectionName(interval), doc.T, err)
	}
	return nil
}

// Recent returns the latest n buckets for an interval, oldest first.
func (r *Repository) Recent(ctx context.Context, interval string, n int64) ([]database.CandleDoc, error) {
	opts := options.Find().SetSort(bson.D{{Key: "t", Value: -1}}).SetLimit(n)
	cursor, err := r.coll(interval).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("Recent %s: %w", r.CollectionName(interval), err)
	}
	var docs []database.CandleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("Recent %s decode: %w", r.CollectionName(interval), err)
	}
	// reverse to chronological order
	for i, j := 0, len(docs)-1; i < j; i, j = i+1, j-1 {
		docs[i], docs[j] = docs[j], docs[i]
	}
	return docs, nil
}

// Since returns buckets with t >= from, oldest first.
func (r *Repository) Since(ctx context.Context, interval string, from time.Time) ([]database.CandleDoc, error) {
	opts := options.Find().SetSort(bson.D{{Key: "t", Value: 1}})
	cursor, err := r.coll(interval).Find(ctx, bson.M{"t": bson.M{"$gte": from}}, opts)
	if err != nil {
		return nil, fmt.Errorf("Since %s: %w", r.CollectionName(interval), err)
	}
	var docs []database.CandleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("Since %s decode: %w", r.CollectionName(interval), err)
	}
	return docs, nil
}
