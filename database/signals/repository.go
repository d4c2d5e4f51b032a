// Package signals persists the signals, trader_signals and
// leaderboard_history collections.
package signals

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hyperwatch/database"
	"hyperwatch/events"
)

const (
	collSignals       = "signals"
	collTraderSignals = "trader_signals"
	collLeaderboard   = "leaderboard_history"
)

// Repository handles signal and alert persistence on the scraper side.
type Repository struct {
	signals       *mongo.Collection
	traderSignals *mongo.Collection
	leaderboard   *mongo.Collection
}

// NewRepository creates a signals repository.
func NewRepository(db *database.Database) *Repository {
	return &Repository{
		signals:       db.Collection(collSignals),
		traderSignals: db.Collection(collTraderSignals),
		leaderboard:   db.Collection(collLeaderboard),
	}
}

// EnsureIndexes creates composite keys and TTLs.
func (r *Repository) EnsureIndexes(ctx context.Context, signalDays, leaderboardDays int) error {
	signalTTL := int32(signalDays * 24 * 3600)
	_, err := r.signals.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "t", Value: -1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "t", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(signalTTL)},
	})
	if err != nil {
		return fmt.Errorf("EnsureIndexes signals: %w", err)
	}

	_, err = r.traderSignals.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "eth", Value: 1}, {Key: "t", Value: -1}}},
		{Keys: bson.D{{Key: "t", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(signalTTL)},
	})
	if err != nil {
		return fmt.Errorf("EnsureIndexes trader_signals: %w", err)
	}

	lbTTL := int32(leaderboardDays * 24 * 3600)
	_, err = r.leaderboard.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "t", Value: 1}}, Options: options.Index().SetUnique(true).SetExpireAfterSeconds(lbTTL)},
	})
	if err != nil {
		return fmt.Errorf("EnsureIndexes leaderboard_history: %w", err)
	}
	return nil
}

// SaveAggregateSignal persists one aggregate signal, keyed by (symbol, t).
// The payload keeps its wire field names; t is stored as a Date so the TTL
// index applies.
func (r *Repository) SaveAggregateSignal(ctx context.Context, sig events.AggregateSignal) error {
	ctx, cancel := context.WithTimeout(ctx, database.WriteTimeout)
	defer cancel()

	doc, err := database.ToBSON(sig)
	if err != nil {
		return fmt.Errorf("SaveAggregateSignal: %w", err)
	}
	doc["t"] = time.UnixMilli(sig.T).UTC()

	filter := bson.M{"symbol": sig.Symbol, "t": doc["t"]}
	_, err = r.signals.UpdateOne(ctx, filter, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("SaveAggregateSignal %s: %w", sig.Symbol, err)
	}
	return nil
}

// SaveWhaleAlert persists one whale alert under trader_signals, keyed by
// (eth, t). Idempotent upsert: replaying an event writes one document.
func (r *Repository) SaveWhaleAlert(ctx context.Context, alert events.WhaleAlert) error {
	ctx, cancel := context.WithTimeout(ctx, database.WriteTimeout)
	defer cancel()

	doc, err := database.ToBSON(alert)
	if err != nil {
		return fmt.Errorf("SaveWhaleAlert: %w", err)
	}
	doc["eth"] = alert.Address
	doc["t"] = time.UnixMilli(alert.T).UTC()

	filter := bson.M{"eth": alert.Address, "t": doc["t"], "change_type": alert.ChangeType}
	_, err = r.traderSignals.UpdateOne(ctx, filter, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("SaveWhaleAlert %s: %w", alert.Address, err)
	}
	return nil
}

// SaveLeaderboardRefresh archives one leaderboard refresh outcome.
func (r *Repository) SaveLeaderboardRefresh(ctx context.Context, doc database.LeaderboardHistoryDoc) error {
	ctx, cancel := context.WithTimeout(ctx, database.WriteTimeout)
	defer cancel()

	_, err := r.leaderboard.UpdateOne(ctx,
		bson.M{"t": doc.T},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("SaveLeaderboardRefresh: %w", err)
	}
	return nil
}

// RecentSignals returns the latest persisted signals for a symbol,
// newest first.
func (r *Repository) RecentSignals(ctx context.Context, symbol string, limit int64) ([]bson.M, error) {
	opts := options.Find().SetSort(bson.D{{Key: "t", Value: -1}}).SetLimit(limit)
	cursor, err := r.signals.Find(ctx, bson.M{"symbol": symbol}, opts)
	if err != nil {
		return nil, fmt.Errorf("RecentSignals %s: %w", symbol, err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("RecentSignals %s decode: %w", symbol, err)
	}
	return docs, nil
}

// RecentWhaleAlerts returns the latest persisted whale alerts.
func (r *Repository) RecentWhaleAlerts(ctx context.Context, limit int64) ([]bson.M, error) {
	opts := options.Find().SetSort(bson.D{{Key: "t", Value: -1}}).SetLimit(limit)
	cursor, err := r.traderSignals.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("RecentWhaleAlerts: %w", err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("RecentWhaleAlerts decode: %w", err)
	}
	return docs, nil
}
