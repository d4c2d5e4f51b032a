// Package database implements the document store layer: connection
// handling plus document models. Per-concern repositories live in the
// sub-packages (traders, positions, candles, signals).
package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// WriteTimeout bounds every single-document write.
const WriteTimeout = 5 * time.Second

// Database wraps the mongo client and the selected database.
type Database struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials the document store and verifies it with a ping.
func Connect(ctx context.Context, url, name string) (*Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	log.Printf("✅ Connected to document store (database %s)", name)
	return &Database{client: client, db: client.Database(name)}, nil
}

// Collection returns a handle to a named collection.
func (d *Database) Collection(name string) *mongo.Collection {
	return d.db.Collection(name)
}

// DB returns the underlying database handle.
func (d *Database) DB() *mongo.Database { return d.db }

// Close disconnects from the store.
func (d *Database) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}
