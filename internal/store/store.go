// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

// Package store provides per-collection repositories. Every query goes
// through the database resilience layer: a named execution with a timeout and
// a bounded retry budget.
package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/theaterops/canteend/internal/database"
	"github.com/theaterops/canteend/internal/models"
)

// Collection names.
const (
	colTheaters  = "theaters"
	colProducts  = "products"
	colLedgers   = "monthly_stock_ledgers"
	colArtifacts = "qr_artifacts"
	colSettings  = "system_settings"
)

// Query budget shared by the repositories.
const (
	queryTimeout = 10 * time.Second
	queryRetries = 3
)

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("store: document not found")

// Store bundles the repositories over one database manager.
type Store struct {
	db *database.Manager
}

// New creates a Store.
func New(db *database.Manager) *Store {
	return &Store{db: db}
}

// ActiveTheaters lists theaters currently in service.
func (s *Store) ActiveTheaters(ctx context.Context) ([]models.Theater, error) {
	return database.Execute(ctx, s.db, "theaters.active", queryTimeout, queryRetries,
		func(ctx context.Context, db *mongo.Database) ([]models.Theater, error) {
			cur, err := db.Collection(colTheaters).Find(ctx, bson.M{"active": true})
			if err != nil {
				return nil, err
			}
			var theaters []models.Theater
			if err := cur.All(ctx, &theaters); err != nil {
				return nil, err
			}
			return theaters, nil
		})
}

// TheaterByID fetches one theater.
func (s *Store) TheaterByID(ctx context.Context, id primitive.ObjectID) (*models.Theater, error) {
	return database.Execute(ctx, s.db, "theaters.byID", queryTimeout, queryRetries,
		func(ctx context.Context, db *mongo.Database) (*models.Theater, error) {
			var theater models.Theater
			err := db.Collection(colTheaters).FindOne(ctx, bson.M{"_id": id}).Decode(&theater)
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, ErrNotFound
			}
			if err != nil {
				return nil, err
			}
			return &theater, nil
		})
}

// ActiveProducts lists a theater's products currently in service.
func (s *Store) ActiveProducts(ctx context.Context, theaterID primitive.ObjectID) ([]models.Product, error) {
	return database.Execute(ctx, s.db, "products.active", queryTimeout, queryRetries,
		func(ctx context.Context, db *mongo.Database) ([]models.Product, error) {
			cur, err := db.Collection(colProducts).Find(ctx, bson.M{
				"theaterId": theaterID,
				"active":    true,
			})
			if err != nil {
				return nil, err
			}
			var products []models.Product
			if err := cur.All(ctx, &products); err != nil {
				return nil, err
			}
			return products, nil
		})
}

// LedgerFor loads the unique ledger for (theater, product, year, month).
// Entries come back sorted by date; classification depends on that ordering.
func (s *Store) LedgerFor(ctx context.Context, theaterID, productID primitive.ObjectID, year int, month time.Month) (*models.MonthlyStockLedger, error) {
	led, err := database.Execute(ctx, s.db, "ledgers.byMonth", queryTimeout, queryRetries,
		func(ctx context.Context, db *mongo.Database) (*models.MonthlyStockLedger, error) {
			var led models.MonthlyStockLedger
			err := db.Collection(colLedgers).FindOne(ctx, bson.M{
				"theaterId": theaterID,
				"productId": productID,
				"year":      year,
				"month":     int(month),
			}).Decode(&led)
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, ErrNotFound
			}
			if err != nil {
				return nil, err
			}
			return &led, nil
		})
	if err != nil {
		return nil, err
	}
	led.SortEntriesByDate()
	return led, nil
}

// InsertQRArtifact records a generated artifact. The image bytes must already
// be stored; the row is created last so every reachable row has reachable bytes.
func (s *Store) InsertQRArtifact(ctx context.Context, artifact *models.QRArtifact) error {
	_, err := database.Execute(ctx, s.db, "qrArtifacts.insert", queryTimeout, queryRetries,
		func(ctx context.Context, db *mongo.Database) (struct{}, error) {
			if artifact.ID.IsZero() {
				artifact.ID = primitive.NewObjectID()
			}
			_, err := db.Collection(colArtifacts).InsertOne(ctx, artifact)
			return struct{}{}, err
		})
	return err
}

// DeleteQRArtifact removes an artifact row. Bytes are deleted first by the
// caller; a missing row is not an error.
func (s *Store) DeleteQRArtifact(ctx context.Context, id primitive.ObjectID) error {
	_, err := database.Execute(ctx, s.db, "qrArtifacts.delete", queryTimeout, queryRetries,
		func(ctx context.Context, db *mongo.Database) (struct{}, error) {
			_, err := db.Collection(colArtifacts).DeleteOne(ctx, bson.M{"_id": id})
			return struct{}{}, err
		})
	return err
}

// QRArtifactsByBatch lists artifacts generated by one screen batch.
func (s *Store) QRArtifactsByBatch(ctx context.Context, batchID string) ([]models.QRArtifact, error) {
	return database.Execute(ctx, s.db, "qrArtifacts.byBatch", queryTimeout, queryRetries,
		func(ctx context.Context, db *mongo.Database) ([]models.QRArtifact, error) {
			cur, err := db.Collection(colArtifacts).Find(ctx, bson.M{"batchId": batchID})
			if err != nil {
				return nil, err
			}
			var artifacts []models.QRArtifact
			if err := cur.All(ctx, &artifacts); err != nil {
				return nil, err
			}
			return artifacts, nil
		})
}

// GetSettings loads the singleton settings document.
func (s *Store) GetSettings(ctx context.Context) (*models.SystemSettings, error) {
	return database.Execute(ctx, s.db, "settings.get", queryTimeout, queryRetries,
		func(ctx context.Context, db *mongo.Database) (*models.SystemSettings, error) {
			var settings models.SystemSettings
			err := db.Collection(colSettings).FindOne(ctx, bson.M{}).Decode(&settings)
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, ErrNotFound
			}
			if err != nil {
				return nil, err
			}
			return &settings, nil
		})
}

// SaveSettings upserts the singleton settings document.
func (s *Store) SaveSettings(ctx context.Context, settings *models.SystemSettings) error {
	_, err := database.Execute(ctx, s.db, "settings.save", queryTimeout, queryRetries,
		func(ctx context.Context, db *mongo.Database) (struct{}, error) {
			settings.UpdatedAt = time.Now().UTC()
			filter := bson.M{}
			if !settings.ID.IsZero() {
				filter = bson.M{"_id": settings.ID}
			}
			_, err := db.Collection(colSettings).ReplaceOne(ctx, filter, settings,
				options.Replace().SetUpsert(true))
			return struct{}{}, err
		})
	return err
}
