package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collResponses   = "survey_responses"
	collAnswers     = "answers"
	collTabular     = "tabular_answers"
	collSurveys     = "surveys"
	collMedications = "medications"
)

// OpenMongo connects to MongoDB, ensures indexes and returns the Mongo-backed store
func OpenMongo(ctx context.Context, uri, dbName string, logger *slog.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(dbName)
	if err := ensureIndexes(ctx, db, logger); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return &Store{
		Responses: NewResponseRepo(db),
		Answers:   NewAnswerRepo(db),
		Catalog:   NewCatalogRepo(db),
		Close:     client.Disconnect,
	}, nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database, logger *slog.Logger) error {
	// Unique keys are the only concurrency anchor, so a failure here is fatal.
	unique := []struct {
		coll string
		keys bson.D
	}{
		{collResponses, bson.D{
			{Key: "centerRef", Value: 1},
			{Key: "surveyRef", Value: 1},
			{Key: "submittedBy", Value: 1},
			{Key: "year", Value: 1},
			{Key: "month", Value: 1},
			{Key: "evaluationVersion", Value: 1},
		}},
		{collAnswers, bson.D{{Key: "responseId", Value: 1}, {Key: "questionId", Value: 1}}},
		{collTabular, bson.D{{Key: "responseId", Value: 1}, {Key: "questionKey", Value: 1}, {Key: "isDraft", Value: 1}}},
	}
	for _, idx := range unique {
		if err := createIndex(ctx, db.Collection(idx.coll), idx.keys, true); err != nil {
			return fmt.Errorf("create unique index on %s: %w", idx.coll, err)
		}
	}

	// Sweep lookups
	if err := createIndex(ctx, db.Collection(collResponses), bson.D{
		{Key: "status", Value: 1},
		{Key: "year", Value: 1},
		{Key: "month", Value: 1},
	}, false); err != nil {
		logger.Warn("failed to create sweep index", "collection", collResponses, "error", err)
	}

	logger.Info("mongo indexes ensured")
	return nil
}

func createIndex(ctx context.Context, coll *mongo.Collection, keys bson.D, unique bool) error {
	opts := options.Index().SetUnique(unique)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys, Options: opts})
	return err
}
