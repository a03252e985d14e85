package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"healthsurvey/internal/model"

	"github.com/google/uuid"
)

type answerRepo struct {
	client    *mongo.Client
	responses *mongo.Collection
	answers   *mongo.Collection
	tabular   *mongo.Collection
}

// NewAnswerRepo creates the Mongo-backed answer repository. Fenced writes run in
// transactions, so the deployment must be a replica set.
func NewAnswerRepo(db *mongo.Database) AnswerRepo {
	return &answerRepo{
		client:    db.Client(),
		responses: db.Collection(collResponses),
		answers:   db.Collection(collAnswers),
		tabular:   db.Collection(collTabular),
	}
}

// fenced runs write in a transaction that first touches the response document, and only
// when its status accepts the write. A status change committed concurrently makes one side
// hit a write conflict and retry against the new status.
func (r *answerRepo) fenced(ctx context.Context, responseID string, isDraft bool, at time.Time, write func(sc mongo.SessionContext) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		res, err := r.responses.UpdateOne(sc,
			bson.M{"_id": responseID, "status": bson.M{"$in": model.WritableStatuses(isDraft)}},
			bson.M{"$set": bson.M{"lastActivityAt": at}},
		)
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			n, err := r.responses.CountDocuments(sc, bson.M{"_id": responseID})
			if err != nil {
				return nil, err
			}
			if n == 0 {
				return nil, ErrNotFound
			}
			return nil, ErrStatusConflict
		}
		return nil, write(sc)
	})
	return err
}

// upsertFenced retries once when two upserts race to insert the same unique key;
// the loser's retry then matches the winner's document and updates it.
func (r *answerRepo) upsertFenced(ctx context.Context, coll *mongo.Collection, responseID string, isDraft bool, at time.Time, filter, update bson.M) error {
	upsert := func(sc mongo.SessionContext) error {
		_, err := coll.UpdateOne(sc, filter, update, options.Update().SetUpsert(true))
		return err
	}
	err := r.fenced(ctx, responseID, isDraft, at, upsert)
	if mongo.IsDuplicateKeyError(err) {
		err = r.fenced(ctx, responseID, isDraft, at, upsert)
	}
	return err
}

func (r *answerRepo) UpsertScalar(ctx context.Context, responseID string, in model.ScalarInput, isDraft bool, at time.Time) error {
	filter := bson.M{"responseId": responseID, "questionId": in.QuestionID}
	update := bson.M{
		"$set": bson.M{
			"text":      in.Text,
			"score":     in.Score,
			"isDraft":   isDraft,
			"updatedAt": at,
		},
		"$setOnInsert": bson.M{"_id": uuid.NewString()},
	}
	return r.upsertFenced(ctx, r.answers, responseID, isDraft, at, filter, update)
}

func (r *answerRepo) FinalizeScalarDrafts(ctx context.Context, responseID string, at time.Time) (int64, error) {
	var n int64
	err := r.fenced(ctx, responseID, false, at, func(sc mongo.SessionContext) error {
		res, err := r.answers.UpdateMany(sc,
			bson.M{"responseId": responseID, "isDraft": true},
			bson.M{"$set": bson.M{"isDraft": false, "updatedAt": at}},
		)
		if err != nil {
			return err
		}
		n = res.ModifiedCount
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *answerRepo) DeleteScalarDrafts(ctx context.Context, responseID string, questionIDs []int64) (int64, error) {
	res, err := r.answers.DeleteMany(ctx, bson.M{"responseId": responseID, "isDraft": true, "questionId": bson.M{"$in": questionIDs}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *answerRepo) PurgeScalarDrafts(ctx context.Context, responseID string) (int64, error) {
	res, err := r.answers.DeleteMany(ctx, bson.M{"responseId": responseID, "isDraft": true})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *answerRepo) ListScalar(ctx context.Context, responseID string, draft *bool) ([]model.Answer, error) {
	opts := options.Find().SetSort(bson.D{{Key: "questionId", Value: 1}})
	cursor, err := r.answers.Find(ctx, draftFilter(responseID, draft), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	answers := []model.Answer{}
	if err := cursor.All(ctx, &answers); err != nil {
		return nil, err
	}
	return answers, nil
}

func (r *answerRepo) UpsertTabular(ctx context.Context, responseID string, in model.TabularInput, isDraft bool, at time.Time) error {
	filter := bson.M{"responseId": responseID, "questionKey": in.QuestionKey, "isDraft": isDraft}
	update := bson.M{
		"$set": bson.M{
			"answerValue": in.Value,
			"score":       in.Score,
			"updatedAt":   at,
		},
		"$setOnInsert": bson.M{"_id": uuid.NewString()},
	}
	return r.upsertFenced(ctx, r.tabular, responseID, isDraft, at, filter, update)
}

func (r *answerRepo) PurgeTabularDrafts(ctx context.Context, responseID string) (int64, error) {
	res, err := r.tabular.DeleteMany(ctx, bson.M{"responseId": responseID, "isDraft": true})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *answerRepo) ListTabular(ctx context.Context, responseID string, draft *bool) ([]model.TabularAnswer, error) {
	opts := options.Find().SetSort(bson.D{{Key: "questionKey", Value: 1}, {Key: "isDraft", Value: -1}})
	cursor, err := r.tabular.Find(ctx, draftFilter(responseID, draft), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	answers := []model.TabularAnswer{}
	if err := cursor.All(ctx, &answers); err != nil {
		return nil, err
	}
	return answers, nil
}

type statsRow struct {
	IsDraft    bool    `bson:"_id"`
	Count      int     `bson:"count"`
	ScoreTotal float64 `bson:"score"`
}

func (r *answerRepo) Stats(ctx context.Context, responseID string) (model.AnswerStats, error) {
	var stats model.AnswerStats
	scalar, err := aggregateStats(ctx, r.answers, responseID)
	if err != nil {
		return stats, err
	}
	tabular, err := aggregateStats(ctx, r.tabular, responseID)
	if err != nil {
		return stats, err
	}
	stats.Scalar = scalar
	stats.Tabular = tabular
	return stats, nil
}

func aggregateStats(ctx context.Context, coll *mongo.Collection, responseID string) (model.AnswerCounts, error) {
	var counts model.AnswerCounts
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"responseId": responseID}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$isDraft",
			"count": bson.M{"$sum": 1},
			"score": bson.M{"$sum": "$score"},
		}}},
	}
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return counts, err
	}
	defer cursor.Close(ctx)

	var rows []statsRow
	if err := cursor.All(ctx, &rows); err != nil {
		return counts, err
	}
	for _, row := range rows {
		counts.Total += row.Count
		counts.ScoreSum += row.ScoreTotal
		if row.IsDraft {
			counts.Draft += row.Count
		} else {
			counts.Final += row.Count
			counts.FinalScoreSum += row.ScoreTotal
		}
	}
	return counts, nil
}

func draftFilter(responseID string, draft *bool) bson.M {
	filter := bson.M{"responseId": responseID}
	if draft != nil {
		filter["isDraft"] = *draft
	}
	return filter
}
