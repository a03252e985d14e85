package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"healthsurvey/internal/model"

	"github.com/google/uuid"
)

type responseRepo struct {
	collection *mongo.Collection
}

// NewResponseRepo creates the Mongo-backed response repository
func NewResponseRepo(db *mongo.Database) ResponseRepo {
	return &responseRepo{
		collection: db.Collection(collResponses),
	}
}

func (r *responseRepo) Create(ctx context.Context, resp *model.SurveyResponse) error {
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	_, err := r.collection.InsertOne(ctx, resp)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (r *responseRepo) GetByID(ctx context.Context, id string) (*model.SurveyResponse, error) {
	return r.findOne(ctx, bson.M{"_id": id}, nil)
}

func (r *responseRepo) GetByKey(ctx context.Context, key model.ResponseKey) (*model.SurveyResponse, error) {
	return r.findOne(ctx, bson.M{
		"centerRef":         key.CenterRef,
		"surveyRef":         key.SurveyRef,
		"submittedBy":       key.SubmittedBy,
		"year":              key.Year,
		"month":             key.Month,
		"evaluationVersion": key.EvaluationVersion,
	}, nil)
}

func (r *responseRepo) FindLatest(ctx context.Context, centerRef, surveyRef, userRef string, period model.Period, statuses []model.ResponseStatus) (*model.SurveyResponse, error) {
	filter := bson.M{
		"centerRef":   centerRef,
		"surveyRef":   surveyRef,
		"submittedBy": userRef,
		"year":        period.Year,
		"month":       period.Month,
	}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "evaluationVersion", Value: -1}})
	return r.findOne(ctx, filter, opts)
}

func (r *responseRepo) TransitionStatus(ctx context.Context, id string, from []model.ResponseStatus, upd model.StatusUpdate) (*model.SurveyResponse, error) {
	set := bson.M{
		"status":         upd.To,
		"lastActivityAt": upd.At,
	}
	if upd.OverallScore != nil {
		set["overallScore"] = *upd.OverallScore
	}
	if upd.SubmittedAt != nil {
		set["submittedAt"] = *upd.SubmittedAt
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var resp model.SurveyResponse
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": set},
		opts,
	).Decode(&resp)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Either the row is gone or someone else moved it first.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStatusConflict
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *responseRepo) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"lastActivityAt": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *responseRepo) ExpireBefore(ctx context.Context, period model.Period, at time.Time) (int64, error) {
	filter := bson.M{
		"status": bson.M{"$in": model.ResumableStatuses},
		"$or": bson.A{
			bson.M{"year": bson.M{"$lt": period.Year}},
			bson.M{"year": period.Year, "month": bson.M{"$lt": period.Month}},
		},
	}
	update := bson.M{"$set": bson.M{"status": model.StatusEnded, "lastActivityAt": at}}
	res, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *responseRepo) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*model.SurveyResponse, error) {
	var resp model.SurveyResponse
	var err error
	if opts != nil {
		err = r.collection.FindOne(ctx, filter, opts).Decode(&resp)
	} else {
		err = r.collection.FindOne(ctx, filter).Decode(&resp)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
