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

// catalogRepo stores surveys as one document with the section/domain/question tree embedded
type catalogRepo struct {
	surveys     *mongo.Collection
	medications *mongo.Collection
}

// NewCatalogRepo creates the Mongo-backed catalog repository
func NewCatalogRepo(db *mongo.Database) CatalogRepo {
	return &catalogRepo{
		surveys:     db.Collection(collSurveys),
		medications: db.Collection(collMedications),
	}
}

func (r *catalogRepo) GetSurvey(ctx context.Context, id string) (*model.Survey, error) {
	var survey model.Survey
	err := r.surveys.FindOne(ctx, bson.M{"_id": id}).Decode(&survey)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &survey, nil
}

func (r *catalogRepo) SaveSurvey(ctx context.Context, survey *model.Survey) error {
	if survey.ID == "" {
		survey.ID = uuid.NewString()
	}
	if survey.CreatedAt.IsZero() {
		survey.CreatedAt = time.Now()
	}
	opts := options.Replace().SetUpsert(true)
	_, err := r.surveys.ReplaceOne(ctx, bson.M{"_id": survey.ID}, survey, opts)
	return err
}

func (r *catalogRepo) MissingMedications(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := r.medications.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var found []model.Medication
	if err := cursor.All(ctx, &found); err != nil {
		return nil, err
	}
	return missingIDs(ids, found), nil
}

func (r *catalogRepo) SaveMedication(ctx context.Context, med *model.Medication) error {
	opts := options.Replace().SetUpsert(true)
	_, err := r.medications.ReplaceOne(ctx, bson.M{"_id": med.ID}, med, opts)
	return err
}

func missingIDs(ids []int64, found []model.Medication) []int64 {
	present := make(map[int64]bool, len(found))
	for _, m := range found {
		present[m.ID] = true
	}
	var missing []int64
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if present[id] || seen[id] {
			continue
		}
		seen[id] = true
		missing = append(missing, id)
	}
	return missing
}
