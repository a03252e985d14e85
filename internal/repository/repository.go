package repository

import (
	"context"
	"errors"
	"time"

	"healthsurvey/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no record
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert collides with a unique key
	ErrDuplicate = errors.New("duplicate key")
	// ErrStatusConflict is returned when a compare-and-set status update loses a race
	ErrStatusConflict = errors.New("response status changed concurrently")
)

// ResponseRepo persists SurveyResponse rows.
// The (center, survey, submitted_by, year, month, evaluation_version) tuple is unique.
type ResponseRepo interface {
	Create(ctx context.Context, resp *model.SurveyResponse) error
	GetByID(ctx context.Context, id string) (*model.SurveyResponse, error)
	GetByKey(ctx context.Context, key model.ResponseKey) (*model.SurveyResponse, error)
	// FindLatest returns the highest evaluation_version in the period whose status is in
	// statuses (any status when statuses is empty).
	FindLatest(ctx context.Context, centerRef, surveyRef, userRef string, period model.Period, statuses []model.ResponseStatus) (*model.SurveyResponse, error)
	// TransitionStatus moves the response to upd.To only if its current status is in from.
	TransitionStatus(ctx context.Context, id string, from []model.ResponseStatus, upd model.StatusUpdate) (*model.SurveyResponse, error)
	Touch(ctx context.Context, id string, at time.Time) error
	// ExpireBefore ends every resumable response whose period is strictly before period.
	ExpireBefore(ctx context.Context, period model.Period, at time.Time) (int64, error)
}

// AnswerRepo persists scalar and tabular answer rows.
// Scalar rows are unique per (response, question); tabular rows per (response, key, is_draft).
//
// Upserts and FinalizeScalarDrafts check the response status in the same atomic step as the
// write (see model.WritableStatuses) and return ErrStatusConflict when it does not allow one.
type AnswerRepo interface {
	UpsertScalar(ctx context.Context, responseID string, in model.ScalarInput, isDraft bool, at time.Time) error
	FinalizeScalarDrafts(ctx context.Context, responseID string, at time.Time) (int64, error)
	PurgeScalarDrafts(ctx context.Context, responseID string) (int64, error)
	// DeleteScalarDrafts removes the listed draft rows only
	DeleteScalarDrafts(ctx context.Context, responseID string, questionIDs []int64) (int64, error)
	ListScalar(ctx context.Context, responseID string, draft *bool) ([]model.Answer, error)

	UpsertTabular(ctx context.Context, responseID string, in model.TabularInput, isDraft bool, at time.Time) error
	PurgeTabularDrafts(ctx context.Context, responseID string) (int64, error)
	ListTabular(ctx context.Context, responseID string, draft *bool) ([]model.TabularAnswer, error)

	Stats(ctx context.Context, responseID string) (model.AnswerStats, error)
}

// CatalogRepo reads the survey reference data the engine validates against
type CatalogRepo interface {
	GetSurvey(ctx context.Context, id string) (*model.Survey, error)
	SaveSurvey(ctx context.Context, survey *model.Survey) error
	// MissingMedications returns the ids in ids that do not reference a medication
	MissingMedications(ctx context.Context, ids []int64) ([]int64, error)
	SaveMedication(ctx context.Context, med *model.Medication) error
}

// Store bundles the repositories a backend provides
type Store struct {
	Responses ResponseRepo
	Answers   AnswerRepo
	Catalog   CatalogRepo
	Close     func(ctx context.Context) error
}

// DraftFilter is a helper for the draft argument of List calls
func DraftFilter(draft bool) *bool {
	return &draft
}

// StatusIn reports whether status is one of statuses
func StatusIn(status model.ResponseStatus, statuses []model.ResponseStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
