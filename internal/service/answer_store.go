package service

import (
	"context"
	"time"

	"healthsurvey/internal/clock"
	"healthsurvey/internal/model"
	"healthsurvey/internal/repository"
)

// AnswerStore persists scalar and tabular answers for existing responses.
// It performs no validation beyond the existence of the response. Writes that the
// response status no longer accepts fail with ErrExpired.
type AnswerStore struct {
	responses repository.ResponseRepo
	answers   repository.AnswerRepo
	clock     clock.Clock
}

func NewAnswerStore(responses repository.ResponseRepo, answers repository.AnswerRepo, clk clock.Clock) *AnswerStore {
	return &AnswerStore{responses: responses, answers: answers, clock: clk}
}

func (s *AnswerStore) ensureResponse(ctx context.Context, responseID string) error {
	if _, err := s.responses.GetByID(ctx, responseID); err != nil {
		return storageErr("load response", err)
	}
	return nil
}

func (s *AnswerStore) UpsertScalar(ctx context.Context, responseID string, in model.ScalarInput, isDraft bool) error {
	if err := s.ensureResponse(ctx, responseID); err != nil {
		return err
	}
	return s.upsertScalar(ctx, responseID, in, isDraft, s.clock.Now())
}

func (s *AnswerStore) upsertScalar(ctx context.Context, responseID string, in model.ScalarInput, isDraft bool, at time.Time) error {
	in.Text = sanitizeAnswer(in.Text)
	if err := s.answers.UpsertScalar(ctx, responseID, in, isDraft, at); err != nil {
		return storageErr("upsert answer", err)
	}
	return nil
}

// BulkUpsertScalar writes each entry on its own; a failure leaves earlier entries in place
func (s *AnswerStore) BulkUpsertScalar(ctx context.Context, responseID string, in []model.ScalarInput, isDraft bool) (int, error) {
	if err := s.ensureResponse(ctx, responseID); err != nil {
		return 0, err
	}
	now := s.clock.Now()
	for i, a := range in {
		if err := s.upsertScalar(ctx, responseID, a, isDraft, now); err != nil {
			return i, err
		}
	}
	return len(in), nil
}

// FinalizeDrafts flips the draft flag of the response's scalar rows in place
func (s *AnswerStore) FinalizeDrafts(ctx context.Context, responseID string) (int64, error) {
	if err := s.ensureResponse(ctx, responseID); err != nil {
		return 0, err
	}
	n, err := s.answers.FinalizeScalarDrafts(ctx, responseID, s.clock.Now())
	if err != nil {
		return 0, storageErr("finalize answers", err)
	}
	return n, nil
}

func (s *AnswerStore) PurgeDrafts(ctx context.Context, responseID string) (int64, error) {
	if err := s.ensureResponse(ctx, responseID); err != nil {
		return 0, err
	}
	n, err := s.answers.PurgeScalarDrafts(ctx, responseID)
	if err != nil {
		return 0, storageErr("purge answers", err)
	}
	return n, nil
}

// DropDrafts deletes the listed scalar draft rows and leaves every other row alone
func (s *AnswerStore) DropDrafts(ctx context.Context, responseID string, questionIDs []int64) (int64, error) {
	if len(questionIDs) == 0 {
		return 0, nil
	}
	if err := s.ensureResponse(ctx, responseID); err != nil {
		return 0, err
	}
	n, err := s.answers.DeleteScalarDrafts(ctx, responseID, questionIDs)
	if err != nil {
		return 0, storageErr("drop drafts", err)
	}
	return n, nil
}

func (s *AnswerStore) UpsertTabular(ctx context.Context, responseID string, in model.TabularInput, isDraft bool) error {
	if err := s.ensureResponse(ctx, responseID); err != nil {
		return err
	}
	return s.upsertTabular(ctx, responseID, in, isDraft, s.clock.Now())
}

func (s *AnswerStore) upsertTabular(ctx context.Context, responseID string, in model.TabularInput, isDraft bool, at time.Time) error {
	in.Value = sanitizeAnswer(in.Value)
	if err := s.answers.UpsertTabular(ctx, responseID, in, isDraft, at); err != nil {
		return storageErr("upsert tabular answer", err)
	}
	return nil
}

func (s *AnswerStore) BulkUpsertTabular(ctx context.Context, responseID string, in []model.TabularInput, isDraft bool) (int, error) {
	if err := s.ensureResponse(ctx, responseID); err != nil {
		return 0, err
	}
	now := s.clock.Now()
	for i, a := range in {
		if err := s.upsertTabular(ctx, responseID, a, isDraft, now); err != nil {
			return i, err
		}
	}
	return len(in), nil
}

// FinalizeTabularDrafts copies every draft row whose stored key is not in skip into its final
// row under the canonical med_<id>_field_<id> key. Draft rows are left untouched.
func (s *AnswerStore) FinalizeTabularDrafts(ctx context.Context, responseID string, skip ...string) (int64, error) {
	if err := s.ensureResponse(ctx, responseID); err != nil {
		return 0, err
	}
	drafts, err := s.answers.ListTabular(ctx, responseID, repository.DraftFilter(true))
	if err != nil {
		return 0, storageErr("list tabular drafts", err)
	}
	skipped := make(map[string]bool, len(skip))
	for _, key := range skip {
		skipped[key] = true
	}
	now := s.clock.Now()
	var n int64
	for _, d := range drafts {
		if skipped[d.QuestionKey] {
			continue
		}
		in := model.TabularInput{QuestionKey: d.QuestionKey, Value: d.Value, Score: d.Score}
		if key, err := model.ParseAnswerKey(d.QuestionKey); err == nil && key.IsTabular() {
			in.QuestionKey = key.Canonical().String()
		}
		if err := s.answers.UpsertTabular(ctx, responseID, in, false, now); err != nil {
			return 0, storageErr("finalize tabular answer", err)
		}
		n++
	}
	return n, nil
}

func (s *AnswerStore) PurgeTabularDrafts(ctx context.Context, responseID string) (int64, error) {
	if err := s.ensureResponse(ctx, responseID); err != nil {
		return 0, err
	}
	n, err := s.answers.PurgeTabularDrafts(ctx, responseID)
	if err != nil {
		return 0, storageErr("purge tabular answers", err)
	}
	return n, nil
}

// ScalarAnswers lists scalar rows; draft filters by flag when non-nil
func (s *AnswerStore) ScalarAnswers(ctx context.Context, responseID string, draft *bool) ([]model.Answer, error) {
	if err := s.ensureResponse(ctx, responseID); err != nil {
		return nil, err
	}
	rows, err := s.answers.ListScalar(ctx, responseID, draft)
	if err != nil {
		return nil, storageErr("list answers", err)
	}
	return rows, nil
}

func (s *AnswerStore) TabularAnswers(ctx context.Context, responseID string, draft *bool) ([]model.TabularAnswer, error) {
	if err := s.ensureResponse(ctx, responseID); err != nil {
		return nil, err
	}
	rows, err := s.answers.ListTabular(ctx, responseID, draft)
	if err != nil {
		return nil, storageErr("list tabular answers", err)
	}
	return rows, nil
}

// Statistics returns total/draft/final counts and score sums per answer shape
func (s *AnswerStore) Statistics(ctx context.Context, responseID string) (model.AnswerStats, error) {
	if err := s.ensureResponse(ctx, responseID); err != nil {
		return model.AnswerStats{}, err
	}
	stats, err := s.answers.Stats(ctx, responseID)
	if err != nil {
		return model.AnswerStats{}, storageErr("answer statistics", err)
	}
	return stats, nil
}
