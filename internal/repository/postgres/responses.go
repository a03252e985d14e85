package postgres

import (
	"context"
	"errors"
	"time"

	"healthsurvey/internal/model"
	"healthsurvey/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const responseColumns = `id, center_ref, survey_ref, submitted_by, year, month, evaluation_version,
	status, overall_score, submitted_at, last_activity_at, created_at`

func scanResponse(row pgx.Row) (*model.SurveyResponse, error) {
	var r model.SurveyResponse
	var status string
	err := row.Scan(&r.ID, &r.CenterRef, &r.SurveyRef, &r.SubmittedBy, &r.Year, &r.Month,
		&r.EvaluationVersion, &status, &r.OverallScore, &r.SubmittedAt, &r.LastActivityAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = model.ResponseStatus(status)
	return &r, nil
}

func statusStrings(statuses []model.ResponseStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (s *Store) Create(ctx context.Context, resp *model.SurveyResponse) error {
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO survey_responses (`+responseColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		resp.ID, resp.CenterRef, resp.SurveyRef, resp.SubmittedBy, resp.Year, resp.Month,
		resp.EvaluationVersion, string(resp.Status), resp.OverallScore, resp.SubmittedAt,
		resp.LastActivityAt, resp.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

func (s *Store) GetByID(ctx context.Context, id string) (*model.SurveyResponse, error) {
	return scanResponse(s.pool.QueryRow(ctx, `SELECT `+responseColumns+` FROM survey_responses WHERE id = $1`, id))
}

func (s *Store) GetByKey(ctx context.Context, key model.ResponseKey) (*model.SurveyResponse, error) {
	return scanResponse(s.pool.QueryRow(ctx, `
SELECT `+responseColumns+` FROM survey_responses
WHERE center_ref = $1 AND survey_ref = $2 AND submitted_by = $3
  AND year = $4 AND month = $5 AND evaluation_version = $6`,
		key.CenterRef, key.SurveyRef, key.SubmittedBy, key.Year, key.Month, key.EvaluationVersion))
}

func (s *Store) FindLatest(ctx context.Context, centerRef, surveyRef, userRef string, period model.Period, statuses []model.ResponseStatus) (*model.SurveyResponse, error) {
	var filter []string
	if len(statuses) > 0 {
		filter = statusStrings(statuses)
	}
	return scanResponse(s.pool.QueryRow(ctx, `
SELECT `+responseColumns+` FROM survey_responses
WHERE center_ref = $1 AND survey_ref = $2 AND submitted_by = $3
  AND year = $4 AND month = $5
  AND ($6::text[] IS NULL OR status = ANY($6))
ORDER BY evaluation_version DESC
LIMIT 1`,
		centerRef, surveyRef, userRef, period.Year, period.Month, filter))
}

func (s *Store) TransitionStatus(ctx context.Context, id string, from []model.ResponseStatus, upd model.StatusUpdate) (*model.SurveyResponse, error) {
	resp, err := scanResponse(s.pool.QueryRow(ctx, `
UPDATE survey_responses
SET status = $3,
    last_activity_at = $4,
    overall_score = COALESCE($5, overall_score),
    submitted_at = COALESCE($6, submitted_at)
WHERE id = $1 AND status = ANY($2)
RETURNING `+responseColumns,
		id, statusStrings(from), string(upd.To), upd.At, upd.OverallScore, upd.SubmittedAt))
	if errors.Is(err, repository.ErrNotFound) {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, repository.ErrStatusConflict
	}
	return resp, err
}

func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE survey_responses SET last_activity_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) ExpireBefore(ctx context.Context, period model.Period, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE survey_responses
SET status = $1, last_activity_at = $2
WHERE status = ANY($3)
  AND (year < $4 OR (year = $4 AND month < $5))`,
		string(model.StatusEnded), at, statusStrings(model.ResumableStatuses), period.Year, period.Month)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
