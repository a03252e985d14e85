package postgres

import (
	"context"
	"time"

	"healthsurvey/internal/model"
	"healthsurvey/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// fenced runs write in a transaction that first locks the response row, and only when its
// status accepts the write. A concurrent TransitionStatus waits for the commit.
func (s *Store) fenced(ctx context.Context, responseID string, isDraft bool, at time.Time, write func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE survey_responses SET last_activity_at = $2
WHERE id = $1 AND status = ANY($3)`,
		responseID, at, statusStrings(model.WritableStatuses(isDraft)))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, responseID); err != nil {
			return err
		}
		return repository.ErrStatusConflict
	}
	if err := write(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) UpsertScalar(ctx context.Context, responseID string, in model.ScalarInput, isDraft bool, at time.Time) error {
	return s.fenced(ctx, responseID, isDraft, at, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO answers (id, response_id, question_id, text, score, is_draft, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (response_id, question_id) DO UPDATE
SET text = EXCLUDED.text, score = EXCLUDED.score, is_draft = EXCLUDED.is_draft, updated_at = EXCLUDED.updated_at`,
			uuid.NewString(), responseID, in.QuestionID, in.Text, in.Score, isDraft, at)
		return err
	})
}

func (s *Store) FinalizeScalarDrafts(ctx context.Context, responseID string, at time.Time) (int64, error) {
	var n int64
	err := s.fenced(ctx, responseID, false, at, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE answers SET is_draft = false, updated_at = $2
WHERE response_id = $1 AND is_draft`, responseID, at)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) DeleteScalarDrafts(ctx context.Context, responseID string, questionIDs []int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM answers WHERE response_id = $1 AND is_draft AND question_id = ANY($2)`, responseID, questionIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) PurgeScalarDrafts(ctx context.Context, responseID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM answers WHERE response_id = $1 AND is_draft`, responseID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListScalar(ctx context.Context, responseID string, draft *bool) ([]model.Answer, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, response_id, question_id, text, score, is_draft, updated_at
FROM answers
WHERE response_id = $1 AND ($2::boolean IS NULL OR is_draft = $2)
ORDER BY question_id`, responseID, draft)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := []model.Answer{}
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.ID, &a.ResponseID, &a.QuestionID, &a.Text, &a.Score, &a.IsDraft, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func (s *Store) UpsertTabular(ctx context.Context, responseID string, in model.TabularInput, isDraft bool, at time.Time) error {
	return s.fenced(ctx, responseID, isDraft, at, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO tabular_answers (id, response_id, question_key, answer_value, score, is_draft, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (response_id, question_key, is_draft) DO UPDATE
SET answer_value = EXCLUDED.answer_value, score = EXCLUDED.score, updated_at = EXCLUDED.updated_at`,
			uuid.NewString(), responseID, in.QuestionKey, in.Value, in.Score, isDraft, at)
		return err
	})
}

func (s *Store) PurgeTabularDrafts(ctx context.Context, responseID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tabular_answers WHERE response_id = $1 AND is_draft`, responseID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListTabular(ctx context.Context, responseID string, draft *bool) ([]model.TabularAnswer, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, response_id, question_key, answer_value, score, is_draft, updated_at
FROM tabular_answers
WHERE response_id = $1 AND ($2::boolean IS NULL OR is_draft = $2)
ORDER BY question_key, is_draft DESC`, responseID, draft)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := []model.TabularAnswer{}
	for rows.Next() {
		var a model.TabularAnswer
		if err := rows.Scan(&a.ID, &a.ResponseID, &a.QuestionKey, &a.Value, &a.Score, &a.IsDraft, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func (s *Store) Stats(ctx context.Context, responseID string) (model.AnswerStats, error) {
	var stats model.AnswerStats
	if err := s.countInto(ctx, `SELECT is_draft, count(*), COALESCE(sum(score), 0) FROM answers WHERE response_id = $1 GROUP BY is_draft`, responseID, &stats.Scalar); err != nil {
		return stats, err
	}
	if err := s.countInto(ctx, `SELECT is_draft, count(*), COALESCE(sum(score), 0) FROM tabular_answers WHERE response_id = $1 GROUP BY is_draft`, responseID, &stats.Tabular); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *Store) countInto(ctx context.Context, query, responseID string, counts *model.AnswerCounts) error {
	rows, err := s.pool.Query(ctx, query, responseID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var isDraft bool
		var n int
		var score float64
		if err := rows.Scan(&isDraft, &n, &score); err != nil {
			return err
		}
		counts.Total += n
		counts.ScoreSum += score
		if isDraft {
			counts.Draft += n
		} else {
			counts.Final += n
			counts.FinalScoreSum += score
		}
	}
	return rows.Err()
}
