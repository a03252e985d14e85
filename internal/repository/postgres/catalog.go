package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"healthsurvey/internal/model"
	"healthsurvey/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) GetSurvey(ctx context.Context, id string) (*model.Survey, error) {
	var survey model.Survey
	var evalType string
	err := s.pool.QueryRow(ctx, `SELECT id, title, evaluation_type, created_at FROM surveys WHERE id = $1`, id).
		Scan(&survey.ID, &survey.Title, &evalType, &survey.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	survey.EvaluationType = model.EvaluationType(evalType)

	rows, err := s.pool.Query(ctx, `
SELECT s.id, s.name, d.id, d.name, q.id, q.type, q.prompt, q.max_score
FROM sections s
LEFT JOIN domains d ON d.section_id = s.id
LEFT JOIN questions q ON q.domain_id = d.id
WHERE s.survey_id = $1
ORDER BY s.id, d.id, q.id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			secID              int64
			secName            string
			domID, qID         *int64
			domName, qType, qP *string
			qMax               *float64
		)
		if err := rows.Scan(&secID, &secName, &domID, &domName, &qID, &qType, &qP, &qMax); err != nil {
			return nil, err
		}
		if n := len(survey.Sections); n == 0 || survey.Sections[n-1].ID != secID {
			survey.Sections = append(survey.Sections, model.Section{ID: secID, Name: secName})
		}
		sec := &survey.Sections[len(survey.Sections)-1]
		if domID == nil {
			continue
		}
		if n := len(sec.Domains); n == 0 || sec.Domains[n-1].ID != *domID {
			sec.Domains = append(sec.Domains, model.Domain{ID: *domID, Name: deref(domName)})
		}
		dom := &sec.Domains[len(sec.Domains)-1]
		if qID == nil {
			continue
		}
		q := model.Question{ID: *qID, Type: model.QuestionType(deref(qType)), Prompt: deref(qP)}
		if qMax != nil {
			q.MaxScore = *qMax
		}
		dom.Questions = append(dom.Questions, q)
	}
	return &survey, rows.Err()
}

func (s *Store) SaveSurvey(ctx context.Context, survey *model.Survey) error {
	if survey.ID == "" {
		survey.ID = uuid.NewString()
	}
	if survey.CreatedAt.IsZero() {
		survey.CreatedAt = time.Now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO surveys (id, title, evaluation_type, created_at) VALUES ($1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, evaluation_type = EXCLUDED.evaluation_type`,
		survey.ID, survey.Title, string(survey.EvaluationType), survey.CreatedAt); err != nil {
		return fmt.Errorf("save survey %s: %w", survey.ID, err)
	}

	for _, sec := range survey.Sections {
		if _, err := tx.Exec(ctx, `
INSERT INTO sections (id, survey_id, name) VALUES ($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET survey_id = EXCLUDED.survey_id, name = EXCLUDED.name`,
			sec.ID, survey.ID, sec.Name); err != nil {
			return fmt.Errorf("save section %d: %w", sec.ID, err)
		}
		for _, dom := range sec.Domains {
			if _, err := tx.Exec(ctx, `
INSERT INTO domains (id, section_id, name) VALUES ($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET section_id = EXCLUDED.section_id, name = EXCLUDED.name`,
				dom.ID, sec.ID, dom.Name); err != nil {
				return fmt.Errorf("save domain %d: %w", dom.ID, err)
			}
			for _, q := range dom.Questions {
				if _, err := tx.Exec(ctx, `
INSERT INTO questions (id, domain_id, type, prompt, max_score) VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET domain_id = EXCLUDED.domain_id, type = EXCLUDED.type,
	prompt = EXCLUDED.prompt, max_score = EXCLUDED.max_score`,
					q.ID, dom.ID, string(q.Type), q.Prompt, q.MaxScore); err != nil {
					return fmt.Errorf("save question %d: %w", q.ID, err)
				}
			}
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) MissingMedications(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT want.id
FROM unnest($1::bigint[]) AS want(id)
LEFT JOIN medications m ON m.id = want.id
WHERE m.id IS NULL
GROUP BY want.id
ORDER BY min(array_position($1::bigint[], want.id))`, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *Store) SaveMedication(ctx context.Context, med *model.Medication) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO medications (id, name) VALUES ($1,$2)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, med.ID, med.Name)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
