// Package postgres implements the repository interfaces on PostgreSQL through pgx.
// Unique constraints mirror the Mongo indexes and upserts use INSERT ... ON CONFLICT.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"healthsurvey/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	_ repository.ResponseRepo = (*Store)(nil)
	_ repository.AnswerRepo   = (*Store)(nil)
	_ repository.CatalogRepo  = (*Store)(nil)
)

const uniqueViolation = "23505"

// Store wraps a pgx pool
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to url and applies the schema
func Open(ctx context.Context, url string) (*Store, error) {
	if url == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Bundle exposes the store through the repository.Store wiring type
func (s *Store) Bundle() *repository.Store {
	return &repository.Store{
		Responses: s,
		Answers:   s,
		Catalog:   s,
		Close: func(context.Context) error {
			s.pool.Close()
			return nil
		},
	}
}

// EnsureSchema creates tables and unique constraints when missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
CREATE TABLE IF NOT EXISTS survey_responses (
	id text primary key,
	center_ref text not null,
	survey_ref text not null,
	submitted_by text not null default '',
	year integer not null,
	month integer not null,
	evaluation_version integer not null default 1,
	status text not null,
	overall_score double precision,
	submitted_at timestamptz,
	last_activity_at timestamptz not null default now(),
	created_at timestamptz not null default now(),
	CONSTRAINT survey_responses_slot_key UNIQUE (center_ref, survey_ref, submitted_by, year, month, evaluation_version)
);

CREATE INDEX IF NOT EXISTS survey_responses_status_period_idx ON survey_responses(status, year, month);

CREATE TABLE IF NOT EXISTS answers (
	id text primary key,
	response_id text not null references survey_responses(id) on delete cascade,
	question_id bigint not null,
	text text not null default '',
	score double precision not null default 0,
	is_draft boolean not null default true,
	updated_at timestamptz not null default now(),
	CONSTRAINT answers_response_question_key UNIQUE (response_id, question_id)
);

CREATE TABLE IF NOT EXISTS tabular_answers (
	id text primary key,
	response_id text not null references survey_responses(id) on delete cascade,
	question_key text not null,
	answer_value text not null default '',
	score double precision not null default 0,
	is_draft boolean not null default true,
	updated_at timestamptz not null default now(),
	CONSTRAINT tabular_answers_response_key_draft_key UNIQUE (response_id, question_key, is_draft)
);

CREATE TABLE IF NOT EXISTS surveys (
	id text primary key,
	title text not null,
	evaluation_type text not null default 'standard',
	created_at timestamptz not null default now()
);

CREATE TABLE IF NOT EXISTS sections (
	id bigint primary key,
	survey_id text not null references surveys(id) on delete cascade,
	name text not null default ''
);

CREATE TABLE IF NOT EXISTS domains (
	id bigint primary key,
	section_id bigint not null references sections(id) on delete cascade,
	name text not null default ''
);

CREATE TABLE IF NOT EXISTS questions (
	id bigint primary key,
	domain_id bigint not null references domains(id) on delete cascade,
	type text not null default 'text',
	prompt text not null default '',
	max_score double precision not null default 0
);

CREATE TABLE IF NOT EXISTS medications (
	id bigint primary key,
	name text not null
);
`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
