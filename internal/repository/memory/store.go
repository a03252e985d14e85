// Package memory provides an in-process implementation of the repository interfaces.
// It enforces the same unique keys as the Mongo and Postgres backends and is used for
// tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"healthsurvey/internal/model"
	"healthsurvey/internal/repository"

	"github.com/google/uuid"
)

var (
	_ repository.ResponseRepo = (*Store)(nil)
	_ repository.AnswerRepo   = (*Store)(nil)
	_ repository.CatalogRepo  = (*Store)(nil)
)

type tabularKey struct {
	questionKey string
	isDraft     bool
}

// Store keeps every record in maps guarded by a single mutex
type Store struct {
	mu sync.RWMutex

	responses map[string]*model.SurveyResponse
	byKey     map[model.ResponseKey]string

	scalar  map[string]map[int64]*model.Answer
	tabular map[string]map[tabularKey]*model.TabularAnswer

	surveys     map[string]*model.Survey
	medications map[int64]*model.Medication
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		responses:   make(map[string]*model.SurveyResponse),
		byKey:       make(map[model.ResponseKey]string),
		scalar:      make(map[string]map[int64]*model.Answer),
		tabular:     make(map[string]map[tabularKey]*model.TabularAnswer),
		surveys:     make(map[string]*model.Survey),
		medications: make(map[int64]*model.Medication),
	}
}

// Bundle exposes the store through the repository.Store wiring type
func (s *Store) Bundle() *repository.Store {
	return &repository.Store{
		Responses: s,
		Answers:   s,
		Catalog:   s,
		Close:     func(context.Context) error { return nil },
	}
}

// Responses

func (s *Store) Create(_ context.Context, resp *model.SurveyResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byKey[resp.Key()]; exists {
		return repository.ErrDuplicate
	}
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	cp := *resp
	s.responses[cp.ID] = &cp
	s.byKey[cp.Key()] = cp.ID
	return nil
}

func (s *Store) GetByID(_ context.Context, id string) (*model.SurveyResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp, ok := s.responses[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *resp
	return &cp, nil
}

func (s *Store) GetByKey(_ context.Context, key model.ResponseKey) (*model.SurveyResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s.responses[id]
	return &cp, nil
}

func (s *Store) FindLatest(_ context.Context, centerRef, surveyRef, userRef string, period model.Period, statuses []model.ResponseStatus) (*model.SurveyResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.SurveyResponse
	for _, r := range s.responses {
		if r.CenterRef != centerRef || r.SurveyRef != surveyRef || r.SubmittedBy != userRef {
			continue
		}
		if r.Year != period.Year || r.Month != period.Month {
			continue
		}
		if len(statuses) > 0 && !repository.StatusIn(r.Status, statuses) {
			continue
		}
		if latest == nil || r.EvaluationVersion > latest.EvaluationVersion {
			latest = r
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) TransitionStatus(_ context.Context, id string, from []model.ResponseStatus, upd model.StatusUpdate) (*model.SurveyResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, ok := s.responses[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !repository.StatusIn(resp.Status, from) {
		return nil, repository.ErrStatusConflict
	}
	resp.Status = upd.To
	if upd.OverallScore != nil {
		score := *upd.OverallScore
		resp.OverallScore = &score
	}
	if upd.SubmittedAt != nil {
		at := *upd.SubmittedAt
		resp.SubmittedAt = &at
	}
	resp.LastActivityAt = upd.At
	cp := *resp
	return &cp, nil
}

func (s *Store) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, ok := s.responses[id]
	if !ok {
		return repository.ErrNotFound
	}
	resp.LastActivityAt = at
	return nil
}

func (s *Store) ExpireBefore(_ context.Context, period model.Period, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.responses {
		if r.Status.IsTerminal() || !r.Period().Before(period) {
			continue
		}
		r.Status = model.StatusEnded
		r.LastActivityAt = at
		n++
	}
	return n, nil
}

// Answers

// fence checks the response status for an answer write. Callers hold s.mu.
func (s *Store) fence(responseID string, isDraft bool, at time.Time) error {
	resp, ok := s.responses[responseID]
	if !ok {
		return repository.ErrNotFound
	}
	if !repository.StatusIn(resp.Status, model.WritableStatuses(isDraft)) {
		return repository.ErrStatusConflict
	}
	resp.LastActivityAt = at
	return nil
}

func (s *Store) UpsertScalar(_ context.Context, responseID string, in model.ScalarInput, isDraft bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fence(responseID, isDraft, at); err != nil {
		return err
	}
	rows := s.scalar[responseID]
	if rows == nil {
		rows = make(map[int64]*model.Answer)
		s.scalar[responseID] = rows
	}
	row, ok := rows[in.QuestionID]
	if !ok {
		row = &model.Answer{ID: uuid.NewString(), ResponseID: responseID, QuestionID: in.QuestionID}
		rows[in.QuestionID] = row
	}
	row.Text = in.Text
	row.Score = in.Score
	row.IsDraft = isDraft
	row.UpdatedAt = at
	return nil
}

func (s *Store) FinalizeScalarDrafts(_ context.Context, responseID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fence(responseID, false, at); err != nil {
		return 0, err
	}
	var n int64
	for _, row := range s.scalar[responseID] {
		if row.IsDraft {
			row.IsDraft = false
			row.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func (s *Store) PurgeScalarDrafts(_ context.Context, responseID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for qid, row := range s.scalar[responseID] {
		if row.IsDraft {
			delete(s.scalar[responseID], qid)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteScalarDrafts(_ context.Context, responseID string, questionIDs []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, qid := range questionIDs {
		if row, ok := s.scalar[responseID][qid]; ok && row.IsDraft {
			delete(s.scalar[responseID], qid)
			n++
		}
	}
	return n, nil
}

func (s *Store) ListScalar(_ context.Context, responseID string, draft *bool) ([]model.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Answer, 0, len(s.scalar[responseID]))
	for _, row := range s.scalar[responseID] {
		if draft != nil && row.IsDraft != *draft {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (s *Store) UpsertTabular(_ context.Context, responseID string, in model.TabularInput, isDraft bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fence(responseID, isDraft, at); err != nil {
		return err
	}
	rows := s.tabular[responseID]
	if rows == nil {
		rows = make(map[tabularKey]*model.TabularAnswer)
		s.tabular[responseID] = rows
	}
	k := tabularKey{questionKey: in.QuestionKey, isDraft: isDraft}
	row, ok := rows[k]
	if !ok {
		row = &model.TabularAnswer{ID: uuid.NewString(), ResponseID: responseID, QuestionKey: in.QuestionKey, IsDraft: isDraft}
		rows[k] = row
	}
	row.Value = in.Value
	row.Score = in.Score
	row.UpdatedAt = at
	return nil
}

func (s *Store) PurgeTabularDrafts(_ context.Context, responseID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k := range s.tabular[responseID] {
		if k.isDraft {
			delete(s.tabular[responseID], k)
			n++
		}
	}
	return n, nil
}

func (s *Store) ListTabular(_ context.Context, responseID string, draft *bool) ([]model.TabularAnswer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.TabularAnswer, 0, len(s.tabular[responseID]))
	for _, row := range s.tabular[responseID] {
		if draft != nil && row.IsDraft != *draft {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QuestionKey != out[j].QuestionKey {
			return out[i].QuestionKey < out[j].QuestionKey
		}
		return out[i].IsDraft && !out[j].IsDraft
	})
	return out, nil
}

func (s *Store) Stats(_ context.Context, responseID string) (model.AnswerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats model.AnswerStats
	for _, row := range s.scalar[responseID] {
		stats.Scalar.Add(row.IsDraft, row.Score)
	}
	for _, row := range s.tabular[responseID] {
		stats.Tabular.Add(row.IsDraft, row.Score)
	}
	return stats, nil
}

// Catalog

func (s *Store) GetSurvey(_ context.Context, id string) (*model.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	survey, ok := s.surveys[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *survey
	return &cp, nil
}

func (s *Store) SaveSurvey(_ context.Context, survey *model.Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if survey.ID == "" {
		survey.ID = uuid.NewString()
	}
	cp := *survey
	s.surveys[cp.ID] = &cp
	return nil
}

func (s *Store) MissingMedications(_ context.Context, ids []int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []int64
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := s.medications[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *Store) SaveMedication(_ context.Context, med *model.Medication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *med
	s.medications[cp.ID] = &cp
	return nil
}
