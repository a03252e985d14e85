package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"healthsurvey/internal/metrics"
	"healthsurvey/internal/model"
	"healthsurvey/internal/repository"
)

// Event types pushed to open tabs of a response
const (
	EventDraftSaved        = "draft_saved"
	EventResponseSubmitted = "response_submitted"
	EventResponseDiscarded = "response_discarded"
	EventVersionStarted    = "version_started"
)

// DuplicateGuard limits repeats of one mutating action within a short decay
type DuplicateGuard struct {
	Limit int
	Decay time.Duration
}

// DraftAnswer is one row returned for form rehydration
type DraftAnswer struct {
	Key       model.AnswerKey
	Answer    string
	Score     float64
	UpdatedAt time.Time
}

// DraftSnapshot holds the draft rows of a response
type DraftSnapshot struct {
	ResponseID string
	Status     model.ResponseStatus
	Answers    []DraftAnswer
}

// Progress summarises how far a response is
type Progress struct {
	ResponseID           string
	CompletionPercentage float64
	Status               model.ResponseStatus
	CanBeModified        bool
	Answered             int
	Total                int
	Stats                model.AnswerStats
}

// DraftService is the boundary the HTTP layer calls. Every method runs the
// security guard before touching storage.
type DraftService struct {
	guard       *SecurityGuard
	limiter     *RateLimiter
	store       *AnswerStore
	lifecycle   *ResponseLifecycle
	validator   *SubmissionValidator
	metrics     *metrics.Registry
	logger      *slog.Logger
	dupSubmit   DuplicateGuard
	broadcaster Broadcaster
}

func NewDraftService(
	guard *SecurityGuard,
	limiter *RateLimiter,
	store *AnswerStore,
	lifecycle *ResponseLifecycle,
	validator *SubmissionValidator,
	m *metrics.Registry,
	logger *slog.Logger,
	dupSubmit DuplicateGuard,
) *DraftService {
	return &DraftService{
		guard:       guard,
		limiter:     limiter,
		store:       store,
		lifecycle:   lifecycle,
		validator:   validator,
		metrics:     m,
		logger:      logger,
		dupSubmit:   dupSubmit,
		broadcaster: nopBroadcaster{},
	}
}

// SetBroadcaster sets the broadcaster for WebSocket events
func (s *DraftService) SetBroadcaster(b Broadcaster) {
	if b == nil {
		b = nopBroadcaster{}
	}
	s.broadcaster = b
}

// SaveDraft upserts the payload as draft rows. It never checks completion.
func (s *DraftService) SaveDraft(ctx context.Context, c Caller, responseID string, entries []AnswerEntry) (int, error) {
	resp, err := s.guard.Authorize(ctx, Access{Caller: c, ResponseID: responseID, Endpoint: EndpointDraft, Editing: true})
	if err != nil {
		return 0, err
	}
	if !s.lifecycle.CanBeModified(resp) {
		return 0, ErrExpired
	}

	verr := NewValidationError()
	keys := s.validator.ParseEntries(entries, verr)
	if err := verr.OrNil(); err != nil {
		return 0, err
	}

	var scalar []model.ScalarInput
	var tabular []model.TabularInput
	for i, key := range keys {
		e := entries[i]
		if key.IsScalar() {
			scalar = append(scalar, model.ScalarInput{QuestionID: key.QuestionID, Text: e.Answer, Score: e.Score})
		} else {
			tabular = append(tabular, model.TabularInput{QuestionKey: key.Canonical().String(), Value: e.Answer, Score: e.Score})
		}
	}

	if _, err := s.store.BulkUpsertScalar(ctx, resp.ID, scalar, true); err != nil {
		return 0, err
	}
	if _, err := s.store.BulkUpsertTabular(ctx, resp.ID, tabular, true); err != nil {
		return 0, err
	}
	if resp, err = s.lifecycle.MarkDraft(ctx, resp); err != nil {
		return 0, err
	}
	if err := s.lifecycle.TouchActivity(ctx, resp); err != nil {
		return 0, err
	}

	saved := len(scalar) + len(tabular)
	s.broadcaster.BroadcastToResponse(resp.ID, EventDraftSaved, map[string]interface{}{
		"response_id": resp.ID,
		"saved":       saved,
		"status":      resp.Status,
	})
	return saved, nil
}

// GetDraft returns draft rows for rehydrating the form. It is a read path: the
// editing period is not enforced and the general quota applies.
func (s *DraftService) GetDraft(ctx context.Context, c Caller, responseID string) (*DraftSnapshot, error) {
	resp, err := s.guard.Authorize(ctx, Access{Caller: c, ResponseID: responseID, Endpoint: EndpointGeneral})
	if err != nil {
		return nil, err
	}
	scalar, err := s.store.ScalarAnswers(ctx, resp.ID, repository.DraftFilter(true))
	if err != nil {
		return nil, err
	}
	tabular, err := s.store.TabularAnswers(ctx, resp.ID, repository.DraftFilter(true))
	if err != nil {
		return nil, err
	}

	snap := &DraftSnapshot{ResponseID: resp.ID, Status: resp.Status, Answers: make([]DraftAnswer, 0, len(scalar)+len(tabular))}
	for _, a := range scalar {
		snap.Answers = append(snap.Answers, DraftAnswer{Key: model.ScalarKey(a.QuestionID), Answer: a.Text, Score: a.Score, UpdatedAt: a.UpdatedAt})
	}
	for _, a := range tabular {
		key, err := model.ParseAnswerKey(a.QuestionKey)
		if err != nil {
			s.logger.Warn("skipping stored tabular key", "response_id", resp.ID, "key", a.QuestionKey)
			continue
		}
		snap.Answers = append(snap.Answers, DraftAnswer{Key: key, Answer: a.Value, Score: a.Score, UpdatedAt: a.UpdatedAt})
	}
	return snap, nil
}

// BulkSubmit validates the payload and finalizes the response
func (s *DraftService) BulkSubmit(ctx context.Context, c Caller, responseID string, entries []AnswerEntry) (*model.SurveyResponse, error) {
	resp, err := s.guard.Authorize(ctx, Access{Caller: c, ResponseID: responseID, Endpoint: EndpointSubmit, Editing: true})
	if err != nil {
		return nil, err
	}

	ok, err := s.limiter.CheckDuplicate(ctx, "submit", c.UserID, s.dupSubmit.Limit, s.dupSubmit.Decay)
	if !ok {
		if err != nil {
			return nil, storageErr("duplicate submit check", err)
		}
		s.metrics.IncRateLimited("submit_duplicate")
		return nil, &RateLimitError{Bucket: "submit_duplicate", RetryAfter: s.dupSubmit.Decay}
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Answer
	}
	s.guard.InspectAnswers(c, resp.ID, texts)

	sub, survey, err := s.validator.Validate(ctx, c.UserID, resp, entries)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			s.metrics.IncSubmission("rejected")
		}
		return nil, err
	}

	updated, err := s.lifecycle.Finalize(ctx, resp, survey, sub)
	if err != nil {
		return nil, err
	}
	s.metrics.IncSubmission(string(updated.Status))
	s.logger.Info("response submitted",
		"response_id", updated.ID, "status", updated.Status,
		"answered", sub.Answered, "total", sub.Total, "tabular", len(sub.Tabular))

	s.broadcaster.BroadcastToResponse(updated.ID, EventResponseSubmitted, updated)
	return updated, nil
}

// Progress reports the completion percentage. Read path: allowed outside the editing period.
func (s *DraftService) Progress(ctx context.Context, c Caller, responseID string) (*Progress, error) {
	resp, err := s.guard.Authorize(ctx, Access{Caller: c, ResponseID: responseID, Endpoint: EndpointProgress})
	if err != nil {
		return nil, err
	}
	stats, err := s.store.Statistics(ctx, resp.ID)
	if err != nil {
		return nil, err
	}
	survey, err := s.lifecycle.SurveyFor(ctx, resp)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ScalarAnswers(ctx, resp.ID, nil)
	if err != nil {
		return nil, err
	}

	total, answered := countAnswered(survey, rows)
	return &Progress{
		ResponseID:           resp.ID,
		CompletionPercentage: completionPercentage(total, answered, stats),
		Status:               resp.Status,
		CanBeModified:        s.lifecycle.CanBeModified(resp),
		Answered:             answered,
		Total:                total,
		Stats:                stats,
	}, nil
}

// completionPercentage is answered/total numeric questions, capped at 100. Surveys without
// numeric questions count as complete once any tabular answer exists.
func completionPercentage(total, answered int, stats model.AnswerStats) float64 {
	if total == 0 {
		if stats.Tabular.Total > 0 {
			return 100
		}
		return 0
	}
	pct := float64(answered) * 100 / float64(total)
	if pct > 100 {
		pct = 100
	}
	return math.Round(pct*100) / 100
}

// Discard purges draft rows and ends the attempt
func (s *DraftService) Discard(ctx context.Context, c Caller, responseID string) (*model.SurveyResponse, error) {
	resp, err := s.guard.Authorize(ctx, Access{Caller: c, ResponseID: responseID, Endpoint: EndpointDraft, Editing: true})
	if err != nil {
		return nil, err
	}
	ended, err := s.lifecycle.Discard(ctx, resp)
	if err != nil {
		return nil, err
	}
	s.logger.Info("response discarded", "response_id", ended.ID)
	s.broadcaster.BroadcastToResponse(ended.ID, EventResponseDiscarded, ended)
	return ended, nil
}

// StartOrResume opens the caller's attempt at a survey for the current period
func (s *DraftService) StartOrResume(ctx context.Context, c Caller, centerRef, surveyRef string) (*model.SurveyResponse, bool, error) {
	if err := s.guard.Throttle(ctx, c, EndpointGeneral); err != nil {
		return nil, false, err
	}
	return s.lifecycle.StartOrResume(ctx, centerRef, surveyRef, c.UserID)
}

// StartNewVersion opens the next evaluation version after a finished attempt
func (s *DraftService) StartNewVersion(ctx context.Context, c Caller, responseID string) (*model.SurveyResponse, error) {
	prev, err := s.guard.Authorize(ctx, Access{Caller: c, ResponseID: responseID, Endpoint: EndpointGeneral, Editing: true})
	if err != nil {
		return nil, err
	}
	next, err := s.lifecycle.StartNewVersion(ctx, prev)
	if err != nil {
		return nil, err
	}
	s.broadcaster.BroadcastToResponse(prev.ID, EventVersionStarted, map[string]interface{}{
		"previous_id": prev.ID,
		"response_id": next.ID,
		"version":     next.EvaluationVersion,
	})
	return next, nil
}

// GetResponse returns the response document to its owner
func (s *DraftService) GetResponse(ctx context.Context, c Caller, responseID string) (*model.SurveyResponse, error) {
	return s.guard.Authorize(ctx, Access{Caller: c, ResponseID: responseID, Endpoint: EndpointGeneral})
}

// RequestSweep runs Sweep on behalf of an HTTP caller, charged to the general quota
func (s *DraftService) RequestSweep(ctx context.Context, c Caller) (int64, error) {
	if err := s.guard.Throttle(ctx, c, EndpointGeneral); err != nil {
		return 0, err
	}
	n, err := s.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("sweep requested", "user_id", c.UserID, "ip", c.IP, "expired", n)
	return n, nil
}

// Sweep ends stale responses from earlier periods
func (s *DraftService) Sweep(ctx context.Context) (int64, error) {
	n, err := s.lifecycle.MarkExpired(ctx)
	if err != nil {
		return 0, err
	}
	s.metrics.AddExpired(n)
	return n, nil
}
