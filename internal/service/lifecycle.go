package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"healthsurvey/internal/clock"
	"healthsurvey/internal/model"
	"healthsurvey/internal/repository"
)

// ResponseLifecycle owns every status change of a SurveyResponse.
//
//	started -> draft | in-progress -> submitted (claimed) -> completed | submitted
//	started | draft | in-progress -> ended
type ResponseLifecycle struct {
	responses repository.ResponseRepo
	catalog   repository.CatalogRepo
	answers   *AnswerStore
	clock     clock.Clock
	logger    *slog.Logger
}

func NewResponseLifecycle(
	responses repository.ResponseRepo,
	catalog repository.CatalogRepo,
	answers *AnswerStore,
	clk clock.Clock,
	logger *slog.Logger,
) *ResponseLifecycle {
	return &ResponseLifecycle{
		responses: responses,
		catalog:   catalog,
		answers:   answers,
		clock:     clk,
		logger:    logger,
	}
}

// StartOrResume returns the caller's latest resumable response for the current period,
// creating version 1 when the period has no response yet. created reports whether a row was inserted.
func (l *ResponseLifecycle) StartOrResume(ctx context.Context, centerRef, surveyRef, userRef string) (resp *model.SurveyResponse, created bool, err error) {
	if _, err := l.catalog.GetSurvey(ctx, surveyRef); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, storageErr("load survey", err)
	}

	now := l.clock.Now()
	period := model.PeriodOf(now)

	resp, err = l.responses.FindLatest(ctx, centerRef, surveyRef, userRef, period, model.ResumableStatuses)
	switch {
	case err == nil:
		resp, err = l.resume(ctx, resp)
		return resp, false, err
	case !errors.Is(err, repository.ErrNotFound):
		return nil, false, storageErr("find resumable response", err)
	}

	// Only terminal attempts exist for the period; a new one needs StartNewVersion.
	resp, err = l.responses.FindLatest(ctx, centerRef, surveyRef, userRef, period, nil)
	if err == nil {
		return resp, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, storageErr("find response", err)
	}

	resp, err = l.create(ctx, model.ResponseKey{
		CenterRef:         centerRef,
		SurveyRef:         surveyRef,
		SubmittedBy:       userRef,
		Year:              period.Year,
		Month:             period.Month,
		EvaluationVersion: 1,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return l.reread(ctx, centerRef, surveyRef, userRef, period)
	}
	if err != nil {
		return nil, false, err
	}
	return resp, true, nil
}

// reread picks up the row a concurrent caller inserted first
func (l *ResponseLifecycle) reread(ctx context.Context, centerRef, surveyRef, userRef string, period model.Period) (*model.SurveyResponse, bool, error) {
	resp, err := l.responses.FindLatest(ctx, centerRef, surveyRef, userRef, period, nil)
	if err != nil {
		return nil, false, storageErr("reload response", err)
	}
	return resp, false, nil
}

func (l *ResponseLifecycle) create(ctx context.Context, key model.ResponseKey) (*model.SurveyResponse, error) {
	now := l.clock.Now()
	resp := &model.SurveyResponse{
		CenterRef:         key.CenterRef,
		SurveyRef:         key.SurveyRef,
		SubmittedBy:       key.SubmittedBy,
		Year:              key.Year,
		Month:             key.Month,
		EvaluationVersion: key.EvaluationVersion,
		Status:            model.StatusStarted,
		LastActivityAt:    now,
		CreatedAt:         now,
	}
	if err := l.responses.Create(ctx, resp); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
		return nil, storageErr("create response", err)
	}
	l.logger.Info("response started",
		"response_id", resp.ID, "center", key.CenterRef, "survey", key.SurveyRef,
		"period", formatPeriod(resp.Period()), "version", key.EvaluationVersion)
	return resp, nil
}

// resume moves a draft back to in-progress when the user re-enters it
func (l *ResponseLifecycle) resume(ctx context.Context, resp *model.SurveyResponse) (*model.SurveyResponse, error) {
	if resp.Status != model.StatusDraft {
		return resp, nil
	}
	updated, err := l.transition(ctx, resp.ID, []model.ResponseStatus{model.StatusDraft}, model.StatusUpdate{To: model.StatusInProgress})
	if errors.Is(err, repository.ErrStatusConflict) {
		return l.reload(ctx, resp.ID)
	}
	return updated, err
}

// CanBeModified is false once the response reached completed, submitted or ended
func (l *ResponseLifecycle) CanBeModified(resp *model.SurveyResponse) bool {
	return resp.CanBeModified()
}

// TouchActivity records a write against the response
func (l *ResponseLifecycle) TouchActivity(ctx context.Context, resp *model.SurveyResponse) error {
	now := l.clock.Now()
	if err := l.responses.Touch(ctx, resp.ID, now); err != nil {
		return storageErr("touch response", err)
	}
	resp.LastActivityAt = now
	return nil
}

// MarkDraft records that the first draft was saved. Responses already past started are left alone.
func (l *ResponseLifecycle) MarkDraft(ctx context.Context, resp *model.SurveyResponse) (*model.SurveyResponse, error) {
	if resp.Status != model.StatusStarted {
		return resp, nil
	}
	updated, err := l.transition(ctx, resp.ID, []model.ResponseStatus{model.StatusStarted}, model.StatusUpdate{To: model.StatusDraft})
	if errors.Is(err, repository.ErrStatusConflict) {
		return l.reload(ctx, resp.ID)
	}
	return updated, err
}

// Claim moves a resumable response to submitted ahead of writing its final rows. Once claimed,
// draft writes and competing submissions are refused. Losing the race yields ErrExpired.
func (l *ResponseLifecycle) Claim(ctx context.Context, resp *model.SurveyResponse) (*model.SurveyResponse, error) {
	now := l.clock.Now()
	updated, err := l.transition(ctx, resp.ID, model.ResumableStatuses, model.StatusUpdate{
		To:          model.StatusSubmitted,
		SubmittedAt: &now,
	})
	if errors.Is(err, repository.ErrStatusConflict) {
		return nil, ErrExpired
	}
	return updated, err
}

// Submit records the outcome of a claimed response: its final status and overall_score
func (l *ResponseLifecycle) Submit(ctx context.Context, resp *model.SurveyResponse, to model.ResponseStatus, overallScore float64) (*model.SurveyResponse, error) {
	updated, err := l.transition(ctx, resp.ID, []model.ResponseStatus{model.StatusSubmitted}, model.StatusUpdate{
		To:           to,
		OverallScore: &overallScore,
	})
	if errors.Is(err, repository.ErrStatusConflict) {
		return nil, ErrExpired
	}
	return updated, err
}

// End abandons a resumable response
func (l *ResponseLifecycle) End(ctx context.Context, resp *model.SurveyResponse) (*model.SurveyResponse, error) {
	updated, err := l.transition(ctx, resp.ID, model.ResumableStatuses, model.StatusUpdate{To: model.StatusEnded})
	if errors.Is(err, repository.ErrStatusConflict) {
		return nil, ErrExpired
	}
	return updated, err
}

func (l *ResponseLifecycle) transition(ctx context.Context, id string, from []model.ResponseStatus, upd model.StatusUpdate) (*model.SurveyResponse, error) {
	upd.At = l.clock.Now()
	resp, err := l.responses.TransitionStatus(ctx, id, from, upd)
	if errors.Is(err, repository.ErrStatusConflict) {
		return nil, err
	}
	if err != nil {
		return nil, storageErr("transition response", err)
	}
	l.logger.Debug("response transitioned", "response_id", id, "status", resp.Status)
	return resp, nil
}

func (l *ResponseLifecycle) reload(ctx context.Context, id string) (*model.SurveyResponse, error) {
	resp, err := l.responses.GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("reload response", err)
	}
	return resp, nil
}

// MarkExpired ends every resumable response from a period before the current one.
// Running it again in the same period changes nothing.
func (l *ResponseLifecycle) MarkExpired(ctx context.Context) (int64, error) {
	now := l.clock.Now()
	n, err := l.responses.ExpireBefore(ctx, model.PeriodOf(now), now)
	if err != nil {
		return 0, storageErr("expire responses", err)
	}
	return n, nil
}

// StartNewVersion opens evaluation_version+1 after a completed or submitted attempt
// in the current period. The earlier version is not touched.
func (l *ResponseLifecycle) StartNewVersion(ctx context.Context, prev *model.SurveyResponse) (*model.SurveyResponse, error) {
	if prev.Period() != model.PeriodOf(l.clock.Now()) || prev.Status == model.StatusEnded {
		return nil, ErrExpired
	}
	if !prev.Status.IsTerminal() {
		verr := NewValidationError()
		verr.Add("status", "Response is still %s; submit or discard it before starting a new version", prev.Status)
		return nil, verr
	}

	latest, err := l.responses.FindLatest(ctx, prev.CenterRef, prev.SurveyRef, prev.SubmittedBy, prev.Period(), nil)
	if err != nil {
		return nil, storageErr("find latest version", err)
	}
	if latest.CanBeModified() {
		return latest, nil
	}

	key := latest.Key()
	key.EvaluationVersion++
	resp, err := l.create(ctx, key)
	if errors.Is(err, repository.ErrDuplicate) {
		resp, err = l.responses.GetByKey(ctx, key)
		if err != nil {
			return nil, storageErr("reload version", err)
		}
		return resp, nil
	}
	return resp, err
}

// SurveyFor loads the survey definition the response answers
func (l *ResponseLifecycle) SurveyFor(ctx context.Context, resp *model.SurveyResponse) (*model.Survey, error) {
	survey, err := l.catalog.GetSurvey(ctx, resp.SurveyRef)
	if err != nil {
		return nil, storageErr("load survey", err)
	}
	return survey, nil
}

// Finalize locks a validated submission. The response is claimed first, then payload rows are
// written as final and drafts that passed validation are finalized. Rejected scalar drafts are
// dropped; rejected tabular drafts stay as drafts.
// The response ends in completed when every numeric question has a final answer, otherwise in
// submitted. overall_score is the sum of final scores.
func (l *ResponseLifecycle) Finalize(ctx context.Context, resp *model.SurveyResponse, survey *model.Survey, sub *ValidatedSubmission) (*model.SurveyResponse, error) {
	claimed, err := l.Claim(ctx, resp)
	if err != nil {
		return nil, err
	}
	updated, err := l.finalizeClaimed(ctx, claimed, survey, sub)
	if err != nil {
		l.logger.Error("submission left without a score", "response_id", claimed.ID, "error", err)
		return nil, err
	}
	return updated, nil
}

func (l *ResponseLifecycle) finalizeClaimed(ctx context.Context, resp *model.SurveyResponse, survey *model.Survey, sub *ValidatedSubmission) (*model.SurveyResponse, error) {
	if len(sub.RejectedScalar)+len(sub.RejectedTabular) > 0 {
		l.logger.Warn("drafts failing reference checks are not finalized",
			"response_id", resp.ID, "scalar", sub.RejectedScalar, "tabular", sub.RejectedTabular)
	}
	if _, err := l.answers.DropDrafts(ctx, resp.ID, sub.RejectedScalar); err != nil {
		return nil, err
	}

	// Tabular drafts are copied first so payload values win for keys present in both.
	if _, err := l.answers.FinalizeTabularDrafts(ctx, resp.ID, sub.RejectedTabular...); err != nil {
		return nil, err
	}
	if _, err := l.answers.BulkUpsertTabular(ctx, resp.ID, sub.Tabular, false); err != nil {
		return nil, err
	}
	if _, err := l.answers.BulkUpsertScalar(ctx, resp.ID, sub.Scalar, false); err != nil {
		return nil, err
	}
	if _, err := l.answers.FinalizeDrafts(ctx, resp.ID); err != nil {
		return nil, err
	}

	stats, err := l.answers.Statistics(ctx, resp.ID)
	if err != nil {
		return nil, err
	}
	final, err := l.answers.ScalarAnswers(ctx, resp.ID, repository.DraftFilter(false))
	if err != nil {
		return nil, err
	}

	to := model.StatusSubmitted
	if total, answered := countAnswered(survey, final); total > 0 && answered == total {
		to = model.StatusCompleted
	}
	return l.Submit(ctx, resp, to, stats.Scalar.FinalScoreSum+stats.Tabular.FinalScoreSum)
}

// Discard ends a resumable response and then drops its draft rows
func (l *ResponseLifecycle) Discard(ctx context.Context, resp *model.SurveyResponse) (*model.SurveyResponse, error) {
	if !resp.CanBeModified() {
		return nil, ErrExpired
	}
	ended, err := l.End(ctx, resp)
	if err != nil {
		return nil, err
	}
	if _, err := l.answers.PurgeDrafts(ctx, ended.ID); err != nil {
		return nil, err
	}
	if _, err := l.answers.PurgeTabularDrafts(ctx, ended.ID); err != nil {
		return nil, err
	}
	return ended, nil
}

// countAnswered returns the number of numeric questions in the survey and how many of them rows cover
func countAnswered(survey *model.Survey, rows []model.Answer) (total, answered int) {
	ids := survey.QuestionIDs()
	seen := make(map[int64]bool, len(rows))
	for _, r := range rows {
		if _, ok := ids[r.QuestionID]; ok && !seen[r.QuestionID] {
			seen[r.QuestionID] = true
			answered++
		}
	}
	return len(ids), answered
}

func formatPeriod(p model.Period) string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}
