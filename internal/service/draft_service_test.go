package service

import (
	"testing"
	"time"

	"healthsurvey/internal/model"
	"healthsurvey/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitBelowCompletionThreshold(t *testing.T) {
	f := newFixture(t)
	resp := f.start(standardSurvey)

	_, err := f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(2))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Errors, "completion")
	assert.Equal(t, model.StatusStarted, f.reload(resp.ID).Status)

	rows, err := f.store.ListScalar(f.ctx, resp.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	updated, err := f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(3))
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, updated.Status)
	require.NotNil(t, updated.SubmittedAt)
	assert.True(t, updated.SubmittedAt.Equal(march2024))
}

func TestSubmitAllQuestionsCompletes(t *testing.T) {
	f := newFixture(t)
	resp := f.start(standardSurvey)

	// drafts for 1..4 are finalized alongside the payload for 5..10
	_, err := f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(4))
	require.NoError(t, err)

	payload := scalarEntries(10)[4:]
	updated, err := f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, payload)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, updated.Status)
	require.NotNil(t, updated.OverallScore)
	assert.Equal(t, 10.0, *updated.OverallScore)

	drafts, err := f.store.ListScalar(f.ctx, resp.ID, repository.DraftFilter(true))
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestDraftRateLimit(t *testing.T) {
	f := newFixture(t)
	resp := f.start(standardSurvey)
	entries := scalarEntries(1)

	for i := 0; i < 300; i++ {
		_, err := f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, entries)
		require.NoError(t, err, "call %d", i+1)
	}

	_, err := f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, entries)
	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, 3600, rlErr.RetrySeconds())
	assert.Equal(t, "draft", rlErr.Bucket)

	// other buckets are unaffected
	_, err = f.svc.Progress(f.ctx, f.caller(ownerID), resp.ID)
	assert.NoError(t, err)
}

func TestPeriodRollover(t *testing.T) {
	f := newFixture(t)
	resp := f.start(standardSurvey)
	_, err := f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(2))
	require.NoError(t, err)

	f.clock.Set(time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC))

	_, err = f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(3))
	assert.ErrorIs(t, err, ErrExpired)

	_, err = f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(5))
	assert.ErrorIs(t, err, ErrExpired)

	progress, err := f.svc.Progress(f.ctx, f.caller(ownerID), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, 20.0, progress.CompletionPercentage)
	assert.True(t, progress.CanBeModified)

	snap, err := f.svc.GetDraft(f.ctx, f.caller(ownerID), resp.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Answers, 2)
}

func TestSubmitUnknownMedication(t *testing.T) {
	f := newFixture(t)
	resp := f.start(tabularSurvey)

	_, err := f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{
		{QuestionID: "med_1_field_1", Answer: "20"},
		{QuestionID: "med_999_field_1", Answer: "5"},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"Invalid medication ID: 999"}, verr.Errors["medications"])
	assert.Equal(t, model.StatusStarted, f.reload(resp.ID).Status)
}

func TestSubmitDropsDraftsForUnknownQuestions(t *testing.T) {
	f := newFixture(t)
	resp := f.start(standardSurvey)

	_, err := f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{{QuestionID: "9999", Answer: "stale", Score: 50}})
	require.NoError(t, err)

	updated, err := f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(3))
	require.NoError(t, err)
	require.NotNil(t, updated.OverallScore)
	assert.Equal(t, 3.0, *updated.OverallScore)

	rows, err := f.store.ListScalar(f.ctx, resp.ID, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, int64(i+1), row.QuestionID)
		assert.False(t, row.IsDraft)
	}
}

func TestSubmitSkipsDraftsForUnknownMedications(t *testing.T) {
	f := newFixture(t)
	resp := f.start(tabularSurvey)

	_, err := f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{
		{QuestionID: "med_999_field_1", Answer: "5", Score: 7},
		{QuestionID: "med_2_field_1", Answer: "9", Score: 1},
	})
	require.NoError(t, err)

	updated, err := f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{{QuestionID: "med_1_field_1", Answer: "20", Score: 2}})
	require.NoError(t, err)
	require.NotNil(t, updated.OverallScore)
	assert.Equal(t, 3.0, *updated.OverallScore)

	finals, err := f.store.ListTabular(f.ctx, resp.ID, repository.DraftFilter(false))
	require.NoError(t, err)
	require.Len(t, finals, 2)
	assert.Equal(t, "med_1_field_1", finals[0].QuestionKey)
	assert.Equal(t, "med_2_field_1", finals[1].QuestionKey)

	// draft rows are never removed by a tabular finalize
	drafts, err := f.store.ListTabular(f.ctx, resp.ID, repository.DraftFilter(true))
	require.NoError(t, err)
	assert.Len(t, drafts, 2)
}

func TestShorthandAndLongKeysShareOneRow(t *testing.T) {
	f := newFixture(t)
	resp := f.start(tabularSurvey)

	_, err := f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{{QuestionID: "1_1", Answer: "draft", Score: 5}})
	require.NoError(t, err)

	updated, err := f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{{QuestionID: "med_1_field_1", Answer: "final", Score: 5}})
	require.NoError(t, err)
	require.NotNil(t, updated.OverallScore)
	assert.Equal(t, 5.0, *updated.OverallScore)

	finals, err := f.store.ListTabular(f.ctx, resp.ID, repository.DraftFilter(false))
	require.NoError(t, err)
	require.Len(t, finals, 1)
	assert.Equal(t, "med_1_field_1", finals[0].QuestionKey)
	assert.Equal(t, "final", finals[0].Value)
}

func TestSubmitCanonicalizesStoredShorthandDrafts(t *testing.T) {
	f := newFixture(t)
	resp := f.start(tabularSurvey)

	// rows written before keys were canonicalized
	require.NoError(t, f.store.UpsertTabular(f.ctx, resp.ID, model.TabularInput{QuestionKey: "2_1", Value: "old", Score: 4}, true, march2024))

	updated, err := f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{{QuestionID: "med_2_field_1", Answer: "new", Score: 4}})
	require.NoError(t, err)
	require.NotNil(t, updated.OverallScore)
	assert.Equal(t, 4.0, *updated.OverallScore)

	finals, err := f.store.ListTabular(f.ctx, resp.ID, repository.DraftFilter(false))
	require.NoError(t, err)
	require.Len(t, finals, 1)
	assert.Equal(t, "med_2_field_1", finals[0].QuestionKey)
	assert.Equal(t, "new", finals[0].Value)
}

func TestSubmitLegacyTabularKeysAreChecked(t *testing.T) {
	f := newFixture(t)
	resp := f.start(tabularSurvey)

	_, err := f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{{QuestionID: "42_3", Answer: "x"}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"Invalid medication ID: 42"}, verr.Errors["medications"])
}

func TestSubmitAccumulatesDataErrors(t *testing.T) {
	f := newFixture(t)
	resp := f.start(standardSurvey)

	_, err := f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{
		{QuestionID: "1", Answer: "a"},
		{QuestionID: "1", Answer: "b"},
		{QuestionID: "abc", Answer: "c"},
		{QuestionID: "77", Answer: "d"},
		{QuestionID: "88", Answer: "e"},
		{QuestionID: "2", Answer: "f", Score: -1},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"Duplicate question ID: 1"}, verr.Errors["question_ids"][:1])
	assert.Contains(t, verr.Errors["question_ids"], "Unknown question IDs: 77, 88")
	assert.Contains(t, verr.Errors, "answers.2.question_id")
	assert.Contains(t, verr.Errors, "answers.5.score")
	assert.Contains(t, verr.Errors, "completion")
}

func TestSubmitEmptyPayload(t *testing.T) {
	f := newFixture(t)
	resp := f.start(tabularSurvey)

	_, err := f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Errors, "answers")
}

func TestDuplicateSubmitGuard(t *testing.T) {
	f := newFixture(t)
	resp := f.start(standardSurvey)

	for i := 0; i < 3; i++ {
		_, err := f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(1))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	}
	_, err := f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(3))
	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, "submit_duplicate", rlErr.Bucket)
	assert.Equal(t, 10, rlErr.RetrySeconds())

	// a new decay window accepts the submission again
	f.clock.Advance(11 * time.Second)
	updated, err := f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(3))
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, updated.Status)
}

func TestSaveDraftIsIdempotent(t *testing.T) {
	f := newFixture(t)
	resp := f.start(tabularSurvey)
	payload := []AnswerEntry{
		{QuestionID: "1", Answer: "yes", Score: 2},
		{QuestionID: "med_2_field_4", Answer: "30"},
		{QuestionID: "2_5", Answer: "tablets"},
	}

	_, err := f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, payload)
	require.NoError(t, err)
	scalarFirst, err := f.store.ListScalar(f.ctx, resp.ID, nil)
	require.NoError(t, err)
	tabularFirst, err := f.store.ListTabular(f.ctx, resp.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, payload)
	require.NoError(t, err)
	scalarSecond, err := f.store.ListScalar(f.ctx, resp.ID, nil)
	require.NoError(t, err)
	tabularSecond, err := f.store.ListTabular(f.ctx, resp.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, scalarFirst, scalarSecond)
	assert.Equal(t, tabularFirst, tabularSecond)
	require.Len(t, tabularSecond, 2)
	assert.Equal(t, "med_2_field_4", tabularSecond[0].QuestionKey)
	assert.Equal(t, "med_2_field_5", tabularSecond[1].QuestionKey)
}

func TestSaveDraftOverwritesInPlace(t *testing.T) {
	f := newFixture(t)
	resp := f.start(standardSurvey)

	_, err := f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{{QuestionID: "3", Answer: "first"}})
	require.NoError(t, err)
	_, err = f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{{QuestionID: "3", Answer: "<p>second</p>", Score: 4}})
	require.NoError(t, err)

	rows, err := f.store.ListScalar(f.ctx, resp.ID, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "second", rows[0].Text)
	assert.Equal(t, 4.0, rows[0].Score)
	assert.True(t, rows[0].IsDraft)
}

func TestSaveDraftRejectsMalformedKey(t *testing.T) {
	f := newFixture(t)
	resp := f.start(standardSurvey)

	_, err := f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{
		{QuestionID: "1", Answer: "ok"},
		{QuestionID: "med_x_field_1", Answer: "bad"},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Errors, "answers.1.question_id")

	rows, err := f.store.ListScalar(f.ctx, resp.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestTerminalResponseIsImmutable(t *testing.T) {
	f := newFixture(t)
	resp := f.start(standardSurvey)
	_, err := f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(3))
	require.NoError(t, err)

	before, err := f.store.ListScalar(f.ctx, resp.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(6))
	assert.ErrorIs(t, err, ErrExpired)
	_, err = f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(6))
	assert.ErrorIs(t, err, ErrExpired)
	_, err = f.svc.Discard(f.ctx, f.caller(ownerID), resp.ID)
	assert.ErrorIs(t, err, ErrExpired)

	after, err := f.store.ListScalar(f.ctx, resp.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, model.StatusSubmitted, f.reload(resp.ID).Status)
}

func TestGuardRejections(t *testing.T) {
	f := newFixture(t)
	resp := f.start(standardSurvey)

	_, err := f.svc.SaveDraft(f.ctx, Caller{}, resp.ID, scalarEntries(1))
	assert.ErrorIs(t, err, ErrAuthenticationRequired)

	_, err = f.svc.SaveDraft(f.ctx, f.caller("intruder"), resp.ID, scalarEntries(1))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Progress(f.ctx, f.caller(ownerID), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.GetDraft(f.ctx, f.caller("intruder"), resp.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestProgressIsMonotonic(t *testing.T) {
	f := newFixture(t)
	resp := f.start(standardSurvey)

	last := -1.0
	for i := 1; i <= 10; i++ {
		_, err := f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{{QuestionID: itoa(i), Answer: "x"}})
		require.NoError(t, err)

		p, err := f.svc.Progress(f.ctx, f.caller(ownerID), resp.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.CompletionPercentage, last)
		last = p.CompletionPercentage
	}
	assert.Equal(t, 100.0, last)
}

func TestProgressTabularSurvey(t *testing.T) {
	f := newFixture(t)
	resp := f.start(tabularSurvey)

	p, err := f.svc.Progress(f.ctx, f.caller(ownerID), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.CompletionPercentage)

	_, err = f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{{QuestionID: "med_1_field_2", Answer: "8"}})
	require.NoError(t, err)

	p, err = f.svc.Progress(f.ctx, f.caller(ownerID), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, p.CompletionPercentage)
	assert.Equal(t, 1, p.Stats.Tabular.Draft)
	assert.Equal(t, model.StatusDraft, p.Status)
}

func TestGetDraftReturnsOnlyDrafts(t *testing.T) {
	f := newFixture(t)
	resp := f.start(tabularSurvey)
	_, err := f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{
		{QuestionID: "5", Answer: "note", Score: 1},
		{QuestionID: "med_1_field_1", Answer: "10"},
	})
	require.NoError(t, err)

	snap, err := f.svc.GetDraft(f.ctx, f.caller(ownerID), resp.ID)
	require.NoError(t, err)
	require.Len(t, snap.Answers, 2)
	assert.Equal(t, model.ScalarKey(5), snap.Answers[0].Key)
	assert.Equal(t, "med_1_field_1", snap.Answers[1].Key.String())
	assert.Equal(t, "10", snap.Answers[1].Answer)
}

func TestTabularSubmitKeepsDraftRows(t *testing.T) {
	f := newFixture(t)
	resp := f.start(tabularSurvey)

	_, err := f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{
		{QuestionID: "med_1_field_1", Answer: "draft value"},
		{QuestionID: "med_2_field_1", Answer: "only drafted"},
	})
	require.NoError(t, err)

	updated, err := f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, []AnswerEntry{
		{QuestionID: "med_1_field_1", Answer: "final value", Score: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, updated.Status)

	drafts, err := f.store.ListTabular(f.ctx, resp.ID, repository.DraftFilter(true))
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "draft value", drafts[0].Value)

	finals, err := f.store.ListTabular(f.ctx, resp.ID, repository.DraftFilter(false))
	require.NoError(t, err)
	require.Len(t, finals, 2)
	assert.Equal(t, "final value", finals[0].Value)
	assert.Equal(t, "only drafted", finals[1].Value)
}

func TestDiscard(t *testing.T) {
	f := newFixture(t)
	resp := f.start(standardSurvey)
	_, err := f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(3))
	require.NoError(t, err)

	ended, err := f.svc.Discard(f.ctx, f.caller(ownerID), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEnded, ended.Status)

	stats, err := f.store.Stats(f.ctx, resp.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.Scalar.Total)
}

func TestEventsAreBroadcast(t *testing.T) {
	f := newFixture(t)
	resp := f.start(standardSurvey)

	_, err := f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(3))
	require.NoError(t, err)
	_, err = f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(3))
	require.NoError(t, err)
	next, err := f.svc.StartNewVersion(f.ctx, f.caller(ownerID), resp.ID)
	require.NoError(t, err)

	assert.Equal(t, []recordedEvent{
		{responseID: resp.ID, msgType: EventDraftSaved},
		{responseID: resp.ID, msgType: EventResponseSubmitted},
		{responseID: resp.ID, msgType: EventVersionStarted},
	}, f.events.events)
	assert.Equal(t, 2, next.EvaluationVersion)
}

func TestLimiterOutageFailsClosedForWrites(t *testing.T) {
	f := newFixture(t)
	resp := f.start(standardSurvey)
	f.redis.SetError("connection refused")

	_, err := f.svc.SaveDraft(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(1))
	assert.ErrorIs(t, err, ErrInternal)

	_, err = f.svc.BulkSubmit(f.ctx, f.caller(ownerID), resp.ID, scalarEntries(3))
	assert.ErrorIs(t, err, ErrInternal)

	p, err := f.svc.Progress(f.ctx, f.caller(ownerID), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusStarted, p.Status)
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	f.start(standardSurvey)
	f.clock.Set(time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC))

	n, err := f.svc.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRequestSweepNeedsCaller(t *testing.T) {
	f := newFixture(t)
	f.start(standardSurvey)
	f.clock.Set(time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.RequestSweep(f.ctx, Caller{})
	assert.ErrorIs(t, err, ErrAuthenticationRequired)

	n, err := f.svc.RequestSweep(f.ctx, f.caller(ownerID))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
