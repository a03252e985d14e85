package service

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"healthsurvey/internal/cache"
	"healthsurvey/internal/clock"
	"healthsurvey/internal/metrics"
	"healthsurvey/internal/model"
	"healthsurvey/internal/repository/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	testCenter      = "center-1"
	standardSurvey  = "survey-std"
	tabularSurvey   = "survey-tab"
	ownerID         = "user-1"
	browserAgent    = "Mozilla/5.0 (X11; Linux x86_64) Firefox/125.0"
	questionsPerDom = 5
)

var march2024 = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *memory.Store
	redis     *miniredis.Miniredis
	clock     *clock.Fixed
	metrics   *metrics.Registry
	limiter   *RateLimiter
	guard     *SecurityGuard
	answers   *AnswerStore
	lifecycle *ResponseLifecycle
	validator *SubmissionValidator
	svc       *DraftService
	events    *recordingBroadcaster
}

type recordedEvent struct {
	responseID string
	msgType    string
}

type recordingBroadcaster struct {
	events []recordedEvent
}

func (b *recordingBroadcaster) BroadcastToResponse(responseID, msgType string, _ interface{}) {
	b.events = append(b.events, recordedEvent{responseID: responseID, msgType: msgType})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFixed(march2024)
	reg := metrics.NewRegistry()
	store := memory.NewStore()

	limiter := NewRateLimiter(cache.NewRateLimitCache(rdb), clk, reg, logger)
	guard := NewSecurityGuard(store, limiter, cache.NewAnomalyCache(rdb), clk, reg, logger, DefaultGuardConfig())
	answers := NewAnswerStore(store, store, clk)
	lifecycle := NewResponseLifecycle(store, store, answers, clk, logger)
	validator := NewSubmissionValidator(lifecycle, store, 30)
	svc := NewDraftService(guard, limiter, answers, lifecycle, validator, reg, logger, DuplicateGuard{Limit: 3, Decay: 10 * time.Second})
	events := &recordingBroadcaster{}
	svc.SetBroadcaster(events)

	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		store:     store,
		redis:     mr,
		clock:     clk,
		metrics:   reg,
		limiter:   limiter,
		guard:     guard,
		answers:   answers,
		lifecycle: lifecycle,
		validator: validator,
		svc:       svc,
		events:    events,
	}
	f.seedCatalog()
	return f
}

// seedCatalog stores a standard survey with questions 1..10 and a tabular survey
// with medications 1 and 2
func (f *fixture) seedCatalog() {
	var domains []model.Domain
	var qid int64 = 1
	for d := int64(1); d <= 2; d++ {
		dom := model.Domain{ID: d, Name: "Domain"}
		for i := 0; i < questionsPerDom; i++ {
			dom.Questions = append(dom.Questions, model.Question{ID: qid, Type: model.QuestionTypeNumber, MaxScore: 5})
			qid++
		}
		domains = append(domains, dom)
	}
	require.NoError(f.t, f.store.SaveSurvey(f.ctx, &model.Survey{
		ID:             standardSurvey,
		Title:          "Quality of care",
		EvaluationType: model.EvaluationStandard,
		Sections:       []model.Section{{ID: 1, Name: "General", Domains: domains}},
	}))
	require.NoError(f.t, f.store.SaveSurvey(f.ctx, &model.Survey{
		ID:             tabularSurvey,
		Title:          "Medication stock",
		EvaluationType: model.EvaluationTabular,
	}))
	for _, id := range []int64{1, 2} {
		require.NoError(f.t, f.store.SaveMedication(f.ctx, &model.Medication{ID: id, Name: "Medication"}))
	}
}

func (f *fixture) caller(userID string) Caller {
	return Caller{UserID: userID, IP: "10.0.0.1", UserAgent: browserAgent}
}

// start opens a response for ownerID on surveyID in the current period
func (f *fixture) start(surveyID string) *model.SurveyResponse {
	f.t.Helper()
	resp, _, err := f.lifecycle.StartOrResume(f.ctx, testCenter, surveyID, ownerID)
	require.NoError(f.t, err)
	return resp
}

func (f *fixture) reload(id string) *model.SurveyResponse {
	f.t.Helper()
	resp, err := f.store.GetByID(f.ctx, id)
	require.NoError(f.t, err)
	return resp
}

// scalarEntries answers questions 1..n
func scalarEntries(n int) []AnswerEntry {
	entries := make([]AnswerEntry, 0, n)
	for i := 1; i <= n; i++ {
		entries = append(entries, AnswerEntry{QuestionID: itoa(i), Answer: "answer " + itoa(i), Score: 1})
	}
	return entries
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
