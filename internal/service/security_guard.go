package service

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"healthsurvey/internal/cache"
	"healthsurvey/internal/clock"
	"healthsurvey/internal/metrics"
	"healthsurvey/internal/model"
	"healthsurvey/internal/repository"
)

// Endpoint selects the quota bucket a request is charged to
type Endpoint string

const (
	EndpointDraft    Endpoint = "draft"
	EndpointSubmit   Endpoint = "submit"
	EndpointProgress Endpoint = "progress"
	EndpointGeneral  Endpoint = "general"
)

const (
	burstBucket   = 2 * time.Minute
	ipWindow      = 24 * time.Hour
	minUserAgent  = 10
	patternMinLen = 5
)

var botAgents = []string{"bot", "curl", "python-requests", "wget", "spider", "crawler"}

// GuardConfig holds the per-endpoint quotas and anomaly thresholds
type GuardConfig struct {
	Buckets    map[Endpoint]Bucket
	BurstLimit int
	MaxIPs     int
}

// DefaultGuardConfig is generous for autosave and strict for submissions
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Buckets: map[Endpoint]Bucket{
			EndpointDraft:    {Name: "draft", Limit: 300, Window: time.Hour},
			EndpointSubmit:   {Name: "submit", Limit: 10, Window: time.Hour},
			EndpointProgress: {Name: "progress", Limit: 600, Window: time.Hour, FailOpen: true},
			EndpointGeneral:  {Name: "general", Limit: 1000, Window: time.Hour, FailOpen: true},
		},
		BurstLimit: 60,
		MaxIPs:     3,
	}
}

// Caller identifies who is making a request and from where
type Caller struct {
	UserID    string
	IP        string
	UserAgent string
}

// Access describes one guarded request against a response
type Access struct {
	Caller
	ResponseID string
	Endpoint   Endpoint
	// Editing requires the response to belong to the current period
	Editing bool
}

// SecurityGuard runs the per-request checks in order: authentication, existence,
// ownership, editing period, then the endpoint quota. Anomaly detection runs last
// and only logs.
type SecurityGuard struct {
	responses repository.ResponseRepo
	limiter   *RateLimiter
	anomalies cache.AnomalyCache
	clock     clock.Clock
	metrics   *metrics.Registry
	logger    *slog.Logger
	cfg       GuardConfig
}

func NewSecurityGuard(
	responses repository.ResponseRepo,
	limiter *RateLimiter,
	anomalies cache.AnomalyCache,
	clk clock.Clock,
	m *metrics.Registry,
	logger *slog.Logger,
	cfg GuardConfig,
) *SecurityGuard {
	return &SecurityGuard{
		responses: responses,
		limiter:   limiter,
		anomalies: anomalies,
		clock:     clk,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
	}
}

// Authorize returns the targeted response once every check has passed
func (g *SecurityGuard) Authorize(ctx context.Context, a Access) (*model.SurveyResponse, error) {
	if a.UserID == "" {
		return nil, ErrAuthenticationRequired
	}
	resp, err := g.responses.GetByID(ctx, a.ResponseID)
	if err != nil {
		return nil, storageErr("load response", err)
	}
	if err := CheckOwnership(resp, a.UserID); err != nil {
		return nil, err
	}
	if a.Editing && !g.InEligibleWindow(resp) {
		return nil, ErrExpired
	}
	if err := g.Throttle(ctx, a.Caller, a.Endpoint); err != nil {
		return nil, err
	}
	g.detectAnomalies(ctx, a.Caller, a.ResponseID)
	return resp, nil
}

// Throttle charges the caller to the endpoint's bucket without a response lookup
func (g *SecurityGuard) Throttle(ctx context.Context, c Caller, ep Endpoint) error {
	if c.UserID == "" {
		return ErrAuthenticationRequired
	}
	b, ok := g.cfg.Buckets[ep]
	if !ok {
		b = g.cfg.Buckets[EndpointGeneral]
	}
	return g.limiter.Enforce(ctx, b, c.UserID)
}

// InEligibleWindow reports whether the response belongs to the current calendar month
func (g *SecurityGuard) InEligibleWindow(resp *model.SurveyResponse) bool {
	return resp.Period() == model.PeriodOf(g.clock.Now())
}

// CheckOwnership rejects callers other than the response's submitter
func CheckOwnership(resp *model.SurveyResponse, userID string) error {
	if resp.SubmittedBy != userID {
		return ErrForbidden
	}
	return nil
}

func (g *SecurityGuard) detectAnomalies(ctx context.Context, c Caller, responseID string) {
	now := g.clock.Now()
	bucket := now.Unix() / int64(burstBucket/time.Second)

	if n, err := g.anomalies.CountRequest(ctx, c.UserID, bucket, burstBucket); err != nil {
		g.logger.Debug("anomaly burst counter failed", "error", err)
	} else if n == int64(g.cfg.BurstLimit)+1 {
		g.report("burst", c.UserID, responseID, "requests", n)
	}

	if c.IP != "" {
		if n, err := g.anomalies.AddIP(ctx, c.UserID, c.IP, ipWindow); err != nil {
			g.logger.Debug("anomaly ip tracker failed", "error", err)
		} else if n > int64(g.cfg.MaxIPs) {
			g.report("multi_ip", c.UserID, responseID, "distinct_ips", n, "ip", c.IP)
		}
	}

	if suspiciousUserAgent(c.UserAgent) {
		g.report("user_agent", c.UserID, responseID, "user_agent", c.UserAgent)
	}
}

// InspectAnswers flags payloads where every answer is identical or the numeric
// answers form a +1/-1 run. Findings are logged only.
func (g *SecurityGuard) InspectAnswers(c Caller, responseID string, answers []string) {
	if len(answers) < patternMinLen {
		return
	}
	switch {
	case allIdentical(answers):
		g.report("identical_answers", c.UserID, responseID, "count", len(answers), "value", answers[0])
	case isSequential(answers):
		g.report("sequential_answers", c.UserID, responseID, "count", len(answers))
	}
}

func (g *SecurityGuard) report(kind, userID, responseID string, attrs ...any) {
	g.metrics.IncAnomaly(kind)
	args := append([]any{"kind", kind, "user_id", userID, "response_id", responseID}, attrs...)
	g.logger.Warn("suspicious activity", args...)
}

func suspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(strings.TrimSpace(ua))
	if len(ua) < minUserAgent {
		return true
	}
	for _, marker := range botAgents {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

func allIdentical(answers []string) bool {
	first := strings.TrimSpace(answers[0])
	for _, a := range answers[1:] {
		if strings.TrimSpace(a) != first {
			return false
		}
	}
	return true
}

func isSequential(answers []string) bool {
	nums := make([]float64, 0, len(answers))
	for _, a := range answers {
		n, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
		if err != nil {
			return false
		}
		nums = append(nums, n)
	}
	step := nums[1] - nums[0]
	if step != 1 && step != -1 {
		return false
	}
	for i := 2; i < len(nums); i++ {
		if nums[i]-nums[i-1] != step {
			return false
		}
	}
	return true
}
