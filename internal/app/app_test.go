package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"healthsurvey/internal/clock"
	"healthsurvey/internal/config"
	"healthsurvey/internal/repository/memory"
	"healthsurvey/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		StoreDriver:                "memory",
		JWTSecret:                  "secret",
		DraftRate:                  config.RateLimit{Limit: 5, Window: time.Minute},
		SubmitRate:                 config.RateLimit{Limit: 2, Window: time.Hour},
		ProgressRate:               config.RateLimit{Limit: 50, Window: time.Hour},
		GeneralRate:                config.RateLimit{Limit: 70, Window: time.Hour},
		SubmitDuplicateLimit:       3,
		SubmitDuplicateDecay:       10 * time.Second,
		CompletionThresholdPercent: 30,
		AnomalyBurstLimit:          20,
		AnomalyMaxIPs:              2,
	}
}

func TestGuardConfigFromSettings(t *testing.T) {
	g := GuardConfig(testConfig())

	assert.Equal(t, service.Bucket{Name: "draft", Limit: 5, Window: time.Minute}, g.Buckets[service.EndpointDraft])
	assert.False(t, g.Buckets[service.EndpointSubmit].FailOpen)
	assert.True(t, g.Buckets[service.EndpointProgress].FailOpen)
	assert.True(t, g.Buckets[service.EndpointGeneral].FailOpen)
	assert.Equal(t, 20, g.BurstLimit)
	assert.Equal(t, 2, g.MaxIPs)
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = "sqlite"

	_, err := OpenStore(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "sqlite")
}

func TestBuildWiresServices(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a := Build(memory.NewStore().Bundle(), rdb, clock.System(), testConfig(), logger)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	require.NotNil(t, a.DraftService)
	tok, err := a.AuthService.IssueUserToken("user-7", time.Minute)
	require.NoError(t, err)
	claims, err := a.AuthService.ValidateUserToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-7", claims.UserID)

	n, err := a.DraftService.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
