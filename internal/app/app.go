// Package app wires storage, caches and services from the process configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"healthsurvey/internal/cache"
	"healthsurvey/internal/clock"
	"healthsurvey/internal/config"
	"healthsurvey/internal/metrics"
	"healthsurvey/internal/repository"
	"healthsurvey/internal/repository/memory"
	"healthsurvey/internal/repository/postgres"
	"healthsurvey/internal/service"
	"healthsurvey/internal/transport/ws"

	"github.com/redis/go-redis/v9"
)

type App struct {
	Store   *repository.Store
	Redis   *redis.Client
	Metrics *metrics.Registry
	Hub     *ws.Hub

	AuthService  *service.AuthService
	DraftService *service.DraftService
}

// OpenStore selects the storage backend named by STORE_DRIVER
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*repository.Store, error) {
	switch cfg.StoreDriver {
	case "mongo":
		return repository.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDB, logger)
	case "postgres":
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg.Bundle(), nil
	case "memory":
		return memory.NewStore().Bundle(), nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// GuardConfig maps the configured quotas onto the security guard buckets
func GuardConfig(cfg *config.Config) service.GuardConfig {
	g := service.DefaultGuardConfig()
	g.Buckets[service.EndpointDraft] = bucket("draft", cfg.DraftRate, false)
	g.Buckets[service.EndpointSubmit] = bucket("submit", cfg.SubmitRate, false)
	g.Buckets[service.EndpointProgress] = bucket("progress", cfg.ProgressRate, true)
	g.Buckets[service.EndpointGeneral] = bucket("general", cfg.GeneralRate, true)
	g.BurstLimit = cfg.AnomalyBurstLimit
	g.MaxIPs = cfg.AnomalyMaxIPs
	return g
}

func bucket(name string, rl config.RateLimit, failOpen bool) service.Bucket {
	return service.Bucket{Name: name, Limit: rl.Limit, Window: rl.Window, FailOpen: failOpen}
}

// New connects storage and redis and builds the service graph.
// Close must be called to release connections.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("store connected", "driver", cfg.StoreDriver)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = store.Close(ctx)
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected", "addr", cfg.RedisAddr())

	a := Build(store, rdb, clock.System(), cfg, logger)
	return a, nil
}

// Build assembles services over already opened backends
func Build(store *repository.Store, rdb *redis.Client, clk clock.Clock, cfg *config.Config, logger *slog.Logger) *App {
	reg := metrics.NewRegistry()
	hub := ws.NewHub(logger)

	limiter := service.NewRateLimiter(cache.NewRateLimitCache(rdb), clk, reg, logger)
	guard := service.NewSecurityGuard(store.Responses, limiter, cache.NewAnomalyCache(rdb), clk, reg, logger, GuardConfig(cfg))
	answers := service.NewAnswerStore(store.Responses, store.Answers, clk)
	lifecycle := service.NewResponseLifecycle(store.Responses, store.Catalog, answers, clk, logger)
	validator := service.NewSubmissionValidator(lifecycle, store.Catalog, cfg.CompletionThresholdPercent)
	draftSvc := service.NewDraftService(guard, limiter, answers, lifecycle, validator, reg, logger, service.DuplicateGuard{
		Limit: cfg.SubmitDuplicateLimit,
		Decay: cfg.SubmitDuplicateDecay,
	})

	// Inject broadcaster (hub implements service.Broadcaster)
	draftSvc.SetBroadcaster(hub)

	return &App{
		Store:        store,
		Redis:        rdb,
		Metrics:      reg,
		Hub:          hub,
		AuthService:  service.NewAuthService(cfg.JWTSecret),
		DraftService: draftSvc,
	}
}

// Close releases redis and the store
func (a *App) Close(ctx context.Context) error {
	rerr := a.Redis.Close()
	if err := a.Store.Close(ctx); err != nil {
		return err
	}
	return rerr
}
