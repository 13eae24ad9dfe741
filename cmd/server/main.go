package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"divgate/internal/api"
	"divgate/internal/api/handlers"
	"divgate/internal/api/middleware"
	"divgate/internal/engine/admission"
	"divgate/internal/engine/features"
	"divgate/internal/engine/keys"
	"divgate/internal/engine/quota"
	"divgate/internal/engine/tiers"
	"divgate/internal/engine/usage"
	"divgate/internal/pkg/logger"
	"divgate/internal/pkg/metrics"
	"divgate/internal/platform/auth"
	"divgate/internal/platform/cache"
	"divgate/internal/platform/config"
	"divgate/internal/platform/database"
	"divgate/internal/platform/repositories"
	"divgate/internal/workers"
	"divgate/migrations"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	migrate := flag.Bool("migrate", true, "Apply pending migrations on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging, "divgate-server")

	if err := run(cfg, *migrate); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.Config, migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	globalDB, err := database.NewGlobalDB(cfg.Database.Global)
	if err != nil {
		return fmt.Errorf("connect to global DB: %w", err)
	}
	defer globalDB.Close()

	if migrate {
		applied, err := database.Migrate(ctx, globalDB, migrations.Global, "global")
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if len(applied) > 0 {
			log.Info().Strs("migrations", applied).Msg("applied migrations")
		}
	}

	// Tier policies
	var registry *tiers.Registry
	if len(cfg.Tiers) > 0 {
		registry, err = tiers.FromConfig(cfg.Tiers)
	} else {
		log.Warn().Msg("no tiers configured, using built-in defaults")
		registry, err = tiers.NewRegistry(tiers.Defaults())
	}
	if err != nil {
		return fmt.Errorf("load tiers: %w", err)
	}

	m := metrics.New()

	// Repositories
	credentialRepo := repositories.NewCredentialRepository(globalDB)
	counterRepo := repositories.NewCounterRepository(globalDB)
	auditRepo := repositories.NewAuditRepository(globalDB)
	dividendRepo := repositories.NewDividendRepository(globalDB)

	// Counter backend
	var (
		counters quota.CounterStore
		flusher  usage.Flusher
		redis    *cache.Client
		memory   *quota.MemoryStore
	)
	switch cfg.Admission.CounterBackend {
	case "memory", "":
		memory = quota.NewMemoryStore(quota.MemoryStoreConfig{Shards: cfg.Admission.Shards, Loader: counterRepo})
		counters = memory
		flusher = quota.WriteBehind{Store: memory, Saver: counterRepo}
	case "sql":
		counters = counterRepo
	case "redis":
		redis, err = cache.New(cfg.Redis)
		if err != nil {
			return err
		}
		defer redis.Close()
		counters = quota.NewRedisStore(redis.Client(), "divgate:quota")
	default:
		return fmt.Errorf("unknown admission.counter_backend %q", cfg.Admission.CounterBackend)
	}
	log.Info().Str("backend", cfg.Admission.CounterBackend).Int("tiers", len(registry.All())).Msg("admission configured")

	// Admission
	resolver := keys.NewResolver(credentialRepo, keys.ResolverConfig{
		KeyPrefix: cfg.Admission.KeyPrefix,
		CacheTTL:  cfg.Auth.CacheTTL,
	})
	enforcer := quota.NewEnforcer(counters)
	pipeline := admission.NewPipeline(resolver, registry, features.NewGate(registry), enforcer, admission.Config{
		StoreTimeout: cfg.Admission.StoreTimeout,
		Metrics:      m,
	})

	accountant := usage.NewAccountant(auditRepo, credentialRepo, flusher, usage.Config{
		QueueSize:     cfg.Usage.QueueSize,
		Workers:       cfg.Usage.Workers,
		FlushInterval: cfg.Usage.FlushInterval,
		WriteTimeout:  cfg.Usage.WriteTimeout,
		Metrics:       m,
	})
	throttle := middleware.NewAuthFailureLimiter(cfg.RateLimit.UnauthenticatedPerMinute, cfg.RateLimit.UnauthenticatedBurst)

	// Handlers
	tokenSvc := auth.NewTokenService(cfg.JWT)
	checks := map[string]handlers.Pinger{"global_db": database.NewGlobalDBWrapper(globalDB)}
	if redis != nil {
		checks["redis"] = redis
	}

	router := api.NewRouter(&api.Dependencies{
		DividendHandler: handlers.NewDividendHandler(dividendRepo),
		UsageHandler:    handlers.NewUsageHandler(enforcer),
		TierHandler:     handlers.NewTierHandler(registry),
		APIKeyHandler:   handlers.NewAPIKeyHandler(credentialRepo, resolver, registry, cfg.Admission.KeyPrefix),
		AuditHandler:    handlers.NewAuditHandler(auditRepo),
		AuthHandler:     handlers.NewAuthHandler(cfg.Admin, tokenSvc),
		HealthHandler:   handlers.NewHealthHandler(checks),
		MetricsHandler:  handlers.NewMetricsHandler(nil),
		Admission:       middleware.NewAdmission(pipeline, accountant, throttle, m),
		AuthMiddleware:  middleware.NewAuthMiddleware(tokenSvc),
		Metrics:         m,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	accountant.Start(context.Background())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		throttle.Run(gctx)
		return nil
	})

	if memory != nil {
		// Idle credentials are dropped from memory once their windows are
		// flushed; they are reloaded from usage_windows on next use.
		cleaner := workers.NewCleaner(workers.Job{
			Name:   "memory_windows",
			Cutoff: workers.OlderThan(time.Hour),
			Prune: func(ctx context.Context, cutoff time.Time) (int64, error) {
				return int64(memory.Prune(cutoff)), nil
			},
		})
		g.Go(func() error {
			cleaner.Run(gctx, 10*time.Minute)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		accountant.Stop(shutdownCtx)
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
