package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	assettagshandler "github.com/atlas-itam/atlas/domains/asset-tags/be/handler"
	assettagsrepo "github.com/atlas-itam/atlas/domains/asset-tags/be/repo"
	assettagsservice "github.com/atlas-itam/atlas/domains/asset-tags/be/service"
	"github.com/atlas-itam/atlas/platform/go/idempotency"
	platformlogging "github.com/atlas-itam/atlas/platform/go/logging"
	platformmetrics "github.com/atlas-itam/atlas/platform/go/metrics"
	platformmiddleware "github.com/atlas-itam/atlas/platform/go/middleware"
	"github.com/atlas-itam/atlas/platform/go/persistence"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL"`                          // required when STORE_BACKEND=postgres
	DatabaseSchema  string        `env:"DATABASE_SCHEMA" envDefault:"public"`   // search_path for every pooled connection
	DBMaxConns      int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns      int32         `env:"DB_MIN_CONNS" envDefault:"0"`
	StoreBackend    string        `env:"STORE_BACKEND" envDefault:"postgres"`   // postgres | memory
	AutoMigrate     bool          `env:"AUTO_MIGRATE" envDefault:"false"`       // apply embedded DDL on start
	AuthProvider    string        `env:"AUTH_PROVIDER" envDefault:"firebase"`   // firebase | dev | none
	RedisURL        string        `env:"REDIS_URL"`                             // idempotency keys; in-memory when empty
	IdempotencyTTL  time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	MetricsEnabled  bool          `env:"METRICS_ENABLED" envDefault:"true"`
	CORSOrigins     string        `env:"CORS_ORIGINS"`                          // comma separated; defaults when empty
	MaxAttempts     int           `env:"ASSET_TAG_MAX_ATTEMPTS" envDefault:"5"` // counter update attempts under contention
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "atlas-api",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	repo, pool := mustBuildRepository(ctx, cfg, logger)
	defer persistence.ClosePool(pool)

	serviceOpts := []assettagsservice.Option{
		assettagsservice.WithBackOff(nil, cfg.MaxAttempts),
	}

	var (
		registry    *prometheus.Registry
		httpMetrics *platformmetrics.HTTP
	)
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		httpMetrics = platformmetrics.NewHTTP(registry)
		serviceOpts = append(serviceOpts, assettagsservice.WithRecorder(platformmetrics.NewAssetTags(registry)))
	}

	assetTagService := assettagsservice.New(repo, serviceOpts...)

	store := mustBuildIdempotencyStore(ctx, cfg, logger)
	if closer, ok := store.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn("close idempotency store", zap.Error(err))
			}
		}()
	}

	assetTagHandler := assettagshandler.New(assetTagService, logger,
		assettagshandler.WithIdempotency(store, cfg.IdempotencyTTL),
	)

	authSetup := mustBuildAuth(ctx, cfg, logger)

	var ready func(context.Context) error
	if pool != nil {
		ready = pool.Ping
	}

	var origins []string
	if strings.TrimSpace(cfg.CORSOrigins) != "" {
		origins = platformmiddleware.ParseOrigins(cfg.CORSOrigins)
	}

	router, err := newRouter(routerConfig{
		logger:         logger,
		assetTags:      assetTagHandler,
		auth:           authSetup,
		ready:          ready,
		httpMetrics:    httpMetrics,
		gatherer:       gathererOrNil(registry),
		requestTimeout: cfg.RequestTimeout,
		corsOrigins:    origins,
	})
	if err != nil {
		logger.Fatal("build router", zap.Error(err))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server",
			zap.String("port", cfg.Port),
			zap.String("store_backend", cfg.StoreBackend),
			zap.String("auth_provider", cfg.AuthProvider),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down api server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// mustBuildRepository selects the counter backend. The returned pool is nil for the memory backend.
func mustBuildRepository(ctx context.Context, cfg config, logger *zap.Logger) (assettagsrepo.Repository, *pgxpool.Pool) {
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory asset tag store; numbers are lost on restart")
		return assettagsrepo.NewMemoryRepository(), nil
	case "postgres":
	default:
		logger.Fatal("invalid STORE_BACKEND (use postgres or memory)", zap.String("backend", cfg.StoreBackend))
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Fatal("DATABASE_URL is required when STORE_BACKEND=postgres")
	}

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString: cfg.DatabaseURL,
		SearchPath: cfg.DatabaseSchema,
		MaxConns:   cfg.DBMaxConns,
		MinConns:   cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}

	if cfg.AutoMigrate {
		if err := persistence.BootstrapSchema(ctx, pool, cfg.DatabaseSchema); err != nil {
			logger.Fatal("bootstrap schema", zap.String("schema", cfg.DatabaseSchema), zap.Error(err))
		}
		logger.Info("schema bootstrapped", zap.String("schema", cfg.DatabaseSchema))
	}

	store, err := persistence.NewAssetTagStore(ctx, pool)
	if err != nil {
		logger.Fatal("init asset tag store", zap.Error(err))
	}

	return assettagsrepo.NewPostgresRepository(store), pool
}

func mustBuildIdempotencyStore(ctx context.Context, cfg config, logger *zap.Logger) idempotency.Store {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Info("idempotency keys kept in memory")
		return idempotency.NewMemoryStore()
	}

	store, err := idempotency.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("init redis idempotency store", zap.Error(err))
	}
	return store
}

func gathererOrNil(registry *prometheus.Registry) prometheus.Gatherer {
	if registry == nil {
		return nil
	}
	return registry
}
