package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/atlas-itam/atlas/contracts"
	assettagshandler "github.com/atlas-itam/atlas/domains/asset-tags/be/handler"
	platformlogging "github.com/atlas-itam/atlas/platform/go/logging"
	platformmetrics "github.com/atlas-itam/atlas/platform/go/metrics"
	platformmiddleware "github.com/atlas-itam/atlas/platform/go/middleware"
)

type routerConfig struct {
	logger         *zap.Logger
	assetTags      *assettagshandler.Handler
	auth           authSetup
	ready          func(context.Context) error // nil means always ready
	httpMetrics    *platformmetrics.HTTP       // nil disables request metrics
	gatherer       prometheus.Gatherer         // nil disables /metrics
	requestTimeout time.Duration
	corsOrigins    []string
}

func newRouter(cfg routerConfig) (http.Handler, error) {
	if cfg.requestTimeout <= 0 {
		cfg.requestTimeout = 15 * time.Second
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.requestTimeout),
		platformmiddleware.CORS(cfg.corsOrigins),
	)

	rootRouter.Use(platformlogging.RequestLogger(cfg.logger))
	if cfg.httpMetrics != nil {
		rootRouter.Use(cfg.httpMetrics.Middleware)
	}

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", readinessHandler(cfg.ready, cfg.logger))

	if cfg.gatherer != nil {
		rootRouter.Method(http.MethodGet, "/metrics", platformmetrics.Handler(cfg.gatherer))
	}

	// ---- Swagger UI + OpenAPI JSON (public) ----
	registerDocsRoutes(rootRouter, cfg.logger)

	spec, err := contracts.Load("asset-tags")
	if err != nil {
		return nil, fmt.Errorf("load asset-tags contract: %w", err)
	}
	logSecuritySchemes(cfg.logger, "asset-tags", spec)

	apiRouter := chi.NewRouter()
	if cfg.auth.middleware != nil {
		apiRouter.Use(cfg.auth.middleware)
	}
	apiRouter.Use(platformmiddleware.RequestTrace)

	apiRouter.Group(func(r chi.Router) {
		r.Use(platformmiddleware.SpecValidator(spec, cfg.auth.check, cfg.logger))
		cfg.assetTags.Register(r, cfg.auth.admin)
	})

	rootRouter.Mount("/api/v1", apiRouter)

	return rootRouter, nil
}

func readinessHandler(ready func(context.Context) error, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready == nil {
			w.WriteHeader(http.StatusOK)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := ready(ctx); err != nil {
			platformlogging.FromRequest(r, logger).Warn("readiness check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func logSecuritySchemes(logger *zap.Logger, name string, spec *openapi3.T) {
	if spec.Components.SecuritySchemes == nil {
		spec.Components.SecuritySchemes = openapi3.SecuritySchemes{}
	}

	if _, ok := spec.Components.SecuritySchemes["bearerAuth"]; !ok {
		spec.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:   "http",
				Scheme: "bearer",
			},
		}
		logger.Warn("injecting default bearerAuth security scheme", zap.String("contract", name))
	}

	names := make([]string, 0, len(spec.Components.SecuritySchemes))
	for schemeName := range spec.Components.SecuritySchemes {
		names = append(names, schemeName)
	}
	logger.Debug("loaded security schemes", zap.String("contract", name), zap.Strings("names", names))
}
