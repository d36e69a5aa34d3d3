package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/bootstrap"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion/handler"
	searchhandler "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/ratelimit"
)

// newRouter mounts the HTTP API. ctx bounds the rate limiter's cleanup loop.
func newRouter(ctx context.Context, app *bootstrap.App) http.Handler {
	cfg := app.Config
	ingestH := ingesthandler.New(app.Pipeline, submitter(app))
	searchH := searchhandler.New(app.Retriever, app.Cache, app.Tracker, app.Metrics)
	analyticsH := analytics.NewHandler(app.Aggregator, app.Snapshots)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.Metrics(app.Metrics))
	r.Use(middleware.Timeout(cfg.Server.WriteTimeout))
	r.Route("/api/v1/courses/{courseID}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.Ingestion.RatePerMinute > 0 {
				limiter := ratelimit.New(cfg.Ingestion.RatePerMinute, cfg.Ingestion.RateBurst)
				limiter.StartCleanup(ctx, 5*time.Minute, 30*time.Minute)
				r.Use(middleware.RateLimit(limiter, courseWrites))
			}
			ingestH.Routes(r)
		})
		searchH.Routes(r)
	})
	r.Get("/api/v1/cache/stats", searchH.CacheStats)
	r.Get("/api/v1/analytics", analyticsH.Stats)
	r.Get("/health/live", app.Health.LiveHandler())
	r.Get("/health/ready", app.Health.ReadyHandler())
	return r
}

// courseWrites keys ingest and delete calls by course; reads are not limited.
func courseWrites(r *http.Request) string {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return ""
	}
	return chi.URLParam(r, "courseID")
}

// submitter returns nil unless Kafka is configured, which disables
// asynchronous ingestion in the HTTP handler.
func submitter(app *bootstrap.App) ingesthandler.Submitter {
	if app.Publisher == nil {
		return nil
	}
	return app.Publisher
}
