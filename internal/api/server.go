// Package api serves the public surface of the digest service: the dynamic
// RSS feed, a health endpoint, and Prometheus metrics. There is no write
// API; all state changes happen through the pipeline.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/podbrief/podbrief/internal/config"
	"github.com/podbrief/podbrief/internal/database"
	"github.com/podbrief/podbrief/internal/metrics"
)

// FeedStore is the read surface the HTTP server needs from the state store.
type FeedStore interface {
	LoadSettings(ctx context.Context) ([]database.SettingRow, error)
	PublishedDigests(ctx context.Context) ([]database.Digest, error)
	HealthCheck(ctx context.Context) error
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, store FeedStore, version string, startTime time.Time, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(metrics.InstrumentHandler)

	feed := &feedHandler{store: store, log: log, now: time.Now}
	r.Get("/daily-digest.xml", feed.ServeHTTP)
	if cfg.LegacyFeedPath != "" && cfg.LegacyFeedPath != "/daily-digest.xml" {
		// Subscribers from the previous generation of the service keep their
		// old feed URL working.
		r.Get(cfg.LegacyFeedPath, feed.ServeHTTP)
	}

	health := &healthHandler{store: store, version: version, startTime: startTime}
	r.Get("/healthz", health.ServeHTTP)

	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
