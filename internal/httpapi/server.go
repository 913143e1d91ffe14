package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MimeLyc/transcript-collector/internal/checkpoint"
	"github.com/MimeLyc/transcript-collector/internal/pipeline"
	"github.com/MimeLyc/transcript-collector/pkg/log"
)

type progressSource interface {
	Snapshot() pipeline.Progress
}

// statsLoader reads the current checkpoint totals.
type statsLoader func(ctx context.Context) (checkpoint.Stats, error)

// runTrigger starts a run in the background; started is false when one is already running.
type runTrigger func() (started bool)

// Server exposes health, metrics, run progress and checkpoint totals.
type Server struct {
	progress progressSource
	stats    statsLoader
	trigger  runTrigger

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithStats(load statsLoader) Option {
	return func(s *Server) {
		s.stats = load
	}
}

func WithRunTrigger(trigger runTrigger) Option {
	return func(s *Server) {
		s.trigger = trigger
	}
}

func NewServer(progress progressSource, opts ...Option) *Server {
	s := &Server{
		progress: progress,
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve listens on addr until ctx is done, then shuts the server down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Warn("Status server shutdown: %v", err)
		}
	}()

	log.Info("Status server listening on %s", addr)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/progress", s.handleProgress)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/run", s.handleRun)
}
