package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/MimeLyc/transcript-collector/internal/caption"
	"github.com/MimeLyc/transcript-collector/internal/checkpoint"
	"github.com/MimeLyc/transcript-collector/internal/config"
	"github.com/MimeLyc/transcript-collector/internal/fallback"
	"github.com/MimeLyc/transcript-collector/internal/httpapi"
	"github.com/MimeLyc/transcript-collector/internal/items"
	"github.com/MimeLyc/transcript-collector/internal/metrics"
	"github.com/MimeLyc/transcript-collector/internal/pipeline"
	"github.com/MimeLyc/transcript-collector/internal/search"
	"github.com/MimeLyc/transcript-collector/internal/selector"
	"github.com/MimeLyc/transcript-collector/pkg/icron"
	"github.com/MimeLyc/transcript-collector/pkg/log"
)

// Service wires the configuration into a pipeline run.
type Service struct {
	cfg     config.Config
	tracker *pipeline.Tracker

	tracks      selector.TrackSource
	transcriber pipeline.Transcriber
	driverOpts  []pipeline.Option

	group   singleflight.Group
	running atomic.Bool
}

type Option func(*Service)

// WithTrackSource replaces the caption client.
func WithTrackSource(src selector.TrackSource) Option {
	return func(s *Service) {
		s.tracks = src
	}
}

// WithTranscriber replaces the Whisper fallback. It is only used when the fallback is enabled.
func WithTranscriber(t pipeline.Transcriber) Option {
	return func(s *Service) {
		s.transcriber = t
	}
}

func WithDriverOptions(opts ...pipeline.Option) Option {
	return func(s *Service) {
		s.driverOpts = append(s.driverOpts, opts...)
	}
}

func New(cfg config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		tracker: pipeline.NewTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracks == nil {
		s.tracks = caption.NewClient(cfg.Pipeline.RequestTimeout,
			caption.WithAcceptLanguage(acceptLanguage(cfg.Pipeline.PreferredLanguages)))
	}
	return s
}

func (s *Service) Tracker() *pipeline.Tracker {
	return s.tracker
}

func (s *Service) Running() bool {
	return s.running.Load()
}

// RunOnce processes the input once. Concurrent callers share a single run.
func (s *Service) RunOnce(ctx context.Context) (pipeline.Summary, error) {
	v, err, shared := s.group.Do("run", func() (any, error) {
		s.running.Store(true)
		defer s.running.Store(false)
		return s.run(ctx)
	})
	if shared {
		log.Debug("Joined a run that was already in progress")
	}
	summary, _ := v.(pipeline.Summary)
	return summary, err
}

// Trigger starts a run in the background unless one is in progress.
func (s *Service) Trigger(ctx context.Context) bool {
	if s.Running() {
		return false
	}
	go func() {
		if _, err := s.RunOnce(ctx); err != nil {
			log.Error("Triggered run failed: %v", err)
		}
	}()
	return true
}

// Cron is the part of *cron.Cron that Schedule needs.
type Cron interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
}

// Schedule registers runs on the configured cron expression.
func (s *Service) Schedule(ctx context.Context, c Cron) error {
	expr := s.cfg.System.CronExpr
	info, err := icron.GetTriggerInfo(expr, time.Now())
	if err != nil {
		return err
	}

	_, err = c.AddFunc(expr, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			log.Error("Scheduled run failed: %v", err)
		}
		if info, err := icron.GetTriggerInfo(expr, time.Now()); err == nil {
			log.Info("Next run at %s", info.Next.Format(time.RFC3339))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", expr, err)
	}
	log.Info("Scheduled runs on %q, next at %s (in %s)", expr, info.Next.Format(time.RFC3339), info.TimeUntilNext.Round(time.Second))
	return nil
}

// ServeStatus runs the status and metrics server until ctx is done. It is a
// no-op without METRICS_ADDR.
func (s *Service) ServeStatus(ctx context.Context) error {
	if s.cfg.System.MetricsAddr == "" {
		return nil
	}
	srv := httpapi.NewServer(s.tracker,
		httpapi.WithStats(s.Stats),
		httpapi.WithRunTrigger(func() bool {
			return s.Trigger(ctx)
		}),
	)
	return srv.Serve(ctx, s.cfg.System.MetricsAddr)
}

func (s *Service) run(ctx context.Context) (pipeline.Summary, error) {
	ids, err := s.loadItems(ctx)
	if err != nil {
		return pipeline.Summary{}, err
	}

	store, err := checkpoint.Open(ctx, s.cfg.Checkpoint.Path)
	if err != nil {
		return pipeline.Summary{}, fmt.Errorf("open checkpoint: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("Closing checkpoint store: %v", err)
		}
	}()

	opts := []pipeline.Option{
		pipeline.WithObserver(metrics.Recorder{}),
		pipeline.WithTracker(s.tracker),
	}
	if s.cfg.Fallback.Enabled {
		tr, err := s.fallbackTranscriber()
		if err != nil {
			return pipeline.Summary{}, err
		}
		opts = append(opts, pipeline.WithFallback(tr))
	}
	opts = append(opts, s.driverOpts...)

	runID := uuid.NewString()
	driver := pipeline.NewDriver(selector.New(s.tracks), store, s.pipelineOptions(runID), opts...)

	set, summary, err := driver.Run(ctx, ids)
	log.Info("Run %s: %s", runID, summary)
	if set != nil {
		log.Info("Checkpoint: %s", FormatStats(set.Stats(), 3))
	}
	return summary, err
}

func (s *Service) loadItems(ctx context.Context) ([]string, error) {
	src, err := items.Open(s.cfg.Input.Path, s.cfg.Input.Table, s.cfg.Input.Column)
	if err != nil {
		return nil, err
	}
	ids, err := src.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("read items from %s: %w", s.cfg.Input.Path, err)
	}
	return items.Normalize(ids), nil
}

func (s *Service) fallbackTranscriber() (pipeline.Transcriber, error) {
	model, err := fallback.ParseModelSize(s.cfg.Fallback.ModelSize)
	if err != nil {
		return nil, err
	}
	metrics.FallbackModel.Reset()
	metrics.FallbackModel.WithLabelValues(string(model)).Set(1)

	if s.transcriber != nil {
		return s.transcriber, nil
	}
	w, err := fallback.NewWhisper(fallback.Config{
		Command:   s.cfg.Fallback.Command,
		YtDlpBin:  s.cfg.Fallback.YtDlpBin,
		ModelSize: model,
		WorkDir:   s.cfg.Fallback.WorkDir,
		Timeout:   s.cfg.Fallback.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("set up fallback transcriber: %w", err)
	}
	log.Info("Fallback transcription enabled with model %s", w.Model())
	return w, nil
}

func (s *Service) pipelineOptions(runID string) pipeline.Options {
	p := s.cfg.Pipeline
	opts := pipeline.DefaultOptions()
	opts.PreferredLanguages = p.PreferredLanguages
	opts.FlushInterval = s.cfg.Checkpoint.FlushInterval
	opts.Cooldown = p.Cooldown
	opts.InterItemDelay = p.InterItemDelay
	opts.MaxItems = p.MaxItems
	opts.ProgressEvery = p.ProgressEvery
	opts.Workers = p.Workers
	opts.RateLimitRetries = p.RateLimitRetries
	opts.RetryErrorKinds = p.RetryErrorKinds
	opts.RunID = runID
	return opts
}

// acceptLanguage asks for the preferred languages in order, so the watch page
// lists track names in the first of them.
func acceptLanguage(tags []language.Tag) string {
	parts := make([]string, 0, len(tags))
	for i, t := range tags {
		if i == 0 {
			parts = append(parts, t.String())
			continue
		}
		q := max(10-i, 1)
		parts = append(parts, fmt.Sprintf("%s;q=0.%d", t, q))
	}
	if len(parts) == 0 {
		return caption.DefaultAcceptLanguage
	}
	return strings.Join(parts, ",")
}

func (s *Service) loadSet(ctx context.Context) (*checkpoint.Set, error) {
	store, err := checkpoint.Open(ctx, s.cfg.Checkpoint.Path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer store.Close()
	return store.Load(ctx)
}

// Stats aggregates the whole checkpoint, not just the last run.
func (s *Service) Stats(ctx context.Context) (checkpoint.Stats, error) {
	set, err := s.loadSet(ctx)
	if err != nil {
		return checkpoint.Stats{}, err
	}
	return set.Stats(), nil
}

// Search looks for query in every stored transcript.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]search.Match, error) {
	set, err := s.loadSet(ctx)
	if err != nil {
		return nil, err
	}
	return search.Transcripts(ctx, set.Results(), query, limit)
}
