package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MimeLyc/transcript-collector/internal/transcript"
)

var (
	// ItemsTotal counts item attempts by outcome.
	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcripts_items_total",
			Help: "Item attempts by source kind and error kind",
		},
		[]string{"source_kind", "error_kind"},
	)

	ItemDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transcripts_item_duration_seconds",
			Help:    "Time spent on one item attempt",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 1800},
		},
		[]string{"source_kind"},
	)

	RateLimitPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transcripts_rate_limit_pauses_total",
			Help: "Global cool-downs triggered by upstream throttling",
		},
	)

	CheckpointFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcripts_checkpoint_flushes_total",
			Help: "Checkpoint flushes by result",
		},
		[]string{"result"},
	)

	CheckpointRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transcripts_checkpoint_rows_written_total",
			Help: "Results persisted to the checkpoint store",
		},
	)

	// FallbackModel exposes the configured Whisper model, 1 for the active one.
	FallbackModel = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transcripts_fallback_model_info",
			Help: "Configured fallback transcription model",
		},
		[]string{"model"},
	)
)

// Recorder feeds pipeline events into the package collectors.
type Recorder struct{}

func (Recorder) ItemDone(r transcript.Result, elapsed time.Duration) {
	errKind := string(r.ErrorKind)
	if errKind == "" {
		errKind = "none"
	}
	ItemsTotal.WithLabelValues(string(r.SourceKind), errKind).Inc()
	ItemDuration.WithLabelValues(string(r.SourceKind)).Observe(elapsed.Seconds())
}

func (Recorder) RateLimitPause() {
	RateLimitPauses.Inc()
}

func (Recorder) Flushed(n int, err error) {
	if err != nil {
		CheckpointFlushes.WithLabelValues("error").Inc()
		return
	}
	CheckpointFlushes.WithLabelValues("ok").Inc()
	CheckpointRows.Add(float64(n))
}
