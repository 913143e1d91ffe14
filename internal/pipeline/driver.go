package pipeline

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/MimeLyc/transcript-collector/internal/checkpoint"
	"github.com/MimeLyc/transcript-collector/internal/classify"
	"github.com/MimeLyc/transcript-collector/internal/fallback"
	"github.com/MimeLyc/transcript-collector/internal/selector"
	"github.com/MimeLyc/transcript-collector/internal/transcript"
	"github.com/MimeLyc/transcript-collector/pkg/log"
)

const (
	DefaultFlushInterval         = 100
	DefaultFallbackFlushInterval = 5
	DefaultCooldown              = 60 * time.Second
	DefaultInterItemDelay        = 150 * time.Millisecond
	DefaultProgressEvery         = 25

	maxErrorDetail = 500
)

type Selector interface {
	Select(ctx context.Context, itemID string, preferred []language.Tag) (selector.Selection, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, itemID string) (fallback.Transcription, error)
}

// Observer receives per-item events, e.g. for metrics.
type Observer interface {
	ItemDone(r transcript.Result, elapsed time.Duration)
	RateLimitPause()
	Flushed(n int, err error)
}

type Options struct {
	PreferredLanguages []language.Tag
	// FlushInterval of 0 picks 100, or 5 when a fallback transcriber is set.
	FlushInterval  int
	Cooldown       time.Duration
	InterItemDelay time.Duration
	MaxItems       int
	ProgressEvery  int
	Workers        int
	// RateLimitRetries is how often a rate limited item is tried again right after the cool-down.
	RateLimitRetries int
	RetryErrorKinds  []transcript.ErrorKind
	RunID            string
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		PreferredLanguages: []language.Tag{language.English},
		Cooldown:           DefaultCooldown,
		InterItemDelay:     DefaultInterItemDelay,
		ProgressEvery:      DefaultProgressEvery,
		Workers:            1,
		RateLimitRetries:   1,
	}
}

type Driver struct {
	selector Selector
	fallback Transcriber
	store    checkpoint.Store
	opts     Options
	clock    Clock
	observer Observer
	tracker  *Tracker
}

type Option func(*Driver)

// WithFallback enables the local transcriber for no_transcript and source_disabled items.
func WithFallback(t Transcriber) Option {
	return func(d *Driver) {
		d.fallback = t
	}
}

func WithClock(c Clock) Option {
	return func(d *Driver) {
		d.clock = c
	}
}

func WithObserver(o Observer) Option {
	return func(d *Driver) {
		d.observer = o
	}
}

func WithTracker(t *Tracker) Option {
	return func(d *Driver) {
		d.tracker = t
	}
}

func NewDriver(sel Selector, store checkpoint.Store, opts Options, options ...Option) *Driver {
	d := &Driver{
		selector: sel,
		store:    store,
		opts:     opts,
		clock:    realClock{},
		observer: nopObserver{},
	}
	for _, opt := range options {
		opt(d)
	}

	if d.opts.Workers <= 0 {
		d.opts.Workers = 1
	}
	if d.opts.ProgressEvery <= 0 {
		d.opts.ProgressEvery = DefaultProgressEvery
	}
	if d.opts.FlushInterval <= 0 {
		d.opts.FlushInterval = DefaultFlushInterval
		if d.fallback != nil {
			d.opts.FlushInterval = DefaultFallbackFlushInterval
		}
	}
	if d.opts.RateLimitRetries < 0 {
		d.opts.RateLimitRetries = 0
	}
	return d
}

type outcome struct {
	task        task
	result      transcript.Result
	rateLimited bool
	elapsed     time.Duration
}

// Run processes every item of itemIDs that the checkpoint does not mark as done
// and returns the updated checkpoint set. Buffered results are flushed every
// FlushInterval items and once more at the end, also when ctx is cancelled.
func (d *Driver) Run(ctx context.Context, itemIDs []string) (*checkpoint.Set, Summary, error) {
	started := d.clock.Now()
	summary := newSummary(d.opts.RunID)

	set, err := d.store.Load(ctx)
	if err != nil {
		return nil, summary, fmt.Errorf("load checkpoint: %w", err)
	}

	work, skipped := d.plan(itemIDs, set)
	summary.Input = len(itemIDs)
	summary.Skipped = skipped
	log.Info("Run %s: %d items in input, %d already done, %d to process", d.opts.RunID, len(itemIDs), skipped, len(work))

	d.tracker.update(func(p *Progress) {
		*p = Progress{RunID: d.opts.RunID, Running: true, StartedAt: started, Total: len(work)}
	})

	queue := newWorkQueue(work)
	gate := newCooldown(d.clock)
	results := make(chan outcome)

	g, gctx := errgroup.WithContext(ctx)
	for range min(d.opts.Workers, max(len(work), 1)) {
		g.Go(func() error {
			return d.worker(gctx, queue, gate, results)
		})
	}
	errc := make(chan error, 1)
	go func() {
		errc <- g.Wait()
		close(results)
	}()

	final := make(map[string]transcript.Result, len(work))
	var buffer []transcript.Result
	var ok, failed int
	for out := range results {
		summary.Attempts++
		buffer = append(buffer, out.result)
		if prev, seen := final[out.task.itemID]; seen {
			if prev.HasText {
				ok--
			} else {
				failed--
			}
		}
		final[out.task.itemID] = out.result
		if out.result.HasText {
			ok++
		} else {
			failed++
		}
		d.observer.ItemDone(out.result, out.elapsed)
		d.logOutcome(out)

		d.tracker.update(func(p *Progress) {
			p.Done = len(final)
			p.Succeeded = ok
			p.Failed = failed
			p.RateLimitPauses = gate.count()
		})

		if summary.Attempts%d.opts.ProgressEvery == 0 {
			log.Info("Progress: %d/%d items done, ok %d, failed %d, %d queued, %d rate limit pauses",
				len(final), len(work), ok, failed, queue.len(), gate.count())
		}
		if len(buffer) >= d.opts.FlushInterval {
			_ = d.flush(ctx, set, buffer)
			buffer = nil
		}
	}
	runErr := <-errc

	// The last flush must happen even when ctx is already cancelled.
	flushErr := d.flush(context.WithoutCancel(ctx), set, buffer)

	summary.tally(final)
	summary.RateLimitPauses = gate.count()
	summary.Duration = d.clock.Now().Sub(started)
	d.tracker.update(func(p *Progress) {
		p.Running = false
		p.FinishedAt = d.clock.Now()
		p.RateLimitPauses = summary.RateLimitPauses
	})

	if runErr != nil {
		return set, summary, runErr
	}
	if flushErr != nil {
		return set, summary, fmt.Errorf("final checkpoint flush: %w", flushErr)
	}
	return set, summary, nil
}

// plan drops items that are already done and applies MaxItems to what remains.
func (d *Driver) plan(itemIDs []string, set *checkpoint.Set) ([]string, int) {
	retry := make(map[transcript.ErrorKind]bool, len(d.opts.RetryErrorKinds))
	for _, k := range d.opts.RetryErrorKinds {
		retry[k] = true
	}

	seen := make(map[string]struct{}, len(itemIDs))
	work := make([]string, 0, len(itemIDs))
	skipped := 0
	for _, id := range itemIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if set.Done(id, retry) {
			skipped++
			continue
		}
		work = append(work, id)
	}
	if d.opts.MaxItems > 0 && len(work) > d.opts.MaxItems {
		work = work[:d.opts.MaxItems]
	}
	return work, skipped
}

func (d *Driver) worker(ctx context.Context, queue *workQueue, gate *cooldown, results chan<- outcome) error {
	for {
		if err := gate.wait(ctx); err != nil {
			return err
		}
		t, ok := queue.pop()
		if !ok {
			return nil
		}

		out := d.attempt(ctx, t)
		if ctx.Err() != nil {
			// Interrupted mid-item; leave it for the next run.
			return ctx.Err()
		}
		if out.rateLimited && gate.trip(d.opts.Cooldown) {
			d.observer.RateLimitPause()
			log.Warn("Rate limited on %s, pausing all workers for %s", t.itemID, d.opts.Cooldown)
		}

		select {
		case results <- out:
		case <-ctx.Done():
			return ctx.Err()
		}

		// Re-queued only after the failed attempt is delivered, so the retry's outcome supersedes it.
		if out.rateLimited && t.attempt <= d.opts.RateLimitRetries {
			queue.pushFront(task{itemID: t.itemID, attempt: t.attempt + 1})
		}

		if out.result.HasText && d.opts.InterItemDelay > 0 {
			if err := d.clock.Sleep(ctx, d.opts.InterItemDelay); err != nil {
				return err
			}
		}
	}
}

// attempt runs one item through the selector and, if allowed, the fallback.
// It never fails: every error ends up in the returned result.
func (d *Driver) attempt(ctx context.Context, t task) outcome {
	start := d.clock.Now()
	var res transcript.Result

	err := transcript.SafeExecute(t.itemID, func() error {
		sel, err := d.selector.Select(ctx, t.itemID, d.opts.PreferredLanguages)
		if err == nil {
			res = transcript.Success(t.itemID, sel.Text, sel.LanguageCode, sel.Kind, d.clock.Now())
			return nil
		}

		kind, _ := classify.Classify(err)
		if d.fallback == nil || !kind.AllowsFallback() {
			return err
		}

		log.Debug("Item %s: %s, trying fallback", t.itemID, kind)
		tr, ferr := d.fallback.Transcribe(ctx, t.itemID)
		if ferr != nil {
			return ferr
		}
		res = transcript.Success(t.itemID, tr.Text, tr.LanguageCode, transcript.SourceFallback, d.clock.Now())
		if !res.HasText {
			return &fallback.StageError{Stage: fallback.StageParse, ItemID: t.itemID, Message: "empty transcription"}
		}
		return nil
	})

	out := outcome{task: t}
	if err != nil {
		kind, limited := classify.Classify(err)
		res = transcript.Failure(t.itemID, kind, truncate(err.Error(), maxErrorDetail), d.clock.Now())
		out.rateLimited = limited
	}
	res.RunID = d.opts.RunID
	out.result = res
	out.elapsed = d.clock.Now().Sub(start)
	return out
}

// flush merges buffer into set and persists pending results. A failed save
// leaves them pending for the next flush.
func (d *Driver) flush(ctx context.Context, set *checkpoint.Set, buffer []transcript.Result) error {
	set.Merge(buffer)
	n := set.PendingCount()
	if n == 0 {
		return nil
	}

	err := d.store.Save(ctx, set)
	d.observer.Flushed(n, err)
	if err != nil {
		log.Error("Checkpoint flush of %d results failed: %v", n, err)
		return err
	}
	log.Debug("Checkpoint flushed %d results, %d total", n, set.Len())
	return nil
}

func (d *Driver) logOutcome(out outcome) {
	r := out.result
	switch {
	case r.HasText:
		log.Debug("Item %s: %s/%s, %d chars", r.ItemID, r.SourceKind, r.LanguageCode, len(r.Text))
	case r.ErrorKind == transcript.ErrorUnknown:
		log.Warn("Item %s: %s (attempt %d): %s", r.ItemID, r.ErrorKind, out.task.attempt, r.ErrorDetail)
	default:
		log.Debug("Item %s: %s (attempt %d): %s", r.ItemID, r.ErrorKind, out.task.attempt, r.ErrorDetail)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

type nopObserver struct{}

func (nopObserver) ItemDone(transcript.Result, time.Duration) {}
func (nopObserver) RateLimitPause()                           {}
func (nopObserver) Flushed(int, error)                        {}
