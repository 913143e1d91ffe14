package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/MimeLyc/transcript-collector/internal/caption"
	"github.com/MimeLyc/transcript-collector/internal/checkpoint"
	"github.com/MimeLyc/transcript-collector/internal/fallback"
	"github.com/MimeLyc/transcript-collector/internal/selector"
	"github.com/MimeLyc/transcript-collector/internal/transcript"
)

// recorder keeps the order of observable side effects across fakes.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
	rec *recorder
}

func newFakeClock(rec *recorder) *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), rec: rec}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	if c.rec != nil {
		c.rec.add("sleep:%s", d)
	}
	return nil
}

// memStore is an in-memory checkpoint.Store.
type memStore struct {
	mu    sync.Mutex
	rows  []transcript.Result
	saves int
}

func (m *memStore) Load(_ context.Context) (*checkpoint.Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := checkpoint.NewSet()
	for _, r := range m.rows {
		set.Put(r)
	}
	set.Commit()
	return set, nil
}

func (m *memStore) Save(_ context.Context, set *checkpoint.Set) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	for _, r := range set.Pending() {
		replaced := false
		for i := range m.rows {
			if m.rows[i].ItemID == r.ItemID {
				m.rows[i] = r
				replaced = true
			}
		}
		if !replaced {
			m.rows = append(m.rows, r)
		}
	}
	set.Commit()
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) get(id string) (transcript.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ItemID == id {
			return r, true
		}
	}
	return transcript.Result{}, false
}

// fakeSelector answers per item and call number.
type fakeSelector struct {
	mu     sync.Mutex
	calls  map[string]int
	answer func(ctx context.Context, itemID string, call int) (selector.Selection, error)
}

func newFakeSelector(answer func(ctx context.Context, itemID string, call int) (selector.Selection, error)) *fakeSelector {
	return &fakeSelector{calls: make(map[string]int), answer: answer}
}

func (f *fakeSelector) Select(ctx context.Context, itemID string, _ []language.Tag) (selector.Selection, error) {
	f.mu.Lock()
	f.calls[itemID]++
	call := f.calls[itemID]
	f.mu.Unlock()
	return f.answer(ctx, itemID, call)
}

func (f *fakeSelector) count(itemID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[itemID]
}

func (f *fakeSelector) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func manualEN(text string) (selector.Selection, error) {
	return selector.Selection{Text: text, LanguageCode: "en", Kind: transcript.SourceManual, Tier: "manual_preferred"}, nil
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, itemID string) (fallback.Transcription, error) {
	f.mu.Lock()
	f.calls = append(f.calls, itemID)
	f.mu.Unlock()
	if f.err != nil {
		return fallback.Transcription{}, f.err
	}
	return fallback.Transcription{Text: "spoken " + itemID, LanguageCode: "en"}, nil
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RunID = "run-test"
	return opts
}

// scriptedTracks serves caption tracks for the real selector.
type scriptedTracks struct {
	rec   *recorder
	mu    sync.Mutex
	calls map[string]int
}

func (s *scriptedTracks) ListTracks(_ context.Context, itemID string) ([]caption.Track, error) {
	s.mu.Lock()
	s.calls[itemID]++
	call := s.calls[itemID]
	s.mu.Unlock()
	s.rec.add("list:%s", itemID)

	switch itemID {
	case "A":
		return []caption.Track{
			{LanguageCode: "de", Generated: true, BaseURL: "guten tag"},
			{LanguageCode: "en", BaseURL: "hello world"},
		}, nil
	case "B":
		return []caption.Track{{LanguageCode: "es", Generated: true, BaseURL: "hola mundo"}}, nil
	case "C":
		if call == 1 {
			return nil, fmt.Errorf("watch page: %w", transcript.ErrTooManyRequests)
		}
		return []caption.Track{{LanguageCode: "en", Generated: true, BaseURL: "late but here"}}, nil
	}
	return nil, fmt.Errorf("unexpected item %s", itemID)
}

func (s *scriptedTracks) FetchText(_ context.Context, t caption.Track) (string, error) {
	return t.BaseURL, nil
}

func TestDriver_ScenarioABC(t *testing.T) {
	rec := &recorder{}
	tracks := &scriptedTracks{rec: rec, calls: make(map[string]int)}
	store := &memStore{}

	d := NewDriver(selector.New(tracks), store, testOptions(), WithClock(newFakeClock(rec)))
	set, summary, err := d.Run(context.Background(), []string{"A", "B", "C"})
	require.NoError(t, err)

	a, _ := set.Get("A")
	assert.Equal(t, transcript.SourceManual, a.SourceKind)
	assert.Equal(t, "en", a.LanguageCode)
	assert.Equal(t, "hello world", a.Text)

	b, _ := set.Get("B")
	assert.Equal(t, transcript.SourceAuto, b.SourceKind)
	assert.Equal(t, "es", b.LanguageCode)

	c, _ := set.Get("C")
	assert.True(t, c.HasText)
	assert.Equal(t, transcript.SourceAuto, c.SourceKind)
	assert.Equal(t, "en", c.LanguageCode)
	assert.Equal(t, "run-test", c.RunID)

	assert.Equal(t, 3, set.Len())
	assert.Equal(t, 1, summary.RateLimitPauses)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 4, summary.Attempts)
	assert.Equal(t, 3, summary.Succeeded)

	assert.Equal(t, []string{
		"list:A", "sleep:150ms",
		"list:B", "sleep:150ms",
		"list:C", "sleep:1m0s",
		"list:C", "sleep:150ms",
	}, rec.all())

	stored, ok := store.get("C")
	require.True(t, ok)
	assert.True(t, stored.HasText)
}

func TestDriver_IdempotentResume(t *testing.T) {
	store := &memStore{}
	sel := newFakeSelector(func(_ context.Context, id string, _ int) (selector.Selection, error) {
		if id == "bad" {
			return selector.Selection{}, transcript.ErrNoTranscript
		}
		return manualEN("text of " + id)
	})
	input := []string{"a", "bad", "c"}

	first, _, err := NewDriver(sel, store, testOptions(), WithClock(newFakeClock(nil))).Run(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, 3, sel.total())

	second, summary, err := NewDriver(sel, store, testOptions(), WithClock(newFakeClock(nil))).Run(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 3, sel.total(), "second run must not call the selector")
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, first.Results(), second.Results())
	assert.Len(t, store.rows, 3)
}

func TestDriver_RetryErrorKindsReprocessesStoredFailures(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &memStore{rows: []transcript.Result{
		transcript.Failure("limited", transcript.ErrorRateLimited, "429", at),
		transcript.Failure("missing", transcript.ErrorNoTranscript, "", at),
	}}
	sel := newFakeSelector(func(_ context.Context, id string, _ int) (selector.Selection, error) {
		return manualEN("now " + id)
	})

	opts := testOptions()
	opts.RetryErrorKinds = []transcript.ErrorKind{transcript.ErrorRateLimited}
	set, summary, err := NewDriver(sel, store, opts, WithClock(newFakeClock(nil))).Run(context.Background(), []string{"limited", "missing"})
	require.NoError(t, err)

	assert.Equal(t, 1, sel.count("limited"))
	assert.Equal(t, 0, sel.count("missing"))
	assert.Equal(t, 1, summary.Skipped)
	r, _ := set.Get("limited")
	assert.True(t, r.HasText)
	assert.Len(t, store.rows, 2)
}

func TestDriver_FallbackGating(t *testing.T) {
	answers := map[string]error{
		"none":     fmt.Errorf("no tier matched: %w", transcript.ErrNoTranscript),
		"disabled": transcript.ErrDisabled,
		"gone":     transcript.ErrUnavailable,
		"ok":       nil,
	}
	sel := func() *fakeSelector {
		return newFakeSelector(func(_ context.Context, id string, _ int) (selector.Selection, error) {
			if err := answers[id]; err != nil {
				return selector.Selection{}, err
			}
			return manualEN("captions")
		})
	}
	input := []string{"none", "disabled", "gone", "ok"}

	t.Run("disabled", func(t *testing.T) {
		tr := &fakeTranscriber{}
		set, _, err := NewDriver(sel(), &memStore{}, testOptions(), WithClock(newFakeClock(nil))).Run(context.Background(), input)
		require.NoError(t, err)
		assert.Empty(t, tr.calls)

		r, _ := set.Get("none")
		assert.False(t, r.HasText)
		assert.Equal(t, transcript.SourceNone, r.SourceKind)
		assert.Equal(t, transcript.ErrorNoTranscript, r.ErrorKind)
		r, _ = set.Get("disabled")
		assert.Equal(t, transcript.ErrorSourceDisabled, r.ErrorKind)
	})

	t.Run("enabled", func(t *testing.T) {
		tr := &fakeTranscriber{}
		d := NewDriver(sel(), &memStore{}, testOptions(), WithClock(newFakeClock(nil)), WithFallback(tr))
		assert.Equal(t, DefaultFallbackFlushInterval, d.opts.FlushInterval)

		set, summary, err := d.Run(context.Background(), input)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"none", "disabled"}, tr.calls)

		r, _ := set.Get("none")
		assert.True(t, r.HasText)
		assert.Equal(t, transcript.SourceFallback, r.SourceKind)
		assert.Equal(t, "spoken none", r.Text)

		r, _ = set.Get("gone")
		assert.Equal(t, transcript.ErrorItemUnavailable, r.ErrorKind)
		r, _ = set.Get("ok")
		assert.Equal(t, transcript.SourceManual, r.SourceKind)
		assert.Equal(t, 2, summary.BySource[transcript.SourceFallback])
	})

	t.Run("fallback fails", func(t *testing.T) {
		tr := &fakeTranscriber{err: &fallback.StageError{Stage: fallback.StageDownload, ItemID: "x", Message: "yt-dlp exploded"}}
		set, _, err := NewDriver(sel(), &memStore{}, testOptions(), WithClock(newFakeClock(nil)), WithFallback(tr)).Run(context.Background(), input)
		require.NoError(t, err)

		r, _ := set.Get("none")
		assert.False(t, r.HasText)
		assert.Equal(t, transcript.ErrorFallback, r.ErrorKind)
		assert.Contains(t, r.ErrorDetail, "yt-dlp exploded")
	})
}

func TestDriver_InvariantHoldsForEveryResult(t *testing.T) {
	errs := []error{
		nil,
		transcript.ErrNoTranscript,
		transcript.ErrDisabled,
		transcript.ErrUnavailable,
		context.DeadlineExceeded,
		fmt.Errorf("strange upstream reply"),
	}
	sel := newFakeSelector(func(_ context.Context, id string, _ int) (selector.Selection, error) {
		var i int
		fmt.Sscanf(id, "item-%d", &i)
		if err := errs[i%len(errs)]; err != nil {
			return selector.Selection{}, err
		}
		if i%4 == 0 {
			// An empty download is not a transcript.
			return selector.Selection{Text: "", LanguageCode: "en", Kind: transcript.SourceAuto}, nil
		}
		return manualEN("words")
	})

	var input []string
	for i := range 30 {
		input = append(input, fmt.Sprintf("item-%d", i))
	}
	set, summary, err := NewDriver(sel, &memStore{}, testOptions(), WithClock(newFakeClock(nil))).Run(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, 30, set.Len())

	for _, r := range set.Results() {
		require.NoError(t, r.Validate(), r.String())
		if !r.HasText {
			assert.Empty(t, r.Text)
			assert.Equal(t, transcript.SourceNone, r.SourceKind)
		}
	}
	assert.Equal(t, 30, summary.Processed)
	assert.Positive(t, summary.ByErrorKind[transcript.ErrorTimeout])
	assert.Positive(t, summary.ByErrorKind[transcript.ErrorUnknown])
}

func TestDriver_RateLimitIsolation(t *testing.T) {
	rec := &recorder{}
	sel := newFakeSelector(func(_ context.Context, id string, _ int) (selector.Selection, error) {
		rec.add("select:%s", id)
		if id == "K" {
			return selector.Selection{}, fmt.Errorf("HTTP 429 Too Many Requests")
		}
		return manualEN("text " + id)
	})
	opts := testOptions()
	opts.RateLimitRetries = 0
	opts.InterItemDelay = 0

	store := &memStore{}
	set, summary, err := NewDriver(sel, store, opts, WithClock(newFakeClock(rec))).Run(context.Background(), []string{"A", "B", "K", "D"})
	require.NoError(t, err)

	for _, id := range []string{"A", "B", "D"} {
		r, _ := set.Get(id)
		assert.True(t, r.HasText, id)
	}
	k, _ := set.Get("K")
	assert.Equal(t, transcript.ErrorRateLimited, k.ErrorKind)
	assert.Equal(t, 1, sel.count("K"))
	assert.Equal(t, 1, summary.RateLimitPauses)
	assert.Equal(t, []string{"select:A", "select:B", "select:K", "sleep:1m0s", "select:D"}, rec.all())
}

func TestDriver_PersistentRateLimitKeepsOneRow(t *testing.T) {
	sel := newFakeSelector(func(_ context.Context, id string, _ int) (selector.Selection, error) {
		if id == "K" {
			return selector.Selection{}, transcript.ErrTooManyRequests
		}
		return manualEN("x")
	})
	opts := testOptions()
	opts.RateLimitRetries = 2

	store := &memStore{}
	set, summary, err := NewDriver(sel, store, opts, WithClock(newFakeClock(nil))).Run(context.Background(), []string{"K", "Z"})
	require.NoError(t, err)

	assert.Equal(t, 3, sel.count("K"))
	assert.Equal(t, 3, summary.RateLimitPauses)
	assert.Equal(t, 4, summary.Attempts)
	assert.Equal(t, 2, set.Len())
	assert.Len(t, store.rows, 2)
	r, _ := set.Get("K")
	assert.Equal(t, transcript.ErrorRateLimited, r.ErrorKind)
}

func TestDriver_PanicBecomesUnknown(t *testing.T) {
	sel := newFakeSelector(func(_ context.Context, id string, _ int) (selector.Selection, error) {
		if id == "boom" {
			panic("selector exploded")
		}
		return manualEN("fine")
	})

	set, _, err := NewDriver(sel, &memStore{}, testOptions(), WithClock(newFakeClock(nil))).Run(context.Background(), []string{"a", "boom", "b"})
	require.NoError(t, err)

	r, _ := set.Get("boom")
	assert.Equal(t, transcript.ErrorUnknown, r.ErrorKind)
	assert.Contains(t, r.ErrorDetail, "selector exploded")
	r, _ = set.Get("b")
	assert.True(t, r.HasText)
}

func TestDriver_FlushCadence(t *testing.T) {
	sel := newFakeSelector(func(_ context.Context, _ string, _ int) (selector.Selection, error) {
		return manualEN("x")
	})
	opts := testOptions()
	opts.FlushInterval = 2

	store := &memStore{}
	_, _, err := NewDriver(sel, store, opts, WithClock(newFakeClock(nil))).Run(context.Background(), []string{"1", "2", "3", "4", "5"})
	require.NoError(t, err)
	assert.Equal(t, 3, store.saves)
	assert.Len(t, store.rows, 5)
}

func TestDriver_MaxItemsCapsWorkList(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &memStore{rows: []transcript.Result{transcript.Success("1", "done", "en", transcript.SourceManual, at)}}
	sel := newFakeSelector(func(_ context.Context, _ string, _ int) (selector.Selection, error) {
		return manualEN("x")
	})
	opts := testOptions()
	opts.MaxItems = 2

	_, summary, err := NewDriver(sel, store, opts, WithClock(newFakeClock(nil))).Run(context.Background(), []string{"1", "2", "3", "4", "2"})
	require.NoError(t, err)
	assert.Equal(t, 1, sel.count("2"))
	assert.Equal(t, 1, sel.count("3"))
	assert.Equal(t, 0, sel.count("4"))
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
}

func TestDriver_WorkerPool(t *testing.T) {
	sel := newFakeSelector(func(_ context.Context, id string, call int) (selector.Selection, error) {
		if id == "item-7" && call == 1 {
			return selector.Selection{}, transcript.ErrTooManyRequests
		}
		return manualEN("text " + id)
	})
	opts := testOptions()
	opts.Workers = 4
	opts.FlushInterval = 3

	var input []string
	for i := range 40 {
		input = append(input, fmt.Sprintf("item-%d", i))
	}
	tracker := NewTracker()
	store := &memStore{}
	set, summary, err := NewDriver(sel, store, opts, WithClock(newFakeClock(nil)), WithTracker(tracker)).Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 40, set.Len())
	assert.Len(t, store.rows, 40)
	assert.Equal(t, 40, summary.Succeeded)
	assert.Equal(t, 1, summary.RateLimitPauses)
	for _, id := range input {
		want := 1
		if id == "item-7" {
			want = 2
		}
		assert.Equal(t, want, sel.count(id), id)
	}

	p := tracker.Snapshot()
	assert.False(t, p.Running)
	assert.Equal(t, 40, p.Done)
	assert.Equal(t, 40, p.Succeeded)
	assert.Equal(t, 0, p.Failed)
}

func TestDriver_CancelFlushesWhatWasDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sel := newFakeSelector(func(ctx context.Context, id string, _ int) (selector.Selection, error) {
		if id == "b" {
			cancel()
			return selector.Selection{}, ctx.Err()
		}
		return manualEN("x")
	})

	store := &memStore{}
	_, _, err := NewDriver(sel, store, testOptions(), WithClock(newFakeClock(nil))).Run(ctx, []string{"a", "b", "c"})
	require.ErrorIs(t, err, context.Canceled)

	_, ok := store.get("a")
	assert.True(t, ok)
	_, ok = store.get("b")
	assert.False(t, ok, "an interrupted item must stay unprocessed")
	assert.Equal(t, 0, sel.count("c"))
}
