package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/transcript-collector/internal/checkpoint"
	"github.com/MimeLyc/transcript-collector/internal/service"
	"github.com/MimeLyc/transcript-collector/internal/transcript"
)

type fakeScheduler struct {
	called bool
	err    error
}

func (f *fakeScheduler) Schedule(context.Context, service.Cron) error {
	f.called = true
	return f.err
}

type fakeCron struct {
	started bool
	stopped bool
}

func (f *fakeCron) AddFunc(string, func()) (cron.EntryID, error) {
	return 1, nil
}

func (f *fakeCron) Start() {
	f.started = true
}

func (f *fakeCron) Stop() context.Context {
	f.stopped = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

type fakeStatus struct {
	listening chan struct{}
	err       error
}

func (f *fakeStatus) ServeStatus(ctx context.Context) error {
	close(f.listening)
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return nil
}

func TestRunWithComponents_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := &fakeScheduler{}
	engine := &fakeCron{}
	status := &fakeStatus{listening: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		done <- runWithComponents(ctx, sched, engine, status)
	}()

	select {
	case <-status.listening:
	case <-time.After(2 * time.Second):
		t.Fatal("status server did not start")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not exit after cancellation")
	}
	assert.True(t, sched.called)
	assert.True(t, engine.started)
	assert.True(t, engine.stopped)
}

func TestRunWithComponents_Errors(t *testing.T) {
	engine := &fakeCron{}
	err := runWithComponents(context.Background(), &fakeScheduler{err: errors.New("bad cron")}, engine, &fakeStatus{listening: make(chan struct{})})
	assert.EqualError(t, err, "bad cron")
	assert.False(t, engine.started)

	engine = &fakeCron{}
	status := &fakeStatus{listening: make(chan struct{}), err: errors.New("address in use")}
	err = runWithComponents(context.Background(), &fakeScheduler{}, engine, status)
	assert.ErrorContains(t, err, "address in use")
	assert.True(t, engine.stopped)
}

func writeCheckpoint(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcripts.csv")
	now := time.Now()

	set := checkpoint.NewSet()
	set.Put(transcript.Success("A", "we talked about connections", "en", transcript.SourceManual, now))
	set.Put(transcript.Success("B", "nothing to see", "en", transcript.SourceAuto, now))
	set.Put(transcript.Failure("C", transcript.ErrorNoTranscript, "no tracks", now))
	require.NoError(t, checkpoint.NewCSVStore(path).Save(context.Background(), set))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(args)
	require.NoError(t, root.ExecuteContext(context.Background()))
	return out.String()
}

func TestStatsCommand(t *testing.T) {
	path := writeCheckpoint(t)
	out := execute(t, "stats", "-c", path)
	assert.Equal(t, "3 items, 2 with text (66.7%) [manual=1 auto=1], top errors: no_transcript=1\n", out)
}

func TestSearchCommand(t *testing.T) {
	path := writeCheckpoint(t)
	out := execute(t, "search", "--checkpoint", path, "connected")
	assert.Equal(t, "A\tmanual/en\t1\twe talked about connections\n", out)
}

func TestStatsCommand_LogFile(t *testing.T) {
	path := writeCheckpoint(t)
	logFile := filepath.Join(t.TempDir(), "logs", "collector.log")
	t.Setenv("LOG_FILE", logFile)
	t.Setenv("LOG_LEVEL", "debug")

	execute(t, "stats", "-c", path)
	_, err := os.Stat(logFile)
	assert.NoError(t, err)
}

func TestSearchCommand_NeedsWords(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"search"})
	root.SetOut(&bytes.Buffer{})
	assert.Error(t, root.Execute())
}
