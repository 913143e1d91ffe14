package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/transcript-collector/internal/transcript"
)

// exerciseStore checks the behaviour every backend shares.
func exerciseStore(t *testing.T, open func() Store) {
	t.Helper()
	ctx := context.Background()

	store := open()
	set, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())

	at := time.Date(2024, 5, 1, 12, 30, 15, 123000000, time.UTC)
	set.Put(transcript.Success("a", "hello, \"world\"\nline two", "en", transcript.SourceManual, at))
	set.Put(transcript.Failure("b", transcript.ErrorRateLimited, "429 from upstream", at))
	set.Put(transcript.Success("c", "hola", "es", transcript.SourceAuto, at))
	require.NoError(t, store.Save(ctx, set))
	assert.Equal(t, 0, set.PendingCount())

	// b is retried and succeeds; the row is replaced, not added.
	set.Put(transcript.Success("b", "late text", "en", transcript.SourceFallback, at.Add(time.Minute)))
	require.NoError(t, store.Save(ctx, set))
	require.NoError(t, store.Close())

	store = open()
	defer store.Close()
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, loaded.Len())

	results := loaded.Results()
	assert.Equal(t, []string{"a", "b", "c"}, []string{results[0].ItemID, results[1].ItemID, results[2].ItemID})
	for _, r := range results {
		assert.NoError(t, r.Validate())
	}

	a, _ := loaded.Get("a")
	assert.Equal(t, "hello, \"world\"\nline two", a.Text)
	assert.Equal(t, transcript.SourceManual, a.SourceKind)
	assert.True(t, at.Equal(a.FetchedAt), "fetched_at %s != %s", a.FetchedAt, at)

	b, _ := loaded.Get("b")
	assert.True(t, b.HasText)
	assert.Equal(t, transcript.SourceFallback, b.SourceKind)
	assert.Equal(t, transcript.ErrorNone, b.ErrorKind)
	assert.Equal(t, 0, loaded.PendingCount())

	// Nothing pending, nothing written.
	require.NoError(t, store.Save(ctx, loaded))
}

func TestCSVStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "transcripts.csv")
	exerciseStore(t, func() Store { return NewCSVStore(path) })

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "item_id,has_text,text,language_code,source_kind,error_kind,error_detail,fetched_at,run_id\n")
}

func TestCSVStore_ToleratesColumnOrderAndEmptyFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	set, err := NewCSVStore(empty).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())

	reordered := filepath.Join(dir, "reordered.csv")
	require.NoError(t, os.WriteFile(reordered, []byte(
		"error_kind,item_id,has_text,source_kind\n"+
			"no_transcript,x1,false,none\n"+
			",x2,true,manual\n"), 0o644))
	set, err = NewCSVStore(reordered).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())
	x1, _ := set.Get("x1")
	assert.Equal(t, transcript.ErrorNoTranscript, x1.ErrorKind)
}

func TestCSVStore_RejectsBadRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("item_id,error_kind\nx,exploded\n"), 0o644))
	_, err := NewCSVStore(path).Load(context.Background())
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("video,text\nx,y\n"), 0o644))
	_, err = NewCSVStore(path).Load(context.Background())
	assert.Error(t, err)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "transcripts.db")
	exerciseStore(t, func() Store {
		s, err := NewSQLiteStore(context.Background(), path)
		require.NoError(t, err)
		return s
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `TRUNCATE transcripts`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	exerciseStore(t, func() Store {
		s, err := NewPostgresStore(ctx, dsn)
		require.NoError(t, err)
		return s
	})
}

func TestOpen_PicksBackend(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, filepath.Join(dir, "x.CSV"))
	require.NoError(t, err)
	assert.IsType(t, &CSVStore{}, s)

	s, err = Open(ctx, filepath.Join(dir, "x.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, "  ")
	assert.Error(t, err)
}
