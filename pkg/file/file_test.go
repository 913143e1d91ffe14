package file

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceExt(t *testing.T) {
	assert.Equal(t, filepath.Join("dir", "abc.json"), ReplaceExt("dir/abc.mp3", ".json"))
	assert.Equal(t, filepath.Join("dir", "abc.json"), ReplaceExt("dir/abc", "json"))
	assert.Equal(t, filepath.Join("dir", ".env.bak"), ReplaceExt("dir/.env", "bak"))
	assert.Equal(t, "", ReplaceExt("", ".json"))
}

func TestStem(t *testing.T) {
	assert.Equal(t, "a.b", Stem("/x/a.b.c"))
	assert.Equal(t, "noext", Stem("noext"))
}

func TestFindByExt_Order(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vid.webm"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vid.m4a"), []byte("x"), 0o644))

	got, err := FindByExt(dir, "vid", "mp3", ".m4a", "webm")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "vid.m4a"), got)

	_, err = FindByExt(dir, "other", "mp3")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestWriteAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.csv")

	require.NoError(t, WriteAtomic(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "first")
		return err
	}))

	boom := errors.New("boom")
	err := WriteAtomic(path, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
