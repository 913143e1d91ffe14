package checkpoint

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/MimeLyc/transcript-collector/internal/transcript"
	"github.com/MimeLyc/transcript-collector/pkg/file"
	"github.com/MimeLyc/transcript-collector/pkg/log"
)

var csvHeader = []string{
	"item_id",
	"has_text",
	"text",
	"language_code",
	"source_kind",
	"error_kind",
	"error_detail",
	"fetched_at",
	"run_id",
}

// CSVStore keeps the checkpoint as one CSV file that is rewritten in full on every save.
type CSVStore struct {
	path string
}

func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path}
}

func (s *CSVStore) Load(_ context.Context) (*Set, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewSet(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return NewSet(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	if _, ok := cols["item_id"]; !ok {
		return nil, fmt.Errorf("checkpoint %s has no item_id column", s.path)
	}

	set := NewSet()
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read checkpoint line %d: %w", line, err)
		}

		res, err := decodeRow(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("checkpoint line %d: %w", line, err)
		}
		if err := res.Validate(); err != nil {
			log.Warn("Checkpoint line %d: %v", line, err)
		}
		set.load(res)
	}
	return set, nil
}

func (s *CSVStore) Save(_ context.Context, set *Set) error {
	if set.PendingCount() == 0 {
		return nil
	}

	err := file.WriteAtomic(s.path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		for _, r := range set.Results() {
			if err := cw.Write(encodeRow(r)); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	set.Commit()
	return nil
}

func (s *CSVStore) Close() error {
	return nil
}

func encodeRow(r transcript.Result) []string {
	return []string{
		r.ItemID,
		strconv.FormatBool(r.HasText),
		r.Text,
		r.LanguageCode,
		string(r.SourceKind),
		string(r.ErrorKind),
		r.ErrorDetail,
		r.FetchedAt.UTC().Format(time.RFC3339Nano),
		r.RunID,
	}
}

func decodeRow(rec []string, cols map[string]int) (transcript.Result, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var (
		r   transcript.Result
		err error
	)
	r.ItemID = get("item_id")
	if v := get("has_text"); v != "" {
		if r.HasText, err = strconv.ParseBool(v); err != nil {
			return r, fmt.Errorf("has_text: %w", err)
		}
	}
	r.Text = get("text")
	r.LanguageCode = get("language_code")
	if r.SourceKind, err = transcript.ParseSourceKind(get("source_kind")); err != nil {
		return r, err
	}
	if r.ErrorKind, err = transcript.ParseErrorKind(get("error_kind")); err != nil {
		return r, err
	}
	r.ErrorDetail = get("error_detail")
	if v := get("fetched_at"); v != "" {
		if r.FetchedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return r, fmt.Errorf("fetched_at: %w", err)
		}
	}
	r.RunID = get("run_id")
	return r, nil
}
