package items

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

type CSVSource struct {
	path   string
	column string
}

// NewCSVSource reads ids from column; an empty column means item_id, or video_id when absent.
func NewCSVSource(path, column string) *CSVSource {
	return &CSVSource{path: path, column: column}
}

func (s *CSVSource) Items(_ context.Context) ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("input %s is empty", s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read input header: %w", err)
	}

	col, err := s.columnIndex(header)
	if err != nil {
		return nil, err
	}

	var ids []string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		if col < len(rec) {
			ids = append(ids, rec[col])
		}
	}
	return Normalize(ids), nil
}

func (s *CSVSource) columnIndex(header []string) (int, error) {
	candidates := []string{s.column}
	if s.column == "" {
		candidates = []string{DefaultColumn, aliasColumn}
	}
	for _, want := range candidates {
		for i, name := range header {
			// Excel likes to prefix a BOM.
			name = strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")
			if strings.EqualFold(name, want) {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("input %s has no %s column", s.path, strings.Join(candidates, " or "))
}
