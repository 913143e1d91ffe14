package items

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	DefaultColumn = "item_id"
	aliasColumn   = "video_id"
)

// Source supplies the identifiers to process, in order.
type Source interface {
	Items(ctx context.Context) ([]string, error)
}

// Open returns a CSV source for .csv files and a SQLite source otherwise.
func Open(path, table, column string) (Source, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("input path is required")
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return NewCSVSource(path, column), nil
	}
	return NewSQLiteSource(path, table, column)
}

// Normalize trims ids, drops empty ones and keeps the first occurrence of duplicates.
func Normalize(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	ret := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ret = append(ret, id)
	}
	return ret
}
