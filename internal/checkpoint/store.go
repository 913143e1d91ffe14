package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Store is the durable side of a checkpoint Set.
type Store interface {
	// Load reads every stored result. A missing checkpoint yields an empty set.
	Load(ctx context.Context) (*Set, error)
	// Save persists the pending results of set and commits them.
	Save(ctx context.Context, set *Set) error
	Close() error
}

// Open picks a backend from path: a postgres:// DSN, a .csv file, or a SQLite database file.
func Open(ctx context.Context, path string) (Store, error) {
	path = strings.TrimSpace(path)
	switch {
	case path == "":
		return nil, fmt.Errorf("checkpoint path is required")
	case strings.HasPrefix(path, "postgres://"), strings.HasPrefix(path, "postgresql://"):
		return NewPostgresStore(ctx, path)
	case strings.EqualFold(filepath.Ext(path), ".csv"):
		return NewCSVStore(path), nil
	default:
		return NewSQLiteStore(ctx, path)
	}
}
