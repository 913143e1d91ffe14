package items

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"

	_ "modernc.org/sqlite"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteSource reads ids from one column of a table, in rowid order.
type SQLiteSource struct {
	path   string
	table  string
	column string
}

func NewSQLiteSource(path, table, column string) (*SQLiteSource, error) {
	if column == "" {
		column = DefaultColumn
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid input table %q", table)
	}
	if !identRe.MatchString(column) {
		return nil, fmt.Errorf("invalid input column %q", column)
	}
	return &SQLiteSource{path: path, table: table, column: column}, nil
}

func (s *SQLiteSource) Items(ctx context.Context) ([]string, error) {
	if _, err := os.Stat(s.path); err != nil {
		return nil, fmt.Errorf("input db: %w", err)
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("open input db: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT CAST("%s" AS TEXT) FROM "%s" ORDER BY rowid`, s.column, s.table))
	if err != nil {
		return nil, fmt.Errorf("query input table %s: %w", s.table, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id sql.NullString
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan input row: %w", err)
		}
		ids = append(ids, id.String)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return Normalize(ids), nil
}
