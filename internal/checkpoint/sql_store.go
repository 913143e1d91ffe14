package checkpoint

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"github.com/MimeLyc/transcript-collector/internal/transcript"
	"github.com/MimeLyc/transcript-collector/pkg/log"
)

//go:embed migrations
var migrationFiles embed.FS

const selectResults = `SELECT item_id, has_text, text, language_code, source_kind, error_kind, error_detail, fetched_at, run_id
	FROM transcripts
	ORDER BY seq ASC`

// sqlStore holds what the SQLite and PostgreSQL backends share; only the upsert
// statement differs in placeholder syntax.
type sqlStore struct {
	db     *sql.DB
	upsert string
}

func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string) error {
	fsys, err := fs.Sub(migrationFiles, dir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		log.Info("Applied checkpoint migration %s in %s", r.Source.Path, r.Duration)
	}
	return nil
}

func (s *sqlStore) Load(ctx context.Context) (*Set, error) {
	rows, err := s.db.QueryContext(ctx, selectResults)
	if err != nil {
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	defer rows.Close()

	set := NewSet()
	for rows.Next() {
		var r transcript.Result
		var text sql.NullString
		var source, kind string
		if err := rows.Scan(
			&r.ItemID,
			&r.HasText,
			&text,
			&r.LanguageCode,
			&source,
			&kind,
			&r.ErrorDetail,
			&r.FetchedAt,
			&r.RunID,
		); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		r.Text = text.String
		if r.SourceKind, err = transcript.ParseSourceKind(source); err != nil {
			return nil, fmt.Errorf("item %s: %w", r.ItemID, err)
		}
		if r.ErrorKind, err = transcript.ParseErrorKind(kind); err != nil {
			return nil, fmt.Errorf("item %s: %w", r.ItemID, err)
		}
		r.FetchedAt = r.FetchedAt.UTC()
		set.load(r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

func (s *sqlStore) Save(ctx context.Context, set *Set) error {
	pending := set.Pending()
	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.upsert)
	if err != nil {
		return fmt.Errorf("prepare checkpoint upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range pending {
		if _, err := stmt.ExecContext(
			ctx,
			r.ItemID,
			r.HasText,
			sql.NullString{String: r.Text, Valid: r.HasText},
			r.LanguageCode,
			string(r.SourceKind),
			string(r.ErrorKind),
			r.ErrorDetail,
			r.FetchedAt.UTC(),
			r.RunID,
		); err != nil {
			return fmt.Errorf("upsert item %s: %w", r.ItemID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}

	set.Commit()
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
