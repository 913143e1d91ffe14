package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

const postgresUpsert = `INSERT INTO transcripts (
		item_id, has_text, text, language_code, source_kind, error_kind, error_detail, fetched_at, run_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (item_id) DO UPDATE SET
		has_text = EXCLUDED.has_text,
		text = EXCLUDED.text,
		language_code = EXCLUDED.language_code,
		source_kind = EXCLUDED.source_kind,
		error_kind = EXCLUDED.error_kind,
		error_detail = EXCLUDED.error_detail,
		fetched_at = EXCLUDED.fetched_at,
		run_id = EXCLUDED.run_id`

type PostgresStore struct {
	sqlStore
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate(ctx, db, goose.DialectPostgres, "migrations/postgres"); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PostgresStore{sqlStore{db: db, upsert: postgresUpsert}}, nil
}
