package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// snapshotID is the key of the single row holding the document.
const snapshotID = 1

// Querier is the subset of *pgxpool.Pool the backend needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresBackend keeps the snapshot as a JSONB document in the presence_snapshots table.
type PostgresBackend struct {
	db Querier
}

// NewPostgresBackend constructs a backend over a migrated database.
func NewPostgresBackend(db Querier) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (b *PostgresBackend) Name() string {
	return "postgres"
}

// Save upserts the document. The single-statement write replaces the row atomically.
func (b *PostgresBackend) Save(ctx context.Context, doc []byte) error {
	const query = `
		INSERT INTO presence_snapshots (id, document, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`

	if _, err := b.db.Exec(ctx, query, snapshotID, doc); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Load fetches the document. An empty table is ErrNotFound.
func (b *PostgresBackend) Load(ctx context.Context) ([]byte, error) {
	const query = `SELECT document FROM presence_snapshots WHERE id = $1`

	var doc []byte
	if err := b.db.QueryRow(ctx, query, snapshotID).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return doc, nil
}
