package numbering

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fleetmaint/backoffice/internal/platform/db"
)

// QuerierSource resolves the querier for ctx, joining an open unit of work.
type QuerierSource interface {
	Querier(ctx context.Context) db.Querier
}

// PostgresAllocator keeps one counter row per prefix and year in
// document_sequences. Inside a unit of work the increment commits or rolls
// back with the transition that consumed it.
type PostgresAllocator struct {
	db   QuerierSource
	seed SeedFunc
}

// NewPostgresAllocator constructs a PostgresAllocator. seed may be nil.
func NewPostgresAllocator(src QuerierSource, seed SeedFunc) *PostgresAllocator {
	return &PostgresAllocator{db: src, seed: seed}
}

const bumpSequenceSQL = `UPDATE document_sequences SET seq = seq + 1, updated_at = NOW()
WHERE prefix = $1 AND year = $2
RETURNING seq`

const insertSequenceSQL = `INSERT INTO document_sequences (prefix, year, seq, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (prefix, year) DO UPDATE SET seq = document_sequences.seq + 1, updated_at = NOW()
RETURNING seq`

// Next increments and returns the counter for prefix and year.
func (a *PostgresAllocator) Next(ctx context.Context, prefix string, year int) (string, error) {
	q := a.db.Querier(ctx)

	var seq int
	err := q.QueryRow(ctx, bumpSequenceSQL, prefix, year).Scan(&seq)
	if err == nil {
		return Format(prefix, year, seq), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("numbering: bump %s/%d: %w", prefix, year, err)
	}

	start := 0
	if a.seed != nil {
		if start, err = a.seed(ctx, prefix, year); err != nil {
			return "", fmt.Errorf("numbering: seed %s/%d: %w", prefix, year, err)
		}
	}
	if err := q.QueryRow(ctx, insertSequenceSQL, prefix, year, start+1).Scan(&seq); err != nil {
		return "", fmt.Errorf("numbering: insert %s/%d: %w", prefix, year, err)
	}
	return Format(prefix, year, seq), nil
}
