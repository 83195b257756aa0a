package usedparts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/fleetmaint/backoffice/internal/platform/db"
)

// Repository persists batches and dispositions in PostgreSQL.
type Repository struct {
	tx *db.TxManager
}

// NewRepository constructs Repository.
func NewRepository(tx *db.TxManager) *Repository {
	return &Repository{tx: tx}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertBatch(ctx context.Context, batch Batch) (Batch, error)
	LockBatch(ctx context.Context, id int64) (Batch, error)
	LinkRevolvingItem(ctx context.Context, batchID, stockItemID int64) error
	InsertDisposition(ctx context.Context, d Disposition) (Disposition, error)
}

type txRepo struct {
	q db.Querier
}

// WithTx executes fn inside the ambient unit of work, opening one if needed.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.tx.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, &txRepo{q: r.tx.Querier(ctx)})
	})
}

const batchColumns = `id, name, vehicle_ref, initial_quantity, unit, COALESCE(revolving_stock_item_id, 0), notes, created_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.Name, &b.VehicleRef, &b.InitialQuantity, &b.Unit, &b.RevolvingStockItemID, &b.Notes, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	return b, err
}

// GetBatch loads a batch with its dispositions.
func (r *Repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	q := r.tx.Querier(ctx)
	batch, err := scanBatch(q.QueryRow(ctx, `SELECT `+batchColumns+` FROM used_part_batches WHERE id = $1`, id))
	if err != nil {
		return Batch{}, err
	}
	if batch.Dispositions, err = loadDispositions(ctx, q, batch.ID); err != nil {
		return Batch{}, err
	}
	return batch, nil
}

// ListBatches returns batches newest first with their dispositions. Limit
// zero returns all rows.
func (r *Repository) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	q := r.tx.Querier(ctx)
	query := `SELECT ` + batchColumns + ` FROM used_part_batches`
	var args []any
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		query += " WHERE name ILIKE $1 OR vehicle_ref ILIKE $1"
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		batches = append(batches, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range batches {
		if batches[i].Dispositions, err = loadDispositions(ctx, q, batches[i].ID); err != nil {
			return nil, err
		}
	}
	return batches, nil
}

func loadDispositions(ctx context.Context, q db.Querier, batchID int64) ([]Disposition, error) {
	rows, err := q.Query(ctx, `SELECT id, batch_id, disposition_type, quantity, COALESCE(stock_item_id, 0), COALESCE(transaction_id, 0), notes, actor, created_at
FROM used_part_dispositions WHERE batch_id = $1 ORDER BY id`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dispositions := []Disposition{}
	for rows.Next() {
		var d Disposition
		if err := rows.Scan(&d.ID, &d.BatchID, &d.Type, &d.Quantity, &d.StockItemID, &d.TransactionID, &d.Notes, &d.Actor, &d.CreatedAt); err != nil {
			return nil, err
		}
		dispositions = append(dispositions, d)
	}
	return dispositions, rows.Err()
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func (r *txRepo) InsertBatch(ctx context.Context, batch Batch) (Batch, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO used_part_batches (name, vehicle_ref, initial_quantity, unit, revolving_stock_item_id, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
RETURNING `+batchColumns,
		batch.Name, batch.VehicleRef, batch.InitialQuantity, batch.Unit, nullID(batch.RevolvingStockItemID), batch.Notes)
	created, err := scanBatch(row)
	if err != nil {
		return Batch{}, err
	}
	created.Dispositions = []Disposition{}
	return created, nil
}

func (r *txRepo) LockBatch(ctx context.Context, id int64) (Batch, error) {
	batch, err := scanBatch(r.q.QueryRow(ctx, `SELECT `+batchColumns+` FROM used_part_batches WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Batch{}, err
	}
	if batch.Dispositions, err = loadDispositions(ctx, r.q, id); err != nil {
		return Batch{}, err
	}
	return batch, nil
}

func (r *txRepo) LinkRevolvingItem(ctx context.Context, batchID, stockItemID int64) error {
	tag, err := r.q.Exec(ctx, `UPDATE used_part_batches SET revolving_stock_item_id = $2 WHERE id = $1`, batchID, stockItemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (r *txRepo) InsertDisposition(ctx context.Context, d Disposition) (Disposition, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO used_part_dispositions (batch_id, disposition_type, quantity, stock_item_id, transaction_id, notes, actor, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		d.BatchID, string(d.Type), d.Quantity, nullID(d.StockItemID), nullID(d.TransactionID), d.Notes, d.Actor, d.CreatedAt,
	).Scan(&d.ID)
	return d, err
}
