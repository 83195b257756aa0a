package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/fleetmaint/backoffice/internal/platform/db"
)

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	tx *db.TxManager
}

// NewRepository constructs Repository.
func NewRepository(tx *db.TxManager) *Repository {
	return &Repository{tx: tx}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertItem(ctx context.Context, item StockItem) (StockItem, error)
	LockItems(ctx context.Context, ids []int64) (map[int64]StockItem, error)
	InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error)
	AddQuantity(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error)
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

const itemColumns = `id, code, name, category, unit, opening_quantity, quantity, min_stock, max_stock,
unit_price, is_revolving_part, is_fungible_used_item, created_at, updated_at`

func scanItem(row pgx.Row) (StockItem, error) {
	var item StockItem
	err := row.Scan(
		&item.ID, &item.Code, &item.Name, &item.Category, &item.Unit,
		&item.OpeningQuantity, &item.Quantity, &item.MinStock, &item.MaxStock,
		&item.UnitPrice, &item.IsRevolvingPart, &item.IsFungibleUsedItem,
		&item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

// GetItem loads a stock item by id.
func (r *Repository) GetItem(ctx context.Context, id int64) (StockItem, error) {
	row := r.tx.Querier(ctx).QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE id = $1`, id)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockItem{}, ErrUnknownItem
	}
	return item, err
}

// ListItems returns catalog entries ordered by code. Limit zero returns all rows.
func (r *Repository) ListItems(ctx context.Context, filter ItemFilter) ([]StockItem, error) {
	var (
		where []string
		args  []any
	)
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		where = append(where, fmt.Sprintf("(code ILIKE $%d OR name ILIKE $%d)", len(args), len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	query := `SELECT ` + itemColumns + ` FROM stock_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY code"
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.tx.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []StockItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListTransactions returns the newest transactions of an item first.
func (r *Repository) ListTransactions(ctx context.Context, stockItemID int64, limit int) ([]Transaction, error) {
	rows, err := r.tx.Querier(ctx).Query(ctx, `SELECT id, stock_item_id, tx_type, delta, unit_price, document_number, actor, ref_id, note, posted_at
FROM stock_transactions WHERE stock_item_id = $1 ORDER BY posted_at DESC, id DESC LIMIT $2`, stockItemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		var (
			txn   Transaction
			refID uuid.NullUUID
		)
		if err := rows.Scan(&txn.ID, &txn.StockItemID, &txn.Type, &txn.Delta, &txn.UnitPrice, &txn.DocumentNumber, &txn.Actor, &refID, &txn.Note, &txn.PostedAt); err != nil {
			return nil, err
		}
		txn.RefID = refID.UUID
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// BalanceSnapshot sums every item's ledger next to its stored quantity.
func (r *Repository) BalanceSnapshot(ctx context.Context) ([]ItemBalance, error) {
	rows, err := r.tx.Querier(ctx).Query(ctx, `SELECT i.id, i.code, i.opening_quantity, i.quantity, COALESCE(SUM(t.delta), 0)
FROM stock_items i
LEFT JOIN stock_transactions t ON t.stock_item_id = i.id
GROUP BY i.id, i.code, i.opening_quantity, i.quantity
ORDER BY i.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []ItemBalance
	for rows.Next() {
		var b ItemBalance
		if err := rows.Scan(&b.StockItemID, &b.Code, &b.OpeningQuantity, &b.Quantity, &b.DeltaSum); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (r *txRepo) InsertItem(ctx context.Context, item StockItem) (StockItem, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO stock_items (code, name, category, unit, opening_quantity, quantity, min_stock, max_stock,
unit_price, is_revolving_part, is_fungible_used_item, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5, $6, $7, $8, $9, $10, NOW(), NOW())
RETURNING `+itemColumns,
		item.Code, item.Name, item.Category, item.Unit, item.OpeningQuantity, item.MinStock, item.MaxStock,
		item.UnitPrice, item.IsRevolvingPart, item.IsFungibleUsedItem)
	created, err := scanItem(row)
	if db.IsUniqueViolation(err) {
		return StockItem{}, ErrDuplicateCode
	}
	return created, err
}

// LockItems locks the given rows in ascending id order. Ids that do not
// resolve are absent from the result.
func (r *txRepo) LockItems(ctx context.Context, ids []int64) (map[int64]StockItem, error) {
	rows, err := r.q.Query(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[int64]StockItem, len(ids))
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items[item.ID] = item
	}
	return items, rows.Err()
}

func (r *txRepo) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO stock_transactions (stock_item_id, tx_type, delta, unit_price, document_number, actor, ref_id, note, posted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		txn.StockItemID, string(txn.Type), txn.Delta, txn.UnitPrice, txn.DocumentNumber, txn.Actor, uuid.NullUUID{UUID: txn.RefID, Valid: txn.RefID != uuid.Nil}, txn.Note, txn.PostedAt,
	).Scan(&txn.ID)
	if db.IsUniqueViolation(err) {
		return Transaction{}, ErrDuplicateReceipt
	}
	return txn, err
}

func (r *txRepo) AddQuantity(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := r.q.QueryRow(ctx, `UPDATE stock_items SET quantity = quantity + $2, updated_at = NOW() WHERE id = $1 RETURNING quantity`, id, delta).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, ErrUnknownItem
	}
	return qty, err
}
