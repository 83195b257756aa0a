package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fleetmaint/backoffice/internal/finance"
	"github.com/fleetmaint/backoffice/internal/numbering"
	"github.com/fleetmaint/backoffice/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	tx *db.TxManager
}

// NewRepository constructs a repository.
func NewRepository(tx *db.TxManager) *Repository {
	return &Repository{tx: tx}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertPR(ctx context.Context, pr PurchaseRequisition) (PurchaseRequisition, error)
	LockPR(ctx context.Context, id int64) (PurchaseRequisition, error)
	// UpdatePRStatus sets status and link; an empty poNumber clears the link.
	UpdatePRStatus(ctx context.Context, id int64, status PRStatus, poNumber string) error
	InsertPO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	LockPO(ctx context.Context, id int64) (PurchaseOrder, error)
	MarkPOReceived(ctx context.Context, id int64, evidenceURLs []string, at time.Time) error
	MarkPOCancelled(ctx context.Context, id int64, reason string, at time.Time) error
	// DetachPR removes a requisition's lines and link from an open order and
	// stores the order's new totals.
	DetachPR(ctx context.Context, poID, prID int64, totals finance.Totals) error
	POStatusByNumber(ctx context.Context, number string) (POStatus, bool, error)
}

type txRepo struct {
	q db.Querier
}

// WithTx wraps callback in the ambient unit of work, opening a
// repeatable-read transaction when none is active.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.tx.WithTx(ctx, func(ctx context.Context) error {
		return fn(ctx, &txRepo{q: r.tx.Querier(ctx)})
	})
}

const prColumns = `id, number, status, requester, note, total_amount, related_po_number, created_at, updated_at`

const poColumns = `id, number, status, supplier, note,
vat_enabled, vat_rate, price_includes_vat, wht_enabled, wht_rate, manual_vat_adjustment,
items_total, net_before_vat, vat_amount, subtotal, wht_amount, total_amount,
evidence_urls, cancel_reason, created_by, received_at, cancelled_at, created_at, updated_at`

func scanPR(row pgx.Row) (PurchaseRequisition, error) {
	var (
		pr      PurchaseRequisition
		related *string
	)
	err := row.Scan(&pr.ID, &pr.Number, &pr.Status, &pr.Requester, &pr.Note, &pr.TotalAmount, &related, &pr.CreatedAt, &pr.UpdatedAt)
	if related != nil {
		pr.RelatedPONumber = *related
	}
	return pr, err
}

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(
		&po.ID, &po.Number, &po.Status, &po.Supplier, &po.Note,
		&po.Tax.VATEnabled, &po.Tax.VATRate, &po.Tax.PriceIncludesVAT, &po.Tax.WHTEnabled, &po.Tax.WHTRate, &po.Tax.ManualVATAdjustment,
		&po.Totals.ItemsTotal, &po.Totals.NetBeforeVAT, &po.Totals.VATAmount, &po.Totals.Subtotal, &po.Totals.WHTAmount, &po.Totals.TotalAmount,
		&po.EvidenceURLs, &po.CancelReason, &po.CreatedBy, &po.ReceivedAt, &po.CancelledAt, &po.CreatedAt, &po.UpdatedAt,
	)
	if po.EvidenceURLs == nil {
		po.EvidenceURLs = []string{}
	}
	return po, err
}

func refFromColumn(id *int64) LineRef {
	if id == nil {
		return ServiceLine()
	}
	return StockLine(*id)
}

func refColumn(ref LineRef) *int64 {
	if id, ok := ref.StockItemID(); ok {
		return &id
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func loadPRLines(ctx context.Context, q db.Querier, prID int64) ([]PRLine, error) {
	rows, err := q.Query(ctx, `SELECT id, pr_id, line_no, stock_item_id, name, quantity, unit_price
FROM purchase_requisition_lines WHERE pr_id = $1 ORDER BY line_no`, prID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []PRLine
	for rows.Next() {
		var (
			l      PRLine
			itemID *int64
		)
		if err := rows.Scan(&l.ID, &l.PRID, &l.LineNo, &itemID, &l.Name, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		l.Ref = refFromColumn(itemID)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// loadPODetail fills lines and linked PRs of po.
func loadPODetail(ctx context.Context, q db.Querier, po *PurchaseOrder) error {
	rows, err := q.Query(ctx, `SELECT id, po_id, line_no, source_pr_id, stock_item_id, name, quantity, unit_price, discount, line_total
FROM purchase_order_lines WHERE po_id = $1 ORDER BY line_no`, po.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var (
			l      POLine
			itemID *int64
		)
		if err := rows.Scan(&l.ID, &l.POID, &l.LineNo, &l.SourcePRID, &itemID, &l.Name, &l.Quantity, &l.UnitPrice, &l.Discount, &l.LineTotal); err != nil {
			rows.Close()
			return err
		}
		l.Ref = refFromColumn(itemID)
		po.Lines = append(po.Lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	links, err := q.Query(ctx, `SELECT l.pr_id, pr.number
FROM purchase_order_requisitions l
JOIN purchase_requisitions pr ON pr.id = l.pr_id
WHERE l.po_id = $1 ORDER BY l.position`, po.ID)
	if err != nil {
		return err
	}
	defer links.Close()
	for links.Next() {
		var (
			id     int64
			number string
		)
		if err := links.Scan(&id, &number); err != nil {
			return err
		}
		po.LinkedPRIDs = append(po.LinkedPRIDs, id)
		po.LinkedPRNumbers = append(po.LinkedPRNumbers, number)
	}
	return links.Err()
}

// GetPR returns purchase requisition and lines.
func (r *Repository) GetPR(ctx context.Context, id int64) (PurchaseRequisition, error) {
	q := r.tx.Querier(ctx)
	pr, err := scanPR(q.QueryRow(ctx, `SELECT `+prColumns+` FROM purchase_requisitions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRequisition{}, ErrPRNotFound
		}
		return PurchaseRequisition{}, err
	}
	pr.Lines, err = loadPRLines(ctx, q, pr.ID)
	return pr, err
}

func (r *Repository) getPO(ctx context.Context, where string, arg any) (PurchaseOrder, error) {
	q := r.tx.Querier(ctx)
	po, err := scanPO(q.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrPONotFound
		}
		return PurchaseOrder{}, err
	}
	if err := loadPODetail(ctx, q, &po); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// GetPO returns purchase order with lines and linked PRs.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return r.getPO(ctx, "id = $1", id)
}

// GetPOByNumber resolves a purchase order by document number.
func (r *Repository) GetPOByNumber(ctx context.Context, number string) (PurchaseOrder, error) {
	return r.getPO(ctx, "number = $1", number)
}

func listQuery(base, status, search string, limit, offset int) (string, []any) {
	var (
		where []string
		args  []any
	)
	if status != "" {
		args = append(args, status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if s := strings.TrimSpace(search); s != "" {
		args = append(args, "%"+s+"%")
		where = append(where, fmt.Sprintf("number ILIKE $%d", len(args)))
	}
	query := base
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return query, args
}

// ListPRs returns requisition headers, newest first.
func (r *Repository) ListPRs(ctx context.Context, filter PRFilter) ([]PurchaseRequisition, error) {
	query, args := listQuery(`SELECT `+prColumns+` FROM purchase_requisitions`, string(filter.Status), filter.Search, filter.Limit, filter.Offset)
	return r.queryPRs(ctx, query, args...)
}

// ListLinkedPRs returns every requisition that carries an order link.
func (r *Repository) ListLinkedPRs(ctx context.Context) ([]PurchaseRequisition, error) {
	return r.queryPRs(ctx, `SELECT `+prColumns+` FROM purchase_requisitions WHERE related_po_number IS NOT NULL ORDER BY id`)
}

func (r *Repository) queryPRs(ctx context.Context, query string, args ...any) ([]PurchaseRequisition, error) {
	rows, err := r.tx.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prs []PurchaseRequisition
	for rows.Next() {
		pr, err := scanPR(rows)
		if err != nil {
			return nil, err
		}
		prs = append(prs, pr)
	}
	return prs, rows.Err()
}

// ListPOs returns order headers, newest first.
func (r *Repository) ListPOs(ctx context.Context, filter POFilter) ([]PurchaseOrder, error) {
	query, args := listQuery(`SELECT `+poColumns+` FROM purchase_orders`, string(filter.Status), filter.Search, filter.Limit, filter.Offset)
	rows, err := r.tx.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pos []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, err
		}
		pos = append(pos, po)
	}
	return pos, rows.Err()
}

// POStatusesByNumber resolves order statuses; unknown numbers are absent.
func (r *Repository) POStatusesByNumber(ctx context.Context, numbers []string) (map[string]POStatus, error) {
	rows, err := r.tx.Querier(ctx).Query(ctx, `SELECT number, status FROM purchase_orders WHERE number = ANY($1)`, numbers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statuses := make(map[string]POStatus, len(numbers))
	for rows.Next() {
		var (
			number string
			status POStatus
		)
		if err := rows.Scan(&number, &status); err != nil {
			return nil, err
		}
		statuses[number] = status
	}
	return statuses, rows.Err()
}

// SeedSequence reports the highest PR or PO sequence already stored for year.
// It backs numbering allocators whose counters start empty.
func (r *Repository) SeedSequence(ctx context.Context, prefix string, year int) (int, error) {
	var table string
	switch prefix {
	case numbering.PrefixPR:
		table = "purchase_requisitions"
	case numbering.PrefixPO:
		table = "purchase_orders"
	default:
		return 0, nil
	}
	rows, err := r.tx.Querier(ctx).Query(ctx, `SELECT number FROM `+table+` WHERE number LIKE $1`, fmt.Sprintf("%s-%04d-%%", prefix, year))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var existing []string
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return 0, err
		}
		existing = append(existing, number)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return numbering.MaxSequence(prefix, year, existing), nil
}

func (r *txRepo) InsertPR(ctx context.Context, pr PurchaseRequisition) (PurchaseRequisition, error) {
	created, err := scanPR(r.q.QueryRow(ctx, `INSERT INTO purchase_requisitions (number, status, requester, note, total_amount, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
RETURNING `+prColumns, pr.Number, string(pr.Status), pr.Requester, pr.Note, pr.TotalAmount))
	if err != nil {
		return PurchaseRequisition{}, err
	}
	for _, line := range pr.Lines {
		line.PRID = created.ID
		err := r.q.QueryRow(ctx, `INSERT INTO purchase_requisition_lines (pr_id, line_no, stock_item_id, name, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`, line.PRID, line.LineNo, refColumn(line.Ref), line.Name, line.Quantity, line.UnitPrice).Scan(&line.ID)
		if err != nil {
			return PurchaseRequisition{}, err
		}
		created.Lines = append(created.Lines, line)
	}
	return created, nil
}

func (r *txRepo) LockPR(ctx context.Context, id int64) (PurchaseRequisition, error) {
	pr, err := scanPR(r.q.QueryRow(ctx, `SELECT `+prColumns+` FROM purchase_requisitions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRequisition{}, fmt.Errorf("pr %d: %w", id, ErrPRNotFound)
		}
		return PurchaseRequisition{}, err
	}
	pr.Lines, err = loadPRLines(ctx, r.q, pr.ID)
	return pr, err
}

func (r *txRepo) UpdatePRStatus(ctx context.Context, id int64, status PRStatus, poNumber string) error {
	tag, err := r.q.Exec(ctx, `UPDATE purchase_requisitions SET status = $2, related_po_number = $3, updated_at = NOW() WHERE id = $1`,
		id, string(status), nullString(poNumber))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pr %d: %w", id, ErrPRNotFound)
	}
	return nil
}

func (r *txRepo) InsertPO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	created, err := scanPO(r.q.QueryRow(ctx, `INSERT INTO purchase_orders (number, status, supplier, note,
vat_enabled, vat_rate, price_includes_vat, wht_enabled, wht_rate, manual_vat_adjustment,
items_total, net_before_vat, vat_amount, subtotal, wht_amount, total_amount,
evidence_urls, cancel_reason, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, '', $18, NOW(), NOW())
RETURNING `+poColumns,
		po.Number, string(po.Status), po.Supplier, po.Note,
		po.Tax.VATEnabled, po.Tax.VATRate, po.Tax.PriceIncludesVAT, po.Tax.WHTEnabled, po.Tax.WHTRate, po.Tax.ManualVATAdjustment,
		po.Totals.ItemsTotal, po.Totals.NetBeforeVAT, po.Totals.VATAmount, po.Totals.Subtotal, po.Totals.WHTAmount, po.Totals.TotalAmount,
		po.EvidenceURLs, po.CreatedBy))
	if err != nil {
		return PurchaseOrder{}, err
	}
	for _, line := range po.Lines {
		line.POID = created.ID
		err := r.q.QueryRow(ctx, `INSERT INTO purchase_order_lines (po_id, line_no, source_pr_id, stock_item_id, name, quantity, unit_price, discount, line_total)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`, line.POID, line.LineNo, line.SourcePRID, refColumn(line.Ref), line.Name, line.Quantity, line.UnitPrice, line.Discount, line.LineTotal).Scan(&line.ID)
		if err != nil {
			return PurchaseOrder{}, err
		}
		created.Lines = append(created.Lines, line)
	}
	for i, prID := range po.LinkedPRIDs {
		if _, err := r.q.Exec(ctx, `INSERT INTO purchase_order_requisitions (po_id, pr_id, position) VALUES ($1, $2, $3)`, created.ID, prID, i+1); err != nil {
			return PurchaseOrder{}, err
		}
	}
	created.LinkedPRIDs = po.LinkedPRIDs
	created.LinkedPRNumbers = po.LinkedPRNumbers
	return created, nil
}

func (r *txRepo) LockPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanPO(r.q.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, fmt.Errorf("po %d: %w", id, ErrPONotFound)
		}
		return PurchaseOrder{}, err
	}
	if err := loadPODetail(ctx, r.q, &po); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (r *txRepo) MarkPOReceived(ctx context.Context, id int64, evidenceURLs []string, at time.Time) error {
	_, err := r.q.Exec(ctx, `UPDATE purchase_orders SET status = $2, evidence_urls = $3, received_at = $4, updated_at = NOW() WHERE id = $1`,
		id, string(POStatusReceived), evidenceURLs, at)
	return err
}

func (r *txRepo) MarkPOCancelled(ctx context.Context, id int64, reason string, at time.Time) error {
	_, err := r.q.Exec(ctx, `UPDATE purchase_orders SET status = $2, cancel_reason = $3, cancelled_at = $4, updated_at = NOW() WHERE id = $1`,
		id, string(POStatusCancelled), reason, at)
	return err
}

func (r *txRepo) DetachPR(ctx context.Context, poID, prID int64, totals finance.Totals) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM purchase_order_lines WHERE po_id = $1 AND source_pr_id = $2`, poID, prID); err != nil {
		return err
	}
	if _, err := r.q.Exec(ctx, `DELETE FROM purchase_order_requisitions WHERE po_id = $1 AND pr_id = $2`, poID, prID); err != nil {
		return err
	}
	_, err := r.q.Exec(ctx, `UPDATE purchase_orders SET items_total = $2, net_before_vat = $3, vat_amount = $4, subtotal = $5,
wht_amount = $6, total_amount = $7, updated_at = NOW() WHERE id = $1`,
		poID, totals.ItemsTotal, totals.NetBeforeVAT, totals.VATAmount, totals.Subtotal, totals.WHTAmount, totals.TotalAmount)
	return err
}

func (r *txRepo) POStatusByNumber(ctx context.Context, number string) (POStatus, bool, error) {
	var status POStatus
	err := r.q.QueryRow(ctx, `SELECT status FROM purchase_orders WHERE number = $1`, number).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return status, true, nil
}
