package inventory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fleetmaint/backoffice/internal/platform/db"
	"github.com/fleetmaint/backoffice/internal/shared"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (StockItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]StockItem, error)
	ListTransactions(ctx context.Context, stockItemID int64, limit int) ([]Transaction, error)
	BalanceSnapshot(ctx context.Context) ([]ItemBalance, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts ledger postings.
type MetricsPort interface {
	StockTransactionPosted(txType string)
}

// Service owns stock quantities and the transaction ledger. No other package
// writes stock_items.quantity or stock_transactions.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
	now     func() time.Time
}

// NewService builds Service. audit and metrics may be nil.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics, now: func() time.Time { return time.Now().UTC() }}
}

// CreateItem adds a catalog entry with its opening quantity.
func (s *Service) CreateItem(ctx context.Context, input CreateItemInput) (StockItem, error) {
	input.Code = strings.TrimSpace(input.Code)
	input.Name = strings.TrimSpace(input.Name)
	input.Unit = strings.TrimSpace(input.Unit)
	if input.Code == "" || input.Name == "" || input.Unit == "" {
		return StockItem{}, ErrInvalidItem
	}
	if input.OpeningQuantity.IsNegative() || input.MinStock.IsNegative() || input.UnitPrice.IsNegative() {
		return StockItem{}, fmt.Errorf("%w: opening quantity, min stock and unit price must be >= 0", ErrInvalidItem)
	}

	var created StockItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertItem(ctx, StockItem{
			Code:               input.Code,
			Name:               input.Name,
			Category:           strings.TrimSpace(input.Category),
			Unit:               input.Unit,
			OpeningQuantity:    input.OpeningQuantity,
			Quantity:           input.OpeningQuantity,
			MinStock:           input.MinStock,
			MaxStock:           input.MaxStock,
			UnitPrice:          input.UnitPrice,
			IsRevolvingPart:    input.IsRevolvingPart,
			IsFungibleUsedItem: input.IsFungibleUsedItem,
		})
		return err
	})
	if err != nil {
		return StockItem{}, err
	}
	s.record(ctx, input.Actor, "inventory:item.create", "stock_item", created.ID, map[string]any{
		"code":             created.Code,
		"opening_quantity": created.OpeningQuantity.String(),
	})
	return created, nil
}

// GetItem returns a stock item.
func (s *Service) GetItem(ctx context.Context, id int64) (StockItem, error) {
	return s.repo.GetItem(ctx, id)
}

// ListItems lists catalog entries. A status filter is evaluated against the
// status derived from current quantities, never a stored value.
func (s *Service) ListItems(ctx context.Context, filter ItemFilter) ([]StockItem, error) {
	if filter.Status == "" {
		return s.repo.ListItems(ctx, filter)
	}
	if !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
	}
	all, err := s.repo.ListItems(ctx, ItemFilter{Search: filter.Search, Category: filter.Category})
	if err != nil {
		return nil, err
	}
	matched := make([]StockItem, 0, len(all))
	for _, item := range all {
		if item.Status() == filter.Status {
			matched = append(matched, item)
		}
	}
	return window(matched, filter.Limit, filter.Offset), nil
}

func window(items []StockItem, limit, offset int) []StockItem {
	if offset >= len(items) {
		return []StockItem{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// CheckWithdrawal reports whether qty units can be withdrawn from item without
// driving it negative. The ledger itself does not enforce this.
func CheckWithdrawal(item StockItem, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return ErrInvalidQuantity
	}
	if qty.GreaterThan(item.Quantity) {
		return fmt.Errorf("%w: requested %s, on hand %s", ErrInsufficientStock, qty, item.Quantity)
	}
	return nil
}

// PostTransaction appends one transaction and moves the item's quantity by
// delta in the same unit of work.
func (s *Service) PostTransaction(ctx context.Context, stockItemID int64, txType TransactionType, delta decimal.Decimal, meta Meta) (Transaction, error) {
	if !txType.Valid() {
		return Transaction{}, ErrInvalidType
	}
	if delta.IsZero() {
		return Transaction{}, ErrInvalidQuantity
	}
	if txType.Outflow() && delta.IsPositive() {
		return Transaction{}, ErrInvalidDelta
	}

	var posted Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		items, err := tx.LockItems(ctx, []int64{stockItemID})
		if err != nil {
			return err
		}
		item, ok := items[stockItemID]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownItem, stockItemID)
		}
		unitPrice := item.UnitPrice
		if meta.UnitPrice.Valid {
			unitPrice = meta.UnitPrice.Decimal
		}
		refID := meta.RefID
		if refID == uuid.Nil {
			refID = uuid.New()
		}
		posted, err = tx.InsertTransaction(ctx, Transaction{
			StockItemID:    stockItemID,
			Type:           txType,
			Delta:          delta,
			UnitPrice:      unitPrice,
			DocumentNumber: meta.DocumentNumber,
			Actor:          actorOrSystem(meta.Actor),
			RefID:          refID,
			Note:           meta.Note,
			PostedAt:       s.now(),
		})
		if err != nil {
			return err
		}
		_, err = tx.AddQuantity(ctx, stockItemID, delta)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	s.observe(ctx, posted.Type)
	s.record(ctx, posted.Actor, fmt.Sprintf("inventory:%s", posted.Type), "stock_transaction", posted.ID, map[string]any{
		"stock_item_id":   stockItemID,
		"delta":           delta.String(),
		"document_number": meta.DocumentNumber,
	})
	return posted, nil
}

// ReceiptRefID derives the stable reference of a received order line so a
// line can never be booked twice.
func ReceiptRefID(documentNumber string, lineNo int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("receipt:%s:%d", documentNumber, lineNo)))
}

// ReceiveFromOrder posts one RECEIPT per stock line of a received order.
// Non-stock lines are skipped. Every referenced item is resolved and locked
// before any write; an unknown item aborts the whole receipt.
func (s *Service) ReceiveFromOrder(ctx context.Context, receipt OrderReceipt) ([]Transaction, error) {
	if strings.TrimSpace(receipt.DocumentNumber) == "" {
		return nil, ErrMissingDocument
	}
	totals := make(map[int64]decimal.Decimal)
	for _, line := range receipt.Lines {
		if line.StockItemID == 0 {
			continue
		}
		if !line.Quantity.IsPositive() {
			return nil, fmt.Errorf("line %d: %w", line.LineNo, ErrInvalidQuantity)
		}
		totals[line.StockItemID] = totals[line.StockItemID].Add(line.Quantity)
	}
	if len(totals) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	actor := actorOrSystem(receipt.Actor)
	var posted []Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		items, err := tx.LockItems(ctx, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, ok := items[id]; !ok {
				return fmt.Errorf("%w: %d", ErrUnknownItem, id)
			}
		}
		now := s.now()
		posted = make([]Transaction, 0, len(receipt.Lines))
		for _, line := range receipt.Lines {
			if line.StockItemID == 0 {
				continue
			}
			txn, err := tx.InsertTransaction(ctx, Transaction{
				StockItemID:    line.StockItemID,
				Type:           TransactionTypeReceipt,
				Delta:          line.Quantity,
				UnitPrice:      line.UnitPrice,
				DocumentNumber: receipt.DocumentNumber,
				Actor:          actor,
				RefID:          ReceiptRefID(receipt.DocumentNumber, line.LineNo),
				PostedAt:       now,
			})
			if err != nil {
				return fmt.Errorf("line %d: %w", line.LineNo, err)
			}
			posted = append(posted, txn)
		}
		for _, id := range ids {
			if _, err := tx.AddQuantity(ctx, id, totals[id]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, txn := range posted {
		s.observe(ctx, txn.Type)
	}
	s.record(ctx, actor, "inventory:receive", "document", 0, map[string]any{
		"document_number": receipt.DocumentNumber,
		"transactions":    len(posted),
	})
	return posted, nil
}

// History lists an item's transactions, newest first.
func (s *Service) History(ctx context.Context, stockItemID int64, limit int) ([]Transaction, error) {
	if _, err := s.repo.GetItem(ctx, stockItemID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.repo.ListTransactions(ctx, stockItemID, limit)
}

// VerifyBalance reports items whose quantity differs from opening quantity
// plus the sum of their transaction deltas.
func (s *Service) VerifyBalance(ctx context.Context) ([]Drift, error) {
	balances, err := s.repo.BalanceSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	var drifts []Drift
	for _, b := range balances {
		expected := b.OpeningQuantity.Add(b.DeltaSum)
		if !expected.Equal(b.Quantity) {
			drifts = append(drifts, Drift{StockItemID: b.StockItemID, Code: b.Code, Quantity: b.Quantity, Expected: expected})
		}
	}
	return drifts, nil
}

// observe counts a posting once the outermost unit of work commits, so a
// posting joined into a transition that later rolls back is never counted.
func (s *Service) observe(ctx context.Context, txType TransactionType) {
	if s.metrics == nil {
		return
	}
	db.AfterCommit(ctx, func() {
		s.metrics.StockTransactionPosted(string(txType))
	})
}

func (s *Service) record(ctx context.Context, actor, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entityID := fmt.Sprintf("%d", id)
	if id == 0 {
		if doc, ok := meta["document_number"].(string); ok && doc != "" {
			entityID = doc
		}
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actorOrSystem(actor),
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	})
}

func actorOrSystem(actor string) string {
	if actor = strings.TrimSpace(actor); actor != "" {
		return actor
	}
	return shared.SystemActor
}
