package usedparts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetmaint/backoffice/internal/inventory"
	"github.com/fleetmaint/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBatch(ctx context.Context, id int64) (Batch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
}

// LedgerPort is the part of the stock ledger dispositions need.
type LedgerPort interface {
	GetItem(ctx context.Context, id int64) (inventory.StockItem, error)
	CreateItem(ctx context.Context, input inventory.CreateItemInput) (inventory.StockItem, error)
	PostTransaction(ctx context.Context, stockItemID int64, txType inventory.TransactionType, delta decimal.Decimal, meta inventory.Meta) (inventory.Transaction, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// DefaultBulkItemID receives bulk conversions that name no target item.
	DefaultBulkItemID int64
}

// Service applies dispositions to used-part batches.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	audit  AuditPort
	cfg    ServiceConfig
	now    func() time.Time
}

// NewService builds Service. audit may be nil.
func NewService(repo RepositoryPort, ledger LedgerPort, audit AuditPort, cfg ServiceConfig) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// DocumentNumber tags ledger postings originating from a batch.
func DocumentNumber(batchID int64) string {
	return fmt.Sprintf("UP-%d", batchID)
}

// CreateBatch registers a batch of removed parts.
func (s *Service) CreateBatch(ctx context.Context, input CreateBatchInput) (Batch, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Unit = strings.TrimSpace(input.Unit)
	if input.Name == "" || input.Unit == "" || !input.InitialQuantity.IsPositive() {
		return Batch{}, ErrInvalidBatch
	}
	var created Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertBatch(ctx, Batch{
			Name:                 input.Name,
			VehicleRef:           strings.TrimSpace(input.VehicleRef),
			InitialQuantity:      input.InitialQuantity,
			Unit:                 input.Unit,
			RevolvingStockItemID: input.RevolvingStockItemID,
			Notes:                input.Notes,
		})
		return err
	})
	if err != nil {
		return Batch{}, err
	}
	s.record(ctx, input.Actor, "usedparts:batch.create", created.ID, map[string]any{
		"initial_quantity": created.InitialQuantity.String(),
	})
	return created, nil
}

// GetBatch returns a batch with its dispositions.
func (s *Service) GetBatch(ctx context.Context, id int64) (Batch, error) {
	return s.repo.GetBatch(ctx, id)
}

// ListBatches lists batches, filtering on the derived status when requested.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	if filter.Status == "" {
		return s.repo.ListBatches(ctx, filter)
	}
	if !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
	}
	all, err := s.repo.ListBatches(ctx, BatchFilter{Search: filter.Search})
	if err != nil {
		return nil, err
	}
	matched := make([]Batch, 0, len(all))
	for _, b := range all {
		if b.Status() == filter.Status {
			matched = append(matched, b)
		}
	}
	if filter.Offset >= len(matched) {
		return []Batch{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// CountByStatus tallies batches per derived status.
func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	batches, err := s.repo.ListBatches(ctx, BatchFilter{})
	if err != nil {
		return nil, err
	}
	counts := map[Status]int{StatusPending: 0, StatusPartiallyResolved: 0, StatusFullyResolved: 0}
	for _, b := range batches {
		counts[b.Status()]++
	}
	return counts, nil
}

// ApplyDisposition resolves part of a batch. The batch row stays locked for
// the whole unit of work so concurrent dispositions cannot overshoot it.
func (s *Service) ApplyDisposition(ctx context.Context, batchID int64, input DispositionInput) (Outcome, error) {
	if !input.Type.Valid() {
		return Outcome{}, ErrInvalidDisposition
	}
	if !input.Quantity.IsPositive() {
		return Outcome{}, ErrInvalidQuantity
	}
	actor := input.Actor
	if strings.TrimSpace(actor) == "" {
		actor = shared.SystemActor
	}

	var out Outcome
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.LockBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if input.Quantity.GreaterThan(batch.Remaining()) {
			return fmt.Errorf("%w: requested %s, remaining %s", ErrOverDisposition, input.Quantity, batch.Remaining())
		}

		disposition := Disposition{
			BatchID:   batch.ID,
			Type:      input.Type,
			Quantity:  input.Quantity,
			Notes:     input.Notes,
			Actor:     actor,
			CreatedAt: s.now(),
		}

		switch input.Type {
		case DispositionConvertedToBulk:
			target := input.TargetItemID
			if target == 0 {
				target = s.cfg.DefaultBulkItemID
			}
			if target == 0 {
				return ErrBulkItemRequired
			}
			item, err := s.ledger.GetItem(ctx, target)
			if err != nil {
				return err
			}
			if !item.IsFungibleUsedItem {
				return fmt.Errorf("%w: %s is not a bulk used-part item", ErrBulkItemRequired, item.Code)
			}
			disposition.StockItemID = target
		case DispositionConvertedToRevolving:
			target := batch.RevolvingStockItemID
			if target == 0 {
				target = input.TargetItemID
			}
			if target != 0 {
				item, err := s.ledger.GetItem(ctx, target)
				if err != nil {
					return err
				}
				if !item.IsRevolvingPart {
					return fmt.Errorf("%w: %s is not a revolving part", ErrRevolvingItemRequired, item.Code)
				}
			} else {
				if input.NewRevolvingItem == nil {
					return ErrRevolvingItemRequired
				}
				item, err := s.ledger.CreateItem(ctx, inventory.CreateItemInput{
					Code:            input.NewRevolvingItem.Code,
					Name:            input.NewRevolvingItem.Name,
					Category:        input.NewRevolvingItem.Category,
					Unit:            firstNonEmpty(input.NewRevolvingItem.Unit, batch.Unit),
					OpeningQuantity: decimal.Zero,
					UnitPrice:       input.NewRevolvingItem.UnitPrice,
					IsRevolvingPart: true,
					Actor:           actor,
				})
				if err != nil {
					return fmt.Errorf("usedparts: create revolving item: %w", err)
				}
				out.CreatedItem = &item
				target = item.ID
			}
			if batch.RevolvingStockItemID == 0 {
				if err := tx.LinkRevolvingItem(ctx, batch.ID, target); err != nil {
					return err
				}
				batch.RevolvingStockItemID = target
			}
			disposition.StockItemID = target
		}

		if disposition.StockItemID != 0 {
			txn, err := s.ledger.PostTransaction(ctx, disposition.StockItemID, inventory.TransactionTypeReceipt, input.Quantity, inventory.Meta{
				DocumentNumber: DocumentNumber(batch.ID),
				Actor:          actor,
				Note:           fmt.Sprintf("%s from %s", input.Type, batch.Name),
			})
			if err != nil {
				return err
			}
			disposition.TransactionID = txn.ID
			out.Transaction = &txn
		}

		if disposition, err = tx.InsertDisposition(ctx, disposition); err != nil {
			return err
		}
		batch.Dispositions = append(batch.Dispositions, disposition)
		out.Batch = batch
		out.Disposition = disposition
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	s.record(ctx, actor, "usedparts:disposition", batchID, map[string]any{
		"type":     string(input.Type),
		"quantity": input.Quantity.String(),
		"status":   string(out.Batch.Status()),
	})
	return out, nil
}

func (s *Service) record(ctx context.Context, actor, action string, batchID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if strings.TrimSpace(actor) == "" {
		actor = shared.SystemActor
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "used_part_batch",
		EntityID: fmt.Sprintf("%d", batchID),
		Meta:     meta,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
