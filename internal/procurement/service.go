package procurement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetmaint/backoffice/internal/finance"
	"github.com/fleetmaint/backoffice/internal/inventory"
	"github.com/fleetmaint/backoffice/internal/notify"
	"github.com/fleetmaint/backoffice/internal/numbering"
	"github.com/fleetmaint/backoffice/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPR(ctx context.Context, id int64) (PurchaseRequisition, error)
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	GetPOByNumber(ctx context.Context, number string) (PurchaseOrder, error)
	ListPRs(ctx context.Context, filter PRFilter) ([]PurchaseRequisition, error)
	ListPOs(ctx context.Context, filter POFilter) ([]PurchaseOrder, error)
	ListLinkedPRs(ctx context.Context) ([]PurchaseRequisition, error)
	POStatusesByNumber(ctx context.Context, numbers []string) (map[string]POStatus, error)
}

// InventoryPort exposes the ledger posting a receipt needs.
type InventoryPort interface {
	ReceiveFromOrder(ctx context.Context, receipt inventory.OrderReceipt) ([]inventory.Transaction, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards repeated order creation.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsPort counts state transitions.
type MetricsPort interface {
	ProcurementTransition(entity, transition string)
}

// ServiceDeps groups collaborators. Audit, Idempotency, Notifier, Metrics and
// Logger are optional.
type ServiceDeps struct {
	Repo        RepositoryPort
	Inventory   InventoryPort
	Numbers     numbering.Allocator
	Audit       AuditPort
	Idempotency IdempotencyPort
	Notifier    Notifier
	Metrics     MetricsPort
	Logger      *slog.Logger
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// DefaultTax applies to orders that do not carry their own tax settings.
	DefaultTax finance.TaxConfig
}

// Service orchestrates the PR → PO → receipt state machine.
type Service struct {
	repo        RepositoryPort
	inventory   InventoryPort
	numbers     numbering.Allocator
	audit       AuditPort
	idempotency IdempotencyPort
	notifier    Notifier
	metrics     MetricsPort
	logger      *slog.Logger
	cfg         ServiceConfig
	now         func() time.Time
}

// NewService constructs procurement service.
func NewService(deps ServiceDeps, cfg ServiceConfig) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		repo:        deps.Repo,
		inventory:   deps.Inventory,
		numbers:     deps.Numbers,
		audit:       deps.Audit,
		idempotency: deps.Idempotency,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreatePR validates and stores a DRAFT requisition with a fresh number.
func (s *Service) CreatePR(ctx context.Context, input CreatePRInput) (PurchaseRequisition, error) {
	if len(input.Lines) == 0 {
		return PurchaseRequisition{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	pr := PurchaseRequisition{
		Status:    PRStatusDraft,
		Requester: strings.TrimSpace(input.Requester),
		Note:      input.Note,
	}
	if pr.Requester == "" {
		pr.Requester = shared.SystemActor
	}
	prices := make([]finance.Line, 0, len(input.Lines))
	for i, line := range input.Lines {
		name := strings.TrimSpace(line.Name)
		if name == "" {
			return PurchaseRequisition{}, fmt.Errorf("line %d: %w: name required", i+1, ErrValidation)
		}
		if !line.Quantity.IsPositive() {
			return PurchaseRequisition{}, fmt.Errorf("line %d: %w: quantity must be greater than zero", i+1, ErrValidation)
		}
		if line.UnitPrice.IsNegative() {
			return PurchaseRequisition{}, fmt.Errorf("line %d: %w: unit price must be >= 0", i+1, ErrValidation)
		}
		pr.Lines = append(pr.Lines, PRLine{LineNo: i + 1, Ref: line.Ref, Name: name, Quantity: line.Quantity, UnitPrice: line.UnitPrice})
		prices = append(prices, finance.Line{Quantity: line.Quantity, UnitPrice: line.UnitPrice})
	}
	pr.TotalAmount = finance.ItemsTotal(prices)

	var created PurchaseRequisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := s.numbers.Next(ctx, numbering.PrefixPR, s.now().Year())
		if err != nil {
			return err
		}
		pr.Number = number
		created, err = tx.InsertPR(ctx, pr)
		return err
	})
	if err != nil {
		return PurchaseRequisition{}, err
	}
	s.observe("pr", "create")
	s.recordAudit(ctx, pr.Requester, "PR_CREATE", "purchase_requisition", created.ID, map[string]any{
		"number": created.Number,
		"total":  created.TotalAmount.StringFixed(2),
	})
	return created, nil
}

// SubmitPR moves a DRAFT requisition to PENDING_APPROVAL.
func (s *Service) SubmitPR(ctx context.Context, prID int64, actor string) (PurchaseRequisition, error) {
	return s.transitionPR(ctx, prID, actor, "submit", PRStatusPendingApproval, PRStatusDraft)
}

// ApprovePR moves a PENDING_APPROVAL requisition to APPROVED.
func (s *Service) ApprovePR(ctx context.Context, prID int64, actor string) (PurchaseRequisition, error) {
	return s.transitionPR(ctx, prID, actor, "approve", PRStatusApproved, PRStatusPendingApproval)
}

// CancelPR cancels a requisition in any non-terminal state. An ORDERED
// requisition is detached from its order first: the order is re-priced
// without its lines, or cancelled when no other requisition remains on it.
func (s *Service) CancelPR(ctx context.Context, prID int64, actor string) (PurchaseRequisition, error) {
	pr, err := s.repo.GetPR(ctx, prID)
	if err != nil {
		return PurchaseRequisition{}, err
	}
	if pr.Status == PRStatusOrdered {
		return s.cancelOrderedPR(ctx, prID, pr.RelatedPONumber, actor)
	}
	return s.transitionPR(ctx, prID, actor, "cancel", PRStatusCancelled, PRStatusDraft, PRStatusPendingApproval, PRStatusApproved)
}

func (s *Service) cancelOrderedPR(ctx context.Context, prID int64, poNumber, actor string) (PurchaseRequisition, error) {
	if strings.TrimSpace(actor) == "" {
		actor = shared.SystemActor
	}
	var (
		cancelled      PurchaseRequisition
		order          PurchaseOrder
		orderCancelled bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Order before requisition, the same lock order CancelPO takes.
		po, err := s.repo.GetPOByNumber(ctx, poNumber)
		switch {
		case errors.Is(err, ErrPONotFound):
			po = PurchaseOrder{}
		case err != nil:
			return err
		default:
			if po, err = tx.LockPO(ctx, po.ID); err != nil {
				return err
			}
		}
		pr, err := tx.LockPR(ctx, prID)
		if err != nil {
			return err
		}
		if pr.Status != PRStatusOrdered || pr.RelatedPONumber != poNumber {
			return fmt.Errorf("pr %s is %s: %w", pr.Number, pr.Status, ErrInvalidState)
		}
		if po.Status == POStatusReceived {
			return fmt.Errorf("po %s is %s: %w", po.Number, po.Status, ErrInvalidState)
		}
		if po.ID != 0 && po.Status.Open() {
			if remaining := detachLines(po, pr.ID); len(remaining.LinkedPRIDs) == 0 {
				at := s.now()
				reason := fmt.Sprintf("requisition %s cancelled", pr.Number)
				if err := tx.MarkPOCancelled(ctx, po.ID, reason, at); err != nil {
					return err
				}
				po.Status = POStatusCancelled
				po.CancelReason = reason
				po.CancelledAt = &at
				orderCancelled = true
			} else {
				if err := tx.DetachPR(ctx, po.ID, pr.ID, remaining.Totals); err != nil {
					return err
				}
				po = remaining
			}
			order = po
		}
		if err := tx.UpdatePRStatus(ctx, pr.ID, PRStatusCancelled, ""); err != nil {
			return err
		}
		pr.Status = PRStatusCancelled
		pr.RelatedPONumber = ""
		cancelled = pr
		return nil
	})
	if err != nil {
		return PurchaseRequisition{}, err
	}
	s.observe("pr", "cancel")
	s.recordAudit(ctx, actor, "PR_CANCEL", "purchase_requisition", prID, map[string]any{
		"number":    cancelled.Number,
		"status":    string(cancelled.Status),
		"po_number": poNumber,
	})
	switch {
	case orderCancelled:
		s.observe("po", "cancel")
		s.recordAudit(ctx, actor, "PO_CANCEL", "purchase_order", order.ID, map[string]any{
			"number": order.Number,
			"reason": order.CancelReason,
		})
		s.publish(ctx, orderEvent(notify.EventPOCancelled, order, actor))
	case order.ID != 0:
		s.observe("po", "reprice")
		s.recordAudit(ctx, actor, "PO_REPRICE", "purchase_order", order.ID, map[string]any{
			"number":     order.Number,
			"removed_pr": cancelled.Number,
			"total":      order.Totals.TotalAmount.StringFixed(2),
		})
	}
	return cancelled, nil
}

// detachLines returns po without the lines and link of prID, re-priced with
// the order's own tax settings.
func detachLines(po PurchaseOrder, prID int64) PurchaseOrder {
	out := po
	out.Lines = nil
	out.LinkedPRIDs = nil
	out.LinkedPRNumbers = nil
	var prices []finance.Line
	for _, line := range po.Lines {
		if line.SourcePRID == prID {
			continue
		}
		out.Lines = append(out.Lines, line)
		prices = append(prices, line.financeLine())
	}
	for i, id := range po.LinkedPRIDs {
		if id == prID {
			continue
		}
		out.LinkedPRIDs = append(out.LinkedPRIDs, id)
		if i < len(po.LinkedPRNumbers) {
			out.LinkedPRNumbers = append(out.LinkedPRNumbers, po.LinkedPRNumbers[i])
		}
	}
	out.Totals = finance.Compute(prices, po.Tax)
	return out
}

func (s *Service) transitionPR(ctx context.Context, prID int64, actor, transition string, to PRStatus, from ...PRStatus) (PurchaseRequisition, error) {
	var updated PurchaseRequisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.LockPR(ctx, prID)
		if err != nil {
			return err
		}
		if !slices.Contains(from, pr.Status) {
			return fmt.Errorf("pr %s is %s: %w", pr.Number, pr.Status, ErrInvalidState)
		}
		if err := tx.UpdatePRStatus(ctx, prID, to, pr.RelatedPONumber); err != nil {
			return err
		}
		pr.Status = to
		updated = pr
		return nil
	})
	if err != nil {
		return PurchaseRequisition{}, err
	}
	s.observe("pr", transition)
	s.recordAudit(ctx, actor, "PR_"+strings.ToUpper(transition), "purchase_requisition", prID, map[string]any{
		"number": updated.Number,
		"status": string(updated.Status),
	})
	return updated, nil
}

func (s *Service) taxConfig(input *finance.TaxConfig) (finance.TaxConfig, error) {
	cfg := s.cfg.DefaultTax
	if input != nil {
		cfg = *input
	}
	if err := cfg.Validate(); err != nil {
		return finance.TaxConfig{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return cfg, nil
}

func checkSelection(ids []int64) error {
	if len(ids) == 0 {
		return ErrNoPRsSelected
	}
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicatePR, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func checkOrderable(pr PurchaseRequisition) error {
	if pr.Linked() {
		return fmt.Errorf("pr %s -> %s: %w", pr.Number, pr.RelatedPONumber, ErrAlreadyLinked)
	}
	if pr.Status != PRStatusApproved {
		return fmt.Errorf("pr %s is %s: %w", pr.Number, pr.Status, ErrInvalidState)
	}
	return nil
}

// buildOrder aggregates PR lines in selection order and prices them.
func buildOrder(prs []PurchaseRequisition, input CreatePOInput, tax finance.TaxConfig) (PurchaseOrder, error) {
	po := PurchaseOrder{
		Status:       POStatusOrdered,
		Supplier:     strings.TrimSpace(input.Supplier),
		Note:         input.Note,
		Tax:          tax,
		CreatedBy:    input.Actor,
		EvidenceURLs: []string{},
	}
	used := make(map[int64]struct{}, len(input.Discounts))
	var prices []finance.Line
	for _, pr := range prs {
		po.LinkedPRIDs = append(po.LinkedPRIDs, pr.ID)
		po.LinkedPRNumbers = append(po.LinkedPRNumbers, pr.Number)
		for _, l := range pr.Lines {
			discount := decimal.Zero
			if d, ok := input.Discounts[l.ID]; ok {
				if d.IsNegative() {
					return PurchaseOrder{}, fmt.Errorf("pr line %d: %w: discount must be >= 0", l.ID, ErrValidation)
				}
				discount = d
				used[l.ID] = struct{}{}
			}
			line := POLine{
				LineNo:     len(po.Lines) + 1,
				SourcePRID: pr.ID,
				Ref:        l.Ref,
				Name:       l.Name,
				Quantity:   l.Quantity,
				UnitPrice:  l.UnitPrice,
				Discount:   discount,
			}
			line.LineTotal = finance.LineTotal(line.financeLine())
			po.Lines = append(po.Lines, line)
			prices = append(prices, line.financeLine())
		}
	}
	for id := range input.Discounts {
		if _, ok := used[id]; !ok {
			return PurchaseOrder{}, fmt.Errorf("%w: discount for line %d outside the selected requisitions", ErrValidation, id)
		}
	}
	po.Totals = finance.Compute(prices, tax)
	return po, nil
}

// PreviewPO prices a prospective order without persisting or locking anything.
func (s *Service) PreviewPO(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if err := checkSelection(input.PRIDs); err != nil {
		return PurchaseOrder{}, err
	}
	tax, err := s.taxConfig(input.Tax)
	if err != nil {
		return PurchaseOrder{}, err
	}
	prs := make([]PurchaseRequisition, 0, len(input.PRIDs))
	for _, id := range input.PRIDs {
		pr, err := s.repo.GetPR(ctx, id)
		if err != nil {
			return PurchaseOrder{}, err
		}
		if err := checkOrderable(pr); err != nil {
			return PurchaseOrder{}, err
		}
		prs = append(prs, pr)
	}
	return buildOrder(prs, input, tax)
}

// CreatePOFromPRs aggregates approved, unlinked PRs into one ORDERED purchase
// order and links every source PR to it, all in one unit of work.
func (s *Service) CreatePOFromPRs(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if err := checkSelection(input.PRIDs); err != nil {
		return PurchaseOrder{}, err
	}
	tax, err := s.taxConfig(input.Tax)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if strings.TrimSpace(input.Actor) == "" {
		input.Actor = shared.SystemActor
	}

	key := strings.TrimSpace(input.IdempotencyKey)
	insertedKey := false
	if key != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, "po:"+key, "procurement.po"); err != nil {
			return PurchaseOrder{}, err
		}
		insertedKey = true
	}

	var created PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lockOrder := slices.Clone(input.PRIDs)
		slices.Sort(lockOrder)
		locked := make(map[int64]PurchaseRequisition, len(lockOrder))
		for _, id := range lockOrder {
			pr, err := tx.LockPR(ctx, id)
			if err != nil {
				return err
			}
			if err := checkOrderable(pr); err != nil {
				return err
			}
			locked[id] = pr
		}
		prs := make([]PurchaseRequisition, 0, len(input.PRIDs))
		for _, id := range input.PRIDs {
			prs = append(prs, locked[id])
		}

		po, err := buildOrder(prs, input, tax)
		if err != nil {
			return err
		}
		if po.Number, err = s.numbers.Next(ctx, numbering.PrefixPO, s.now().Year()); err != nil {
			return err
		}
		if created, err = tx.InsertPO(ctx, po); err != nil {
			return err
		}
		for _, pr := range prs {
			if err := tx.UpdatePRStatus(ctx, pr.ID, PRStatusOrdered, created.Number); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, "po:"+key)
		}
		return PurchaseOrder{}, err
	}
	s.observe("po", "create")
	s.recordAudit(ctx, input.Actor, "PO_CREATE", "purchase_order", created.ID, map[string]any{
		"number":   created.Number,
		"from_prs": created.LinkedPRNumbers,
		"total":    created.Totals.TotalAmount.StringFixed(2),
	})
	s.publish(ctx, orderEvent(notify.EventPOCreated, created, input.Actor))
	return created, nil
}

func cleanURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// ReceivePO books an open order into the stock ledger, stores its proof of
// delivery and marks the order and its PRs RECEIVED.
func (s *Service) ReceivePO(ctx context.Context, input ReceivePOInput) (PurchaseOrder, error) {
	evidence := cleanURLs(input.EvidenceURLs)
	if len(evidence) == 0 {
		return PurchaseOrder{}, ErrEvidenceRequired
	}
	if strings.TrimSpace(input.Actor) == "" {
		input.Actor = shared.SystemActor
	}

	var received PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, input.POID)
		if err != nil {
			return err
		}
		if !po.Status.Open() {
			return fmt.Errorf("po %s is %s: %w", po.Number, po.Status, ErrInvalidState)
		}
		receipt := inventory.OrderReceipt{DocumentNumber: po.Number, Actor: input.Actor}
		for _, line := range po.Lines {
			itemID, _ := line.Ref.StockItemID()
			receipt.Lines = append(receipt.Lines, inventory.ReceiptLine{
				LineNo:      line.LineNo,
				StockItemID: itemID,
				Quantity:    line.Quantity,
				UnitPrice:   line.UnitPrice,
			})
		}
		if _, err := s.inventory.ReceiveFromOrder(ctx, receipt); err != nil {
			return err
		}
		at := s.now()
		if err := tx.MarkPOReceived(ctx, po.ID, evidence, at); err != nil {
			return err
		}
		for _, prID := range po.LinkedPRIDs {
			if err := tx.UpdatePRStatus(ctx, prID, PRStatusReceived, po.Number); err != nil {
				return err
			}
		}
		po.Status = POStatusReceived
		po.EvidenceURLs = evidence
		po.ReceivedAt = &at
		received = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.observe("po", "receive")
	s.recordAudit(ctx, input.Actor, "PO_RECEIVE", "purchase_order", received.ID, map[string]any{
		"number":   received.Number,
		"evidence": len(evidence),
	})
	s.publish(ctx, orderEvent(notify.EventPOReceived, received, input.Actor))
	return received, nil
}

// CancelPO cancels an open order and returns its PRs to APPROVED with their
// link cleared. Nothing has been posted to the ledger for an open order.
func (s *Service) CancelPO(ctx context.Context, poID int64, actor, reason string) (PurchaseOrder, error) {
	if strings.TrimSpace(actor) == "" {
		actor = shared.SystemActor
	}
	var cancelled PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if !po.Status.Open() {
			return fmt.Errorf("po %s is %s: %w", po.Number, po.Status, ErrInvalidState)
		}
		at := s.now()
		if err := tx.MarkPOCancelled(ctx, po.ID, reason, at); err != nil {
			return err
		}
		for _, prID := range po.LinkedPRIDs {
			pr, err := tx.LockPR(ctx, prID)
			if err != nil {
				return err
			}
			if pr.RelatedPONumber != po.Number {
				continue
			}
			if err := tx.UpdatePRStatus(ctx, prID, PRStatusApproved, ""); err != nil {
				return err
			}
		}
		po.Status = POStatusCancelled
		po.CancelReason = reason
		po.CancelledAt = &at
		cancelled = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.observe("po", "cancel")
	s.recordAudit(ctx, actor, "PO_CANCEL", "purchase_order", cancelled.ID, map[string]any{
		"number": cancelled.Number,
		"reason": reason,
	})
	s.publish(ctx, orderEvent(notify.EventPOCancelled, cancelled, actor))
	return cancelled, nil
}

// ListOrphanedPRs finds PRs whose RelatedPONumber resolves to no order or to
// a cancelled one.
func (s *Service) ListOrphanedPRs(ctx context.Context) ([]OrphanedPR, error) {
	linked, err := s.repo.ListLinkedPRs(ctx)
	if err != nil {
		return nil, err
	}
	if len(linked) == 0 {
		return nil, nil
	}
	numbers := make([]string, 0, len(linked))
	for _, pr := range linked {
		numbers = append(numbers, pr.RelatedPONumber)
	}
	statuses, err := s.repo.POStatusesByNumber(ctx, numbers)
	if err != nil {
		return nil, err
	}
	var orphans []OrphanedPR
	for _, pr := range linked {
		status, ok := statuses[pr.RelatedPONumber]
		switch {
		case !ok:
			orphans = append(orphans, OrphanedPR{PR: pr, Reason: OrphanMissingOrder})
		case status == POStatusCancelled:
			orphans = append(orphans, OrphanedPR{PR: pr, Reason: OrphanCancelledOrder})
		}
	}
	return orphans, nil
}

// RepairOrphanPR returns an orphaned ORDERED requisition to APPROVED and
// clears its link so it can be ordered again.
func (s *Service) RepairOrphanPR(ctx context.Context, prID int64, actor string) (PurchaseRequisition, error) {
	var repaired PurchaseRequisition
	var previous string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.LockPR(ctx, prID)
		if err != nil {
			return err
		}
		if !pr.Linked() {
			return fmt.Errorf("pr %s: %w", pr.Number, ErrNotOrphaned)
		}
		status, found, err := tx.POStatusByNumber(ctx, pr.RelatedPONumber)
		if err != nil {
			return err
		}
		if found && status != POStatusCancelled {
			return fmt.Errorf("pr %s -> %s (%s): %w", pr.Number, pr.RelatedPONumber, status, ErrNotOrphaned)
		}
		if pr.Status != PRStatusOrdered {
			return fmt.Errorf("pr %s is %s: %w", pr.Number, pr.Status, ErrInvalidState)
		}
		if err := tx.UpdatePRStatus(ctx, prID, PRStatusApproved, ""); err != nil {
			return err
		}
		previous = pr.RelatedPONumber
		pr.Status = PRStatusApproved
		pr.RelatedPONumber = ""
		repaired = pr
		return nil
	})
	if err != nil {
		return PurchaseRequisition{}, err
	}
	s.observe("pr", "repair")
	s.recordAudit(ctx, actor, "PR_REPAIR", "purchase_requisition", prID, map[string]any{
		"number":         repaired.Number,
		"previous_po_no": previous,
	})
	return repaired, nil
}

// GetPR returns a requisition with its lines.
func (s *Service) GetPR(ctx context.Context, id int64) (PurchaseRequisition, error) {
	return s.repo.GetPR(ctx, id)
}

// GetPO returns an order with its lines.
func (s *Service) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

// GetPOByNumber resolves an order by its document number.
func (s *Service) GetPOByNumber(ctx context.Context, number string) (PurchaseOrder, error) {
	return s.repo.GetPOByNumber(ctx, strings.TrimSpace(number))
}

// ListPRs lists requisitions.
func (s *Service) ListPRs(ctx context.Context, filter PRFilter) ([]PurchaseRequisition, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	return s.repo.ListPRs(ctx, filter)
}

// ListPOs lists orders.
func (s *Service) ListPOs(ctx context.Context, filter POFilter) ([]PurchaseOrder, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	return s.repo.ListPOs(ctx, filter)
}

func (s *Service) observe(entity, transition string) {
	if s.metrics != nil {
		s.metrics.ProcurementTransition(entity, transition)
	}
}

func (s *Service) recordAudit(ctx context.Context, actor, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if strings.TrimSpace(actor) == "" {
		actor = shared.SystemActor
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: entity, EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
