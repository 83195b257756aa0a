package procurement

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetmaint/backoffice/internal/finance"
)

// PRStatus is the purchase requisition lifecycle status.
type PRStatus string

const (
	PRStatusDraft           PRStatus = "DRAFT"
	PRStatusPendingApproval PRStatus = "PENDING_APPROVAL"
	PRStatusApproved        PRStatus = "APPROVED"
	PRStatusOrdered         PRStatus = "ORDERED"
	PRStatusReceived        PRStatus = "RECEIVED"
	PRStatusCancelled       PRStatus = "CANCELLED"
)

// Valid reports whether s is a known PR status.
func (s PRStatus) Valid() bool {
	switch s {
	case PRStatusDraft, PRStatusPendingApproval, PRStatusApproved, PRStatusOrdered, PRStatusReceived, PRStatusCancelled:
		return true
	}
	return false
}

// POStatus is the purchase order lifecycle status.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusOrdered   POStatus = "ORDERED"
	POStatusReceived  POStatus = "RECEIVED"
	POStatusCancelled POStatus = "CANCELLED"
)

// Valid reports whether s is a known PO status.
func (s POStatus) Valid() bool {
	switch s {
	case POStatusDraft, POStatusOrdered, POStatusReceived, POStatusCancelled:
		return true
	}
	return false
}

// Open reports whether the PO can still be received or cancelled.
func (s POStatus) Open() bool {
	return s == POStatusDraft || s == POStatusOrdered
}

// LineKind distinguishes stock lines from service lines.
type LineKind string

const (
	LineKindStock   LineKind = "STOCK"
	LineKindService LineKind = "SERVICE"
)

// LineRef says what a requisition or order line buys. The zero value is a
// service line.
type LineRef struct {
	stockItemID int64
}

// StockLine references a stock item that a receipt books into the ledger.
func StockLine(stockItemID int64) LineRef {
	return LineRef{stockItemID: stockItemID}
}

// ServiceLine references a non-stock cost with no ledger effect.
func ServiceLine() LineRef {
	return LineRef{}
}

// StockItemID returns the referenced stock item, if any.
func (r LineRef) StockItemID() (int64, bool) {
	return r.stockItemID, r.stockItemID != 0
}

// Kind returns the line kind.
func (r LineRef) Kind() LineKind {
	if r.stockItemID != 0 {
		return LineKindStock
	}
	return LineKindService
}

type lineRefJSON struct {
	Kind        LineKind `json:"kind"`
	StockItemID int64    `json:"stock_item_id,omitempty"`
}

// MarshalJSON encodes the reference as {"kind": ..., "stock_item_id": ...}.
func (r LineRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(lineRefJSON{Kind: r.Kind(), StockItemID: r.stockItemID})
}

// UnmarshalJSON decodes the reference written by MarshalJSON.
func (r *LineRef) UnmarshalJSON(data []byte) error {
	var raw lineRefJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case LineKindStock:
		if raw.StockItemID <= 0 {
			return fmt.Errorf("%w: stock line requires stock_item_id", ErrValidation)
		}
		*r = StockLine(raw.StockItemID)
	case LineKindService, "":
		if raw.StockItemID != 0 {
			return fmt.Errorf("%w: service line must not carry stock_item_id", ErrValidation)
		}
		*r = ServiceLine()
	default:
		return fmt.Errorf("%w: unknown line kind %q", ErrValidation, raw.Kind)
	}
	return nil
}

// PurchaseRequisition is a request to buy, approved before ordering.
// RelatedPONumber is empty unless the PR is linked to an order.
type PurchaseRequisition struct {
	ID              int64           `json:"id"`
	Number          string          `json:"number"`
	Status          PRStatus        `json:"status"`
	Requester       string          `json:"requester"`
	Note            string          `json:"note,omitempty"`
	Lines           []PRLine        `json:"lines"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	RelatedPONumber string          `json:"related_po_number,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Linked reports whether the PR currently references an order.
func (pr PurchaseRequisition) Linked() bool {
	return pr.RelatedPONumber != ""
}

// PRLine is one requested item.
type PRLine struct {
	ID        int64           `json:"id"`
	PRID      int64           `json:"pr_id"`
	LineNo    int             `json:"line_no"`
	Ref       LineRef         `json:"ref"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// LineTotal returns the rounded line amount.
func (l PRLine) LineTotal() decimal.Decimal {
	return finance.LineTotal(finance.Line{Quantity: l.Quantity, UnitPrice: l.UnitPrice})
}

// PurchaseOrder aggregates the lines of one or more approved PRs.
type PurchaseOrder struct {
	ID              int64             `json:"id"`
	Number          string            `json:"number"`
	Status          POStatus          `json:"status"`
	Supplier        string            `json:"supplier"`
	Note            string            `json:"note,omitempty"`
	Lines           []POLine          `json:"lines"`
	Tax             finance.TaxConfig `json:"tax"`
	Totals          finance.Totals    `json:"totals"`
	LinkedPRIDs     []int64           `json:"linked_pr_ids"`
	LinkedPRNumbers []string          `json:"linked_pr_numbers"`
	EvidenceURLs    []string          `json:"evidence_urls"`
	CancelReason    string            `json:"cancel_reason,omitempty"`
	CreatedBy       string            `json:"created_by"`
	ReceivedAt      *time.Time        `json:"received_at,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// POLine is one ordered item, traced back to its source PR.
type POLine struct {
	ID         int64           `json:"id"`
	POID       int64           `json:"po_id"`
	LineNo     int             `json:"line_no"`
	SourcePRID int64           `json:"source_pr_id"`
	Ref        LineRef         `json:"ref"`
	Name       string          `json:"name"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Discount   decimal.Decimal `json:"discount"`
	LineTotal  decimal.Decimal `json:"line_total"`
}

func (l POLine) financeLine() finance.Line {
	return finance.Line{Quantity: l.Quantity, UnitPrice: l.UnitPrice, Discount: l.Discount}
}

// CreatePRInput describes a new requisition.
type CreatePRInput struct {
	Requester string
	Note      string
	Lines     []PRLineInput
}

// PRLineInput describes one requested item.
type PRLineInput struct {
	Ref       LineRef
	Name      string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// CreatePOInput selects approved PRs to aggregate into one order.
type CreatePOInput struct {
	PRIDs    []int64
	Supplier string
	Note     string
	// Tax overrides the configured default tax settings.
	Tax *finance.TaxConfig
	// Discounts maps PR line ids to a line discount.
	Discounts      map[int64]decimal.Decimal
	Actor          string
	IdempotencyKey string
}

// ReceivePOInput records goods received against an order.
type ReceivePOInput struct {
	POID         int64
	EvidenceURLs []string
	Actor        string
}

// PRFilter narrows requisition listings.
type PRFilter struct {
	Status PRStatus
	Search string
	Limit  int
	Offset int
}

// POFilter narrows order listings.
type POFilter struct {
	Status POStatus
	Search string
	Limit  int
	Offset int
}

// OrphanReason explains why a PR link no longer resolves to an active order.
type OrphanReason string

const (
	OrphanMissingOrder   OrphanReason = "ORDER_MISSING"
	OrphanCancelledOrder OrphanReason = "ORDER_CANCELLED"
)

// OrphanedPR is a PR whose RelatedPONumber has drifted.
type OrphanedPR struct {
	PR     PurchaseRequisition `json:"pr"`
	Reason OrphanReason        `json:"reason"`
}

var (
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = errors.New("procurement: invalid state transition")
	// ErrPRNotFound indicates a requisition id or number that does not resolve.
	ErrPRNotFound = errors.New("procurement: purchase requisition not found")
	// ErrPONotFound indicates an order id or number that does not resolve.
	ErrPONotFound = errors.New("procurement: purchase order not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrNoPRsSelected indicates an order request without requisitions.
	ErrNoPRsSelected = errors.New("procurement: no purchase requisitions selected")
	// ErrDuplicatePR indicates the same requisition selected twice.
	ErrDuplicatePR = errors.New("procurement: purchase requisition selected more than once")
	// ErrAlreadyLinked indicates a requisition already linked to an order.
	ErrAlreadyLinked = errors.New("procurement: purchase requisition already linked to an order")
	// ErrEvidenceRequired indicates a receipt without proof of delivery.
	ErrEvidenceRequired = errors.New("procurement: at least one evidence file required")
	// ErrNotOrphaned indicates a repair of a PR whose link still resolves.
	ErrNotOrphaned = errors.New("procurement: purchase requisition is not orphaned")
)
