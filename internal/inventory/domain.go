package inventory

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType enumerates ledger movements.
type TransactionType string

const (
	// TransactionTypeReceipt books goods received against a purchase order or used-part conversion.
	TransactionTypeReceipt TransactionType = "RECEIPT"
	// TransactionTypeWithdrawal issues stock for maintenance work.
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
	// TransactionTypeAdjustment is a manual correction of either sign.
	TransactionTypeAdjustment TransactionType = "ADJUSTMENT"
	// TransactionTypeReturn sends stock back to the supplier.
	TransactionTypeReturn TransactionType = "RETURN"
	// TransactionTypeSale disposes of stock by sale.
	TransactionTypeSale TransactionType = "SALE"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeReceipt, TransactionTypeWithdrawal, TransactionTypeAdjustment, TransactionTypeReturn, TransactionTypeSale:
		return true
	}
	return false
}

// Outflow reports whether t only ever removes stock.
func (t TransactionType) Outflow() bool {
	switch t {
	case TransactionTypeWithdrawal, TransactionTypeReturn, TransactionTypeSale:
		return true
	}
	return false
}

// StockItem is a catalog entry with its authoritative on-hand quantity.
type StockItem struct {
	ID                 int64               `json:"id"`
	Code               string              `json:"code"`
	Name               string              `json:"name"`
	Category           string              `json:"category"`
	Unit               string              `json:"unit"`
	OpeningQuantity    decimal.Decimal     `json:"opening_quantity"`
	Quantity           decimal.Decimal     `json:"quantity"`
	MinStock           decimal.Decimal     `json:"min_stock"`
	MaxStock           decimal.NullDecimal `json:"max_stock"`
	UnitPrice          decimal.Decimal     `json:"unit_price"`
	IsRevolvingPart    bool                `json:"is_revolving_part"`
	IsFungibleUsedItem bool                `json:"is_fungible_used_item"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// Status derives the stock status from the current quantity.
func (i StockItem) Status() Status {
	return StockStatus(i.Quantity, i.MinStock, i.MaxStock)
}

// Transaction is an append-only ledger entry. Corrections are new entries.
type Transaction struct {
	ID             int64           `json:"id"`
	StockItemID    int64           `json:"stock_item_id"`
	Type           TransactionType `json:"type"`
	Delta          decimal.Decimal `json:"delta"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DocumentNumber string          `json:"document_number,omitempty"`
	Actor          string          `json:"actor"`
	RefID          uuid.UUID       `json:"ref_id"`
	Note           string          `json:"note,omitempty"`
	PostedAt       time.Time       `json:"posted_at"`
}

// Meta carries the descriptive fields of a posting.
type Meta struct {
	DocumentNumber string
	Actor          string
	Note           string
	// UnitPrice overrides the item's catalog price when valid.
	UnitPrice decimal.NullDecimal
	// RefID defaults to a random id when nil.
	RefID uuid.UUID
}

// CreateItemInput describes a new catalog entry.
type CreateItemInput struct {
	Code               string
	Name               string
	Category           string
	Unit               string
	OpeningQuantity    decimal.Decimal
	MinStock           decimal.Decimal
	MaxStock           decimal.NullDecimal
	UnitPrice          decimal.Decimal
	IsRevolvingPart    bool
	IsFungibleUsedItem bool
	Actor              string
}

// ItemFilter narrows item listings. Status is matched against the derived status.
type ItemFilter struct {
	Search   string
	Category string
	Status   Status
	Limit    int
	Offset   int
}

// OrderReceipt is the ledger view of a received purchase order.
type OrderReceipt struct {
	DocumentNumber string
	Actor          string
	Lines          []ReceiptLine
}

// ReceiptLine is one received order line. A zero StockItemID marks a
// non-stock line that has no ledger effect.
type ReceiptLine struct {
	LineNo      int
	StockItemID int64
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// ItemBalance pairs an item's stored quantity with its ledger sum.
type ItemBalance struct {
	StockItemID     int64
	Code            string
	OpeningQuantity decimal.Decimal
	Quantity        decimal.Decimal
	DeltaSum        decimal.Decimal
}

// Drift reports an item whose quantity disagrees with its ledger.
type Drift struct {
	StockItemID int64           `json:"stock_item_id"`
	Code        string          `json:"code"`
	Quantity    decimal.Decimal `json:"quantity"`
	Expected    decimal.Decimal `json:"expected"`
}

var (
	// ErrUnknownItem indicates a stock item id that does not resolve.
	ErrUnknownItem = errors.New("inventory: unknown stock item")
	// ErrDuplicateCode indicates an item code already in the catalog.
	ErrDuplicateCode = errors.New("inventory: item code already exists")
	// ErrInvalidItem indicates missing catalog fields.
	ErrInvalidItem = errors.New("inventory: code, name and unit required")
	// ErrInvalidStatus indicates an unknown status filter.
	ErrInvalidStatus = errors.New("inventory: unknown status")
	// ErrInvalidType indicates an unknown transaction type.
	ErrInvalidType = errors.New("inventory: unknown transaction type")
	// ErrInvalidQuantity indicates a zero delta or non-positive quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be non zero")
	// ErrInvalidDelta indicates an outflow type posted with a positive delta.
	ErrInvalidDelta = errors.New("inventory: outflow transactions require a negative delta")
	// ErrInsufficientStock indicates a withdrawal larger than the on-hand quantity.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrDuplicateReceipt indicates an order line already received.
	ErrDuplicateReceipt = errors.New("inventory: order line already received")
	// ErrMissingDocument indicates a receipt without a document number.
	ErrMissingDocument = errors.New("inventory: document number required")
)
