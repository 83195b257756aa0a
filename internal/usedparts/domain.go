// Package usedparts tracks batches of parts removed from vehicles until every
// unit has been converted back into stock or disposed of.
package usedparts

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetmaint/backoffice/internal/inventory"
)

// DispositionType enumerates what happened to a quantity of a batch.
type DispositionType string

const (
	// DispositionConvertedToBulk moves units into a fungible bulk stock item.
	DispositionConvertedToBulk DispositionType = "CONVERTED_TO_BULK"
	// DispositionConvertedToRevolving moves units into the batch's revolving stock item.
	DispositionConvertedToRevolving DispositionType = "CONVERTED_TO_REVOLVING"
	// DispositionDisposed discards units with no stock effect.
	DispositionDisposed DispositionType = "DISPOSED"
)

// Valid reports whether t is a known disposition type.
func (t DispositionType) Valid() bool {
	switch t {
	case DispositionConvertedToBulk, DispositionConvertedToRevolving, DispositionDisposed:
		return true
	}
	return false
}

// Batch is a quantity of used parts awaiting disposition.
type Batch struct {
	ID                   int64           `json:"id"`
	Name                 string          `json:"name"`
	VehicleRef           string          `json:"vehicle_ref,omitempty"`
	InitialQuantity      decimal.Decimal `json:"initial_quantity"`
	Unit                 string          `json:"unit"`
	RevolvingStockItemID int64           `json:"revolving_stock_item_id,omitempty"`
	Notes                string          `json:"notes,omitempty"`
	Dispositions         []Disposition   `json:"dispositions"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Disposed sums the quantity of every disposition.
func (b Batch) Disposed() decimal.Decimal {
	total := decimal.Zero
	for _, d := range b.Dispositions {
		total = total.Add(d.Quantity)
	}
	return total
}

// Remaining returns the quantity not yet disposed of.
func (b Batch) Remaining() decimal.Decimal {
	return b.InitialQuantity.Sub(b.Disposed())
}

// Status derives the batch status from its dispositions.
func (b Batch) Status() Status {
	return BatchStatus(b.InitialQuantity, b.Dispositions)
}

// Disposition is one append-only resolution of part of a batch.
type Disposition struct {
	ID            int64           `json:"id"`
	BatchID       int64           `json:"batch_id"`
	Type          DispositionType `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	StockItemID   int64           `json:"stock_item_id,omitempty"`
	TransactionID int64           `json:"transaction_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	Actor         string          `json:"actor"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CreateBatchInput describes a new batch.
type CreateBatchInput struct {
	Name                 string
	VehicleRef           string
	InitialQuantity      decimal.Decimal
	Unit                 string
	RevolvingStockItemID int64
	Notes                string
	Actor                string
}

// NewRevolvingItem describes the stock item to create when a batch is first
// converted to revolving stock and no mirror item exists yet.
type NewRevolvingItem struct {
	Code      string
	Name      string
	Category  string
	Unit      string
	UnitPrice decimal.Decimal
}

// DispositionInput resolves part of a batch.
type DispositionInput struct {
	Type     DispositionType
	Quantity decimal.Decimal
	// TargetItemID names the receiving stock item. Bulk conversions fall back
	// to the configured bulk item.
	TargetItemID     int64
	NewRevolvingItem *NewRevolvingItem
	Notes            string
	Actor            string
}

// Outcome reports the effects of an applied disposition.
type Outcome struct {
	Batch       Batch                  `json:"batch"`
	Disposition Disposition            `json:"disposition"`
	Transaction *inventory.Transaction `json:"transaction,omitempty"`
	CreatedItem *inventory.StockItem   `json:"created_item,omitempty"`
}

// BatchFilter narrows batch listings. Status is matched against the derived status.
type BatchFilter struct {
	Search string
	Status Status
	Limit  int
	Offset int
}

var (
	// ErrBatchNotFound indicates a batch id that does not resolve.
	ErrBatchNotFound = errors.New("usedparts: batch not found")
	// ErrInvalidBatch indicates missing batch fields.
	ErrInvalidBatch = errors.New("usedparts: name, unit and a positive initial quantity required")
	// ErrInvalidQuantity indicates a non-positive disposition quantity.
	ErrInvalidQuantity = errors.New("usedparts: quantity must be greater than zero")
	// ErrInvalidDisposition indicates an unknown disposition type.
	ErrInvalidDisposition = errors.New("usedparts: unknown disposition type")
	// ErrInvalidStatus indicates an unknown status filter.
	ErrInvalidStatus = errors.New("usedparts: unknown status")
	// ErrOverDisposition indicates a disposition exceeding the remaining quantity.
	ErrOverDisposition = errors.New("usedparts: quantity exceeds remaining batch quantity")
	// ErrRevolvingItemRequired asks the caller to name or describe the revolving stock item.
	ErrRevolvingItemRequired = errors.New("usedparts: revolving stock item required")
	// ErrBulkItemRequired indicates no bulk stock item was given or configured.
	ErrBulkItemRequired = errors.New("usedparts: bulk stock item required")
)
