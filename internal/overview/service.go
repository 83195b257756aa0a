// Package overview summarises the back-office state for dashboards.
package overview

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetmaint/backoffice/internal/inventory"
	"github.com/fleetmaint/backoffice/internal/procurement"
	"github.com/fleetmaint/backoffice/internal/usedparts"
)

const summaryTimeout = 2 * time.Second

// StockSource lists catalog items with their derived status.
type StockSource interface {
	ListItems(ctx context.Context, filter inventory.ItemFilter) ([]inventory.StockItem, error)
}

// ProcurementSource lists orders and orphaned requisitions.
type ProcurementSource interface {
	ListPOs(ctx context.Context, filter procurement.POFilter) ([]procurement.PurchaseOrder, error)
	ListOrphanedPRs(ctx context.Context) ([]procurement.OrphanedPR, error)
}

// UsedPartSource counts batches by derived status.
type UsedPartSource interface {
	CountByStatus(ctx context.Context) (map[usedparts.Status]int, error)
}

// Summary is the dashboard snapshot.
type Summary struct {
	LowStockItems      int       `json:"low_stock_items"`
	OutOfStockItems    int       `json:"out_of_stock_items"`
	OpenPurchaseOrders int       `json:"open_purchase_orders"`
	OrphanedPRs        int       `json:"orphaned_prs"`
	PendingUsedBatches int       `json:"pending_used_batches"`
	PartialUsedBatches int       `json:"partial_used_batches"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// Service gathers the summary concurrently.
type Service struct {
	stock     StockSource
	orders    ProcurementSource
	usedParts UsedPartSource
	cache     *Cache
	now       func() time.Time
}

// NewService constructs the overview service. cache may be nil.
func NewService(stock StockSource, orders ProcurementSource, usedParts UsedPartSource, cache *Cache) *Service {
	return &Service{stock: stock, orders: orders, usedParts: usedParts, cache: cache, now: func() time.Time { return time.Now().UTC() }}
}

// Summary returns the cached snapshot or computes a fresh one.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	var out Summary
	err := s.cache.FetchJSON(ctx, "overview:summary", &out, func(ctx context.Context) (any, error) {
		return s.compute(ctx)
	})
	return out, err
}

func (s *Service) compute(ctx context.Context) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	var out Summary
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		items, err := s.stock.ListItems(ctx, inventory.ItemFilter{Status: inventory.StatusLow})
		if err != nil {
			return err
		}
		out.LowStockItems = len(items)
		return nil
	})

	g.Go(func() error {
		items, err := s.stock.ListItems(ctx, inventory.ItemFilter{Status: inventory.StatusOutOfStock})
		if err != nil {
			return err
		}
		out.OutOfStockItems = len(items)
		return nil
	})

	g.Go(func() error {
		pos, err := s.orders.ListPOs(ctx, procurement.POFilter{Status: procurement.POStatusOrdered, Limit: 1000})
		if err != nil {
			return err
		}
		out.OpenPurchaseOrders = len(pos)
		return nil
	})

	g.Go(func() error {
		orphans, err := s.orders.ListOrphanedPRs(ctx)
		if err != nil {
			return err
		}
		out.OrphanedPRs = len(orphans)
		return nil
	})

	g.Go(func() error {
		counts, err := s.usedParts.CountByStatus(ctx)
		if err != nil {
			return err
		}
		out.PendingUsedBatches = counts[usedparts.StatusPending]
		out.PartialUsedBatches = counts[usedparts.StatusPartiallyResolved]
		return nil
	})

	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	out.GeneratedAt = s.now()
	return out, nil
}
