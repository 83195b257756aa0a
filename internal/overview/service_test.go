package overview

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fleetmaint/backoffice/internal/inventory"
	"github.com/fleetmaint/backoffice/internal/procurement"
	"github.com/fleetmaint/backoffice/internal/usedparts"
)

type stubStock struct {
	byStatus map[inventory.Status]int
	calls    atomic.Int32
}

func (s *stubStock) ListItems(ctx context.Context, filter inventory.ItemFilter) ([]inventory.StockItem, error) {
	s.calls.Add(1)
	return make([]inventory.StockItem, s.byStatus[filter.Status]), nil
}

type stubOrders struct {
	open    int
	orphans int
	err     error
}

func (s stubOrders) ListPOs(ctx context.Context, filter procurement.POFilter) ([]procurement.PurchaseOrder, error) {
	return make([]procurement.PurchaseOrder, s.open), s.err
}

func (s stubOrders) ListOrphanedPRs(ctx context.Context) ([]procurement.OrphanedPR, error) {
	return make([]procurement.OrphanedPR, s.orphans), nil
}

type stubUsedParts map[usedparts.Status]int

func (s stubUsedParts) CountByStatus(ctx context.Context) (map[usedparts.Status]int, error) {
	return s, nil
}

func TestSummaryGathersCounts(t *testing.T) {
	stock := &stubStock{byStatus: map[inventory.Status]int{inventory.StatusLow: 3, inventory.StatusOutOfStock: 1}}
	svc := NewService(stock, stubOrders{open: 2, orphans: 1}, stubUsedParts{usedparts.StatusPending: 4, usedparts.StatusPartiallyResolved: 5}, nil)

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, summary.LowStockItems)
	require.Equal(t, 1, summary.OutOfStockItems)
	require.Equal(t, 2, summary.OpenPurchaseOrders)
	require.Equal(t, 1, summary.OrphanedPRs)
	require.Equal(t, 4, summary.PendingUsedBatches)
	require.Equal(t, 5, summary.PartialUsedBatches)
}

func TestSummaryPropagatesErrors(t *testing.T) {
	svc := NewService(&stubStock{}, stubOrders{err: errors.New("db down")}, stubUsedParts{}, nil)
	_, err := svc.Summary(context.Background())
	require.Error(t, err)
}

func TestSummaryIsCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	stock := &stubStock{byStatus: map[inventory.Status]int{inventory.StatusLow: 2}}
	svc := NewService(stock, stubOrders{}, stubUsedParts{}, NewCache(client, time.Minute))

	first, err := svc.Summary(context.Background())
	require.NoError(t, err)
	second, err := svc.Summary(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.LowStockItems, second.LowStockItems)
	require.Equal(t, int32(2), stock.calls.Load())
	require.True(t, mr.Exists("overview:summary"))

	mr.FastForward(2 * time.Minute)
	_, err = svc.Summary(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(4), stock.calls.Load())
}
