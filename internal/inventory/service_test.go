package inventory

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fleetmaint/backoffice/internal/platform/db"
)

type memoryRepo struct {
	items  map[int64]StockItem
	txns   []Transaction
	nextID int64
	locked [][]int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[int64]StockItem)}
}

// WithTx restores the previous state when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	items := make(map[int64]StockItem, len(r.items))
	for id, item := range r.items {
		items[id] = item
	}
	txns := append([]Transaction(nil), r.txns...)
	nextID := r.nextID
	ctx, commit := db.CommitScope(ctx)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.items, r.txns, r.nextID = items, txns, nextID
		return err
	}
	commit()
	return nil
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (StockItem, error) {
	item, ok := r.items[id]
	if !ok {
		return StockItem{}, ErrUnknownItem
	}
	return item, nil
}

func (r *memoryRepo) ListItems(ctx context.Context, filter ItemFilter) ([]StockItem, error) {
	var items []StockItem
	for _, item := range r.items {
		if filter.Search != "" && !strings.Contains(item.Code+item.Name, filter.Search) {
			continue
		}
		if filter.Category != "" && item.Category != filter.Category {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Code < items[j].Code })
	return window(items, filter.Limit, filter.Offset), nil
}

func (r *memoryRepo) ListTransactions(ctx context.Context, stockItemID int64, limit int) ([]Transaction, error) {
	var out []Transaction
	for i := len(r.txns) - 1; i >= 0 && len(out) < limit; i-- {
		if r.txns[i].StockItemID == stockItemID {
			out = append(out, r.txns[i])
		}
	}
	return out, nil
}

func (r *memoryRepo) BalanceSnapshot(ctx context.Context) ([]ItemBalance, error) {
	var balances []ItemBalance
	for _, item := range r.items {
		sum := decimal.Zero
		for _, txn := range r.txns {
			if txn.StockItemID == item.ID {
				sum = sum.Add(txn.Delta)
			}
		}
		balances = append(balances, ItemBalance{StockItemID: item.ID, Code: item.Code, OpeningQuantity: item.OpeningQuantity, Quantity: item.Quantity, DeltaSum: sum})
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].StockItemID < balances[j].StockItemID })
	return balances, nil
}

func (tx *memoryTx) InsertItem(ctx context.Context, item StockItem) (StockItem, error) {
	for _, existing := range tx.repo.items {
		if existing.Code == item.Code {
			return StockItem{}, ErrDuplicateCode
		}
	}
	tx.repo.nextID++
	item.ID = tx.repo.nextID
	tx.repo.items[item.ID] = item
	return item, nil
}

func (tx *memoryTx) LockItems(ctx context.Context, ids []int64) (map[int64]StockItem, error) {
	tx.repo.locked = append(tx.repo.locked, append([]int64(nil), ids...))
	out := make(map[int64]StockItem)
	for _, id := range ids {
		if item, ok := tx.repo.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	for _, existing := range tx.repo.txns {
		if existing.RefID == txn.RefID {
			return Transaction{}, ErrDuplicateReceipt
		}
	}
	tx.repo.nextID++
	txn.ID = tx.repo.nextID
	tx.repo.txns = append(tx.repo.txns, txn)
	return txn, nil
}

func (tx *memoryTx) AddQuantity(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	item, ok := tx.repo.items[id]
	if !ok {
		return decimal.Decimal{}, ErrUnknownItem
	}
	item.Quantity = item.Quantity.Add(delta)
	tx.repo.items[id] = item
	return item.Quantity, nil
}

func qty(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func createItem(t *testing.T, svc *Service, code string, opening, min int64) StockItem {
	t.Helper()
	item, err := svc.CreateItem(context.Background(), CreateItemInput{
		Code:            code,
		Name:            "Brake pad " + code,
		Unit:            "pcs",
		OpeningQuantity: qty(opening),
		MinStock:        qty(min),
		UnitPrice:       decimal.RequireFromString("450.00"),
	})
	require.NoError(t, err)
	return item
}

func requireLedgerBalanced(t *testing.T, svc *Service) {
	t.Helper()
	drifts, err := svc.VerifyBalance(context.Background())
	require.NoError(t, err)
	require.Empty(t, drifts)
}

func TestWithdrawalDrivesStatusLow(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	item := createItem(t, svc, "BP-01", 10, 5)
	require.Equal(t, StatusNormal, item.Status())

	require.NoError(t, CheckWithdrawal(item, qty(6)))
	txn, err := svc.PostTransaction(ctx, item.ID, TransactionTypeWithdrawal, qty(-6), Meta{DocumentNumber: "WD-1", Actor: "mechanic"})
	require.NoError(t, err)
	require.Equal(t, "mechanic", txn.Actor)
	require.True(t, txn.UnitPrice.Equal(decimal.RequireFromString("450")))
	require.NotEqual(t, uuid.Nil, txn.RefID)

	item, err = svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, item.Quantity.Equal(qty(4)))
	require.Equal(t, StatusLow, item.Status())
	requireLedgerBalanced(t, svc)
}

func TestPostTransactionValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	item := createItem(t, svc, "OIL-5W30", 3, 1)

	_, err := svc.PostTransaction(ctx, item.ID, TransactionTypeAdjustment, decimal.Zero, Meta{})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.PostTransaction(ctx, item.ID, TransactionTypeWithdrawal, qty(2), Meta{})
	require.ErrorIs(t, err, ErrInvalidDelta)

	_, err = svc.PostTransaction(ctx, item.ID, TransactionType("TRANSFER"), qty(1), Meta{})
	require.ErrorIs(t, err, ErrInvalidType)

	_, err = svc.PostTransaction(ctx, 999, TransactionTypeAdjustment, qty(1), Meta{})
	require.ErrorIs(t, err, ErrUnknownItem)

	_, err = svc.PostTransaction(ctx, item.ID, TransactionTypeAdjustment, qty(-1), Meta{Note: "count correction"})
	require.NoError(t, err)
	require.Len(t, repo.txns, 1)
}

func TestOverWithdrawalIsRecordedButFlagged(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	item := createItem(t, svc, "FLT-9", 2, 1)

	require.ErrorIs(t, CheckWithdrawal(item, qty(5)), ErrInsufficientStock)
	require.ErrorIs(t, CheckWithdrawal(item, decimal.Zero), ErrInvalidQuantity)

	_, err := svc.PostTransaction(ctx, item.ID, TransactionTypeSale, qty(-5), Meta{})
	require.NoError(t, err)
	item, err = svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, item.Quantity.Equal(qty(-3)))
	require.Equal(t, StatusOutOfStock, item.Status())
	requireLedgerBalanced(t, svc)
}

func TestReceiveFromOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	tyre := createItem(t, svc, "TYRE-22", 0, 4)
	belt := createItem(t, svc, "BELT-3", 1, 0)

	txns, err := svc.ReceiveFromOrder(ctx, OrderReceipt{
		DocumentNumber: "PO-2025-00001",
		Actor:          "storekeeper",
		Lines: []ReceiptLine{
			{LineNo: 1, StockItemID: belt.ID, Quantity: qty(2), UnitPrice: qty(120)},
			{LineNo: 2, Quantity: qty(1), UnitPrice: qty(900)},
			{LineNo: 3, StockItemID: tyre.ID, Quantity: qty(4), UnitPrice: qty(3200)},
			{LineNo: 4, StockItemID: belt.ID, Quantity: qty(3), UnitPrice: qty(120)},
		},
	})
	require.NoError(t, err)
	require.Len(t, txns, 3)
	for _, txn := range txns {
		require.Equal(t, TransactionTypeReceipt, txn.Type)
		require.Equal(t, "PO-2025-00001", txn.DocumentNumber)
	}
	require.Equal(t, ReceiptRefID("PO-2025-00001", 3), txns[1].RefID)
	require.Equal(t, []int64{tyre.ID, belt.ID}, repo.locked[len(repo.locked)-1])

	belt, _ = svc.GetItem(ctx, belt.ID)
	tyre, _ = svc.GetItem(ctx, tyre.ID)
	require.True(t, belt.Quantity.Equal(qty(6)))
	require.True(t, tyre.Quantity.Equal(qty(4)))
	requireLedgerBalanced(t, svc)

	_, err = svc.ReceiveFromOrder(ctx, OrderReceipt{
		DocumentNumber: "PO-2025-00001",
		Lines:          []ReceiptLine{{LineNo: 1, StockItemID: belt.ID, Quantity: qty(2)}},
	})
	require.ErrorIs(t, err, ErrDuplicateReceipt)
}

func TestReceiveFromOrderUnknownItemAbortsWholeReceipt(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	belt := createItem(t, svc, "BELT-3", 1, 0)

	_, err := svc.ReceiveFromOrder(ctx, OrderReceipt{
		DocumentNumber: "PO-2025-00002",
		Lines: []ReceiptLine{
			{LineNo: 1, StockItemID: belt.ID, Quantity: qty(2)},
			{LineNo: 2, StockItemID: 404, Quantity: qty(1)},
		},
	})
	require.ErrorIs(t, err, ErrUnknownItem)
	require.Empty(t, repo.txns)
	belt, _ = svc.GetItem(ctx, belt.ID)
	require.True(t, belt.Quantity.Equal(qty(1)))
}

func TestReceiveFromOrderServiceOnly(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	txns, err := svc.ReceiveFromOrder(context.Background(), OrderReceipt{
		DocumentNumber: "PO-2025-00003",
		Lines:          []ReceiptLine{{LineNo: 1, Quantity: qty(1), UnitPrice: qty(1500)}},
	})
	require.NoError(t, err)
	require.Empty(t, txns)

	_, err = svc.ReceiveFromOrder(context.Background(), OrderReceipt{})
	require.ErrorIs(t, err, ErrMissingDocument)
}

func TestCreateItemRejectsDuplicateCode(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	createItem(t, svc, "BP-01", 1, 0)
	_, err := svc.CreateItem(context.Background(), CreateItemInput{Code: "BP-01", Name: "dup", Unit: "pcs"})
	require.ErrorIs(t, err, ErrDuplicateCode)

	_, err = svc.CreateItem(context.Background(), CreateItemInput{Code: "X"})
	require.ErrorIs(t, err, ErrInvalidItem)
}

func TestListItemsFiltersByDerivedStatus(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	low := createItem(t, svc, "A-LOW", 2, 5)
	createItem(t, svc, "B-OK", 20, 5)
	createItem(t, svc, "C-OUT", 0, 5)

	items, err := svc.ListItems(ctx, ItemFilter{Status: StatusLow})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, low.ID, items[0].ID)

	_, err = svc.PostTransaction(ctx, low.ID, TransactionTypeAdjustment, qty(10), Meta{})
	require.NoError(t, err)
	items, err = svc.ListItems(ctx, ItemFilter{Status: StatusLow})
	require.NoError(t, err)
	require.Empty(t, items)

	_, err = svc.ListItems(ctx, ItemFilter{Status: "EMPTY"})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestHistoryNewestFirst(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()
	item := createItem(t, svc, "BP-01", 10, 0)
	for i := int64(1); i <= 3; i++ {
		_, err := svc.PostTransaction(ctx, item.ID, TransactionTypeWithdrawal, qty(-i), Meta{})
		require.NoError(t, err)
	}
	txns, err := svc.History(ctx, item.ID, 2)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	require.True(t, txns[0].Delta.Equal(qty(-3)))

	_, err = svc.History(ctx, 77, 0)
	require.ErrorIs(t, err, ErrUnknownItem)
}

func TestVerifyBalanceReportsDrift(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	item := createItem(t, svc, "BP-01", 10, 0)

	tampered := repo.items[item.ID]
	tampered.Quantity = qty(11)
	repo.items[item.ID] = tampered

	drifts, err := svc.VerifyBalance(context.Background())
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.True(t, drifts[0].Expected.Equal(qty(10)))
}

type countingMetrics struct {
	posted map[string]int
}

func (m *countingMetrics) StockTransactionPosted(txType string) {
	if m.posted == nil {
		m.posted = make(map[string]int)
	}
	m.posted[txType]++
}

func TestPostingMetricsWaitForOutermostCommit(t *testing.T) {
	metrics := &countingMetrics{}
	svc := NewService(newMemoryRepo(), nil, metrics)
	item := createItem(t, svc, "BP-20", 5, 0)

	_, err := svc.PostTransaction(context.Background(), item.ID, TransactionTypeReceipt, qty(1), Meta{})
	require.NoError(t, err)
	require.Equal(t, 1, metrics.posted["RECEIPT"])

	discarded, _ := db.CommitScope(context.Background())
	_, err = svc.PostTransaction(discarded, item.ID, TransactionTypeReceipt, qty(1), Meta{})
	require.NoError(t, err)
	require.Equal(t, 1, metrics.posted["RECEIPT"])

	outer, commit := db.CommitScope(context.Background())
	_, err = svc.PostTransaction(outer, item.ID, TransactionTypeWithdrawal, qty(-2), Meta{})
	require.NoError(t, err)
	_, err = svc.ReceiveFromOrder(outer, OrderReceipt{
		DocumentNumber: "PO-2026-00007",
		Lines:          []ReceiptLine{{LineNo: 1, StockItemID: item.ID, Quantity: qty(3)}},
	})
	require.NoError(t, err)
	require.Zero(t, metrics.posted["WITHDRAWAL"])
	require.Equal(t, 1, metrics.posted["RECEIPT"])

	commit()
	require.Equal(t, 1, metrics.posted["WITHDRAWAL"])
	require.Equal(t, 2, metrics.posted["RECEIPT"])
}
