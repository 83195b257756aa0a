package procurement

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fleetmaint/backoffice/internal/finance"
	"github.com/fleetmaint/backoffice/internal/inventory"
	"github.com/fleetmaint/backoffice/internal/notify"
	"github.com/fleetmaint/backoffice/internal/numbering"
	"github.com/fleetmaint/backoffice/internal/shared"
)

type memoryRepo struct {
	prs    map[int64]PurchaseRequisition
	pos    map[int64]PurchaseOrder
	nextID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{prs: make(map[int64]PurchaseRequisition), pos: make(map[int64]PurchaseOrder)}
}

// WithTx restores the previous state when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	prs := make(map[int64]PurchaseRequisition, len(r.prs))
	for id, pr := range r.prs {
		prs[id] = pr
	}
	pos := make(map[int64]PurchaseOrder, len(r.pos))
	for id, po := range r.pos {
		pos[id] = po
	}
	nextID := r.nextID
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.prs, r.pos, r.nextID = prs, pos, nextID
		return err
	}
	return nil
}

func (r *memoryRepo) GetPR(ctx context.Context, id int64) (PurchaseRequisition, error) {
	pr, ok := r.prs[id]
	if !ok {
		return PurchaseRequisition{}, ErrPRNotFound
	}
	return pr, nil
}

func (r *memoryRepo) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := r.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrPONotFound
	}
	return po, nil
}

func (r *memoryRepo) GetPOByNumber(ctx context.Context, number string) (PurchaseOrder, error) {
	for _, po := range r.pos {
		if po.Number == number {
			return po, nil
		}
	}
	return PurchaseOrder{}, ErrPONotFound
}

func (r *memoryRepo) ListPRs(ctx context.Context, filter PRFilter) ([]PurchaseRequisition, error) {
	var out []PurchaseRequisition
	for _, pr := range r.prs {
		if filter.Status == "" || pr.Status == filter.Status {
			out = append(out, pr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListPOs(ctx context.Context, filter POFilter) ([]PurchaseOrder, error) {
	var out []PurchaseOrder
	for _, po := range r.pos {
		if filter.Status == "" || po.Status == filter.Status {
			out = append(out, po)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListLinkedPRs(ctx context.Context) ([]PurchaseRequisition, error) {
	var out []PurchaseRequisition
	for _, pr := range r.prs {
		if pr.Linked() {
			out = append(out, pr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) POStatusesByNumber(ctx context.Context, numbers []string) (map[string]POStatus, error) {
	out := make(map[string]POStatus)
	for _, po := range r.pos {
		for _, n := range numbers {
			if po.Number == n {
				out[n] = po.Status
			}
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertPR(ctx context.Context, pr PurchaseRequisition) (PurchaseRequisition, error) {
	tx.repo.nextID++
	pr.ID = tx.repo.nextID
	lines := make([]PRLine, 0, len(pr.Lines))
	for _, l := range pr.Lines {
		tx.repo.nextID++
		l.ID = tx.repo.nextID
		l.PRID = pr.ID
		lines = append(lines, l)
	}
	pr.Lines = lines
	tx.repo.prs[pr.ID] = pr
	return pr, nil
}

func (tx *memoryTx) LockPR(ctx context.Context, id int64) (PurchaseRequisition, error) {
	pr, ok := tx.repo.prs[id]
	if !ok {
		return PurchaseRequisition{}, ErrPRNotFound
	}
	return pr, nil
}

func (tx *memoryTx) UpdatePRStatus(ctx context.Context, id int64, status PRStatus, poNumber string) error {
	pr, ok := tx.repo.prs[id]
	if !ok {
		return ErrPRNotFound
	}
	pr.Status = status
	pr.RelatedPONumber = poNumber
	tx.repo.prs[id] = pr
	return nil
}

func (tx *memoryTx) InsertPO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	for _, existing := range tx.repo.pos {
		if existing.Number == po.Number {
			return PurchaseOrder{}, errors.New("duplicate po number")
		}
	}
	tx.repo.nextID++
	po.ID = tx.repo.nextID
	tx.repo.pos[po.ID] = po
	return po, nil
}

func (tx *memoryTx) LockPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := tx.repo.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrPONotFound
	}
	return po, nil
}

func (tx *memoryTx) MarkPOReceived(ctx context.Context, id int64, evidenceURLs []string, at time.Time) error {
	po := tx.repo.pos[id]
	po.Status = POStatusReceived
	po.EvidenceURLs = evidenceURLs
	po.ReceivedAt = &at
	tx.repo.pos[id] = po
	return nil
}

func (tx *memoryTx) MarkPOCancelled(ctx context.Context, id int64, reason string, at time.Time) error {
	po := tx.repo.pos[id]
	po.Status = POStatusCancelled
	po.CancelReason = reason
	po.CancelledAt = &at
	tx.repo.pos[id] = po
	return nil
}

func (tx *memoryTx) DetachPR(ctx context.Context, poID, prID int64, totals finance.Totals) error {
	po, ok := tx.repo.pos[poID]
	if !ok {
		return ErrPONotFound
	}
	var (
		lines   []POLine
		ids     []int64
		numbers []string
	)
	for _, l := range po.Lines {
		if l.SourcePRID != prID {
			lines = append(lines, l)
		}
	}
	for i, id := range po.LinkedPRIDs {
		if id != prID {
			ids = append(ids, id)
			numbers = append(numbers, po.LinkedPRNumbers[i])
		}
	}
	po.Lines, po.LinkedPRIDs, po.LinkedPRNumbers, po.Totals = lines, ids, numbers, totals
	tx.repo.pos[poID] = po
	return nil
}

func (tx *memoryTx) POStatusByNumber(ctx context.Context, number string) (POStatus, bool, error) {
	for _, po := range tx.repo.pos {
		if po.Number == number {
			return po.Status, true, nil
		}
	}
	return "", false, nil
}

type counterAllocator struct {
	mu   sync.Mutex
	seqs map[string]int
}

func (a *counterAllocator) Next(ctx context.Context, prefix string, year int) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seqs == nil {
		a.seqs = make(map[string]int)
	}
	a.seqs[prefix]++
	return numbering.Format(prefix, year, a.seqs[prefix]), nil
}

type fakeInventory struct {
	receipts []inventory.OrderReceipt
	err      error
}

func (f *fakeInventory) ReceiveFromOrder(ctx context.Context, receipt inventory.OrderReceipt) ([]inventory.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.receipts = append(f.receipts, receipt)
	return nil, nil
}

type memoryKeys struct {
	keys map[string]struct{}
}

func (m *memoryKeys) CheckAndInsert(ctx context.Context, key, module string) error {
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = struct{}{}
	return nil
}

func (m *memoryKeys) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type recordingNotifier struct {
	events []notify.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, evt notify.Event) error {
	n.events = append(n.events, evt)
	return nil
}

type fixture struct {
	svc      *Service
	repo     *memoryRepo
	stock    *fakeInventory
	keys     *memoryKeys
	notifier *recordingNotifier
}

func newFixture() fixture {
	f := fixture{
		repo:     newMemoryRepo(),
		stock:    &fakeInventory{},
		keys:     &memoryKeys{keys: make(map[string]struct{})},
		notifier: &recordingNotifier{},
	}
	f.svc = NewService(ServiceDeps{
		Repo:        f.repo,
		Inventory:   f.stock,
		Numbers:     &counterAllocator{},
		Idempotency: f.keys,
		Notifier:    f.notifier,
	}, ServiceConfig{DefaultTax: finance.TaxConfig{VATEnabled: true, VATRate: decimal.NewFromInt(7)}})
	f.svc.now = func() time.Time { return time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC) }
	return f
}

func num(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (f fixture) approvedPR(t *testing.T, lines ...PRLineInput) PurchaseRequisition {
	t.Helper()
	ctx := context.Background()
	pr, err := f.svc.CreatePR(ctx, CreatePRInput{Requester: "somchai", Lines: lines})
	require.NoError(t, err)
	_, err = f.svc.SubmitPR(ctx, pr.ID, "somchai")
	require.NoError(t, err)
	approved, err := f.svc.ApprovePR(ctx, pr.ID, "manager")
	require.NoError(t, err)
	return approved
}

func tyreLine() PRLineInput {
	return PRLineInput{Ref: StockLine(7), Name: "Tyre 11R22.5", Quantity: num("4"), UnitPrice: num("100")}
}

func labourLine() PRLineInput {
	return PRLineInput{Ref: ServiceLine(), Name: "Fitting labour", Quantity: num("1"), UnitPrice: num("200")}
}

func beltLine() PRLineInput {
	return PRLineInput{Ref: StockLine(8), Name: "Fan belt", Quantity: num("2"), UnitPrice: num("200")}
}

func TestCreatePRAssignsNumberAndTotal(t *testing.T) {
	f := newFixture()
	pr, err := f.svc.CreatePR(context.Background(), CreatePRInput{
		Requester: "somchai",
		Lines: []PRLineInput{
			{Ref: ServiceLine(), Name: "Oil", Quantity: num("2"), UnitPrice: num("150.255")},
			{Ref: StockLine(3), Name: "Filter", Quantity: num("1"), UnitPrice: num("99.99")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "PR-2026-00001", pr.Number)
	require.Equal(t, PRStatusDraft, pr.Status)
	require.Equal(t, "400.50", pr.TotalAmount.StringFixed(2))
	require.Len(t, pr.Lines, 2)
	require.Equal(t, 2, pr.Lines[1].LineNo)

	next, err := f.svc.CreatePR(context.Background(), CreatePRInput{Lines: []PRLineInput{labourLine()}})
	require.NoError(t, err)
	require.Equal(t, "PR-2026-00002", next.Number)
	require.Equal(t, shared.SystemActor, next.Requester)
}

func TestCreatePRValidatesLines(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreatePR(context.Background(), CreatePRInput{})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreatePR(context.Background(), CreatePRInput{Lines: []PRLineInput{{Name: "Oil", Quantity: num("0"), UnitPrice: num("1")}}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreatePR(context.Background(), CreatePRInput{Lines: []PRLineInput{{Name: "Oil", Quantity: num("1"), UnitPrice: num("-1")}}})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, f.repo.prs)
}

func TestPRWorkflowEnforcesOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pr, err := f.svc.CreatePR(ctx, CreatePRInput{Lines: []PRLineInput{labourLine()}})
	require.NoError(t, err)

	_, err = f.svc.ApprovePR(ctx, pr.ID, "manager")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.SubmitPR(ctx, pr.ID, "somchai")
	require.NoError(t, err)
	approved, err := f.svc.ApprovePR(ctx, pr.ID, "manager")
	require.NoError(t, err)
	require.Equal(t, PRStatusApproved, approved.Status)

	cancelled, err := f.svc.CancelPR(ctx, pr.ID, "manager")
	require.NoError(t, err)
	require.Equal(t, PRStatusCancelled, cancelled.Status)

	_, err = f.svc.SubmitPR(ctx, pr.ID, "somchai")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.SubmitPR(ctx, 999, "somchai")
	require.ErrorIs(t, err, ErrPRNotFound)
}

func TestCreatePOLinksPRsAndComputesTotals(t *testing.T) {
	f := newFixture()
	first := f.approvedPR(t, tyreLine(), labourLine())
	second := f.approvedPR(t, beltLine())

	po, err := f.svc.CreatePOFromPRs(context.Background(), CreatePOInput{
		PRIDs:    []int64{second.ID, first.ID},
		Supplier: "Siam Tyres",
		Tax: &finance.TaxConfig{
			VATEnabled: true,
			VATRate:    num("7"),
			WHTEnabled: true,
			WHTRate:    num("3"),
		},
		Actor: "buyer",
	})
	require.NoError(t, err)
	require.Equal(t, "PO-2026-00001", po.Number)
	require.Equal(t, POStatusOrdered, po.Status)
	require.Equal(t, []int64{second.ID, first.ID}, po.LinkedPRIDs)
	require.Equal(t, []string{second.Number, first.Number}, po.LinkedPRNumbers)

	require.Len(t, po.Lines, 3)
	require.Equal(t, "Fan belt", po.Lines[0].Name)
	require.Equal(t, second.ID, po.Lines[0].SourcePRID)
	require.Equal(t, 3, po.Lines[2].LineNo)

	require.Equal(t, "1000.00", po.Totals.ItemsTotal.StringFixed(2))
	require.Equal(t, "70.00", po.Totals.VATAmount.StringFixed(2))
	require.Equal(t, "1070.00", po.Totals.Subtotal.StringFixed(2))
	require.Equal(t, "30.00", po.Totals.WHTAmount.StringFixed(2))
	require.Equal(t, "1040.00", po.Totals.TotalAmount.StringFixed(2))

	for _, id := range []int64{first.ID, second.ID} {
		pr := f.repo.prs[id]
		require.Equal(t, PRStatusOrdered, pr.Status)
		require.Equal(t, po.Number, pr.RelatedPONumber)
	}

	require.Len(t, f.notifier.events, 1)
	require.Equal(t, notify.EventPOCreated, f.notifier.events[0].Type)
	require.Equal(t, "Siam Tyres", f.notifier.events[0].Supplier)
}

func TestCreatePOUsesDefaultTaxAndDiscounts(t *testing.T) {
	f := newFixture()
	pr := f.approvedPR(t, tyreLine())

	po, err := f.svc.CreatePOFromPRs(context.Background(), CreatePOInput{
		PRIDs:     []int64{pr.ID},
		Supplier:  "Siam Tyres",
		Discounts: map[int64]decimal.Decimal{pr.Lines[0].ID: num("50")},
	})
	require.NoError(t, err)
	require.Equal(t, "350.00", po.Lines[0].LineTotal.StringFixed(2))
	require.Equal(t, "24.50", po.Totals.VATAmount.StringFixed(2))
	require.Equal(t, "374.50", po.Totals.TotalAmount.StringFixed(2))
	require.Equal(t, shared.SystemActor, po.CreatedBy)
}

func TestCreatePORejectsInvalidSelection(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pr := f.approvedPR(t, tyreLine())

	_, err := f.svc.CreatePOFromPRs(ctx, CreatePOInput{Supplier: "x"})
	require.ErrorIs(t, err, ErrNoPRsSelected)

	_, err = f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{pr.ID, pr.ID}, Supplier: "x"})
	require.ErrorIs(t, err, ErrDuplicatePR)

	draft, err := f.svc.CreatePR(ctx, CreatePRInput{Lines: []PRLineInput{labourLine()}})
	require.NoError(t, err)
	_, err = f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{pr.ID, draft.ID}, Supplier: "x"})
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, PRStatusApproved, f.repo.prs[pr.ID].Status)
	require.Empty(t, f.repo.prs[pr.ID].RelatedPONumber)

	_, err = f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{pr.ID}, Supplier: "x", Discounts: map[int64]decimal.Decimal{9999: num("1")}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{pr.ID}, Supplier: "x", Tax: &finance.TaxConfig{VATRate: num("-7")}})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, f.repo.pos)
}

func TestCreatePORejectsAlreadyLinkedPR(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pr := f.approvedPR(t, tyreLine())
	other := f.approvedPR(t, beltLine())

	_, err := f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{pr.ID}, Supplier: "A"})
	require.NoError(t, err)

	_, err = f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{other.ID, pr.ID}, Supplier: "B"})
	require.ErrorIs(t, err, ErrAlreadyLinked)
	require.Len(t, f.repo.pos, 1)
	require.Equal(t, PRStatusApproved, f.repo.prs[other.ID].Status)
	require.Empty(t, f.repo.prs[other.ID].RelatedPONumber)
}

func TestCreatePOIdempotencyKey(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pr := f.approvedPR(t, tyreLine())

	_, err := f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{pr.ID}, Supplier: "A", IdempotencyKey: "k1"})
	require.NoError(t, err)
	_, err = f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{pr.ID}, Supplier: "A", IdempotencyKey: "k1"})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	_, err = f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{pr.ID}, Supplier: "A", IdempotencyKey: "k2"})
	require.ErrorIs(t, err, ErrAlreadyLinked)
	require.NotContains(t, f.keys.keys, "po:k2")
	require.Contains(t, f.keys.keys, "po:k1")
}

func TestPreviewPODoesNotPersist(t *testing.T) {
	f := newFixture()
	pr := f.approvedPR(t, tyreLine(), labourLine())

	po, err := f.svc.PreviewPO(context.Background(), CreatePOInput{PRIDs: []int64{pr.ID}, Supplier: "A"})
	require.NoError(t, err)
	require.Empty(t, po.Number)
	require.Equal(t, "642.00", po.Totals.TotalAmount.StringFixed(2))
	require.Empty(t, f.repo.pos)
	require.Equal(t, PRStatusApproved, f.repo.prs[pr.ID].Status)
	require.Empty(t, f.notifier.events)
}

func TestReceivePORequiresEvidence(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pr := f.approvedPR(t, tyreLine())
	po, err := f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{pr.ID}, Supplier: "A"})
	require.NoError(t, err)

	_, err = f.svc.ReceivePO(ctx, ReceivePOInput{POID: po.ID, EvidenceURLs: []string{"  "}})
	require.ErrorIs(t, err, ErrEvidenceRequired)
	require.Empty(t, f.stock.receipts)
	require.Equal(t, POStatusOrdered, f.repo.pos[po.ID].Status)
}

func TestReceivePOPostsLedgerAndClosesPRs(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pr := f.approvedPR(t, tyreLine(), labourLine())
	po, err := f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{pr.ID}, Supplier: "A"})
	require.NoError(t, err)

	received, err := f.svc.ReceivePO(ctx, ReceivePOInput{POID: po.ID, EvidenceURLs: []string{"https://files.local/evidence/a.jpg"}, Actor: "storekeeper"})
	require.NoError(t, err)
	require.Equal(t, POStatusReceived, received.Status)
	require.NotNil(t, received.ReceivedAt)
	require.Equal(t, []string{"https://files.local/evidence/a.jpg"}, f.repo.pos[po.ID].EvidenceURLs)
	require.Equal(t, PRStatusReceived, f.repo.prs[pr.ID].Status)
	require.Equal(t, po.Number, f.repo.prs[pr.ID].RelatedPONumber)

	require.Len(t, f.stock.receipts, 1)
	receipt := f.stock.receipts[0]
	require.Equal(t, po.Number, receipt.DocumentNumber)
	require.Equal(t, "storekeeper", receipt.Actor)
	require.Len(t, receipt.Lines, 2)
	require.Equal(t, int64(7), receipt.Lines[0].StockItemID)
	require.Equal(t, int64(0), receipt.Lines[1].StockItemID)

	_, err = f.svc.ReceivePO(ctx, ReceivePOInput{POID: po.ID, EvidenceURLs: []string{"https://files.local/evidence/b.jpg"}})
	require.ErrorIs(t, err, ErrInvalidState)
	require.Len(t, f.stock.receipts, 1)

	last := f.notifier.events[len(f.notifier.events)-1]
	require.Equal(t, notify.EventPOReceived, last.Type)
	require.Len(t, last.EvidenceURLs, 1)
}

func TestReceivePORollsBackWhenLedgerFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pr := f.approvedPR(t, tyreLine())
	po, err := f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{pr.ID}, Supplier: "A"})
	require.NoError(t, err)

	f.stock.err = inventory.ErrUnknownItem
	_, err = f.svc.ReceivePO(ctx, ReceivePOInput{POID: po.ID, EvidenceURLs: []string{"https://files.local/a.jpg"}})
	require.ErrorIs(t, err, inventory.ErrUnknownItem)
	require.Equal(t, POStatusOrdered, f.repo.pos[po.ID].Status)
	require.Equal(t, PRStatusOrdered, f.repo.prs[pr.ID].Status)
}

func TestCancelPOReleasesPRs(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pr := f.approvedPR(t, tyreLine())
	po, err := f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{pr.ID}, Supplier: "A"})
	require.NoError(t, err)

	cancelled, err := f.svc.CancelPO(ctx, po.ID, "buyer", "supplier out of stock")
	require.NoError(t, err)
	require.Equal(t, POStatusCancelled, cancelled.Status)
	require.Equal(t, "supplier out of stock", f.repo.pos[po.ID].CancelReason)
	require.Equal(t, PRStatusApproved, f.repo.prs[pr.ID].Status)
	require.Empty(t, f.repo.prs[pr.ID].RelatedPONumber)
	require.Empty(t, f.stock.receipts)

	_, err = f.svc.CancelPO(ctx, po.ID, "buyer", "again")
	require.ErrorIs(t, err, ErrInvalidState)

	again, err := f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{pr.ID}, Supplier: "B"})
	require.NoError(t, err)
	require.Equal(t, "PO-2026-00002", again.Number)
	require.Equal(t, again.Number, f.repo.prs[pr.ID].RelatedPONumber)
}

func TestCancelOrderedPRRepricesSharedOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tyres := f.approvedPR(t, tyreLine())
	belts := f.approvedPR(t, beltLine())
	po, err := f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{tyres.ID, belts.ID}, Supplier: "A"})
	require.NoError(t, err)
	require.Equal(t, "856.00", po.Totals.TotalAmount.StringFixed(2))

	cancelled, err := f.svc.CancelPR(ctx, tyres.ID, "manager")
	require.NoError(t, err)
	require.Equal(t, PRStatusCancelled, cancelled.Status)
	require.Empty(t, f.repo.prs[tyres.ID].RelatedPONumber)

	stored := f.repo.pos[po.ID]
	require.Equal(t, POStatusOrdered, stored.Status)
	require.Equal(t, []int64{belts.ID}, stored.LinkedPRIDs)
	require.Equal(t, []string{belts.Number}, stored.LinkedPRNumbers)
	require.Len(t, stored.Lines, 1)
	require.Equal(t, belts.ID, stored.Lines[0].SourcePRID)
	require.Equal(t, "400.00", stored.Totals.ItemsTotal.StringFixed(2))
	require.Equal(t, "428.00", stored.Totals.TotalAmount.StringFixed(2))
	require.Equal(t, PRStatusOrdered, f.repo.prs[belts.ID].Status)

	_, err = f.svc.ReceivePO(ctx, ReceivePOInput{POID: po.ID, EvidenceURLs: []string{"https://files.local/a.jpg"}})
	require.NoError(t, err)
	require.Equal(t, PRStatusCancelled, f.repo.prs[tyres.ID].Status)
	require.Equal(t, PRStatusReceived, f.repo.prs[belts.ID].Status)
	require.Len(t, f.stock.receipts, 1)
	require.Len(t, f.stock.receipts[0].Lines, 1)
	require.Equal(t, int64(8), f.stock.receipts[0].Lines[0].StockItemID)
}

func TestCancelOrderedPRCancelsSoleOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pr := f.approvedPR(t, tyreLine())
	po, err := f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{pr.ID}, Supplier: "A"})
	require.NoError(t, err)

	cancelled, err := f.svc.CancelPR(ctx, pr.ID, "manager")
	require.NoError(t, err)
	require.Equal(t, PRStatusCancelled, cancelled.Status)
	require.Empty(t, cancelled.RelatedPONumber)
	require.Equal(t, POStatusCancelled, f.repo.pos[po.ID].Status)
	require.Contains(t, f.repo.pos[po.ID].CancelReason, pr.Number)
	require.Equal(t, notify.EventPOCancelled, f.notifier.events[len(f.notifier.events)-1].Type)

	_, err = f.svc.CancelPR(ctx, pr.ID, "manager")
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = f.svc.ReceivePO(ctx, ReceivePOInput{POID: po.ID, EvidenceURLs: []string{"https://files.local/a.jpg"}})
	require.ErrorIs(t, err, ErrInvalidState)
	require.Empty(t, f.stock.receipts)
}

func TestCancelOrderedPRWithDriftedLink(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pr := f.approvedPR(t, labourLine())
	drifted := f.repo.prs[pr.ID]
	drifted.Status = PRStatusOrdered
	drifted.RelatedPONumber = "PO-2026-00099"
	f.repo.prs[pr.ID] = drifted

	cancelled, err := f.svc.CancelPR(ctx, pr.ID, "manager")
	require.NoError(t, err)
	require.Equal(t, PRStatusCancelled, cancelled.Status)
	require.Empty(t, f.repo.prs[pr.ID].RelatedPONumber)
	require.Empty(t, f.repo.pos)
}

func TestCancelPRAfterReceiptIsRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pr := f.approvedPR(t, tyreLine())
	po, err := f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{pr.ID}, Supplier: "A"})
	require.NoError(t, err)
	_, err = f.svc.ReceivePO(ctx, ReceivePOInput{POID: po.ID, EvidenceURLs: []string{"https://files.local/a.jpg"}})
	require.NoError(t, err)

	_, err = f.svc.CancelPR(ctx, pr.ID, "manager")
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, PRStatusReceived, f.repo.prs[pr.ID].Status)
	require.Equal(t, POStatusReceived, f.repo.pos[po.ID].Status)
}

func TestOrphanedPRsAreDetectedAndRepaired(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	missing := f.approvedPR(t, tyreLine())
	viaCancelled := f.approvedPR(t, beltLine())
	healthy := f.approvedPR(t, labourLine())

	po, err := f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{viaCancelled.ID}, Supplier: "A"})
	require.NoError(t, err)
	_, err = f.svc.CreatePOFromPRs(ctx, CreatePOInput{PRIDs: []int64{healthy.ID}, Supplier: "B"})
	require.NoError(t, err)

	drifted := f.repo.prs[missing.ID]
	drifted.Status = PRStatusOrdered
	drifted.RelatedPONumber = "PO-2026-00099"
	f.repo.prs[missing.ID] = drifted
	stale := f.repo.pos[po.ID]
	stale.Status = POStatusCancelled
	f.repo.pos[po.ID] = stale

	orphans, err := f.svc.ListOrphanedPRs(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 2)
	require.Equal(t, missing.ID, orphans[0].PR.ID)
	require.Equal(t, OrphanMissingOrder, orphans[0].Reason)
	require.Equal(t, viaCancelled.ID, orphans[1].PR.ID)
	require.Equal(t, OrphanCancelledOrder, orphans[1].Reason)

	repaired, err := f.svc.RepairOrphanPR(ctx, missing.ID, "admin")
	require.NoError(t, err)
	require.Equal(t, PRStatusApproved, repaired.Status)
	require.Empty(t, f.repo.prs[missing.ID].RelatedPONumber)

	_, err = f.svc.RepairOrphanPR(ctx, healthy.ID, "admin")
	require.ErrorIs(t, err, ErrNotOrphaned)
	_, err = f.svc.RepairOrphanPR(ctx, missing.ID, "admin")
	require.ErrorIs(t, err, ErrNotOrphaned)

	orphans, err = f.svc.ListOrphanedPRs(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
}

func TestLineRefJSON(t *testing.T) {
	var ref LineRef
	require.NoError(t, ref.UnmarshalJSON([]byte(`{"kind":"STOCK","stock_item_id":12}`)))
	id, ok := ref.StockItemID()
	require.True(t, ok)
	require.Equal(t, int64(12), id)

	out, err := ServiceLine().MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":"SERVICE"}`, string(out))

	require.ErrorIs(t, ref.UnmarshalJSON([]byte(`{"kind":"STOCK"}`)), ErrValidation)
	require.ErrorIs(t, ref.UnmarshalJSON([]byte(`{"kind":"SERVICE","stock_item_id":3}`)), ErrValidation)
	require.ErrorIs(t, ref.UnmarshalJSON([]byte(`{"kind":"WHAT"}`)), ErrValidation)
}
