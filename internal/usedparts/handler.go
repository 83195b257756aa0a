package usedparts

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fleetmaint/backoffice/internal/inventory"
	"github.com/fleetmaint/backoffice/internal/platform/httpx"
	"github.com/fleetmaint/backoffice/internal/shared"
)

type batchService interface {
	CreateBatch(ctx context.Context, input CreateBatchInput) (Batch, error)
	GetBatch(ctx context.Context, id int64) (Batch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
	ApplyDisposition(ctx context.Context, batchID int64, input DispositionInput) (Outcome, error)
}

// Handler wires HTTP endpoints for used-part batches.
type Handler struct {
	logger  *slog.Logger
	service batchService
}

// NewHandler constructs the used-parts handler.
func NewHandler(logger *slog.Logger, service batchService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers used-parts routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/batches", h.handleList)
	r.Post("/batches", h.handleCreate)
	r.Get("/batches/{id}", h.handleGet)
	r.Post("/batches/{id}/dispositions", h.handleDisposition)
}

type batchView struct {
	Batch
	Remaining decimal.Decimal `json:"remaining"`
	Status    Status          `json:"status"`
}

func newBatchView(b Batch) batchView {
	return batchView{Batch: b, Remaining: b.Remaining(), Status: b.Status()}
}

type createBatchRequest struct {
	Name                 string          `json:"name" validate:"required,max=200"`
	VehicleRef           string          `json:"vehicle_ref" validate:"max=64"`
	InitialQuantity      decimal.Decimal `json:"initial_quantity"`
	Unit                 string          `json:"unit" validate:"required,max=32"`
	RevolvingStockItemID int64           `json:"revolving_stock_item_id" validate:"gte=0"`
	Notes                string          `json:"notes" validate:"max=500"`
}

type newItemRequest struct {
	Code      string          `json:"code" validate:"required,max=64"`
	Name      string          `json:"name" validate:"required,max=200"`
	Category  string          `json:"category" validate:"max=100"`
	Unit      string          `json:"unit" validate:"max=32"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type dispositionRequest struct {
	Type             string          `json:"type" validate:"required,oneof=CONVERTED_TO_BULK CONVERTED_TO_REVOLVING DISPOSED"`
	Quantity         decimal.Decimal `json:"quantity"`
	TargetItemID     int64           `json:"target_item_id" validate:"gte=0"`
	NewRevolvingItem *newItemRequest `json:"new_revolving_item" validate:"omitempty"`
	Notes            string          `json:"notes" validate:"max=500"`
}

type outcomeView struct {
	Batch       batchView              `json:"batch"`
	Disposition Disposition            `json:"disposition"`
	Transaction *inventory.Transaction `json:"transaction,omitempty"`
	CreatedItem *inventory.StockItem   `json:"created_item,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, offset := shared.Window(httpx.QueryInt(r, "page", 1), httpx.QueryInt(r, "per_page", 50))
	batches, err := h.service.ListBatches(r.Context(), BatchFilter{
		Search: r.URL.Query().Get("search"),
		Status: Status(strings.ToUpper(r.URL.Query().Get("status"))),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]batchView, 0, len(batches))
	for _, b := range batches {
		views = append(views, newBatchView(b))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": views})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, err := h.service.CreateBatch(r.Context(), CreateBatchInput{
		Name:                 req.Name,
		VehicleRef:           req.VehicleRef,
		InitialQuantity:      req.InitialQuantity,
		Unit:                 req.Unit,
		RevolvingStockItemID: req.RevolvingStockItemID,
		Notes:                req.Notes,
		Actor:                shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newBatchView(batch))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, err := h.service.GetBatch(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newBatchView(batch))
}

func (h *Handler) handleDisposition(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req dispositionRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := DispositionInput{
		Type:         DispositionType(req.Type),
		Quantity:     req.Quantity,
		TargetItemID: req.TargetItemID,
		Notes:        req.Notes,
		Actor:        shared.ActorFromContext(r.Context()),
	}
	if req.NewRevolvingItem != nil {
		input.NewRevolvingItem = &NewRevolvingItem{
			Code:      req.NewRevolvingItem.Code,
			Name:      req.NewRevolvingItem.Name,
			Category:  req.NewRevolvingItem.Category,
			Unit:      req.NewRevolvingItem.Unit,
			UnitPrice: req.NewRevolvingItem.UnitPrice,
		}
	}
	out, err := h.service.ApplyDisposition(r.Context(), id, input)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, outcomeView{
		Batch:       newBatchView(out.Batch),
		Disposition: out.Disposition,
		Transaction: out.Transaction,
		CreatedItem: out.CreatedItem,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBatchNotFound):
		httpx.Problem(w, http.StatusNotFound, "Batch Not Found", err.Error())
	case errors.Is(err, inventory.ErrUnknownItem):
		httpx.Problem(w, http.StatusNotFound, "Stock Item Not Found", err.Error())
	case errors.Is(err, inventory.ErrDuplicateCode):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrRevolvingItemRequired), errors.Is(err, ErrBulkItemRequired):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Stock Item Required", err.Error())
	case errors.Is(err, ErrOverDisposition), errors.Is(err, ErrInvalidBatch), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidDisposition), errors.Is(err, ErrInvalidStatus), errors.Is(err, inventory.ErrInvalidItem):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		h.logger.Error("used parts request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
