package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fleetmaint/backoffice/internal/platform/httpx"
	"github.com/fleetmaint/backoffice/internal/shared"
)

type ledgerService interface {
	CreateItem(ctx context.Context, input CreateItemInput) (StockItem, error)
	GetItem(ctx context.Context, id int64) (StockItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]StockItem, error)
	PostTransaction(ctx context.Context, stockItemID int64, txType TransactionType, delta decimal.Decimal, meta Meta) (Transaction, error)
	History(ctx context.Context, stockItemID int64, limit int) ([]Transaction, error)
	VerifyBalance(ctx context.Context) ([]Drift, error)
}

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger  *slog.Logger
	service ledgerService
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service ledgerService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.handleListItems)
	r.Post("/items", h.handleCreateItem)
	r.Get("/items/{id}", h.handleGetItem)
	r.Get("/items/{id}/transactions", h.handleHistory)
	r.Post("/items/{id}/transactions", h.handlePostTransaction)
	r.Get("/integrity", h.handleIntegrity)
}

type itemView struct {
	StockItem
	Status Status `json:"status"`
}

func newItemView(item StockItem) itemView {
	return itemView{StockItem: item, Status: item.Status()}
}

type createItemRequest struct {
	Code               string              `json:"code" validate:"required,max=64"`
	Name               string              `json:"name" validate:"required,max=200"`
	Category           string              `json:"category" validate:"max=100"`
	Unit               string              `json:"unit" validate:"required,max=32"`
	OpeningQuantity    decimal.Decimal     `json:"opening_quantity"`
	MinStock           decimal.Decimal     `json:"min_stock"`
	MaxStock           decimal.NullDecimal `json:"max_stock"`
	UnitPrice          decimal.Decimal     `json:"unit_price"`
	IsRevolvingPart    bool                `json:"is_revolving_part"`
	IsFungibleUsedItem bool                `json:"is_fungible_used_item"`
}

type postTransactionRequest struct {
	Type           string              `json:"type" validate:"required,oneof=RECEIPT WITHDRAWAL ADJUSTMENT RETURN SALE"`
	Delta          decimal.Decimal     `json:"delta"`
	UnitPrice      decimal.NullDecimal `json:"unit_price"`
	DocumentNumber string              `json:"document_number" validate:"max=64"`
	Note           string              `json:"note" validate:"max=500"`
	AllowNegative  bool                `json:"allow_negative"`
}

type postTransactionResponse struct {
	Transaction Transaction `json:"transaction"`
	Item        itemView    `json:"item"`
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := shared.Window(httpx.QueryInt(r, "page", 1), httpx.QueryInt(r, "per_page", 50))
	items, err := h.service.ListItems(r.Context(), ItemFilter{
		Search:   q.Get("search"),
		Category: q.Get("category"),
		Status:   Status(strings.ToUpper(q.Get("status"))),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]itemView, 0, len(items))
	for _, item := range items {
		views = append(views, newItemView(item))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": views})
}

func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.CreateItem(r.Context(), CreateItemInput{
		Code:               req.Code,
		Name:               req.Name,
		Category:           req.Category,
		Unit:               req.Unit,
		OpeningQuantity:    req.OpeningQuantity,
		MinStock:           req.MinStock,
		MaxStock:           req.MaxStock,
		UnitPrice:          req.UnitPrice,
		IsRevolvingPart:    req.IsRevolvingPart,
		IsFungibleUsedItem: req.IsFungibleUsedItem,
		Actor:              shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newItemView(item))
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newItemView(item))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	txns, err := h.service.History(r.Context(), id, httpx.QueryInt(r, "limit", defaultHistoryLimit))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if txns == nil {
		txns = []Transaction{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (h *Handler) handlePostTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req postTransactionRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	txType := TransactionType(req.Type)
	if txType.Outflow() && req.Delta.IsNegative() && !req.AllowNegative {
		item, err := h.service.GetItem(r.Context(), id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if err := CheckWithdrawal(item, req.Delta.Neg()); err != nil {
			h.writeError(w, err)
			return
		}
	}
	txn, err := h.service.PostTransaction(r.Context(), id, txType, req.Delta, Meta{
		DocumentNumber: req.DocumentNumber,
		Actor:          shared.ActorFromContext(r.Context()),
		Note:           req.Note,
		UnitPrice:      req.UnitPrice,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, postTransactionResponse{Transaction: txn, Item: newItemView(item)})
}

func (h *Handler) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.service.VerifyBalance(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if drifts == nil {
		drifts = []Drift{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balanced": len(drifts) == 0, "drifts": drifts})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownItem):
		httpx.Problem(w, http.StatusNotFound, "Stock Item Not Found", err.Error())
	case errors.Is(err, ErrDuplicateCode), errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrDuplicateReceipt):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidItem), errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidType), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidDelta):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		h.logger.Error("inventory request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
