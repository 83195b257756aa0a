package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fleetmaint/backoffice/internal/evidence"
	"github.com/fleetmaint/backoffice/internal/finance"
	"github.com/fleetmaint/backoffice/internal/inventory"
	"github.com/fleetmaint/backoffice/internal/platform/httpx"
	"github.com/fleetmaint/backoffice/internal/shared"
)

const maxEvidenceBytes = 32 << 20

type procurementService interface {
	CreatePR(ctx context.Context, input CreatePRInput) (PurchaseRequisition, error)
	SubmitPR(ctx context.Context, prID int64, actor string) (PurchaseRequisition, error)
	ApprovePR(ctx context.Context, prID int64, actor string) (PurchaseRequisition, error)
	CancelPR(ctx context.Context, prID int64, actor string) (PurchaseRequisition, error)
	GetPR(ctx context.Context, id int64) (PurchaseRequisition, error)
	ListPRs(ctx context.Context, filter PRFilter) ([]PurchaseRequisition, error)
	ListOrphanedPRs(ctx context.Context) ([]OrphanedPR, error)
	RepairOrphanPR(ctx context.Context, prID int64, actor string) (PurchaseRequisition, error)
	PreviewPO(ctx context.Context, input CreatePOInput) (PurchaseOrder, error)
	CreatePOFromPRs(ctx context.Context, input CreatePOInput) (PurchaseOrder, error)
	ReceivePO(ctx context.Context, input ReceivePOInput) (PurchaseOrder, error)
	CancelPO(ctx context.Context, poID int64, actor, reason string) (PurchaseOrder, error)
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	GetPOByNumber(ctx context.Context, number string) (PurchaseOrder, error)
	ListPOs(ctx context.Context, filter POFilter) ([]PurchaseOrder, error)
}

// Uploader stores receipt evidence and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, f evidence.File, dir string) (string, error)
}

// Handler wires HTTP endpoints for procurement.
type Handler struct {
	logger   *slog.Logger
	service  procurementService
	uploader Uploader
}

// NewHandler constructs procurement handler. uploader may be nil, in which
// case receipts accept evidence URLs only.
func NewHandler(logger *slog.Logger, service procurementService, uploader Uploader) *Handler {
	return &Handler{logger: logger, service: service, uploader: uploader}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/prs", h.handleListPRs)
	r.Post("/prs", h.handleCreatePR)
	r.Get("/prs/orphans", h.handleListOrphans)
	r.Get("/prs/{id}", h.handleGetPR)
	r.Post("/prs/{id}/submit", h.handlePRTransition(h.service.SubmitPR))
	r.Post("/prs/{id}/approve", h.handlePRTransition(h.service.ApprovePR))
	r.Post("/prs/{id}/cancel", h.handlePRTransition(h.service.CancelPR))
	r.Post("/prs/{id}/repair", h.handlePRTransition(h.service.RepairOrphanPR))

	r.Get("/pos", h.handleListPOs)
	r.Post("/pos", h.handleCreatePO)
	r.Post("/pos/preview", h.handlePreviewPO)
	r.Get("/pos/by-number/{number}", h.handleGetPOByNumber)
	r.Get("/pos/{id}", h.handleGetPO)
	r.Post("/pos/{id}/receive", h.handleReceivePO)
	r.Post("/pos/{id}/cancel", h.handleCancelPO)
}

type prLineRequest struct {
	Ref       LineRef         `json:"ref"`
	Name      string          `json:"name" validate:"required,max=200"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type createPRRequest struct {
	Note  string          `json:"note" validate:"max=500"`
	Lines []prLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type createPORequest struct {
	PRIDs     []int64                   `json:"pr_ids"`
	Supplier  string                    `json:"supplier" validate:"required,max=200"`
	Note      string                    `json:"note" validate:"max=500"`
	Tax       *finance.TaxConfig        `json:"tax"`
	Discounts map[int64]decimal.Decimal `json:"discounts"`
}

type receivePORequest struct {
	EvidenceURLs []string `json:"evidence_urls" validate:"dive,url"`
}

type cancelPORequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (r createPORequest) input(req *http.Request) CreatePOInput {
	return CreatePOInput{
		PRIDs:          r.PRIDs,
		Supplier:       r.Supplier,
		Note:           r.Note,
		Tax:            r.Tax,
		Discounts:      r.Discounts,
		Actor:          shared.ActorFromContext(req.Context()),
		IdempotencyKey: req.Header.Get("Idempotency-Key"),
	}
}

func (h *Handler) handleListPRs(w http.ResponseWriter, r *http.Request) {
	limit, offset := shared.Window(httpx.QueryInt(r, "page", 1), httpx.QueryInt(r, "per_page", 50))
	prs, err := h.service.ListPRs(r.Context(), PRFilter{
		Status: PRStatus(strings.ToUpper(r.URL.Query().Get("status"))),
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if prs == nil {
		prs = []PurchaseRequisition{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_requisitions": prs})
}

func (h *Handler) handleCreatePR(w http.ResponseWriter, r *http.Request) {
	var req createPRRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	input := CreatePRInput{Requester: shared.ActorFromContext(r.Context()), Note: req.Note}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, PRLineInput(line))
	}
	pr, err := h.service.CreatePR(r.Context(), input)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pr)
}

func (h *Handler) handleGetPR(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pr, err := h.service.GetPR(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) handlePRTransition(fn func(context.Context, int64, string) (PurchaseRequisition, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		pr, err := fn(r.Context(), id, shared.ActorFromContext(r.Context()))
		if err != nil {
			h.writeError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, pr)
	}
}

func (h *Handler) handleListOrphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := h.service.ListOrphanedPRs(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if orphans == nil {
		orphans = []OrphanedPR{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orphans": orphans})
}

func (h *Handler) handleListPOs(w http.ResponseWriter, r *http.Request) {
	limit, offset := shared.Window(httpx.QueryInt(r, "page", 1), httpx.QueryInt(r, "per_page", 50))
	pos, err := h.service.ListPOs(r.Context(), POFilter{
		Status: POStatus(strings.ToUpper(r.URL.Query().Get("status"))),
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if pos == nil {
		pos = []PurchaseOrder{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_orders": pos})
}

func (h *Handler) handlePreviewPO(w http.ResponseWriter, r *http.Request) {
	var req createPORequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	po, err := h.service.PreviewPO(r.Context(), req.input(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) handleCreatePO(w http.ResponseWriter, r *http.Request) {
	var req createPORequest
	if err := httpx.Bind(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	po, err := h.service.CreatePOFromPRs(r.Context(), req.input(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) handleGetPO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.GetPO(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) handleGetPOByNumber(w http.ResponseWriter, r *http.Request) {
	po, err := h.service.GetPOByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

// handleReceivePO accepts either a multipart form with "evidence" files or a
// JSON body of already stored evidence URLs.
func (h *Handler) handleReceivePO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var urls []string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		urls, err = h.uploadEvidence(r, id)
	} else {
		var req receivePORequest
		err = httpx.Bind(r, &req)
		urls = req.EvidenceURLs
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	po, err := h.service.ReceivePO(r.Context(), ReceivePOInput{
		POID:         id,
		EvidenceURLs: urls,
		Actor:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) uploadEvidence(r *http.Request, poID int64) ([]string, error) {
	if h.uploader == nil {
		return nil, fmt.Errorf("%w: file uploads are not configured", httpx.ErrBadRequest)
	}
	r.Body = http.MaxBytesReader(nil, r.Body, maxEvidenceBytes)
	if err := r.ParseMultipartForm(maxEvidenceBytes); err != nil {
		return nil, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err)
	}
	var urls []string
	for _, fh := range r.MultipartForm.File["evidence"] {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err)
		}
		url, err := h.uploader.Upload(r.Context(), evidence.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		}, fmt.Sprintf("receipts/po-%d", poID))
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func (h *Handler) handleCancelPO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req cancelPORequest
	if err := httpx.Bind(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	po, err := h.service.CancelPO(r.Context(), id, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPRNotFound), errors.Is(err, ErrPONotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAlreadyLinked),
		errors.Is(err, ErrNotOrphaned), errors.Is(err, shared.ErrIdempotencyConflict), errors.Is(err, inventory.ErrDuplicateReceipt):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNoPRsSelected), errors.Is(err, ErrDuplicatePR),
		errors.Is(err, ErrEvidenceRequired), errors.Is(err, evidence.ErrEmptyFile), errors.Is(err, inventory.ErrUnknownItem):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, httpx.ErrValidation), errors.Is(err, httpx.ErrBadRequest):
		httpx.RespondError(w, err)
	default:
		h.logger.Error("procurement request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
