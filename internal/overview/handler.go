package overview

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleetmaint/backoffice/internal/platform/httpx"
)

type summaryService interface {
	Summary(ctx context.Context) (Summary, error)
}

// Handler serves the overview endpoint.
type Handler struct {
	logger  *slog.Logger
	service summaryService
}

// NewHandler constructs overview handler.
func NewHandler(logger *slog.Logger, service summaryService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers overview routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleSummary)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		h.logger.Error("overview summary failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
