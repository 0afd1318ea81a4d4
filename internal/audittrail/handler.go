package audittrail

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Handler exposes read-only history endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the audit trail handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers history routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/transactions", h.handleList)
	r.Get("/bills/{id}/transactions", h.handleForBill)
	r.Get("/products/{code}/net-change", h.handleNetChange)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		ProductCode: strings.ToUpper(strings.TrimSpace(q.Get("product"))),
		Kind:        Kind(strings.ToUpper(q.Get("kind"))),
	}
	var err error
	if raw := q.Get("batch_id"); raw != "" {
		if filter.BatchID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			httpx.RespondError(w, shared.Validation("invalid batch_id"))
			return
		}
	}
	if filter.From, err = parseDate(q.Get("from")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = parseDate(q.Get("to")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !filter.To.IsZero() {
		// inclusive end date
		filter.To = filter.To.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	page, err := h.service.List(r.Context(), filter, shared.ParsePage(q.Get("page"), q.Get("per_page")))
	if err != nil {
		h.respond(w, "list transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleForBill(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Validation("invalid bill id"))
		return
	}
	entries, err := h.service.ForBill(r.Context(), id)
	if err != nil {
		h.respond(w, "bill transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleNetChange(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	net, err := h.service.NetChange(r.Context(), code)
	if err != nil {
		h.respond(w, "net change", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_code": code, "net_change": net})
}

func (h *Handler) respond(w http.ResponseWriter, op string, err error) {
	if !shared.IsBusinessError(err) {
		h.logger.Error("audittrail: "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, shared.Validation("invalid date %q", raw)
	}
	return t, nil
}
