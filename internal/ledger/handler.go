package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const dateLayout = "2006-01-02"

// Handler wires HTTP endpoints for the batch ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
	binder  *httpx.Binder
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, binder: httpx.NewBinder()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/batches", h.handleReceive)
	r.Get("/batches/{id}", h.handleGet)
	r.Post("/batches/{id}/reduce", h.handleAdjust(false))
	r.Post("/batches/{id}/increase", h.handleAdjust(true))
	r.Get("/products/{code}/batches", h.handleListByProduct)
	r.Get("/products/{code}/next-batch", h.handleNextBatch)
	r.Get("/products/{code}/remaining", h.handleRemaining)
	r.Get("/expiring", h.handleExpiring)
	r.Get("/expired", h.handleExpired)
	r.Get("/summary", h.handleSummary)
}

type receiveRequest struct {
	ProductCode   string          `json:"product_code" validate:"required"`
	Quantity      int             `json:"quantity" validate:"gt=0"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	PurchaseDate  string          `json:"purchase_date" validate:"omitempty,datetime=2006-01-02"`
	ExpiryDate    string          `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	Supplier      string          `json:"supplier"`
}

type adjustRequest struct {
	Amount int `json:"amount" validate:"gt=0"`
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := h.binder.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := ReceiveInput{
		ProductCode:   req.ProductCode,
		Quantity:      req.Quantity,
		PurchasePrice: req.PurchasePrice,
		Supplier:      req.Supplier,
	}
	if req.PurchaseDate != "" {
		input.PurchaseDate, _ = time.Parse(dateLayout, req.PurchaseDate)
	}
	if req.ExpiryDate != "" {
		expiry, _ := time.Parse(dateLayout, req.ExpiryDate)
		input.ExpiryDate = &expiry
	}
	batch, err := h.service.Receive(r.Context(), input)
	if err != nil {
		h.respond(w, "receive batch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Validation("invalid batch id"))
		return
	}
	batch, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respond(w, "get batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) handleAdjust(increase bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.RespondError(w, shared.Validation("invalid batch id"))
			return
		}
		var req adjustRequest
		if err := h.binder.Bind(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		var batch Batch
		if increase {
			batch, err = h.service.Increase(r.Context(), id, req.Amount)
		} else {
			batch, err = h.service.Reduce(r.Context(), id, req.Amount)
		}
		if err != nil {
			h.respond(w, "adjust batch", err)
			return
		}
		httpx.JSON(w, http.StatusOK, batch)
	}
}

func (h *Handler) handleListByProduct(w http.ResponseWriter, r *http.Request) {
	batches, err := h.service.ListByProduct(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respond(w, "list batches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) handleNextBatch(w http.ResponseWriter, r *http.Request) {
	qty, err := strconv.Atoi(r.URL.Query().Get("qty"))
	if err != nil {
		qty = 1
	}
	batch, err := h.service.SelectBatchFor(r.Context(), chi.URLParam(r, "code"), qty)
	if err != nil {
		h.respond(w, "select batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) handleRemaining(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	total, err := h.service.TotalRemaining(r.Context(), code)
	if err != nil {
		h.respond(w, "total remaining", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_code": code, "remaining": total})
}

func (h *Handler) handleExpiring(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, shared.Validation("days must be an integer"))
			return
		}
		days = parsed
	}
	batches, err := h.service.ExpiringWithin(r.Context(), days)
	if err != nil {
		h.respond(w, "list expiring", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) handleExpired(w http.ResponseWriter, r *http.Request) {
	batches, err := h.service.Expired(r.Context())
	if err != nil {
		h.respond(w, "list expired", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		h.respond(w, "summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) respond(w http.ResponseWriter, op string, err error) {
	if !shared.IsBusinessError(err) {
		h.logger.Error("ledger: "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
