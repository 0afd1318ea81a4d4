package orders

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/checkout"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Handler wires HTTP endpoints for orders.
type Handler struct {
	logger  *slog.Logger
	service *Service
	binder  *httpx.Binder
}

// NewHandler constructs the orders handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, binder: httpx.NewBinder()}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handlePlace)
	r.Get("/", h.handleList)
	r.Get("/customers/{customerID}/stats", h.handleStats)
	r.Get("/{ref}", h.handleGet)
	r.Put("/{id}/shipping", h.handleShipping)
	r.Post("/{id}/confirm", h.step(h.service.Confirm))
	r.Post("/{id}/process", h.step(h.service.StartProcessing))
	r.Post("/{id}/ship", h.step(h.service.Ship))
	r.Post("/{id}/deliver", h.step(h.service.Deliver))
	r.Post("/{id}/advance", h.step(h.service.Advance))
	r.Post("/{id}/cancel", h.withReason(h.service.Cancel))
	r.Post("/{id}/refund", h.withReason(h.service.Refund))
}

// MountCustomerRoutes registers the per-customer order views.
func (h *Handler) MountCustomerRoutes(r chi.Router) {
	r.Get("/{customerID}/order-stats", h.handleStats)
	r.Get("/{customerID}/orders", h.handleCustomerOrders)
}

type placeRequest struct {
	CustomerID      int64           `json:"customer_id" validate:"required,gt=0"`
	ShippingAddress string          `json:"shipping_address" validate:"required,max=500"`
	ShippingPhone   string          `json:"shipping_phone" validate:"max=32"`
	Notes           string          `json:"notes" validate:"max=1000"`
	Lines           []checkout.Line `json:"lines" validate:"required,min=1,dive"`
	Discount        decimal.Decimal `json:"discount"`
	IdempotencyKey  string          `json:"idempotency_key"`
}

type shippingRequest struct {
	Address string `json:"shipping_address" validate:"required,max=500"`
	Phone   string `json:"shipping_phone" validate:"max=32"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) handlePlace(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if err := h.binder.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}
	order, errs, err := h.service.Place(r.Context(), PlaceInput{
		CustomerID:      req.CustomerID,
		ShippingAddress: req.ShippingAddress,
		ShippingPhone:   req.ShippingPhone,
		Notes:           req.Notes,
		Lines:           req.Lines,
		Discount:        req.Discount,
		IdempotencyKey:  key,
	})
	if err != nil {
		h.respond(w, "place", err)
		return
	}
	if len(errs) > 0 {
		httpx.RespondErrors(w, "Order Rejected", errs)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := shared.ParsePage(q.Get("page"), q.Get("per_page"))
	f := Filter{Limit: page.Limit(), Offset: page.Offset(), ActiveOnly: q.Get("active") == "true"}
	if raw := q.Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, shared.Validation("invalid customer id"))
			return
		}
		f.CustomerID = id
	}
	if raw := q.Get("status"); raw != "" {
		st, err := ParseStatus(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		f.Status = st
	}
	list, err := h.service.List(r.Context(), f)
	if err != nil {
		h.respond(w, "list", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.Get(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.respond(w, "get", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "customerID"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Validation("invalid customer id"))
		return
	}
	stats, err := h.service.CustomerStats(r.Context(), id)
	if err != nil {
		h.respond(w, "stats", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleCustomerOrders(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "customerID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.Validation("invalid customer id"))
		return
	}
	q := r.URL.Query()
	page := shared.ParsePage(q.Get("page"), q.Get("per_page"))
	list, err := h.service.List(r.Context(), Filter{CustomerID: id, Limit: page.Limit(), Offset: page.Offset()})
	if err != nil {
		h.respond(w, "list", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) handleShipping(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req shippingRequest
	if err := h.binder.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.UpdateShipping(r.Context(), id, req.Address, req.Phone)
	if err != nil {
		h.respond(w, "update shipping", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) step(fn func(context.Context, int64) (Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := orderID(w, r)
		if !ok {
			return
		}
		order, err := fn(r.Context(), id)
		if err != nil {
			h.respond(w, "transition", err)
			return
		}
		httpx.JSON(w, http.StatusOK, order)
	}
}

func (h *Handler) withReason(fn func(context.Context, int64, string) (Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := orderID(w, r)
		if !ok {
			return
		}
		var req reasonRequest
		if r.ContentLength != 0 {
			if err := h.binder.Bind(r, &req); err != nil {
				httpx.RespondError(w, err)
				return
			}
		}
		order, err := fn(r.Context(), id, req.Reason)
		if err != nil {
			h.respond(w, "transition", err)
			return
		}
		httpx.JSON(w, http.StatusOK, order)
	}
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.Validation("invalid order id"))
		return 0, false
	}
	return id, true
}

func (h *Handler) respond(w http.ResponseWriter, op string, err error) {
	if !shared.IsBusinessError(err) {
		h.logger.Error("orders: "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
