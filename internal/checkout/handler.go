package checkout

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/channelstock"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Handler wires HTTP endpoints for checkout, bills and drafts.
type Handler struct {
	logger *slog.Logger
	engine *Engine
	drafts *DraftStore
	binder *httpx.Binder
}

// NewHandler constructs the checkout handler.
func NewHandler(logger *slog.Logger, engine *Engine, drafts *DraftStore) *Handler {
	return &Handler{logger: logger, engine: engine, drafts: drafts, binder: httpx.NewBinder()}
}

// MountRoutes registers checkout routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/checkout", h.handleCheckout)
	r.Get("/checkout/stock", h.handleCheckStock)
	r.Get("/bills/{id}", h.handleGetBill)
	r.Post("/bills/{id}/reverse", h.handleReverse)

	r.Route("/drafts", func(r chi.Router) {
		r.Post("/", h.handleNewDraft)
		r.Get("/{id}", h.handleGetDraft)
		r.Post("/{id}/items", h.withDraft(h.addItem))
		r.Put("/{id}/items/{code}", h.withDraft(h.updateItem))
		r.Delete("/{id}/items/{code}", h.withDraft(h.removeItem))
		r.Delete("/{id}/items", h.withDraft(h.clearItems))
		r.Post("/{id}/discount", h.withDraft(h.applyDiscount))
		r.Post("/{id}/payment", h.withDraft(h.processPayment))
		r.Post("/{id}/finalize", h.handleFinalize)
		r.Delete("/{id}", h.handleCancelDraft)
	})
}

type checkoutRequest struct {
	Channel        string           `json:"channel" validate:"required"`
	PaymentKind    string           `json:"payment_kind" validate:"required,oneof=CASH CREDIT"`
	CustomerID     *int64           `json:"customer_id"`
	Cashier        string           `json:"cashier"`
	Lines          []Line           `json:"lines" validate:"required,min=1,dive"`
	Discount       decimal.Decimal  `json:"discount"`
	Tax            *decimal.Decimal `json:"tax"`
	Tendered       decimal.Decimal  `json:"tendered"`
	IdempotencyKey string           `json:"idempotency_key"`
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type newDraftRequest struct {
	Channel    string `json:"channel" validate:"required"`
	Cashier    string `json:"cashier"`
	CustomerID *int64 `json:"customer_id"`
}

type itemRequest struct {
	ProductCode string `json:"product_code" validate:"required"`
	Quantity    int    `json:"quantity" validate:"gt=0"`
}

type quantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=0"`
}

type discountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type paymentRequest struct {
	Kind     string          `json:"kind" validate:"required,oneof=CASH CREDIT"`
	Tendered decimal.Decimal `json:"tendered"`
}

type draftView struct {
	*Draft
	Totals Totals `json:"totals"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := h.binder.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ch, err := channelstock.ParseChannel(req.Channel)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}
	res, err := h.engine.Checkout(r.Context(), Request{
		Channel:        ch,
		PaymentKind:    PaymentKind(req.PaymentKind),
		CustomerID:     req.CustomerID,
		Cashier:        cashier(r.Context(), req.Cashier),
		Lines:          req.Lines,
		Discount:       req.Discount,
		Tax:            req.Tax,
		Tendered:       req.Tendered,
		IdempotencyKey: key,
	})
	h.writeResult(w, res, err)
}

func (h *Handler) handleCheckStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ch, err := channelstock.ParseChannel(q.Get("channel"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	qty, err := strconv.Atoi(q.Get("qty"))
	if err != nil {
		httpx.RespondError(w, shared.Validation("qty must be an integer"))
		return
	}
	a, err := h.engine.CheckStock(r.Context(), ch, q.Get("product"), qty)
	if err != nil {
		h.respond(w, "check stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) handleGetBill(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	var (
		bill Bill
		err  error
	)
	if id, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil {
		bill, err = h.engine.Bill(r.Context(), id)
	} else {
		bill, err = h.engine.BillBySerial(r.Context(), strings.ToUpper(raw))
	}
	if err != nil {
		h.respond(w, "get bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Validation("invalid bill id"))
		return
	}
	var req reverseRequest
	if err := h.binder.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	bill, err := h.engine.Reverse(r.Context(), id, req.Reason)
	if err != nil {
		h.respond(w, "reverse bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) handleNewDraft(w http.ResponseWriter, r *http.Request) {
	var req newDraftRequest
	if err := h.binder.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ch, err := channelstock.ParseChannel(req.Channel)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.engine.NewDraft(ch, cashier(r.Context(), req.Cashier), req.CustomerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.drafts.Save(r.Context(), d); err != nil {
		h.respond(w, "save draft", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, draftView{Draft: d, Totals: d.Totals()})
}

func (h *Handler) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.drafts.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respond(w, "load draft", err)
		return
	}
	httpx.JSON(w, http.StatusOK, draftView{Draft: d, Totals: d.Totals()})
}

// withDraft loads the draft, applies edit and saves it when edit succeeds.
func (h *Handler) withDraft(edit func(*http.Request, *Draft) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := h.drafts.Load(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			h.respond(w, "load draft", err)
			return
		}
		if err := edit(r, d); err != nil {
			h.respond(w, "edit draft", err)
			return
		}
		if err := h.drafts.Save(r.Context(), d); err != nil {
			h.respond(w, "save draft", err)
			return
		}
		httpx.JSON(w, http.StatusOK, draftView{Draft: d, Totals: d.Totals()})
	}
}

func (h *Handler) addItem(r *http.Request, d *Draft) error {
	var req itemRequest
	if err := h.binder.Bind(r, &req); err != nil {
		return err
	}
	return h.engine.AddItem(r.Context(), d, req.ProductCode, req.Quantity)
}

func (h *Handler) updateItem(r *http.Request, d *Draft) error {
	var req quantityRequest
	if err := h.binder.Bind(r, &req); err != nil {
		return err
	}
	return h.engine.UpdateQuantity(r.Context(), d, chi.URLParam(r, "code"), req.Quantity)
}

func (h *Handler) removeItem(r *http.Request, d *Draft) error {
	return d.RemoveItem(chi.URLParam(r, "code"), h.engine.clock())
}

func (h *Handler) clearItems(_ *http.Request, d *Draft) error {
	return d.ClearItems(h.engine.clock())
}

func (h *Handler) applyDiscount(r *http.Request, d *Draft) error {
	var req discountRequest
	if err := h.binder.Bind(r, &req); err != nil {
		return err
	}
	return d.ApplyDiscount(req.Amount, h.engine.clock())
}

func (h *Handler) processPayment(r *http.Request, d *Draft) error {
	var req paymentRequest
	if err := h.binder.Bind(r, &req); err != nil {
		return err
	}
	if PaymentKind(req.Kind) == PaymentCash {
		return d.ProcessCashPayment(req.Tendered, h.engine.clock())
	}
	return d.ProcessCreditPayment(h.engine.clock())
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	d, err := h.drafts.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respond(w, "load draft", err)
		return
	}
	res, err := h.engine.Finalize(r.Context(), d)
	if err == nil && res.OK() {
		if delErr := h.drafts.Delete(r.Context(), d.ID); delErr != nil {
			h.logger.Warn("finalized draft not removed", slog.String("draft_id", d.ID), slog.Any("error", delErr))
		}
	}
	h.writeResult(w, res, err)
}

func (h *Handler) handleCancelDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := h.drafts.Load(r.Context(), id)
	if err != nil {
		h.respond(w, "load draft", err)
		return
	}
	if err := d.Cancel(h.engine.clock()); err != nil {
		h.respond(w, "cancel draft", err)
		return
	}
	if err := h.drafts.Delete(r.Context(), id); err != nil {
		h.respond(w, "delete draft", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeResult(w http.ResponseWriter, res Result, err error) {
	if err != nil {
		h.respond(w, "checkout", err)
		return
	}
	if !res.OK() {
		httpx.RespondErrors(w, "Checkout Rejected", res.Errors)
		return
	}
	httpx.JSON(w, http.StatusCreated, res.Bill)
}

func (h *Handler) respond(w http.ResponseWriter, op string, err error) {
	if !shared.IsBusinessError(err) {
		h.logger.Error("checkout: "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func cashier(ctx context.Context, given string) string {
	if given != "" {
		return given
	}
	return shared.ActorFromContext(ctx)
}
