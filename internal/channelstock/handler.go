package channelstock

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Handler wires HTTP endpoints for both channels.
type Handler struct {
	logger    *slog.Logger
	stocks    map[Channel]*Stock
	binder    *httpx.Binder
	threshold int
}

// NewHandler constructs the channel stock handler. threshold is the default for low stock queries.
func NewHandler(logger *slog.Logger, threshold int, stocks ...*Stock) *Handler {
	byChannel := make(map[Channel]*Stock, len(stocks))
	for _, s := range stocks {
		byChannel[s.Channel()] = s
	}
	return &Handler{logger: logger, stocks: byChannel, binder: httpx.NewBinder(), threshold: threshold}
}

// MountRoutes registers channel stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/{channel}", func(r chi.Router) {
		r.Post("/restock", h.handleRestock)
		r.Get("/products/{code}", h.handleProduct)
		r.Get("/check", h.handleCheck)
		r.Get("/low", h.handleLow)
		r.Get("/summary", h.handleSummary)
	})
}

type restockRequest struct {
	ProductCode string `json:"product_code" validate:"required"`
	BatchID     int64  `json:"batch_id" validate:"gte=0"`
	Quantity    int    `json:"quantity" validate:"gt=0"`
}

type productStock struct {
	ProductCode string   `json:"product_code"`
	Channel     Channel  `json:"channel"`
	Available   int      `json:"available"`
	Records     []Record `json:"records"`
}

func (h *Handler) stock(w http.ResponseWriter, r *http.Request) (*Stock, bool) {
	ch, err := ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		httpx.RespondError(w, err)
		return nil, false
	}
	s, ok := h.stocks[ch]
	if !ok {
		httpx.RespondError(w, shared.NotFound("channel", ch))
		return nil, false
	}
	return s, true
}

func (h *Handler) handleRestock(w http.ResponseWriter, r *http.Request) {
	s, ok := h.stock(w, r)
	if !ok {
		return
	}
	var req restockRequest
	if err := h.binder.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var (
		res RestockResult
		err error
	)
	if req.BatchID > 0 {
		res, err = s.Restock(r.Context(), req.ProductCode, req.BatchID, req.Quantity)
	} else {
		res, err = s.RestockAuto(r.Context(), req.ProductCode, req.Quantity)
	}
	if err != nil {
		h.respond(w, "restock", err)
		return
	}
	status := http.StatusOK
	if res.Status == RestockFailed {
		status = http.StatusUnprocessableEntity
	}
	httpx.JSON(w, status, res)
}

func (h *Handler) handleProduct(w http.ResponseWriter, r *http.Request) {
	s, ok := h.stock(w, r)
	if !ok {
		return
	}
	records, err := s.Records(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respond(w, "records", err)
		return
	}
	out := productStock{ProductCode: chi.URLParam(r, "code"), Channel: s.Channel(), Records: records}
	for _, rec := range records {
		out.ProductCode = rec.ProductCode
		out.Available += rec.Quantity
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	s, ok := h.stock(w, r)
	if !ok {
		return
	}
	qty, err := strconv.Atoi(r.URL.Query().Get("qty"))
	if err != nil || qty <= 0 {
		httpx.RespondError(w, shared.Validation("qty must be a positive integer"))
		return
	}
	product := r.URL.Query().Get("product")
	if product == "" {
		httpx.RespondError(w, shared.Validation("product required"))
		return
	}
	res, err := s.Check(r.Context(), product, qty)
	if err != nil {
		h.respond(w, "check", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleLow(w http.ResponseWriter, r *http.Request) {
	s, ok := h.stock(w, r)
	if !ok {
		return
	}
	threshold := h.threshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, shared.Validation("threshold must be an integer"))
			return
		}
		threshold = parsed
	}
	levels, err := s.LowStock(r.Context(), threshold)
	if err != nil {
		h.respond(w, "low stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, levels)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	s, ok := h.stock(w, r)
	if !ok {
		return
	}
	levels, err := s.Summary(r.Context())
	if err != nil {
		h.respond(w, "summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, levels)
}

func (h *Handler) respond(w http.ResponseWriter, op string, err error) {
	if !shared.IsBusinessError(err) {
		h.logger.Error("channelstock: "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
