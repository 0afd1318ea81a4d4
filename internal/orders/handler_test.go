package orders_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-retail/internal/orders"
)

func (s *OrdersTestSuite) call(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func (s *OrdersTestSuite) TestHandlerRoutes() {
	r := chi.NewRouter()
	h := orders.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), s.service)
	h.MountRoutes(r)
	customers := chi.NewRouter()
	h.MountCustomerRoutes(customers)

	body := `{"customer_id":9,"shipping_address":"4 Quay St","lines":[{"product_code":"MILK","quantity":2}]}`
	rec := s.call(r, http.MethodPost, "/", body)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var placed orders.Order
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &placed))
	s.Equal("ORD-000001", placed.OrderNumber)
	s.Equal("7.39", placed.Total.StringFixed(2))

	rec = s.call(r, http.MethodPost, "/", `{"customer_id":9,"shipping_address":"4 Quay St","lines":[{"product_code":"MILK","quantity":50}]}`)
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
	s.Contains(rec.Body.String(), "insufficient stock")

	rec = s.call(r, http.MethodPost, "/", `{"shipping_address":"x","lines":[]}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.call(r, http.MethodGet, "/ord-000001", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"status":"PENDING"`)
	rec = s.call(r, http.MethodGet, "/ORD-999999", "")
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.call(r, http.MethodPut, "/1/shipping", `{"shipping_address":"5 Quay St","shipping_phone":"555"}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Contains(rec.Body.String(), "5 Quay St")

	rec = s.call(r, http.MethodPost, "/1/advance", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"status":"CONFIRMED"`)
	rec = s.call(r, http.MethodPost, "/1/process", "")
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.call(r, http.MethodPut, "/1/shipping", `{"shipping_address":"6 Quay St"}`)
	s.Equal(http.StatusConflict, rec.Code)
	rec = s.call(r, http.MethodPost, "/1/deliver", "")
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.call(r, http.MethodPost, "/1/cancel", `{"reason":"address unreachable"}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Contains(rec.Body.String(), "Cancellation reason: address unreachable")
	rec = s.call(r, http.MethodPost, "/1/refund", "")
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.call(r, http.MethodPost, "/abc/ship", "")
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.call(r, http.MethodGet, "/?customer_id=9&status=cancelled", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "ORD-000001")
	rec = s.call(r, http.MethodGet, "/?status=lost", "")
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.call(r, http.MethodGet, "/customers/9/stats", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	var stats orders.CustomerStats
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &stats))
	s.Equal(orders.CustomerStats{CustomerID: 9, Total: 1, Cancelled: 1}, stats)

	rec = s.call(customers, http.MethodGet, "/9/order-stats", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"cancelled":1`)
	rec = s.call(customers, http.MethodGet, "/9/orders", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "ORD-000001")
	rec = s.call(customers, http.MethodGet, "/x/orders", "")
	s.Equal(http.StatusBadRequest, rec.Code)
}
