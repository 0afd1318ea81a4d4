package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

type sampleRequest struct {
	Product  string `json:"product" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

func TestBindValidates(t *testing.T) {
	b := NewBinder()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"product":"A","quantity":2}`))
	var ok sampleRequest
	require.NoError(t, b.Bind(req, &ok))
	assert.Equal(t, 2, ok.Quantity)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"product":"","quantity":0}`))
	var bad sampleRequest
	err := b.Bind(req, &bad)
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "Product failed required")
	assert.Contains(t, err.Error(), "Quantity failed gt")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"unknown":1}`))
	require.ErrorIs(t, b.Bind(req, &bad), ErrMalformedBody)
}

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.NotFound("bill", 1), http.StatusNotFound},
		{&shared.InsufficientStockError{Product: "A", Requested: 2}, http.StatusUnprocessableEntity},
		{&shared.InvalidStateTransitionError{Entity: "order", From: "PENDING", To: "SHIPPED"}, http.StatusConflict},
		{shared.ErrIdempotencyConflict, http.StatusConflict},
		{shared.Validation("bad"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		assert.Equal(t, tc.status, rr.Code, tc.err.Error())
	}
}

func TestRespondErrorsListsEveryProblem(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondErrors(rr, "Checkout Rejected", []error{errors.New("a"), errors.New("b")})

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, []string{"a", "b"}, body.Errors)
	assert.Empty(t, body.Shortfalls)
}

func TestRespondErrorsCarriesShortfalls(t *testing.T) {
	rr := httptest.NewRecorder()
	short := &shared.InsufficientStockError{Product: "MILK", Channel: "PHYSICAL", Requested: 25, Available: 19}
	RespondErrors(rr, "Checkout Rejected", []error{
		shared.Validation("quantity must be positive"),
		fmt.Errorf("line 2: %w", short),
	})

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Errors, 2)
	require.Len(t, body.Shortfalls, 1)
	assert.Equal(t, StockShortfall{Product: "MILK", Channel: "PHYSICAL", Requested: 25, Available: 19, Shortfall: 6}, body.Shortfalls[0])
	assert.Contains(t, rr.Body.String(), `"shortfall":6`)

	rr = httptest.NewRecorder()
	RespondError(rr, short)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	body = ProblemDetail{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Insufficient Stock", body.Title)
	require.Len(t, body.Shortfalls, 1)
	assert.Equal(t, "MILK", body.Shortfalls[0].Product)
}
