package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
	_ "github.com/odyssey-erp/odyssey-retail/testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthAndReadiness(t *testing.T) {
	healthy := PingFunc(func(context.Context) error { return nil })
	router := NewRouter(RouterParams{
		Logger:    testLogger(),
		Config:    &Config{RateLimitPerMinute: 100},
		Readiness: map[string]Pinger{"postgres": healthy},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"postgres":"up"}`, rec.Body.String())
}

func TestReadinessReportsDownDependency(t *testing.T) {
	router := NewRouter(RouterParams{
		Logger: testLogger(),
		Readiness: map[string]Pinger{
			"postgres": PingFunc(func(context.Context) error { return nil }),
			"redis":    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
		},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"postgres":"up","redis":"down"}`, rec.Body.String())
}

func TestActorMiddlewareAttachesCaller(t *testing.T) {
	var seen []string
	r := chi.NewRouter()
	r.Use(actorMiddleware)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, shared.ActorFromContext(r.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, " cashier-7 ")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"cashier-7", shared.SystemActor}, seen)
}

func TestTestModeDetected(t *testing.T) {
	RefreshTestMode()
	assert.True(t, InTestMode())
}
