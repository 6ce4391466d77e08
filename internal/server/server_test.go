package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/infofisync/internal/domain"
	"github.com/alanyoungcy/infofisync/internal/server/handler"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type emptyAudit struct{}

func (emptyAudit) Recent(context.Context, int) ([]domain.AuditEntry, error) { return nil, nil }

type emptyAttempts struct{}

func (emptyAttempts) Recent(context.Context, int) ([]domain.FailedMarketAttempt, error) {
	return nil, nil
}

type countingLimiter struct{ allowed int }

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	if l.allowed == 0 {
		return false, nil
	}
	l.allowed--
	return true, nil
}

func testHandler(cfg Config, limiter domain.RateLimiter) http.Handler {
	logger := quietLogger()
	return Handler(cfg, Routes{
		Health:  handler.NewHealthHandler(nil, logger),
		Ops:     handler.NewOpsHandler(emptyAttempts{}, emptyAudit{}, logger),
		Limiter: limiter,
	}, logger)
}

func do(h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_AuthLeavesHealthOpen(t *testing.T) {
	h := testHandler(Config{APIKey: "s3cret"}, nil)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/audit", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/audit", map[string]string{"X-API-Key": "nope"}).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/audit", map[string]string{"Authorization": "Bearer s3cret"}).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/markets/failed", map[string]string{"X-API-Key": "s3cret"}).Code)
}

func TestHandler_UnwiredRoutesAre404(t *testing.T) {
	h := testHandler(Config{}, nil)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/odds/1/2", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/listeners", nil).Code)
}

func TestHandler_CORSPreflight(t *testing.T) {
	h := testHandler(Config{CORSOrigins: []string{"https://app.example"}}, nil)

	rec := do(h, http.MethodOptions, "/api/audit", map[string]string{"Origin": "https://app.example"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(h, http.MethodGet, "/api/health", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandler_RateLimit(t *testing.T) {
	h := testHandler(Config{RateLimitPerMinute: 60}, &countingLimiter{allowed: 1})

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", nil).Code)
	rec := do(h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
