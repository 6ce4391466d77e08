package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubOdds struct {
	gotSeason, gotMarket int64
	gotRange             domain.OddsRange
	err                  error
}

func (s *stubOdds) Query(_ context.Context, seasonID, marketID int64, rng domain.OddsRange) (domain.OddsHistory, error) {
	s.gotSeason, s.gotMarket, s.gotRange = seasonID, marketID, rng
	if s.err != nil {
		return domain.OddsHistory{}, s.err
	}
	p := domain.InitialOddsPoint(seasonID, marketID, 1500, time.Unix(0, 0))
	return domain.OddsHistory{Points: []domain.OddsPoint{p}, Count: 1}, nil
}

func serve(pattern string, h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestOddsHandler_GetHistory(t *testing.T) {
	odds := &stubOdds{}
	h := NewOddsHandler(odds, quietLogger())

	rec := serve("GET /api/odds/{season}/{market}", h.GetHistory, "/api/odds/3/42?range=1w")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, odds.gotSeason)
	assert.EqualValues(t, 42, odds.gotMarket)
	assert.Equal(t, domain.OddsRange1W, odds.gotRange)

	var body struct {
		Range   string             `json:"range"`
		History domain.OddsHistory `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1W", body.Range)
	assert.Equal(t, 1, body.History.Count)
	assert.Equal(t, 1500, body.History.Points[0].YesBps)
}

func TestOddsHandler_DefaultsTo1D(t *testing.T) {
	odds := &stubOdds{}
	h := NewOddsHandler(odds, quietLogger())

	rec := serve("GET /api/odds/{season}/{market}", h.GetHistory, "/api/odds/1/2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OddsRange1D, odds.gotRange)
}

func TestOddsHandler_BadInput(t *testing.T) {
	h := NewOddsHandler(&stubOdds{}, quietLogger())

	for _, target := range []string{"/api/odds/x/2", "/api/odds/1/0", "/api/odds/1/2?range=5Y"} {
		rec := serve("GET /api/odds/{season}/{market}", h.GetHistory, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestOddsHandler_StoreError(t *testing.T) {
	h := NewOddsHandler(&stubOdds{err: errors.New("db down")}, quietLogger())
	rec := serve("GET /api/odds/{season}/{market}", h.GetHistory, "/api/odds/1/2")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestHealthHandler(t *testing.T) {
	ok := NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
	}, quietLogger())
	rec := serve("GET /api/health", ok.HealthCheck, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)

	bad := NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, quietLogger())
	rec = serve("GET /api/health", bad.HealthCheck, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}

type stubCursors []domain.ListenerCursor

func (s stubCursors) List(context.Context) ([]domain.ListenerCursor, error) { return s, nil }

type stubArmed []string

func (s stubArmed) Keys() []string { return s }

func TestListenerHandler_MergesArmedAndPersisted(t *testing.T) {
	cursors := stubCursors{
		{ListenerKey: "positionupdate:0xaa", LastProcessedBlock: 120, UpdatedAt: time.Unix(100, 0)},
		{ListenerKey: "seasonstarted:0xbb", LastProcessedBlock: 90},
	}
	h := NewListenerHandler(stubArmed{"positionupdate:0xaa", "marketcreated:0xcc"}, cursors, quietLogger())

	rec := serve("GET /api/listeners", h.List, "/api/listeners")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Listeners []listenerView `json:"listeners"`
		Count     int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Count)

	byKey := map[string]listenerView{}
	for _, l := range body.Listeners {
		byKey[l.Key] = l
	}
	assert.True(t, byKey["positionupdate:0xaa"].Armed)
	assert.EqualValues(t, 120, byKey["positionupdate:0xaa"].LastBlock)
	assert.False(t, byKey["seasonstarted:0xbb"].Armed)
	assert.True(t, byKey["marketcreated:0xcc"].Armed)
}

type stubAttempts []domain.FailedMarketAttempt

func (s stubAttempts) Recent(_ context.Context, limit int) ([]domain.FailedMarketAttempt, error) {
	return s, nil
}

type stubAudit struct{ limit int }

func (s *stubAudit) Recent(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	s.limit = limit
	return nil, nil
}

func TestOpsHandler(t *testing.T) {
	attempts := stubAttempts{{
		ID:            "5b8f2f7e-0d7e-4b0a-9a53-5c1b8cbd2f10",
		SeasonID:      1,
		PlayerAddress: "0xabc",
		Type:          domain.WinnerPrediction,
		Error:         "reverted",
		Attempts:      3,
		Source:        "threshold-crossing",
	}}
	audit := &stubAudit{}
	h := NewOpsHandler(attempts, audit, quietLogger())

	rec := serve("GET /api/markets/failed", h.FailedAttempts, "/api/markets/failed")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"market_type":"WINNER_PREDICTION"`)
	assert.Contains(t, rec.Body.String(), `"source":"threshold-crossing"`)

	rec = serve("GET /api/audit", h.Audit, "/api/audit?limit=10000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"entries":[],"count":0}`, rec.Body.String())
	assert.Equal(t, maxLimit, audit.limit)
}
