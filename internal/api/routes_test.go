package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/p2p-ledger/internal/ledger"
	"github.com/kjannette/p2p-ledger/internal/models"
	"github.com/kjannette/p2p-ledger/internal/rates"
	"github.com/kjannette/p2p-ledger/internal/repository"
	"github.com/kjannette/p2p-ledger/internal/stats"
	"github.com/kjannette/p2p-ledger/internal/testutil"
)

type downLedger struct{ *repository.MemoryLedger }

func (downLedger) Append(context.Context, models.TradeRecord) error {
	return fmt.Errorf("postgres: append trade: %w: %w", ledger.ErrUnavailable, errors.New("connection refused"))
}

func newTestServer(t *testing.T, apiKey string) (*Server, *repository.MemoryLedger) {
	t.Helper()
	mem := repository.NewMemoryLedger()
	engine := stats.NewEngine(mem, rates.NewResolver(nil, nil, rates.Options{}), time.UTC, time.Second)
	s := NewServer(mem, engine, Options{APIKey: apiKey}, nil)
	s.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	return s, mem
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestCreateTrade(t *testing.T) {
	s, mem := newTestServer(t, "")

	rr := do(t, s, http.MethodPost, "/v1/trades?owner=7",
		`{"exchange":"Binance","buyRate":"90","sellRate":"91.73","volume":"1000","principal":"90000"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var rec models.TradeRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "1730.00", rec.Profit.StringFixed(2))
	assert.Equal(t, "2026-03-14", rec.Day())
	assert.Equal(t, models.RUB, rec.Currency)

	stored, err := mem.List(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, rec.ID, stored[0].ID)
}

func TestCreateTrade_Rejects(t *testing.T) {
	s, mem := newTestServer(t, "")

	cases := map[string]string{
		"bad json":        `{"exchange":`,
		"unknown field":   `{"exchange":"X","leverage":3}`,
		"empty exchange":  `{"exchange":" ","buyRate":"1","sellRate":"2","volume":"1","principal":"1"}`,
		"zero buy":        `{"exchange":"X","buyRate":"0","sellRate":"2","volume":"1","principal":"1"}`,
		"negative extras": `{"exchange":"X","buyRate":"1","sellRate":"2","volume":"1","principal":"1","expenses":"-1"}`,
		"bad currency":    `{"exchange":"X","buyRate":"1","sellRate":"2","volume":"1","principal":"1","currency":"EUR"}`,
		"bad date":        `{"exchange":"X","buyRate":"1","sellRate":"2","volume":"1","principal":"1","date":"14/03"}`,
	}
	for name, body := range cases {
		rr := do(t, s, http.MethodPost, "/v1/trades?owner=7", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, name)
	}

	rr := do(t, s, http.MethodPost, "/v1/trades",
		`{"exchange":"X","buyRate":"1","sellRate":"2","volume":"1","principal":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "missing owner")

	stored, _ := mem.List(context.Background(), 7)
	assert.Empty(t, stored)
}

func TestCreateTrade_LedgerDown(t *testing.T) {
	mem := repository.NewMemoryLedger()
	engine := stats.NewEngine(mem, rates.NewResolver(nil, nil, rates.Options{}), time.UTC, time.Second)
	s := NewServer(downLedger{mem}, engine, Options{}, nil)

	rr := do(t, s, http.MethodPost, "/v1/trades?owner=7",
		`{"exchange":"X","buyRate":"1","sellRate":"2","volume":"1","principal":"1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestListAndDay(t *testing.T) {
	s, mem := newTestServer(t, "")
	ctx := context.Background()

	a := testutil.Trade("a", 7, "90", "92", "10")
	b := testutil.Trade("b", 7, "90", "91", "10")
	b.OccurredOn = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	other := testutil.Trade("c", 8, "90", "91", "10")
	for _, r := range []models.TradeRecord{a, b, other} {
		require.NoError(t, mem.Append(ctx, r))
	}

	var list []models.TradeRecord
	rr := do(t, s, http.MethodGet, "/v1/trades?owner=7", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)

	rr = do(t, s, http.MethodGet, "/v1/trades/day/2026-03-15?owner=7", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)

	rr = do(t, s, http.MethodGet, "/v1/trades/day/2026-3-15?owner=7", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, http.MethodGet, "/v1/trades?owner=7&period=week", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProfit(t *testing.T) {
	s, mem := newTestServer(t, "")
	ctx := context.Background()
	require.NoError(t, mem.Append(ctx, testutil.Trade("a", 7, "90", "92", "10")))
	require.NoError(t, mem.Append(ctx, testutil.Trade("b", 7, "90", "89", "10")))

	var out summaryJSON
	rr := do(t, s, http.MethodGet, "/v1/profit?owner=7", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, 1, out.Losses)
	assert.Equal(t, "10.00", out.Profit[models.RUB])
	assert.Nil(t, out.Total)
	assert.False(t, out.ConversionUnavailable)

	// No providers, no cache, no default rate.
	rr = do(t, s, http.MethodGet, "/v1/profit?owner=7&currency=usd", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.True(t, out.ConversionUnavailable)
	assert.Nil(t, out.Total)

	rr = do(t, s, http.MethodGet, "/v1/profit?owner=7&currency=RUB", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.NotNil(t, out.Total)
	assert.Equal(t, "10.00", *out.Total)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	rr := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var h healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "in-memory", h.Services.Ledger)

	rr = do(t, s, http.MethodGet, "/v1/profit?owner=7", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
