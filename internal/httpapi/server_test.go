package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flight-deal-scanner/internal/advisor"
	"flight-deal-scanner/internal/budget"
	"flight-deal-scanner/internal/domain"
	"flight-deal-scanner/internal/metrics"
	"flight-deal-scanner/internal/storage"
	"flight-deal-scanner/internal/threshold"
)

var now = time.Date(2025, 9, 2, 10, 0, 0, 0, time.UTC)

const dealID = "6f1c1f5e-3b7a-4c55-9f0e-2d8a3b1f6a10"

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	ledger := budget.NewLedger(1000, time.UTC)
	require.True(t, ledger.TryReserve(1, 3, now))

	srv := New(Options{Addr: ":0"}, Deps{
		Budget:     ledger,
		Thresholds: threshold.NewEngine(threshold.DefaultOptions(), store, zerolog.Nop()),
		Advisor:    advisor.NewTracker(store, nil, zerolog.Nop()),
		Store:      store,
		Metrics:    metrics.New().Handler(),
		Now:        func() time.Time { return now },
	}, zerolog.Nop())
	return srv, store
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "flightscan_budget_remaining_calls")

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/nope", "").Code)
}

func TestBudgetEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/v1/budget", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Calls       budget.Snapshot       `json:"calls"`
		PrimeStatus string                `json:"prime_status"`
		Multiplier  float64               `json:"multiplier"`
		Advisor     []domain.AdvisorUsage `json:"advisor"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Calls.TotalCallsToday)
	assert.Equal(t, 997, resp.Calls.Remaining)
	assert.Equal(t, "prime", resp.PrimeStatus)
	assert.InDelta(t, 1.5, resp.Multiplier, 1e-9)
	assert.Len(t, resp.Advisor, 2)
}

func TestThresholdsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/v1/thresholds", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap threshold.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 25.0, snap.Thresholds[domain.SegmentPremium])
}

func TestLastScanEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/v1/scans/last", "").Code)

	require.NoError(t, store.InsertScanCycle(context.Background(), domain.ScanCycle{ID: "c1", StartedAt: now, Attempted: 4, CallsConsumed: 9}))
	rec := do(t, srv, http.MethodGet, "/v1/scans/last", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got cycleJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, 9, got.CallsConsumed)
}

func seedDeal(t *testing.T, store *storage.MemoryStore) {
	t.Helper()
	deal := domain.DealCandidate{
		ID:             dealID,
		Route:          domain.Route{ID: 1, Origin: "CDG", Destination: "JFK", Tier: domain.Tier1},
		Fare:           domain.FareSample{Price: decimal.RequireFromString("199.9"), Currency: "EUR"},
		Segment:        domain.SegmentPremium,
		Recommendation: domain.RecommendSend,
		DetectedAt:     now,
	}
	require.NoError(t, store.InsertDealCandidate(context.Background(), deal))
	require.NoError(t, store.RecordAlertSent(context.Background(), deal.ID, deal.Segment, now))
}

func TestDealsEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	seedDeal(t, store)

	rec := do(t, srv, http.MethodGet, "/v1/deals?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var deals []dealJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deals))
	require.Len(t, deals, 1)
	assert.Equal(t, "CDG-JFK", deals[0].Route)
	assert.Equal(t, "199.90", deals[0].Price)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/v1/deals?limit=0", "").Code)
}

func TestEngagementEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	seedDeal(t, store)

	rec := do(t, srv, http.MethodPost, "/v1/deals/"+dealID+"/engagement", `{"segment":"premium","event":"clicked"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	outcomes, err := store.SegmentOutcomesSince(context.Background(), now.Add(-time.Hour))
	require.NoError(t, err)
	var clicked int64
	for _, o := range outcomes {
		clicked += o.Clicked
	}
	assert.Equal(t, int64(1), clicked)

	assert.Equal(t, http.StatusNotFound,
		do(t, srv, http.MethodPost, "/v1/deals/"+dealID+"/engagement", `{"segment":"free","event":"opened"}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, srv, http.MethodPost, "/v1/deals/"+dealID+"/engagement", `{"segment":"premium","event":"shared"}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, srv, http.MethodPost, "/v1/deals/not-a-uuid/engagement", `{"segment":"premium","event":"opened"}`).Code)
}
