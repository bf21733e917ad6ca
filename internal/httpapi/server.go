// Package httpapi serves the operator status API and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"flight-deal-scanner/internal/budget"
	"flight-deal-scanner/internal/domain"
	"flight-deal-scanner/internal/primehours"
	"flight-deal-scanner/internal/storage"
	"flight-deal-scanner/internal/threshold"
)

// BudgetSource reports the call ledger.
type BudgetSource interface {
	Snapshot(now time.Time) budget.Snapshot
}

// ThresholdSource reports the adaptive thresholds.
type ThresholdSource interface {
	Snapshot() threshold.Snapshot
}

// AdvisorBudget reports 30-day advisor spend.
type AdvisorBudget interface {
	BudgetStatus(ctx context.Context, now time.Time) []domain.AdvisorUsage
}

// Store is the read side plus engagement ingestion.
type Store interface {
	storage.ScanCycleStore
	storage.DealStore
	RecordEngagement(ctx context.Context, dealID string, segment domain.Segment, event domain.EngagementEvent) error
}

// Deps wire the server.
type Deps struct {
	Budget     BudgetSource
	Thresholds ThresholdSource
	Advisor    AdvisorBudget
	Store      Store
	Metrics    http.Handler
	Location   *time.Location
	Now        func() time.Time
}

// Options configure the listener.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the status HTTP server.
type Server struct {
	router *mux.Router
	server *http.Server
	deps   Deps
	logger zerolog.Logger
}

// New builds the router and the underlying http.Server.
func New(opts Options, deps Deps, logger zerolog.Logger) *Server {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		logger: logger.With().Str("component", "http_api").Logger(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware, s.loggingMiddleware)

	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/budget", s.budget).Methods(http.MethodGet)
	api.HandleFunc("/thresholds", s.thresholds).Methods(http.MethodGet)
	api.HandleFunc("/scans/last", s.lastScan).Methods(http.MethodGet)
	api.HandleFunc("/deals", s.deals).Methods(http.MethodGet)
	api.HandleFunc("/deals/{id}/engagement", s.engagement).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server stops; http.ErrServerClosed is not an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("status api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type ctxKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()[:8]
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		id, _ := r.Context().Value(ctxKey{}).(string)
		s.logger.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type budgetResponse struct {
	Calls       budget.Snapshot       `json:"calls"`
	PrimeStatus string                `json:"prime_status"`
	Multiplier  float64               `json:"multiplier"`
	Advisor     []domain.AdvisorUsage `json:"advisor"`
}

func (s *Server) budget(w http.ResponseWriter, r *http.Request) {
	now := s.deps.Now()
	local := now.In(s.deps.Location)
	resp := budgetResponse{
		PrimeStatus: string(primehours.CurrentStatus(local)),
		Multiplier:  primehours.Multiplier(local),
		Advisor:     []domain.AdvisorUsage{},
	}
	if s.deps.Budget != nil {
		resp.Calls = s.deps.Budget.Snapshot(now)
	}
	if s.deps.Advisor != nil {
		resp.Advisor = s.deps.Advisor.BudgetStatus(r.Context(), now)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) thresholds(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Thresholds == nil {
		writeError(w, http.StatusServiceUnavailable, "threshold engine not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Thresholds.Snapshot())
}

func (s *Server) lastScan(w http.ResponseWriter, r *http.Request) {
	cycle, err := s.deps.Store.LatestScanCycle(r.Context())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "no scan cycle recorded yet")
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("load latest scan cycle failed")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, cycleView(cycle))
}

func (s *Server) deals(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	deals, err := s.deps.Store.ListRecentDeals(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list deals failed")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	out := make([]dealJSON, 0, len(deals))
	for _, d := range deals {
		out = append(out, dealView(d))
	}
	writeJSON(w, http.StatusOK, out)
}

type engagementRequest struct {
	Segment string `json:"segment"`
	Event   string `json:"event"`
}

func (s *Server) engagement(w http.ResponseWriter, r *http.Request) {
	dealID := mux.Vars(r)["id"]
	if _, err := uuid.Parse(dealID); err != nil {
		writeError(w, http.StatusBadRequest, "deal id must be a uuid")
		return
	}

	var req engagementRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	segment, err := domain.ParseSegment(req.Segment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	event, err := domain.ParseEngagementEvent(req.Event)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.deps.Store.RecordEngagement(r.Context(), dealID, segment, event)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "no sent alert for this deal and segment")
		return
	case err != nil:
		s.logger.Error().Err(err).Str("deal_id", dealID).Msg("record engagement failed")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
