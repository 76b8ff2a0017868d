package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/facilityhub/fmcore/pkg/datastore"
	"github.com/facilityhub/fmcore/pkg/jobs"
	"github.com/facilityhub/fmcore/pkg/metrics"
)

const jobsPageSize = 50

// leaderChecker reports whether this replica runs the singleton workers.
type leaderChecker interface {
	IsLeader() bool
}

// jobLister lists the recompute jobs of the active tenant.
type jobLister interface {
	List(ctx context.Context, filter jobs.JobListFilter, pageSize int, pageToken string) ([]jobs.RecomputeJob, string, int, error)
}

// opsServer serves the worker's operational endpoints.
type opsServer struct {
	db        *gorm.DB
	gatherer  prometheus.Gatherer
	leader    leaderChecker
	migrated  atomic.Bool
	startedAt time.Time

	tenantMiddleware func(http.Handler) http.Handler
	jobs             jobLister
}

func newOpsServer(db *gorm.DB, gatherer prometheus.Gatherer, leader leaderChecker) *opsServer {
	return &opsServer{db: db, gatherer: gatherer, leader: leader, startedAt: time.Now()}
}

// withTenantJobs serves the recompute queue of the tenant resolved by mw at
// /tenant/jobs.
func (s *opsServer) withTenantJobs(mw func(http.Handler) http.Handler, store jobLister) *opsServer {
	s.tenantMiddleware = mw
	s.jobs = store
	return s
}

func (s *opsServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))
	if s.jobs != nil && s.tenantMiddleware != nil {
		r.With(s.tenantMiddleware).Get("/tenant/jobs", s.jobsHandler)
	}
	return r
}

// jobsHandler lists the active tenant's recompute jobs, newest first,
// filtered by the optional table and state query parameters.
func (s *opsServer) jobsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := jobs.JobListFilter{Table: q.Get("table"), State: q.Get("state")}
	items, next, total, err := s.jobs.List(r.Context(), filter, jobsPageSize, q.Get("page_token"))
	if errors.Is(err, datastore.ErrInvalidPageToken) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "message": "list jobs failed"})
		return
	}
	if items == nil {
		items = []jobs.RecomputeJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":         items,
		"nextPageToken": next,
		"size":          len(items),
		"totalSize":     total,
	})
}

func (s *opsServer) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler reports ready once migrations ran and the database answers.
func (s *opsServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	ready := true

	dbStatus := map[string]string{"status": "up"}
	if s.db == nil {
		dbStatus["status"] = "not_configured"
		ready = false
	} else if sqlDB, err := s.db.DB(); err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		ready = false
	} else if err := sqlDB.PingContext(r.Context()); err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		ready = false
	}

	migrationStatus := map[string]string{"status": "complete"}
	if !s.migrated.Load() {
		migrationStatus["status"] = "pending"
		ready = false
	}

	leader := false
	if s.leader != nil {
		leader = s.leader.IsLeader()
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"database":   dbStatus,
		"migrations": migrationStatus,
		"leader":     leader,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
