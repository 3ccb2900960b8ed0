// Package httpapi exposes the decision system over HTTP: the streaming
// invocation route, the aggregated decide route, conversation CRUD, and the
// service metadata endpoints.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nerv-tools/magi/internal/relay"
	"github.com/nerv-tools/magi/internal/store"
)

// Server holds the handler dependencies. One Server serves many requests;
// each streaming request gets its own relay instance.
type Server struct {
	version    string
	corsOrigin string
	workerCfg  relay.Config
	store      *store.Store
	stats      statsCounters
	started    time.Time
}

// New creates the API server. workerCfg is cloned per request by relay.New,
// the Server itself never mutates it.
func New(version, corsOrigin string, workerCfg relay.Config, st *store.Store) *Server {
	return &Server{
		version:    version,
		corsOrigin: corsOrigin,
		workerCfg:  workerCfg,
		store:      st,
		started:    time.Now(),
	}
}

// Routes builds the handler tree with CORS applied to every route.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /invocations", s.handleInvocations)
	mux.HandleFunc("POST /magi/decide", s.handleDecide)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /conversations", s.handleListConversations)
	mux.HandleFunc("GET /conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("DELETE /conversations/{id}", s.handleDeleteConversation)
	return s.cors(mux)
}

// cors applies the configured origin to every response and short-circuits
// preflight requests.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statsCounters mirrors the execution statistics the service has always
// reported: request totals and accumulated deliberation time.
type statsCounters struct {
	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	totalMs   atomic.Int64
}

func (c *statsCounters) record(result relay.Result) {
	c.total.Add(1)
	if result.State == relay.StateCompleted {
		c.succeeded.Add(1)
		c.totalMs.Add(result.Elapsed.Milliseconds())
		return
	}
	c.failed.Add(1)
}

type statsSnapshot struct {
	TotalRequests        int64   `json:"total_requests"`
	SuccessfulRequests   int64   `json:"successful_requests"`
	FailedRequests       int64   `json:"failed_requests"`
	SuccessRate          float64 `json:"success_rate"`
	TotalExecutionTime   int64   `json:"total_execution_time"`
	AverageExecutionTime float64 `json:"average_execution_time"`
}

func (c *statsCounters) snapshot() statsSnapshot {
	snap := statsSnapshot{
		TotalRequests:      c.total.Load(),
		SuccessfulRequests: c.succeeded.Load(),
		FailedRequests:     c.failed.Load(),
		TotalExecutionTime: c.totalMs.Load(),
	}
	if snap.TotalRequests > 0 {
		snap.SuccessRate = float64(snap.SuccessfulRequests) / float64(snap.TotalRequests)
	}
	if snap.SuccessfulRequests > 0 {
		snap.AverageExecutionTime = float64(snap.TotalExecutionTime) / float64(snap.SuccessfulRequests)
	}
	return snap
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, map[string]string{
		"error":   message,
		"details": details,
	})
}
