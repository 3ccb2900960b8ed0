package httpapi

import (
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "magi",
		"version": s.version,
		"agents":  []string{"CASPAR", "BALTHASAR", "MELCHIOR", "SOLOMON"},
		"endpoints": []string{
			"POST /invocations",
			"POST /magi/decide",
			"POST /conversations",
			"GET /conversations",
			"GET /conversations/{id}",
			"DELETE /conversations/{id}",
			"GET /health",
			"GET /stats",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !s.workerAvailable() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"version":       s.version,
		"worker":        s.workerCfg.Command,
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
	})
}

// workerAvailable reports whether the configured worker command resolves to
// an executable. The self-exec default always does.
func (s *Server) workerAvailable() bool {
	if strings.ContainsRune(s.workerCfg.Command, os.PathSeparator) {
		_, err := os.Stat(s.workerCfg.Command)
		return err == nil
	}
	_, err := exec.LookPath(s.workerCfg.Command)
	return err == nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	storeStats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "collecting store stats", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": s.stats.snapshot(),
		"store":    storeStats,
	})
}
