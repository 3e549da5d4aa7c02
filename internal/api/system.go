package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// handleHealth runs every registered check. Any failure answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.health[name].HealthCheck(ctx); err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"dispatcher": s.dispatcher.Stats(),
		"tenants":    s.tenants.Stats(),
		"devices":    s.registry.Count(),
	}

	if s.deadLetters != nil {
		dl, err := s.deadLetters.Stats(r.Context())
		if err != nil {
			s.logger.Warn("reading dead-letter stats", "error", err)
		} else {
			body["dead_letters"] = dl
		}
	}

	writeJSON(w, http.StatusOK, body)
}
