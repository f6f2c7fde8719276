// Package api exposes the HTTP-level ops surface: health checks and a
// balance read, the same kind of thin JSON handlers the teacher ships
// alongside its websocket endpoints (api/crash.go, api/leaderboard.go).
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthChecker is the subset of each storage client the health
// endpoint pings.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CriticalLogReader exposes the LowCard Engine's unrefundable-failure
// ring buffer (spec §7) on the ops surface.
type CriticalLogReader interface {
	CriticalLog() []string
}

type componentStatus struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type healthResponse struct {
	Status      string                     `json:"status"`
	Components  map[string]componentStatus `json:"components"`
	CriticalLog []string                   `json:"criticalLog,omitempty"`
}

// HandleHealth handles GET /api/health, pinging Redis and Postgres and
// surfacing the LowCard Engine's recent critical-failure log.
func HandleHealth(redis, postgres HealthChecker, engine CriticalLogReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			sendJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		components := map[string]componentStatus{
			"redis":    checkComponent(ctx, redis),
			"postgres": checkComponent(ctx, postgres),
		}

		healthy := true
		for _, c := range components {
			if !c.OK {
				healthy = false
			}
		}

		status := "ok"
		statusCode := http.StatusOK
		if !healthy {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := healthResponse{Status: status, Components: components}
		if engine != nil {
			response.CriticalLog = engine.CriticalLog()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(response)
	}
}

func checkComponent(ctx context.Context, c HealthChecker) componentStatus {
	if err := c.HealthCheck(ctx); err != nil {
		return componentStatus{OK: false, Error: err.Error()}
	}
	return componentStatus{OK: true}
}

func sendJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
