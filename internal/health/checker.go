// Package health adapts data-ingestion's health.Checker to report engine
// scheduler liveness and client session/connection state instead of an
// MQTT subscriber and a TimescaleDB writer.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// EngineProbe reports whether the subscription engine's scheduler
// goroutine is alive and processing commands.
type EngineProbe interface {
	Alive() bool
}

// ClientProbe reports client-side session/connection health.
type ClientProbe interface {
	Connected() bool
}

// Checker serves liveness/readiness/health endpoints over the engine and,
// optionally, a client connection (a pure server deployment has none).
type Checker struct {
	engine EngineProbe
	client ClientProbe
	logger zerolog.Logger
}

// NewChecker creates a health checker. client may be nil when this process
// only runs the server-side engine.
func NewChecker(engine EngineProbe, client ClientProbe, logger zerolog.Logger) *Checker {
	return &Checker{
		engine: engine,
		client: client,
		logger: logger.With().Str("component", "health_checker").Logger(),
	}
}

type healthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components"`
}

// HealthHandler reports overall health across every probed component.
func (c *Checker) HealthHandler(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{"engine": statusOf(c.engine.Alive())}
	if c.client != nil {
		components["client"] = statusOf(c.client.Connected())
	}

	overall := "healthy"
	for _, s := range components {
		if s != "healthy" {
			overall = "degraded"
		}
	}

	resp := healthResponse{Status: overall, Timestamp: time.Now().UTC().Format(time.RFC3339), Components: components}

	w.Header().Set("Content-Type", "application/json")
	if overall != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}

// LiveHandler reports process liveness unconditionally.
func (c *Checker) LiveHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadyHandler reports whether the engine (and client, if present) are
// ready to accept traffic.
func (c *Checker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ready := c.engine.Alive()
	if c.client != nil {
		ready = ready && c.client.Connected()
	}

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "not_ready",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ready",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func statusOf(ok bool) string {
	if ok {
		return "healthy"
	}
	return "unhealthy"
}
