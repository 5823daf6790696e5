package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hwmon/internal/auth"
)

// healthCheckTimeout bounds each dependency check made by /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.withRequestID, s.withAccessLog, s.withRecovery, s.withCORS, s.withBodyLimit)

	read := s.requirePermission(auth.PermDeviceRead)
	operate := s.requirePermission(auth.PermDeviceOperate)
	pair := s.requirePermission(auth.PermDevicePair)
	admin := s.requirePermission(auth.PermSystemAdmin)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/devices", func(r chi.Router) {
			r.With(read).Get("/", s.handleListDevices)
			r.With(admin).Delete("/", s.handleClearDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.With(read).Get("/", s.handleGetDevice)
				r.With(pair).Delete("/", s.handleRemoveDevice)
				r.With(read).Get("/history", s.handleDeviceHistory)
				r.With(operate).Put("/properties/{name}", s.handleSetProperty)
				r.With(pair).Post("/unpair", s.handleUnpairDevice)
				r.With(pair).Post("/cancel-remove", s.handleCancelRemove)
			})
		})

		r.With(pair).Post("/discovery", s.handleDiscovery)

		r.Route("/pairing", func(r chi.Router) {
			r.With(read).Get("/", s.handlePairingStatus)
			r.With(pair).Post("/offer", s.handlePairingOffer)
			r.With(pair).Post("/start", s.handleStartPairing)
			r.With(pair).Post("/cancel", s.handleCancelPairing)
		})

		r.With(read).Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the bridge's health. It is not authenticated. Any
// failing dependency check turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checks))
	healthy := true
	for name, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	stats := s.adapter.Stats()
	status, code := "ok", http.StatusOK
	switch {
	case !healthy:
		status, code = "unhealthy", http.StatusServiceUnavailable
	case stats.LastError != "":
		status = "degraded"
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"adapter":        s.adapter.Name(),
		"endpoint":       s.adapter.Endpoint(),
		"devices":        s.adapter.DeviceCount(),
		"discovery":      stats,
		"pairing":        s.adapter.PairingStatus(),
		"checks":         checks,
	})
}
