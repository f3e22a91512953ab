package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/scottbiggs/Pauls-app-sub000/internal/config"
	"github.com/scottbiggs/Pauls-app-sub000/internal/registry"
)

// HealthService provides HTTP health check endpoints with per-bridge
// connectivity state.
type HealthService struct {
	cfg    *config.Config
	reg    *registry.Registry
	server *http.Server
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config, reg *registry.Registry) *HealthService {
	return &HealthService{cfg: cfg, reg: reg}
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	go s.run(ctx)
}

type bridgeHealth struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	Active    bool   `json:"active"`
	Connected bool   `json:"connected"`
}

func (s *HealthService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.Host, s.cfg.Healthcheck.Port)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Readiness reflects real bridge state: a disconnected bridge means
	// its data may be stale.
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		snap := s.reg.Snapshot()

		bridges := make([]bridgeHealth, 0, len(snap.Bridges))
		allConnected := true
		for _, b := range snap.Bridges {
			bridges = append(bridges, bridgeHealth{
				ID:        b.ID,
				Address:   b.Address,
				Active:    b.Active,
				Connected: b.Connected,
			})
			if !b.Connected {
				allConnected = false
			}
		}

		status := "ready"
		code := http.StatusOK
		if !allConnected {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  status,
			"bridges": bridges,
		})
	})

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	log.Info().Str("addr", addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health check server error")
	}
}
