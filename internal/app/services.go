package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/scottbiggs/Pauls-app-sub000/internal/config"
	"github.com/scottbiggs/Pauls-app-sub000/internal/discovery"
	"github.com/scottbiggs/Pauls-app-sub000/internal/eventbus"
	"github.com/scottbiggs/Pauls-app-sub000/internal/flock"
	"github.com/scottbiggs/Pauls-app-sub000/internal/pairing"
	"github.com/scottbiggs/Pauls-app-sub000/internal/reconcile"
	"github.com/scottbiggs/Pauls-app-sub000/internal/registry"
	"github.com/scottbiggs/Pauls-app-sub000/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB          *storage.DB
	BridgeStore *storage.BridgeStore
	FlockStore  *storage.FlockStore
	Bus         *eventbus.Bus

	// State engine
	Registry   *registry.Registry
	Reconciler *reconcile.Reconciler

	// High-level services
	Bridges *BridgeService
	Flocks  *flock.Aggregator
	Browser *discovery.Browser
	Health  *HealthService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.BridgeStore = storage.NewBridgeStore(database)
	s.FlockStore = storage.NewFlockStore(database)

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.Registry = registry.New()
	s.Registry.SetListener(func(snap registry.Snapshot) {
		s.Bus.Publish(eventbus.Event{
			Type: eventbus.EventTypeSnapshot,
			Data: map[string]interface{}{
				"bridges": len(snap.Bridges),
				"flocks":  len(snap.Flocks),
			},
		})
	})

	s.Reconciler = reconcile.New(s.Registry, nil)

	s.Bridges = NewBridgeService(cfg, s.Registry, s.Reconciler, s.BridgeStore, s.FlockStore, s.Bus)
	s.Flocks = flock.New(s.Registry, s.Bridges.Writer, s.FlockStore, cfg.Flocks.WriteRateRPS)
	s.Browser = discovery.NewBrowser(cfg.Discovery.Window.Duration(), cfg.Discovery.MinInterval.Duration())
	s.Health = NewHealthService(cfg, s.Registry)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	// Flocks register after bridges: AddFlock validates that every
	// member's bridge exists.
	flocks, err := s.FlockStore.LoadFlocks()
	if err != nil {
		return err
	}

	if err := s.Bridges.Start(ctx); err != nil {
		return err
	}

	for _, f := range flocks {
		if err := s.Registry.AddFlock(f); err != nil {
			log.Error().Err(err).Str("flock", f.ID).Msg("Skipping stored flock")
		}
	}

	s.Health.Start(ctx)
	return nil
}

// NewPairingMachine creates a pairing run bound to this process's
// registry and storage.
func (s *Services) NewPairingMachine() *pairing.Machine {
	return pairing.NewMachine(s.cfg.Pairing.Devicetype(), s.cfg.Hue.Timeout.Duration(), s.Bridges)
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Bridges != nil {
		s.Bridges.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
