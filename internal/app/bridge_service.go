package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/scottbiggs/Pauls-app-sub000/internal/config"
	"github.com/scottbiggs/Pauls-app-sub000/internal/eventbus"
	"github.com/scottbiggs/Pauls-app-sub000/internal/flock"
	"github.com/scottbiggs/Pauls-app-sub000/internal/hue"
	"github.com/scottbiggs/Pauls-app-sub000/internal/model"
	"github.com/scottbiggs/Pauls-app-sub000/internal/reconcile"
	"github.com/scottbiggs/Pauls-app-sub000/internal/registry"
	"github.com/scottbiggs/Pauls-app-sub000/internal/storage"
)

// BridgeService owns the per-bridge network resources: one REST client
// and one event stream per paired bridge. It restores bridges from
// storage, runs the initial bulk load concurrently across bridges, and
// keeps each active bridge's event subscription alive.
//
// It is the Committer for pairing runs and the WriterResolver for flock
// fan-out.
type BridgeService struct {
	cfg        *config.Config
	reg        *registry.Registry
	reconciler *reconcile.Reconciler
	store      *storage.BridgeStore
	flockStore *storage.FlockStore
	bus        *eventbus.Bus

	mu      sync.Mutex
	clients map[string]*hue.Client
	streams map[string]*hue.EventStream

	runCtx context.Context
}

// NewBridgeService creates the service; no connections are opened yet.
func NewBridgeService(cfg *config.Config, reg *registry.Registry, reconciler *reconcile.Reconciler, store *storage.BridgeStore, flockStore *storage.FlockStore, bus *eventbus.Bus) *BridgeService {
	return &BridgeService{
		cfg:        cfg,
		reg:        reg,
		reconciler: reconciler,
		store:      store,
		flockStore: flockStore,
		bus:        bus,
		clients:    make(map[string]*hue.Client),
		streams:    make(map[string]*hue.EventStream),
	}
}

// Start restores persisted bridges into the registry and launches one
// activation task per bridge, so a slow or offline bridge cannot block
// the others.
func (s *BridgeService) Start(ctx context.Context) error {
	s.runCtx = ctx

	stored, err := s.store.Load()
	if err != nil {
		return err
	}

	for _, sb := range stored {
		b := &model.Bridge{ID: sb.ID, Address: sb.Address, AppKey: sb.AppKey}
		if err := s.reg.AddBridge(b); err != nil {
			log.Error().Err(err).Str("bridge", sb.ID).Msg("Skipping stored bridge")
		}
	}

	for _, b := range s.reg.Snapshot().Bridges {
		go s.activate(ctx, b.ID)
	}
	return nil
}

// activate performs the initial full load for one bridge and opens its
// event stream. A failed load leaves the bridge inactive; the next
// activation cycle retries it.
func (s *BridgeService) activate(ctx context.Context, bridgeID string) {
	client, ok := s.clientFor(bridgeID)
	if !ok {
		return
	}

	load, err := client.FetchAll(ctx)
	if err != nil {
		log.Warn().Err(err).Str("bridge", bridgeID).Msg("Initial load failed, bridge stays inactive")
		if err := s.reconciler.SetActive(bridgeID, false); err != nil {
			log.Debug().Err(err).Str("bridge", bridgeID).Msg("Failed to mark bridge inactive")
		}
		return
	}

	if err := s.reconciler.ApplyBulkLoad(bridgeID, load); err != nil {
		log.Error().Err(err).Str("bridge", bridgeID).Msg("Failed to apply bulk load")
		return
	}

	s.startStream(ctx, bridgeID, client)
}

// clientFor returns (creating if needed) the REST client for a bridge.
func (s *BridgeService) clientFor(bridgeID string) (*hue.Client, bool) {
	b := s.reg.Snapshot().Bridge(bridgeID)
	if b == nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.clients[bridgeID]; ok {
		return client, true
	}
	client := hue.NewClient(b.Address, b.AppKey, s.cfg.Hue.Timeout.Duration())
	s.clients[bridgeID] = client
	return client, true
}

// startStream opens the bridge's event subscription. An existing stream
// for the bridge id is cancelled first so the bridge never holds
// duplicate subscriptions.
func (s *BridgeService) startStream(ctx context.Context, bridgeID string, client *hue.Client) {
	streamCfg := hue.EventStreamConfig{
		MinBackoff:    s.cfg.Hue.MinRetryBackoff.Duration(),
		MaxBackoff:    s.cfg.Hue.MaxRetryBackoff.Duration(),
		Multiplier:    s.cfg.Hue.RetryMultiplier,
		MaxReconnects: s.cfg.Hue.MaxReconnects,
	}

	s.mu.Lock()
	stream, ok := s.streams[bridgeID]
	if !ok {
		stream = hue.NewEventStream(bridgeID, client, streamCfg, s.onStreamStatus, s.onStreamEvent)
		s.streams[bridgeID] = stream
	}
	s.mu.Unlock()

	stream.Start(ctx)
}

// onStreamStatus is the sole feed of the per-bridge connected flag.
func (s *BridgeService) onStreamStatus(bridgeID string, connected bool) {
	s.reconciler.SetConnected(bridgeID, connected)
	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeConnectivity,
		Data: map[string]interface{}{
			"bridge_id": bridgeID,
			"connected": connected,
		},
	})
}

func (s *BridgeService) onStreamEvent(ev hue.Event) {
	s.reconciler.ApplyEvent(ev)
	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeStream,
		Data: map[string]interface{}{
			"bridge_id":     ev.BridgeID,
			"event_type":    ev.Type.String(),
			"resource_id":   ev.Resource.ID,
			"resource_type": string(ev.Resource.Type),
		},
	})
}

// HasAddress reports whether a registered bridge already uses the
// address. Part of the pairing Committer contract.
func (s *BridgeService) HasAddress(address string) bool {
	for _, b := range s.reg.Snapshot().Bridges {
		if b.Address == address {
			return true
		}
	}
	return false
}

// Commit finalizes a pairing run: registers the bridge, persists its
// credential and address, and activates it.
func (s *BridgeService) Commit(ctx context.Context, bridgeID, address string, creds hue.Credentials) error {
	b := &model.Bridge{ID: bridgeID, Address: address, AppKey: creds.Username}
	if err := s.reg.AddBridge(b); err != nil {
		return err
	}

	err := s.store.Save(storage.StoredBridge{
		ID:        bridgeID,
		Address:   address,
		AppKey:    creds.Username,
		ClientKey: creds.ClientKey,
	})
	if err != nil {
		return err
	}

	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypePairing,
		Data: map[string]interface{}{
			"bridge_id": bridgeID,
			"address":   address,
		},
	})

	go s.activate(s.runContext(ctx), bridgeID)
	return nil
}

// runContext prefers the service's long-lived context so activation
// outlives the pairing request.
func (s *BridgeService) runContext(fallback context.Context) context.Context {
	if s.runCtx != nil {
		return s.runCtx
	}
	return fallback
}

// DeleteBridge stops the bridge's stream, removes it from the registry
// (pruning flock memberships) and from storage.
func (s *BridgeService) DeleteBridge(bridgeID string) error {
	s.mu.Lock()
	stream := s.streams[bridgeID]
	client := s.clients[bridgeID]
	delete(s.streams, bridgeID)
	delete(s.clients, bridgeID)
	s.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	if client != nil {
		client.Close()
	}

	if _, err := s.reg.DeleteBridge(bridgeID); err != nil {
		return err
	}
	if err := s.store.Delete(bridgeID); err != nil {
		return err
	}

	// Memberships were pruned in the registry; persist the survivors.
	for _, f := range s.reg.Snapshot().Flocks {
		if err := s.flockStore.SaveFlock(f); err != nil {
			log.Error().Err(err).Str("flock", f.ID).Msg("Failed to persist pruned flock")
		}
	}
	return nil
}

// Writer resolves the flock fan-out writer for a bridge.
func (s *BridgeService) Writer(bridgeID string) (flock.GroupWriter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.clients[bridgeID]
	return client, ok
}

// Close stops every stream and client.
func (s *BridgeService) Close() {
	s.mu.Lock()
	streams := make([]*hue.EventStream, 0, len(s.streams))
	clients := make([]*hue.Client, 0, len(s.clients))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.streams = make(map[string]*hue.EventStream)
	s.clients = make(map[string]*hue.Client)
	s.mu.Unlock()

	for _, st := range streams {
		st.Stop()
	}
	for _, c := range clients {
		c.Close()
	}
}
