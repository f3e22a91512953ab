// Package registry owns the published multi-bridge snapshot. One
// Registry instance is constructed per process and passed to consumers;
// there is no ambient global state. All mutations replace the affected
// bridge (or flock) with a new value and republish the whole snapshot
// atomically, so a concurrent reader observes either the pre- or the
// post-update state, never a torn mixture.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/scottbiggs/Pauls-app-sub000/internal/model"
)

// ErrDuplicateBridge is returned when a bridge with the same stable id
// is already registered. Duplicate ids are rejected, never overwritten.
var ErrDuplicateBridge = errors.New("bridge id already registered")

// ErrBridgeNotFound is returned when no bridge with the given id exists.
var ErrBridgeNotFound = errors.New("bridge not found")

// ErrFlockNotFound is returned when no flock with the given id exists.
var ErrFlockNotFound = errors.New("flock not found")

// Snapshot is one immutable view of the full bridge and flock sets.
// The slices and everything they reference must not be mutated.
type Snapshot struct {
	Bridges []*model.Bridge
	Flocks  []*model.Flock
}

// Bridge returns the bridge with the given id, or nil.
func (s Snapshot) Bridge(id string) *model.Bridge {
	for _, b := range s.Bridges {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// Flock returns the flock with the given id, or nil.
func (s Snapshot) Flock(id string) *model.Flock {
	for _, f := range s.Flocks {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// Listener is notified with the new snapshot after every republish.
type Listener func(Snapshot)

// Registry holds the current snapshot and serializes mutations.
type Registry struct {
	mu       sync.Mutex // serializes mutations; reads go through the atomic value
	current  atomic.Value
	listener Listener
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	r.current.Store(Snapshot{})
	return r
}

// SetListener installs the snapshot listener. Must be called before
// concurrent mutation starts.
func (r *Registry) SetListener(l Listener) {
	r.listener = l
}

// Snapshot returns the current published snapshot.
func (r *Registry) Snapshot() Snapshot {
	return r.current.Load().(Snapshot)
}

// publish stores the snapshot and notifies the listener. Callers hold
// r.mu, so listeners observe republishes in mutation order.
func (r *Registry) publish(s Snapshot) {
	r.current.Store(s)
	if r.listener != nil {
		r.listener(s)
	}
}

// AddBridge registers a new bridge. The id must be unique across the
// registry regardless of address.
func (r *Registry) AddBridge(b *model.Bridge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.Snapshot()
	if snap.Bridge(b.ID) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateBridge, b.ID)
	}

	bridges := make([]*model.Bridge, len(snap.Bridges), len(snap.Bridges)+1)
	copy(bridges, snap.Bridges)
	bridges = append(bridges, b)

	r.publish(Snapshot{Bridges: bridges, Flocks: snap.Flocks})
	log.Info().Str("bridge", b.ID).Str("address", b.Address).Msg("Bridge registered")
	return nil
}

// UpdateBridge clones the bridge with the given id, applies mutate to
// the clone, and republishes. The published original is never touched.
func (r *Registry) UpdateBridge(id string, mutate func(*model.Bridge)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.Snapshot()
	idx := -1
	for i, b := range snap.Bridges {
		if b.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrBridgeNotFound, id)
	}

	clone := snap.Bridges[idx].Clone()
	mutate(clone)
	// Connected is only meaningful on an active bridge.
	if !clone.Active {
		clone.Connected = false
	}

	bridges := make([]*model.Bridge, len(snap.Bridges))
	copy(bridges, snap.Bridges)
	bridges[idx] = clone

	r.publish(Snapshot{Bridges: bridges, Flocks: snap.Flocks})
	return nil
}

// DeleteBridge removes a bridge and prunes it from every flock's
// membership so no member is left dangling. Returns the removed bridge
// so the caller can tear down its stream and client.
func (r *Registry) DeleteBridge(id string) (*model.Bridge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.Snapshot()
	removed := snap.Bridge(id)
	if removed == nil {
		return nil, fmt.Errorf("%w: %s", ErrBridgeNotFound, id)
	}

	bridges := make([]*model.Bridge, 0, len(snap.Bridges)-1)
	for _, b := range snap.Bridges {
		if b.ID != id {
			bridges = append(bridges, b)
		}
	}

	flocks := make([]*model.Flock, 0, len(snap.Flocks))
	for _, f := range snap.Flocks {
		flocks = append(flocks, pruneMembers(f, id))
	}

	r.publish(Snapshot{Bridges: bridges, Flocks: flocks})
	log.Info().Str("bridge", id).Msg("Bridge removed from registry")
	return removed, nil
}

// pruneMembers drops members owned by bridgeID, returning the original
// flock when nothing changed.
func pruneMembers(f *model.Flock, bridgeID string) *model.Flock {
	keep := true
	for _, m := range f.Members {
		if m.BridgeID == bridgeID {
			keep = false
			break
		}
	}
	if keep {
		return f
	}

	clone := f.Clone()
	members := clone.Members[:0]
	for _, m := range clone.Members {
		if m.BridgeID != bridgeID {
			members = append(members, m)
		}
	}
	clone.Members = members
	log.Debug().Str("flock", f.ID).Str("bridge", bridgeID).Msg("Pruned flock members of deleted bridge")
	return clone
}

// AddFlock registers a flock. Members referencing unknown bridges are
// rejected so the membership invariant holds from the start.
func (r *Registry) AddFlock(f *model.Flock) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.Snapshot()
	if snap.Flock(f.ID) != nil {
		return fmt.Errorf("flock id already registered: %s", f.ID)
	}
	for _, m := range f.Members {
		if snap.Bridge(m.BridgeID) == nil {
			return fmt.Errorf("flock member %s/%s: %w: %s", m.Kind, m.GroupID, ErrBridgeNotFound, m.BridgeID)
		}
	}

	flocks := make([]*model.Flock, len(snap.Flocks), len(snap.Flocks)+1)
	copy(flocks, snap.Flocks)
	flocks = append(flocks, f)

	r.publish(Snapshot{Bridges: snap.Bridges, Flocks: flocks})
	log.Info().Str("flock", f.ID).Str("name", f.Name).Int("members", len(f.Members)).Msg("Flock registered")
	return nil
}

// DeleteFlock removes a flock. Flocks are entirely client-side, so this
// has no bridge-side effect.
func (r *Registry) DeleteFlock(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.Snapshot()
	if snap.Flock(id) == nil {
		return fmt.Errorf("%w: %s", ErrFlockNotFound, id)
	}

	flocks := make([]*model.Flock, 0, len(snap.Flocks)-1)
	for _, f := range snap.Flocks {
		if f.ID != id {
			flocks = append(flocks, f)
		}
	}

	r.publish(Snapshot{Bridges: snap.Bridges, Flocks: flocks})
	return nil
}
