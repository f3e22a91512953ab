// Package flock realizes cross-bridge virtual light groups. A flock has
// no bridge-side existence: commands fan out to each member's owning
// bridge independently, and the aggregate view is derived from
// bridge-confirmed member state rather than stored authoritatively.
package flock

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/scottbiggs/Pauls-app-sub000/internal/model"
	"github.com/scottbiggs/Pauls-app-sub000/internal/registry"
)

// GroupWriter issues aggregate writes against one bridge's
// grouped_light services.
type GroupWriter interface {
	SetGroupedLight(ctx context.Context, id string, on *bool, brightness *float64) error
}

// WriterResolver returns the writer for a bridge, or false if the
// bridge has no live client.
type WriterResolver func(bridgeID string) (GroupWriter, bool)

// Store persists flock definitions. May be nil for ephemeral flocks.
type Store interface {
	SaveFlock(f *model.Flock) error
	DeleteFlock(id string) error
}

// MemberFailure reports one member whose write failed. Failures are
// independent: other members' writes still went through.
type MemberFailure struct {
	Member model.FlockMember
	Err    error
}

// Aggregator fans commands out across flock members.
type Aggregator struct {
	reg     *registry.Registry
	resolve WriterResolver
	store   Store
	limiter *rate.Limiter
}

// New creates an aggregator. writeRPS caps the fan-out write rate
// across all bridges; zero disables limiting.
func New(reg *registry.Registry, resolve WriterResolver, store Store, writeRPS float64) *Aggregator {
	var limiter *rate.Limiter
	if writeRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(writeRPS), 1)
	}
	return &Aggregator{reg: reg, resolve: resolve, store: store, limiter: limiter}
}

// Create registers and persists a new flock. Member bridges must exist
// in the registry.
func (a *Aggregator) Create(name string, members []model.FlockMember) (*model.Flock, error) {
	f := &model.Flock{
		ID:      uuid.NewString(),
		Name:    name,
		Members: members,
	}
	if err := a.reg.AddFlock(f); err != nil {
		return nil, err
	}
	if a.store != nil {
		if err := a.store.SaveFlock(f); err != nil {
			log.Error().Err(err).Str("flock", f.ID).Msg("Failed to persist flock")
		}
	}
	return f, nil
}

// Delete removes a flock from the registry and storage.
func (a *Aggregator) Delete(id string) error {
	if err := a.reg.DeleteFlock(id); err != nil {
		return err
	}
	if a.store != nil {
		if err := a.store.DeleteFlock(id); err != nil {
			log.Error().Err(err).Str("flock", id).Msg("Failed to delete persisted flock")
		}
	}
	return nil
}

// ChangeOnOff turns every member room/zone on or off. Returns the
// members whose writes failed; successes are never rolled back.
func (a *Aggregator) ChangeOnOff(ctx context.Context, flockID string, on bool) ([]MemberFailure, error) {
	return a.fanOut(ctx, flockID, &on, nil)
}

// ChangeBrightness sets the aggregate brightness of every member.
func (a *Aggregator) ChangeBrightness(ctx context.Context, flockID string, brightness float64) ([]MemberFailure, error) {
	return a.fanOut(ctx, flockID, nil, &brightness)
}

// fanOut groups members by owning bridge and issues one grouped_light
// write per member, one goroutine per bridge so a slow bridge cannot
// block the others. No cross-bridge transaction exists.
func (a *Aggregator) fanOut(ctx context.Context, flockID string, on *bool, brightness *float64) ([]MemberFailure, error) {
	snap := a.reg.Snapshot()
	f := snap.Flock(flockID)
	if f == nil {
		return nil, fmt.Errorf("%w: %s", registry.ErrFlockNotFound, flockID)
	}

	byBridge := make(map[string][]model.FlockMember)
	for _, m := range f.Members {
		byBridge[m.BridgeID] = append(byBridge[m.BridgeID], m)
	}

	var (
		mu       sync.Mutex
		failures []MemberFailure
		wg       sync.WaitGroup
	)
	fail := func(m model.FlockMember, err error) {
		mu.Lock()
		failures = append(failures, MemberFailure{Member: m, Err: err})
		mu.Unlock()
	}

	for bridgeID, members := range byBridge {
		wg.Add(1)
		go func(bridgeID string, members []model.FlockMember) {
			defer wg.Done()

			bridge := snap.Bridge(bridgeID)
			writer, ok := a.resolve(bridgeID)
			if bridge == nil || !ok {
				for _, m := range members {
					fail(m, fmt.Errorf("%w: %s", registry.ErrBridgeNotFound, bridgeID))
				}
				return
			}

			for _, m := range members {
				group := bridge.Group(memberRef(m))
				if group == nil || group.GroupedLightID == "" {
					fail(m, fmt.Errorf("member %s/%s has no grouped light on bridge %s", m.Kind, m.GroupID, bridgeID))
					continue
				}
				if a.limiter != nil {
					if err := a.limiter.Wait(ctx); err != nil {
						fail(m, err)
						continue
					}
				}
				if err := writer.SetGroupedLight(ctx, group.GroupedLightID, on, brightness); err != nil {
					fail(m, err)
				}
			}
		}(bridgeID, members)
	}
	wg.Wait()

	if len(failures) > 0 {
		log.Warn().Str("flock", flockID).Int("failed", len(failures)).Int("members", len(f.Members)).Msg("Flock fan-out completed with failures")
	}
	return failures, nil
}

// State derives the flock's displayed aggregate from current member
// state: on when any member is on, brightness as the mean over members.
func (a *Aggregator) State(flockID string) (on bool, brightness float64, err error) {
	snap := a.reg.Snapshot()
	f := snap.Flock(flockID)
	if f == nil {
		return false, 0, fmt.Errorf("%w: %s", registry.ErrFlockNotFound, flockID)
	}

	var sum float64
	var counted int
	for _, m := range f.Members {
		bridge := snap.Bridge(m.BridgeID)
		if bridge == nil {
			continue
		}
		group := bridge.Group(memberRef(m))
		if group == nil {
			continue
		}
		if group.On {
			on = true
		}
		sum += group.Brightness
		counted++
	}
	if counted > 0 {
		brightness = sum / float64(counted)
	}
	return on, brightness, nil
}

func memberRef(m model.FlockMember) model.GroupRef {
	if m.Kind == model.MemberZone {
		return model.GroupRef{Kind: model.OwnerZone, ID: m.GroupID}
	}
	return model.GroupRef{Kind: model.OwnerRoom, ID: m.GroupID}
}
