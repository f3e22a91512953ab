// Package reconcile folds bulk loads, stream events and connectivity
// transitions into the registry's published snapshot. It is the only
// component allowed to mutate bridge state, and every mutation goes
// through the registry's clone-and-republish discipline.
package reconcile

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/scottbiggs/Pauls-app-sub000/internal/hue"
	"github.com/scottbiggs/Pauls-app-sub000/internal/model"
	"github.com/scottbiggs/Pauls-app-sub000/internal/registry"
)

// ErrUnknownOwner is surfaced when an update event's owner kind cannot
// be attributed to anything in the model. Silently dropping it would
// desynchronize the model from the bridge, so it goes through the fatal
// callback instead.
var ErrUnknownOwner = errors.New("event owner kind not attributable")

// Reconciler applies incoming data to the registry.
type Reconciler struct {
	reg     *registry.Registry
	onFatal func(error)
}

// New creates a reconciler. onFatal is invoked for conditions that must
// be surfaced for follow-up rather than swallowed; it may be nil.
func New(reg *registry.Registry, onFatal func(error)) *Reconciler {
	if onFatal == nil {
		onFatal = func(err error) {
			log.Error().Err(err).Msg("Reconciler: unhandled condition")
		}
	}
	return &Reconciler{reg: reg, onFatal: onFatal}
}

// ApplyBulkLoad replaces the bridge's rooms, zones and scenes with the
// result of a full resource load and marks the bridge active.
func (r *Reconciler) ApplyBulkLoad(bridgeID string, load *hue.BulkLoad) error {
	for _, apiErr := range load.Errors {
		log.Warn().Str("bridge", bridgeID).Str("error", apiErr.Description).Msg("Bridge reported partial load error")
	}

	rooms, zones, scenes, owners := assemble(load)

	err := r.reg.UpdateBridge(bridgeID, func(b *model.Bridge) {
		b.Active = true
		b.Rooms = rooms
		b.Zones = zones
		b.Scenes = scenes
		b.SetGroupOwners(owners)
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("bridge", bridgeID).
		Int("rooms", len(rooms)).
		Int("zones", len(zones)).
		Int("scenes", len(scenes)).
		Msg("Applied bulk load")
	return nil
}

// SetActive marks the bridge active or inactive. Deactivation also
// clears the connected flag via the registry invariant.
func (r *Reconciler) SetActive(bridgeID string, active bool) error {
	return r.reg.UpdateBridge(bridgeID, func(b *model.Bridge) {
		b.Active = active
	})
}

// SetConnected updates only the connected flag of the matching bridge
// and republishes. This is the sole consumer of the stream's open/closed
// signal.
func (r *Reconciler) SetConnected(bridgeID string, connected bool) {
	err := r.reg.UpdateBridge(bridgeID, func(b *model.Bridge) {
		b.Connected = connected
	})
	if err != nil {
		// The bridge may have been deleted while its stream was closing.
		log.Debug().Err(err).Str("bridge", bridgeID).Msg("Connectivity transition for unregistered bridge")
	}
}

// ApplyEvent folds one stream event into the model.
func (r *Reconciler) ApplyEvent(ev hue.Event) {
	switch ev.Type {
	case hue.EventError:
		// Not a data mutation.
		log.Warn().Str("bridge", ev.BridgeID).Str("resource", ev.Resource.ID).Msg("Error event from bridge, skipping")
	case hue.EventAdd, hue.EventDelete:
		// Membership changes are picked up by the next bulk refresh.
		log.Debug().
			Str("bridge", ev.BridgeID).
			Stringer("type", ev.Type).
			Str("resource", ev.Resource.ID).
			Msg("Membership event ignored")
	case hue.EventUpdate:
		r.applyUpdate(ev)
	default:
		log.Warn().Str("bridge", ev.BridgeID).Str("resource", ev.Resource.ID).Msg("Unrecognized event type, skipping")
	}
}

func (r *Reconciler) applyUpdate(ev hue.Event) {
	switch ev.Resource.Type {
	case hue.RTypeLight:
		r.applyLightUpdate(ev)
	case hue.RTypeGroupedLight:
		r.applyGroupedLightUpdate(ev)
	default:
		// Scene, device and similar updates carry no light state.
		log.Debug().
			Str("bridge", ev.BridgeID).
			Str("resource_type", string(ev.Resource.Type)).
			Str("resource", ev.Resource.ID).
			Msg("Update for unmodeled resource type ignored")
	}
}

// applyLightUpdate locates the light by id within the owning bridge's
// rooms and zones and applies the changed fields. A light may appear in
// several zones; every occurrence is updated.
func (r *Reconciler) applyLightUpdate(ev hue.Event) {
	change := ev.Resource
	found := false

	err := r.reg.UpdateBridge(ev.BridgeID, func(b *model.Bridge) {
		for _, groups := range [][]model.Group{b.Rooms, b.Zones} {
			for gi := range groups {
				for li := range groups[gi].Lights {
					light := &groups[gi].Lights[li]
					if light.ID != change.ID {
						continue
					}
					found = true
					applyLightFields(light, change)
				}
			}
		}
	})
	if err != nil {
		log.Debug().Err(err).Str("bridge", ev.BridgeID).Msg("Light update for unregistered bridge")
		return
	}
	if !found {
		log.Debug().Str("bridge", ev.BridgeID).Str("light", change.ID).Msg("Update for light not in model")
	}
}

func applyLightFields(light *model.Light, change hue.ResourceChange) {
	if change.On != nil {
		light.On = change.On.On
	}
	if change.Dimming != nil {
		light.Brightness = change.Dimming.Brightness
	}
	if change.Color != nil {
		light.HasColor = true
		light.ColorX = change.Color.XY.X
		light.ColorY = change.Color.XY.Y
	}
}

// applyGroupedLightUpdate resolves the owner of the grouped_light and
// applies the changed aggregate fields to that room or zone. This is
// how dimming a whole room is observed: grouped_light is a group-level
// service, not a light-level one.
func (r *Reconciler) applyGroupedLightUpdate(ev hue.Event) {
	change := ev.Resource

	ref, ok := r.resolveOwner(ev.BridgeID, change)
	if !ok {
		return
	}
	if ref.Kind == model.OwnerBridgeHome {
		// Whole-home aggregate is not part of the room/zone model.
		log.Debug().Str("bridge", ev.BridgeID).Str("grouped_light", change.ID).Msg("Bridge-home aggregate update ignored")
		return
	}

	err := r.reg.UpdateBridge(ev.BridgeID, func(b *model.Bridge) {
		group := b.Group(ref)
		if group == nil {
			return
		}
		if change.On != nil {
			group.On = change.On.On
		}
		if change.Dimming != nil {
			group.Brightness = change.Dimming.Brightness
		}
	})
	if err != nil {
		log.Debug().Err(err).Str("bridge", ev.BridgeID).Msg("Grouped light update for unregistered bridge")
	}
}

// resolveOwner determines which room/zone a grouped_light event belongs
// to, preferring the event's own owner reference and falling back to
// the bridge's ownership index.
func (r *Reconciler) resolveOwner(bridgeID string, change hue.ResourceChange) (model.GroupRef, bool) {
	if change.Owner != nil {
		switch change.Owner.RType {
		case hue.RTypeRoom:
			return model.GroupRef{Kind: model.OwnerRoom, ID: change.Owner.RID}, true
		case hue.RTypeZone:
			return model.GroupRef{Kind: model.OwnerZone, ID: change.Owner.RID}, true
		case hue.RTypeBridgeHome:
			return model.GroupRef{Kind: model.OwnerBridgeHome, ID: change.Owner.RID}, true
		default:
			r.onFatal(fmt.Errorf("%w: grouped_light %s owned by %q on bridge %s",
				ErrUnknownOwner, change.ID, change.Owner.RType, bridgeID))
			return model.GroupRef{}, false
		}
	}

	if b := r.reg.Snapshot().Bridge(bridgeID); b != nil {
		if ref, ok := b.GroupOwner(change.ID); ok {
			return ref, true
		}
	}
	r.onFatal(fmt.Errorf("%w: grouped_light %s without owner reference on bridge %s",
		ErrUnknownOwner, change.ID, bridgeID))
	return model.GroupRef{}, false
}

// assemble builds the model collections from one bulk load.
func assemble(load *hue.BulkLoad) (rooms, zones []model.Group, scenes []model.Scene, owners map[string]model.GroupRef) {
	lightsByID := make(map[string]hue.LightResource, len(load.Lights))
	for _, l := range load.Lights {
		lightsByID[l.ID] = l
	}

	deviceLights := make(map[string][]string, len(load.Devices))
	for _, d := range load.Devices {
		for _, svc := range d.Services {
			if svc.RType == hue.RTypeLight {
				deviceLights[d.ID] = append(deviceLights[d.ID], svc.RID)
			}
		}
	}

	groupedByID := make(map[string]hue.GroupedLightResource, len(load.GroupedLights))
	for _, gl := range load.GroupedLights {
		groupedByID[gl.ID] = gl
	}

	owners = make(map[string]model.GroupRef)

	buildGroup := func(res hue.GroupResource, kind model.OwnerKind) model.Group {
		group := model.Group{
			ID:             res.ID,
			Name:           res.Metadata.Name,
			GroupedLightID: res.GroupedLightRef(),
		}

		// Rooms list devices as children; zones list light services.
		for _, child := range res.Children {
			switch child.RType {
			case hue.RTypeDevice:
				for _, lightID := range deviceLights[child.RID] {
					if res, ok := lightsByID[lightID]; ok {
						group.Lights = append(group.Lights, toLight(res))
					}
				}
			case hue.RTypeLight:
				if res, ok := lightsByID[child.RID]; ok {
					group.Lights = append(group.Lights, toLight(res))
				}
			}
		}

		if group.GroupedLightID != "" {
			owners[group.GroupedLightID] = model.GroupRef{Kind: kind, ID: res.ID}
			if gl, ok := groupedByID[group.GroupedLightID]; ok {
				if gl.On != nil {
					group.On = gl.On.On
				}
				if gl.Dimming != nil {
					group.Brightness = gl.Dimming.Brightness
				}
			}
		}
		return group
	}

	for _, res := range load.Rooms {
		rooms = append(rooms, buildGroup(res, model.OwnerRoom))
	}
	for _, res := range load.Zones {
		zones = append(zones, buildGroup(res, model.OwnerZone))
	}

	for _, res := range load.Scenes {
		scene := model.Scene{
			ID:      res.ID,
			Name:    res.Metadata.Name,
			GroupID: res.Group.RID,
		}
		switch res.Group.RType {
		case hue.RTypeZone:
			scene.GroupKind = model.OwnerZone
		default:
			scene.GroupKind = model.OwnerRoom
		}
		for _, action := range res.Actions {
			sa := model.SceneAction{LightID: action.Target.RID}
			if action.Action.On != nil {
				on := action.Action.On.On
				sa.On = &on
			}
			if action.Action.Dimming != nil {
				bri := action.Action.Dimming.Brightness
				sa.Brightness = &bri
			}
			scene.Actions = append(scene.Actions, sa)
		}
		scenes = append(scenes, scene)
	}

	return rooms, zones, scenes, owners
}

func toLight(res hue.LightResource) model.Light {
	light := model.Light{
		ID:        res.ID,
		DeviceID:  res.Owner.RID,
		Name:      res.Metadata.Name,
		Reachable: true,
	}
	if res.On != nil {
		light.On = res.On.On
	}
	if res.Dimming != nil {
		light.Brightness = res.Dimming.Brightness
	}
	if res.Color != nil {
		light.HasColor = true
		light.ColorX = res.Color.XY.X
		light.ColorY = res.Color.XY.Y
	}
	return light
}
