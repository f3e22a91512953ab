package reconcile

import (
	"errors"
	"testing"

	"github.com/scottbiggs/Pauls-app-sub000/internal/hue"
	"github.com/scottbiggs/Pauls-app-sub000/internal/model"
	"github.com/scottbiggs/Pauls-app-sub000/internal/registry"
)

func onPtr(on bool) *hue.On {
	return &hue.On{On: on}
}

func dimPtr(brightness float64) *hue.Dimming {
	return &hue.Dimming{Brightness: brightness}
}

// testLoad builds a two-room bulk load: Living (light-1, grouped g-living)
// and Den (light-2, grouped g-den), plus one zone spanning both lights.
func testLoad() *hue.BulkLoad {
	load := &hue.BulkLoad{}

	for _, d := range []struct{ device, light string }{
		{"dev-1", "light-1"},
		{"dev-2", "light-2"},
	} {
		var dev hue.DeviceResource
		dev.ID = d.device
		dev.Metadata.Name = d.device
		dev.Services = []hue.ResourceRef{{RID: d.light, RType: hue.RTypeLight}}
		load.Devices = append(load.Devices, dev)

		var light hue.LightResource
		light.ID = d.light
		light.Owner = hue.ResourceRef{RID: d.device, RType: hue.RTypeDevice}
		light.Metadata.Name = d.light
		light.On = onPtr(false)
		light.Dimming = dimPtr(50)
		load.Lights = append(load.Lights, light)
	}

	for _, r := range []struct{ id, name, device, grouped string }{
		{"room-living", "Living", "dev-1", "g-living"},
		{"room-den", "Den", "dev-2", "g-den"},
	} {
		var room hue.GroupResource
		room.ID = r.id
		room.Metadata.Name = r.name
		room.Children = []hue.ResourceRef{{RID: r.device, RType: hue.RTypeDevice}}
		room.Services = []hue.ResourceRef{{RID: r.grouped, RType: hue.RTypeGroupedLight}}
		load.Rooms = append(load.Rooms, room)

		load.GroupedLights = append(load.GroupedLights, hue.GroupedLightResource{
			ID:      r.grouped,
			Owner:   hue.ResourceRef{RID: r.id, RType: hue.RTypeRoom},
			On:      onPtr(false),
			Dimming: dimPtr(50),
		})
	}

	var zone hue.GroupResource
	zone.ID = "zone-all"
	zone.Metadata.Name = "Everywhere"
	zone.Children = []hue.ResourceRef{
		{RID: "light-1", RType: hue.RTypeLight},
		{RID: "light-2", RType: hue.RTypeLight},
	}
	zone.Services = []hue.ResourceRef{{RID: "g-zone", RType: hue.RTypeGroupedLight}}
	load.Zones = append(load.Zones, zone)
	load.GroupedLights = append(load.GroupedLights, hue.GroupedLightResource{
		ID:    "g-zone",
		Owner: hue.ResourceRef{RID: "zone-all", RType: hue.RTypeZone},
	})

	return load
}

func setup(t *testing.T, onFatal func(error)) (*registry.Registry, *Reconciler) {
	t.Helper()
	reg := registry.New()
	if err := reg.AddBridge(&model.Bridge{ID: "bridge-1", Address: "10.0.0.2"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.AddBridge(&model.Bridge{ID: "bridge-2", Address: "10.0.0.3"}); err != nil {
		t.Fatal(err)
	}

	r := New(reg, onFatal)
	if err := r.ApplyBulkLoad("bridge-1", testLoad()); err != nil {
		t.Fatal(err)
	}
	return reg, r
}

func TestBulkLoadAssemblesModel(t *testing.T) {
	reg, _ := setup(t, nil)

	b := reg.Snapshot().Bridge("bridge-1")
	if b == nil {
		t.Fatal("bridge-1 missing from snapshot")
	}
	if !b.Active {
		t.Fatal("bulk load must mark the bridge active")
	}
	if len(b.Rooms) != 2 || len(b.Zones) != 1 {
		t.Fatalf("expected 2 rooms and 1 zone, got %d/%d", len(b.Rooms), len(b.Zones))
	}

	den := b.Room("room-den")
	if den == nil {
		t.Fatal("room-den missing")
	}
	if den.GroupedLightID != "g-den" {
		t.Fatalf("expected grouped light g-den, got %q", den.GroupedLightID)
	}
	if len(den.Lights) != 1 || den.Lights[0].ID != "light-2" {
		t.Fatalf("unexpected den lights: %+v", den.Lights)
	}

	// Zone membership overlaps room membership.
	if got := len(b.Zones[0].Lights); got != 2 {
		t.Fatalf("expected zone to hold 2 lights, got %d", got)
	}

	if ref, ok := b.GroupOwner("g-den"); !ok || ref.Kind != model.OwnerRoom || ref.ID != "room-den" {
		t.Fatalf("grouped light index wrong: %+v ok=%v", ref, ok)
	}
}

func TestGroupedLightUpdateConverges(t *testing.T) {
	reg, r := setup(t, nil)

	before := reg.Snapshot()
	untouched := before.Bridge("bridge-2")

	r.ApplyEvent(hue.Event{
		BridgeID: "bridge-1",
		Type:     hue.EventUpdate,
		Resource: hue.ResourceChange{
			ID:      "g-den",
			Type:    hue.RTypeGroupedLight,
			Owner:   &hue.ResourceRef{RID: "room-den", RType: hue.RTypeRoom},
			On:      onPtr(true),
			Dimming: dimPtr(42),
		},
	})

	after := reg.Snapshot()
	den := after.Bridge("bridge-1").Room("room-den")
	if !den.On || den.Brightness != 42 {
		t.Fatalf("expected Den on with brightness 42, got on=%v brightness=%v", den.On, den.Brightness)
	}

	// All other rooms unchanged.
	living := after.Bridge("bridge-1").Room("room-living")
	if living.On || living.Brightness != 50 {
		t.Fatalf("Living must be untouched, got on=%v brightness=%v", living.On, living.Brightness)
	}

	// Unrelated bridges are reference-stable across the republish.
	if after.Bridge("bridge-2") != untouched {
		t.Fatal("bridge-2 must be the same value across an unrelated update")
	}

	// The previously published snapshot still shows the old state.
	if before.Bridge("bridge-1").Room("room-den").Brightness != 50 {
		t.Fatal("published snapshot was mutated in place")
	}
}

func TestLightUpdateAppliesToEveryOccurrence(t *testing.T) {
	reg, r := setup(t, nil)

	r.ApplyEvent(hue.Event{
		BridgeID: "bridge-1",
		Type:     hue.EventUpdate,
		Resource: hue.ResourceChange{
			ID:      "light-2",
			Type:    hue.RTypeLight,
			Owner:   &hue.ResourceRef{RID: "dev-2", RType: hue.RTypeDevice},
			On:      onPtr(true),
			Dimming: dimPtr(77),
		},
	})

	b := reg.Snapshot().Bridge("bridge-1")
	den := b.Room("room-den")
	if !den.Lights[0].On || den.Lights[0].Brightness != 77 {
		t.Fatalf("room light not updated: %+v", den.Lights[0])
	}

	// The same light appears in the zone too.
	for _, l := range b.Zones[0].Lights {
		if l.ID == "light-2" && (!l.On || l.Brightness != 77) {
			t.Fatalf("zone occurrence not updated: %+v", l)
		}
	}
}

func TestUnknownOwnerKindIsSurfaced(t *testing.T) {
	var fatal error
	_, r := setup(t, func(err error) { fatal = err })

	r.ApplyEvent(hue.Event{
		BridgeID: "bridge-1",
		Type:     hue.EventUpdate,
		Resource: hue.ResourceChange{
			ID:      "g-den",
			Type:    hue.RTypeGroupedLight,
			Owner:   &hue.ResourceRef{RID: "whatever", RType: "private_group"},
			Dimming: dimPtr(10),
		},
	})

	if !errors.Is(fatal, ErrUnknownOwner) {
		t.Fatalf("expected ErrUnknownOwner surfaced, got %v", fatal)
	}
}

func TestNonMutatingEventsAreSafe(t *testing.T) {
	reg, r := setup(t, nil)
	before := reg.Snapshot().Bridge("bridge-1")

	for _, typ := range []hue.EventType{hue.EventAdd, hue.EventDelete, hue.EventError, hue.EventUnknown} {
		r.ApplyEvent(hue.Event{
			BridgeID: "bridge-1",
			Type:     typ,
			Resource: hue.ResourceChange{ID: "light-2", Type: hue.RTypeLight, On: onPtr(true)},
		})
	}

	if reg.Snapshot().Bridge("bridge-1") != before {
		t.Fatal("add/delete/error events must not mutate the model")
	}
}

func TestSetConnectedTouchesOnlyTheFlag(t *testing.T) {
	reg, r := setup(t, nil)
	before := reg.Snapshot().Bridge("bridge-1")

	r.SetConnected("bridge-1", true)

	after := reg.Snapshot().Bridge("bridge-1")
	if !after.Connected {
		t.Fatal("connected flag not set")
	}
	if len(after.Rooms) != len(before.Rooms) || after.Room("room-den").Brightness != before.Room("room-den").Brightness {
		t.Fatal("connectivity transition must leave all other fields untouched")
	}

	// A transition for a deleted bridge must not panic.
	r.SetConnected("no-such-bridge", false)
}
