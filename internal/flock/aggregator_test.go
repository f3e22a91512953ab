package flock

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/scottbiggs/Pauls-app-sub000/internal/model"
	"github.com/scottbiggs/Pauls-app-sub000/internal/registry"
)

var errBridgeDown = errors.New("bridge unreachable")

// fakeWriter records grouped_light writes or fails every call.
type fakeWriter struct {
	mu    sync.Mutex
	fail  bool
	calls []string
}

func (w *fakeWriter) SetGroupedLight(_ context.Context, id string, on *bool, brightness *float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errBridgeDown
	}
	w.calls = append(w.calls, id)
	return nil
}

func bridgeWithRoom(bridgeID, roomID, groupedID string, on bool, brightness float64) *model.Bridge {
	b := &model.Bridge{ID: bridgeID, Active: true}
	b.Rooms = []model.Group{{
		ID:             roomID,
		Name:           roomID,
		GroupedLightID: groupedID,
		On:             on,
		Brightness:     brightness,
	}}
	b.SetGroupOwners(map[string]model.GroupRef{
		groupedID: {Kind: model.OwnerRoom, ID: roomID},
	})
	return b
}

func setup(t *testing.T) (*registry.Registry, *Aggregator, *fakeWriter, *fakeWriter) {
	t.Helper()

	reg := registry.New()
	if err := reg.AddBridge(bridgeWithRoom("bridge-1", "room-a", "g-a", false, 20)); err != nil {
		t.Fatal(err)
	}
	if err := reg.AddBridge(bridgeWithRoom("bridge-2", "room-b", "g-b", true, 80)); err != nil {
		t.Fatal(err)
	}

	healthy := &fakeWriter{}
	broken := &fakeWriter{fail: true}
	resolve := func(bridgeID string) (GroupWriter, bool) {
		switch bridgeID {
		case "bridge-1":
			return healthy, true
		case "bridge-2":
			return broken, true
		default:
			return nil, false
		}
	}

	agg := New(reg, resolve, nil, 0)

	err := reg.AddFlock(&model.Flock{
		ID:   "flock-1",
		Name: "Downstairs",
		Members: []model.FlockMember{
			{BridgeID: "bridge-1", Kind: model.MemberRoom, GroupID: "room-a"},
			{BridgeID: "bridge-2", Kind: model.MemberRoom, GroupID: "room-b"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	return reg, agg, healthy, broken
}

func TestFanOutFailuresAreIndependent(t *testing.T) {
	_, agg, healthy, _ := setup(t)

	failures, err := agg.ChangeOnOff(context.Background(), "flock-1", true)
	if err != nil {
		t.Fatal(err)
	}

	// Exactly the broken bridge's member failed; the healthy member's
	// write still went through.
	if len(failures) != 1 {
		t.Fatalf("expected exactly 1 failed member, got %d", len(failures))
	}
	if failures[0].Member.BridgeID != "bridge-2" {
		t.Fatalf("wrong failed member: %+v", failures[0].Member)
	}
	if !errors.Is(failures[0].Err, errBridgeDown) {
		t.Fatalf("expected errBridgeDown, got %v", failures[0].Err)
	}
	if len(healthy.calls) != 1 || healthy.calls[0] != "g-a" {
		t.Fatalf("healthy bridge should have received one write for g-a, got %v", healthy.calls)
	}
}

func TestChangeBrightnessTargetsGroupedLights(t *testing.T) {
	_, agg, healthy, broken := setup(t)
	broken.fail = false

	failures, err := agg.ChangeBrightness(context.Background(), "flock-1", 65)
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	if len(healthy.calls) != 1 || len(broken.calls) != 1 {
		t.Fatalf("each member's grouped light must receive one write, got %v / %v", healthy.calls, broken.calls)
	}
}

func TestUnknownFlock(t *testing.T) {
	_, agg, _, _ := setup(t)

	if _, err := agg.ChangeOnOff(context.Background(), "no-such-flock", true); !errors.Is(err, registry.ErrFlockNotFound) {
		t.Fatalf("expected ErrFlockNotFound, got %v", err)
	}
}

func TestDerivedState(t *testing.T) {
	_, agg, _, _ := setup(t)

	// room-a off at 20, room-b on at 80: any-on semantics, mean brightness.
	on, brightness, err := agg.State("flock-1")
	if err != nil {
		t.Fatal(err)
	}
	if !on {
		t.Fatal("expected flock to read on while any member is on")
	}
	if brightness != 50 {
		t.Fatalf("expected mean brightness 50, got %v", brightness)
	}
}

func TestDeletedBridgeMembersDropOut(t *testing.T) {
	reg, agg, healthy, _ := setup(t)

	if _, err := reg.DeleteBridge("bridge-2"); err != nil {
		t.Fatal(err)
	}

	failures, err := agg.ChangeOnOff(context.Background(), "flock-1", false)
	if err != nil {
		t.Fatal(err)
	}
	// The deleted bridge's member was pruned, not left dangling as a
	// permanent failure.
	if len(failures) != 0 {
		t.Fatalf("pruned members must not fail the fan-out: %+v", failures)
	}
	if len(healthy.calls) != 1 {
		t.Fatalf("surviving member should still be written: %v", healthy.calls)
	}
}

func TestCreateValidatesMembers(t *testing.T) {
	_, agg, _, _ := setup(t)

	_, err := agg.Create("Ghost", []model.FlockMember{
		{BridgeID: "no-such-bridge", Kind: model.MemberRoom, GroupID: "room-x"},
	})
	if !errors.Is(err, registry.ErrBridgeNotFound) {
		t.Fatalf("expected ErrBridgeNotFound, got %v", err)
	}

	f, err := agg.Create("Real", []model.FlockMember{
		{BridgeID: "bridge-1", Kind: model.MemberRoom, GroupID: "room-a"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if f.ID == "" {
		t.Fatal("created flock must carry a generated id")
	}
}
