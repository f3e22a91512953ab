// Package model holds the in-memory multi-bridge state: bridges with
// their rooms, zones and scenes, plus client-side flocks spanning
// bridges. Values published to consumers are never mutated in place;
// every change clones the affected bridge (copy-on-write) so observers
// of a snapshot never see partial updates.
package model

// OwnerKind is the closed set of grouped_light owner kinds the model
// can attribute.
type OwnerKind int

const (
	OwnerUnknown OwnerKind = iota
	OwnerRoom
	OwnerZone
	OwnerBridgeHome
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerRoom:
		return "room"
	case OwnerZone:
		return "zone"
	case OwnerBridgeHome:
		return "bridge_home"
	default:
		return "unknown"
	}
}

// Light is one light service with its last observed state.
type Light struct {
	ID         string
	DeviceID   string
	Name       string
	On         bool
	Brightness float64 // percent [0..100]
	HasColor   bool
	ColorX     float64
	ColorY     float64
	Reachable  bool
}

// Group is a room or a zone: an ordered list of member lights plus the
// aggregate state of its grouped_light service. Rooms are disjoint
// containers; zone membership may overlap.
type Group struct {
	ID             string
	Name           string
	GroupedLightID string // one-directional reference; owner lookup goes through Bridge.GroupOwner
	Lights         []Light
	On             bool
	Brightness     float64
}

// SceneAction is one per-light target action of a scene.
type SceneAction struct {
	LightID    string
	On         *bool
	Brightness *float64
}

// Scene is a named preset recallable on its owning room or zone.
type Scene struct {
	ID        string
	Name      string
	GroupID   string
	GroupKind OwnerKind
	Actions   []SceneAction
}

// GroupRef locates a room or zone within a bridge by kind and id.
type GroupRef struct {
	Kind OwnerKind
	ID   string
}

// Bridge is one paired Hue bridge and everything loaded from it.
//
// Active means the bridge answered the network and accepted the
// credential; Connected means its live event subscription is currently
// open. Connected implies Active.
type Bridge struct {
	ID      string
	Address string
	AppKey  string

	Active    bool
	Connected bool

	Rooms  []Group
	Zones  []Group
	Scenes []Scene

	// groupOwners maps grouped_light service id -> owning room/zone.
	// Explicit index instead of a back-pointer, so there is no
	// reference cycle between groups and their grouped_light service.
	groupOwners map[string]GroupRef
}

// SetGroupOwners replaces the grouped_light ownership index.
func (b *Bridge) SetGroupOwners(owners map[string]GroupRef) {
	b.groupOwners = owners
}

// GroupOwner resolves a grouped_light service id to its owning room or
// zone.
func (b *Bridge) GroupOwner(groupedLightID string) (GroupRef, bool) {
	ref, ok := b.groupOwners[groupedLightID]
	return ref, ok
}

// Room returns the room with the given id, or nil.
func (b *Bridge) Room(id string) *Group {
	for i := range b.Rooms {
		if b.Rooms[i].ID == id {
			return &b.Rooms[i]
		}
	}
	return nil
}

// Zone returns the zone with the given id, or nil.
func (b *Bridge) Zone(id string) *Group {
	for i := range b.Zones {
		if b.Zones[i].ID == id {
			return &b.Zones[i]
		}
	}
	return nil
}

// Group returns the room or zone identified by ref, or nil.
func (b *Bridge) Group(ref GroupRef) *Group {
	switch ref.Kind {
	case OwnerRoom:
		return b.Room(ref.ID)
	case OwnerZone:
		return b.Zone(ref.ID)
	default:
		return nil
	}
}

// Clone produces a deep copy of the bridge. Mutations by the
// reconciler go through a clone; the original stays visible unchanged
// to anyone holding a previous snapshot.
func (b *Bridge) Clone() *Bridge {
	clone := *b

	clone.Rooms = cloneGroups(b.Rooms)
	clone.Zones = cloneGroups(b.Zones)

	clone.Scenes = make([]Scene, len(b.Scenes))
	copy(clone.Scenes, b.Scenes)

	clone.groupOwners = make(map[string]GroupRef, len(b.groupOwners))
	for k, v := range b.groupOwners {
		clone.groupOwners[k] = v
	}
	return &clone
}

func cloneGroups(groups []Group) []Group {
	out := make([]Group, len(groups))
	for i, g := range groups {
		out[i] = g
		out[i].Lights = make([]Light, len(g.Lights))
		copy(out[i].Lights, g.Lights)
	}
	return out
}

// MemberKind distinguishes flock members.
type MemberKind int

const (
	MemberRoom MemberKind = iota
	MemberZone
)

func (k MemberKind) String() string {
	if k == MemberZone {
		return "zone"
	}
	return "room"
}

// FlockMember is one room or zone belonging to a flock, tagged with the
// bridge that owns it.
type FlockMember struct {
	BridgeID string
	Kind     MemberKind
	GroupID  string
}

// Flock is an application-level grouping of rooms and zones across
// bridges. It has no bridge-side representation; its displayed state is
// derived from member state, never stored authoritatively.
type Flock struct {
	ID      string
	Name    string
	Members []FlockMember
}

// Clone produces a copy of the flock with an independent member slice.
func (f *Flock) Clone() *Flock {
	clone := *f
	clone.Members = make([]FlockMember, len(f.Members))
	copy(clone.Members, f.Members)
	return &clone
}
