package hue

// CLIP v2 resource records as returned inside the `data` array of the
// standard response envelope. Optional sub-states are pointers so a
// missing field can be told apart from a zero value.

// LightResource represents a light service.
type LightResource struct {
	ID       string      `json:"id"`
	Owner    ResourceRef `json:"owner"`
	Metadata struct {
		Name      string `json:"name"`
		Archetype string `json:"archetype,omitempty"`
	} `json:"metadata"`
	On      *On      `json:"on,omitempty"`
	Dimming *Dimming `json:"dimming,omitempty"`
	Color   *Color   `json:"color,omitempty"`
}

// DeviceResource represents a physical device; its services list points
// at the light services the device exposes.
type DeviceResource struct {
	ID       string `json:"id"`
	Metadata struct {
		Name      string `json:"name"`
		Archetype string `json:"archetype,omitempty"`
	} `json:"metadata"`
	Services []ResourceRef `json:"services"`
}

// GroupResource represents a room or a zone. Rooms list devices as
// children; zones list light services directly.
type GroupResource struct {
	ID       string `json:"id"`
	Metadata struct {
		Name      string `json:"name"`
		Archetype string `json:"archetype,omitempty"`
	} `json:"metadata"`
	Children []ResourceRef `json:"children"`
	Services []ResourceRef `json:"services"`
}

// GroupedLightRef returns the id of the group's grouped_light service,
// or empty if the group has none.
func (g *GroupResource) GroupedLightRef() string {
	for _, svc := range g.Services {
		if svc.RType == RTypeGroupedLight {
			return svc.RID
		}
	}
	return ""
}

// GroupedLightResource is the aggregate on/off+brightness service owned
// by a room, zone or the bridge home.
type GroupedLightResource struct {
	ID      string      `json:"id"`
	Owner   ResourceRef `json:"owner"`
	On      *On         `json:"on,omitempty"`
	Dimming *Dimming    `json:"dimming,omitempty"`
}

// SceneResource represents a scene preset bound to a room or zone.
type SceneResource struct {
	ID       string `json:"id"`
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
	Group   ResourceRef   `json:"group"`
	Actions []SceneAction `json:"actions"`
}

// SceneAction is one per-light action of a scene.
type SceneAction struct {
	Target ResourceRef `json:"target"`
	Action struct {
		On      *On      `json:"on,omitempty"`
		Dimming *Dimming `json:"dimming,omitempty"`
		Color   *Color   `json:"color,omitempty"`
	} `json:"action"`
}

// BridgeResource is the bridge's self-description; BridgeID is the
// stable hardware identity used as the registry key.
type BridgeResource struct {
	ID       string      `json:"id"`
	Owner    ResourceRef `json:"owner"`
	BridgeID string      `json:"bridge_id"`
}
