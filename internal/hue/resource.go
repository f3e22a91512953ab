// Package hue implements the CLIP v2 API surface needed to keep a live
// model of one or more Hue bridges: the REST resource client, the
// registration (pairing) call, and the server-sent event stream.
package hue

import "fmt"

// ResourceType identifies a CLIP v2 resource kind.
type ResourceType string

const (
	RTypeBridge       ResourceType = "bridge"
	RTypeBridgeHome   ResourceType = "bridge_home"
	RTypeDevice       ResourceType = "device"
	RTypeLight        ResourceType = "light"
	RTypeRoom         ResourceType = "room"
	RTypeZone         ResourceType = "zone"
	RTypeScene        ResourceType = "scene"
	RTypeGroupedLight ResourceType = "grouped_light"
)

// ResourceRef is a reference to another resource (rid/rtype pair).
type ResourceRef struct {
	RID   string       `json:"rid"`
	RType ResourceType `json:"rtype"`
}

// APIError is a single entry of the `errors` array the bridge returns
// alongside (possibly partial) data.
type APIError struct {
	Description string `json:"description"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("bridge error: %s", e.Description)
}

// On is the on/off sub-state of a light or grouped light.
type On struct {
	On bool `json:"on"`
}

// Dimming is the brightness sub-state, in percent [0..100].
type Dimming struct {
	Brightness float64 `json:"brightness"`
}

// ColorXY is a CIE xy chromaticity coordinate.
type ColorXY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Color is the color sub-state of a light.
type Color struct {
	XY ColorXY `json:"xy"`
}
