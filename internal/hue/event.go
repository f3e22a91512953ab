package hue

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the closed set of stream event kinds. Closed enum so
// dispatch is exhaustive instead of string comparison at every call
// site.
type EventType int

const (
	EventUnknown EventType = iota
	EventAdd
	EventUpdate
	EventDelete
	EventError
)

// String implements fmt.Stringer for logging.
func (t EventType) String() string {
	switch t {
	case EventAdd:
		return "add"
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// parseEventType maps the wire string onto the enum. Unrecognized
// strings map to EventUnknown rather than failing the whole message.
func parseEventType(s string) EventType {
	switch s {
	case "add":
		return EventAdd
	case "update":
		return EventUpdate
	case "delete":
		return EventDelete
	case "error":
		return EventError
	default:
		return EventUnknown
	}
}

// ResourceChange is the per-resource payload of one stream event:
// which resource changed and the fields that changed. Absent fields
// stay nil.
type ResourceChange struct {
	ID      string       `json:"id"`
	Type    ResourceType `json:"type"`
	Owner   *ResourceRef `json:"owner,omitempty"`
	On      *On          `json:"on,omitempty"`
	Dimming *Dimming     `json:"dimming,omitempty"`
	Color   *Color       `json:"color,omitempty"`
}

// Event is one reconciler-ready notification: a single resource change
// attributed to the bridge whose stream delivered it.
type Event struct {
	BridgeID     string
	Type         EventType
	CreationTime time.Time
	Resource     ResourceChange
}

// streamMessage is one element of the JSON array a server message
// carries.
type streamMessage struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	CreationTime time.Time        `json:"creationtime"`
	Data         []ResourceChange `json:"data"`
}

// ParseMessage parses one server message body (a JSON array of
// heterogeneous event records) into individual events, preserving
// array order. The bridgeID tags every event for attribution.
func ParseMessage(bridgeID string, body []byte) ([]Event, error) {
	var messages []streamMessage
	if err := json.Unmarshal(body, &messages); err != nil {
		return nil, fmt.Errorf("malformed event message: %w", err)
	}

	var events []Event
	for _, msg := range messages {
		typ := parseEventType(msg.Type)
		for _, change := range msg.Data {
			events = append(events, Event{
				BridgeID:     bridgeID,
				Type:         typ,
				CreationTime: msg.CreationTime,
				Resource:     change,
			})
		}
	}
	return events, nil
}
