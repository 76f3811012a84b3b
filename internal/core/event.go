package core

// Origin records whether an event was produced locally or received from elsewhere.
type Origin string

// Event origins.
const (
	OriginLocal  Origin = "LOCAL"
	OriginRemote Origin = "REMOTE"
)

// Well-known event types.
const (
	EventStateChanged                  = "state_changed"
	EventServiceRegistered             = "service_registered"
	EventServiceRemoved                = "service_removed"
	EventCallService                   = "call_service"
	EventConfigEntryStateChanged       = "config_entry_state_changed"
	EventConfigEntriesUpdated          = "config_entries_updated"
	EventDeviceRegistryUpdated         = "device_registry_updated"
	EventEntityRegistryUpdated         = "entity_registry_updated"
	EventAreaRegistryUpdated           = "area_registry_updated"
	EventFloorRegistryUpdated          = "floor_registry_updated"
	EventLabelRegistryUpdated          = "label_registry_updated"
	EventApplicationCredentialsUpdated = "application_credentials_updated"

	// MatchAll subscribes a listener to every event type.
	MatchAll = "*"
)

// Event is a single fired bus event. It is not retained after dispatch.
type Event struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Origin    Origin         `json:"origin"`
	TimeFired Timestamp      `json:"time_fired"`
	Context   *Context       `json:"context"`
}

// NewEvent builds a local event with a fresh context when ctx is nil.
func NewEvent(eventType string, data map[string]any, ctx *Context) *Event {
	if data == nil {
		data = map[string]any{}
	}
	return &Event{
		EventType: eventType,
		Data:      data,
		Origin:    OriginLocal,
		TimeFired: Now(),
		Context:   ctx.OrNew(),
	}
}

// StateChangedData builds the payload of a state_changed event.
// A nil old or new state is encoded as JSON null.
func StateChangedData(entityID string, oldState, newState *State) map[string]any {
	return map[string]any{
		"entity_id": entityID,
		"old_state": oldState,
		"new_state": newState,
	}
}
