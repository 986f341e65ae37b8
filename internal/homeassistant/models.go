package homeassistant

import (
	"encoding/json"

	"github.com/halfdome/lightstated/internal/platform"
)

// Websocket message types used by the Home Assistant websocket API.
const (
	msgTypeAuthRequired    = "auth_required"
	msgTypeAuth            = "auth"
	msgTypeAuthOK          = "auth_ok"
	msgTypeAuthInvalid     = "auth_invalid"
	msgTypeSubscribeEvents = "subscribe_events"
	msgTypeResult          = "result"
	msgTypeEvent           = "event"
)

// eventStateChanged is the host event type carrying entity state changes.
const eventStateChanged = "state_changed"

// wsMessage is a single frame on the Home Assistant websocket connection.
// Fields are a union over the message types we send and receive.
type wsMessage struct {
	ID          int      `json:"id,omitempty"`
	Type        string   `json:"type"`
	AccessToken string   `json:"access_token,omitempty"`
	EventType   string   `json:"event_type,omitempty"`
	Success     *bool    `json:"success,omitempty"`
	Event       *wsEvent `json:"event,omitempty"`
	Error       *wsError `json:"error,omitempty"`
	Message     string   `json:"message,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsEvent struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// stateChangedData is the payload of a state_changed event. Old and new
// states are nullable: a removed entity has no new state, a newly added one
// has no old state.
type stateChangedData struct {
	EntityID string          `json:"entity_id"`
	OldState *platform.State `json:"old_state"`
	NewState *platform.State `json:"new_state"`
}
