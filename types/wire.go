package types

import "encoding/json"

// Websocket message kinds, client to server.
const (
	WireMessageTypeMessage  = "message"
	WireMessageTypeMarkRead = "mark_read"
)

// JSON-serialized WebsocketMessage is what is actually sent via the websocket
// connection, in both directions.
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SendMessage is the incoming payload for WireMessageTypeMessage.
type SendMessage struct {
	Content  string `json:"content" mapstructure:"content"`
	ImageUrl string `json:"image_url" mapstructure:"image_url"`
}

// MarkReadMessage is the incoming payload for WireMessageTypeMarkRead.
type MarkReadMessage struct {
	At int64 `json:"at" mapstructure:"at"` // unix seconds, 0 means now
}

// WireEvent wraps an Event in the websocket envelope so the event type
// doubles as the envelope's event name.
type WireEvent struct {
	*Event
}

func (e WireEvent) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{
		Event: e.Event.Type,
		Data:  data,
	})
}
