package realtime

import (
	"encoding/json"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/hideout-chat/hideout/globals"
	"github.com/hideout-chat/hideout/types"
)

// A Dialer subscribes to a remote gateway daemon's realtime endpoint. It
// implements Feed, so sync code does not care whether events come from an
// in-process hub or over the wire.
type Dialer struct {
	// BaseURL of the daemon's realtime endpoint, e.g. "ws://host:8000/realtime".
	BaseURL string
	// Credentials passed as query parameters, verified by the daemon.
	IdToken  string
	Provider string
}

func (d *Dialer) Subscribe(conversationId, filterExpr string) (*Subscription, error) {
	u, err := url.Parse(d.BaseURL + "/" + conversationId)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if d.IdToken != "" {
		q.Set("id_token", d.IdToken)
		q.Set("provider", d.Provider)
	}
	if filterExpr != "" {
		q.Set("filter", filterExpr)
	}
	u.RawQuery = q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	sub := &Subscription{
		events: make(chan *types.Event, subscriptionBufferSize),
		convId: conversationId,
	}
	sub.closeFn = func() {
		conn.Close()
	}
	go func() {
		defer close(sub.events)
		defer sub.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			envelope := types.WebsocketMessage{}
			if err := json.Unmarshal(raw, &envelope); err != nil {
				globals.AppLogger.Error("could not unmarshal realtime envelope", "error", err)
				continue
			}
			if envelope.Event != types.EventInsert {
				continue
			}
			event := &types.Event{}
			if err := json.Unmarshal(envelope.Data, event); err != nil {
				globals.AppLogger.Error("could not unmarshal realtime event", "error", err)
				continue
			}
			sub.events <- event
		}
	}()
	return sub, nil
}
