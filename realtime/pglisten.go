package realtime

import (
	"encoding/json"
	"time"

	"github.com/hideout-chat/hideout/globals"
	"github.com/hideout-chat/hideout/types"
	"github.com/lib/pq"
)

const (
	notifyChannel        = "hideout_messages"
	listenerMinReconnect = time.Second
	listenerMaxReconnect = time.Minute
)

// PGListener bridges postgres NOTIFY payloads, emitted by the message insert
// trigger, into the hub. With a postgres gateway this is the authoritative
// fan-out path: it also sees inserts performed by other processes sharing
// the database.
type PGListener struct {
	listener *pq.Listener
	done     chan struct{}
}

func ListenPostgres(dsn string, hub *Hub) (*PGListener, error) {
	listener := pq.NewListener(dsn, listenerMinReconnect, listenerMaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			globals.AppLogger.Error("pg listener event", "event", ev, "error", err)
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		return nil, err
	}
	l := &PGListener{listener: listener, done: make(chan struct{})}
	go l.run(hub)
	return l, nil
}

func (l *PGListener) run(hub *Hub) {
	for {
		select {
		case n, ok := <-l.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// reconnect marker, nothing to deliver
				continue
			}
			event := &types.Event{}
			if err := json.Unmarshal([]byte(n.Extra), event); err != nil {
				globals.AppLogger.Error("could not unmarshal notify payload", "error", err)
				continue
			}
			hub.Publish(event)
		case <-l.done:
			return
		}
	}
}

func (l *PGListener) Close() error {
	close(l.done)
	return l.listener.Close()
}
