package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hideout-chat/hideout/gateway"
	"github.com/hideout-chat/hideout/globals"
	"github.com/hideout-chat/hideout/types"
	"github.com/mitchellh/mapstructure"
)

const (
	maxMessageSize  = 4096
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 256
)

// Client is a middleman between one websocket connection and the hub: events
// of the subscribed conversation flow out, message sends and read marks flow
// in.
type Client struct {
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	user *types.User
	conv *types.Conversation

	gw  gateway.Gateway
	sub *Subscription

	publish  func(*types.Event)
	doneChan chan struct{}

	// WaitGroup keeps track of the running loops, so the connection teardown
	// can wait for all writers before closing channels.
	sync.WaitGroup
}

// NewClient wires a websocket connection to a subscription. publish may be
// nil when stored messages are fanned out elsewhere (postgres NOTIFY).
func NewClient(conn *websocket.Conn, user *types.User, conv *types.Conversation, gw gateway.Gateway, sub *Subscription, publish func(*types.Event), doneChan chan struct{}) *Client {
	return &Client{
		conn:     conn,
		Send:     make(chan []byte, sendChannelSize),
		user:     user,
		conv:     conv,
		gw:       gw,
		sub:      sub,
		publish:  publish,
		doneChan: doneChan,
	}
}

// ForwardLoop pumps subscription events to the websocket connection.
func (c *Client) ForwardLoop() {
	defer c.Done()
	for {
		select {
		case event, ok := <-c.sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(types.WireEvent{Event: event})
			if err != nil {
				globals.AppLogger.Error("could not marshal event", "error", err)
				continue
			}
			select {
			case c.Send <- data:
			case <-c.doneChan:
				return
			}
		case <-c.doneChan:
			return
		}
	}
}

// ReadLoop pumps messages from the websocket connection to the gateway.
//
// There is at most one reader on a connection; all reads happen from this
// goroutine.
func (c *Client) ReadLoop() {
	defer func() {
		c.sub.Close()
		c.conn.Close()
		close(c.doneChan)
		c.Done()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				globals.AppLogger.Info("ws closed unexpectedly", "error", err)
			}
			return
		}
		message := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &message); err != nil {
			globals.AppLogger.Error("could not unmarshal ws message", "error", err)
			return
		}

		switch message.Event {
		case types.WireMessageTypeMessage:
			dataMap := make(map[string]interface{})
			if err := json.Unmarshal(message.Data, &dataMap); err != nil {
				globals.AppLogger.Error("could not unmarshal send payload", "error", err)
				continue
			}
			sendMsg := types.SendMessage{}
			if err := mapstructure.WeakDecode(dataMap, &sendMsg); err != nil {
				globals.AppLogger.Error("could not decode send payload", "error", err)
				continue
			}
			msg := &types.Message{
				ConversationId: c.conv.Id,
				SenderId:       c.user.Id,
				Content:        sendMsg.Content,
				ImageUrl:       sendMsg.ImageUrl,
			}
			if err := c.gw.StoreMessage(msg); err != nil {
				globals.AppLogger.Warn("message rejected", "user", c.user.Id, "error", err)
				continue
			}
			if c.publish != nil {
				c.publish(types.NewMessageEvent(msg))
			}

		case types.WireMessageTypeMarkRead:
			dataMap := make(map[string]interface{})
			if err := json.Unmarshal(message.Data, &dataMap); err != nil {
				globals.AppLogger.Error("could not unmarshal mark-read payload", "error", err)
				continue
			}
			markRead := types.MarkReadMessage{}
			if err := mapstructure.WeakDecode(dataMap, &markRead); err != nil {
				globals.AppLogger.Error("could not decode mark-read payload", "error", err)
				continue
			}
			at := time.Now().UTC()
			if markRead.At > 0 {
				at = time.Unix(markRead.At, 0).UTC()
			}
			if err := c.gw.MarkRead(c.conv.Id, c.user.Id, at); err != nil {
				globals.AppLogger.Error("could not mark read", "error", err)
			}
		}
	}
}

// WriteLoop pumps messages from the Send channel to the websocket
// connection.
//
// There is at most one writer to a connection; all writes happen from this
// goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.Done()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.doneChan:
			return
		}
	}
}
