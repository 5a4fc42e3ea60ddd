// Package realtime is the push side of the gateway: insert events fan out to
// subscribers scoped by conversation id, either in-process or over a
// websocket.
package realtime

import (
	"sync"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/hideout-chat/hideout/filter"
	"github.com/hideout-chat/hideout/globals"
	"github.com/hideout-chat/hideout/types"
)

const subscriptionBufferSize = 256

// A Feed hands out change-notification subscriptions scoped by conversation.
// Implemented by the in-process Hub and by Dialer for remote gateways.
type Feed interface {
	Subscribe(conversationId, filterExpr string) (*Subscription, error)
}

// A Subscription delivers events for one conversation until closed. Closing
// is idempotent; failing to close leaks the subscriber registration.
type Subscription struct {
	events chan *types.Event

	convId string
	prog   *vm.Program

	closeOnce sync.Once
	closeFn   func()
}

func (s *Subscription) Events() <-chan *types.Event {
	return s.events
}

func (s *Subscription) Close() {
	s.closeOnce.Do(s.closeFn)
}

// Hub is the in-process fan-out point. The gateway daemon publishes every
// stored message here; websocket handlers and local sync loops subscribe.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers for events of one conversation. filterExpr is an
// optional expr expression evaluated against filter.Env; events it rejects
// are not delivered.
func (h *Hub) Subscribe(conversationId, filterExpr string) (*Subscription, error) {
	var prog *vm.Program
	if filterExpr != "" {
		var err error
		prog, err = expr.Compile(filterExpr, expr.Env(filter.Env{}))
		if err != nil {
			return nil, err
		}
	}
	sub := &Subscription{
		events: make(chan *types.Event, subscriptionBufferSize),
		convId: conversationId,
		prog:   prog,
	}
	sub.closeFn = func() {
		h.mu.Lock()
		if set, ok := h.subs[conversationId]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, conversationId)
			}
		}
		h.mu.Unlock()
		close(sub.events)
	}
	h.mu.Lock()
	set, ok := h.subs[conversationId]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[conversationId] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub, nil
}

// Publish delivers the event to every matching subscriber of its
// conversation. Slow subscribers drop events rather than block the
// publisher.
func (h *Hub) Publish(event *types.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[event.ConversationId] {
		if !runFilter(sub.prog, event) {
			continue
		}
		select {
		case sub.events <- event:
		default:
			globals.AppLogger.Warn("dropping event for slow subscriber", "conversation", event.ConversationId)
		}
	}
}

// NoSubscribers returns the number of subscribers for a conversation.
func (h *Hub) NoSubscribers(conversationId string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationId])
}

func runFilter(prog *vm.Program, event *types.Event) bool {
	if prog == nil {
		return true
	}
	env := filter.Env{
		Conversation: filter.Conversation{
			Id: event.ConversationId,
		},
		Sender: filter.Sender{
			Id: event.SenderId,
		},
		Table:   event.Table,
		Event:   event.Type,
		Created: event.Created.Unix(),
	}
	res, err := expr.Run(prog, env)
	if err != nil {
		globals.AppLogger.Error("could not run subscription filter", "error", err)
		return false
	}
	if bRes, ok := res.(bool); ok && bRes {
		return true
	}
	return false
}
