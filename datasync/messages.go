package datasync

import (
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/hideout-chat/hideout/gateway"
	"github.com/hideout-chat/hideout/globals"
	"github.com/hideout-chat/hideout/realtime"
	"github.com/hideout-chat/hideout/store"
	"github.com/hideout-chat/hideout/types"
)

const senderCacheSize = 256

// MessagesSync loads the message history of a conversation into the store
// and keeps it current by subscribing to the realtime feed. One Stream is
// open per active conversation.
type MessagesSync struct {
	gw    gateway.Gateway
	st    *store.Store
	feed  realtime.Feed
	limit int

	senderCache *lru.ARCCache
}

func NewMessagesSync(gw gateway.Gateway, st *store.Store, feed realtime.Feed, fetchLimit int) (*MessagesSync, error) {
	cache, err := lru.NewARC(senderCacheSize)
	if err != nil {
		return nil, err
	}
	return &MessagesSync{gw: gw, st: st, feed: feed, limit: fetchLimit, senderCache: cache}, nil
}

// Stream is a live message subscription for one conversation. Close
// releases the underlying feed subscription.
type Stream struct {
	ConversationId string

	sub  *realtime.Subscription
	done chan struct{}
}

func (s *Stream) Close() {
	s.sub.Close()
	<-s.done
}

// Open fetches the recent history of the conversation, marks it read for
// the current user and starts streaming new messages into the store.
func (s *MessagesSync) Open(conversationId string) (*Stream, error) {
	messages, err := s.gw.GetMessages(conversationId, s.limit)
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		s.cacheSender(m)
	}
	s.st.SetMessages(conversationId, messages)
	s.st.SetActiveConversationId(conversationId)
	if u := s.st.CurrentUser(); u != nil {
		if err := s.gw.MarkRead(conversationId, u.Id, time.Now()); err != nil {
			globals.AppLogger.Warn("could not mark conversation read", "conversation", conversationId, "error", err)
		}
	}
	sub, err := s.feed.Subscribe(conversationId, "")
	if err != nil {
		return nil, err
	}
	stream := &Stream{ConversationId: conversationId, sub: sub, done: make(chan struct{})}
	go s.run(stream)
	return stream, nil
}

func (s *MessagesSync) run(stream *Stream) {
	defer close(stream.done)
	for event := range stream.sub.Events() {
		if event.Type != types.EventInsert || event.Table != types.TableMessages {
			continue
		}
		msg := &types.Message{Id: event.RecordId, ConversationId: event.ConversationId}
		if err := s.gw.GetMessage(msg); err != nil {
			globals.AppLogger.Warn("could not fetch streamed message", "message", event.RecordId, "error", err)
			continue
		}
		s.resolveSender(msg)
		s.st.AddMessage(msg.ConversationId, msg)
	}
}

func (s *MessagesSync) cacheSender(msg *types.Message) {
	if msg.Sender != nil {
		s.senderCache.Add(msg.Sender.Id, msg.Sender)
	}
}

// resolveSender fills in the sender profile, going to the gateway only on
// a cache miss.
func (s *MessagesSync) resolveSender(msg *types.Message) {
	if msg.Sender != nil {
		s.senderCache.Add(msg.Sender.Id, msg.Sender)
		return
	}
	if cached, ok := s.senderCache.Get(msg.SenderId); ok {
		msg.Sender = cached.(*types.User)
		return
	}
	sender := &types.User{Id: msg.SenderId}
	if err := s.gw.GetUser(sender); err != nil {
		globals.AppLogger.Warn("could not resolve message sender", "sender", msg.SenderId, "error", err)
		return
	}
	msg.Sender = sender
	s.senderCache.Add(sender.Id, sender)
}

// Send stores a new message authored by the current user. The gateway
// enforces membership and role rules; the stored message comes back via
// the realtime feed, where AddMessage deduplicates it by id.
func (s *MessagesSync) Send(conversationId, content, imageUrl string) (*types.Message, error) {
	u := s.st.CurrentUser()
	if u == nil {
		return nil, ErrProfileNotFound
	}
	msg := &types.Message{
		ConversationId: conversationId,
		SenderId:       u.Id,
		Content:        content,
		ImageUrl:       imageUrl,
		CreatedAt:      time.Now(),
	}
	if err := s.gw.StoreMessage(msg); err != nil {
		return nil, err
	}
	msg.Sender = u
	s.st.AddMessage(conversationId, msg)
	return msg, nil
}
