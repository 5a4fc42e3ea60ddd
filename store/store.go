// Package store holds the in-memory view model: the single authority for
// what a client renders. It caches rows owned by the gateway and never
// becomes a source of truth itself - collections are replaced wholesale on
// refetch, not merged.
package store

import (
	"sync"

	"github.com/hideout-chat/hideout/types"
)

// A Store is created at application start and reset on sign-out. All methods
// are safe for concurrent use; each mutation is atomic, no multi-step
// transaction spans two calls.
type Store struct {
	mu sync.RWMutex

	currentUser          *types.User
	conversations        []*types.ConversationDetails
	activeConversationId string

	// per-conversation ordered message log plus an id set for idempotent
	// appends (the realtime path can deliver a message the bulk fetch
	// already contained)
	messages   map[string][]*types.Message
	messageIds map[string]map[string]struct{}

	users map[string]*types.User

	sidebarOpen bool
}

func New() *Store {
	return &Store{
		messages:   make(map[string][]*types.Message),
		messageIds: make(map[string]map[string]struct{}),
		users:      make(map[string]*types.User),
	}
}

// Reset restores the just-created state. Called on sign-out.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentUser = nil
	s.conversations = nil
	s.activeConversationId = ""
	s.messages = make(map[string][]*types.Message)
	s.messageIds = make(map[string]map[string]struct{})
	s.users = make(map[string]*types.User)
	s.sidebarOpen = false
}

func (s *Store) SetCurrentUser(user *types.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentUser = user
}

func (s *Store) CurrentUser() *types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUser
}

// SetConversations replaces the conversation list wholesale. Callers are
// responsible for ordering (most recent activity first).
func (s *Store) SetConversations(conversations []*types.ConversationDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = conversations
}

// AddConversation prepends, so a conversation created locally shows up
// immediately without a full refetch.
func (s *Store) AddConversation(conv *types.ConversationDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = append([]*types.ConversationDetails{conv}, s.conversations...)
}

// UpdateConversation replaces the conversation with the same id in place.
// Unknown ids are ignored.
func (s *Store) UpdateConversation(conv *types.ConversationDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conversations {
		if c.Id == conv.Id {
			s.conversations[i] = conv
			return
		}
	}
}

func (s *Store) Conversations() []*types.ConversationDetails {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.ConversationDetails, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// SetActiveConversationId drives which conversation's message pane is
// visible; the empty string means list view.
func (s *Store) SetActiveConversationId(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeConversationId = id
}

func (s *Store) ActiveConversationId() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeConversationId
}

// ActiveConversation returns nil when the active id is stale or unset.
func (s *Store) ActiveConversation() *types.ConversationDetails {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.Id == s.activeConversationId {
			return c
		}
	}
	return nil
}

// SetMessages replaces one conversation's log wholesale, used on initial
// load.
func (s *Store) SetMessages(conversationId string, messages []*types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(messages))
	for _, m := range messages {
		ids[m.Id] = struct{}{}
	}
	s.messages[conversationId] = messages
	s.messageIds[conversationId] = ids
}

// AddMessage appends to the tail of the conversation's log. Appends are
// idempotent by message id: a duplicate delivery is dropped, so the realtime
// path and the bulk fetch cannot double a message.
func (s *Store) AddMessage(conversationId string, message *types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.messageIds[conversationId]
	if !ok {
		ids = make(map[string]struct{})
		s.messageIds[conversationId] = ids
	}
	if _, dup := ids[message.Id]; dup {
		return
	}
	ids[message.Id] = struct{}{}
	s.messages[conversationId] = append(s.messages[conversationId], message)
}

// UpdateMessage replaces the message with the same id in place. Unknown ids
// are ignored.
func (s *Store) UpdateMessage(conversationId string, message *types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages[conversationId] {
		if m.Id == message.Id {
			s.messages[conversationId][i] = message
			return
		}
	}
}

func (s *Store) Messages(conversationId string) []*types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationId]
	out := make([]*types.Message, len(msgs))
	copy(out, msgs)
	return out
}

// SetUsers merges the given users into the directory cache.
func (s *Store) SetUsers(users []*types.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		s.users[u.Id] = u
	}
}

func (s *Store) AddUser(user *types.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Id] = user
}

func (s *Store) User(id string) *types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[id]
}

func (s *Store) Users() []*types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out
}

func (s *Store) SetSidebarOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sidebarOpen = open
}

func (s *Store) ToggleSidebar() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sidebarOpen = !s.sidebarOpen
}

func (s *Store) SidebarOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sidebarOpen
}
