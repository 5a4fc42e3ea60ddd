package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hideout-chat/hideout/types"
)

func TestAddMessageIdempotent(t *testing.T) {
	s := New()
	m1 := &types.Message{Id: "m1", ConversationId: "c1", Content: "hello"}
	m2 := &types.Message{Id: "m2", ConversationId: "c1", Content: "world"}

	s.AddMessage("c1", m1)
	s.AddMessage("c1", m2)
	s.AddMessage("c1", m1) // duplicate delivery from the realtime path

	msgs := s.Messages("c1")
	if assert.Len(t, msgs, 2) {
		assert.Equal(t, "m1", msgs[0].Id)
		assert.Equal(t, "m2", msgs[1].Id)
	}
}

func TestSetMessagesThenAdd(t *testing.T) {
	s := New()
	m1 := &types.Message{Id: "m1", ConversationId: "c1"}
	m2 := &types.Message{Id: "m2", ConversationId: "c1"}
	s.SetMessages("c1", []*types.Message{m1, m2})

	// the subscription can replay a message the bulk fetch already contained
	s.AddMessage("c1", m2)
	assert.Len(t, s.Messages("c1"), 2)

	m3 := &types.Message{Id: "m3", ConversationId: "c1"}
	s.AddMessage("c1", m3)
	msgs := s.Messages("c1")
	if assert.Len(t, msgs, 3) {
		assert.Equal(t, "m3", msgs[2].Id, "appends go to the tail")
	}
}

func TestMessagesPerConversation(t *testing.T) {
	s := New()
	s.AddMessage("c1", &types.Message{Id: "m1"})
	s.AddMessage("c2", &types.Message{Id: "m2"})
	assert.Len(t, s.Messages("c1"), 1)
	assert.Len(t, s.Messages("c2"), 1)
	assert.Empty(t, s.Messages("c3"))
}

func TestUpdateMessage(t *testing.T) {
	s := New()
	s.AddMessage("c1", &types.Message{Id: "m1", Content: "before"})
	s.UpdateMessage("c1", &types.Message{Id: "m1", Content: "after"})
	assert.Equal(t, "after", s.Messages("c1")[0].Content)

	// unknown ids are ignored
	s.UpdateMessage("c1", &types.Message{Id: "mx", Content: "nope"})
	assert.Len(t, s.Messages("c1"), 1)
}

func TestAddConversationPrepends(t *testing.T) {
	s := New()
	s.SetConversations([]*types.ConversationDetails{
		{Conversation: types.Conversation{Id: "c1"}},
	})
	s.AddConversation(&types.ConversationDetails{Conversation: types.Conversation{Id: "c2"}})
	convs := s.Conversations()
	if assert.Len(t, convs, 2) {
		assert.Equal(t, "c2", convs[0].Id)
	}
}

func TestActiveConversation(t *testing.T) {
	s := New()
	s.SetConversations([]*types.ConversationDetails{
		{Conversation: types.Conversation{Id: "c1"}},
	})
	s.SetActiveConversationId("c1")
	if assert.NotNil(t, s.ActiveConversation()) {
		assert.Equal(t, "c1", s.ActiveConversation().Id)
	}

	// a stale id resolves to nil instead of a wrong conversation
	s.SetConversations([]*types.ConversationDetails{
		{Conversation: types.Conversation{Id: "c2"}},
	})
	assert.Nil(t, s.ActiveConversation())
	assert.Equal(t, "c1", s.ActiveConversationId())
}

func TestReset(t *testing.T) {
	s := New()
	s.SetCurrentUser(&types.User{Id: "u1"})
	s.SetConversations([]*types.ConversationDetails{
		{Conversation: types.Conversation{Id: "c1", CreatedAt: time.Now()}},
	})
	s.SetActiveConversationId("c1")
	s.AddMessage("c1", &types.Message{Id: "m1"})
	s.AddUser(&types.User{Id: "u2"})
	s.SetSidebarOpen(true)

	s.Reset()

	assert.Nil(t, s.CurrentUser())
	assert.Empty(t, s.Conversations())
	assert.Empty(t, s.ActiveConversationId())
	assert.Empty(t, s.Messages("c1"))
	assert.Empty(t, s.Users())
	assert.False(t, s.SidebarOpen())

	// the store is fully usable after a reset
	s.AddMessage("c1", &types.Message{Id: "m1"})
	assert.Len(t, s.Messages("c1"), 1)
}

func TestUsersMerge(t *testing.T) {
	s := New()
	s.SetUsers([]*types.User{{Id: "u1", Nickname: "old"}, {Id: "u2"}})
	s.SetUsers([]*types.User{{Id: "u1", Nickname: "new"}})
	assert.Len(t, s.Users(), 2)
	assert.Equal(t, "new", s.User("u1").Nickname)
	assert.Nil(t, s.User("u3"))
}

func TestToggleSidebar(t *testing.T) {
	s := New()
	assert.False(t, s.SidebarOpen())
	s.ToggleSidebar()
	assert.True(t, s.SidebarOpen())
	s.ToggleSidebar()
	assert.False(t, s.SidebarOpen())
}
