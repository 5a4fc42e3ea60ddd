package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func dmDetails() *ConversationDetails {
	return &ConversationDetails{
		Conversation: Conversation{Id: "c1", Type: ConversationTypeDM},
		Members: []*ConversationMember{
			{UserId: "u1", User: &User{Id: "u1", Nickname: "alice", AvatarUrl: "a.png"}},
			{UserId: "u2", User: &User{Id: "u2", Nickname: "bob", AvatarUrl: "b.png"}},
		},
	}
}

func TestDisplayNameDM(t *testing.T) {
	c := dmDetails()
	assert.Equal(t, "bob", c.DisplayName("u1"))
	assert.Equal(t, "alice", c.DisplayName("u2"))
	assert.Equal(t, "b.png", c.DisplayImage("u1"))

	// missing counterpart profile
	c.Members[1].User = nil
	assert.Equal(t, "unknown", c.DisplayName("u1"))
	assert.Equal(t, "", c.DisplayImage("u1"))
}

func TestDisplayNameGroup(t *testing.T) {
	c := &ConversationDetails{
		Conversation: Conversation{Id: "c1", Type: ConversationTypeGroup, Name: "off-topic", ImageUrl: "g.png"},
	}
	assert.Equal(t, "off-topic", c.DisplayName("u1"))
	assert.Equal(t, "g.png", c.DisplayImage("u1"))

	c.Name = ""
	assert.Equal(t, ConversationTypeGroup, c.DisplayName("u1"))
}

func TestLastActivity(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := &ConversationDetails{Conversation: Conversation{Id: "c1", CreatedAt: created}}
	assert.Equal(t, created, c.LastActivity())

	sent := created.Add(time.Hour)
	c.LastMessage = &Message{Id: "m1", CreatedAt: sent}
	assert.Equal(t, sent, c.LastActivity())
}

func TestMember(t *testing.T) {
	c := dmDetails()
	if assert.NotNil(t, c.Member("u1")) {
		assert.Equal(t, "u1", c.Member("u1").UserId)
	}
	assert.Nil(t, c.Member("u3"))
}
