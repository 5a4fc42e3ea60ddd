package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnsureId(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m1 := Message{ConversationId: "c1", SenderId: "u1", Content: "hi", CreatedAt: at}
	m2 := Message{ConversationId: "c1", SenderId: "u1", Content: "hi", CreatedAt: at}
	assert.NoError(t, m1.EnsureId())
	assert.NoError(t, m2.EnsureId())
	assert.NotEmpty(t, m1.Id)
	assert.Equal(t, m1.Id, m2.Id, "a resend of the same message hashes to the same id")

	m3 := Message{ConversationId: "c1", SenderId: "u1", Content: "hi there", CreatedAt: at}
	assert.NoError(t, m3.EnsureId())
	assert.NotEqual(t, m1.Id, m3.Id)

	// an attached sender must not change the id
	m4 := Message{ConversationId: "c1", SenderId: "u1", Content: "hi", CreatedAt: at, Sender: &User{Id: "u1", Nickname: "alice"}}
	assert.NoError(t, m4.EnsureId())
	assert.Equal(t, m1.Id, m4.Id)

	// an explicit id wins
	m5 := Message{Id: "fixed", Content: "hi"}
	assert.NoError(t, m5.EnsureId())
	assert.Equal(t, "fixed", m5.Id)
}

func TestMessageEmpty(t *testing.T) {
	assert.True(t, (&Message{}).Empty())
	assert.False(t, (&Message{Content: "x"}).Empty())
	assert.False(t, (&Message{ImageUrl: "http://example.com/a.png"}).Empty())
}
