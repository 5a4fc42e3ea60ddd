package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hideout-chat/hideout/types"
)

func event(convId, senderId string) *types.Event {
	return &types.Event{
		Type:           types.EventInsert,
		Table:          types.TableMessages,
		ConversationId: convId,
		RecordId:       "m1",
		SenderId:       senderId,
		Created:        time.Now().UTC(),
	}
}

func TestHubPublishScopedByConversation(t *testing.T) {
	h := NewHub()
	sub1, err := h.Subscribe("c1", "")
	assert.NoError(t, err)
	defer sub1.Close()
	sub2, err := h.Subscribe("c2", "")
	assert.NoError(t, err)
	defer sub2.Close()

	h.Publish(event("c1", "alice"))

	select {
	case ev := <-sub1.Events():
		assert.Equal(t, "c1", ev.ConversationId)
	default:
		t.Fatal("expected event on c1 subscription")
	}
	select {
	case ev := <-sub2.Events():
		t.Fatalf("unexpected event on c2 subscription: %+v", ev)
	default:
	}
}

func TestHubFilter(t *testing.T) {
	h := NewHub()
	sub, err := h.Subscribe("c1", `Sender.Id != "alice"`)
	assert.NoError(t, err)
	defer sub.Close()

	h.Publish(event("c1", "alice"))
	h.Publish(event("c1", "bob"))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "bob", ev.SenderId)
	default:
		t.Fatal("expected the unfiltered event")
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("filtered event delivered: %+v", ev)
	default:
	}
}

func TestHubBadFilter(t *testing.T) {
	h := NewHub()
	_, err := h.Subscribe("c1", `Sender.`)
	assert.Error(t, err)
}

func TestSubscriptionClose(t *testing.T) {
	h := NewHub()
	sub, err := h.Subscribe("c1", "")
	assert.NoError(t, err)
	assert.Equal(t, 1, h.NoSubscribers("c1"))

	sub.Close()
	assert.Equal(t, 0, h.NoSubscribers("c1"))

	// the events channel is closed so range loops terminate
	_, open := <-sub.Events()
	assert.False(t, open)

	// closing twice is fine
	sub.Close()

	// publishing after close does not panic
	h.Publish(event("c1", "alice"))
}

func TestHubSlowSubscriberDrops(t *testing.T) {
	h := NewHub()
	sub, err := h.Subscribe("c1", "")
	assert.NoError(t, err)
	defer sub.Close()

	for i := 0; i < subscriptionBufferSize+10; i++ {
		h.Publish(event("c1", "alice"))
	}
	// the buffer absorbed what it could, the rest was dropped, nothing blocked
	assert.Len(t, sub.Events(), subscriptionBufferSize)
}
