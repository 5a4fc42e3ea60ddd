package datasync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hideout-chat/hideout/config"
	"github.com/hideout-chat/hideout/gateway"
	"github.com/hideout-chat/hideout/realtime"
	"github.com/hideout-chat/hideout/store"
	"github.com/hideout-chat/hideout/types"
)

func newTestGateway(t *testing.T) gateway.Gateway {
	t.Helper()
	cfg := &config.Config{}
	cfg.GatewayConfig.Type = "buntdb"
	cfg.GatewayConfig.DSN = ":memory:"
	g, err := gateway.NewGateway(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func seedUser(t *testing.T, gw gateway.Gateway, id string) *types.User {
	t.Helper()
	user := types.User{
		Id:       id,
		Email:    id + "@example.com",
		Nickname: id,
		Role:     types.UserRoleMember,
	}
	if err := gw.StoreUser(user); err != nil {
		t.Fatal(err)
	}
	return &user
}

func TestCurrentUserSync(t *testing.T) {
	gw := newTestGateway(t)
	st := store.New()
	seedUser(t, gw, "alice")

	sync := NewCurrentUserSync(gw, st)
	user, err := sync.FetchByEmail("alice@example.com")
	assert.NoError(t, err)
	assert.Equal(t, "alice", user.Id)
	if assert.NotNil(t, st.CurrentUser()) {
		assert.Equal(t, "alice", st.CurrentUser().Id)
	}

	// an authenticated identity without a profile row is a state, not a
	// failure
	_, err = sync.FetchByEmail("nobody@example.com")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestUsersSync(t *testing.T) {
	gw := newTestGateway(t)
	st := store.New()
	seedUser(t, gw, "alice")
	seedUser(t, gw, "bob")

	users, err := NewUsersSync(gw, st).Fetch()
	assert.NoError(t, err)
	assert.Len(t, users, 2)
	assert.NotNil(t, st.User("alice"))
	assert.NotNil(t, st.User("bob"))
}

func TestConversationsSyncRefetch(t *testing.T) {
	gw := newTestGateway(t)
	st := store.New()
	alice := seedUser(t, gw, "alice")
	seedUser(t, gw, "bob")
	seedUser(t, gw, "carol")
	st.SetCurrentUser(alice)

	dmId, err := gw.GetOrCreateDM("alice", "bob")
	assert.NoError(t, err)
	groupId, err := gw.CreateGroupConversation(types.ConversationTypeGroup, "general", "", "alice", []string{"carol"})
	assert.NoError(t, err)
	quietId, err := gw.CreateGroupConversation(types.ConversationTypeGroup, "quiet", "", "alice", nil)
	assert.NoError(t, err)

	// future timestamps so they postdate the membership's last-read mark
	t1 := time.Now().UTC().Add(time.Hour)
	t2 := t1.Add(time.Hour)
	assert.NoError(t, gw.StoreMessage(&types.Message{ConversationId: dmId, SenderId: "bob", Content: "hey", CreatedAt: t1}))
	assert.NoError(t, gw.StoreMessage(&types.Message{ConversationId: groupId, SenderId: "carol", Content: "hello", CreatedAt: t2}))
	assert.NoError(t, gw.StoreMessage(&types.Message{ConversationId: groupId, SenderId: "carol", Content: "anyone?", CreatedAt: t2.Add(time.Minute)}))

	sync := NewConversationsSync(gw, st)
	details, err := sync.Refetch()
	assert.NoError(t, err)
	if assert.Len(t, details, 3) {
		// most recent activity first, message-less conversations trail on
		// their creation time
		assert.Equal(t, groupId, details[0].Id)
		assert.Equal(t, dmId, details[1].Id)
		assert.Equal(t, quietId, details[2].Id)

		assert.Equal(t, 2, details[0].UnreadCount)
		assert.Equal(t, 1, details[1].UnreadCount)
		assert.Equal(t, 0, details[2].UnreadCount)

		if assert.NotNil(t, details[0].LastMessage) {
			assert.Equal(t, "anyone?", details[0].LastMessage.Content)
		}
		assert.Equal(t, "bob", details[1].DisplayName("alice"))
	}
	assert.Len(t, st.Conversations(), 3)
}

func TestConversationsSyncNoCurrentUser(t *testing.T) {
	gw := newTestGateway(t)
	st := store.New()
	_, err := NewConversationsSync(gw, st).Refetch()
	assert.Error(t, err)
}

func TestSortByActivity(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	older := &types.ConversationDetails{Conversation: types.Conversation{Id: "a", CreatedAt: t0}}
	newer := &types.ConversationDetails{Conversation: types.Conversation{Id: "b", CreatedAt: t0.Add(time.Minute)}}
	active := &types.ConversationDetails{
		Conversation: types.Conversation{Id: "c", CreatedAt: t0.Add(-time.Hour)},
		LastMessage:  &types.Message{CreatedAt: t0.Add(time.Hour)},
	}
	details := []*types.ConversationDetails{older, newer, active}
	SortByActivity(details)
	assert.Equal(t, "c", details[0].Id)
	assert.Equal(t, "b", details[1].Id)
	assert.Equal(t, "a", details[2].Id)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestMessagesSyncOpenAndStream(t *testing.T) {
	gw := newTestGateway(t)
	st := store.New()
	alice := seedUser(t, gw, "alice")
	seedUser(t, gw, "bob")
	st.SetCurrentUser(alice)
	hub := realtime.NewHub()

	convId, err := gw.GetOrCreateDM("alice", "bob")
	assert.NoError(t, err)
	assert.NoError(t, gw.StoreMessage(&types.Message{ConversationId: convId, SenderId: "bob", Content: "hello"}))

	sync, err := NewMessagesSync(gw, st, hub, 50)
	assert.NoError(t, err)
	stream, err := sync.Open(convId)
	assert.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, convId, st.ActiveConversationId())
	if assert.Len(t, st.Messages(convId), 1) {
		assert.Equal(t, "hello", st.Messages(convId)[0].Content)
	}

	// a message stored elsewhere arrives via the feed
	incoming := &types.Message{ConversationId: convId, SenderId: "bob", Content: "still there?"}
	assert.NoError(t, gw.StoreMessage(incoming))
	hub.Publish(types.NewMessageEvent(incoming))

	waitFor(t, func() bool { return len(st.Messages(convId)) == 2 })
	msgs := st.Messages(convId)
	assert.Equal(t, "still there?", msgs[1].Content)
	if assert.NotNil(t, msgs[1].Sender) {
		assert.Equal(t, "bob", msgs[1].Sender.Nickname)
	}
}

func TestMessagesSyncSendIsIdempotentWithEcho(t *testing.T) {
	gw := newTestGateway(t)
	st := store.New()
	alice := seedUser(t, gw, "alice")
	seedUser(t, gw, "bob")
	st.SetCurrentUser(alice)
	hub := realtime.NewHub()

	convId, err := gw.GetOrCreateDM("alice", "bob")
	assert.NoError(t, err)

	sync, err := NewMessagesSync(gw, st, hub, 50)
	assert.NoError(t, err)
	stream, err := sync.Open(convId)
	assert.NoError(t, err)
	defer stream.Close()

	msg, err := sync.Send(convId, "hi bob", "")
	assert.NoError(t, err)
	assert.Len(t, st.Messages(convId), 1)

	// the own message echoed back by the feed must not double up
	hub.Publish(types.NewMessageEvent(msg))
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, st.Messages(convId), 1)
}

func TestMessagesSyncClose(t *testing.T) {
	gw := newTestGateway(t)
	st := store.New()
	alice := seedUser(t, gw, "alice")
	seedUser(t, gw, "bob")
	st.SetCurrentUser(alice)
	hub := realtime.NewHub()

	convId, err := gw.GetOrCreateDM("alice", "bob")
	assert.NoError(t, err)

	sync, err := NewMessagesSync(gw, st, hub, 50)
	assert.NoError(t, err)
	stream, err := sync.Open(convId)
	assert.NoError(t, err)
	assert.Equal(t, 1, hub.NoSubscribers(convId))

	stream.Close()
	assert.Equal(t, 0, hub.NoSubscribers(convId))
}
