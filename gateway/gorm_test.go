package gateway

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hideout-chat/hideout/config"
	"github.com/hideout-chat/hideout/types"
)

func newTestGormGateway(t *testing.T) *GormGateway {
	t.Helper()
	cfg := &config.Config{}
	cfg.GatewayConfig.Type = "sqlite"
	cfg.GatewayConfig.DSN = filepath.Join(t.TempDir(), "test.db")
	g, err := NewGormGateway(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func seedUsers(t *testing.T, g Gateway, ids ...string) {
	t.Helper()
	for _, id := range ids {
		err := g.StoreUser(types.User{
			Id:       id,
			Email:    id + "@example.com",
			Nickname: id,
			Role:     types.UserRoleMember,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestGormUserRoundtrip(t *testing.T) {
	g := newTestGormGateway(t)
	seedUsers(t, g, "alice")

	user := types.User{Id: "alice"}
	assert.NoError(t, g.GetUser(&user))
	assert.Equal(t, "alice@example.com", user.Email)

	byEmail, err := g.GetUserByEmail("alice@example.com")
	assert.NoError(t, err)
	assert.Equal(t, "alice", byEmail.Id)

	_, err = g.GetUserByEmail("nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, g.UpdateUserRole("alice", types.UserRoleAdmin))
	user = types.User{Id: "alice"}
	assert.NoError(t, g.GetUser(&user))
	assert.Equal(t, types.UserRoleAdmin, user.Role)

	assert.ErrorIs(t, g.UpdateUserRole("nobody", types.UserRoleAdmin), ErrNotFound)
}

func TestGormGetOrCreateDM(t *testing.T) {
	g := newTestGormGateway(t)
	seedUsers(t, g, "alice", "bob", "carol")

	convId, err := g.GetOrCreateDM("alice", "bob")
	assert.NoError(t, err)
	assert.NotEmpty(t, convId)

	// same pair in either order resolves to the same conversation
	again, err := g.GetOrCreateDM("bob", "alice")
	assert.NoError(t, err)
	assert.Equal(t, convId, again)

	other, err := g.GetOrCreateDM("alice", "carol")
	assert.NoError(t, err)
	assert.NotEqual(t, convId, other)

	_, err = g.GetOrCreateDM("alice", "alice")
	assert.Error(t, err)

	members, err := g.GetMembers([]string{convId})
	assert.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestGormCreateGroupConversation(t *testing.T) {
	g := newTestGormGateway(t)
	seedUsers(t, g, "alice", "bob")

	convId, err := g.CreateGroupConversation(types.ConversationTypeGroup, "off-topic", "", "alice", []string{"bob", "alice"})
	assert.NoError(t, err)

	members, err := g.GetMembers([]string{convId})
	assert.NoError(t, err)
	if assert.Len(t, members, 2) {
		roles := map[string]string{}
		for _, m := range members {
			roles[m.UserId] = m.Role
		}
		assert.Equal(t, types.MemberRoleOwner, roles["alice"])
		assert.Equal(t, types.MemberRoleMember, roles["bob"])
	}

	_, err = g.CreateGroupConversation("dm", "x", "", "alice", nil)
	assert.Error(t, err)
	_, err = g.CreateGroupConversation(types.ConversationTypeGroup, "", "", "alice", nil)
	assert.Error(t, err)
}

func TestGormStoreMessagePolicy(t *testing.T) {
	g := newTestGormGateway(t)
	seedUsers(t, g, "alice", "bob", "mallory")

	groupId, err := g.CreateGroupConversation(types.ConversationTypeGroup, "general", "", "alice", []string{"bob"})
	assert.NoError(t, err)
	channelId, err := g.CreateGroupConversation(types.ConversationTypeChannel, "announce", "", "alice", []string{"bob"})
	assert.NoError(t, err)

	// members post in groups
	msg := &types.Message{ConversationId: groupId, SenderId: "bob", Content: "hi"}
	assert.NoError(t, g.StoreMessage(msg))
	assert.NotEmpty(t, msg.Id)

	// non-members post nowhere
	err = g.StoreMessage(&types.Message{ConversationId: groupId, SenderId: "mallory", Content: "hi"})
	assert.ErrorIs(t, err, ErrForbidden)

	// channels are broadcast-only for regular members
	err = g.StoreMessage(&types.Message{ConversationId: channelId, SenderId: "bob", Content: "hi"})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NoError(t, g.StoreMessage(&types.Message{ConversationId: channelId, SenderId: "alice", Content: "release day"}))

	// empty messages are rejected before any lookup
	assert.Error(t, g.StoreMessage(&types.Message{ConversationId: groupId, SenderId: "bob"}))
}

func TestGormMessagesAndUnread(t *testing.T) {
	g := newTestGormGateway(t)
	seedUsers(t, g, "alice", "bob")
	convId, err := g.GetOrCreateDM("alice", "bob")
	assert.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour)
	for i, content := range []string{"one", "two", "three"} {
		err := g.StoreMessage(&types.Message{
			ConversationId: convId,
			SenderId:       "alice",
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		assert.NoError(t, err)
	}

	messages, err := g.GetMessages(convId, 2)
	assert.NoError(t, err)
	if assert.Len(t, messages, 2) {
		// most recent window, ascending
		assert.Equal(t, "two", messages[0].Content)
		assert.Equal(t, "three", messages[1].Content)
		if assert.NotNil(t, messages[0].Sender) {
			assert.Equal(t, "alice", messages[0].Sender.Nickname)
		}
	}

	last, err := g.GetLastMessages([]string{convId})
	assert.NoError(t, err)
	if assert.Contains(t, last, convId) {
		assert.Equal(t, "three", last[convId].Content)
	}

	count, err := g.CountMessagesSince(convId, base.Add(30*time.Second))
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.NoError(t, g.MarkRead(convId, "bob", base.Add(5*time.Minute)))
	members, err := g.GetMembers([]string{convId})
	assert.NoError(t, err)
	for _, m := range members {
		if m.UserId == "bob" {
			count, err := g.CountMessagesSince(convId, m.LastReadAt)
			assert.NoError(t, err)
			assert.Equal(t, 0, count)
		}
	}
}

func TestGormInviteLifecycle(t *testing.T) {
	g := newTestGormGateway(t)
	seedUsers(t, g, "alice", "bob")
	convId, err := g.CreateGroupConversation(types.ConversationTypeGroup, "book club", "", "alice", nil)
	assert.NoError(t, err)

	inv := &types.InviteLink{
		ConversationId: convId,
		CreatedBy:      "alice",
		MaxUses:        1,
		IsActive:       true,
	}
	assert.NoError(t, g.StoreInvite(inv))
	assert.NotEmpty(t, inv.Code)

	ok, err := g.ValidateInviteCode(inv.Code)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.ValidateInviteCode("NOSUCHCODE")
	assert.NoError(t, err)
	assert.False(t, ok)

	summary, err := g.GetConversationByInviteCode(inv.Code)
	assert.NoError(t, err)
	assert.Equal(t, convId, summary.ConversationId)
	assert.Equal(t, "book club", summary.ConversationName)
	assert.Equal(t, 1, summary.MemberCount)

	// joining adds the member and consumes the single use
	joined, err := g.JoinConversationByInvite(inv.Code, "bob")
	assert.NoError(t, err)
	assert.Equal(t, convId, joined)

	members, err := g.GetMembers([]string{convId})
	assert.NoError(t, err)
	assert.Len(t, members, 2)

	// an existing member re-follows the link without consuming anything,
	// even though the invite is used up
	joined, err = g.JoinConversationByInvite(inv.Code, "bob")
	assert.NoError(t, err)
	assert.Equal(t, convId, joined)

	// a new user hits the exhausted invite
	seedUsers(t, g, "carol")
	_, err = g.JoinConversationByInvite(inv.Code, "carol")
	assert.ErrorIs(t, err, ErrInvalidInvite)

	assert.NoError(t, g.SetInviteActive(inv.Code, false))
	ok, err = g.ValidateInviteCode(inv.Code)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestGormCommunityInvite(t *testing.T) {
	g := newTestGormGateway(t)
	seedUsers(t, g, "alice")

	inv := &types.InviteLink{CreatedBy: "alice", IsActive: true}
	assert.NoError(t, g.StoreInvite(inv))

	// no conversation scope: nothing to preview or join
	_, err := g.GetConversationByInviteCode(inv.Code)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = g.JoinConversationByInvite(inv.Code, "alice")
	assert.ErrorIs(t, err, ErrInvalidInvite)

	// signup consumes it
	used, err := g.UseInviteCode(inv.Code)
	assert.NoError(t, err)
	assert.True(t, used)

	invites, err := g.GetInvites("")
	assert.NoError(t, err)
	if assert.Len(t, invites, 1) {
		assert.Equal(t, 1, invites[0].CurrentUses)
	}

	used, err = g.UseInviteCode("NOSUCHCODE")
	assert.NoError(t, err)
	assert.False(t, used)
}

func TestGormSweepExpiredInvites(t *testing.T) {
	g := newTestGormGateway(t)
	seedUsers(t, g, "alice")

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	expired := &types.InviteLink{CreatedBy: "alice", IsActive: true, ExpiresAt: &past}
	fresh := &types.InviteLink{CreatedBy: "alice", IsActive: true, ExpiresAt: &future}
	eternal := &types.InviteLink{CreatedBy: "alice", IsActive: true}
	assert.NoError(t, g.StoreInvite(expired))
	assert.NoError(t, g.StoreInvite(fresh))
	assert.NoError(t, g.StoreInvite(eternal))

	n, err := g.SweepExpiredInvites(time.Now().UTC())
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	invites, err := g.GetInvites("")
	assert.NoError(t, err)
	active := 0
	for _, inv := range invites {
		if inv.IsActive {
			active++
		}
	}
	assert.Equal(t, 2, active)

	// a second sweep finds nothing new
	n, err = g.SweepExpiredInvites(time.Now().UTC())
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGormGetConversationsForUser(t *testing.T) {
	g := newTestGormGateway(t)
	seedUsers(t, g, "alice", "bob", "carol")

	dm, err := g.GetOrCreateDM("alice", "bob")
	assert.NoError(t, err)
	group, err := g.CreateGroupConversation(types.ConversationTypeGroup, "general", "", "alice", []string{"carol"})
	assert.NoError(t, err)

	convs, err := g.GetConversationsForUser("alice")
	assert.NoError(t, err)
	assert.Len(t, convs, 2)

	convs, err = g.GetConversationsForUser("carol")
	assert.NoError(t, err)
	if assert.Len(t, convs, 1) {
		assert.Equal(t, group, convs[0].Id)
	}

	convs, err = g.GetConversationsForUser("bob")
	assert.NoError(t, err)
	if assert.Len(t, convs, 1) {
		assert.Equal(t, dm, convs[0].Id)
	}
}
