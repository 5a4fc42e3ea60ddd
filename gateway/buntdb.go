package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hideout-chat/hideout/config"
	"github.com/hideout-chat/hideout/types"
	"github.com/tidwall/buntdb"
)

// Key layout:
//
//	user:<id>                      user row
//	useremail:<email>              user id
//	conv:<id>                      conversation row
//	member:<convId>:<userId>       membership row
//	membyuser:<userId>:<convId>    membership index
//	msg:<convId>:<ts>:<id>         message row, ts fixed-width UTC
//	dm:<a>:<b>                     dm conversation id, a < b
//	invite:<code>                  invite row
//
// The fixed-width timestamp makes message keys sort chronologically, so
// ordered reads are plain key-range scans.
const buntTsFormat = "2006-01-02T15:04:05.000000000Z"

type BuntGateway struct {
	db *buntdb.DB
}

func NewBuntGateway(cfg *config.Config) (*BuntGateway, error) {
	if cfg.GatewayConfig.DSN == "" {
		return nil, fmt.Errorf("no gateway dsn configured")
	}
	db, err := buntdb.Open(cfg.GatewayConfig.DSN)
	if err != nil {
		return nil, err
	}
	return &BuntGateway{db: db}, nil
}

func mapBuntErr(err error) error {
	if errors.Is(err, buntdb.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func setJSON(tx *buntdb.Tx, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(key, string(raw), nil)
	return err
}

func getJSON(tx *buntdb.Tx, key string, v interface{}) error {
	raw, err := tx.Get(key)
	if err != nil {
		return mapBuntErr(err)
	}
	return json.Unmarshal([]byte(raw), v)
}

func msgKey(m *types.Message) string {
	return "msg:" + m.ConversationId + ":" + m.CreatedAt.UTC().Format(buntTsFormat) + ":" + m.Id
}

func dmKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

func (g *BuntGateway) StoreUser(user types.User) error {
	if user.Id == "" {
		user.Id = uuid.NewString()
	}
	return g.db.Update(func(tx *buntdb.Tx) error {
		if err := setJSON(tx, "user:"+user.Id, user); err != nil {
			return err
		}
		if user.Email != "" {
			if _, _, err := tx.Set("useremail:"+user.Email, user.Id, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *BuntGateway) GetUser(user *types.User) error {
	if user.Id == "" {
		return fmt.Errorf("no user id")
	}
	return g.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, "user:"+user.Id, user)
	})
}

func (g *BuntGateway) GetUserByEmail(email string) (*types.User, error) {
	user := types.User{}
	err := g.db.View(func(tx *buntdb.Tx) error {
		id, err := tx.Get("useremail:" + email)
		if err != nil {
			return mapBuntErr(err)
		}
		return getJSON(tx, "user:"+id, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (g *BuntGateway) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := g.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		err := tx.AscendKeys("user:*", func(key, val string) bool {
			user := &types.User{}
			if iterErr = json.Unmarshal([]byte(val), user); iterErr != nil {
				return false
			}
			users = append(users, user)
			return true
		})
		if err != nil {
			return err
		}
		return iterErr
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Nickname < users[j].Nickname })
	return users, nil
}

func (g *BuntGateway) UpdateUserRole(userId, role string) error {
	return g.db.Update(func(tx *buntdb.Tx) error {
		user := types.User{}
		if err := getJSON(tx, "user:"+userId, &user); err != nil {
			return err
		}
		user.Role = role
		user.UpdatedAt = time.Now().UTC()
		return setJSON(tx, "user:"+userId, user)
	})
}

func (g *BuntGateway) DeleteUser(user *types.User) error {
	return g.db.Update(func(tx *buntdb.Tx) error {
		stored := types.User{}
		if err := getJSON(tx, "user:"+user.Id, &stored); err != nil {
			return err
		}
		if stored.Email != "" {
			_, _ = tx.Delete("useremail:" + stored.Email)
		}
		_, err := tx.Delete("user:" + user.Id)
		return mapBuntErr(err)
	})
}

func (g *BuntGateway) GetConversation(conv *types.Conversation) error {
	if conv.Id == "" {
		return fmt.Errorf("no conversation id")
	}
	return g.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, "conv:"+conv.Id, conv)
	})
}

func (g *BuntGateway) GetConversations() ([]*types.Conversation, error) {
	convs := make([]*types.Conversation, 0)
	err := g.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		err := tx.AscendKeys("conv:*", func(key, val string) bool {
			conv := &types.Conversation{}
			if iterErr = json.Unmarshal([]byte(val), conv); iterErr != nil {
				return false
			}
			convs = append(convs, conv)
			return true
		})
		if err != nil {
			return err
		}
		return iterErr
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].CreatedAt.After(convs[j].CreatedAt) })
	return convs, nil
}

func (g *BuntGateway) GetConversationsForUser(userId string) ([]*types.Conversation, error) {
	convIds := make([]string, 0)
	err := g.db.View(func(tx *buntdb.Tx) error {
		prefix := "membyuser:" + userId + ":"
		return tx.AscendKeys(prefix+"*", func(key, val string) bool {
			convIds = append(convIds, strings.TrimPrefix(key, prefix))
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	convs := make([]*types.Conversation, 0, len(convIds))
	for _, id := range convIds {
		conv := &types.Conversation{Id: id}
		if err := g.GetConversation(conv); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

func (g *BuntGateway) getMembersTx(tx *buntdb.Tx, conversationId string) ([]*types.ConversationMember, error) {
	members := make([]*types.ConversationMember, 0)
	var iterErr error
	err := tx.AscendKeys("member:"+conversationId+":*", func(key, val string) bool {
		m := &types.ConversationMember{}
		if iterErr = json.Unmarshal([]byte(val), m); iterErr != nil {
			return false
		}
		members = append(members, m)
		return true
	})
	if err != nil {
		return nil, err
	}
	if iterErr != nil {
		return nil, iterErr
	}
	for _, m := range members {
		user := &types.User{}
		if err := getJSON(tx, "user:"+m.UserId, user); err == nil {
			m.User = user
		}
	}
	return members, nil
}

func (g *BuntGateway) GetMembers(conversationIds []string) ([]*types.ConversationMember, error) {
	members := make([]*types.ConversationMember, 0)
	err := g.db.View(func(tx *buntdb.Tx) error {
		for _, convId := range conversationIds {
			ms, err := g.getMembersTx(tx, convId)
			if err != nil {
				return err
			}
			members = append(members, ms...)
		}
		return nil
	})
	return members, err
}

func (g *BuntGateway) updateMember(conversationId, userId string, mutate func(*types.ConversationMember)) error {
	return g.db.Update(func(tx *buntdb.Tx) error {
		key := "member:" + conversationId + ":" + userId
		m := types.ConversationMember{}
		if err := getJSON(tx, key, &m); err != nil {
			return err
		}
		mutate(&m)
		m.User = nil
		return setJSON(tx, key, m)
	})
}

func (g *BuntGateway) UpdateMemberRole(conversationId, userId, role string) error {
	return g.updateMember(conversationId, userId, func(m *types.ConversationMember) {
		m.Role = role
	})
}

func (g *BuntGateway) MarkRead(conversationId, userId string, at time.Time) error {
	err := g.updateMember(conversationId, userId, func(m *types.ConversationMember) {
		m.LastReadAt = at
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (g *BuntGateway) attachSender(tx *buntdb.Tx, m *types.Message) {
	user := &types.User{}
	if err := getJSON(tx, "user:"+m.SenderId, user); err == nil {
		m.Sender = user
	}
}

func (g *BuntGateway) GetMessage(msg *types.Message) error {
	if msg.Id == "" || msg.ConversationId == "" {
		return fmt.Errorf("message id and conversation id required")
	}
	found := false
	err := g.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		err := tx.AscendKeys("msg:"+msg.ConversationId+":*", func(key, val string) bool {
			if !strings.HasSuffix(key, ":"+msg.Id) {
				return true
			}
			if iterErr = json.Unmarshal([]byte(val), msg); iterErr != nil {
				return false
			}
			g.attachSender(tx, msg)
			found = true
			return false
		})
		if err != nil {
			return err
		}
		return iterErr
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (g *BuntGateway) GetMessages(conversationId string, limit int) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	err := g.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		err := tx.DescendKeys("msg:"+conversationId+":*", func(key, val string) bool {
			m := &types.Message{}
			if iterErr = json.Unmarshal([]byte(val), m); iterErr != nil {
				return false
			}
			g.attachSender(tx, m)
			messages = append(messages, m)
			return limit <= 0 || len(messages) < limit
		})
		if err != nil {
			return err
		}
		return iterErr
	})
	if err != nil {
		return nil, err
	}
	// collected newest-first, flip to ascending
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (g *BuntGateway) GetLastMessages(conversationIds []string) (map[string]*types.Message, error) {
	out := make(map[string]*types.Message)
	err := g.db.View(func(tx *buntdb.Tx) error {
		for _, convId := range conversationIds {
			var iterErr error
			err := tx.DescendKeys("msg:"+convId+":*", func(key, val string) bool {
				m := &types.Message{}
				if iterErr = json.Unmarshal([]byte(val), m); iterErr != nil {
					return false
				}
				g.attachSender(tx, m)
				out[convId] = m
				return false
			})
			if err != nil {
				return err
			}
			if iterErr != nil {
				return iterErr
			}
		}
		return nil
	})
	return out, err
}

func (g *BuntGateway) CountMessagesSince(conversationId string, after time.Time) (int, error) {
	count := 0
	err := g.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		err := tx.DescendKeys("msg:"+conversationId+":*", func(key, val string) bool {
			m := &types.Message{}
			if iterErr = json.Unmarshal([]byte(val), m); iterErr != nil {
				return false
			}
			if !m.CreatedAt.After(after) {
				return false
			}
			count++
			return true
		})
		if err != nil {
			return err
		}
		return iterErr
	})
	return count, err
}

func (g *BuntGateway) StoreMessage(msg *types.Message) error {
	if msg.Empty() {
		return fmt.Errorf("empty message")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := msg.EnsureId(); err != nil {
		return err
	}
	return g.db.Update(func(tx *buntdb.Tx) error {
		conv := types.Conversation{}
		if err := getJSON(tx, "conv:"+msg.ConversationId, &conv); err != nil {
			return err
		}
		member := types.ConversationMember{}
		err := getJSON(tx, "member:"+msg.ConversationId+":"+msg.SenderId, &member)
		if errors.Is(err, ErrNotFound) {
			return ErrForbidden
		}
		if err != nil {
			return err
		}
		if err := checkSendAllowed(&conv, &member); err != nil {
			return err
		}
		stored := *msg
		stored.Sender = nil
		return setJSON(tx, msgKey(msg), stored)
	})
}

func (g *BuntGateway) storeMemberTx(tx *buntdb.Tx, m types.ConversationMember) error {
	m.User = nil
	if err := setJSON(tx, "member:"+m.ConversationId+":"+m.UserId, m); err != nil {
		return err
	}
	_, _, err := tx.Set("membyuser:"+m.UserId+":"+m.ConversationId, m.ConversationId, nil)
	return err
}

func (g *BuntGateway) GetOrCreateDM(userId, otherUserId string) (string, error) {
	if userId == otherUserId {
		return "", fmt.Errorf("cannot dm yourself")
	}
	var convId string
	err := g.db.Update(func(tx *buntdb.Tx) error {
		if id, err := tx.Get(dmKey(userId, otherUserId)); err == nil {
			convId = id
			return nil
		} else if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		now := time.Now().UTC()
		conv := types.Conversation{
			Id:        uuid.NewString(),
			Type:      types.ConversationTypeDM,
			CreatedBy: userId,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := setJSON(tx, "conv:"+conv.Id, conv); err != nil {
			return err
		}
		for _, uid := range []string{userId, otherUserId} {
			member := types.ConversationMember{
				Id:             uuid.NewString(),
				ConversationId: conv.Id,
				UserId:         uid,
				Role:           types.MemberRoleMember,
				JoinedAt:       now,
				LastReadAt:     now,
			}
			if err := g.storeMemberTx(tx, member); err != nil {
				return err
			}
		}
		if _, _, err := tx.Set(dmKey(userId, otherUserId), conv.Id, nil); err != nil {
			return err
		}
		convId = conv.Id
		return nil
	})
	return convId, err
}

func (g *BuntGateway) CreateGroupConversation(convType, name, description, createdBy string, memberIds []string) (string, error) {
	if convType != types.ConversationTypeGroup && convType != types.ConversationTypeChannel {
		return "", fmt.Errorf("invalid conversation type %q", convType)
	}
	if name == "" {
		return "", fmt.Errorf("missing conversation name")
	}
	now := time.Now().UTC()
	conv := types.Conversation{
		Id:          uuid.NewString(),
		Type:        convType,
		Name:        name,
		Description: description,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := g.db.Update(func(tx *buntdb.Tx) error {
		if err := setJSON(tx, "conv:"+conv.Id, conv); err != nil {
			return err
		}
		owner := types.ConversationMember{
			Id:             uuid.NewString(),
			ConversationId: conv.Id,
			UserId:         createdBy,
			Role:           types.MemberRoleOwner,
			JoinedAt:       now,
			LastReadAt:     now,
		}
		if err := g.storeMemberTx(tx, owner); err != nil {
			return err
		}
		for _, uid := range memberIds {
			if uid == createdBy {
				continue
			}
			member := types.ConversationMember{
				Id:             uuid.NewString(),
				ConversationId: conv.Id,
				UserId:         uid,
				Role:           types.MemberRoleMember,
				JoinedAt:       now,
				LastReadAt:     now,
			}
			if err := g.storeMemberTx(tx, member); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return conv.Id, nil
}

func (g *BuntGateway) StoreInvite(inv *types.InviteLink) error {
	if inv.Id == "" {
		inv.Id = uuid.NewString()
	}
	if inv.Code == "" {
		inv.Code = types.NewInviteCode()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	return g.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, "invite:"+inv.Code, inv)
	})
}

func (g *BuntGateway) GetInvites(conversationId string) ([]*types.InviteLink, error) {
	invites := make([]*types.InviteLink, 0)
	err := g.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		err := tx.AscendKeys("invite:*", func(key, val string) bool {
			inv := &types.InviteLink{}
			if iterErr = json.Unmarshal([]byte(val), inv); iterErr != nil {
				return false
			}
			if conversationId == "" || inv.ConversationId == conversationId {
				invites = append(invites, inv)
			}
			return true
		})
		if err != nil {
			return err
		}
		return iterErr
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(invites, func(i, j int) bool { return invites[i].CreatedAt.After(invites[j].CreatedAt) })
	return invites, nil
}

func (g *BuntGateway) updateInvite(code string, mutate func(*types.InviteLink)) error {
	return g.db.Update(func(tx *buntdb.Tx) error {
		inv := types.InviteLink{}
		if err := getJSON(tx, "invite:"+code, &inv); err != nil {
			return err
		}
		mutate(&inv)
		return setJSON(tx, "invite:"+code, inv)
	})
}

func (g *BuntGateway) SetInviteActive(code string, active bool) error {
	return g.updateInvite(code, func(inv *types.InviteLink) {
		inv.IsActive = active
	})
}

func (g *BuntGateway) GetConversationByInviteCode(code string) (*types.InviteSummary, error) {
	summary := types.InviteSummary{}
	err := g.db.View(func(tx *buntdb.Tx) error {
		inv := types.InviteLink{}
		if err := getJSON(tx, "invite:"+code, &inv); err != nil {
			return err
		}
		if inv.ConversationId == "" {
			return ErrNotFound
		}
		conv := types.Conversation{}
		if err := getJSON(tx, "conv:"+inv.ConversationId, &conv); err != nil {
			return err
		}
		members, err := g.getMembersTx(tx, conv.Id)
		if err != nil {
			return err
		}
		summary = types.InviteSummary{
			ConversationId:   conv.Id,
			ConversationName: conv.Name,
			ConversationType: conv.Type,
			MemberCount:      len(members),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (g *BuntGateway) ValidateInviteCode(code string) (bool, error) {
	valid := false
	err := g.db.View(func(tx *buntdb.Tx) error {
		inv := types.InviteLink{}
		if err := getJSON(tx, "invite:"+code, &inv); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		valid = inv.Redeemable(time.Now())
		return nil
	})
	return valid, err
}

func (g *BuntGateway) UseInviteCode(code string) (bool, error) {
	used := false
	err := g.db.Update(func(tx *buntdb.Tx) error {
		inv := types.InviteLink{}
		if err := getJSON(tx, "invite:"+code, &inv); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if !inv.Redeemable(time.Now()) {
			return nil
		}
		inv.CurrentUses++
		if err := setJSON(tx, "invite:"+code, inv); err != nil {
			return err
		}
		used = true
		return nil
	})
	return used, err
}

func (g *BuntGateway) JoinConversationByInvite(code, userId string) (string, error) {
	var convId string
	err := g.db.Update(func(tx *buntdb.Tx) error {
		inv := types.InviteLink{}
		if err := getJSON(tx, "invite:"+code, &inv); err != nil {
			return err
		}
		if inv.ConversationId == "" || !inv.Redeemable(time.Now()) {
			return ErrInvalidInvite
		}
		convId = inv.ConversationId
		if _, err := tx.Get("member:" + convId + ":" + userId); err == nil {
			return nil // already a member, nothing to consume
		}
		now := time.Now().UTC()
		member := types.ConversationMember{
			Id:             uuid.NewString(),
			ConversationId: convId,
			UserId:         userId,
			Role:           types.MemberRoleMember,
			JoinedAt:       now,
			LastReadAt:     now,
		}
		if err := g.storeMemberTx(tx, member); err != nil {
			return err
		}
		inv.CurrentUses++
		return setJSON(tx, "invite:"+code, inv)
	})
	if err != nil {
		return "", err
	}
	return convId, nil
}

func (g *BuntGateway) SweepExpiredInvites(now time.Time) (int, error) {
	expired := make([]*types.InviteLink, 0)
	err := g.db.Update(func(tx *buntdb.Tx) error {
		var iterErr error
		err := tx.AscendKeys("invite:*", func(key, val string) bool {
			inv := &types.InviteLink{}
			if iterErr = json.Unmarshal([]byte(val), inv); iterErr != nil {
				return false
			}
			if inv.IsActive && inv.ExpiresAt != nil && !inv.ExpiresAt.After(now) {
				expired = append(expired, inv)
			}
			return true
		})
		if err != nil {
			return err
		}
		if iterErr != nil {
			return iterErr
		}
		for _, inv := range expired {
			inv.IsActive = false
			if err := setJSON(tx, "invite:"+inv.Code, inv); err != nil {
				return err
			}
		}
		return nil
	})
	return len(expired), err
}

func (g *BuntGateway) Close() error {
	return g.db.Close()
}
