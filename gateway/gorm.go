package gateway

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hideout-chat/hideout/config"
	"github.com/hideout-chat/hideout/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormGateway struct {
	db       *gorm.DB
	postgres bool
}

func NewGormGateway(cfg *config.Config) (*GormGateway, error) {
	if cfg.GatewayConfig.DSN == "" {
		return nil, fmt.Errorf("no gateway dsn configured")
	}
	var dial gorm.Dialector
	isPostgres := false
	switch cfg.GatewayConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.GatewayConfig.DSN)
		isPostgres = true
	case "sqlite":
		dial = sqlite.Open(cfg.GatewayConfig.DSN)
	default:
		return nil, fmt.Errorf("invalid gorm gateway type %q", cfg.GatewayConfig.Type)
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	err = db.Migrator().AutoMigrate(&types.User{}, &types.Conversation{}, &types.ConversationMember{}, &types.Message{}, &types.InviteLink{})
	if err != nil {
		return nil, err
	}
	g := &GormGateway{db: db, postgres: isPostgres}
	if isPostgres {
		if err := g.installNotifyTrigger(); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// installNotifyTrigger makes every message insert emit a NOTIFY payload on
// the hideout_messages channel, which the realtime listener fans out to
// subscribers. The payload field names match the types.Event JSON tags.
func (g *GormGateway) installNotifyTrigger() error {
	const fn = `CREATE OR REPLACE FUNCTION hideout_notify_message() RETURNS trigger AS $$
BEGIN
  PERFORM pg_notify('hideout_messages', json_build_object(
    'type', 'INSERT',
    'table', 'messages',
    'conversation_id', NEW.conversation_id,
    'record_id', NEW.id,
    'sender_id', NEW.sender_id,
    'created_at', NEW.created_at)::text);
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;`
	if err := g.db.Exec(fn).Error; err != nil {
		return err
	}
	if err := g.db.Exec(`DROP TRIGGER IF EXISTS hideout_messages_notify ON messages`).Error; err != nil {
		return err
	}
	return g.db.Exec(`CREATE TRIGGER hideout_messages_notify AFTER INSERT ON messages
FOR EACH ROW EXECUTE PROCEDURE hideout_notify_message()`).Error
}

func mapGormErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (g *GormGateway) StoreUser(user types.User) error {
	if user.Id == "" {
		user.Id = uuid.NewString()
	}
	return g.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&user).Error
}

func (g *GormGateway) GetUser(user *types.User) error {
	return mapGormErr(g.db.First(user).Error)
}

func (g *GormGateway) GetUserByEmail(email string) (*types.User, error) {
	user := types.User{}
	err := g.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, mapGormErr(err)
	}
	return &user, nil
}

func (g *GormGateway) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := g.db.Order("nickname").Find(&users).Error
	return users, err
}

func (g *GormGateway) UpdateUserRole(userId, role string) error {
	res := g.db.Model(&types.User{}).Where("id = ?", userId).Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormGateway) DeleteUser(user *types.User) error {
	return g.db.Delete(user).Error
}

func (g *GormGateway) GetConversation(conv *types.Conversation) error {
	return mapGormErr(g.db.First(conv).Error)
}

func (g *GormGateway) GetConversations() ([]*types.Conversation, error) {
	convs := make([]*types.Conversation, 0)
	err := g.db.Order("created_at DESC").Find(&convs).Error
	return convs, err
}

func (g *GormGateway) GetConversationsForUser(userId string) ([]*types.Conversation, error) {
	convs := make([]*types.Conversation, 0)
	err := g.db.
		Joins("JOIN conversation_members ON conversation_members.conversation_id = conversations.id").
		Where("conversation_members.user_id = ?", userId).
		Find(&convs).Error
	return convs, err
}

func (g *GormGateway) GetMembers(conversationIds []string) ([]*types.ConversationMember, error) {
	members := make([]*types.ConversationMember, 0)
	if len(conversationIds) == 0 {
		return members, nil
	}
	err := g.db.Preload("User").Where("conversation_id IN ?", conversationIds).Find(&members).Error
	return members, err
}

func (g *GormGateway) UpdateMemberRole(conversationId, userId, role string) error {
	res := g.db.Model(&types.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", conversationId, userId).
		Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormGateway) MarkRead(conversationId, userId string, at time.Time) error {
	return g.db.Model(&types.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", conversationId, userId).
		Update("last_read_at", at).Error
}

func (g *GormGateway) GetMessage(msg *types.Message) error {
	return mapGormErr(g.db.Preload("Sender").First(msg).Error)
}

// GetMessages returns the most recent limit messages of the conversation,
// ascending by creation time.
func (g *GormGateway) GetMessages(conversationId string, limit int) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	q := g.db.Preload("Sender").
		Where("conversation_id = ?", conversationId).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&messages).Error; err != nil {
		return nil, err
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// GetLastMessages returns the most recent message per conversation. Fine at
// community scale; revisit with a lateral join if conversations grow long.
func (g *GormGateway) GetLastMessages(conversationIds []string) (map[string]*types.Message, error) {
	out := make(map[string]*types.Message)
	if len(conversationIds) == 0 {
		return out, nil
	}
	messages := make([]*types.Message, 0)
	err := g.db.Preload("Sender").
		Where("conversation_id IN ?", conversationIds).
		Order("created_at DESC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		if _, ok := out[m.ConversationId]; !ok {
			out[m.ConversationId] = m
		}
	}
	return out, nil
}

func (g *GormGateway) CountMessagesSince(conversationId string, after time.Time) (int, error) {
	var count int64
	err := g.db.Model(&types.Message{}).
		Where("conversation_id = ? AND created_at > ?", conversationId, after).
		Count(&count).Error
	return int(count), err
}

// StoreMessage validates the sender's membership and the conversation's send
// policy, then inserts. The message id is content-derived, so a duplicate
// insert of the same message is rejected by the primary key.
func (g *GormGateway) StoreMessage(msg *types.Message) error {
	if msg.Empty() {
		return fmt.Errorf("empty message")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := msg.EnsureId(); err != nil {
		return err
	}
	return g.db.Transaction(func(tx *gorm.DB) error {
		conv := types.Conversation{Id: msg.ConversationId}
		if err := tx.First(&conv).Error; err != nil {
			return mapGormErr(err)
		}
		member := types.ConversationMember{}
		err := tx.Where("conversation_id = ? AND user_id = ?", msg.ConversationId, msg.SenderId).
			First(&member).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrForbidden
		}
		if err != nil {
			return err
		}
		if err := checkSendAllowed(&conv, &member); err != nil {
			return err
		}
		return tx.Omit("Sender").Create(msg).Error
	})
}

// GetOrCreateDM returns the dm conversation between the two users, creating
// it if none exists. The pair is unordered: (a,b) and (b,a) resolve to the
// same conversation.
func (g *GormGateway) GetOrCreateDM(userId, otherUserId string) (string, error) {
	if userId == otherUserId {
		return "", fmt.Errorf("cannot dm yourself")
	}
	var convId string
	err := g.db.Transaction(func(tx *gorm.DB) error {
		row := tx.Raw(`SELECT c.id FROM conversations c
JOIN conversation_members m1 ON m1.conversation_id = c.id AND m1.user_id = ?
JOIN conversation_members m2 ON m2.conversation_id = c.id AND m2.user_id = ?
WHERE c.type = 'dm' LIMIT 1`, userId, otherUserId).Row()
		if err := row.Scan(&convId); err == nil && convId != "" {
			return nil
		}
		now := time.Now().UTC()
		conv := types.Conversation{
			Id:        uuid.NewString(),
			Type:      types.ConversationTypeDM,
			CreatedBy: userId,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(&conv).Error; err != nil {
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
			if err := tx.Omit("User").Create(&member).Error; err != nil {
				return err
			}
		}
		convId = conv.Id
		return nil
	})
	return convId, err
}

// CreateGroupConversation creates a group or channel with the creator as its
// owner and the given users as regular members.
func (g *GormGateway) CreateGroupConversation(convType, name, description, createdBy string, memberIds []string) (string, error) {
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
	err := g.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
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
		if err := tx.Omit("User").Create(&owner).Error; err != nil {
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
			if err := tx.Omit("User").Create(&member).Error; err != nil {
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

func (g *GormGateway) StoreInvite(inv *types.InviteLink) error {
	if inv.Id == "" {
		inv.Id = uuid.NewString()
	}
	if inv.Code == "" {
		inv.Code = types.NewInviteCode()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	return g.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(inv).Error
}

// GetInvites lists invites, restricted to one conversation when
// conversationId is non-empty.
func (g *GormGateway) GetInvites(conversationId string) ([]*types.InviteLink, error) {
	invites := make([]*types.InviteLink, 0)
	q := g.db.Order("created_at DESC")
	if conversationId != "" {
		q = q.Where("conversation_id = ?", conversationId)
	}
	err := q.Find(&invites).Error
	return invites, err
}

func (g *GormGateway) SetInviteActive(code string, active bool) error {
	res := g.db.Model(&types.InviteLink{}).Where("code = ?", code).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// lockForUpdate takes a row lock where the backend supports it. SQLite
// serializes writers anyway, so the transaction alone is enough there.
func (g *GormGateway) lockForUpdate(tx *gorm.DB) *gorm.DB {
	if g.postgres {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func (g *GormGateway) getInviteByCode(tx *gorm.DB, code string) (*types.InviteLink, error) {
	inv := types.InviteLink{}
	err := tx.Where("code = ?", code).First(&inv).Error
	if err != nil {
		return nil, mapGormErr(err)
	}
	return &inv, nil
}

func (g *GormGateway) GetConversationByInviteCode(code string) (*types.InviteSummary, error) {
	inv, err := g.getInviteByCode(g.db, code)
	if err != nil {
		return nil, err
	}
	if inv.ConversationId == "" {
		return nil, ErrNotFound
	}
	conv := types.Conversation{Id: inv.ConversationId}
	if err := g.db.First(&conv).Error; err != nil {
		return nil, mapGormErr(err)
	}
	var count int64
	err = g.db.Model(&types.ConversationMember{}).
		Where("conversation_id = ?", conv.Id).Count(&count).Error
	if err != nil {
		return nil, err
	}
	return &types.InviteSummary{
		ConversationId:   conv.Id,
		ConversationName: conv.Name,
		ConversationType: conv.Type,
		MemberCount:      int(count),
	}, nil
}

func (g *GormGateway) ValidateInviteCode(code string) (bool, error) {
	inv, err := g.getInviteByCode(g.db, code)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return inv.Redeemable(time.Now()), nil
}

// UseInviteCode consumes one use of the invite, atomically with the
// redeemability check. Returns false without error when the invite is not
// redeemable.
func (g *GormGateway) UseInviteCode(code string) (bool, error) {
	used := false
	err := g.db.Transaction(func(tx *gorm.DB) error {
		inv, err := g.getInviteByCode(g.lockForUpdate(tx), code)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !inv.Redeemable(time.Now()) {
			return nil
		}
		err = tx.Model(inv).Update("current_uses", inv.CurrentUses+1).Error
		if err != nil {
			return err
		}
		used = true
		return nil
	})
	return used, err
}

// JoinConversationByInvite adds the user to the invite's conversation and
// consumes one use. Joining a conversation the user is already in succeeds
// without consuming a use. Community-wide invites (no conversation scope)
// are consumed at signup via UseInviteCode, not here.
func (g *GormGateway) JoinConversationByInvite(code, userId string) (string, error) {
	var convId string
	err := g.db.Transaction(func(tx *gorm.DB) error {
		inv, err := g.getInviteByCode(g.lockForUpdate(tx), code)
		if err != nil {
			return err
		}
		if inv.ConversationId == "" || !inv.Redeemable(time.Now()) {
			return ErrInvalidInvite
		}
		convId = inv.ConversationId
		existing := types.ConversationMember{}
		err = tx.Where("conversation_id = ? AND user_id = ?", convId, userId).First(&existing).Error
		if err == nil {
			return nil // already a member, nothing to consume
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
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
		if err := tx.Omit("User").Create(&member).Error; err != nil {
			return err
		}
		return tx.Model(inv).Update("current_uses", inv.CurrentUses+1).Error
	})
	if err != nil {
		return "", err
	}
	return convId, nil
}

// SweepExpiredInvites deactivates invites whose expiry has passed, so dead
// links stop showing as active in the admin list.
func (g *GormGateway) SweepExpiredInvites(now time.Time) (int, error) {
	res := g.db.Model(&types.InviteLink{}).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).
		Update("is_active", false)
	return int(res.RowsAffected), res.Error
}

func (g *GormGateway) Close() error {
	return nil
}
