// Package gateway is the data authority: tables plus the remote procedures
// that hold the invariants the clients rely on (one dm per user pair, atomic
// invite consumption, channel send policy). Everything a view model caches
// comes from here.
package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/hideout-chat/hideout/config"
	"github.com/hideout-chat/hideout/policy"
	"github.com/hideout-chat/hideout/types"
)

var (
	// ErrNotFound is returned for any row lookup miss, regardless of backend.
	ErrNotFound = errors.New("gateway: not found")
	// ErrForbidden is returned when a mutation violates the access policy,
	// e.g. a regular member posting into a channel.
	ErrForbidden = errors.New("gateway: forbidden")
	// ErrInvalidInvite is returned when an invite code cannot be redeemed.
	ErrInvalidInvite = errors.New("gateway: invite not redeemable")
)

type Gateway interface {
	// users
	StoreUser(user types.User) error
	GetUser(user *types.User) error
	GetUserByEmail(email string) (*types.User, error)
	GetUsers() ([]*types.User, error)
	UpdateUserRole(userId, role string) error
	DeleteUser(user *types.User) error

	// conversations and memberships
	GetConversation(conv *types.Conversation) error
	GetConversations() ([]*types.Conversation, error)
	GetConversationsForUser(userId string) ([]*types.Conversation, error)
	GetMembers(conversationIds []string) ([]*types.ConversationMember, error)
	UpdateMemberRole(conversationId, userId, role string) error
	MarkRead(conversationId, userId string, at time.Time) error

	// messages
	GetMessage(msg *types.Message) error
	GetMessages(conversationId string, limit int) ([]*types.Message, error)
	GetLastMessages(conversationIds []string) (map[string]*types.Message, error)
	CountMessagesSince(conversationId string, after time.Time) (int, error)
	StoreMessage(msg *types.Message) error

	// conversation procedures
	GetOrCreateDM(userId, otherUserId string) (string, error)
	CreateGroupConversation(convType, name, description, createdBy string, memberIds []string) (string, error)

	// invite procedures
	StoreInvite(inv *types.InviteLink) error
	GetInvites(conversationId string) ([]*types.InviteLink, error)
	SetInviteActive(code string, active bool) error
	GetConversationByInviteCode(code string) (*types.InviteSummary, error)
	ValidateInviteCode(code string) (bool, error)
	UseInviteCode(code string) (bool, error)
	JoinConversationByInvite(code, userId string) (string, error)
	SweepExpiredInvites(now time.Time) (int, error)

	Close() error
}

// NewGateway creates the gateway selected by the configuration.
func NewGateway(cfg *config.Config) (Gateway, error) {
	switch cfg.GatewayConfig.Type {
	case "sqlite", "postgres":
		return NewGormGateway(cfg)
	case "buntdb":
		return NewBuntGateway(cfg)
	default:
		return nil, fmt.Errorf("unknown gateway type %q", cfg.GatewayConfig.Type)
	}
}

// checkSendAllowed is the shared gate for StoreMessage: the sender must be a
// member and the policy for the conversation type must allow posting.
func checkSendAllowed(conv *types.Conversation, member *types.ConversationMember) error {
	if member == nil || !policy.CanSend(member.Role, conv.Type) {
		return ErrForbidden
	}
	return nil
}
