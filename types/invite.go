package types

import (
	"crypto/rand"
	"math/big"
	"time"
)

// The code alphabet excludes characters that are easy to confuse when read
// aloud or retyped (0/O, 1/l/I).
const (
	inviteCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz23456789"
	InviteCodeLength   = 8
)

// NewInviteCode returns a fresh random invite code.
func NewInviteCode() string {
	max := big.NewInt(int64(len(inviteCodeAlphabet)))
	code := make([]byte, InviteCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is broken
			panic(err)
		}
		code[i] = inviteCodeAlphabet[n.Int64()]
	}
	return string(code)
}

// An InviteLink admits users into the community, or into one conversation
// when ConversationId is set. MaxUses of 0 means unlimited, a nil ExpiresAt
// means no expiry. The use counter is incremented atomically by the gateway,
// never by callers.
type InviteLink struct {
	Id             string     `json:"id" gorm:"primaryKey"`
	Code           string     `json:"code" gorm:"uniqueIndex"`
	ConversationId string     `json:"conversation_id"`
	CreatedBy      string     `json:"created_by"`
	MaxUses        int        `json:"max_uses"`
	CurrentUses    int        `json:"current_uses"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Redeemable reports whether the invite can be consumed at the given time:
// it must be active, not expired and not used up.
func (i *InviteLink) Redeemable(now time.Time) bool {
	if !i.IsActive {
		return false
	}
	if i.ExpiresAt != nil && !i.ExpiresAt.After(now) {
		return false
	}
	if i.MaxUses > 0 && i.CurrentUses >= i.MaxUses {
		return false
	}
	return true
}

// InviteSummary is what an invite preview shows before the user decides to
// join: enough to identify the conversation without being a member yet.
type InviteSummary struct {
	ConversationId   string `json:"conversation_id"`
	ConversationName string `json:"conversation_name"`
	ConversationType string `json:"conversation_type"`
	MemberCount      int    `json:"member_count"`
}
