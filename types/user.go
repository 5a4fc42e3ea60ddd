package types

import "time"

// Community-wide roles. These gate the admin surfaces (member administration,
// community invites), not per-conversation permissions - those live on
// ConversationMember.
const (
	UserRoleOwner     = "owner"
	UserRoleAdmin     = "admin"
	UserRoleModerator = "moderator"
	UserRoleMember    = "member"
)

type User struct {
	Id        string    `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"uniqueIndex"`
	Nickname  string    `json:"nickname"`
	AvatarUrl string    `json:"avatar_url"`
	Role      string    `json:"role" gorm:"default:member"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
