package types

import "time"

const (
	ConversationTypeDM      = "dm"
	ConversationTypeGroup   = "group"
	ConversationTypeChannel = "channel"
)

// Per-conversation roles, independent of the community-wide user role.
const (
	MemberRoleOwner  = "owner"
	MemberRoleAdmin  = "admin"
	MemberRoleMember = "member"
)

// A Conversation is a dm, group or channel. Name, description and image only
// apply to the non-dm types; a dm takes its display identity from the other
// member.
type Conversation struct {
	Id          string    `json:"id" gorm:"primaryKey"`
	Type        string    `json:"type" gorm:"index"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ImageUrl    string    `json:"image_url"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ConversationMember links a user to a conversation. LastReadAt is the basis
// for unread counts.
type ConversationMember struct {
	Id             string    `json:"id" gorm:"primaryKey"`
	ConversationId string    `json:"conversation_id" gorm:"index"`
	UserId         string    `json:"user_id" gorm:"index"`
	Role           string    `json:"role" gorm:"default:member"`
	JoinedAt       time.Time `json:"joined_at"`
	LastReadAt     time.Time `json:"last_read_at"`
	User           *User     `json:"user,omitempty" gorm:"foreignKey:UserId"`
}

// ConversationDetails is the denormalized shape the view model works with:
// the conversation row plus its members, the most recent message and an
// unread count for the viewing user.
type ConversationDetails struct {
	Conversation
	Members     []*ConversationMember `json:"members"`
	LastMessage *Message              `json:"last_message,omitempty"`
	UnreadCount int                   `json:"unread_count"`
}

// LastActivity is the ordering key for the conversation list: the last
// message time when there is one, the creation time otherwise.
func (c *ConversationDetails) LastActivity() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}

// Member returns the membership row for the given user, or nil.
func (c *ConversationDetails) Member(userId string) *ConversationMember {
	for _, m := range c.Members {
		if m.UserId == userId {
			return m
		}
	}
	return nil
}

func (c *ConversationDetails) otherMember(viewerId string) *ConversationMember {
	for _, m := range c.Members {
		if m.UserId != viewerId {
			return m
		}
	}
	return nil
}

// DisplayName resolves the conversation title for the given viewer, one rule
// per conversation type.
func (c *ConversationDetails) DisplayName(viewerId string) string {
	switch c.Type {
	case ConversationTypeDM:
		return c.dmDisplayName(viewerId)
	default:
		return c.groupDisplayName()
	}
}

// DisplayImage resolves the conversation avatar for the given viewer.
func (c *ConversationDetails) DisplayImage(viewerId string) string {
	switch c.Type {
	case ConversationTypeDM:
		if m := c.otherMember(viewerId); m != nil && m.User != nil {
			return m.User.AvatarUrl
		}
		return ""
	default:
		return c.ImageUrl
	}
}

func (c *ConversationDetails) dmDisplayName(viewerId string) string {
	if m := c.otherMember(viewerId); m != nil && m.User != nil && m.User.Nickname != "" {
		return m.User.Nickname
	}
	return "unknown"
}

func (c *ConversationDetails) groupDisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Type
}
