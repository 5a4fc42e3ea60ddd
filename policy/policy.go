// Package policy centralizes every role-gated decision: which actions a user
// may take given their community role, their per-conversation role and the
// conversation type. Components ask here instead of branching on roles
// themselves.
package policy

import "github.com/hideout-chat/hideout/types"

type Action string

const (
	ActionSendMessage      Action = "send_message"
	ActionInviteMembers    Action = "invite_members"
	ActionManageInvites    Action = "manage_invites"
	ActionManageMembers    Action = "manage_members"
	ActionEditConversation Action = "edit_conversation"
)

// Capabilities returns the set of actions allowed for the given community
// role, per-conversation role and conversation type. An empty memberRole
// means the user is not a member of the conversation.
func Capabilities(userRole, memberRole, convType string) map[Action]struct{} {
	caps := make(map[Action]struct{})
	if memberRole == "" {
		return caps
	}
	convAdmin := memberRole == types.MemberRoleOwner || memberRole == types.MemberRoleAdmin
	if convType != types.ConversationTypeChannel || convAdmin {
		caps[ActionSendMessage] = struct{}{}
	}
	if convType != types.ConversationTypeDM && convAdmin {
		caps[ActionInviteMembers] = struct{}{}
		caps[ActionManageInvites] = struct{}{}
		caps[ActionManageMembers] = struct{}{}
		caps[ActionEditConversation] = struct{}{}
	}
	return caps
}

// CanSend reports whether a member may post. Channels are broadcast-only for
// regular members.
func CanSend(memberRole, convType string) bool {
	_, ok := Capabilities("", memberRole, convType)[ActionSendMessage]
	return ok
}

// CanInvite reports whether a member may create invite links for the
// conversation. DMs are never invitable.
func CanInvite(memberRole, convType string) bool {
	_, ok := Capabilities("", memberRole, convType)[ActionInviteMembers]
	return ok
}

// CanAdministerCommunity reports whether a user may use the community admin
// surfaces (member list, community invites).
func CanAdministerCommunity(userRole string) bool {
	return userRole == types.UserRoleOwner || userRole == types.UserRoleAdmin
}

// CanGrantCommunityRole reports whether a user with granterRole may assign
// newRole to another member. Only a community owner hands out the owner and
// admin roles; admins may manage the rest.
func CanGrantCommunityRole(granterRole, newRole string) bool {
	switch granterRole {
	case types.UserRoleOwner:
		return true
	case types.UserRoleAdmin:
		return newRole != types.UserRoleOwner && newRole != types.UserRoleAdmin
	default:
		return false
	}
}
