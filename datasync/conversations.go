package datasync

import (
	"fmt"
	"sort"

	"github.com/hideout-chat/hideout/gateway"
	"github.com/hideout-chat/hideout/store"
	"github.com/hideout-chat/hideout/types"
)

// ConversationsSync assembles the denormalized conversation list for the
// current user: conversations joined with their members and last message,
// ordered by most recent activity.
type ConversationsSync struct {
	gw gateway.Gateway
	st *store.Store
}

func NewConversationsSync(gw gateway.Gateway, st *store.Store) *ConversationsSync {
	return &ConversationsSync{gw: gw, st: st}
}

// Refetch rebuilds the list from the gateway and replaces the store's copy
// wholesale. Call after any mutation that changes the list (new
// conversation, invite join).
func (s *ConversationsSync) Refetch() ([]*types.ConversationDetails, error) {
	currentUser := s.st.CurrentUser()
	if currentUser == nil {
		return nil, fmt.Errorf("no current user")
	}
	convs, err := s.gw.GetConversationsForUser(currentUser.Id)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.Id
	}
	members, err := s.gw.GetMembers(ids)
	if err != nil {
		return nil, err
	}
	lastMessages, err := s.gw.GetLastMessages(ids)
	if err != nil {
		return nil, err
	}
	details := assembleConversations(convs, members, lastMessages)
	for _, d := range details {
		if m := d.Member(currentUser.Id); m != nil {
			count, err := s.gw.CountMessagesSince(d.Id, m.LastReadAt)
			if err != nil {
				return nil, err
			}
			d.UnreadCount = count
		}
	}
	SortByActivity(details)
	s.st.SetConversations(details)
	return details, nil
}

func assembleConversations(convs []*types.Conversation, members []*types.ConversationMember, lastMessages map[string]*types.Message) []*types.ConversationDetails {
	membersByConv := make(map[string][]*types.ConversationMember)
	for _, m := range members {
		membersByConv[m.ConversationId] = append(membersByConv[m.ConversationId], m)
	}
	details := make([]*types.ConversationDetails, 0, len(convs))
	for _, c := range convs {
		details = append(details, &types.ConversationDetails{
			Conversation: *c,
			Members:      membersByConv[c.Id],
			LastMessage:  lastMessages[c.Id],
		})
	}
	return details
}

// SortByActivity orders conversations by last activity descending (last
// message time, else creation time), ties broken by creation time
// descending.
func SortByActivity(details []*types.ConversationDetails) {
	sort.SliceStable(details, func(i, j int) bool {
		ai, aj := details[i].LastActivity(), details[j].LastActivity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return details[i].CreatedAt.After(details[j].CreatedAt)
	})
}
