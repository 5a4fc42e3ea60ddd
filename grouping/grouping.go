// Package grouping partitions an ordered message list into runs for display:
// consecutive messages by the same sender, split when the gap between two
// messages exceeds a threshold. Purely derived, recomputed on every render.
package grouping

import (
	"time"

	"github.com/hideout-chat/hideout/types"
)

// GapThreshold is the maximum silence inside one group.
const GapThreshold = 5 * time.Minute

type MessageGroup struct {
	SenderId string
	Sender   *types.User
	Messages []*types.Message
	IsViewer bool
}

// Group partitions messages in order. A new group starts on a sender change,
// or when the gap to the previous message exceeds GapThreshold. Single pass,
// stable, deterministic.
func Group(messages []*types.Message, viewerId string) []*MessageGroup {
	groups := make([]*MessageGroup, 0)
	var current *MessageGroup
	for _, m := range messages {
		if current != nil && current.SenderId == m.SenderId {
			last := current.Messages[len(current.Messages)-1]
			if m.CreatedAt.Sub(last.CreatedAt) <= GapThreshold {
				current.Messages = append(current.Messages, m)
				continue
			}
		}
		current = &MessageGroup{
			SenderId: m.SenderId,
			Sender:   m.Sender,
			Messages: []*types.Message{m},
			IsViewer: m.SenderId == viewerId,
		}
		groups = append(groups, current)
	}
	return groups
}
