package types

import "time"

// Change-notification event types and relations.
const (
	EventInsert = "INSERT"

	TableMessages = "messages"
)

// An Event notifies subscribers about a row insert, scoped by conversation.
// It carries only identifiers; subscribers fetch the full row themselves so
// joined fields (sender profile) are resolved consistently.
type Event struct {
	Type           string    `json:"type"`
	Table          string    `json:"table"`
	ConversationId string    `json:"conversation_id"`
	RecordId       string    `json:"record_id"`
	SenderId       string    `json:"sender_id"`
	Created        time.Time `json:"created_at"`
}

// NewMessageEvent builds the insert event for a stored message.
func NewMessageEvent(m *Message) *Event {
	return &Event{
		Type:           EventInsert,
		Table:          TableMessages,
		ConversationId: m.ConversationId,
		RecordId:       m.Id,
		SenderId:       m.SenderId,
		Created:        m.CreatedAt,
	}
}
