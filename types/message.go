package types

import (
	"fmt"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

// A Message is immutable once stored. Content and ImageUrl are both optional,
// but at least one must be set.
type Message struct {
	Id             string    `json:"id" gorm:"primaryKey" hash:"ignore"`
	ConversationId string    `json:"conversation_id" gorm:"index"`
	SenderId       string    `json:"sender_id"`
	Content        string    `json:"content"`
	ImageUrl       string    `json:"image_url"`
	CreatedAt      time.Time `json:"created_at" gorm:"index"`
	Sender         *User     `json:"sender,omitempty" gorm:"foreignKey:SenderId" hash:"ignore"`
}

// EnsureId derives the message id from the message contents if none is set.
// The id is stable for a given (conversation, sender, content, timestamp)
// tuple, so re-sending the same message after a network hiccup cannot create
// a second row.
func (m *Message) EnsureId() error {
	if m.Id != "" {
		return nil
	}
	h, err := hashstructure.Hash(m, hashstructure.FormatV2, nil)
	if err != nil {
		return err
	}
	m.Id = fmt.Sprintf("%016x", h)
	return nil
}

func (m *Message) Empty() bool {
	return m.Content == "" && m.ImageUrl == ""
}
