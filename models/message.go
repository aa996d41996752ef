package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is one persisted chat utterance; never updated after insert.
type Message struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)"`
	ConversationID string    `gorm:"type:varchar(36);index;not null"`
	Body           string    `gorm:"type:text;not null"`
	SentToID       string    `gorm:"type:varchar(36);index;not null"`
	SentTo         User      `gorm:"foreignKey:SentToID;constraint:OnDelete:CASCADE"`
	CreatedByID    string    `gorm:"type:varchar(36);index;not null"`
	CreatedBy      User      `gorm:"foreignKey:CreatedByID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time `gorm:"index"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// All lists every model for AutoMigrate.
func All() []any {
	return []any{&User{}, &Conversation{}, &Message{}}
}
