package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation is the durable thread two (or more) users share.
type Conversation struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)"`
	Users      []User    `gorm:"many2many:conversation_users;constraint:OnDelete:CASCADE"`
	Messages   []Message `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time `gorm:"index"`
	ModifiedAt time.Time `gorm:"autoUpdateTime;index"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ModifiedAt.IsZero() {
		c.ModifiedAt = time.Now()
	}
	return nil
}

// HasUser reports whether userID is among the loaded participants.
func (c *Conversation) HasUser(userID string) bool {
	for _, u := range c.Users {
		if u.ID == userID {
			return true
		}
	}
	return false
}
