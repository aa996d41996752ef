package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"roomchat/models"
)

// Store writes messages durably.
type Store interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
}

// GormStore inserts messages and bumps the owning conversation's modified_at
// in one transaction. Both the sender and the recipient must be participants
// of the conversation.
type GormStore struct {
	DB *gorm.DB
}

func (s GormStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			First(&conv, "id = ?", msg.ConversationID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownConversation
		}
		if err != nil {
			return fmt.Errorf("persist: load conversation: %w", err)
		}

		var members []string
		err = tx.Table("conversation_users").
			Where("conversation_id = ? AND user_id IN ?", msg.ConversationID, []string{msg.CreatedByID, msg.SentToID}).
			Pluck("user_id", &members).Error
		if err != nil {
			return fmt.Errorf("persist: load participants: %w", err)
		}
		if !contains(members, msg.CreatedByID) {
			return ErrNotParticipant
		}
		if !contains(members, msg.SentToID) {
			return ErrUnknownRecipient
		}

		// MySQL counts changed rows, so RowsAffected may be 0 here.
		err = tx.Model(&models.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("modified_at", time.Now()).Error
		if err != nil {
			return fmt.Errorf("persist: touch conversation: %w", err)
		}
		if err := tx.Omit(clause.Associations).Create(msg).Error; err != nil {
			if errors.Is(err, gorm.ErrForeignKeyViolated) {
				return fmt.Errorf("%w: %v", ErrUnknownRecipient, err)
			}
			return fmt.Errorf("persist: insert message: %w", err)
		}
		return nil
	})
}

var _ Store = GormStore{}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// isPermanent errors are the caller's fault, not the store's; they never trip the breaker.
func isPermanent(err error) bool {
	return errors.Is(err, ErrUnknownConversation) ||
		errors.Is(err, ErrAnonymousSender) ||
		errors.Is(err, ErrNotParticipant) ||
		errors.Is(err, ErrUnknownRecipient) ||
		errors.Is(err, gorm.ErrForeignKeyViolated)
}
