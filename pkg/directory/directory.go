// Package directory finds and creates the two-party conversations that rooms
// are keyed by.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"roomchat/models"
	"roomchat/pkg/logging"
)

var (
	ErrSelfConversation = errors.New("directory: cannot start a conversation with yourself")
	ErrUserNotFound     = errors.New("directory: user not found")
	ErrNotFound         = errors.New("directory: conversation not found")
)

// Directory resolves conversations in the relational store.
type Directory struct {
	db    *gorm.DB
	pairs *keyedMutex
}

func New(db *gorm.DB) *Directory {
	return &Directory{db: db, pairs: newKeyedMutex()}
}

// StartOrGet returns the oldest conversation shared by a and b, creating one
// when none exists. Calls for the same unordered pair are serialised.
func (d *Directory) StartOrGet(ctx context.Context, a, b string) (*models.Conversation, error) {
	if a == b {
		return nil, ErrSelfConversation
	}

	unlock := d.pairs.Lock(pairKey(a, b))
	defer unlock()

	db := d.db.WithContext(ctx)
	var users []models.User
	if err := db.Where("id IN ?", []string{a, b}).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("directory: load users: %w", err)
	}
	if len(users) != 2 {
		return nil, ErrUserNotFound
	}

	var existing models.Conversation
	err := db.Model(&models.Conversation{}).
		Joins("JOIN conversation_users cu1 ON cu1.conversation_id = conversations.id AND cu1.user_id = ?", a).
		Joins("JOIN conversation_users cu2 ON cu2.conversation_id = conversations.id AND cu2.user_id = ?", b).
		Order("conversations.created_at ASC").
		Order("conversations.id ASC").
		Preload("Users").
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("directory: find conversation: %w", err)
	}

	conv := &models.Conversation{Users: users}
	if err := db.Omit("Users.*").Create(conv).Error; err != nil {
		return nil, fmt.Errorf("directory: create conversation: %w", err)
	}
	logging.Info().Str("conversation_id", conv.ID).Str("user_a", a).Str("user_b", b).Msg("[directory] conversation created")
	return conv, nil
}

// List returns userID's conversations with participants, most recently active first.
func (d *Directory) List(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := d.db.WithContext(ctx).
		Joins("JOIN conversation_users cu ON cu.conversation_id = conversations.id AND cu.user_id = ?", userID).
		Preload("Users").
		Order("conversations.modified_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("directory: list conversations: %w", err)
	}
	return convs, nil
}

// Get loads one conversation with its messages in the order they were sent.
// A conversation userID does not take part in is reported as ErrNotFound.
func (d *Directory) Get(ctx context.Context, userID, convID string) (*models.Conversation, error) {
	ok, err := d.IsParticipant(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	var conv models.Conversation
	err = d.db.WithContext(ctx).
		Preload("Users").
		Preload("Messages", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("created_at ASC").Order("id ASC")
		}).
		Preload("Messages.SentTo").
		Preload("Messages.CreatedBy").
		First(&conv, "id = ?", convID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: load conversation: %w", err)
	}
	return &conv, nil
}

// IsParticipant reports whether userID belongs to convID.
func (d *Directory) IsParticipant(ctx context.Context, convID, userID string) (bool, error) {
	var n int64
	err := d.db.WithContext(ctx).
		Table("conversation_users").
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("directory: membership: %w", err)
	}
	return n > 0, nil
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// keyedMutex hands out one mutex per key and forgets it when nobody holds it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m := k.locks[key]
	if m == nil {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
