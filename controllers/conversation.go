package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"roomchat/middleware"
	"roomchat/models"
	"roomchat/pkg/directory"
	"roomchat/pkg/logging"
)

type userView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type conversationView struct {
	ID         string     `json:"id"`
	Users      []userView `json:"users"`
	ModifiedAt time.Time  `json:"modified_at"`
}

type messageView struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	SentTo    userView  `json:"sent_to"`
	CreatedBy userView  `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserView(u models.User) userView {
	return userView{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL}
}

func toConversationView(conv models.Conversation) conversationView {
	users := make([]userView, 0, len(conv.Users))
	for _, u := range conv.Users {
		users = append(users, toUserView(u))
	}
	return conversationView{ID: conv.ID, Users: users, ModifiedAt: conv.ModifiedAt}
}

// ListConversations returns the current user's conversations, most recent first.
func ListConversations(dir *directory.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		convs, err := dir.List(c.Request.Context(), middleware.CurrentUserID(c))
		if err != nil {
			logging.Error().Err(err).Msg("[conversation] list")
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to list conversations"})
			return
		}
		out := make([]conversationView, 0, len(convs))
		for _, conv := range convs {
			out = append(out, toConversationView(conv))
		}
		c.JSON(http.StatusOK, out)
	}
}

// GetConversation returns one conversation and its messages.
func GetConversation(dir *directory.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		conv, err := dir.Get(c.Request.Context(), middleware.CurrentUserID(c), c.Param("conversation_id"))
		if errors.Is(err, directory.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"msg": "conversation not found"})
			return
		}
		if err != nil {
			logging.Error().Err(err).Msg("[conversation] get")
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to load conversation"})
			return
		}

		msgs := make([]messageView, 0, len(conv.Messages))
		for _, m := range conv.Messages {
			msgs = append(msgs, messageView{
				ID:        m.ID,
				Body:      m.Body,
				SentTo:    toUserView(m.SentTo),
				CreatedBy: toUserView(m.CreatedBy),
				CreatedAt: m.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"conversation": toConversationView(*conv), "messages": msgs})
	}
}

// StartConversation returns the conversation between the current user and
// :user_id, creating it on first use.
func StartConversation(dir *directory.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		conv, err := dir.StartOrGet(c.Request.Context(), middleware.CurrentUserID(c), c.Param("user_id"))
		switch {
		case errors.Is(err, directory.ErrSelfConversation):
			c.JSON(http.StatusBadRequest, gin.H{"msg": "cannot start a conversation with yourself"})
			return
		case errors.Is(err, directory.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"msg": "user not found"})
			return
		case err != nil:
			logging.Error().Err(err).Msg("[conversation] start")
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to start conversation"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "conversation_id": conv.ID})
	}
}
