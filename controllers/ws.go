package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"roomchat/middleware"
	"roomchat/pkg/chat"
	"roomchat/pkg/identity"
	"roomchat/pkg/logging"
	"roomchat/pkg/metrics"
	"roomchat/pkg/room"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS handled at HTTP level; allow WS here
		return true
	},
}

// MembershipChecker reports whether a user belongs to a conversation.
type MembershipChecker interface {
	IsParticipant(ctx context.Context, convID, userID string) (bool, error)
}

// ChatDeps is what the chat socket handler needs.
type ChatDeps struct {
	Verifier  middleware.Verifier
	Rooms     *room.Registry
	Persister chat.Persister
	Members   MembershipChecker
	Session   chat.Config

	// AllowAnonymous accepts connections whose token did not verify.
	AllowAnonymous bool
	// EnforceMembership requires the room name to be a conversation the user is in.
	EnforceMembership bool

	// BaseContext is cancelled on shutdown and ends every session.
	BaseContext context.Context
}

// ChatWS upgrades GET /ws/:room_name/ into a chat session.
// The token comes from ?token= or an Authorization: Bearer header.
//
//	-> {"data": {"conversation_id", "sent_to_id", "name", "body"}}
//	<- {"body", "name"}
func ChatWS(d ChatDeps) gin.HandlerFunc {
	base := d.BaseContext
	if base == nil {
		base = context.Background()
	}
	return func(c *gin.Context) {
		key, err := chat.ParseRoomKey(c.Param("room_name"))
		if err != nil {
			refuse(c, http.StatusBadRequest, "bad_room", "invalid room name")
			return
		}

		ident, err := d.Verifier.Verify(c.Request.Context(), bearerToken(c))
		if err != nil {
			logging.Debug().Err(err).Str("room", key).Msg("[ws] unverified handshake")
			ident = identity.Anonymous
		}
		if ident.IsAnonymous() && !d.AllowAnonymous {
			refuse(c, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}

		uid, verified := ident.UserID()
		if d.EnforceMembership {
			ok := false
			if verified {
				ok, err = d.Members.IsParticipant(c.Request.Context(), key, uid)
				if err != nil {
					logging.Error().Err(err).Str("room", key).Msg("[ws] membership check")
					c.JSON(http.StatusInternalServerError, gin.H{"msg": "membership check failed"})
					return
				}
			}
			if !ok {
				refuse(c, http.StatusForbidden, "forbidden", "not a participant of this conversation")
				return
			}
		}

		slotKey := uid
		if !verified {
			slotKey = "anonymous@" + c.ClientIP()
		}
		release, ok := middleware.AcquireSessionSlot(slotKey)
		if !ok {
			refuse(c, http.StatusTooManyRequests, "session_limit", "too many open sessions")
			return
		}
		defer release()

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// the upgrader has already written an error response
			metrics.HandshakeFailures.WithLabelValues("upgrade").Inc()
			logging.Warn().Err(err).Str("room", key).Msg("[ws] upgrade error")
			return
		}

		s := chat.NewSession(conn, ident, key, d.Rooms, d.Persister, d.Session)
		if err := s.Run(base); err != nil && !errors.Is(err, chat.ErrDecode) {
			logging.Warn().Err(err).Str("session_id", s.ID()).Msg("[ws] session ended with error")
		}
	}
}

func refuse(c *gin.Context, status int, reason, msg string) {
	metrics.HandshakeFailures.WithLabelValues(reason).Inc()
	c.AbortWithStatusJSON(status, gin.H{"msg": msg})
}

func bearerToken(c *gin.Context) string {
	if tok := strings.TrimSpace(c.Query("token")); tok != "" {
		return tok
	}
	parts := strings.Fields(c.GetHeader("Authorization"))
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}
