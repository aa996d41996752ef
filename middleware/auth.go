package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"roomchat/pkg/identity"
	"roomchat/pkg/logging"
)

const (
	ContextUserIDKey   = "current_user_id"
	ContextJTIKey      = "current_jti"
	ContextTokenExpKey = "current_token_exp"
	ContextIdentityKey = "current_identity"
)

// Verifier checks a bearer token. *identity.Resolver implements it.
type Verifier interface {
	Verify(ctx context.Context, token string) (identity.Identity, error)
}

func AuthMiddleware(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "missing authorization header"})
			return
		}
		parts := strings.Fields(auth)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid authorization header"})
			return
		}

		ident, err := v.Verify(c.Request.Context(), parts[1])
		if err != nil {
			logging.Debug().Err(err).Str("path", c.FullPath()).Msg("[auth] token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid token"})
			return
		}

		uid, _ := ident.UserID()
		c.Set(ContextUserIDKey, uid)
		c.Set(ContextJTIKey, ident.TokenID())
		c.Set(ContextTokenExpKey, ident.ExpiresAt())
		c.Set(ContextIdentityKey, ident)
		c.Next()
	}
}

// CurrentUserID is the user id set by AuthMiddleware, or "".
func CurrentUserID(c *gin.Context) string {
	return c.GetString(ContextUserIDKey)
}

// CurrentIdentity is the identity set by AuthMiddleware, or Anonymous.
func CurrentIdentity(c *gin.Context) identity.Identity {
	if v, ok := c.Get(ContextIdentityKey); ok {
		if ident, ok := v.(identity.Identity); ok {
			return ident
		}
	}
	return identity.Anonymous
}

// CurrentToken returns the jti and expiry of the request's token.
func CurrentToken(c *gin.Context) (jti string, exp time.Time) {
	return c.GetString(ContextJTIKey), c.GetTime(ContextTokenExpKey)
}
