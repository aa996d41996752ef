package auth

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"roomchat/controllers"
	"roomchat/middleware"
	"roomchat/pkg/identity"
	tokenstore "roomchat/pkg/token"
)

// RegisterPublic registers /auth/register and /auth/login.
func RegisterPublic(g *gin.RouterGroup, db *gorm.DB, issuer *identity.Issuer) {
	g.POST("/auth/register", middleware.RateLimit(), controllers.Register(db))
	g.POST("/auth/login", middleware.RateLimit(), controllers.Login(db, issuer))
}

// RegisterProtected registers auth routes that need a valid token.
func RegisterProtected(g *gin.RouterGroup, revoked *tokenstore.Store) {
	g.POST("/auth/logout", controllers.Logout(revoked))
}
