package profile

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"roomchat/controllers"
	"roomchat/pkg/cache"
)

// Register expects g to already have AuthMiddleware applied.
func Register(g *gin.RouterGroup, db *gorm.DB, names *cache.Cache[string]) {
	g.GET("/auth/me", controllers.Profile(db, names))
	g.PUT("/auth/me", controllers.Profile(db, names))
}
