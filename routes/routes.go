package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"roomchat/controllers"
	"roomchat/middleware"
	"roomchat/pkg/cache"
	"roomchat/pkg/directory"
	"roomchat/pkg/identity"
	tokenstore "roomchat/pkg/token"

	authRoutes "roomchat/routes/auth"
	convRoutes "roomchat/routes/conversation"
	profileRoutes "roomchat/routes/profile"
	websocketRoutes "roomchat/routes/websocket"
)

// Deps is everything the HTTP surface is built from.
type Deps struct {
	DB        *gorm.DB
	Resolver  *identity.Resolver
	Issuer    *identity.Issuer
	Revoked   *tokenstore.Store
	Names     *cache.Cache[string]
	Directory *directory.Directory
	Chat      controllers.ChatDeps
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "roomchat backend running"})
	})
	r.GET("/healthz", controllers.Healthz(d.DB, d.Chat.Rooms))
	r.GET("/metrics", controllers.Metrics())

	websocketRoutes.Register(r, d.Chat)

	api := r.Group("/api")
	authRoutes.RegisterPublic(api, d.DB, d.Issuer)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(d.Resolver))
	authRoutes.RegisterProtected(protected, d.Revoked)
	profileRoutes.Register(protected, d.DB, d.Names)
	convRoutes.Register(protected, d.Directory)
}
