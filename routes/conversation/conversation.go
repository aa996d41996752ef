package conversation

import (
	"github.com/gin-gonic/gin"

	"roomchat/controllers"
	"roomchat/middleware"
	"roomchat/pkg/directory"
)

// Register registers conversation routes (protected)
func Register(g *gin.RouterGroup, dir *directory.Directory) {
	g.GET("/chat/", controllers.ListConversations(dir))
	g.GET("/chat/start/:user_id/", middleware.RateLimit(), controllers.StartConversation(dir))
	g.GET("/chat/:conversation_id/", controllers.GetConversation(dir))
}
