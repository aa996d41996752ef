package websocket

import (
	"github.com/gin-gonic/gin"

	"roomchat/controllers"
	"roomchat/middleware"
)

func Register(r *gin.Engine, d controllers.ChatDeps) {
	r.GET("/ws/:room_name/", middleware.RateLimit(), controllers.ChatWS(d))
}
