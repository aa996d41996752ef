package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"roomchat/pkg/room"
)

// Healthz reports whether the database answers and how many rooms are live.
func Healthz(db *gorm.DB, rooms *room.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"msg": "database unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": rooms.Len()})
	}
}

func Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
