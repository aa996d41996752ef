package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"roomchat/controllers"
	"roomchat/middleware"
	"roomchat/pkg/cache"
	"roomchat/pkg/chat"
	"roomchat/pkg/config"
	"roomchat/pkg/database"
	"roomchat/pkg/directory"
	"roomchat/pkg/identity"
	"roomchat/pkg/logging"
	"roomchat/pkg/persist"
	"roomchat/pkg/room"
	"roomchat/pkg/supervisor"
	tokenstore "roomchat/pkg/token"
	"roomchat/routes"
)

func main() {
	// config is loaded by pkg/config init
	logging.Init(logging.Config{Level: config.LogLevel, Format: config.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(config.DBDriver, config.DBDSN)
	if err != nil {
		logging.Fatal().Err(err).Msg("[main] failed to open database")
	}

	middleware.SetRateLimitConfig(
		time.Duration(config.RateLimitWindowSeconds)*time.Second,
		config.RateLimitCapacity,
		config.UserSessionLimit,
	)

	revoked := tokenstore.New(0)
	names := cache.New[string](config.UserCacheMaxItems)
	janitorStop := make(chan struct{})
	defer close(janitorStop)
	go revoked.Janitor(time.Minute, janitorStop)
	go names.Janitor(time.Minute, janitorStop)

	resolver := identity.NewResolver(config.JWTSecret, identity.GormUsers{DB: db}, revoked, names,
		time.Duration(config.UserCacheTTLSeconds)*time.Second)
	issuer := identity.NewIssuer(config.JWTSecret, time.Duration(config.AccessTokenTTLMinutes)*time.Minute)

	persister := persist.New(persist.GormStore{DB: db}, persist.Options{
		QueueSize:        config.PersistQueueSize,
		Workers:          config.PersistWorkers,
		Timeout:          time.Duration(config.PersistTimeoutSeconds) * time.Second,
		FailureThreshold: uint32(config.BreakerFailureThreshold),
		OpenTimeout:      time.Duration(config.BreakerOpenSeconds) * time.Second,
	})
	dir := directory.New(db)
	rooms := room.NewRegistry()

	if config.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     config.CORSAllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, routes.Deps{
		DB:        db,
		Resolver:  resolver,
		Issuer:    issuer,
		Revoked:   revoked,
		Names:     names,
		Directory: dir,
		Chat: controllers.ChatDeps{
			Verifier:  resolver,
			Rooms:     rooms,
			Persister: persister,
			Members:   dir,
			Session: chat.Config{
				SendBuffer: config.WSSendBuffer,
				ReadLimit:  int64(config.WSMaxMessageBytes),
			},
			AllowAnonymous:    config.WSAllowAnonymous,
			EnforceMembership: config.WSEnforceMembership,
			BaseContext:       ctx,
		},
	})

	tree := supervisor.NewTree(supervisor.TreeConfig{})
	tree.AddStorageService(persister)
	tree.AddAPIService(supervisor.NewHTTPServerService(&http.Server{
		Addr:              ":" + config.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}, 10*time.Second))

	logging.Info().Str("port", config.Port).Msg("[main] listening")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("[main] supervisor stopped")
	}
	logging.Info().Msg("[main] shut down")
}
