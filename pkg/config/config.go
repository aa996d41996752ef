package config

import (
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"roomchat/pkg/logging"
)

var (
	AppEnv       string
	IsProduction bool

	JWTSecret             string
	AccessTokenTTLMinutes int
	Port                  string

	DBDriver string
	DBDSN    string

	LogLevel  string
	LogFormat string

	CORSAllowedOrigins []string

	// runtime tunables
	RateLimitWindowSeconds int
	RateLimitCapacity      int
	UserSessionLimit       int

	// chat socket policy
	WSAllowAnonymous    bool
	WSEnforceMembership bool
	WSSendBuffer        int
	WSMaxMessageBytes   int

	PersistQueueSize        int
	PersistWorkers          int
	PersistTimeoutSeconds   int
	BreakerFailureThreshold int
	BreakerOpenSeconds      int

	UserCacheTTLSeconds int
	UserCacheMaxItems   int
)

// loadAppEnv loads .env outside production. A missing file is not an error.
func loadAppEnv() {
	AppEnv = os.Getenv("APP_ENV")
	if AppEnv == "production" {
		return
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logging.Warn().Err(err).Msg("[config] could not load .env")
	}
}

func init() {
	Load()
}

// Load (re)reads every variable from the environment. init calls it once.
func Load() {
	loadAppEnv()

	AppEnv = strings.TrimSpace(os.Getenv("APP_ENV"))
	if AppEnv == "" {
		AppEnv = "development"
	}
	if !slices.Contains([]string{"development", "staging", "production", "test"}, AppEnv) {
		logging.Fatal().Str("app_env", AppEnv).Msg("[config] APP_ENV must be development, staging, production or test")
	}
	IsProduction = AppEnv == "production"

	JWTSecret = os.Getenv("JWT_SECRET_KEY")
	if JWTSecret == "" && !IsProduction {
		JWTSecret = "dev-insecure-secret"
	}
	AccessTokenTTLMinutes = atoiOr(os.Getenv("ACCESS_TOKEN_TTL_MINUTES"), 60*24)

	Port = os.Getenv("PORT")
	if Port == "" {
		Port = "8000"
	}

	DBDriver = strings.ToLower(strOr(os.Getenv("DB_DRIVER"), "sqlite"))
	DBDSN = strOr(os.Getenv("DB_DSN"), "roomchat.db?_foreign_keys=1")

	LogLevel = strOr(os.Getenv("LOG_LEVEL"), "info")
	LogFormat = strOr(os.Getenv("LOG_FORMAT"), "json")

	CORSAllowedOrigins = splitList(strOr(os.Getenv("CORS_ALLOWED_ORIGINS"), "http://localhost:3000,http://127.0.0.1:3000"))

	RateLimitWindowSeconds = atoiOr(os.Getenv("RATE_LIMIT_WINDOW_SECONDS"), 10)
	RateLimitCapacity = atoiOr(os.Getenv("RATE_LIMIT_CAPACITY"), 20)
	UserSessionLimit = atoiOr(os.Getenv("USER_SESSION_LIMIT"), 8)

	WSAllowAnonymous = boolOr(os.Getenv("WS_ALLOW_ANONYMOUS"), false)
	WSEnforceMembership = boolOr(os.Getenv("WS_ENFORCE_MEMBERSHIP"), true)
	WSSendBuffer = atoiOr(os.Getenv("WS_SEND_BUFFER"), 256)
	WSMaxMessageBytes = atoiOr(os.Getenv("WS_MAX_MESSAGE_BYTES"), 64<<10)

	PersistQueueSize = atoiOr(os.Getenv("PERSIST_QUEUE_SIZE"), 1024)
	PersistWorkers = atoiOr(os.Getenv("PERSIST_WORKERS"), 4)
	PersistTimeoutSeconds = atoiOr(os.Getenv("PERSIST_TIMEOUT_SECONDS"), 5)
	BreakerFailureThreshold = atoiOr(os.Getenv("BREAKER_FAILURE_THRESHOLD"), 5)
	BreakerOpenSeconds = atoiOr(os.Getenv("BREAKER_OPEN_SECONDS"), 30)

	UserCacheTTLSeconds = atoiOr(os.Getenv("USER_CACHE_TTL_SECONDS"), 300)
	UserCacheMaxItems = atoiOr(os.Getenv("USER_CACHE_MAX_ITEMS"), 1000)

	if IsProduction && JWTSecret == "" {
		logging.Fatal().Msg("[config] JWT_SECRET_KEY must be set in production")
	}

	logging.Info().
		Str("app_env", AppEnv).
		Str("db_driver", DBDriver).
		Bool("ws_allow_anonymous", WSAllowAnonymous).
		Bool("ws_enforce_membership", WSEnforceMembership).
		Int("persist_workers", PersistWorkers).
		Int("persist_queue", PersistQueueSize).
		Msg("[config] loaded")
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return v
	}
	return def
}

func boolOr(s string, def bool) bool {
	if s == "" {
		return def
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
		return v
	}
	return def
}

func strOr(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return strings.TrimSpace(s)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
