package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"roomchat/pkg/cache"
)

const limiterIdle = 10 * time.Minute

var (
	rlMu     sync.Mutex
	limiters = cache.New[*rate.Limiter](10000)
	window   = 10 * time.Second
	capacity = 20

	slotMu    sync.Mutex
	userSlots = map[string]int{}
	slotLimit = 8
)

// SetRateLimitConfig allows capacity requests per window per user@ip and at
// most sessions live sessions per user. It resets existing limiters.
func SetRateLimitConfig(win time.Duration, cap, sessions int) {
	rlMu.Lock()
	window = win
	capacity = cap
	limiters = cache.New[*rate.Limiter](10000)
	rlMu.Unlock()

	slotMu.Lock()
	slotLimit = sessions
	slotMu.Unlock()
}

func clientIP(c *gin.Context) string {
	ip := strings.TrimSpace(c.ClientIP())
	if ip == "" {
		host, _, _ := net.SplitHostPort(strings.TrimSpace(c.Request.RemoteAddr))
		ip = host
	}
	return ip
}

func userKey(c *gin.Context) string {
	return CurrentUserID(c) + "@" + clientIP(c)
}

func limiterFor(key string) (*rate.Limiter, time.Duration) {
	rlMu.Lock()
	defer rlMu.Unlock()
	l, ok := limiters.Get(key)
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(capacity)/window.Seconds()), capacity)
	}
	// refresh idle expiry on every hit
	limiters.Set(key, l, limiterIdle)
	return l, window
}

// RateLimit allows a burst of capacity requests per user@ip, refilled over window.
func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		l, win := limiterFor(userKey(c))
		if !l.Allow() {
			c.Header("Retry-After", strconv.Itoa(int(win.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"msg": "too many requests"})
			return
		}
		c.Next()
	}
}

// AcquireSessionSlot reserves one live-session slot for uid without waiting.
// ok is false when the user is already at the limit.
func AcquireSessionSlot(uid string) (release func(), ok bool) {
	slotMu.Lock()
	defer slotMu.Unlock()
	if slotLimit > 0 && userSlots[uid] >= slotLimit {
		return func() {}, false
	}
	userSlots[uid]++

	var once sync.Once
	return func() {
		once.Do(func() {
			slotMu.Lock()
			defer slotMu.Unlock()
			if userSlots[uid] <= 1 {
				delete(userSlots, uid)
				return
			}
			userSlots[uid]--
		})
	}, true
}
