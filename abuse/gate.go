package abuse

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Event types for admin alerts. Keyed separately per user so a rate-limit
// alert does not suppress a bot-detection alert for the same account.
const (
	EventBotDetected    = "bot_detected"
	EventRateLimitAbuse = "rate_limit_abuse"
)

type gateKey struct {
	UserID int64
	Event  string
}

// NotificationGate deduplicates outbound admin alerts per (user, event
// type) using a cooldown window.
type NotificationGate struct {
	mu       sync.Mutex
	lastSent *lru.LRU[gateKey, time.Time]
	cooldown time.Duration
}

func NewNotificationGate(cooldown time.Duration, cacheSize int) *NotificationGate {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache := lru.NewLRU[gateKey, time.Time](cacheSize, nil, 2*cooldown)
	return &NotificationGate{
		lastSent: cache,
		cooldown: cooldown,
	}
}

// ShouldSend reports whether an alert may go out now. A true result
// records the send; a false result leaves the entry untouched.
func (g *NotificationGate) ShouldSend(userID int64, event string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := gateKey{UserID: userID, Event: event}
	if last, ok := g.lastSent.Get(key); ok && now.Sub(last) < g.cooldown {
		return false
	}
	g.lastSent.Add(key, now)
	return true
}
