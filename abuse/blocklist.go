package abuse

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"oraguard/store"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// BlocklistGuard answers "is this user already blocked in the store?"
// with a short-lived cache in front of the database. Concurrent lookups
// for the same user are collapsed into one store call.
type BlocklistGuard struct {
	store store.Store
	cache *lru.LRU[int64, bool]
	sf    singleflight.Group
}

func NewBlocklistGuard(s store.Store, cacheSize int, cacheTTL time.Duration) *BlocklistGuard {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &BlocklistGuard{
		store: s,
		cache: lru.NewLRU[int64, bool](cacheSize, nil, cacheTTL),
	}
}

// IsBlocked checks the persistent block flag. A store failure is logged
// and reported as not-blocked: the in-memory ban machinery still protects
// the system while the store is unavailable.
func (g *BlocklistGuard) IsBlocked(ctx context.Context, userID int64) bool {
	if blocked, ok := g.cache.Get(userID); ok {
		return blocked
	}

	v, err, _ := g.sf.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		if blocked, ok := g.cache.Get(userID); ok {
			return blocked, nil
		}
		blocked, err := g.store.IsUserBlocked(ctx, userID)
		if err != nil {
			return false, err
		}
		g.cache.Add(userID, blocked)
		return blocked, nil
	})

	if err != nil {
		slog.Error("Failed to check persistent block status", "user_id", userID, "error", err)
		return false
	}
	return v.(bool)
}

// Invalidate drops the cached verdict for a user, so a fresh block is
// visible before the cache TTL expires.
func (g *BlocklistGuard) Invalidate(userID int64) {
	g.cache.Remove(userID)
}
