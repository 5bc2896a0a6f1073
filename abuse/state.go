package abuse

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const historyCap = 10

// userState is the per-user suspicion record shared by the scorer and
// the ban state machine. All access goes through stateStore's lock.
type userState struct {
	messageCount     int
	recentMessages   []string
	recentTargets    []string
	recentTimestamps []time.Time
	score            float64
	bannedSince      time.Time // zero while not banned
}

// stateStore owns the bounded per-user suspicion map. The LRU size cap
// and TTL bound memory; correctness never depends on TTL eviction
// because every read re-checks its own windows against the clock.
type stateStore struct {
	mu     sync.Mutex
	states *lru.LRU[int64, *userState]
}

func newStateStore(cacheSize int, ttl time.Duration) *stateStore {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	return &stateStore{
		states: lru.NewLRU[int64, *userState](cacheSize, nil, ttl),
	}
}

// update runs fn with the user's state, creating it lazily on first use.
func (s *stateStore) update(userID int64, fn func(*userState)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states.Get(userID)
	if !ok {
		st = &userState{}
		s.states.Add(userID, st)
	}
	fn(st)
}

// peek runs fn with the user's state only if one exists.
func (s *stateStore) peek(userID int64, fn func(*userState)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.states.Get(userID); ok {
		fn(st)
	}
}
