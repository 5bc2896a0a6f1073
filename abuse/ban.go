package abuse

import (
	"time"

	"oraguard/config"
)

// BanStateMachine wraps the per-user score and banned-since timestamp.
// A user is banned while bannedSince is set, the ban duration has not
// elapsed, and the score still sits at or above the threshold. Expiry is
// lazy: the next evaluation after the duration elapses treats the user
// as normal again and the scorer applies its post-ban decay.
type BanStateMachine struct {
	store *stateStore
	cfg   *config.SuspicionConfig
}

func NewBanStateMachine(store *stateStore, cfg *config.SuspicionConfig) *BanStateMachine {
	return &BanStateMachine{store: store, cfg: cfg}
}

// Status reports whether the user is currently banned and, if so, how
// long until the ban expires.
func (b *BanStateMachine) Status(userID int64, now time.Time) (banned bool, remaining time.Duration) {
	b.store.peek(userID, func(st *userState) {
		if st.bannedSince.IsZero() {
			return
		}
		elapsed := now.Sub(st.bannedSince)
		if elapsed >= b.cfg.BanDuration || st.score < b.cfg.BanScoreThreshold {
			return
		}
		banned = true
		remaining = b.cfg.BanDuration - elapsed
	})
	return banned, remaining
}

// RecordScore checks the post-update score against the ban threshold and
// activates a ban if crossed. It returns true only on the transition from
// normal to banned, so side effects fire exactly once per activation.
func (b *BanStateMachine) RecordScore(userID int64, now time.Time) (freshBan bool) {
	b.store.update(userID, func(st *userState) {
		if st.score >= b.cfg.BanScoreThreshold && st.bannedSince.IsZero() {
			st.bannedSince = now
			freshBan = true
		}
	})
	return freshBan
}

// MinutesRemaining converts a remaining duration to whole minutes,
// rounding up so the user is never told zero while still banned.
func MinutesRemaining(remaining time.Duration) int {
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Minute - 1) / time.Minute)
}
