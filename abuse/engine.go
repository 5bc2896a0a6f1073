package abuse

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"oraguard/config"
	"oraguard/notify"
	"oraguard/store"
)

// Engine is the single entry point of the abuse-detection path. It owns
// the in-memory per-user state and dispatches block/audit/notify side
// effects without ever blocking or failing the decision.
type Engine struct {
	clock    Clock
	cfg      *config.EngineConfig
	limiter  *RateLimiter
	streaks  *ViolationStreakTracker
	scorer   *SuspicionScorer
	bans     *BanStateMachine
	gate     *NotificationGate
	guard    *BlocklistGuard
	store    store.Store
	notifier notify.Notifier
}

// NewEngine wires the engine from configuration and its collaborators.
// A nil clock falls back to the system clock.
func NewEngine(cfg *config.EngineConfig, st store.Store, n notify.Notifier, clk Clock) *Engine {
	if clk == nil {
		clk = SystemClock()
	}
	if n == nil {
		n = notify.NopNotifier{}
	}

	// Suspicion state must outlive a full ban so lazy expiry can observe it.
	states := newStateStore(cfg.Suspicion.CacheSize, 2*cfg.Suspicion.BanDuration)

	var guard *BlocklistGuard
	if cfg.Blocklist.Enabled {
		guard = NewBlocklistGuard(st, cfg.Blocklist.CacheSize, cfg.Blocklist.CacheTTL)
	}

	return &Engine{
		clock:    clk,
		cfg:      cfg,
		limiter:  NewRateLimiter(cfg.RateLimit.Window, cfg.RateLimit.CacheSize),
		streaks:  NewViolationStreakTracker(cfg.Violations.Window, cfg.Violations.CacheSize),
		scorer:   NewSuspicionScorer(states, &cfg.Suspicion),
		bans:     NewBanStateMachine(states, &cfg.Suspicion),
		gate:     NewNotificationGate(cfg.Notifications.Cooldown, cfg.Notifications.CacheSize),
		guard:    guard,
		store:    st,
		notifier: n,
	}
}

// Evaluate decides whether one inbound chat message may proceed.
func (e *Engine) Evaluate(ctx context.Context, userID int64, message, targetKey string) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic recovered in abuse engine",
				"panic", r, "user_id", userID, "stack", string(debug.Stack()),
			)
			// Fail open: an internal fault must not lock out legitimate users.
			decision = allow()
		}
	}()

	now := e.clock.Now()

	if e.guard != nil && e.guard.IsBlocked(ctx, userID) {
		slog.Warn("Rejecting message from blocked account", "user_id", userID)
		return deny(msgAccountSuspended)
	}

	if banned, remaining := e.bans.Status(userID, now); banned {
		mins := MinutesRemaining(remaining)
		slog.Debug("Rejecting message from banned user", "user_id", userID, "minutes_remaining", mins)
		return Decision{Allowed: false, Reason: banMessage(mins), BannedMinutesRemaining: mins}
	}

	if !e.limiter.Allow(userID, now) {
		e.handleRateLimitViolation(ctx, userID, now)
		return deny(msgRateLimited)
	}

	e.streaks.Clear(userID)

	score := e.scorer.Score(userID, message, targetKey, now)
	if e.bans.RecordScore(userID, now) {
		e.handleFreshBan(ctx, userID, message, score, now)
		mins := MinutesRemaining(e.cfg.Suspicion.BanDuration)
		return Decision{Allowed: false, Reason: msgAccountSuspended, BannedMinutesRemaining: mins}
	}

	slog.Debug("Message accepted", "user_id", userID, "score", score)
	return allow()
}

// handleRateLimitViolation records the streak and, exactly once per
// streak (on equality with the threshold, not above it), raises a
// deduplicated admin alert plus an audit row.
func (e *Engine) handleRateLimitViolation(ctx context.Context, userID int64, now time.Time) {
	count := e.streaks.Record(userID, now)
	slog.Warn("Rate limit exceeded", "user_id", userID, "streak", count)

	if count != e.cfg.Violations.Threshold {
		return
	}

	e.dispatch(ctx, "audit_log", func(ctx context.Context) error {
		return e.store.AppendAuditLog(ctx, store.AuditEntry{
			UserID:          userID,
			ActivityType:    store.ActivityRateLimitAbuse,
			TriggerMessage:  fmt.Sprintf("連続違反 %d回", count),
			ResultedInBlock: false,
			CreatedAt:       now,
		})
	})

	if e.gate.ShouldSend(userID, EventRateLimitAbuse, now) {
		title, content := rateLimitAlert(userID, count, e.cfg.Violations.Window)
		e.dispatch(ctx, "notify", func(ctx context.Context) error {
			return e.notifier.Notify(ctx, title, content)
		})
	}
}

// handleFreshBan fires the one-shot side effects of a normal-to-banned
// transition: persist the block, append the audit row, and alert the
// admin through the cooldown gate.
func (e *Engine) handleFreshBan(ctx context.Context, userID int64, message string, score float64, now time.Time) {
	slog.Warn("Auto-blocking user for bot-like behavior",
		"user_id", userID,
		"score", score,
		"ban_duration", e.cfg.Suspicion.BanDuration)

	e.dispatch(ctx, "block_user", func(ctx context.Context) error {
		note := fmt.Sprintf("疑惑スコア %.1f / %.0f による自動停止", score, e.cfg.Suspicion.MaxScore)
		if err := e.store.BlockUser(ctx, userID, store.ReasonBotDetected, note); err != nil {
			return err
		}
		if e.guard != nil {
			e.guard.Invalidate(userID)
		}
		return nil
	})

	e.dispatch(ctx, "audit_log", func(ctx context.Context) error {
		return e.store.AppendAuditLog(ctx, store.AuditEntry{
			UserID:          userID,
			ActivityType:    store.ActivityBotDetected,
			SuspicionScore:  score,
			TriggerMessage:  message,
			ResultedInBlock: true,
			CreatedAt:       now,
		})
	})

	if e.gate.ShouldSend(userID, EventBotDetected, now) {
		title, content := botDetectedAlert(userID, score, message)
		e.dispatch(ctx, "notify", func(ctx context.Context) error {
			return e.notifier.Notify(ctx, title, content)
		})
	}
}

// dispatch runs a side effect on a detached goroutine with its own
// timeout. Failures are logged and never surface to the caller, so a
// notification failure cannot prevent a block from being recorded and
// vice versa.
func (e *Engine) dispatch(ctx context.Context, op string, fn func(context.Context) error) {
	timeout := e.cfg.SideEffects.DispatchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		opCtx, cancel := context.WithTimeout(detached, timeout)
		defer cancel()
		if err := fn(opCtx); err != nil {
			slog.Error("Abuse engine side effect failed", "op", op, "error", err)
		}
	}()
}

func botDetectedAlert(userID int64, score float64, message string) (title, content string) {
	title = "【不正利用検出】🤖 Bot検出"
	content = fmt.Sprintf(
		"Bot的な利用パターンを検出したため、アカウントを自動停止しました。\n\n【検出タイプ】\n🤖 Bot検出\n\n【ユーザー情報】\nユーザーID: %d\n\n【疑惑スコア】\n%.1f / 10\n\n【トリガーメッセージ】\n%s",
		userID, score, message,
	)
	return title, content
}

func rateLimitAlert(userID int64, count int, window time.Duration) (title, content string) {
	title = "【不正利用検出】⚠️ レート制限連続違反"
	content = fmt.Sprintf(
		"レート制限の連続違反を検出しました。\n\n【検出タイプ】\n⚠️ レート制限連続違反\n\n【ユーザー情報】\nユーザーID: %d\n\n【違反回数】\n%d回（%.0f分以内）",
		userID, count, window.Minutes(),
	)
	return title, content
}
