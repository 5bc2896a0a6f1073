package abuse

import (
	"context"
	"testing"
	"time"

	"oraguard/config"
	"oraguard/store"
	"oraguard/testutils"

	"github.com/stretchr/testify/require"
)

func engineConfig() *config.EngineConfig {
	return &config.EngineConfig{
		RateLimit: config.RateLimitConfig{
			Window:    10 * time.Second,
			CacheSize: 100,
		},
		Violations: config.ViolationConfig{
			Window:    5 * time.Minute,
			Threshold: 10,
			CacheSize: 100,
		},
		Suspicion: config.SuspicionConfig{
			Window:               time.Minute,
			MaxMessagesPerWindow: 20,
			BanScoreThreshold:    5,
			MaxScore:             10,
			BanDuration:          time.Hour,
			CacheSize:            100,
		},
		Notifications: config.CooldownConfig{
			Cooldown:  time.Hour,
			CacheSize: 100,
		},
		// The persistent blocklist is exercised separately; most tests
		// drive the in-memory lifecycle only.
		Blocklist: config.BlocklistConfig{Enabled: false},
		SideEffects: config.SideEffectsConfig{
			DispatchTimeout: 5 * time.Second,
		},
	}
}

func newEngineForTest(cfg *config.EngineConfig) (*Engine, *testutils.MockStore, *testutils.MockNotifier, *testutils.FakeClock) {
	st := testutils.NewMockStore(16)
	n := testutils.NewMockNotifier(16)
	clk := testutils.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewEngine(cfg, st, n, clk), st, n, clk
}

func waitForBlock(t *testing.T, st *testutils.MockStore) int64 {
	t.Helper()
	select {
	case userID := <-st.BlockSignal:
		return userID
	case <-time.After(time.Second):
		t.Fatal("expected a block to be persisted")
		return 0
	}
}

func waitForNotification(t *testing.T, n *testutils.MockNotifier) testutils.Notification {
	t.Helper()
	select {
	case alert := <-n.Signal:
		return alert
	case <-time.After(time.Second):
		t.Fatal("expected an admin alert")
		return testutils.Notification{}
	}
}

func requireNoSignal[T any](t *testing.T, ch <-chan T, msg string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal(msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngine_AllowsCleanTraffic(t *testing.T) {
	engine, _, _, clk := newEngineForTest(engineConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := engine.Evaluate(ctx, 1, "今日の全体運を教えてください", "oracleA")
		require.True(t, d.Allowed, "message %d should pass", i)
		clk.Advance(15 * time.Second)
	}
}

func TestEngine_RateLimitWindow(t *testing.T) {
	engine, _, _, clk := newEngineForTest(engineConfig())
	ctx := context.Background()

	require.True(t, engine.Evaluate(ctx, 1, "おはようございます", "oracleA").Allowed)

	d := engine.Evaluate(ctx, 1, "おはようございます", "oracleA")
	require.False(t, d.Allowed)
	require.Equal(t, msgRateLimited, d.Reason)

	// Denials at 1s and 5s must not move the window.
	clk.Advance(time.Second)
	require.False(t, engine.Evaluate(ctx, 1, "おはようございます", "oracleA").Allowed)
	clk.Advance(4 * time.Second)
	require.False(t, engine.Evaluate(ctx, 1, "おはようございます", "oracleA").Allowed)

	clk.Advance(5 * time.Second)
	require.True(t, engine.Evaluate(ctx, 1, "おはようございます", "oracleA").Allowed,
		"eligible again one window after the original request")
}

func TestEngine_StreakResetPreventsNotification(t *testing.T) {
	engine, st, n, clk := newEngineForTest(engineConfig())
	ctx := context.Background()

	require.True(t, engine.Evaluate(ctx, 1, "相談があります", "oracleA").Allowed)

	for i := 0; i < 9; i++ {
		require.False(t, engine.Evaluate(ctx, 1, "相談があります", "oracleA").Allowed)
	}

	// One allowed request clears the streak.
	clk.Advance(10 * time.Second)
	require.True(t, engine.Evaluate(ctx, 1, "続きをお願いします", "oracleA").Allowed)

	for i := 0; i < 9; i++ {
		require.False(t, engine.Evaluate(ctx, 1, "続きをお願いします", "oracleA").Allowed)
	}

	requireNoSignal(t, n.Signal, "streak never reached the threshold uncleared; no alert may fire")
	requireNoSignal(t, st.AuditSignal, "no audit entry expected")
}

func TestEngine_StreakThresholdNotifiesExactlyOnce(t *testing.T) {
	engine, st, n, _ := newEngineForTest(engineConfig())
	ctx := context.Background()

	// The clock never advances, so every call after the first is denied.
	require.True(t, engine.Evaluate(ctx, 1, "お願いします", "oracleA").Allowed)

	for i := 0; i < 12; i++ {
		require.False(t, engine.Evaluate(ctx, 1, "お願いします", "oracleA").Allowed)
	}

	alert := waitForNotification(t, n)
	require.Contains(t, alert.Title, "レート制限")

	entry := <-st.AuditSignal
	require.Equal(t, store.ActivityRateLimitAbuse, entry.ActivityType)
	require.False(t, entry.ResultedInBlock)

	// Violations 11 and 12 are past the threshold, not on it.
	requireNoSignal(t, n.Signal, "only the violation that equals the threshold notifies")
	require.Equal(t, 1, n.Calls())
}

func TestEngine_BanLifecycle(t *testing.T) {
	engine, st, n, clk := newEngineForTest(engineConfig())
	ctx := context.Background()

	// "test" to the same oracle accumulates pattern and repetition
	// penalties; the fifth message crosses the ban threshold.
	var d Decision
	for i := 0; i < 5; i++ {
		d = engine.Evaluate(ctx, 42, "test", "oracleA")
		if i < 4 {
			require.True(t, d.Allowed, "message %d still below the threshold", i)
			clk.Advance(10 * time.Second)
		}
	}
	require.False(t, d.Allowed)
	require.Equal(t, msgAccountSuspended, d.Reason)
	require.Equal(t, 60, d.BannedMinutesRemaining)

	require.Equal(t, int64(42), waitForBlock(t, st))
	reason, ok := st.BlockedReason(42)
	require.True(t, ok)
	require.Equal(t, store.ReasonBotDetected, reason)

	alert := waitForNotification(t, n)
	require.Contains(t, alert.Title, "Bot検出")

	entry := <-st.AuditSignal
	require.Equal(t, store.ActivityBotDetected, entry.ActivityType)
	require.True(t, entry.ResultedInBlock)
	require.Equal(t, "test", entry.TriggerMessage)

	// Every request while banned is denied, with decreasing minutes.
	clk.Advance(30 * time.Minute)
	d = engine.Evaluate(ctx, 42, "もう一度お願いします", "oracleA")
	require.False(t, d.Allowed)
	require.Equal(t, 30, d.BannedMinutesRemaining)

	clk.Advance(29 * time.Minute)
	d = engine.Evaluate(ctx, 42, "もう一度お願いします", "oracleA")
	require.False(t, d.Allowed)
	require.Equal(t, 1, d.BannedMinutesRemaining)

	// Side effects fired exactly once for the whole ban.
	requireNoSignal(t, st.BlockSignal, "still-banned evaluations must not re-fire the block")
	require.Equal(t, 1, st.BlockCount())
	require.Equal(t, 1, n.Calls())

	// Past the duration the user is normal again and the decay applies.
	clk.Advance(2 * time.Minute)
	d = engine.Evaluate(ctx, 42, "その後の運勢はどうですか", "oracleA")
	require.True(t, d.Allowed)
}

func TestEngine_GradualSuspicionScenario(t *testing.T) {
	engine, st, _, clk := newEngineForTest(engineConfig())
	ctx := context.Background()

	messages := []string{"test", "test", "test1", "a", "b"}
	for i, msg := range messages[:4] {
		d := engine.Evaluate(ctx, 42, msg, "oracleA")
		require.True(t, d.Allowed, "message %d (%q) accumulates score but stays allowed", i, msg)
		clk.Advance(11 * time.Second)
	}

	d := engine.Evaluate(ctx, 42, messages[4], "oracleA")
	require.False(t, d.Allowed, "the fifth automated-looking message reaches the threshold")
	require.Equal(t, int64(42), waitForBlock(t, st))
}

func TestEngine_NotificationDedupAcrossBans(t *testing.T) {
	cfg := engineConfig()
	cfg.Suspicion.BanDuration = 10 * time.Minute
	engine, st, n, clk := newEngineForTest(cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		engine.Evaluate(ctx, 7, "test", "oracleA")
		clk.Advance(10 * time.Second)
	}
	require.Equal(t, int64(7), waitForBlock(t, st))
	waitForNotification(t, n)

	// Let the ban lapse, then cross the threshold again within the
	// notification cooldown.
	clk.Advance(10 * time.Minute)
	require.True(t, engine.Evaluate(ctx, 7, "これからの運勢を詳しく教えてください", "oracleA").Allowed,
		"post-ban decay drops the score below the threshold")

	clk.Advance(10 * time.Second)
	d := engine.Evaluate(ctx, 7, "12345", "oracleA")
	require.False(t, d.Allowed, "one more automated message re-crosses the threshold")

	require.Equal(t, int64(7), waitForBlock(t, st), "each activation persists the block")
	requireNoSignal(t, n.Signal, "second crossing within the cooldown must not notify")
	require.Equal(t, 1, n.Calls())
}

func TestEngine_BlockedAccountGuard(t *testing.T) {
	cfg := engineConfig()
	cfg.Blocklist = config.BlocklistConfig{
		Enabled:   true,
		CacheSize: 100,
		CacheTTL:  time.Minute,
	}
	st := testutils.NewMockStore(16)
	n := testutils.NewMockNotifier(16)
	clk := testutils.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	engine := NewEngine(cfg, st, n, clk)
	ctx := context.Background()

	require.NoError(t, st.BlockUser(ctx, 5, store.ReasonManualBlock, "手動停止"))
	<-st.BlockSignal

	d := engine.Evaluate(ctx, 5, "占いをお願いします", "oracleA")
	require.False(t, d.Allowed)
	require.Equal(t, msgAccountSuspended, d.Reason)

	// An unrelated user is unaffected.
	require.True(t, engine.Evaluate(ctx, 6, "占いをお願いします", "oracleA").Allowed)
}

func TestEngine_StoreFailureDoesNotAffectDecision(t *testing.T) {
	engine, st, n, clk := newEngineForTest(engineConfig())
	ctx := context.Background()

	st.SetError(context.DeadlineExceeded)

	// The ban still activates in memory even though persistence fails.
	var d Decision
	for i := 0; i < 5; i++ {
		d = engine.Evaluate(ctx, 9, "test", "oracleA")
		clk.Advance(10 * time.Second)
	}
	require.False(t, d.Allowed)

	banned := engine.Evaluate(ctx, 9, "まだ使えますか", "oracleA")
	require.False(t, banned.Allowed, "in-memory ban holds while the store is down")

	waitForNotification(t, n)
	requireNoSignal(t, st.BlockSignal, "block persistence failed and only gets logged")
}
