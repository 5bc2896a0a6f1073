package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o600))
	return path
}

func TestLoad_MissingFileWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.toml")

	cfg, defaultsUsed, err := Load(path, true)
	require.NoError(t, err)
	require.True(t, defaultsUsed)

	require.Equal(t, 10*time.Second, cfg.Engine.RateLimit.Window)
	require.Equal(t, 10, cfg.Engine.Violations.Threshold)
	require.Equal(t, 5.0, cfg.Engine.Suspicion.BanScoreThreshold)
	require.Equal(t, time.Hour, cfg.Engine.Suspicion.BanDuration)
	require.Equal(t, time.Hour, cfg.Engine.Notifications.Cooldown)
}

func TestLoad_MissingFileWithoutDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.toml")

	_, _, err := Load(path, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "debug"

[database]
path = "/tmp/guard-db"

[engine.rate_limit]
window = "30s"

[engine.violations]
threshold = 5

[engine.suspicion]
ban_duration = "2h"
`)

	cfg, defaultsUsed, err := Load(path, false)
	require.NoError(t, err)
	require.False(t, defaultsUsed)

	require.Equal(t, DebugLevel, cfg.Log.Level)
	require.Equal(t, "/tmp/guard-db", cfg.DB.Path)
	require.Equal(t, 30*time.Second, cfg.Engine.RateLimit.Window)
	require.Equal(t, 5, cfg.Engine.Violations.Threshold)
	require.Equal(t, 2*time.Hour, cfg.Engine.Suspicion.BanDuration)

	// Untouched sections keep their defaults.
	require.Equal(t, time.Hour, cfg.Engine.Notifications.Cooldown)
}

func TestLoad_ValidationErrors(t *testing.T) {
	testCases := []struct {
		name    string
		text    string
		wantErr string
	}{
		{
			name:    "negative violation threshold",
			text:    "[engine.violations]\nthreshold = -5\n",
			wantErr: "engine.violations.threshold",
		},
		{
			name:    "ban threshold above max score",
			text:    "[engine.suspicion]\nban_score_threshold = 15.0\n",
			wantErr: "engine.suspicion.ban_score_threshold",
		},
		{
			name:    "notify enabled without webhook",
			text:    "[notify]\nenabled = true\n",
			wantErr: "notify.webhook_url",
		},
		{
			name:    "blocklist without ttl",
			text:    "[engine.blocklist]\nenabled = true\ncache_ttl = \"0s\"\n",
			wantErr: "engine.blocklist.cache_ttl",
		},
		{
			name:    "invalid log level",
			text:    "[log]\nlevel = \"loud\"\n",
			wantErr: "log.level",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.text)
			_, _, err := Load(path, false)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
