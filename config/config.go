package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Log    LogConfig    `toml:"log"`
	DB     DBConfig     `toml:"database"`
	Notify NotifyConfig `toml:"notify"`
	Engine EngineConfig `toml:"engine"`
}

type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

func (l *LogLevel) UnmarshalText(text []byte) error {
	v := string(text)
	switch LogLevel(v) {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
		*l = LogLevel(v)
		return nil
	default:
		return fmt.Errorf("invalid log.level: %q (must be debug, info, warn, error)", v)
	}
}

func (l LogLevel) String() string { return string(l) }

func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type LogConfig struct {
	Level LogLevel `toml:"level"`
}

type DBConfig struct {
	Path string `toml:"path"`
}

// NotifyConfig configures the admin alert channel. When disabled, alerts
// are dropped and only the audit log records detections.
type NotifyConfig struct {
	Enabled    bool          `toml:"enabled"`
	WebhookURL string        `toml:"webhook_url"`
	Timeout    time.Duration `toml:"timeout"`
}

type EngineConfig struct {
	RateLimit     RateLimitConfig   `toml:"rate_limit"`
	Violations    ViolationConfig   `toml:"violations"`
	Suspicion     SuspicionConfig   `toml:"suspicion"`
	Notifications CooldownConfig    `toml:"notifications"`
	Blocklist     BlocklistConfig   `toml:"blocklist"`
	SideEffects   SideEffectsConfig `toml:"side_effects"`
}

// RateLimitConfig enforces a minimum interval between messages per user.
type RateLimitConfig struct {
	Window    time.Duration `toml:"window"`
	CacheSize int           `toml:"cache_size"`
}

// ViolationConfig tracks consecutive rate-limit rejections.
type ViolationConfig struct {
	Window    time.Duration `toml:"window"`
	Threshold int           `toml:"threshold"`
	CacheSize int           `toml:"cache_size"`
}

// SuspicionConfig tunes the bot-behavior scorer and the ban lifecycle.
type SuspicionConfig struct {
	Window               time.Duration `toml:"window"`
	MaxMessagesPerWindow int           `toml:"max_messages_per_window"`
	BanScoreThreshold    float64       `toml:"ban_score_threshold"`
	MaxScore             float64       `toml:"max_score"`
	BanDuration          time.Duration `toml:"ban_duration"`
	CacheSize            int           `toml:"cache_size"`
}

// CooldownConfig deduplicates admin alerts per (user, event type).
type CooldownConfig struct {
	Cooldown  time.Duration `toml:"cooldown"`
	CacheSize int           `toml:"cache_size"`
}

// BlocklistConfig controls the persistent-block lookup that runs before
// any in-memory checks.
type BlocklistConfig struct {
	Enabled   bool          `toml:"enabled"`
	CacheSize int           `toml:"cache_size"`
	CacheTTL  time.Duration `toml:"cache_ttl"`
}

type SideEffectsConfig struct {
	// DispatchTimeout bounds each detached block/audit/notify call.
	DispatchTimeout time.Duration `toml:"dispatch_timeout"`
}

func defaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: InfoLevel,
		},
		DB: DBConfig{
			Path: "./oraguard-db",
		},
		Notify: NotifyConfig{
			Enabled: false,
			Timeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			RateLimit: RateLimitConfig{
				Window:    10 * time.Second,
				CacheSize: 1000,
			},
			Violations: ViolationConfig{
				Window:    5 * time.Minute,
				Threshold: 10,
				CacheSize: 1000,
			},
			Suspicion: SuspicionConfig{
				Window:               time.Minute,
				MaxMessagesPerWindow: 20,
				BanScoreThreshold:    5,
				MaxScore:             10,
				BanDuration:          time.Hour,
				CacheSize:            1000,
			},
			Notifications: CooldownConfig{
				Cooldown:  time.Hour,
				CacheSize: 1000,
			},
			Blocklist: BlocklistConfig{
				Enabled:   true,
				CacheSize: 8192,
				CacheTTL:  5 * time.Minute,
			},
			SideEffects: SideEffectsConfig{
				DispatchTimeout: 5 * time.Second,
			},
		},
	}
}

func (c *Config) validate() error {
	// --- [database] ---
	if c.DB.Path == "" {
		return errors.New("database.path must not be empty")
	}

	// --- [notify] ---
	if c.Notify.Enabled {
		if c.Notify.WebhookURL == "" {
			return errors.New("notify.webhook_url must be set when notify is enabled")
		}
		if c.Notify.Timeout <= 0 {
			return errors.New("notify.timeout must be a positive duration")
		}
	}

	// --- [engine.rate_limit] ---
	rl := c.Engine.RateLimit
	if rl.Window <= 0 {
		return errors.New("engine.rate_limit.window must be a positive duration (e.g., '10s')")
	}
	if rl.CacheSize <= 0 {
		return errors.New("engine.rate_limit.cache_size must be positive")
	}

	// --- [engine.violations] ---
	vi := c.Engine.Violations
	if vi.Window <= 0 {
		return errors.New("engine.violations.window must be a positive duration")
	}
	if vi.Threshold <= 0 {
		return errors.New("engine.violations.threshold must be > 0")
	}
	if vi.CacheSize <= 0 {
		return errors.New("engine.violations.cache_size must be positive")
	}

	// --- [engine.suspicion] ---
	su := c.Engine.Suspicion
	if su.Window <= 0 {
		return errors.New("engine.suspicion.window must be a positive duration")
	}
	if su.MaxMessagesPerWindow <= 0 {
		return errors.New("engine.suspicion.max_messages_per_window must be > 0")
	}
	if su.MaxScore <= 0 {
		return errors.New("engine.suspicion.max_score must be > 0")
	}
	if su.BanScoreThreshold <= 0 || su.BanScoreThreshold > su.MaxScore {
		return fmt.Errorf("engine.suspicion.ban_score_threshold must be in (0, %g]", su.MaxScore)
	}
	if su.BanDuration <= 0 {
		return errors.New("engine.suspicion.ban_duration must be a positive duration (e.g., '1h')")
	}
	if su.CacheSize <= 0 {
		return errors.New("engine.suspicion.cache_size must be positive")
	}

	// --- [engine.notifications] ---
	no := c.Engine.Notifications
	if no.Cooldown <= 0 {
		return errors.New("engine.notifications.cooldown must be a positive duration")
	}
	if no.CacheSize <= 0 {
		return errors.New("engine.notifications.cache_size must be positive")
	}

	// --- [engine.blocklist] ---
	bl := c.Engine.Blocklist
	if bl.Enabled {
		if bl.CacheSize <= 0 {
			return errors.New("engine.blocklist.cache_size must be positive")
		}
		if bl.CacheTTL <= 0 {
			return errors.New("engine.blocklist.cache_ttl must be a positive duration")
		}
	}

	// --- [engine.side_effects] ---
	if c.Engine.SideEffects.DispatchTimeout <= 0 {
		return errors.New("engine.side_effects.dispatch_timeout must be a positive duration")
	}

	return nil
}

func Load(path string, useDefaults bool) (*Config, bool, error) {
	cfg := defaultConfig()
	defaultsUsed := false

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if useDefaults {
				defaultsUsed = true
				if err := cfg.validate(); err != nil {
					return nil, true, err
				}
				return cfg, defaultsUsed, nil
			}
			return nil, false, fmt.Errorf("config file not found at %s", path)
		}
		return nil, false, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	return cfg, defaultsUsed, nil
}
