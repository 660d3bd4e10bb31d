// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary runs locally with no setup: in-memory storage,
// no platform credentials (Twitch probes disabled, YouTube content checks skipped) and a
// tenants.yaml next to the binary.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP
	HTTPAddr string

	// Storage
	StoreDriver string
	DBDsn       string
	RedisURL    string
	SQLitePath  string

	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	TwitchBotUsername  string
	TwitchOAuthToken   string
	// TwitchRefreshToken lets the bot token be refreshed instead of used as-is.
	TwitchRefreshToken string

	// EncryptionKey (base64, 32 bytes) seals stored tokens; empty stores them in the clear.
	EncryptionKey string

	// Telegram
	TelegramBotToken string

	// YouTube
	YTAPIKey       string
	YTClientID     string
	YTClientSecret string
	YTRefreshToken string

	// Tenants
	TenantsFile   string
	DefaultLocale string

	// Polling cadence
	PollInterval            time.Duration
	ContentCheckInterval    time.Duration
	IdleRecheckInterval     time.Duration
	PremiereRecheckInterval time.Duration
	QuotaResetSchedule      string
	PlatformRPS             float64
	ProbeTimeout            time.Duration
	NotifyCommitPolicy      string

	// Admin API
	AdminToken    string
	AdminUsername string
	AdminPassword string

	// Admin API rate limiting (mutating routes) and CORS
	RateLimitEnabled   bool
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	CORSPermissive     bool
	CORSAllowedOrigins []string
}

// Load reads environment variables and applies defaults. Missing credentials never fail;
// they disable the features that need them. Malformed durations and numbers do fail.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTPAddr = getenv("HTTP_ADDR", ":8080")

	cfg.StoreDriver = strings.ToLower(getenv("STORE_DRIVER", "memory"))
	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.SQLitePath = getenv("SQLITE_PATH", "data/notifier.db")

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchRefreshToken = os.Getenv("TWITCH_REFRESH_TOKEN")
	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	cfg.YTAPIKey = os.Getenv("YT_API_KEY")
	cfg.YTClientID = os.Getenv("YT_CLIENT_ID")
	cfg.YTClientSecret = os.Getenv("YT_CLIENT_SECRET")
	cfg.YTRefreshToken = os.Getenv("YT_REFRESH_TOKEN")

	cfg.TenantsFile = getenv("TENANTS_FILE", "tenants.yaml")
	cfg.DefaultLocale = strings.ToLower(getenv("DEFAULT_LOCALE", "en"))

	var err error
	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ContentCheckInterval, err = durationEnv("CONTENT_CHECK_INTERVAL", 20*time.Minute); err != nil {
		return nil, err
	}
	if cfg.IdleRecheckInterval, err = durationEnv("IDLE_RECHECK_INTERVAL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PremiereRecheckInterval, err = durationEnv("PREMIERE_RECHECK_INTERVAL", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ProbeTimeout, err = durationEnv("PROBE_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("invalid POLL_INTERVAL %s: must be positive", cfg.PollInterval)
	}
	cfg.QuotaResetSchedule = getenv("QUOTA_RESET_SCHEDULE", "CRON_TZ=UTC 0 0 * * *")

	cfg.PlatformRPS = 5
	if v := os.Getenv("PLATFORM_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid PLATFORM_RPS %q", v)
		}
		cfg.PlatformRPS = f
	}

	cfg.NotifyCommitPolicy = strings.ToLower(getenv("NOTIFY_COMMIT_POLICY", "at-most-once"))
	switch cfg.NotifyCommitPolicy {
	case "at-most-once", "at-least-once":
	default:
		return nil, fmt.Errorf("invalid NOTIFY_COMMIT_POLICY %q (want at-most-once or at-least-once)", cfg.NotifyCommitPolicy)
	}

	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	cfg.AdminUsername = os.Getenv("ADMIN_USERNAME")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")

	cfg.RateLimitEnabled = os.Getenv("RATE_LIMIT_ENABLED") != "0"
	cfg.RateLimitRequests = 10
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_REQUESTS_PER_IP")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_REQUESTS_PER_IP %q", v)
		}
		cfg.RateLimitRequests = n
	}
	if cfg.RateLimitWindow, err = durationEnv("RATE_LIMIT_WINDOW_SECONDS", time.Minute); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW_SECONDS %s: must be positive", cfg.RateLimitWindow)
	}

	// Permissive in dev, restricted otherwise unless CORS_PERMISSIVE says so.
	mode := strings.ToLower(os.Getenv("ENV"))
	cfg.CORSPermissive = mode == "" || mode == "dev" || mode == "development"
	if v := os.Getenv("CORS_PERMISSIVE"); v != "" {
		cfg.CORSPermissive = v == "1" || v == "true"
	}
	for _, origin := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}

	return cfg, nil
}

// TwitchHelixReady reports whether app-token credentials for Helix are configured.
func (c *Config) TwitchHelixReady() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != ""
}

// TwitchChatReady reports whether the bot can post to Twitch chat.
func (c *Config) TwitchChatReady() bool {
	return c.TwitchBotUsername != "" && (c.TwitchOAuthToken != "" || c.TwitchChatRefreshable())
}

// TwitchChatRefreshable reports whether the bot token can be refreshed with the app
// credentials.
func (c *Config) TwitchChatRefreshable() bool {
	return c.TwitchRefreshToken != "" && c.TwitchHelixReady()
}

// YouTubeDataReady reports whether any Data API credential is configured.
func (c *Config) YouTubeDataReady() bool {
	return c.YTAPIKey != "" || (c.YTClientID != "" && c.YTClientSecret != "" && c.YTRefreshToken != "")
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// durationEnv parses key with time.ParseDuration; a bare integer is taken as seconds.
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (duration): %w", key, err)
	}
	return d, nil
}
