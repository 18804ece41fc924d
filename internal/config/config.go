// Package config handles application configuration from environment variables
// and the watch-list file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	WatchlistPath string
	DatabasePath  string
	LogLevel      string

	MaxPostAge    time.Duration
	ScanInterval  time.Duration
	TimelineLimit int
	ProbeURL      string
	MetricsAddr   string

	XBearerToken    string
	FeedURLTemplate string
	StatusBaseURL   string

	SlackWebhookURL   string
	DiscordWebhookURL string
	TelegramBotToken  string
	TelegramChatID    int64

	EmptyTriggersMatchAll bool
}

// Load reads configuration from environment variables. All invalid values
// are reported together.
func Load() (*Config, error) {
	cfg := &Config{
		WatchlistPath:     envOrDefault("WATCHLIST_PATH", "./watchlist.yaml"),
		DatabasePath:      envOrDefault("DATABASE_PATH", "./data/postwatch.db"),
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		ProbeURL:          envOrDefault("PROBE_URL", "https://x.com"),
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
		XBearerToken:      os.Getenv("X_BEARER_TOKEN"),
		FeedURLTemplate:   os.Getenv("FEED_URL_TEMPLATE"),
		StatusBaseURL:     envOrDefault("STATUS_BASE_URL", "https://twitter.com"),
		SlackWebhookURL:   os.Getenv("SLACK_WEBHOOK_URL"),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		TelegramBotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	var errs []error
	var err error

	if cfg.MaxPostAge, err = durationEnv("MAX_POST_AGE", time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.ScanInterval, err = durationEnv("SCAN_INTERVAL", time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.TimelineLimit, err = intEnv("TIMELINE_LIMIT", 20); err != nil {
		errs = append(errs, err)
	}
	if raw := os.Getenv("EMPTY_TRIGGERS_MATCH_ALL"); raw != "" {
		if cfg.EmptyTriggersMatchAll, err = strconv.ParseBool(raw); err != nil {
			errs = append(errs, fmt.Errorf("invalid EMPTY_TRIGGERS_MATCH_ALL %q: %w", raw, err))
		}
	}
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		if cfg.TelegramChatID, err = strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err != nil {
			errs = append(errs, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", raw, err))
		}
	}

	if cfg.TelegramBotToken != "" && cfg.TelegramChatID == 0 {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required with TELEGRAM_BOT_TOKEN"))
	}
	if cfg.FeedURLTemplate != "" && strings.Count(cfg.FeedURLTemplate, "%s") != 1 {
		errs = append(errs, fmt.Errorf("FEED_URL_TEMPLATE %q must contain exactly one %%s", cfg.FeedURLTemplate))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// RequireSource checks that a post source is configured.
func (c *Config) RequireSource() error {
	if c.XBearerToken == "" && c.FeedURLTemplate == "" {
		return errors.New("X_BEARER_TOKEN or FEED_URL_TEMPLATE is required")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return n, nil
}
