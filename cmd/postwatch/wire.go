package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"postwatch/internal/config"
	"postwatch/internal/normalize"
	"postwatch/internal/notify"
	"postwatch/internal/probe"
	"postwatch/internal/scheduler"
	"postwatch/internal/source"
	"postwatch/internal/storage"
)

// app holds the wired components of one process.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	scanner *scheduler.Scanner
	store   storage.SeenStore
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("close store", "error", err)
	}
}

// buildApp loads configuration and wires the scanner. With dryRun the
// notifications are only logged and seen posts are kept in memory.
func buildApp(dryRun bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireSource(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.LogLevel)

	watches, err := config.LoadWatchlist(cfg.WatchlistPath)
	if err != nil {
		return nil, err
	}
	log.Info("loaded watchlist", "path", cfg.WatchlistPath, "accounts", len(watches))

	norm, err := normalize.Default()
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	var src source.PostSource
	if cfg.FeedURLTemplate != "" {
		src = source.NewFeedSource(httpClient, cfg.FeedURLTemplate)
		log.Info("using feed source", "template", cfg.FeedURLTemplate)
	} else {
		src = source.NewXClient(cfg.XBearerToken, source.WithHTTPClient(httpClient))
	}

	var notifier notify.Notifier
	var store storage.SeenStore
	if dryRun {
		notifier = notify.NewLog(log)
		store = storage.NewMemory()
	} else {
		if notifier, err = buildNotifier(cfg, httpClient, log); err != nil {
			return nil, err
		}
		if store, err = openStore(cfg.DatabasePath); err != nil {
			return nil, err
		}
	}

	scanner := scheduler.NewScanner(watches, src, store, notifier, probe.New(cfg.ProbeURL, httpClient), norm, log, scheduler.Options{
		MaxPostAge:            cfg.MaxPostAge,
		TimelineLimit:         cfg.TimelineLimit,
		StatusBaseURL:         cfg.StatusBaseURL,
		EmptyTriggersMatchAll: cfg.EmptyTriggersMatchAll,
	})

	return &app{cfg: cfg, log: log, scanner: scanner, store: store}, nil
}

func buildNotifier(cfg *config.Config, client *http.Client, log *slog.Logger) (notify.Notifier, error) {
	var channels []notify.Named
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, notify.Named{Name: "slack", Notifier: notify.NewSlack(cfg.SlackWebhookURL, client)})
	}
	if cfg.DiscordWebhookURL != "" {
		channels = append(channels, notify.Named{Name: "discord", Notifier: notify.NewDiscord(cfg.DiscordWebhookURL, client)})
	}
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			return nil, err
		}
		channels = append(channels, notify.Named{Name: "telegram", Notifier: tg})
	}
	if len(channels) == 0 {
		log.Warn("no notification channel configured, notifications are only logged")
		return notify.NewLog(log), nil
	}
	return notify.NewMulti(channels...), nil
}

func openStore(path string) (storage.SeenStore, error) {
	if path == "" || path == ":memory:" {
		return storage.NewMemory(), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	store, err := storage.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return store, nil
}
