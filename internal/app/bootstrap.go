package app

import (
	"fmt"
	"strings"
	"time"

	"crosspost/internal/config"
	"crosspost/internal/content"
	"crosspost/internal/dispatch"
	"crosspost/internal/platforms"
	"crosspost/internal/poller"
	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

func mapLoggingConfig(cfg config.LoggingConfig) logx.Config {
	console := true
	if cfg.Console != nil {
		console = *cfg.Console
	}
	return logx.Config{
		Level:   cfg.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: cfg.File.Enabled,
			Path:    cfg.File.Path,
		},
	}
}

func mapStorageConfig(cfg config.StorageConfig) (storage.Config, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	busy, err := parseDurationOrDefault("storage.busy_timeout", cfg.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "sqlite", "sqlite3", "postgres", "postgresql":
		if strings.TrimSpace(cfg.Path) == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		return storage.Config{Driver: driver, Path: cfg.Path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", cfg.Driver)
	}
}

func mapDispatchConfig(cfg config.DispatchConfig) (dispatch.Config, error) {
	timeout, err := parseDurationOrDefault("dispatch.call_timeout", cfg.CallTimeout, 30*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{CallTimeout: timeout, RatePerSec: cfg.RatePerSec}, nil
}

func mapPollerConfig(cfg config.PollerConfig) (poller.Config, error) {
	interval, err := parseDurationOrDefault("poller.interval", cfg.Interval, 30*time.Second)
	if err != nil {
		return poller.Config{}, err
	}
	enabled := true
	if cfg.Enabled != nil {
		enabled = *cfg.Enabled
	}
	return poller.Config{Enabled: enabled, Interval: interval, Timezone: cfg.Timezone}, nil
}

func mapDestinations(dests []config.DestinationConfig) []content.Destination {
	out := make([]content.Destination, 0, len(dests))
	for _, d := range dests {
		out = append(out, content.Destination{
			ID:          content.DestinationID(d.ID),
			Platform:    content.PlatformKind(strings.ToLower(strings.TrimSpace(d.Platform))),
			DisplayName: d.DisplayName,
			TenantID:    d.Tenant,
		})
	}
	return out
}

func registerPlatforms(reg *platforms.Registry, cfg config.PlatformsConfig) error {
	if cfg.Telegram != nil {
		p, err := platforms.NewTelegram(platforms.TelegramConfig{Token: cfg.Telegram.Token})
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		reg.Register(p, cfg.Telegram.RatePerSec)
	}
	if cfg.Slack != nil {
		p, err := platforms.NewSlack(platforms.SlackConfig{Token: cfg.Slack.Token})
		if err != nil {
			return fmt.Errorf("slack: %w", err)
		}
		reg.Register(p, cfg.Slack.RatePerSec)
	}
	if cfg.Discord != nil {
		p, err := platforms.NewDiscord(platforms.DiscordConfig{})
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		reg.Register(p, cfg.Discord.RatePerSec)
	}
	if cfg.Webhook != nil {
		reg.Register(platforms.NewWebhook(platforms.WebhookConfig{Secret: cfg.Webhook.Secret}), cfg.Webhook.RatePerSec)
	}
	return nil
}

func parseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}
