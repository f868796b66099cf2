package config

// Config is the daemon configuration, loaded from a YAML or JSON file with
// strict decoding. Platform credentials can be supplied (or overridden) via
// environment variables so secrets stay out of the file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Poller    PollerConfig    `json:"poller"`
	Ops       OpsConfig       `json:"ops,omitempty"`
	Platforms PlatformsConfig `json:"platforms"`

	// Destinations is the connected-account directory for standalone runs.
	// Embedders replace it with their own directory implementation.
	Destinations []DestinationConfig `json:"destinations,omitempty"`
}

type DestinationConfig struct {
	ID          string `json:"id"`
	Platform    string `json:"platform"`
	DisplayName string `json:"display_name,omitempty"`
	Tenant      string `json:"tenant,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	// Driver: "memory", "sqlite" or "postgres".
	Driver string `json:"driver"`
	// Path is the database file (sqlite) or DSN (postgres).
	Path        string `json:"path,omitempty" env:"CROSSPOST_STORAGE_PATH"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type DispatchConfig struct {
	// CallTimeout bounds each per-destination publish call.
	CallTimeout string `json:"call_timeout,omitempty"`
	// RatePerSec throttles publish calls globally; per-platform limits are
	// configured on each platform block.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type PollerConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Interval is the due-record poll period. It is the scheduling-precision
	// knob: records fire within one interval of their due time.
	Interval string `json:"interval,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type OpsConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"`
}

type PlatformsConfig struct {
	Telegram *TelegramPlatform `json:"telegram,omitempty"`
	Slack    *SlackPlatform    `json:"slack,omitempty"`
	Discord  *DiscordPlatform  `json:"discord,omitempty"`
	Webhook  *WebhookPlatform  `json:"webhook,omitempty"`
}

type TelegramPlatform struct {
	Token      string `json:"token,omitempty" env:"CROSSPOST_TELEGRAM_TOKEN"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type SlackPlatform struct {
	Token      string `json:"token,omitempty" env:"CROSSPOST_SLACK_TOKEN"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type DiscordPlatform struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type WebhookPlatform struct {
	Secret     string `json:"secret,omitempty" env:"CROSSPOST_WEBHOOK_SECRET"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}
