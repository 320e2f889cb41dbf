package config

// Config is the whole serverbot configuration file.
//
// Durations are Go duration strings ("500ms", "10m", "24h").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Webhook   WebhookConfig   `json:"webhook"`
	Trakt     TraktConfig     `json:"trakt"`
	Metrics   MetricsConfig   `json:"metrics"`

	RetroAchievements RetroAchievementsConfig `json:"retroachievements"`

	// Sources is keyed by source type ("trakt.ratings", "sonarr", ...).
	Sources map[string]SourceConfig `json:"sources"`
}

type LoggingConfig struct {
	Level    string      `json:"level"`
	Format   string      `json:"format,omitempty"` // text | json
	Console  bool        `json:"console"`
	Journald bool        `json:"journald,omitempty"`
	File     LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is the default destination; a source may override it.
	ChatID      int64    `json:"chat_id"`
	ThreadID    int      `json:"thread_id,omitempty"`
	SendTimeout Duration `json:"send_timeout,omitempty"`
	// APIURL targets a self-hosted Bot API server.
	APIURL string `json:"api_url,omitempty"`
}

// DeliveryConfig paces the single delivery consumer.
//
// Defaults:
//   - queue_size: 256
//   - min_interval: "1s"
//   - per_minute: 20
//   - group_capacity: 10
type DeliveryConfig struct {
	QueueSize     int      `json:"queue_size,omitempty"`
	MinInterval   Duration `json:"min_interval,omitempty"`
	PerMinute     int      `json:"per_minute,omitempty"`
	GroupCapacity int      `json:"group_capacity,omitempty"`
}

// StorageConfig selects the dedup backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/serverbot.db" }
type StorageConfig struct {
	Driver      string   `json:"driver"`
	Path        string   `json:"path,omitempty"`
	RedisURL    string   `json:"redis_url,omitempty"`
	BusyTimeout Duration `json:"busy_timeout,omitempty"` // sqlite
}

type SchedulerConfig struct {
	Timezone   string   `json:"timezone,omitempty"` // IANA TZ
	JobTimeout Duration `json:"job_timeout,omitempty"`
}

type WebhookConfig struct {
	Enabled        bool     `json:"enabled"`
	Addr           string   `json:"addr,omitempty"`
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`
	ProcessTimeout Duration `json:"process_timeout,omitempty"`
}

type TraktConfig struct {
	ClientID string   `json:"client_id"`
	Username string   `json:"username"`
	BaseURL  string   `json:"base_url,omitempty"`
	Timeout  Duration `json:"timeout,omitempty"`
}

// RetroAchievementsConfig holds the web API credentials. Target is the user
// whose unlocks are announced; it defaults to Username.
type RetroAchievementsConfig struct {
	Username string   `json:"username"`
	APIKey   string   `json:"api_key"`
	Target   string   `json:"target,omitempty"`
	BaseURL  string   `json:"base_url,omitempty"`
	Timeout  Duration `json:"timeout,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
	// Pprof exposes /debug/pprof on the webhook listener. Keep it off on
	// public addresses.
	Pprof bool `json:"pprof,omitempty"`
}

// SourceConfig holds the per-source pipeline settings.
//
// Poll sources run on Schedule, or once a day at DailyAt (HH:MM) when set.
// Webhook sources ignore both.
type SourceConfig struct {
	Enabled        bool     `json:"enabled"`
	Schedule       string   `json:"schedule,omitempty"`
	DailyAt        string   `json:"daily_at,omitempty"`
	Horizon        Duration `json:"horizon,omitempty"`
	MaxBatch       int      `json:"max_batch,omitempty"`
	DedupRetention Duration `json:"dedup_retention,omitempty"`
	ChatID         int64    `json:"chat_id,omitempty"`
	ThreadID       int      `json:"thread_id,omitempty"`
}
