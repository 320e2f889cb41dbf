package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"serverbot/internal/task/scheduler"
)

// Source types known to the app. Keys of Config.Sources must be one of these.
const (
	SourceTraktRatings      = "trakt.ratings"
	SourceTraktFavorites    = "trakt.favorites"
	SourceTraktWeekly       = "trakt.weekly"
	SourceRetroAchievements = "retroachievements"
	SourceSonarr            = "sonarr"
	SourceRadarr            = "radarr"
	SourceWatchtower        = "watchtower"
)

type sourceKind int

const (
	kindPoll sourceKind = iota
	kindWebhook
)

type upstream int

const (
	upstreamNone upstream = iota
	upstreamTrakt
	upstreamRetro
)

type sourceDefault struct {
	kind     sourceKind
	upstream upstream
	schedule string
	dailyAt  string
	horizon  time.Duration
	// retention applies when dedup_retention is unset. Watchtower ids hash
	// the message text, so identical reports need to age out.
	retention time.Duration
}

var sourceDefaults = map[string]sourceDefault{
	SourceTraktRatings:      {kind: kindPoll, upstream: upstreamTrakt, schedule: "0 * * * *", horizon: 60 * time.Minute},
	SourceTraktFavorites:    {kind: kindPoll, upstream: upstreamTrakt, schedule: "0 * * * *", horizon: 24 * time.Hour},
	SourceTraktWeekly:       {kind: kindPoll, upstream: upstreamTrakt, dailyAt: "09:00", horizon: 7 * 24 * time.Hour},
	SourceRetroAchievements: {kind: kindPoll, upstream: upstreamRetro, schedule: "*/10 * * * *", horizon: 60 * time.Minute},
	SourceSonarr:            {kind: kindWebhook},
	SourceRadarr:            {kind: kindWebhook},
	SourceWatchtower:        {kind: kindWebhook, retention: 24 * time.Hour},
}

// IsWebhookSource reports whether typ is fed by the webhook server.
func IsWebhookSource(typ string) bool {
	d, ok := sourceDefaults[typ]
	return ok && d.kind == kindWebhook
}

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	c.Telegram.SendTimeout = orDefault(c.Telegram.SendTimeout, 15*time.Second)

	if c.Delivery.QueueSize <= 0 {
		c.Delivery.QueueSize = 256
	}
	c.Delivery.MinInterval = orDefault(c.Delivery.MinInterval, time.Second)
	if c.Delivery.PerMinute <= 0 {
		c.Delivery.PerMinute = 20
	}
	if c.Delivery.GroupCapacity <= 0 {
		c.Delivery.GroupCapacity = 10
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		switch c.Storage.Driver {
		case "file":
			c.Storage.Path = "./data"
		case "sqlite", "sqlite3":
			c.Storage.Path = "./data/serverbot.db"
		}
	}

	c.Scheduler.JobTimeout = orDefault(c.Scheduler.JobTimeout, 5*time.Minute)

	if strings.TrimSpace(c.Webhook.Addr) == "" {
		c.Webhook.Addr = ":8080"
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		c.Webhook.MaxBodyBytes = 1 << 20
	}
	c.Webhook.ProcessTimeout = orDefault(c.Webhook.ProcessTimeout, 2*time.Minute)

	c.Trakt.Timeout = orDefault(c.Trakt.Timeout, 15*time.Second)

	c.RetroAchievements.Timeout = orDefault(c.RetroAchievements.Timeout, 15*time.Second)
	if strings.TrimSpace(c.RetroAchievements.Target) == "" {
		c.RetroAchievements.Target = c.RetroAchievements.Username
	}

	for typ, sc := range c.Sources {
		def, ok := sourceDefaults[typ]
		if !ok {
			continue
		}
		if def.kind == kindPoll && strings.TrimSpace(sc.Schedule) == "" && strings.TrimSpace(sc.DailyAt) == "" {
			if def.dailyAt != "" {
				sc.DailyAt = def.dailyAt
			} else {
				sc.Schedule = def.schedule
			}
		}
		if sc.Horizon <= 0 {
			sc.Horizon = Duration(def.horizon)
		}
		if sc.DedupRetention <= 0 {
			sc.DedupRetention = Duration(def.retention)
		}
		if sc.MaxBatch <= 0 {
			sc.MaxBatch = 10
		}
		if sc.ChatID == 0 {
			sc.ChatID = c.Telegram.ChatID
			if sc.ThreadID == 0 {
				sc.ThreadID = c.Telegram.ThreadID
			}
		}
		c.Sources[typ] = sc
	}
}

// Validate checks a defaulted config. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token is required")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "text", "json":
	default:
		add("logging.format: must be text or json, got %q", c.Logging.Format)
	}

	switch c.Storage.Driver {
	case "file", "sqlite", "sqlite3", "memory":
	case "redis":
		if strings.TrimSpace(c.Storage.RedisURL) == "" {
			add("storage.redis_url is required for the redis driver")
		}
	default:
		add("storage.driver: unknown driver %q", c.Storage.Driver)
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}

	names := make([]string, 0, len(c.Sources))
	for typ := range c.Sources {
		names = append(names, typ)
	}
	sort.Strings(names)

	enabled := 0
	for _, typ := range names {
		sc := c.Sources[typ]
		def, ok := sourceDefaults[typ]
		if !ok {
			add("sources.%s: unknown source type", typ)
			continue
		}
		if !sc.Enabled {
			continue
		}
		enabled++
		if sc.ChatID == 0 {
			add("sources.%s: chat_id is required (or set telegram.chat_id)", typ)
		}
		if sc.MaxBatch < 0 {
			add("sources.%s: max_batch must be >= 0", typ)
		}
		if sc.DedupRetention > 0 && sc.DedupRetention < sc.Horizon {
			add("sources.%s: dedup_retention %s is shorter than horizon %s", typ, sc.DedupRetention.Std(), sc.Horizon.Std())
		}
		switch def.kind {
		case kindPoll:
			if at := strings.TrimSpace(sc.DailyAt); at != "" {
				if err := scheduler.ValidateDaily(at); err != nil {
					add("sources.%s.daily_at: %v", typ, err)
				}
			} else if err := scheduler.ValidateSchedule(sc.Schedule); err != nil {
				add("sources.%s.schedule: %v", typ, err)
			}
			switch def.upstream {
			case upstreamTrakt:
				if strings.TrimSpace(c.Trakt.ClientID) == "" || strings.TrimSpace(c.Trakt.Username) == "" {
					add("sources.%s: trakt.client_id and trakt.username are required", typ)
				}
			case upstreamRetro:
				if strings.TrimSpace(c.RetroAchievements.Username) == "" || strings.TrimSpace(c.RetroAchievements.APIKey) == "" {
					add("sources.%s: retroachievements.username and retroachievements.api_key are required", typ)
				}
			}
		case kindWebhook:
			if !c.Webhook.Enabled {
				add("sources.%s: webhook.enabled must be true for webhook sources", typ)
			}
		}
	}
	if enabled == 0 {
		add("no source enabled")
	}
	return errors.Join(errs...)
}
