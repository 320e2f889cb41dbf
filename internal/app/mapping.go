package app

import (
	"serverbot/internal/config"
	"serverbot/internal/delivery"
	"serverbot/internal/pipeline"
	"serverbot/internal/sources/retro"
	"serverbot/internal/sources/trakt"
	"serverbot/internal/storage"
	"serverbot/internal/task/scheduler"
	kit "serverbot/internal/transport"
	telegram "serverbot/internal/transport/telegram/adapter"
	"serverbot/internal/webhook"
	logx "serverbot/pkg/logx"
)

// The config package stays free of component types; these functions are the
// only place the two meet.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Console:  cfg.Logging.Console,
		Journald: cfg.Logging.Journald,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		RedisURL:    cfg.Storage.RedisURL,
		BusyTimeout: cfg.Storage.BusyTimeout.Std(),
	}
}

func mapTelegram(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		SendTimeout: cfg.Telegram.SendTimeout.Std(),
		APIURL:      cfg.Telegram.APIURL,
	}
}

func mapDelivery(cfg *config.Config) delivery.Config {
	return delivery.Config{
		QueueSize:   cfg.Delivery.QueueSize,
		MinInterval: cfg.Delivery.MinInterval.Std(),
		PerMinute:   cfg.Delivery.PerMinute,
		SendTimeout: cfg.Telegram.SendTimeout.Std(),
	}
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: cfg.Scheduler.Timezone, JobTimeout: cfg.Scheduler.JobTimeout.Std()}
}

func mapWebhook(cfg *config.Config) webhook.Config {
	return webhook.Config{
		Addr:           cfg.Webhook.Addr,
		MaxBodyBytes:   cfg.Webhook.MaxBodyBytes,
		ProcessTimeout: cfg.Webhook.ProcessTimeout.Std(),
	}
}

func mapTrakt(cfg *config.Config) trakt.Config {
	return trakt.Config{
		ClientID: cfg.Trakt.ClientID,
		Username: cfg.Trakt.Username,
		BaseURL:  cfg.Trakt.BaseURL,
		Timeout:  cfg.Trakt.Timeout.Std(),
	}
}

// mapRetro asks the API for exactly the source's horizon, so nothing older
// than the window is fetched.
func mapRetro(cfg *config.Config, sc config.SourceConfig) retro.Config {
	return retro.Config{
		Username: cfg.RetroAchievements.Username,
		APIKey:   cfg.RetroAchievements.APIKey,
		Target:   cfg.RetroAchievements.Target,
		Lookback: sc.Horizon.Std(),
		BaseURL:  cfg.RetroAchievements.BaseURL,
		Timeout:  cfg.RetroAchievements.Timeout.Std(),
	}
}

// mapSource fills the settings half of a pipeline.Source; the caller adds the
// fetcher and renderer.
func mapSource(typ string, sc config.SourceConfig) pipeline.Source {
	return pipeline.Source{
		Type:      pipeline.SourceType(typ),
		Horizon:   sc.Horizon.Std(),
		MaxBatch:  sc.MaxBatch,
		Retention: sc.DedupRetention.Std(),
		To:        kit.ChatTarget{ChatID: sc.ChatID, ThreadID: sc.ThreadID},
	}
}
