package config

import (
	"reflect"
	"sort"

	logx "serverbot/pkg/logx"
)

// Change summarises a reload for the log.
type Change struct {
	// Sections lists the top-level keys that differ, sorted.
	Sections []string
	// Live is true when every changed section can be applied without a
	// restart (logging, scheduler timezone).
	Live bool
}

var liveSections = map[string]bool{"logging": true, "scheduler": true}

// Diff compares two configs section by section.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	pairs := map[string][2]any{
		"logging":   {oldCfg.Logging, newCfg.Logging},
		"telegram":  {oldCfg.Telegram, newCfg.Telegram},
		"delivery":  {oldCfg.Delivery, newCfg.Delivery},
		"storage":   {oldCfg.Storage, newCfg.Storage},
		"scheduler": {oldCfg.Scheduler, newCfg.Scheduler},
		"webhook":   {oldCfg.Webhook, newCfg.Webhook},
		"trakt":     {oldCfg.Trakt, newCfg.Trakt},
		"metrics":   {oldCfg.Metrics, newCfg.Metrics},
		"sources":   {oldCfg.Sources, newCfg.Sources},

		"retroachievements": {oldCfg.RetroAchievements, newCfg.RetroAchievements},
	}
	ch := Change{Live: true}
	for name, p := range pairs {
		if reflect.DeepEqual(p[0], p[1]) {
			continue
		}
		ch.Sections = append(ch.Sections, name)
		if !liveSections[name] {
			ch.Live = false
		}
	}
	sort.Strings(ch.Sections)
	return ch
}

// Fields returns log fields for a reload. Secrets are never included.
func (c Change) Fields(newCfg *Config) []logx.Field {
	fields := []logx.Field{logx.Any("changed", c.Sections), logx.Bool("live", c.Live)}
	if newCfg == nil {
		return fields
	}
	for _, s := range c.Sections {
		switch s {
		case "logging":
			fields = append(fields, logx.String("logging.level", newCfg.Logging.Level), logx.Bool("logging.file", newCfg.Logging.File.Enabled))
		case "scheduler":
			fields = append(fields, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
		case "telegram":
			fields = append(fields, logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""))
		}
	}
	return fields
}
