package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "serverbot/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	Timezone   string        // IANA TZ, e.g. "Europe/Berlin"; empty means Local
	JobTimeout time.Duration // per-run deadline; 0 means none
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	every         time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	// base is cancelled on Stop so in-flight runs see it.
	base   context.Context
	cancel context.CancelFunc
}

// Entry describes one registered schedule.
type Entry struct {
	Name          string
	Spec          string
	Next          time.Time
	Prev          time.Time
	StartupSpread time.Duration
}
