package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "serverbot/pkg/logx"
)

// Open initializes the configured store. An empty driver defaults to "file".
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "redis":
		return openRedis(ctx, cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func normalize(records []SeenRecord) []SeenRecord {
	out := make([]SeenRecord, 0, len(records))
	idx := make(map[string]int, len(records))
	for _, r := range records {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			continue
		}
		if r.SeenAt.IsZero() {
			r.SeenAt = time.Unix(0, 0).UTC()
		}
		r.ID = id
		// Keep the earliest SeenAt for duplicates.
		if i, ok := idx[id]; ok {
			if r.SeenAt.Before(out[i].SeenAt) {
				out[i].SeenAt = r.SeenAt
			}
			continue
		}
		idx[id] = len(out)
		out = append(out, r)
	}
	return out
}
