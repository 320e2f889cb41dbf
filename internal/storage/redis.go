package storage

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "serverbot/pkg/logx"
)

const redisKeyPrefix = "serverbot:seen:"

// redisStore keeps each source's set in a hash: id -> seen_at (unix ms).
type redisStore struct {
	rdb *redis.Client
	log logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	u := strings.TrimSpace(cfg.RedisURL)
	if u == "" {
		return nil, errors.New("storage.redis_url is required for redis driver")
	}
	opts, err := redis.ParseURL(u)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return NewRedis(rdb, log), nil
}

// NewRedis wraps an existing client. The store owns it from here on.
func NewRedis(rdb *redis.Client, log logx.Logger) Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &redisStore{rdb: rdb, log: log}
}

func (s *redisStore) LoadSeen(ctx context.Context, source string) ([]SeenRecord, error) {
	m, err := s.rdb.HGetAll(ctx, redisKeyPrefix+source).Result()
	if err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	out := make([]SeenRecord, 0, len(m))
	for id, v := range m {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			ms = 0
		}
		out = append(out, SeenRecord{ID: id, SeenAt: time.UnixMilli(ms).UTC()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SeenAt.Equal(out[j].SeenAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SeenAt.Before(out[j].SeenAt)
	})
	return out, nil
}

// SaveSeen replaces the hash inside MULTI/EXEC.
func (s *redisStore) SaveSeen(ctx context.Context, source string, records []SeenRecord) error {
	key := redisKeyPrefix + source
	recs := normalize(records)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(recs) == 0 {
			return nil
		}
		vals := make(map[string]interface{}, len(recs))
		for _, r := range recs {
			vals[r.ID] = strconv.FormatInt(r.SeenAt.UnixMilli(), 10)
		}
		pipe.HSet(ctx, key, vals)
		return nil
	})
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	if err == nil {
		s.log.Trace("seen set saved", logx.String("source", source), logx.Int("count", len(recs)))
	}
	return err
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}
