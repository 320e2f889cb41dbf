package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "serverbot/pkg/logx"
)

// fileStore keeps one JSON file per source:
//
//	<dir>/<source>.seen.json  [{"id":"...","seen_at":"..."}, ...]
//
// Older files holding a plain array of id strings are still accepted on load.
// Writes go to a temp file and are renamed into place.
type fileStore struct {
	dir string
	log logx.Logger

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{dir: dir, log: log}, nil
}

func (s *fileStore) path(source string) string {
	return filepath.Join(s.dir, sanitizeSource(source)+".seen.json")
}

func (s *fileStore) LoadSeen(ctx context.Context, source string) ([]SeenRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	b, err := os.ReadFile(s.path(source))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	legacyAt := time.Now().UTC()
	if fi, err := os.Stat(s.path(source)); err == nil {
		legacyAt = fi.ModTime().UTC()
	}
	recs, err := decodeSeen(b, legacyAt)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path(source), err)
	}
	return normalize(recs), nil
}

func (s *fileStore) SaveSeen(ctx context.Context, source string, records []SeenRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	b, err := json.MarshalIndent(normalize(records), "", "  ")
	if err != nil {
		return err
	}
	dst := s.path(source)
	tmp := dst + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	s.log.Trace("seen set saved", logx.String("source", source), logx.Int("count", len(records)))
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// decodeSeen accepts the current record layout and the legacy plain id array.
// Legacy ids carry no time; they are stamped with legacyAt (the file's mtime)
// so a retention policy does not drop them on the first flush.
func decodeSeen(b []byte, legacyAt time.Time) ([]SeenRecord, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, nil
	}
	var recs []SeenRecord
	if err := json.Unmarshal(b, &recs); err == nil {
		return recs, nil
	}
	// Legacy layout: ["id1", 42, ...], strings or bare numbers.
	var ids []any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&ids); err != nil {
		return nil, err
	}
	recs = make([]SeenRecord, 0, len(ids))
	for _, v := range ids {
		switch id := v.(type) {
		case string:
			recs = append(recs, SeenRecord{ID: id, SeenAt: legacyAt})
		case json.Number:
			recs = append(recs, SeenRecord{ID: id.String(), SeenAt: legacyAt})
		}
	}
	return recs, nil
}

// sanitizeSource maps a source name onto a safe file name.
func sanitizeSource(source string) string {
	source = strings.TrimSpace(source)
	if source == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range source {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
