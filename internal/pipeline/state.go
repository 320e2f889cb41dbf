package pipeline

import (
	"sync"

	"serverbot/internal/aggregate"
)

// State holds everything the pipeline mutates between runs: the per-source
// seen sets and the aggregate grouper. It is built once at startup and
// injected; there is no package-level state.
type State struct {
	Groups *aggregate.Grouper

	mu    sync.RWMutex
	dedup map[SourceType]*Dedup
}

func NewState(groups *aggregate.Grouper) *State {
	return &State{Groups: groups, dedup: map[SourceType]*Dedup{}}
}

func (s *State) SetDedup(d *Dedup) {
	s.mu.Lock()
	s.dedup[d.Source()] = d
	s.mu.Unlock()
}

func (s *State) Dedup(src SourceType) (*Dedup, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dedup[src]
	return d, ok
}

func (s *State) all() []*Dedup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Dedup, 0, len(s.dedup))
	for _, d := range s.dedup {
		out = append(out, d)
	}
	return out
}
