package sweeper

import "sync"

type Totals struct {
	Passes   int64
	Expired  int64
	Offered  int64
	Unplaced int64
}

// Stats accumulates per-pass counts over the sweeper's lifetime.
type Stats struct {
	mu sync.Mutex
	t  Totals
}

func (s *Stats) record(p Pass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.Passes++
	s.t.Expired += int64(p.Expired)
	s.t.Offered += int64(p.Offered + p.Reoffered)
	s.t.Unplaced += int64(p.Unplaced)
}

func (s *Stats) Snapshot() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t
}
