package state

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/strainline/strainline/internal/candidate"
)

// maxRecent bounds the in-memory candidate ring; older candidates live in
// the archive.
const maxRecent = 100

// DetectorStatus is the latest known condition of one detector.
type DetectorStatus struct {
	Detector      string  `json:"detector"`
	StrainEndTime float64 `json:"strain_end_time"` // GPS end of last ingested strain
	VarianceRatio float64 `json:"variance_ratio"`  // latest noise variation ratio
	PSDVersion    uint64  `json:"psd_version"`
	Horizon       float64 `json:"horizon_mpc"` // BNS horizon distance
}

// Entry is a detector status together with the time it was last updated.
type Entry struct {
	Status    DetectorStatus
	UpdatedAt time.Time
}

// Store is a thread-safe in-memory status store, keyed by detector.
// A background goroutine (Run) periodically evicts entries that have not
// been updated within the configured TTL, so a detector that stops
// reporting drops out of the observing set.
type Store struct {
	mu     sync.RWMutex
	data   map[string]*Entry
	recent []*candidate.Record
	ttl    time.Duration
	now    func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Put stores or replaces the status for its detector.
func (s *Store) Put(st DetectorStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[st.Detector] = &Entry{
		Status:    st,
		UpdatedAt: s.now(),
	}
}

// Get returns the Entry for the given detector and whether one was found.
// The entry may be stale if TTL has elapsed.
func (s *Store) Get(detector string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[detector]
	return e, ok
}

// List returns all entries whose UpdatedAt is within the TTL. Stale entries
// that have not yet been evicted are excluded.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// TTL returns the configured entry lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Count returns the total number of entries currently held, including stale
// ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Horizons returns the BNS horizon distance per live detector, for the
// rate-based probability estimate. Detectors with no reported horizon are
// omitted.
func (s *Store) Horizons() map[string]float64 {
	out := make(map[string]float64)
	for _, e := range s.List() {
		if e.Status.Horizon > 0 {
			out[e.Status.Detector] = e.Status.Horizon
		}
	}
	return out
}

// RecordCandidate appends a published candidate to the recent ring.
func (s *Store) RecordCandidate(rec *candidate.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, rec)
	if len(s.recent) > maxRecent {
		s.recent = s.recent[len(s.recent)-maxRecent:]
	}
}

// RecentCandidates returns the ring contents, newest last.
func (s *Store) RecentCandidates() []*candidate.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*candidate.Record, len(s.recent))
	copy(out, s.recent)
	return out
}

// Evict removes entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for det, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, det)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// interval (minimum 1 second). Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("state: evicted stale detector entries", "count", n)
			}
		}
	}
}
