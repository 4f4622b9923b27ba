// Package store keeps uploaded datasets in memory for a bounded time so the
// selected dataset id can be carried across requests.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/jmerrifield20/hostscope/internal/dataset"
	"github.com/jmerrifield20/hostscope/internal/normalize"
)

// Defaults for a Store.
const (
	DefaultTTL      = 15 * time.Minute
	DefaultCapacity = 24
)

// Source records where a stored dataset came from.
type Source string

const (
	SourceSample Source = "sample"
	SourceUpload Source = "upload"
	SourceAPI    Source = "api"
	SourceOther  Source = "other"
)

// Entry is a stored dataset. Entries are never mutated after Save.
type Entry struct {
	ID         string
	Dataset    *dataset.Dataset
	Normalized []*normalize.Host
	CreatedAt  time.Time
	Source     Source
	Label      string

	seq uint64
}

// SaveInput is the payload for Save.
type SaveInput struct {
	Dataset    *dataset.Dataset
	Normalized []*normalize.Host
	Source     Source
	Label      string
}

// Config tunes a Store. Zero values select the defaults.
type Config struct {
	TTL      time.Duration
	Capacity int
	Clock    clockwork.Clock
}

// SizeRecorder is an optional callback invoked with the entry count after
// every mutation.
type SizeRecorder func(n int)

// Store is a process-wide, in-memory dataset map with TTL and capacity
// eviction. Expired entries are removed on every Save and on the Get that
// finds them.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	ttl      time.Duration
	capacity int
	clock    clockwork.Clock
	seq      uint64
	onSize   SizeRecorder
}

// New creates a Store.
func New(cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Store{
		entries:  make(map[string]*Entry),
		ttl:      cfg.TTL,
		capacity: cfg.Capacity,
		clock:    cfg.Clock,
	}
}

// SetSizeRecorder configures the size callback.
func (s *Store) SetSizeRecorder(fn SizeRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSize = fn
}

// Save prunes expired entries, evicts the oldest entries until there is room
// for one more, and stores in under a fresh opaque id.
func (s *Store) Save(in SaveInput) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.pruneExpired(now)
	s.evictOldest(s.capacity - 1)

	source := in.Source
	if source == "" {
		source = SourceOther
	}
	s.seq++
	id := uuid.NewString()
	s.entries[id] = &Entry{
		ID:         id,
		Dataset:    in.Dataset,
		Normalized: in.Normalized,
		CreatedAt:  now,
		Source:     source,
		Label:      in.Label,
		seq:        s.seq,
	}
	s.recordSize()
	return id
}

// Get returns the entry for id. An entry past its TTL is deleted and
// reported as missing.
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if s.expired(e, s.clock.Now()) {
		delete(s.entries, id)
		s.recordSize()
		return nil, false
	}
	return e, true
}

// Delete removes id if present.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	s.recordSize()
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
	s.recordSize()
}

// Len returns the number of entries held, including any not yet pruned.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// TTL returns the configured entry lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) expired(e *Entry, now time.Time) bool {
	return now.Sub(e.CreatedAt) > s.ttl
}

func (s *Store) pruneExpired(now time.Time) {
	for id, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, id)
		}
	}
}

// evictOldest removes oldest-created entries until at most keep remain.
func (s *Store) evictOldest(keep int) {
	if len(s.entries) <= keep {
		return
	}
	all := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].seq < all[j].seq
	})
	for _, e := range all[:len(all)-keep] {
		delete(s.entries, e.ID)
	}
}

func (s *Store) recordSize() {
	if s.onSize != nil {
		s.onSize(len(s.entries))
	}
}
