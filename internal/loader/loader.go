// Package loader reads the bundled sample dataset once and serves the
// validated, normalized result from an explicit cache.
package loader

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/jmerrifield20/hostscope/internal/dataset"
	"github.com/jmerrifield20/hostscope/internal/normalize"
)

// State is the cached output of a load.
type State struct {
	Dataset    *dataset.Dataset
	Normalized []*normalize.Host
	Issues     []dataset.HostIssue
}

// Cache holds at most one loaded State. The zero value is empty and ready
// to use.
type Cache struct {
	mu       sync.Mutex
	state    *State
	loadedAt time.Time
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{}
}

// Reset drops the cached state so the next load reads the file again.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = nil
	c.loadedAt = time.Time{}
}

// LoadedAt reports when the cached state was populated. ok is false when
// the cache is empty.
func (c *Cache) LoadedAt() (t time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadedAt, c.state != nil
}

// Loader loads the sample dataset from disk through a Cache.
type Loader struct {
	path      string
	validator *dataset.Validator
	cache     *Cache
	clock     clockwork.Clock
	logger    *zap.Logger
}

// New creates a Loader for the dataset at path. A nil cache gets a private
// one.
func New(path string, cache *Cache, logger *zap.Logger) *Loader {
	if cache == nil {
		cache = NewCache()
	}
	return &Loader{
		path:      path,
		validator: dataset.NewValidator(logger),
		cache:     cache,
		clock:     clockwork.NewRealClock(),
		logger:    logger,
	}
}

// SetClock replaces the clock used to stamp loads.
func (l *Loader) SetClock(c clockwork.Clock) {
	l.clock = c
}

// Path returns the dataset file path.
func (l *Loader) Path() string { return l.path }

// State returns the cached state, loading it on first use. Concurrent
// callers share one load. A failed load is not cached.
func (l *Loader) State(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.cache.mu.Lock()
	defer l.cache.mu.Unlock()
	if l.cache.state != nil {
		return l.cache.state, nil
	}

	st, err := l.load()
	if err != nil {
		return nil, err
	}
	l.cache.state = st
	l.cache.loadedAt = l.clock.Now()
	return st, nil
}

// Dataset returns the validated document.
func (l *Loader) Dataset(ctx context.Context) (*dataset.Dataset, error) {
	st, err := l.State(ctx)
	if err != nil {
		return nil, err
	}
	return st.Dataset, nil
}

// Hosts returns the validated host records.
func (l *Loader) Hosts(ctx context.Context) ([]dataset.Host, error) {
	st, err := l.State(ctx)
	if err != nil {
		return nil, err
	}
	return st.Dataset.Hosts, nil
}

// Normalized returns the normalized hosts.
func (l *Loader) Normalized(ctx context.Context) ([]*normalize.Host, error) {
	st, err := l.State(ctx)
	if err != nil {
		return nil, err
	}
	return st.Normalized, nil
}

// Issues returns the per-host validation issues from the load.
func (l *Loader) Issues(ctx context.Context) ([]dataset.HostIssue, error) {
	st, err := l.State(ctx)
	if err != nil {
		return nil, err
	}
	return st.Issues, nil
}

func (l *Loader) load() (*State, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read hosts dataset: %w", err)
	}

	res, err := l.validator.Validate(raw)
	if err != nil {
		return nil, fmt.Errorf("load hosts dataset %s: %w", l.path, err)
	}

	l.logger.Info("hosts dataset loaded",
		zap.String("path", l.path),
		zap.Int("hosts", len(res.Dataset.Hosts)),
		zap.Int("issues", len(res.Issues)),
	)

	return &State{
		Dataset:    res.Dataset,
		Normalized: normalize.FromDataset(res.Dataset),
		Issues:     res.Issues,
	}, nil
}
