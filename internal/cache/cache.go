package cache

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"ninja/internal/log"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	DeletePrefix(prefix string) int
	Size() int
}

// Loader fronts a Cache with request coalescing: concurrent misses on the
// same key run fn once and share its result.
type Loader[T any] struct {
	cache Cache[T]
	group singleflight.Group
	// gen is bumped by Invalidate so loads started earlier are not stored.
	gen atomic.Uint64
	// mu makes the generation check and the store one step with respect
	// to Invalidate.
	mu sync.RWMutex
}

func NewLoader[T any](c Cache[T]) *Loader[T] {
	return &Loader[T]{cache: c}
}

// Get returns the cached value for key or loads it with fn. Errors are not
// cached. The boolean reports a cache hit.
func (l *Loader[T]) Get(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, bool, error) {
	if v, ok := l.cache.Get(key); ok {
		return v, true, nil
	}
	gen := l.gen.Load()
	res, err, _ := l.group.Do(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return v, err
		}
		l.mu.RLock()
		if l.gen.Load() == gen {
			l.cache.Set(key, v)
		}
		l.mu.RUnlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return res.(T), false, nil
}

// Invalidate drops every key under prefix. Loads already in flight still
// return their result to their callers but do not repopulate the cache.
func (l *Loader[T]) Invalidate(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen.Add(1)
	return l.cache.DeletePrefix(prefix)
}

// Cleaner interface for caches that support cleanup
type Cleaner interface {
	CleanExpired() int
}

// Manager handles cache lifecycle and cleanup
type Manager struct {
	caches      []Cleaner
	logger      *log.Logger
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	startOnce   sync.Once
	stopOnce    sync.Once
	started     bool
}

func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentCache)
	}
	return &Manager{
		logger:      logger.WithComponent(log.ComponentCache),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Register adds a cache to the manager for cleanup. Call before StartCleanup.
func (m *Manager) Register(cache Cleaner) {
	m.caches = append(m.caches, cache)
}

// StartCleanup begins periodic cleanup of all registered caches
func (m *Manager) StartCleanup(interval time.Duration) {
	m.startOnce.Do(func() {
		m.started = true
		go m.cleanup(interval)
	})
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.CleanNow(); n > 0 {
				m.logger.Debug("Expired cache entries removed", log.FieldCount, n)
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// CleanNow runs one cleanup pass and returns the number of removed entries.
func (m *Manager) CleanNow() int {
	total := 0
	for _, c := range m.caches {
		total += c.CleanExpired()
	}
	return total
}

// Stop gracefully stops the cleanup routine. It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		// blocks a later StartCleanup and orders the read of started
		m.startOnce.Do(func() {})
		close(m.stopCleanup)
		if m.started {
			<-m.cleanupDone
		}
	})
}
