package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func newTestCache(size int, ttl time.Duration) (*LRUCache[string], *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](size, ttl)
	c.now = clk.now
	return c, clk
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a")
	}
	c.Set("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Errorf("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Errorf("a should survive")
	}
	if s := c.Stats(); s.Evictions != 1 || s.Size != 2 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestLRUExpiry(t *testing.T) {
	c, clk := newTestCache(10, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	clk.t = clk.t.Add(30 * time.Second)
	c.Set("b", "2b") // refreshes TTL

	clk.t = clk.t.Add(45 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Errorf("a should be expired")
	}
	if v, ok := c.Get("b"); !ok || v != "2b" {
		t.Errorf("Get(b) = %q, %v", v, ok)
	}

	clk.t = clk.t.Add(time.Hour)
	if n := c.CleanExpired(); n != 1 {
		t.Errorf("CleanExpired() = %d, want 1", n)
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d", c.Size())
	}
}

func TestDeletePrefix(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	c.Set("user:a|rollup", "1")
	c.Set("user:a|entries", "2")
	c.Set("user:ab|rollup", "3")
	c.Set("user:b|rollup", "4")

	if n := c.DeletePrefix("user:a|"); n != 2 {
		t.Fatalf("DeletePrefix() = %d, want 2", n)
	}
	if _, ok := c.Get("user:ab|rollup"); !ok {
		t.Errorf("unrelated key removed")
	}
}

func TestLoaderCoalescesAndCaches(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	l := NewLoader[string](c)

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, _, err := l.Get(context.Background(), "k", fn); err != nil || v != "v" {
				t.Errorf("Get() = %q, %v", v, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("loader ran %d times, want 1", n)
	}
	if _, hit, _ := l.Get(context.Background(), "k", fn); !hit {
		t.Errorf("expected a cache hit")
	}
}

func TestLoaderDoesNotCacheErrors(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	l := NewLoader[string](c)
	boom := errors.New("boom")

	if _, _, err := l.Get(context.Background(), "k", func(context.Context) (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Fatalf("Get() error = %v", err)
	}
	if c.Size() != 0 {
		t.Fatalf("error result was cached")
	}
}

func TestLoaderInvalidateDropsInflightResult(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	l := NewLoader[string](c)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = l.Get(context.Background(), "user:a|rollup", func(context.Context) (string, error) {
			close(started)
			<-release
			return "stale", nil
		})
	}()

	<-started
	l.Invalidate("user:a|")
	close(release)
	<-done

	if _, ok := c.Get("user:a|rollup"); ok {
		t.Fatalf("stale in-flight result was cached after invalidation")
	}
}

// gatedCache parks Set until release is closed.
type gatedCache struct {
	*LRUCache[string]
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCache) Set(key, data string) {
	close(g.entered)
	<-g.release
	g.LRUCache.Set(key, data)
}

func TestLoaderInvalidateDuringStore(t *testing.T) {
	inner, _ := newTestCache(10, time.Minute)
	gc := &gatedCache{LRUCache: inner, entered: make(chan struct{}), release: make(chan struct{})}
	l := NewLoader[string](gc)

	loaded := make(chan struct{})
	go func() {
		defer close(loaded)
		_, _, _ = l.Get(context.Background(), "u1/rollup", func(context.Context) (string, error) {
			return "stale", nil
		})
	}()
	<-gc.entered

	invalidated := make(chan struct{})
	go func() {
		defer close(invalidated)
		l.Invalidate("u1/")
	}()

	select {
	case <-invalidated:
		t.Fatal("Invalidate returned while a store was in progress")
	case <-time.After(20 * time.Millisecond):
	}
	close(gc.release)
	<-loaded
	<-invalidated

	if v, ok := inner.Get("u1/rollup"); ok {
		t.Fatalf("stale value %q survived invalidation", v)
	}
}

func TestManager(t *testing.T) {
	c, clk := newTestCache(10, time.Second)
	c.Set("a", "1")
	clk.t = clk.t.Add(time.Minute)

	m := NewManager(nil)
	m.Register(c)
	if n := m.CleanNow(); n != 1 {
		t.Errorf("CleanNow() = %d, want 1", n)
	}

	m.StartCleanup(time.Millisecond)
	m.Stop()
	m.Stop()

	idle := NewManager(nil)
	idle.Stop()
}
