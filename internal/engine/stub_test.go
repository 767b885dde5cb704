package engine

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/joaquinreyes/atelier-backend/internal/localcache"
	"github.com/joaquinreyes/atelier-backend/internal/remote"
	"github.com/joaquinreyes/atelier-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "engine-test", Level: logger.ParseLevel("error"), Output: io.Discard})
}

// fakeClock is a manual clock. Advance moves time forward and fires due
// timers synchronously on the calling goroutine.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), fn: fn, active: true}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	deadline := c.now
	var due []func()
	for _, t := range c.timers {
		if t.active && !t.when.After(deadline) {
			t.active = false
			due = append(due, t.fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range due {
		fn()
	}
}

type fakeTimer struct {
	clock  *fakeClock
	when   time.Time
	fn     func()
	active bool
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := t.active
	t.when = t.clock.now.Add(d)
	t.active = true
	return wasActive
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := t.active
	t.active = false
	return wasActive
}

// fakeCartSub is a spy subscription counting Close calls.
type fakeCartSub struct {
	mu         sync.Mutex
	ch         chan remote.CartRecord
	err        error
	closeCalls int
}

func newFakeCartSub() *fakeCartSub {
	return &fakeCartSub{ch: make(chan remote.CartRecord, 8)}
}

func (s *fakeCartSub) Snapshots() <-chan remote.CartRecord { return s.ch }

func (s *fakeCartSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeCartSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if s.closeCalls == 1 {
		close(s.ch)
	}
	return nil
}

func (s *fakeCartSub) push(rec remote.CartRecord) { s.ch <- rec }

func (s *fakeCartSub) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

type fakeWishlistSub struct {
	mu         sync.Mutex
	ch         chan remote.WishlistRecord
	err        error
	closeCalls int
}

func newFakeWishlistSub() *fakeWishlistSub {
	return &fakeWishlistSub{ch: make(chan remote.WishlistRecord, 8)}
}

func (s *fakeWishlistSub) Snapshots() <-chan remote.WishlistRecord { return s.ch }

func (s *fakeWishlistSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeWishlistSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if s.closeCalls == 1 {
		close(s.ch)
	}
	return nil
}

func (s *fakeWishlistSub) push(rec remote.WishlistRecord) { s.ch <- rec }

func (s *fakeWishlistSub) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// fakeStore records every save and serves canned loads and spy subscriptions.
type fakeStore struct {
	mu sync.Mutex

	cartRecord     *remote.CartRecord
	wishlistRecord *remote.WishlistRecord
	loadErr        error
	saveErr        error
	watchErr       error

	cartSaves     []remote.CartRecord
	wishlistSaves []remote.WishlistRecord

	// Optional hooks for tests that need a save caught mid-flight: a save
	// signals cartSaveStarted (non-blocking) and then waits until
	// cartSaveGate is closed.
	cartSaveStarted     chan struct{}
	cartSaveGate        chan struct{}
	wishlistSaveStarted chan struct{}
	wishlistSaveGate    chan struct{}

	cartSub     *fakeCartSub
	wishlistSub *fakeWishlistSub
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cartSub:     newFakeCartSub(),
		wishlistSub: newFakeWishlistSub(),
	}
}

func (f *fakeStore) LoadCart(_ context.Context, _ string) (*remote.CartRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.cartRecord == nil {
		return nil, remote.ErrNotFound
	}
	rec := *f.cartRecord
	return &rec, nil
}

func (f *fakeStore) SaveCart(_ context.Context, _ string, rec remote.CartRecord) error {
	f.mu.Lock()
	started, gate := f.cartSaveStarted, f.cartSaveGate
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.cartSaves = append(f.cartSaves, rec)
	return nil
}

func (f *fakeStore) WatchCart(_ context.Context, _ string) (remote.CartSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	return f.cartSub, nil
}

func (f *fakeStore) LoadWishlist(_ context.Context, _ string) (*remote.WishlistRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.wishlistRecord == nil {
		return nil, remote.ErrNotFound
	}
	rec := *f.wishlistRecord
	return &rec, nil
}

func (f *fakeStore) SaveWishlist(_ context.Context, _ string, rec remote.WishlistRecord) error {
	f.mu.Lock()
	started, gate := f.wishlistSaveStarted, f.wishlistSaveGate
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.wishlistSaves = append(f.wishlistSaves, rec)
	return nil
}

func (f *fakeStore) WatchWishlist(_ context.Context, _ string) (remote.WishlistSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	return f.wishlistSub, nil
}

func (f *fakeStore) savedCarts() []remote.CartRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]remote.CartRecord, len(f.cartSaves))
	copy(out, f.cartSaves)
	return out
}

func (f *fakeStore) savedWishlists() []remote.WishlistRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]remote.WishlistRecord, len(f.wishlistSaves))
	copy(out, f.wishlistSaves)
	return out
}

func (f *fakeStore) setSaveErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveErr = err
}

// memoryCache is an in-memory localcache.Store for tests.
type memoryCache struct {
	mu        sync.Mutex
	entries   map[string][]byte
	deletes   []string
	deleteErr error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Put(_ context.Context, key string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.entries[key] = buf
	return nil
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.entries[key]
	if !ok {
		return nil, localcache.ErrMiss
	}
	return payload, nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return c.deleteErr
	}
	delete(c.entries, key)
	c.deletes = append(c.deletes, key)
	return nil
}

func (c *memoryCache) setDeleteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteErr = err
}

func (c *memoryCache) deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.deletes))
	copy(out, c.deletes)
	return out
}
