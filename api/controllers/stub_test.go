package controllers

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/joaquinreyes/atelier-backend/internal/engine"
	"github.com/joaquinreyes/atelier-backend/internal/remote"
	"github.com/joaquinreyes/atelier-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "controllers-test", Level: logger.ParseLevel("error"), Output: io.Discard})
}

type fakeCartSub struct {
	ch        chan remote.CartRecord
	closeOnce sync.Once
}

func newFakeCartSub() *fakeCartSub {
	return &fakeCartSub{ch: make(chan remote.CartRecord, 8)}
}

func (s *fakeCartSub) Snapshots() <-chan remote.CartRecord { return s.ch }
func (s *fakeCartSub) Err() error                          { return nil }
func (s *fakeCartSub) Close() error {
	s.closeOnce.Do(func() { close(s.ch) })
	return nil
}

type fakeWishlistSub struct {
	ch        chan remote.WishlistRecord
	closeOnce sync.Once
}

func newFakeWishlistSub() *fakeWishlistSub {
	return &fakeWishlistSub{ch: make(chan remote.WishlistRecord, 8)}
}

func (s *fakeWishlistSub) Snapshots() <-chan remote.WishlistRecord { return s.ch }
func (s *fakeWishlistSub) Err() error                              { return nil }
func (s *fakeWishlistSub) Close() error {
	s.closeOnce.Do(func() { close(s.ch) })
	return nil
}

// fakeStore is an in-memory record store without push delivery; the
// handlers under test only exercise loads, saves and the view surface.
type fakeStore struct {
	mu        sync.Mutex
	carts     map[string]remote.CartRecord
	wishlists map[string]remote.WishlistRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		carts:     map[string]remote.CartRecord{},
		wishlists: map[string]remote.WishlistRecord{},
	}
}

func (s *fakeStore) LoadCart(_ context.Context, userID string) (*remote.CartRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.carts[userID]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return &rec, nil
}

func (s *fakeStore) SaveCart(_ context.Context, userID string, rec remote.CartRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[userID] = rec
	return nil
}

func (s *fakeStore) WatchCart(context.Context, string) (remote.CartSubscription, error) {
	return newFakeCartSub(), nil
}

func (s *fakeStore) LoadWishlist(_ context.Context, userID string) (*remote.WishlistRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.wishlists[userID]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return &rec, nil
}

func (s *fakeStore) SaveWishlist(_ context.Context, userID string, rec remote.WishlistRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wishlists[userID] = rec
	return nil
}

func (s *fakeStore) WatchWishlist(context.Context, string) (remote.WishlistSubscription, error) {
	return newFakeWishlistSub(), nil
}

func newTestManager(t *testing.T) *engine.Manager {
	t.Helper()
	mgr, err := engine.NewManager(engine.ManagerParams{
		Store:          newFakeStore(),
		Logger:         testLogger(),
		DebounceWindow: time.Millisecond,
		MaxRetries:     1,
		RetryBackoff:   time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { mgr.Close(context.Background()) })
	return mgr
}
