// Package pgstore implements the remote record store on Postgres. Records
// are whole-row upserts into jsonb columns; pushes arrive over LISTEN/NOTIFY
// triggers that fire on every write, so a writer hears its own echo like any
// other listener.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/joaquinreyes/atelier-backend/internal/remote"
	"github.com/joaquinreyes/atelier-backend/pkg/db"
	"github.com/joaquinreyes/atelier-backend/pkg/db/models"
	"github.com/joaquinreyes/atelier-backend/pkg/logger"
)

const (
	// Channel names match the trigger functions created by the migrations.
	CartChannel     = "atelier_cart_records"
	WishlistChannel = "atelier_wishlist_records"
)

// Notifications is the slice of *pq.Listener the dispatcher needs.
type Notifications interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// NewListener builds a pq listener with sane reconnect bounds.
func NewListener(dsn string, logg *logger.Logger) *pq.Listener {
	return pq.NewListener(dsn, time.Second, time.Minute, func(_ pq.ListenerEventType, err error) {
		if err != nil && logg != nil {
			logg.Warn(logg.WithField(context.Background(), "error", err.Error()), "postgres listener event")
		}
	})
}

// Store persists collection records in Postgres and fans NOTIFY events out
// to per-user subscriptions.
type Store struct {
	client *db.Client
	logg   *logger.Logger

	mu           sync.Mutex
	cartSubs     map[string]map[*cartSubscription]struct{}
	wishlistSubs map[string]map[*wishlistSubscription]struct{}
	listener     Notifications
	closed       bool
	dispatchDone chan struct{}
}

// New builds a Store and starts the NOTIFY dispatch loop.
func New(client *db.Client, listener Notifications, logg *logger.Logger) (*Store, error) {
	if client == nil {
		return nil, errors.New("db client is required")
	}
	if listener == nil {
		return nil, errors.New("pg listener is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if err := listener.Listen(CartChannel); err != nil {
		return nil, fmt.Errorf("listen %s: %w", CartChannel, err)
	}
	if err := listener.Listen(WishlistChannel); err != nil {
		return nil, fmt.Errorf("listen %s: %w", WishlistChannel, err)
	}

	s := &Store{
		client:       client,
		logg:         logg,
		cartSubs:     make(map[string]map[*cartSubscription]struct{}),
		wishlistSubs: make(map[string]map[*wishlistSubscription]struct{}),
		listener:     listener,
		dispatchDone: make(chan struct{}),
	}
	go s.dispatch()
	return s, nil
}

// LoadCart fetches one user's cart record.
func (s *Store) LoadCart(ctx context.Context, userID string) (*remote.CartRecord, error) {
	var row models.CartRecord
	err := s.client.DB().WithContext(ctx).First(&row, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, remote.ErrNotFound
		}
		return nil, fmt.Errorf("select cart record: %w", err)
	}
	var rec remote.CartRecord
	if err := json.Unmarshal(row.Payload, &rec); err != nil {
		return nil, fmt.Errorf("decode cart record: %w", err)
	}
	return &rec, nil
}

// SaveCart upserts the whole cart row. The row trigger notifies listeners.
func (s *Store) SaveCart(ctx context.Context, userID string, rec remote.CartRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cart record: %w", err)
	}
	row := models.CartRecord{UserID: userID, Payload: payload, UpdatedAt: rec.UpdatedAt}
	err = s.client.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert cart record: %w", err)
	}
	return nil
}

// WatchCart registers a subscription for the user's cart pushes.
func (s *Store) WatchCart(_ context.Context, userID string) (remote.CartSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("store is closed")
	}
	sub := &cartSubscription{
		store:  s,
		userID: userID,
		ch:     make(chan remote.CartRecord, 8),
	}
	if s.cartSubs[userID] == nil {
		s.cartSubs[userID] = make(map[*cartSubscription]struct{})
	}
	s.cartSubs[userID][sub] = struct{}{}
	return sub, nil
}

// LoadWishlist fetches one user's wishlist record.
func (s *Store) LoadWishlist(ctx context.Context, userID string) (*remote.WishlistRecord, error) {
	var row models.WishlistRecord
	err := s.client.DB().WithContext(ctx).First(&row, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, remote.ErrNotFound
		}
		return nil, fmt.Errorf("select wishlist record: %w", err)
	}
	var rec remote.WishlistRecord
	if err := json.Unmarshal(row.Payload, &rec); err != nil {
		return nil, fmt.Errorf("decode wishlist record: %w", err)
	}
	return &rec, nil
}

// SaveWishlist upserts the whole wishlist row.
func (s *Store) SaveWishlist(ctx context.Context, userID string, rec remote.WishlistRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode wishlist record: %w", err)
	}
	row := models.WishlistRecord{UserID: userID, Payload: payload, UpdatedAt: rec.UpdatedAt}
	err = s.client.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert wishlist record: %w", err)
	}
	return nil
}

// WatchWishlist registers a subscription for the user's wishlist pushes.
func (s *Store) WatchWishlist(_ context.Context, userID string) (remote.WishlistSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("store is closed")
	}
	sub := &wishlistSubscription{
		store:  s,
		userID: userID,
		ch:     make(chan remote.WishlistRecord, 8),
	}
	if s.wishlistSubs[userID] == nil {
		s.wishlistSubs[userID] = make(map[*wishlistSubscription]struct{})
	}
	s.wishlistSubs[userID][sub] = struct{}{}
	return sub, nil
}

// Close shuts down the listener and terminates every live subscription.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.listener.Close()
	<-s.dispatchDone
	return err
}

// dispatch pumps NOTIFY events to registered subscriptions. A nil
// notification signals a listener reconnect; every live subscription gets a
// fresh read then, since pushes may have been missed.
func (s *Store) dispatch() {
	defer s.teardownSubs()
	defer close(s.dispatchDone)

	for notification := range s.listener.NotificationChannel() {
		if notification == nil {
			s.refreshAll()
			continue
		}
		switch notification.Channel {
		case CartChannel:
			s.pushCart(notification.Extra)
		case WishlistChannel:
			s.pushWishlist(notification.Extra)
		}
	}
}

func (s *Store) pushCart(userID string) {
	s.mu.Lock()
	subs := make([]*cartSubscription, 0, len(s.cartSubs[userID]))
	for sub := range s.cartSubs[userID] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := s.LoadCart(ctx, userID)
	if err != nil {
		s.logg.Warn(s.logg.WithUserID(ctx, userID), "cart notify re-read failed")
		return
	}
	for _, sub := range subs {
		sub.deliver(*rec)
	}
}

func (s *Store) pushWishlist(userID string) {
	s.mu.Lock()
	subs := make([]*wishlistSubscription, 0, len(s.wishlistSubs[userID]))
	for sub := range s.wishlistSubs[userID] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := s.LoadWishlist(ctx, userID)
	if err != nil {
		s.logg.Warn(s.logg.WithUserID(ctx, userID), "wishlist notify re-read failed")
		return
	}
	for _, sub := range subs {
		sub.deliver(*rec)
	}
}

func (s *Store) refreshAll() {
	s.mu.Lock()
	cartUsers := make([]string, 0, len(s.cartSubs))
	for userID := range s.cartSubs {
		cartUsers = append(cartUsers, userID)
	}
	wishlistUsers := make([]string, 0, len(s.wishlistSubs))
	for userID := range s.wishlistSubs {
		wishlistUsers = append(wishlistUsers, userID)
	}
	s.mu.Unlock()

	for _, userID := range cartUsers {
		s.pushCart(userID)
	}
	for _, userID := range wishlistUsers {
		s.pushWishlist(userID)
	}
}

func (s *Store) teardownSubs() {
	s.mu.Lock()
	var carts []*cartSubscription
	for _, subs := range s.cartSubs {
		for sub := range subs {
			carts = append(carts, sub)
		}
	}
	var wishlists []*wishlistSubscription
	for _, subs := range s.wishlistSubs {
		for sub := range subs {
			wishlists = append(wishlists, sub)
		}
	}
	s.cartSubs = make(map[string]map[*cartSubscription]struct{})
	s.wishlistSubs = make(map[string]map[*wishlistSubscription]struct{})

	closed := s.closed
	s.mu.Unlock()

	var terminal error
	if !closed {
		terminal = errors.New("postgres listener terminated")
	}
	for _, sub := range carts {
		sub.terminate(terminal)
	}
	for _, sub := range wishlists {
		sub.terminate(terminal)
	}
}

func (s *Store) dropCartSub(sub *cartSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subs, ok := s.cartSubs[sub.userID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(s.cartSubs, sub.userID)
		}
	}
}

func (s *Store) dropWishlistSub(sub *wishlistSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subs, ok := s.wishlistSubs[sub.userID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(s.wishlistSubs, sub.userID)
		}
	}
}

type cartSubscription struct {
	store  *Store
	userID string
	ch     chan remote.CartRecord

	mu        sync.Mutex
	err       error
	done      bool
	closeOnce sync.Once
}

func (s *cartSubscription) Snapshots() <-chan remote.CartRecord { return s.ch }

func (s *cartSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *cartSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.store.dropCartSub(s)
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		close(s.ch)
	})
	return nil
}

func (s *cartSubscription) deliver(rec remote.CartRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.ch <- rec:
	default:
		// Slow consumer; drop the oldest snapshot, the latest one wins.
		select {
		case <-s.ch:
		default:
		}
		s.ch <- rec
	}
}

func (s *cartSubscription) terminate(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.done = true
		s.err = err
		s.mu.Unlock()
		close(s.ch)
	})
}

type wishlistSubscription struct {
	store  *Store
	userID string
	ch     chan remote.WishlistRecord

	mu        sync.Mutex
	err       error
	done      bool
	closeOnce sync.Once
}

func (s *wishlistSubscription) Snapshots() <-chan remote.WishlistRecord { return s.ch }

func (s *wishlistSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wishlistSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.store.dropWishlistSub(s)
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		close(s.ch)
	})
	return nil
}

func (s *wishlistSubscription) deliver(rec remote.WishlistRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.ch <- rec:
	default:
		select {
		case <-s.ch:
		default:
		}
		s.ch <- rec
	}
}

func (s *wishlistSubscription) terminate(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.done = true
		s.err = err
		s.mu.Unlock()
		close(s.ch)
	})
}
