// Package redisstore implements the remote record store on Redis: records
// live as JSON strings and pushes ride pub/sub channels, one channel per
// user and collection. Every save publishes, so a writer hears its own echo
// like any other subscriber.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/joaquinreyes/atelier-backend/internal/remote"
	"github.com/joaquinreyes/atelier-backend/pkg/logger"
)

const (
	collectionCart     = "cart"
	collectionWishlist = "wishlist"
)

type messageStream interface {
	Channel(...goredis.ChannelOption) <-chan *goredis.Message
	Close() error
}

// Commands is the slice of the redis client the store needs.
type Commands interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Publish(ctx context.Context, channel string, payload any) error
	RecordKey(collection, userID string) string
	ChannelKey(collection, userID string) string
}

// Subscriber opens pub/sub streams; satisfied by the redis client wrapper.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (*goredis.PubSub, error)
}

// Store persists collection records in Redis and watches their channels.
type Store struct {
	commands  Commands
	subscribe func(ctx context.Context, channel string) (messageStream, error)
	logg      *logger.Logger
}

// New builds a Store over the shared redis client.
func New(commands Commands, subscriber Subscriber, logg *logger.Logger) (*Store, error) {
	if commands == nil {
		return nil, errors.New("redis commands are required")
	}
	if subscriber == nil {
		return nil, errors.New("redis subscriber is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Store{
		commands: commands,
		subscribe: func(ctx context.Context, channel string) (messageStream, error) {
			return subscriber.Subscribe(ctx, channel)
		},
		logg: logg,
	}, nil
}

// LoadCart fetches one user's cart record.
func (s *Store) LoadCart(ctx context.Context, userID string) (*remote.CartRecord, error) {
	payload, err := s.commands.Get(ctx, s.commands.RecordKey(collectionCart, userID))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, remote.ErrNotFound
		}
		return nil, fmt.Errorf("get cart record: %w", err)
	}
	var rec remote.CartRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode cart record: %w", err)
	}
	return &rec, nil
}

// SaveCart overwrites the user's whole cart record and publishes the new
// snapshot to the record's channel.
func (s *Store) SaveCart(ctx context.Context, userID string, rec remote.CartRecord) error {
	return s.save(ctx, collectionCart, userID, rec)
}

// WatchCart subscribes to the user's cart channel and decodes pushed
// snapshots. Corrupt payloads are skipped, never fatal.
func (s *Store) WatchCart(ctx context.Context, userID string) (remote.CartSubscription, error) {
	stream, err := s.subscribe(ctx, s.commands.ChannelKey(collectionCart, userID))
	if err != nil {
		return nil, fmt.Errorf("subscribe cart channel: %w", err)
	}
	sub := &cartSubscription{
		stream: stream,
		ch:     make(chan remote.CartRecord, 8),
	}
	go sub.pump(ctx, s.logg)
	return sub, nil
}

// LoadWishlist fetches one user's wishlist record.
func (s *Store) LoadWishlist(ctx context.Context, userID string) (*remote.WishlistRecord, error) {
	payload, err := s.commands.Get(ctx, s.commands.RecordKey(collectionWishlist, userID))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, remote.ErrNotFound
		}
		return nil, fmt.Errorf("get wishlist record: %w", err)
	}
	var rec remote.WishlistRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode wishlist record: %w", err)
	}
	return &rec, nil
}

// SaveWishlist overwrites the user's whole wishlist record and publishes the
// new snapshot.
func (s *Store) SaveWishlist(ctx context.Context, userID string, rec remote.WishlistRecord) error {
	return s.save(ctx, collectionWishlist, userID, rec)
}

// WatchWishlist subscribes to the user's wishlist channel.
func (s *Store) WatchWishlist(ctx context.Context, userID string) (remote.WishlistSubscription, error) {
	stream, err := s.subscribe(ctx, s.commands.ChannelKey(collectionWishlist, userID))
	if err != nil {
		return nil, fmt.Errorf("subscribe wishlist channel: %w", err)
	}
	sub := &wishlistSubscription{
		stream: stream,
		ch:     make(chan remote.WishlistRecord, 8),
	}
	go sub.pump(ctx, s.logg)
	return sub, nil
}

func (s *Store) save(ctx context.Context, collection, userID string, rec any) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", collection, err)
	}
	if err := s.commands.Set(ctx, s.commands.RecordKey(collection, userID), payload, 0); err != nil {
		return fmt.Errorf("set %s record: %w", collection, err)
	}
	if err := s.commands.Publish(ctx, s.commands.ChannelKey(collection, userID), payload); err != nil {
		return fmt.Errorf("publish %s record: %w", collection, err)
	}
	return nil
}

type cartSubscription struct {
	stream messageStream
	ch     chan remote.CartRecord

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func (s *cartSubscription) Snapshots() <-chan remote.CartRecord { return s.ch }

func (s *cartSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *cartSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.stream.Close()
	})
	return err
}

func (s *cartSubscription) pump(ctx context.Context, logg *logger.Logger) {
	defer close(s.ch)
	for msg := range s.stream.Channel() {
		var rec remote.CartRecord
		if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
			logg.Warn(logg.WithField(ctx, "channel", msg.Channel), "skipping corrupt cart push")
			continue
		}
		s.ch <- rec
	}
}

type wishlistSubscription struct {
	stream messageStream
	ch     chan remote.WishlistRecord

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func (s *wishlistSubscription) Snapshots() <-chan remote.WishlistRecord { return s.ch }

func (s *wishlistSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wishlistSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.stream.Close()
	})
	return err
}

func (s *wishlistSubscription) pump(ctx context.Context, logg *logger.Logger) {
	defer close(s.ch)
	for msg := range s.stream.Channel() {
		var rec remote.WishlistRecord
		if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
			logg.Warn(logg.WithField(ctx, "channel", msg.Channel), "skipping corrupt wishlist push")
			continue
		}
		s.ch <- rec
	}
}
