// Package remote defines the contract between the sync engine and the
// per-user record store. The remote record is the eventual source of truth;
// local engine state is only a cache of it.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/joaquinreyes/atelier-backend/internal/collection"
)

// ErrNotFound is returned when the user has no remote record yet.
var ErrNotFound = errors.New("remote record not found")

// CartRecord is the wire shape of a user's cart document.
type CartRecord struct {
	Items     collection.Cart `json:"items"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// WishlistRecord is the wire shape of a user's wishlist document.
type WishlistRecord struct {
	ProductIDs collection.Wishlist `json:"productIds"`
	UpdatedAt  time.Time           `json:"updatedAt"`
}

// CartSubscription is a live feed of cart snapshots for one user. Snapshots
// delivers every push, including echoes of this session's own writes. The
// channel closes when the subscription dies or is closed; Err reports why.
type CartSubscription interface {
	Snapshots() <-chan CartRecord
	Err() error
	Close() error
}

// WishlistSubscription mirrors CartSubscription for wishlist records.
type WishlistSubscription interface {
	Snapshots() <-chan WishlistRecord
	Err() error
	Close() error
}

// Store persists whole per-user records and exposes change feeds on them.
// Saves always write the entire record; there is no partial update.
type Store interface {
	LoadCart(ctx context.Context, userID string) (*CartRecord, error)
	SaveCart(ctx context.Context, userID string, rec CartRecord) error
	WatchCart(ctx context.Context, userID string) (CartSubscription, error)

	LoadWishlist(ctx context.Context, userID string) (*WishlistRecord, error)
	SaveWishlist(ctx context.Context, userID string, rec WishlistRecord) error
	WatchWishlist(ctx context.Context, userID string) (WishlistSubscription, error)
}
