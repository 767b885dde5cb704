// Package events publishes collection-updated notifications for downstream
// consumers (analytics, notification fanout). Publishing is best-effort and
// never blocks or fails the sync path.
package events

import (
	"context"
	"time"
)

const (
	CollectionCart     = "cart"
	CollectionWishlist = "wishlist"
)

// Update describes one confirmed remote write of a user's collection.
type Update struct {
	Collection    string    `json:"collection"`
	UserID        string    `json:"user_id"`
	ItemCount     int       `json:"item_count"`
	TotalQuantity int       `json:"total_quantity"`
	Subtotal      string    `json:"subtotal,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Publisher emits collection updates. Implementations must be non-blocking
// from the caller's perspective; delivery failures are logged, not returned.
type Publisher interface {
	CollectionUpdated(ctx context.Context, update Update)
}
