package engine

import (
	"github.com/joaquinreyes/atelier-backend/internal/collection"
	"github.com/joaquinreyes/atelier-backend/internal/remote"
)

// ReconcileCartFunc folds a pushed remote snapshot into local cart state.
// The returned cart becomes the new local state.
type ReconcileCartFunc func(local collection.Cart, pushed remote.CartRecord) collection.Cart

// ReconcileWishlistFunc folds a pushed remote snapshot into local wishlist state.
type ReconcileWishlistFunc func(local collection.Wishlist, pushed remote.WishlistRecord) collection.Wishlist

// ReplaceCart is the default policy: the pushed snapshot wins wholesale.
// Local optimistic state is provisional until the subscription echoes it
// back; a push that lands between two rapid local edits can briefly roll the
// view back to an intermediate state, which is accepted for a single-user
// cart.
func ReplaceCart(_ collection.Cart, pushed remote.CartRecord) collection.Cart {
	return pushed.Items.Clone()
}

// ReplaceWishlist mirrors ReplaceCart for wishlists.
func ReplaceWishlist(_ collection.Wishlist, pushed remote.WishlistRecord) collection.Wishlist {
	return pushed.ProductIDs.Clone()
}
