package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joaquinreyes/atelier-backend/api/responses"
	"github.com/joaquinreyes/atelier-backend/internal/engine"
	pkgerrors "github.com/joaquinreyes/atelier-backend/pkg/errors"
	"github.com/joaquinreyes/atelier-backend/pkg/logger"
)

type wishlistResponse struct {
	ProductIDs []string `json:"product_ids"`
	Count      int      `json:"count"`
	Loading    bool     `json:"loading"`
	Error      string   `json:"error,omitempty"`
}

type wishlistToggleResponse struct {
	ProductID  string `json:"product_id"`
	Wishlisted bool   `json:"wishlisted"`
}

func newWishlistResponse(view engine.WishlistView) wishlistResponse {
	ids := make([]string, 0, len(view.ProductIDs))
	ids = append(ids, view.ProductIDs...)
	return wishlistResponse{
		ProductIDs: ids,
		Count:      len(ids),
		Loading:    view.Loading,
		Error:      view.Err,
	}
}

// WishlistFetch returns the caller's current wishlist view.
func WishlistFetch(binder SessionBinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := bindSession(r, binder)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newWishlistResponse(session.Wishlist.View()))
	}
}

// WishlistToggle flips the product's wishlist membership and reports the
// state after the flip.
func WishlistToggle(binder SessionBinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := bindSession(r, binder)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		productID := chi.URLParam(r, "productID")
		if productID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "product id is required"))
			return
		}

		wishlisted := session.Wishlist.Toggle(productID)
		responses.WriteSuccess(w, wishlistToggleResponse{
			ProductID:  productID,
			Wishlisted: wishlisted,
		})
	}
}

// WishlistClear empties the wishlist.
func WishlistClear(binder SessionBinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := bindSession(r, binder)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session.Wishlist.Clear()
		responses.WriteSuccess(w, newWishlistResponse(session.Wishlist.View()))
	}
}
