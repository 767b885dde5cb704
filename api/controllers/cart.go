package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/joaquinreyes/atelier-backend/api/responses"
	"github.com/joaquinreyes/atelier-backend/api/validators"
	"github.com/joaquinreyes/atelier-backend/internal/collection"
	"github.com/joaquinreyes/atelier-backend/internal/engine"
	pkgerrors "github.com/joaquinreyes/atelier-backend/pkg/errors"
	"github.com/joaquinreyes/atelier-backend/pkg/logger"
)

type cartItemPayload struct {
	ID                string          `json:"id" validate:"required"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price" validate:"required"`
	Quantity          int             `json:"quantity" validate:"omitempty,min=1"`
	QuantityAvailable int             `json:"quantity_available"`
	Image             string          `json:"image"`
}

type cartQuantityPayload struct {
	Quantity int `json:"quantity" validate:"min=0"`
}

type cartLineResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Price             string `json:"price"`
	Quantity          int    `json:"quantity"`
	QuantityAvailable int    `json:"quantity_available"`
	Image             string `json:"image"`
}

type cartTotalsResponse struct {
	Subtotal   string `json:"subtotal"`
	Tax        string `json:"tax"`
	Shipping   string `json:"shipping"`
	GrandTotal string `json:"grand_total"`
}

type cartResponse struct {
	Items         []cartLineResponse `json:"items"`
	TotalQuantity int                `json:"total_quantity"`
	Loading       bool               `json:"loading"`
	Error         string             `json:"error,omitempty"`
	Totals        cartTotalsResponse `json:"totals"`
}

// newCartResponse rounds monetary amounts to two places. Internal
// computation stays at full precision; rounding happens only here.
func newCartResponse(view engine.CartView) cartResponse {
	items := make([]cartLineResponse, 0, len(view.Items))
	for _, line := range view.Items {
		items = append(items, cartLineResponse{
			ID:                line.ID,
			Name:              line.Name,
			Price:             line.Price.StringFixed(2),
			Quantity:          line.Quantity,
			QuantityAvailable: line.QuantityAvailable,
			Image:             line.Image,
		})
	}
	return cartResponse{
		Items:         items,
		TotalQuantity: view.Items.TotalQuantity(),
		Loading:       view.Loading,
		Error:         view.Err,
		Totals: cartTotalsResponse{
			Subtotal:   view.Totals.Subtotal.StringFixed(2),
			Tax:        view.Totals.Tax.StringFixed(2),
			Shipping:   view.Totals.Shipping.StringFixed(2),
			GrandTotal: view.Totals.GrandTotal.StringFixed(2),
		},
	}
}

// CartFetch returns the caller's current cart view with derived totals.
func CartFetch(binder SessionBinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := bindSession(r, binder)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(session.Cart.View()))
	}
}

// CartAddItem merges the posted product into the cart. The mutation is
// applied locally before the response; persistence follows asynchronously.
func CartAddItem(binder SessionBinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := bindSession(r, binder)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cartItemPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session.Cart.AddItem(collection.CartLine{
			ID:                payload.ID,
			Name:              payload.Name,
			Price:             payload.Price,
			QuantityAvailable: payload.QuantityAvailable,
			Image:             payload.Image,
		}, payload.Quantity)

		responses.WriteSuccessStatus(w, http.StatusCreated, newCartResponse(session.Cart.View()))
	}
}

// CartSetQuantity sets a line's quantity directly; zero removes the line.
func CartSetQuantity(binder SessionBinder, logg *logger.Logger) http.HandlerFunc {
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

		var payload cartQuantityPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session.Cart.SetQuantity(productID, payload.Quantity)
		responses.WriteSuccess(w, newCartResponse(session.Cart.View()))
	}
}

// CartRemoveItem deletes a line from the cart.
func CartRemoveItem(binder SessionBinder, logg *logger.Logger) http.HandlerFunc {
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

		session.Cart.RemoveItem(productID)
		responses.WriteSuccess(w, newCartResponse(session.Cart.View()))
	}
}

// CartClear empties the cart.
func CartClear(binder SessionBinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := bindSession(r, binder)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session.Cart.Clear()
		responses.WriteSuccess(w, newCartResponse(session.Cart.View()))
	}
}
