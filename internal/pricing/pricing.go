// Package pricing derives order totals from a cart. Every value is computed
// on read at full decimal precision; rounding to two places happens only at
// the API boundary.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/joaquinreyes/atelier-backend/internal/collection"
)

var (
	taxRate               = decimal.RequireFromString("0.08")
	freeShippingThreshold = decimal.NewFromInt(500)
	flatShippingFee       = decimal.NewFromInt(50)
)

// Totals is the derived read model for a cart.
type Totals struct {
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Shipping   decimal.Decimal
	GrandTotal decimal.Decimal
}

// Compute derives subtotal, flat 8% tax, shipping and the grand total.
// Shipping is free strictly above the 500 threshold, otherwise a flat 50.
func Compute(cart collection.Cart) Totals {
	subtotal := cart.TotalValue()
	tax := subtotal.Mul(taxRate)

	shipping := flatShippingFee
	if subtotal.GreaterThan(freeShippingThreshold) {
		shipping = decimal.Zero
	}

	return Totals{
		Subtotal:   subtotal,
		Tax:        tax,
		Shipping:   shipping,
		GrandTotal: subtotal.Add(tax).Add(shipping),
	}
}
