// Package collection holds the in-memory cart and wishlist models. The types
// here are pure data with invariant-preserving operations; persistence and
// synchronization live in the engine package.
package collection

import "github.com/shopspring/decimal"

// CartLine is a single product entry in a cart. Price carries the catalog
// price as supplied by the catalog service; QuantityAvailable is advisory
// stock information, never enforced as an upper bound here.
type CartLine struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	Quantity          int             `json:"quantity"`
	QuantityAvailable int             `json:"quantityAvailable"`
	Image             string          `json:"image"`
}

// Cart is an ordered list of lines, unique by product ID. A line quantity is
// always >= 1; operations that would drive it to zero remove the line.
type Cart []CartLine

// FindLine returns the line for the given product ID.
func (c Cart) FindLine(id string) (CartLine, bool) {
	for _, line := range c {
		if line.ID == id {
			return line, true
		}
	}
	return CartLine{}, false
}

// TotalQuantity sums quantities across all lines. Computed on every call so
// it can never drift from the line data.
func (c Cart) TotalQuantity() int {
	total := 0
	for _, line := range c {
		total += line.Quantity
	}
	return total
}

// TotalValue sums price*quantity across all lines at full precision.
func (c Cart) TotalValue() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c {
		total = total.Add(line.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// Clone returns an independent copy of the cart.
func (c Cart) Clone() Cart {
	if c == nil {
		return nil
	}
	out := make(Cart, len(c))
	copy(out, c)
	return out
}

// Add merges qty into an existing line for the same product or appends a new
// line. A non-positive qty defaults to 1.
func (c *Cart) Add(line CartLine, qty int) {
	if qty <= 0 {
		qty = 1
	}
	for i := range *c {
		if (*c)[i].ID == line.ID {
			(*c)[i].Quantity += qty
			return
		}
	}
	line.Quantity = qty
	*c = append(*c, line)
}

// SetQuantity sets the quantity for the given product directly. Quantities
// of zero or below remove the line instead; absent IDs are a no-op.
func (c *Cart) SetQuantity(id string, qty int) {
	if qty <= 0 {
		c.Remove(id)
		return
	}
	for i := range *c {
		if (*c)[i].ID == id {
			(*c)[i].Quantity = qty
			return
		}
	}
}

// Remove deletes the line for the given product ID; absent IDs are a no-op.
func (c *Cart) Remove(id string) {
	for i := range *c {
		if (*c)[i].ID == id {
			*c = append((*c)[:i], (*c)[i+1:]...)
			return
		}
	}
}

// Clear empties the cart unconditionally.
func (c *Cart) Clear() {
	*c = Cart{}
}
