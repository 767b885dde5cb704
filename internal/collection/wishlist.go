package collection

// Wishlist is a set of product IDs. Order is preserved for stable rendering
// but carries no meaning; duplicates are never stored.
type Wishlist []string

// Contains reports whether the product is on the wishlist.
func (w Wishlist) Contains(id string) bool {
	for _, existing := range w {
		if existing == id {
			return true
		}
	}
	return false
}

// Count returns the number of wishlist entries.
func (w Wishlist) Count() int {
	return len(w)
}

// Clone returns an independent copy of the wishlist.
func (w Wishlist) Clone() Wishlist {
	if w == nil {
		return nil
	}
	out := make(Wishlist, len(w))
	copy(out, w)
	return out
}

// Add inserts the product ID if absent. Idempotent under repetition.
func (w *Wishlist) Add(id string) {
	if w.Contains(id) {
		return
	}
	*w = append(*w, id)
}

// Remove drops the product ID; absent IDs are a no-op.
func (w *Wishlist) Remove(id string) {
	for i, existing := range *w {
		if existing == id {
			*w = append((*w)[:i], (*w)[i+1:]...)
			return
		}
	}
}

// Toggle adds the ID when absent and removes it when present, reporting
// whether the ID is present after the call. Two toggles in a row always
// return the wishlist to its original state.
func (w *Wishlist) Toggle(id string) bool {
	if w.Contains(id) {
		w.Remove(id)
		return false
	}
	w.Add(id)
	return true
}

// Clear empties the wishlist unconditionally.
func (w *Wishlist) Clear() {
	*w = Wishlist{}
}
