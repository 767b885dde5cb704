package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeWishlistResponse(t *testing.T, w *httptest.ResponseRecorder) wishlistResponse {
	t.Helper()
	var envelope struct {
		Data wishlistResponse `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode wishlist response: %v", err)
	}
	return envelope.Data
}

func toggle(t *testing.T, mgr SessionBinder, productID string) wishlistToggleResponse {
	t.Helper()
	req := withURLParam(authedRequest(http.MethodPost, "/api/v1/wishlist/"+productID+"/toggle", "", "user-1", "session-1"), "productID", productID)
	w := httptest.NewRecorder()
	WishlistToggle(mgr, testLogger())(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var envelope struct {
		Data wishlistToggleResponse `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode toggle response: %v", err)
	}
	return envelope.Data
}

func TestWishlistToggleFlipsMembership(t *testing.T) {
	mgr := newTestManager(t)

	first := toggle(t, mgr, "bowl-02")
	if !first.Wishlisted {
		t.Fatal("first toggle should add the product")
	}

	second := toggle(t, mgr, "bowl-02")
	if second.Wishlisted {
		t.Fatal("second toggle should remove the product")
	}
}

func TestWishlistFetchListsProducts(t *testing.T) {
	mgr := newTestManager(t)

	toggle(t, mgr, "bowl-02")
	toggle(t, mgr, "vase-01")

	w := httptest.NewRecorder()
	WishlistFetch(mgr, testLogger())(w, authedRequest(http.MethodGet, "/api/v1/wishlist", "", "user-1", "session-1"))

	view := decodeWishlistResponse(t, w)
	if view.Count != 2 {
		t.Fatalf("count = %d, want 2", view.Count)
	}
	if len(view.ProductIDs) != 2 {
		t.Fatalf("product ids = %v", view.ProductIDs)
	}
}

func TestWishlistClearEmptiesList(t *testing.T) {
	mgr := newTestManager(t)

	toggle(t, mgr, "bowl-02")

	w := httptest.NewRecorder()
	WishlistClear(mgr, testLogger())(w, authedRequest(http.MethodDelete, "/api/v1/wishlist", "", "user-1", "session-1"))

	view := decodeWishlistResponse(t, w)
	if view.Count != 0 {
		t.Fatalf("count = %d, want 0", view.Count)
	}
}

func TestWishlistToggleRequiresProductID(t *testing.T) {
	mgr := newTestManager(t)

	req := authedRequest(http.MethodPost, "/api/v1/wishlist//toggle", "", "user-1", "session-1")
	w := httptest.NewRecorder()
	WishlistToggle(mgr, testLogger())(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
