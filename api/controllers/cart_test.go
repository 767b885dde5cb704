package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/joaquinreyes/atelier-backend/api/middleware"
	"github.com/joaquinreyes/atelier-backend/pkg/types"
)

func authedRequest(method, target, body, userID, sessionID string) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	return req.WithContext(middleware.WithIdentity(req.Context(), userID, sessionID))
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeCartResponse(t *testing.T, w *httptest.ResponseRecorder) cartResponse {
	t.Helper()
	var envelope struct {
		Data cartResponse `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode cart response: %v", err)
	}
	return envelope.Data
}

func TestCartAddItemAppliesImmediately(t *testing.T) {
	mgr := newTestManager(t)

	body := `{"id":"vase-01","name":"Stoneware Vase","price":120,"quantity":2,"quantity_available":6}`
	req := authedRequest(http.MethodPost, "/api/v1/cart/items", body, "user-1", "session-1")
	w := httptest.NewRecorder()
	CartAddItem(mgr, testLogger())(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	view := decodeCartResponse(t, w)
	if len(view.Items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(view.Items))
	}
	if view.Items[0].Quantity != 2 {
		t.Fatalf("quantity = %d, want 2", view.Items[0].Quantity)
	}
	if view.TotalQuantity != 2 {
		t.Fatalf("total quantity = %d, want 2", view.TotalQuantity)
	}
}

func TestCartAddItemMergesExistingLine(t *testing.T) {
	mgr := newTestManager(t)

	body := `{"id":"vase-01","price":120,"quantity":2}`
	w := httptest.NewRecorder()
	CartAddItem(mgr, testLogger())(w, authedRequest(http.MethodPost, "/api/v1/cart/items", body, "user-1", "session-1"))

	body = `{"id":"vase-01","price":120,"quantity":3}`
	w = httptest.NewRecorder()
	CartAddItem(mgr, testLogger())(w, authedRequest(http.MethodPost, "/api/v1/cart/items", body, "user-1", "session-1"))

	view := decodeCartResponse(t, w)
	if len(view.Items) != 1 {
		t.Fatalf("expected merged line, got %d lines", len(view.Items))
	}
	if view.Items[0].Quantity != 5 {
		t.Fatalf("quantity = %d, want 5", view.Items[0].Quantity)
	}
}

func TestCartAddItemRejectsMissingID(t *testing.T) {
	mgr := newTestManager(t)

	body := `{"price":120,"quantity":1}`
	w := httptest.NewRecorder()
	CartAddItem(mgr, testLogger())(w, authedRequest(http.MethodPost, "/api/v1/cart/items", body, "user-1", "session-1"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCartSetQuantityZeroRemovesLine(t *testing.T) {
	mgr := newTestManager(t)

	body := `{"id":"vase-01","price":120,"quantity":4}`
	w := httptest.NewRecorder()
	CartAddItem(mgr, testLogger())(w, authedRequest(http.MethodPost, "/api/v1/cart/items", body, "user-1", "session-1"))

	req := withURLParam(authedRequest(http.MethodPut, "/api/v1/cart/items/vase-01", `{"quantity":0}`, "user-1", "session-1"), "productID", "vase-01")
	w = httptest.NewRecorder()
	CartSetQuantity(mgr, testLogger())(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	view := decodeCartResponse(t, w)
	if len(view.Items) != 0 {
		t.Fatalf("expected empty cart, got %d lines", len(view.Items))
	}
}

func TestCartFetchComputesRoundedTotals(t *testing.T) {
	mgr := newTestManager(t)

	w := httptest.NewRecorder()
	CartAddItem(mgr, testLogger())(w, authedRequest(http.MethodPost, "/api/v1/cart/items", `{"id":"p1","price":100,"quantity":2}`, "user-1", "session-1"))
	w = httptest.NewRecorder()
	CartAddItem(mgr, testLogger())(w, authedRequest(http.MethodPost, "/api/v1/cart/items", `{"id":"p2","price":200,"quantity":1}`, "user-1", "session-1"))

	w = httptest.NewRecorder()
	CartFetch(mgr, testLogger())(w, authedRequest(http.MethodGet, "/api/v1/cart", "", "user-1", "session-1"))

	view := decodeCartResponse(t, w)
	if view.Totals.Subtotal != "400.00" {
		t.Fatalf("subtotal = %s", view.Totals.Subtotal)
	}
	if view.Totals.Tax != "32.00" {
		t.Fatalf("tax = %s", view.Totals.Tax)
	}
	if view.Totals.Shipping != "50.00" {
		t.Fatalf("shipping = %s", view.Totals.Shipping)
	}
	if view.Totals.GrandTotal != "482.00" {
		t.Fatalf("grand total = %s", view.Totals.GrandTotal)
	}
}

func TestCartFetchFreeShippingAboveThreshold(t *testing.T) {
	mgr := newTestManager(t)

	w := httptest.NewRecorder()
	CartAddItem(mgr, testLogger())(w, authedRequest(http.MethodPost, "/api/v1/cart/items", `{"id":"p1","price":600,"quantity":1}`, "user-1", "session-1"))

	w = httptest.NewRecorder()
	CartFetch(mgr, testLogger())(w, authedRequest(http.MethodGet, "/api/v1/cart", "", "user-1", "session-1"))

	view := decodeCartResponse(t, w)
	if view.Totals.Shipping != "0.00" {
		t.Fatalf("shipping = %s, want 0.00", view.Totals.Shipping)
	}
}

func TestCartRemoveAndClear(t *testing.T) {
	mgr := newTestManager(t)

	w := httptest.NewRecorder()
	CartAddItem(mgr, testLogger())(w, authedRequest(http.MethodPost, "/api/v1/cart/items", `{"id":"p1","price":10,"quantity":1}`, "user-1", "session-1"))
	w = httptest.NewRecorder()
	CartAddItem(mgr, testLogger())(w, authedRequest(http.MethodPost, "/api/v1/cart/items", `{"id":"p2","price":20,"quantity":1}`, "user-1", "session-1"))

	req := withURLParam(authedRequest(http.MethodDelete, "/api/v1/cart/items/p1", "", "user-1", "session-1"), "productID", "p1")
	w = httptest.NewRecorder()
	CartRemoveItem(mgr, testLogger())(w, req)

	view := decodeCartResponse(t, w)
	if len(view.Items) != 1 || view.Items[0].ID != "p2" {
		t.Fatalf("unexpected items after remove: %+v", view.Items)
	}

	w = httptest.NewRecorder()
	CartClear(mgr, testLogger())(w, authedRequest(http.MethodDelete, "/api/v1/cart", "", "user-1", "session-1"))

	view = decodeCartResponse(t, w)
	if len(view.Items) != 0 {
		t.Fatalf("expected empty cart after clear, got %+v", view.Items)
	}
}

func TestCartRejectsMissingIdentity(t *testing.T) {
	mgr := newTestManager(t)

	w := httptest.NewRecorder()
	CartFetch(mgr, testLogger())(w, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	var envelope types.ErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("unexpected code %s", envelope.Error.Code)
	}
}
