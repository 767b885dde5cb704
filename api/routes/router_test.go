package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joaquinreyes/atelier-backend/api/controllers"
	"github.com/joaquinreyes/atelier-backend/internal/engine"
	"github.com/joaquinreyes/atelier-backend/internal/remote"
	pkgauth "github.com/joaquinreyes/atelier-backend/pkg/auth"
	"github.com/joaquinreyes/atelier-backend/pkg/config"
	"github.com/joaquinreyes/atelier-backend/pkg/logger"
	"github.com/joaquinreyes/atelier-backend/pkg/metrics"
)

type stubCartSub struct {
	ch        chan remote.CartRecord
	closeOnce sync.Once
}

func (s *stubCartSub) Snapshots() <-chan remote.CartRecord { return s.ch }
func (s *stubCartSub) Err() error                          { return nil }
func (s *stubCartSub) Close() error {
	s.closeOnce.Do(func() { close(s.ch) })
	return nil
}

type stubWishlistSub struct {
	ch        chan remote.WishlistRecord
	closeOnce sync.Once
}

func (s *stubWishlistSub) Snapshots() <-chan remote.WishlistRecord { return s.ch }
func (s *stubWishlistSub) Err() error                              { return nil }
func (s *stubWishlistSub) Close() error {
	s.closeOnce.Do(func() { close(s.ch) })
	return nil
}

type stubStore struct {
	mu        sync.Mutex
	carts     map[string]remote.CartRecord
	wishlists map[string]remote.WishlistRecord
}

func newStubStore() *stubStore {
	return &stubStore{carts: map[string]remote.CartRecord{}, wishlists: map[string]remote.WishlistRecord{}}
}

func (s *stubStore) LoadCart(_ context.Context, userID string) (*remote.CartRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.carts[userID]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return &rec, nil
}

func (s *stubStore) SaveCart(_ context.Context, userID string, rec remote.CartRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[userID] = rec
	return nil
}

func (s *stubStore) WatchCart(context.Context, string) (remote.CartSubscription, error) {
	return &stubCartSub{ch: make(chan remote.CartRecord, 8)}, nil
}

func (s *stubStore) LoadWishlist(_ context.Context, userID string) (*remote.WishlistRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.wishlists[userID]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return &rec, nil
}

func (s *stubStore) SaveWishlist(_ context.Context, userID string, rec remote.WishlistRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wishlists[userID] = rec
	return nil
}

func (s *stubStore) WatchWishlist(context.Context, string) (remote.WishlistSubscription, error) {
	return &stubWishlistSub{ch: make(chan remote.WishlistRecord, 8)}, nil
}

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

func routerTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "atelier-identity"},
	}
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	logg := logger.New(logger.Options{ServiceName: "routes-test", Level: logger.ParseLevel("error"), Output: io.Discard})
	registry := prometheus.NewRegistry()

	mgr, err := engine.NewManager(engine.ManagerParams{
		Store:          newStubStore(),
		Logger:         logg,
		Metrics:        metrics.NewSyncMetrics(registry),
		DebounceWindow: time.Millisecond,
		MaxRetries:     1,
		RetryBackoff:   time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { mgr.Close(context.Background()) })

	deps := map[string]controllers.Pinger{"store": stubPinger{}}
	return NewRouter(routerTestConfig(), logg, mgr, deps, registry)
}

func bearerToken(t *testing.T, userID, sessionID string) string {
	t.Helper()
	token, err := pkgauth.MintAccessToken(routerTestConfig().JWT, time.Now(), userID, sessionID, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func doRequest(t *testing.T, router http.Handler, method, target, body, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouterHealthEndpointsArePublic(t *testing.T) {
	router := newTestRouter(t)

	if w := doRequest(t, router, http.MethodGet, "/health/live", "", ""); w.Code != http.StatusOK {
		t.Fatalf("live = %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodGet, "/health/ready", "", ""); w.Code != http.StatusOK {
		t.Fatalf("ready = %d", w.Code)
	}
}

func TestRouterRequiresAuthOnAPIRoutes(t *testing.T) {
	router := newTestRouter(t)

	if w := doRequest(t, router, http.MethodGet, "/api/v1/cart", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("cart without token = %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodGet, "/api/v1/wishlist", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("wishlist without token = %d", w.Code)
	}
}

func TestRouterCartFlow(t *testing.T) {
	router := newTestRouter(t)
	auth := bearerToken(t, "user-1", "session-1")

	w := doRequest(t, router, http.MethodPost, "/api/v1/cart/items", `{"id":"vase-01","name":"Stoneware Vase","price":120,"quantity":2}`, auth)
	if w.Code != http.StatusCreated {
		t.Fatalf("add item = %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, router, http.MethodPut, "/api/v1/cart/items/vase-01", `{"quantity":4}`, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("set quantity = %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/cart", "", auth)
	if w.Code != http.StatusOK {
		t.Fatalf("fetch = %d", w.Code)
	}

	var envelope struct {
		Data struct {
			TotalQuantity int `json:"total_quantity"`
			Totals        struct {
				Subtotal string `json:"subtotal"`
			} `json:"totals"`
		} `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.TotalQuantity != 4 {
		t.Fatalf("total quantity = %d", envelope.Data.TotalQuantity)
	}
	if envelope.Data.Totals.Subtotal != "480.00" {
		t.Fatalf("subtotal = %s", envelope.Data.Totals.Subtotal)
	}

	w = doRequest(t, router, http.MethodDelete, "/api/v1/cart/items/vase-01", "", auth)
	if w.Code != http.StatusOK {
		t.Fatalf("remove = %d", w.Code)
	}
}

func TestRouterWishlistToggleAndSessionDetach(t *testing.T) {
	router := newTestRouter(t)
	auth := bearerToken(t, "user-1", "session-1")

	w := doRequest(t, router, http.MethodPost, "/api/v1/wishlist/bowl-02/toggle", "", auth)
	if w.Code != http.StatusOK {
		t.Fatalf("toggle = %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/wishlist", "", auth)
	if w.Code != http.StatusOK {
		t.Fatalf("fetch = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "bowl-02") {
		t.Fatalf("wishlist missing product: %s", w.Body.String())
	}

	w = doRequest(t, router, http.MethodDelete, "/api/v1/session", "", auth)
	if w.Code != http.StatusOK {
		t.Fatalf("detach = %d", w.Code)
	}
}

func TestRouterExposesMetrics(t *testing.T) {
	router := newTestRouter(t)
	auth := bearerToken(t, "user-1", "session-1")

	doRequest(t, router, http.MethodPost, "/api/v1/cart/items", `{"id":"vase-01","price":120,"quantity":1}`, auth)

	w := doRequest(t, router, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "sync_mutations_total") {
		t.Fatalf("expected mutation series in metrics output")
	}
}
