package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/joaquinreyes/atelier-backend/internal/collection"
	"github.com/joaquinreyes/atelier-backend/internal/events"
	"github.com/joaquinreyes/atelier-backend/internal/localcache"
	"github.com/joaquinreyes/atelier-backend/internal/remote"
	pkgerrors "github.com/joaquinreyes/atelier-backend/pkg/errors"
	"github.com/joaquinreyes/atelier-backend/pkg/logger"
	"github.com/joaquinreyes/atelier-backend/pkg/metrics"
)

// WishlistView is the read model exposed to the API layer.
type WishlistView struct {
	ProductIDs collection.Wishlist
	Loading    bool
	Err        string
}

// WishlistEngineParams mirrors CartEngineParams for the wishlist collection.
type WishlistEngineParams struct {
	UserID    string
	SessionID string

	Store   remote.Store
	Cache   localcache.Store
	Events  events.Publisher
	Logger  *logger.Logger
	Metrics *metrics.SyncMetrics

	Reconcile      ReconcileWishlistFunc
	DebounceWindow time.Duration
	WriteTimeout   time.Duration
	LoadTimeout    time.Duration
	MaxRetries     uint64
	RetryBackoff   time.Duration
	Clock          Clock
}

// WishlistEngine owns one user's wishlist membership set and its
// synchronization lifecycle.
type WishlistEngine struct {
	userID    string
	sessionID string

	store     remote.Store
	cache     localcache.Store
	events    events.Publisher
	logg      *logger.Logger
	met       *metrics.SyncMetrics
	reconcile ReconcileWishlistFunc
	clock     Clock

	writeTimeout time.Duration
	loadTimeout  time.Duration
	maxRetries   uint64
	retryBackoff time.Duration

	mu           sync.Mutex
	products     collection.Wishlist
	loading      bool
	lastErr      string
	closed       bool
	flushing     bool
	flushPending bool

	deb       *Debouncer
	sub       remote.WishlistSubscription
	pumpDone  chan struct{}
	closeOnce sync.Once
}

func NewWishlistEngine(params WishlistEngineParams) (*WishlistEngine, error) {
	if params.UserID == "" {
		return nil, errors.New("user id is required")
	}
	if params.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	if params.Store == nil {
		return nil, errors.New("remote store is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}

	reconcile := params.Reconcile
	if reconcile == nil {
		reconcile = ReplaceWishlist
	}
	clock := params.Clock
	if clock == nil {
		clock = NewClock()
	}

	e := &WishlistEngine{
		userID:       params.UserID,
		sessionID:    params.SessionID,
		store:        params.Store,
		cache:        params.Cache,
		events:       params.Events,
		logg:         params.Logger,
		met:          params.Metrics,
		reconcile:    reconcile,
		clock:        clock,
		writeTimeout: durationOrDefault(params.WriteTimeout, defaultWriteTimeout),
		loadTimeout:  durationOrDefault(params.LoadTimeout, defaultLoadTimeout),
		maxRetries:   params.MaxRetries,
		retryBackoff: durationOrDefault(params.RetryBackoff, defaultRetryBackoff),
		products:     collection.Wishlist{},
		loading:      true,
	}
	if e.maxRetries == 0 {
		e.maxRetries = defaultMaxRetries
	}
	e.deb = NewDebouncer(durationOrDefault(params.DebounceWindow, defaultDebounceWindow), clock, e.flush)
	return e, nil
}

// Start restores cached state, loads the remote record and opens the live
// subscription, degrading to local-only mode on remote failure.
func (e *WishlistEngine) Start(ctx context.Context) {
	ctx = e.logg.WithUserID(ctx, e.userID)
	ctx = e.logg.WithCollection(ctx, events.CollectionWishlist)

	e.restoreFromCache(ctx)

	loadCtx, cancel := context.WithTimeout(ctx, e.loadTimeout)
	defer cancel()
	rec, err := e.store.LoadWishlist(loadCtx, e.userID)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		e.mu.Lock()
		e.loading = false
		e.mu.Unlock()
	case err != nil:
		e.setErr(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wishlist record"))
		e.mu.Lock()
		e.loading = false
		e.mu.Unlock()
		e.logg.Warn(ctx, "wishlist load failed, continuing local-only")
	default:
		e.apply(*rec)
	}

	sub, err := e.store.WatchWishlist(ctx, e.userID)
	if err != nil {
		e.setErr(pkgerrors.Wrap(pkgerrors.CodeSubscription, err, "watch wishlist record"))
		e.logg.Warn(ctx, "wishlist subscription unavailable")
		return
	}
	e.mu.Lock()
	e.sub = sub
	e.pumpDone = make(chan struct{})
	e.mu.Unlock()
	e.met.SubscriptionOpened(events.CollectionWishlist)
	go e.pump(ctx, sub)
}

// Toggle flips the product's membership and reports whether the product is
// present after the call.
func (e *WishlistEngine) Toggle(productID string) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	present := e.products.Toggle(productID)
	e.mirrorCacheLocked()
	e.mu.Unlock()

	e.met.IncMutation(events.CollectionWishlist, "toggle")
	e.deb.Trigger()
	return present
}

// Clear empties the wishlist unconditionally.
func (e *WishlistEngine) Clear() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.products.Clear()
	e.mirrorCacheLocked()
	e.mu.Unlock()

	e.met.IncMutation(events.CollectionWishlist, "clear")
	e.deb.Trigger()
}

// Contains reports membership for one product.
func (e *WishlistEngine) Contains(productID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.products.Contains(productID)
}

// Count returns the number of wishlisted products.
func (e *WishlistEngine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.products.Count()
}

// View returns a consistent copy of the current read model.
func (e *WishlistEngine) View() WishlistView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return WishlistView{
		ProductIDs: e.products.Clone(),
		Loading:    e.loading,
		Err:        e.lastErr,
	}
}

// Close cancels pending flushes and closes the subscription exactly once.
func (e *WishlistEngine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		sub := e.sub
		done := e.pumpDone
		e.mu.Unlock()

		e.deb.Stop()
		if sub != nil {
			_ = sub.Close()
			if done != nil {
				<-done
			}
		}
	})
}

func (e *WishlistEngine) pump(ctx context.Context, sub remote.WishlistSubscription) {
	defer func() {
		e.met.SubscriptionClosed(events.CollectionWishlist)
		e.mu.Lock()
		done := e.pumpDone
		e.mu.Unlock()
		if done != nil {
			close(done)
		}
	}()

	for rec := range sub.Snapshots() {
		e.apply(rec)
	}

	if err := sub.Err(); err != nil {
		e.mu.Lock()
		closed := e.closed
		e.mu.Unlock()
		if !closed {
			e.setErr(pkgerrors.Wrap(pkgerrors.CodeSubscription, err, "wishlist subscription lost"))
			e.logg.Warn(ctx, "wishlist subscription terminated")
		}
	}
}

func (e *WishlistEngine) apply(rec remote.WishlistRecord) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.products = e.reconcile(e.products, rec)
	e.loading = false
	e.lastErr = ""
	e.mirrorCacheLocked()
	e.mu.Unlock()

	e.met.IncReconciliation(events.CollectionWishlist)
}

// flush is single-flight like the cart engine's: a fire during an in-flight
// write queues one more pass over the latest state instead of racing it.
func (e *WishlistEngine) flush() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.flushing {
		e.flushPending = true
		e.mu.Unlock()
		return
	}
	e.flushing = true
	e.mu.Unlock()

	for {
		e.flushOnce()

		e.mu.Lock()
		if e.flushPending && !e.closed {
			e.flushPending = false
			e.mu.Unlock()
			continue
		}
		e.flushing = false
		e.mu.Unlock()
		return
	}
}

func (e *WishlistEngine) flushOnce() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	rec := remote.WishlistRecord{
		ProductIDs: e.products.Clone(),
		UpdatedAt:  e.clock.Now().UTC(),
	}
	e.mu.Unlock()

	ctx := e.logg.WithUserID(context.Background(), e.userID)
	ctx = e.logg.WithCollection(ctx, events.CollectionWishlist)
	writeCtx, cancel := context.WithTimeout(ctx, e.writeTimeout)
	defer cancel()

	backoff := retry.WithJitter(e.retryBackoff/4, retry.NewExponential(e.retryBackoff))
	backoff = retry.WithMaxRetries(e.maxRetries, backoff)

	start := e.clock.Now()
	attempt := 0
	err := retry.Do(writeCtx, backoff, func(ctx context.Context) error {
		attempt++
		if saveErr := e.store.SaveWishlist(ctx, e.userID, rec); saveErr != nil {
			if attempt > 1 {
				e.met.IncFlushRetry(events.CollectionWishlist)
			}
			return retry.RetryableError(saveErr)
		}
		return nil
	})
	e.met.ObserveFlushDuration(events.CollectionWishlist, e.clock.Now().Sub(start))

	if err != nil {
		e.met.IncFlush(events.CollectionWishlist, "failure")
		e.setErr(pkgerrors.Wrap(pkgerrors.CodeSyncFailure, err, "persist wishlist record"))
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "wishlist flush failed, keeping local state")
		return
	}

	e.met.IncFlush(events.CollectionWishlist, "success")
	e.clearErr()

	if e.events != nil {
		e.events.CollectionUpdated(ctx, events.Update{
			Collection:    events.CollectionWishlist,
			UserID:        e.userID,
			ItemCount:     rec.ProductIDs.Count(),
			TotalQuantity: rec.ProductIDs.Count(),
			Subtotal:      "0",
			UpdatedAt:     rec.UpdatedAt,
		})
	}
}

func (e *WishlistEngine) restoreFromCache(ctx context.Context) {
	if e.cache == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	payload, err := e.cache.Get(cacheCtx, localcache.WishlistKey(e.sessionID))
	if err != nil {
		if !errors.Is(err, localcache.ErrMiss) {
			e.logg.Debug(ctx, "wishlist cache read failed")
		}
		return
	}
	var rec remote.WishlistRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		e.logg.Debug(ctx, "wishlist cache entry corrupt, ignoring")
		return
	}
	e.mu.Lock()
	e.products = rec.ProductIDs.Clone()
	e.mu.Unlock()
}

func (e *WishlistEngine) mirrorCacheLocked() {
	if e.cache == nil {
		return
	}
	payload, err := json.Marshal(remote.WishlistRecord{
		ProductIDs: e.products,
		UpdatedAt:  e.clock.Now().UTC(),
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	_ = e.cache.Put(ctx, localcache.WishlistKey(e.sessionID), payload)
}

func (e *WishlistEngine) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.lastErr = err.Error()
}

func (e *WishlistEngine) clearErr() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = ""
}
