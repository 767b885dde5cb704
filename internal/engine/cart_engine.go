// Package engine implements the cart/wishlist synchronization engine: local
// mutations apply synchronously, a trailing-edge debouncer persists the whole
// record remotely, and a record subscription reconciles pushed snapshots back
// into local state.
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
	"github.com/joaquinreyes/atelier-backend/internal/pricing"
	"github.com/joaquinreyes/atelier-backend/internal/remote"
	pkgerrors "github.com/joaquinreyes/atelier-backend/pkg/errors"
	"github.com/joaquinreyes/atelier-backend/pkg/logger"
	"github.com/joaquinreyes/atelier-backend/pkg/metrics"
)

const (
	defaultDebounceWindow = 100 * time.Millisecond
	defaultWriteTimeout   = 5 * time.Second
	defaultLoadTimeout    = 10 * time.Second
	defaultMaxRetries     = 3
	defaultRetryBackoff   = 250 * time.Millisecond
	cacheTimeout          = 2 * time.Second
)

// CartView is the read model exposed to the API layer.
type CartView struct {
	Items   collection.Cart
	Loading bool
	Err     string
	Totals  pricing.Totals
}

// CartEngineParams groups dependencies for a per-session cart engine.
// Store and Logger are required; Cache, Events and Metrics are optional.
type CartEngineParams struct {
	UserID    string
	SessionID string

	Store   remote.Store
	Cache   localcache.Store
	Events  events.Publisher
	Logger  *logger.Logger
	Metrics *metrics.SyncMetrics

	Reconcile      ReconcileCartFunc
	DebounceWindow time.Duration
	WriteTimeout   time.Duration
	LoadTimeout    time.Duration
	MaxRetries     uint64
	RetryBackoff   time.Duration
	Clock          Clock
}

// CartEngine owns one user's local cart state and its synchronization
// lifecycle. All mutations are synchronous against local state and visible
// before the call returns; persistence happens behind the debouncer.
type CartEngine struct {
	userID    string
	sessionID string

	store     remote.Store
	cache     localcache.Store
	events    events.Publisher
	logg      *logger.Logger
	met       *metrics.SyncMetrics
	reconcile ReconcileCartFunc
	clock     Clock

	writeTimeout time.Duration
	loadTimeout  time.Duration
	maxRetries   uint64
	retryBackoff time.Duration

	mu           sync.Mutex
	items        collection.Cart
	loading      bool
	lastErr      string
	closed       bool
	flushing     bool
	flushPending bool

	deb       *Debouncer
	sub       remote.CartSubscription
	pumpDone  chan struct{}
	closeOnce sync.Once
}

// NewCartEngine builds an engine for the given user session. The engine is
// inert until Start is called.
func NewCartEngine(params CartEngineParams) (*CartEngine, error) {
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
		reconcile = ReplaceCart
	}
	clock := params.Clock
	if clock == nil {
		clock = NewClock()
	}

	e := &CartEngine{
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
		items:        collection.Cart{},
		loading:      true,
	}
	if e.maxRetries == 0 {
		e.maxRetries = defaultMaxRetries
	}
	e.deb = NewDebouncer(durationOrDefault(params.DebounceWindow, defaultDebounceWindow), clock, e.flush)
	return e, nil
}

// Start restores cached state, loads the remote record and opens the live
// subscription. Remote failures degrade to local-only mode and are recorded
// on the view's Err field rather than returned.
func (e *CartEngine) Start(ctx context.Context) {
	ctx = e.logg.WithUserID(ctx, e.userID)
	ctx = e.logg.WithCollection(ctx, events.CollectionCart)

	e.restoreFromCache(ctx)

	loadCtx, cancel := context.WithTimeout(ctx, e.loadTimeout)
	defer cancel()
	rec, err := e.store.LoadCart(loadCtx, e.userID)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		e.mu.Lock()
		e.loading = false
		e.mu.Unlock()
	case err != nil:
		e.setErr(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart record"))
		e.mu.Lock()
		e.loading = false
		e.mu.Unlock()
		e.logg.Warn(ctx, "cart load failed, continuing local-only")
	default:
		e.apply(*rec)
	}

	sub, err := e.store.WatchCart(ctx, e.userID)
	if err != nil {
		e.setErr(pkgerrors.Wrap(pkgerrors.CodeSubscription, err, "watch cart record"))
		e.logg.Warn(ctx, "cart subscription unavailable")
		return
	}
	e.mu.Lock()
	e.sub = sub
	e.pumpDone = make(chan struct{})
	e.mu.Unlock()
	e.met.SubscriptionOpened(events.CollectionCart)
	go e.pump(ctx, sub)
}

// AddItem merges the product into the cart (incrementing quantity on re-add)
// and schedules a debounced persist. Availability is advisory; no upper
// bound is enforced.
func (e *CartEngine) AddItem(product collection.CartLine, qty int) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.items.Add(product, qty)
	e.mirrorCacheLocked()
	e.mu.Unlock()

	e.met.IncMutation(events.CollectionCart, "add_item")
	e.deb.Trigger()
}

// SetQuantity sets a line's quantity directly; zero or below removes the line.
func (e *CartEngine) SetQuantity(productID string, qty int) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.items.SetQuantity(productID, qty)
	e.mirrorCacheLocked()
	e.mu.Unlock()

	e.met.IncMutation(events.CollectionCart, "set_quantity")
	e.deb.Trigger()
}

// RemoveItem drops the line; absent IDs are a silent no-op.
func (e *CartEngine) RemoveItem(productID string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.items.Remove(productID)
	e.mirrorCacheLocked()
	e.mu.Unlock()

	e.met.IncMutation(events.CollectionCart, "remove_item")
	e.deb.Trigger()
}

// Clear empties the cart unconditionally.
func (e *CartEngine) Clear() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.items.Clear()
	e.mirrorCacheLocked()
	e.mu.Unlock()

	e.met.IncMutation(events.CollectionCart, "clear")
	e.deb.Trigger()
}

// View returns a consistent copy of the current read model, with totals
// recomputed on every call.
func (e *CartEngine) View() CartView {
	e.mu.Lock()
	items := e.items.Clone()
	loading := e.loading
	lastErr := e.lastErr
	e.mu.Unlock()

	return CartView{
		Items:   items,
		Loading: loading,
		Err:     lastErr,
		Totals:  pricing.Compute(items),
	}
}

// ItemQuantity returns the quantity for one product, zero when absent.
func (e *CartEngine) ItemQuantity(productID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	line, ok := e.items.FindLine(productID)
	if !ok {
		return 0
	}
	return line.Quantity
}

// TotalItems returns the summed quantity across all lines.
func (e *CartEngine) TotalItems() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.items.TotalQuantity()
}

// Close tears the engine down: pending flushes are cancelled, the
// subscription is closed exactly once, and no callback mutates state
// afterwards.
func (e *CartEngine) Close() {
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

func (e *CartEngine) pump(ctx context.Context, sub remote.CartSubscription) {
	defer func() {
		e.met.SubscriptionClosed(events.CollectionCart)
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
			// The feed is considered dead; re-attach is required to resume.
			e.setErr(pkgerrors.Wrap(pkgerrors.CodeSubscription, err, "cart subscription lost"))
			e.logg.Warn(ctx, "cart subscription terminated")
		}
	}
}

// apply folds a pushed snapshot into local state using the configured
// reconciliation policy. The default replaces local state wholesale.
func (e *CartEngine) apply(rec remote.CartRecord) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.items = e.reconcile(e.items, rec)
	e.loading = false
	e.lastErr = ""
	e.mirrorCacheLocked()
	e.mu.Unlock()

	e.met.IncReconciliation(events.CollectionCart)
}

// flush writes the entire current cart to the remote store. Writes are
// single-flight: a fire that lands while a write is still in the retry loop
// marks a pending pass instead of racing it, so a slow older snapshot can
// never overwrite a newer one.
func (e *CartEngine) flush() {
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

// flushOnce snapshots the cart and writes it with a bounded timeout and
// capped backoff retries. Local state is never rolled back on failure; the
// error surfaces on the view and the next mutation retriggers.
func (e *CartEngine) flushOnce() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	rec := remote.CartRecord{
		Items:     e.items.Clone(),
		UpdatedAt: e.clock.Now().UTC(),
	}
	e.mu.Unlock()

	ctx := e.logg.WithUserID(context.Background(), e.userID)
	ctx = e.logg.WithCollection(ctx, events.CollectionCart)
	writeCtx, cancel := context.WithTimeout(ctx, e.writeTimeout)
	defer cancel()

	backoff := retry.WithJitter(e.retryBackoff/4, retry.NewExponential(e.retryBackoff))
	backoff = retry.WithMaxRetries(e.maxRetries, backoff)

	start := e.clock.Now()
	attempt := 0
	err := retry.Do(writeCtx, backoff, func(ctx context.Context) error {
		attempt++
		if saveErr := e.store.SaveCart(ctx, e.userID, rec); saveErr != nil {
			if attempt > 1 {
				e.met.IncFlushRetry(events.CollectionCart)
			}
			return retry.RetryableError(saveErr)
		}
		return nil
	})
	e.met.ObserveFlushDuration(events.CollectionCart, e.clock.Now().Sub(start))

	if err != nil {
		e.met.IncFlush(events.CollectionCart, "failure")
		e.setErr(pkgerrors.Wrap(pkgerrors.CodeSyncFailure, err, "persist cart record"))
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "cart flush failed, keeping local state")
		return
	}

	e.met.IncFlush(events.CollectionCart, "success")
	e.clearErr()

	if e.events != nil {
		e.events.CollectionUpdated(ctx, events.Update{
			Collection:    events.CollectionCart,
			UserID:        e.userID,
			ItemCount:     len(rec.Items),
			TotalQuantity: rec.Items.TotalQuantity(),
			Subtotal:      rec.Items.TotalValue().String(),
			UpdatedAt:     rec.UpdatedAt,
		})
	}
}

func (e *CartEngine) restoreFromCache(ctx context.Context) {
	if e.cache == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	payload, err := e.cache.Get(cacheCtx, localcache.CartKey(e.sessionID))
	if err != nil {
		if !errors.Is(err, localcache.ErrMiss) {
			e.logg.Debug(ctx, "cart cache read failed")
		}
		return
	}
	var rec remote.CartRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		e.logg.Debug(ctx, "cart cache entry corrupt, ignoring")
		return
	}
	e.mu.Lock()
	e.items = rec.Items.Clone()
	e.mu.Unlock()
}

// mirrorCacheLocked persists the current state into the local cache.
// Callers must hold e.mu. Failures are swallowed: the cache is a restart
// convenience, never part of the sync contract.
func (e *CartEngine) mirrorCacheLocked() {
	if e.cache == nil {
		return
	}
	payload, err := json.Marshal(remote.CartRecord{
		Items:     e.items,
		UpdatedAt: e.clock.Now().UTC(),
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	_ = e.cache.Put(ctx, localcache.CartKey(e.sessionID), payload)
}

func (e *CartEngine) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.lastErr = err.Error()
}

func (e *CartEngine) clearErr() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = ""
}

func durationOrDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
