package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/joaquinreyes/atelier-backend/internal/events"
	"github.com/joaquinreyes/atelier-backend/internal/localcache"
	"github.com/joaquinreyes/atelier-backend/internal/remote"
	"github.com/joaquinreyes/atelier-backend/pkg/logger"
	"github.com/joaquinreyes/atelier-backend/pkg/metrics"
)

// Session bundles the per-user engines created on attach. Both engines share
// the user's identity but run independent debounce and subscription
// lifecycles.
type Session struct {
	UserID    string
	SessionID string
	Cart      *CartEngine
	Wishlist  *WishlistEngine
}

// ManagerParams groups shared dependencies handed to every engine the
// manager creates.
type ManagerParams struct {
	Store   remote.Store
	Cache   localcache.Store
	Events  events.Publisher
	Logger  *logger.Logger
	Metrics *metrics.SyncMetrics

	DebounceWindow time.Duration
	WriteTimeout   time.Duration
	LoadTimeout    time.Duration
	MaxRetries     uint64
	RetryBackoff   time.Duration
	Clock          Clock
}

// Manager binds engine lifecycles to the auth context: a sign-in attaches a
// session (opening subscriptions), a sign-out detaches it (closing them and
// clearing the session's cached state). One session per user at a time.
type Manager struct {
	params ManagerParams

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewManager(params ManagerParams) (*Manager, error) {
	if params.Store == nil {
		return nil, errRequired("remote store")
	}
	if params.Logger == nil {
		return nil, errRequired("logger")
	}
	return &Manager{
		params:   params,
		sessions: make(map[string]*Session),
	}, nil
}

// Attach creates and starts the engines for a signed-in user. Attaching an
// already-attached user is a no-op returning the existing session; a new
// session id for the same user replaces the old session.
func (m *Manager) Attach(ctx context.Context, userID, sessionID string) (*Session, error) {
	if userID == "" {
		return nil, errRequired("user id")
	}
	if sessionID == "" {
		return nil, errRequired("session id")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errManagerClosed
	}
	existing, attached := m.sessions[userID]
	m.mu.Unlock()
	if attached {
		if existing.SessionID == sessionID {
			return existing, nil
		}
		m.Detach(ctx, userID)
	}

	cart, err := NewCartEngine(CartEngineParams{
		UserID:         userID,
		SessionID:      sessionID,
		Store:          m.params.Store,
		Cache:          m.params.Cache,
		Events:         m.params.Events,
		Logger:         m.params.Logger,
		Metrics:        m.params.Metrics,
		DebounceWindow: m.params.DebounceWindow,
		WriteTimeout:   m.params.WriteTimeout,
		LoadTimeout:    m.params.LoadTimeout,
		MaxRetries:     m.params.MaxRetries,
		RetryBackoff:   m.params.RetryBackoff,
		Clock:          m.params.Clock,
	})
	if err != nil {
		return nil, err
	}
	wishlist, err := NewWishlistEngine(WishlistEngineParams{
		UserID:         userID,
		SessionID:      sessionID,
		Store:          m.params.Store,
		Cache:          m.params.Cache,
		Events:         m.params.Events,
		Logger:         m.params.Logger,
		Metrics:        m.params.Metrics,
		DebounceWindow: m.params.DebounceWindow,
		WriteTimeout:   m.params.WriteTimeout,
		LoadTimeout:    m.params.LoadTimeout,
		MaxRetries:     m.params.MaxRetries,
		RetryBackoff:   m.params.RetryBackoff,
		Clock:          m.params.Clock,
	})
	if err != nil {
		return nil, err
	}

	session := &Session{
		UserID:    userID,
		SessionID: sessionID,
		Cart:      cart,
		Wishlist:  wishlist,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errManagerClosed
	}
	if raced, ok := m.sessions[userID]; ok {
		// Another attach for the same user won; keep theirs.
		m.mu.Unlock()
		return raced, nil
	}
	m.sessions[userID] = session
	m.mu.Unlock()

	cart.Start(ctx)
	wishlist.Start(ctx)

	m.params.Logger.Info(m.params.Logger.WithUserID(ctx, userID), "sync session attached")
	return session, nil
}

// Session returns the live session for a user, or nil when detached.
func (m *Manager) Session(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[userID]
}

// Detach tears down the user's session: subscriptions close exactly once,
// pending flushes are dropped, and the session's cached records are cleared
// so the next sign-in on this session starts clean. Detaching an unknown
// user is a no-op. Cache delete failures are aggregated and returned; the
// session is gone either way.
func (m *Manager) Detach(ctx context.Context, userID string) error {
	m.mu.Lock()
	session, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	session.Cart.Close()
	session.Wishlist.Close()

	var err error
	if m.params.Cache != nil {
		cacheCtx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
		defer cancel()
		err = multierr.Append(
			m.params.Cache.Delete(cacheCtx, localcache.CartKey(session.SessionID)),
			m.params.Cache.Delete(cacheCtx, localcache.WishlistKey(session.SessionID)),
		)
	}
	if err != nil {
		logCtx := m.params.Logger.WithUserID(ctx, userID)
		m.params.Logger.Warn(m.params.Logger.WithField(logCtx, "error", err.Error()), "session cache cleanup failed")
	}

	m.params.Logger.Info(m.params.Logger.WithUserID(ctx, userID), "sync session detached")
	return err
}

// Close detaches every live session, combining any cleanup errors. The
// manager accepts no attaches afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	userIDs := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		userIDs = append(userIDs, id)
	}
	m.mu.Unlock()

	var err error
	for _, id := range userIDs {
		err = multierr.Append(err, m.Detach(ctx, id))
	}
	return err
}
