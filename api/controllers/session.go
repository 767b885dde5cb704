package controllers

import (
	"context"
	"net/http"

	"github.com/joaquinreyes/atelier-backend/api/middleware"
	"github.com/joaquinreyes/atelier-backend/api/responses"
	"github.com/joaquinreyes/atelier-backend/internal/engine"
	pkgerrors "github.com/joaquinreyes/atelier-backend/pkg/errors"
	"github.com/joaquinreyes/atelier-backend/pkg/logger"
)

// SessionBinder attaches and detaches per-user sync sessions. Satisfied by
// *engine.Manager.
type SessionBinder interface {
	Attach(ctx context.Context, userID, sessionID string) (*engine.Session, error)
	Detach(ctx context.Context, userID string) error
}

// bindSession resolves the authenticated identity and attaches (or re-uses)
// the user's sync session. Attach is idempotent for a repeated session ID,
// so calling it per request is cheap after the first.
func bindSession(r *http.Request, binder SessionBinder) (*engine.Session, error) {
	userID := middleware.UserIDFromContext(r.Context())
	sessionID := middleware.SessionIDFromContext(r.Context())
	if userID == "" || sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing identity context")
	}
	session, err := binder.Attach(r.Context(), userID, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach sync session")
	}
	return session, nil
}

// SessionDetach tears down the caller's sync session on sign-out: remote
// subscriptions close and the session's cached state is cleared.
func SessionDetach(binder SessionBinder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing identity context"))
			return
		}

		if err := binder.Detach(r.Context(), userID); err != nil {
			// The session is detached regardless; cache cleanup hiccups
			// should not fail the sign-out.
			logg.Warn(r.Context(), "session cache cleanup failed on detach")
		}
		responses.WriteSuccess(w, map[string]string{"status": "detached"})
	}
}
