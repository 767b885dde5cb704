package middleware

import (
	"net/http"
	"strings"

	"github.com/joaquinreyes/atelier-backend/api/responses"
	pkgauth "github.com/joaquinreyes/atelier-backend/pkg/auth"
	"github.com/joaquinreyes/atelier-backend/pkg/config"
	pkgerrors "github.com/joaquinreyes/atelier-backend/pkg/errors"
	"github.com/joaquinreyes/atelier-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the
// authenticated user and session identifiers.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithIdentity(r.Context(), claims.UserID, claims.SessionID())
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID)
				ctx = logg.WithSessionID(ctx, claims.SessionID())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
