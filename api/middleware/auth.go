package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/bizledger-backend/api/responses"
	"github.com/angelmondragon/bizledger-backend/internal/auth"
	pkgerrors "github.com/angelmondragon/bizledger-backend/pkg/errors"
	"github.com/angelmondragon/bizledger-backend/pkg/logger"
)

const (
	// DefaultSessionCookie is the cookie consulted when no bearer header is sent.
	DefaultSessionCookie = "session"
	// TokenHeader mirrors an issued token for clients that do not read bodies.
	TokenHeader = "X-BL-Token"
)

// Authenticator resolves a raw token into a request identity.
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*auth.Identity, error)
}

// Auth validates the session token and seeds the request context with the
// identity, its tenant connection and the matching log fields.
func Auth(authenticator Authenticator, cookieName string, logg *logger.Logger) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r, cookieName)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			identity, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"tenant_id":  identity.TenantID().String(),
					"user_id":    identity.User.ID.String(),
					"session_id": identity.Claims.SessionID.String(),
					"actor_role": identity.Role().String(),
				})
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest reads the bearer token, falling back to the session cookie.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if raw := strings.TrimSpace(r.Header.Get("Authorization")); raw != "" {
		token := raw
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[7:])
		}
		return token
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
