package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/bizledger-backend/api/middleware"
	"github.com/angelmondragon/bizledger-backend/api/responses"
	"github.com/angelmondragon/bizledger-backend/api/validators"
	"github.com/angelmondragon/bizledger-backend/internal/auth"
	"github.com/angelmondragon/bizledger-backend/internal/permissions"
	"github.com/angelmondragon/bizledger-backend/pkg/auth/session"
	pkgerrors "github.com/angelmondragon/bizledger-backend/pkg/errors"
	"github.com/angelmondragon/bizledger-backend/pkg/logger"
)

// SessionCookie controls how the session token is mirrored into a cookie.
type SessionCookie struct {
	Name   string
	Secure bool
}

func (c SessionCookie) name() string {
	if c.Name == "" {
		return middleware.DefaultSessionCookie
	}
	return c.Name
}

func (c SessionCookie) set(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c SessionCookie) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// AuthLogin wires the login endpoint into the HTTP layer.
func AuthLogin(svc auth.Service, cookie SessionCookie, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			err := pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body auth.LoginRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Login(r.Context(), body, clientInfo(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		w.Header().Set(middleware.TokenHeader, result.Token)
		cookie.set(w, result.Token, result.ExpiresAt)
		responses.WriteSuccess(w, result)
	}
}

// AuthLogout revokes the session behind the presented token.
func AuthLogout(svc auth.Service, cookie SessionCookie, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := middleware.IdentityFromContext(r.Context())
		if identity == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		if err := svc.Logout(r.Context(), identity.TenantID(), identity.Claims.SessionID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cookie.clear(w)
		responses.WriteSuccess(w, map[string]bool{"success": true})
	}
}

// AuthMe returns the current user re-read from the tenant database.
func AuthMe(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return currentUser(svc, logg)
}

// AuthRefresh re-reads the identity so clients pick up role and store
// changes. The token is not rotated.
func AuthRefresh(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return currentUser(svc, logg)
}

func currentUser(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := middleware.IdentityFromContext(r.Context())
		if identity == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		result, err := svc.CurrentUser(r.Context(), identity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type permissionsResponse struct {
	Role        string                    `json:"role"`
	StoreID     *string                   `json:"store_id,omitempty"`
	Permissions permissions.PermissionMap `json:"permissions"`
}

// AuthPermissions returns the effective permission map, scoped to the store
// selected by StoreContext when present.
func AuthPermissions(resolver *permissions.Resolver, logg *logger.Logger) http.HandlerFunc {
	if resolver == nil {
		resolver = permissions.NewResolver()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		identity := middleware.IdentityFromContext(r.Context())
		if identity == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		storeID := middleware.StoreIDFromContext(r.Context())
		payload := permissionsResponse{
			Role:        identity.Role().String(),
			Permissions: resolver.ForSubject(identity.Subject, storeID),
		}
		if storeID != nil {
			id := storeID.String()
			payload.StoreID = &id
		}
		responses.WriteSuccess(w, payload)
	}
}

func clientInfo(r *http.Request) session.ClientInfo {
	return session.ClientInfo{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}
