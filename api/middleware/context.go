package middleware

import (
	"context"

	"github.com/angelmondragon/bizledger-backend/internal/auth"
	"github.com/angelmondragon/bizledger-backend/pkg/db"
	"github.com/google/uuid"
)

type contextKey string

const (
	ctxIdentity contextKey = "identity"
	ctxStoreID  contextKey = "store_id"
)

// IdentityFromContext returns the authenticated identity, or nil outside Auth.
func IdentityFromContext(ctx context.Context) *auth.Identity {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxIdentity).(*auth.Identity); ok {
		return v
	}
	return nil
}

// TenantDBFromContext returns the tenant connection bound to the request.
func TenantDBFromContext(ctx context.Context) *db.Client {
	if identity := IdentityFromContext(ctx); identity != nil {
		return identity.Conn
	}
	return nil
}

// UserIDFromContext returns the authenticated user id as a string.
func UserIDFromContext(ctx context.Context) string {
	if identity := IdentityFromContext(ctx); identity != nil && identity.User != nil {
		return identity.User.ID.String()
	}
	return ""
}

// RoleFromContext returns the authenticated user's base role.
func RoleFromContext(ctx context.Context) string {
	if identity := IdentityFromContext(ctx); identity != nil && identity.User != nil {
		return identity.Role().String()
	}
	return ""
}

// StoreIDFromContext returns the store selected by StoreContext, if any.
func StoreIDFromContext(ctx context.Context) *uuid.UUID {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxStoreID).(uuid.UUID); ok {
		return &v
	}
	return nil
}

// WithIdentity injects the identity into the context.
func WithIdentity(ctx context.Context, identity *auth.Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxIdentity, identity)
}

// WithStoreID injects the store identifier into the context for downstream handlers.
func WithStoreID(ctx context.Context, storeID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxStoreID, storeID)
}
