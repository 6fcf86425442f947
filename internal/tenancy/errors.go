package tenancy

import "errors"

var (
	// ErrNotInitialized is returned before Initialize succeeds or after Close.
	ErrNotInitialized = errors.New("tenant router not initialized")
	// ErrTenantNotFound means no tenants row exists for the id.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrTenantUnavailable means the tenant exists but is not active.
	ErrTenantUnavailable = errors.New("tenant not active")

	errStaleRoute = errors.New("tenant invalidated during dial")
)
