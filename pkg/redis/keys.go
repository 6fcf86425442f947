package redis

import "strings"

// Every key lives under the bl: namespace so a shared Redis can be flushed
// per application.
const keyNamespace = "bl"

const (
	kindRateLimit   = "rate_limit"
	kindTenantRoute = "tenant_route"
	kindLock        = "lock"
)

func (c *Client) RateLimitKey(scope string) string {
	return buildKey(kindRateLimit, scope)
}

// TenantRouteKey is the cache key for a tenant's database coordinates.
func (c *Client) TenantRouteKey(tenantID string) string {
	return buildKey(kindTenantRoute, tenantID)
}

// LockKey names the lock guarding a background job.
func (c *Client) LockKey(name string) string {
	return buildKey(kindLock, name)
}

func buildKey(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}
