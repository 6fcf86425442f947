package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/angelmondragon/bizledger-backend/pkg/db/models"
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	"github.com/angelmondragon/bizledger-backend/pkg/logger"
	"github.com/angelmondragon/bizledger-backend/pkg/redis"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Route holds what the router needs from the Master DB to reach a tenant.
type Route struct {
	TenantID       uuid.UUID          `json:"tenant_id"`
	Status         enums.TenantStatus `json:"status"`
	DatabaseName   string             `json:"database_name"`
	DatabaseServer string             `json:"database_server"`
}

// RouteCache is the optional shared cache in front of the tenants table.
type RouteCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	TenantRouteKey(tenantID string) string
}

type routeLookup struct {
	cache RouteCache
	ttl   time.Duration
	logg  *logger.Logger
}

func (l routeLookup) find(ctx context.Context, master *gorm.DB, tenantID uuid.UUID) (*Route, error) {
	if l.cache != nil {
		if route, ok := l.fromCache(ctx, tenantID); ok {
			return route, nil
		}
	}

	var tenant models.Tenant
	err := master.WithContext(ctx).
		Select("id", "status", "database_name", "database_server").
		Where("id = ?", tenantID).
		Take(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}

	route := &Route{
		TenantID:       tenant.ID,
		Status:         tenant.Status,
		DatabaseName:   tenant.DatabaseName,
		DatabaseServer: tenant.DatabaseServer,
	}
	if l.cache != nil {
		l.toCache(ctx, route)
	}
	return route, nil
}

// Cache failures only cost a Master DB round trip, so they are logged and
// otherwise ignored.
func (l routeLookup) fromCache(ctx context.Context, tenantID uuid.UUID) (*Route, bool) {
	raw, err := l.cache.Get(ctx, l.cache.TenantRouteKey(tenantID.String()))
	if err != nil {
		if !redis.IsMiss(err) {
			l.logg.Warn(l.logg.WithTenantID(ctx, tenantID.String()), "reading cached tenant route failed")
		}
		return nil, false
	}
	if raw == "" {
		return nil, false
	}
	var route Route
	if err := json.Unmarshal([]byte(raw), &route); err != nil || route.TenantID != tenantID {
		l.logg.Warn(l.logg.WithTenantID(ctx, tenantID.String()), "discarding malformed cached tenant route")
		return nil, false
	}
	return &route, true
}

func (l routeLookup) toCache(ctx context.Context, route *Route) {
	raw, err := json.Marshal(route)
	if err != nil {
		return
	}
	if err := l.cache.Set(ctx, l.cache.TenantRouteKey(route.TenantID.String()), string(raw), l.ttl); err != nil {
		l.logg.Warn(l.logg.WithTenantID(ctx, route.TenantID.String()), "caching tenant route failed")
	}
}

func (l routeLookup) forget(ctx context.Context, tenantID uuid.UUID) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Del(ctx, l.cache.TenantRouteKey(tenantID.String())); err != nil {
		l.logg.Warn(l.logg.WithTenantID(ctx, tenantID.String()), "dropping cached tenant route failed")
	}
}
