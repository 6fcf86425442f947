package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/bizledger-backend/pkg/config"
	"github.com/angelmondragon/bizledger-backend/pkg/db"
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bizledger-backend/pkg/errors"
	"github.com/angelmondragon/bizledger-backend/pkg/logger"
	"github.com/angelmondragon/bizledger-backend/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

// Dialer opens a pooled connection. db.Open in production; tests substitute
// sqlite or counting fakes.
type Dialer func(ctx context.Context, opts db.Options, logg *logger.Logger) (*db.Client, error)

// RouterParams wires the router dependencies.
type RouterParams struct {
	Master   config.DBConfig
	TenantDB config.TenantDBConfig
	Dialer   Dialer
	// RouteCache is optional; without it every pool creation reads the
	// tenants table.
	RouteCache RouteCache
	Logger     *logger.Logger
	Metrics    *metrics.RouterMetrics
	Now        func() time.Time
}

type entry struct {
	client     *db.Client
	lastAccess atomic.Int64
	pinned     bool
}

func (e *entry) touch(now time.Time) {
	e.lastAccess.Store(now.UnixNano())
}

func (e *entry) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, e.lastAccess.Load()))
}

// Router owns the Master DB connection and a cache of per-tenant pools.
type Router struct {
	masterCfg config.DBConfig
	tenantCfg config.TenantDBConfig
	dial      Dialer
	routes    routeLookup
	logg      *logger.Logger
	metrics   *metrics.RouterMetrics
	now       func() time.Time

	initGroup singleflight.Group
	dialGroup singleflight.Group

	mu     sync.RWMutex
	master *db.Client
	conns  map[uuid.UUID]*entry
	// gens counts invalidations per tenant; a dial that started under an
	// older generation must not publish its pool.
	gens   map[uuid.UUID]uint64
	closed bool
}

// NewRouter builds an uninitialized router. Call Initialize before use.
func NewRouter(p RouterParams) *Router {
	if p.Dialer == nil {
		p.Dialer = db.Open
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Router{
		masterCfg: p.Master,
		tenantCfg: p.TenantDB,
		dial:      p.Dialer,
		routes:    routeLookup{cache: p.RouteCache, ttl: p.TenantDB.RouteCacheTTL, logg: p.Logger},
		logg:      p.Logger,
		metrics:   p.Metrics,
		now:       p.Now,
		conns:     make(map[uuid.UUID]*entry),
		gens:      make(map[uuid.UUID]uint64),
	}
}

// Initialize opens the Master DB connection once. Concurrent callers share a
// single dial and a failed attempt can be retried.
func (r *Router) Initialize(ctx context.Context) error {
	r.mu.RLock()
	ready, closed := r.master != nil, r.closed
	r.mu.RUnlock()
	if closed {
		return ErrNotInitialized
	}
	if ready {
		return nil
	}

	_, err, _ := r.initGroup.Do("master", func() (any, error) {
		r.mu.RLock()
		ready := r.master != nil
		r.mu.RUnlock()
		if ready {
			return nil, nil
		}

		client, err := r.dial(ctx, db.Options{Name: "master", DSN: r.masterCfg.DSN, Pool: r.masterCfg}, r.logg)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "master database unavailable")
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			_ = client.Close()
			return nil, ErrNotInitialized
		}
		r.master = client
		return nil, nil
	})
	return err
}

// Master returns the Master DB connection.
func (r *Router) Master() (*db.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.master == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotInitialized, ErrNotInitialized, "tenant router not initialized")
	}
	return r.master, nil
}

// GetConnection returns the pooled connection for a tenant, opening it on
// first use. Concurrent first requests for one tenant share a single dial;
// different tenants dial in parallel.
func (r *Router) GetConnection(ctx context.Context, tenantID uuid.UUID) (*db.Client, error) {
	if client, ok := r.cached(tenantID); ok {
		return client, nil
	}

	master, err := r.Master()
	if err != nil {
		return nil, err
	}

	// The dial runs detached from the first caller's cancellation so waiters
	// sharing the flight are not failed by someone else's disconnect.
	ch := r.dialGroup.DoChan(tenantID.String(), func() (any, error) {
		return r.open(context.WithoutCancel(ctx), master, tenantID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*db.Client), nil
	}
}

func (r *Router) cached(tenantID uuid.UUID) (*db.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[tenantID]
	if !ok {
		return nil, false
	}
	// Touching under the read lock orders this access against EvictIdle,
	// which re-checks idleness under the write lock.
	e.touch(r.now())
	return e.client, true
}

// open retries once when an invalidation raced the dial, so the caller sees
// the tenant's current route rather than the one read before the change.
func (r *Router) open(ctx context.Context, master *db.Client, tenantID uuid.UUID) (*db.Client, error) {
	ctx = r.logg.WithTenantID(ctx, tenantID.String())
	for attempt := 0; attempt < 2; attempt++ {
		client, err := r.openOnce(ctx, master, tenantID)
		if !errors.Is(err, errStaleRoute) {
			return client, err
		}
		r.logg.Info(ctx, "tenant invalidated during dial, discarding pool")
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, errStaleRoute, "tenant routing changed, retry")
}

// openOnce resolves and dials the tenant. It returns errStaleRoute when the
// tenant was invalidated while the dial was in flight.
func (r *Router) openOnce(ctx context.Context, master *db.Client, tenantID uuid.UUID) (*db.Client, error) {
	if client, ok := r.cached(tenantID); ok {
		return client, nil
	}

	r.mu.RLock()
	gen := r.gens[tenantID]
	r.mu.RUnlock()

	started := r.now()

	route, err := r.routes.find(ctx, master.DB(), tenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "tenant not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolving tenant route")
	}
	if route.Status != enums.TenantStatusActive {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTenantSuspended, ErrTenantUnavailable, "tenant is not active")
	}

	dsn, err := r.tenantCfg.DSNFor(route.DatabaseServer, route.DatabaseName)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building tenant dsn")
	}

	client, err := r.dial(ctx, db.Options{Name: route.DatabaseName, DSN: dsn, Pool: r.tenantCfg.PoolSettings()}, r.logg)
	if err != nil {
		r.metrics.DialFailed()
		r.logg.Error(ctx, "tenant database unreachable", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "tenant database unavailable")
	}

	e := &entry{client: client}
	e.touch(r.now())

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = client.Close()
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotInitialized, ErrNotInitialized, "tenant router closed")
	}
	if r.gens[tenantID] != gen {
		r.mu.Unlock()
		_ = client.Close()
		r.routes.forget(ctx, tenantID)
		return nil, errStaleRoute
	}
	r.conns[tenantID] = e
	r.mu.Unlock()

	r.metrics.PoolOpened(r.now().Sub(started))
	r.logg.Info(r.logg.WithField(ctx, "database", route.DatabaseName), "tenant pool opened")
	return client, nil
}

// HasConnection reports whether a pool for the tenant is cached.
func (r *Router) HasConnection(tenantID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[tenantID]
	return ok
}

// RegisterStatic pins a pre-opened connection for a tenant. Pinned pools are
// never evicted and back the single-tenant login path.
func (r *Router) RegisterStatic(tenantID uuid.UUID, client *db.Client) error {
	if client == nil {
		return fmt.Errorf("static connection for tenant %s is nil", tenantID)
	}
	e := &entry{client: client, pinned: true}
	e.touch(r.now())

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrNotInitialized
	}
	if _, exists := r.conns[tenantID]; exists {
		return fmt.Errorf("tenant %s already has a connection", tenantID)
	}
	r.conns[tenantID] = e
	return nil
}

// InvalidateTenantCache drops and closes the tenant's pool and its cached
// route so the next request re-reads the Master DB. Unknown tenants and
// pinned pools are left alone.
func (r *Router) InvalidateTenantCache(ctx context.Context, tenantID uuid.UUID) {
	r.routes.forget(ctx, tenantID)

	r.mu.Lock()
	r.gens[tenantID]++
	e, ok := r.conns[tenantID]
	if ok && !e.pinned {
		delete(r.conns, tenantID)
	}
	r.mu.Unlock()
	if !ok || e.pinned {
		return
	}

	ctx = r.logg.WithTenantID(ctx, tenantID.String())
	if err := e.client.Close(); err != nil {
		r.logg.Warn(ctx, "closing invalidated tenant pool failed")
	}
	r.metrics.PoolClosed("invalidated")
	r.logg.Info(ctx, "tenant pool invalidated")
}

// EvictIdle closes pools unused for longer than the configured idle age and
// returns how many were closed.
func (r *Router) EvictIdle(now time.Time) int {
	maxIdle := r.tenantCfg.MaxIdleAge
	if maxIdle <= 0 {
		return 0
	}

	r.mu.RLock()
	candidates := make([]uuid.UUID, 0)
	for id, e := range r.conns {
		if !e.pinned && e.idleSince(now) > maxIdle {
			candidates = append(candidates, id)
		}
	}
	r.mu.RUnlock()

	evicted := make([]*db.Client, 0, len(candidates))
	r.mu.Lock()
	for _, id := range candidates {
		// Re-check: a reader may have touched the entry since the scan.
		e, ok := r.conns[id]
		if !ok || e.idleSince(now) <= maxIdle {
			continue
		}
		delete(r.conns, id)
		evicted = append(evicted, e.client)
	}
	r.mu.Unlock()

	for _, client := range evicted {
		if err := client.Close(); err != nil {
			r.logg.Warn(r.logg.WithField(context.Background(), "database", client.Name()), "closing idle tenant pool failed")
		}
		r.metrics.PoolClosed("idle")
	}
	return len(evicted)
}

// Run evicts idle pools on every tick until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	interval := r.tenantCfg.EvictionInterval
	if interval <= 0 {
		return fmt.Errorf("eviction interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logg.Info(ctx, "tenant pool eviction loop started")
	for {
		select {
		case <-ctx.Done():
			r.logg.Info(ctx, "tenant pool eviction loop stopped")
			return ctx.Err()
		case <-ticker.C:
			started := r.now()
			if n := r.EvictIdle(started); n > 0 {
				r.logg.Info(r.logg.WithField(ctx, "evicted", n), "idle tenant pools closed")
			}
			r.metrics.ObserveSweep(r.now().Sub(started))
		}
	}
}

// Close shuts every cached pool and the master connection. Calling it more
// than once is safe.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conns := r.conns
	master := r.master
	r.conns = make(map[uuid.UUID]*entry)
	r.master = nil
	r.mu.Unlock()

	var err error
	for id, e := range conns {
		if closeErr := e.client.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("closing tenant %s pool: %w", id, closeErr))
		}
		if !e.pinned {
			r.metrics.PoolClosed("shutdown")
		}
	}
	if master != nil {
		if closeErr := master.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("closing master pool: %w", closeErr))
		}
	}
	return err
}
