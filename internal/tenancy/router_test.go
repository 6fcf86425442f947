package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/bizledger-backend/pkg/config"
	"github.com/angelmondragon/bizledger-backend/pkg/db"
	"github.com/angelmondragon/bizledger-backend/pkg/db/models"
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bizledger-backend/pkg/errors"
	"github.com/angelmondragon/bizledger-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingDialer struct {
	mu    sync.Mutex
	calls map[string]int
	delay time.Duration
	fail  map[string]error
	// before runs ahead of each dial, outside the dialer's lock.
	before func(name string)
}

func newCountingDialer() *countingDialer {
	return &countingDialer{calls: map[string]int{}, fail: map[string]error{}}
}

func (d *countingDialer) Dial(ctx context.Context, opts db.Options, logg *logger.Logger) (*db.Client, error) {
	d.mu.Lock()
	d.calls[opts.Name]++
	failure := d.fail[opts.Name]
	before := d.before
	d.mu.Unlock()
	if before != nil {
		before(opts.Name)
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if failure != nil {
		return nil, failure
	}
	return db.Open(ctx, opts, logg)
}

func (d *countingDialer) Calls(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[name]
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *mapCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", errors.New("miss")
	}
	return v, nil
}

func (m *mapCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *mapCache) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *mapCache) TenantRouteKey(tenantID string) string { return "route:" + tenantID }

type fixture struct {
	router *Router
	dialer *countingDialer
	clock  *fakeClock
	cache  *mapCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dialer: newCountingDialer(),
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		cache:  &mapCache{data: map[string]string{}},
	}
	f.router = NewRouter(RouterParams{
		Master: config.DBConfig{
			Driver: config.DriverSQLite,
			DSN:    fmt.Sprintf("file:master_%s?mode=memory&cache=shared", uuid.NewString()),
		},
		TenantDB: config.TenantDBConfig{
			Driver:        config.DriverSQLite,
			SQLitePattern: "file:%s?mode=memory&cache=shared",
			MaxIdleAge:    30 * time.Minute,
			RouteCacheTTL: time.Minute,
		},
		Dialer:     f.dialer.Dial,
		RouteCache: f.cache,
		Now:        f.clock.Now,
	})
	t.Cleanup(func() { _ = f.router.Close() })
	return f
}

func (f *fixture) init(t *testing.T) {
	t.Helper()
	require.NoError(t, f.router.Initialize(context.Background()))
	master, err := f.router.Master()
	require.NoError(t, err)
	require.NoError(t, master.DB().AutoMigrate(&models.Tenant{}))
}

func (f *fixture) addTenant(t *testing.T, status enums.TenantStatus) models.Tenant {
	t.Helper()
	master, err := f.router.Master()
	require.NoError(t, err)
	suffix := uuid.NewString()
	tenant := models.Tenant{
		Name:         "Tenant " + suffix[:8],
		Slug:         "t-" + suffix,
		ContactEmail: suffix + "@example.test",
		Status:       status,
		DatabaseName: "tenant_" + suffix,
	}
	require.NoError(t, master.DB().Create(&tenant).Error)
	return tenant
}

func TestRouterRequiresInitialize(t *testing.T) {
	f := newFixture(t)

	_, err := f.router.Master()
	require.ErrorIs(t, err, ErrNotInitialized)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotInitialized))

	_, err = f.router.GetConnection(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitializeDialsMasterOnce(t *testing.T) {
	f := newFixture(t)
	f.dialer.delay = 20 * time.Millisecond

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error { return f.router.Initialize(context.Background()) })
	}
	require.NoError(t, g.Wait())
	require.NoError(t, f.router.Initialize(context.Background()))
	assert.Equal(t, 1, f.dialer.Calls("master"))
}

func TestInitializeCanRetryAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.dialer.fail["master"] = errors.New("connection refused")

	err := f.router.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))

	delete(f.dialer.fail, "master")
	require.NoError(t, f.router.Initialize(context.Background()))
	assert.Equal(t, 2, f.dialer.Calls("master"))
}

func TestGetConnectionCachesPool(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	tenant := f.addTenant(t, enums.TenantStatusActive)
	ctx := context.Background()

	assert.False(t, f.router.HasConnection(tenant.ID))

	first, err := f.router.GetConnection(ctx, tenant.ID)
	require.NoError(t, err)
	assert.True(t, f.router.HasConnection(tenant.ID))

	second, err := f.router.GetConnection(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, f.dialer.Calls(tenant.DatabaseName))
}

func TestConcurrentFirstRequestsShareOnePool(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	tenant := f.addTenant(t, enums.TenantStatusActive)
	f.dialer.delay = 30 * time.Millisecond

	const n = 50
	clients := make([]*db.Client, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			c, err := f.router.GetConnection(context.Background(), tenant.ID)
			clients[i] = c
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, f.dialer.Calls(tenant.DatabaseName))
	for _, c := range clients {
		assert.Same(t, clients[0], c)
	}
}

func TestTenantsDoNotShareData(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	a := f.addTenant(t, enums.TenantStatusActive)
	b := f.addTenant(t, enums.TenantStatusActive)
	ctx := context.Background()

	connA, err := f.router.GetConnection(ctx, a.ID)
	require.NoError(t, err)
	connB, err := f.router.GetConnection(ctx, b.ID)
	require.NoError(t, err)
	require.NotSame(t, connA, connB)

	for _, c := range []*db.Client{connA, connB} {
		require.NoError(t, c.DB().AutoMigrate(&models.User{}))
	}
	require.NoError(t, connA.DB().Create(&models.User{Email: "only-a@example.test", DisplayName: "A", Role: enums.RoleOwner}).Error)

	var count int64
	require.NoError(t, connB.DB().Model(&models.User{}).Where("email = ?", "only-a@example.test").Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, connA.DB().Model(&models.User{}).Where("email = ?", "only-a@example.test").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestGetConnectionRejectsUnknownAndInactiveTenants(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	suspended := f.addTenant(t, enums.TenantStatusSuspended)
	ctx := context.Background()

	_, err := f.router.GetConnection(ctx, uuid.New())
	require.ErrorIs(t, err, ErrTenantNotFound)

	_, err = f.router.GetConnection(ctx, suspended.ID)
	require.ErrorIs(t, err, ErrTenantUnavailable)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeTenantSuspended))
	assert.False(t, f.router.HasConnection(suspended.ID))
	assert.Zero(t, f.dialer.Calls(suspended.DatabaseName))
}

func TestDialFailureIsNotCached(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	tenant := f.addTenant(t, enums.TenantStatusActive)
	f.dialer.fail[tenant.DatabaseName] = errors.New("no route to host")

	_, err := f.router.GetConnection(context.Background(), tenant.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
	assert.False(t, f.router.HasConnection(tenant.ID))

	delete(f.dialer.fail, tenant.DatabaseName)
	_, err = f.router.GetConnection(context.Background(), tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.dialer.Calls(tenant.DatabaseName))
}

func TestInvalidateTenantCache(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	tenant := f.addTenant(t, enums.TenantStatusActive)
	ctx := context.Background()

	_, err := f.router.GetConnection(ctx, tenant.ID)
	require.NoError(t, err)
	_, cached := f.cache.data[f.cache.TenantRouteKey(tenant.ID.String())]
	require.True(t, cached, "route should be cached after first lookup")

	f.router.InvalidateTenantCache(ctx, tenant.ID)
	assert.False(t, f.router.HasConnection(tenant.ID))
	_, cached = f.cache.data[f.cache.TenantRouteKey(tenant.ID.String())]
	assert.False(t, cached)

	// Unknown tenants are a no-op.
	f.router.InvalidateTenantCache(ctx, uuid.New())

	_, err = f.router.GetConnection(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.dialer.Calls(tenant.DatabaseName))
}

func TestInvalidateSeesSuspensionThroughRouteCache(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	tenant := f.addTenant(t, enums.TenantStatusActive)
	ctx := context.Background()

	_, err := f.router.GetConnection(ctx, tenant.ID)
	require.NoError(t, err)

	master, err := f.router.Master()
	require.NoError(t, err)
	require.NoError(t, master.DB().Model(&models.Tenant{}).Where("id = ?", tenant.ID).
		Update("status", enums.TenantStatusSuspended).Error)
	f.router.InvalidateTenantCache(ctx, tenant.ID)

	_, err = f.router.GetConnection(ctx, tenant.ID)
	require.ErrorIs(t, err, ErrTenantUnavailable)
}

func TestInvalidationDuringDialDiscardsPool(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	tenant := f.addTenant(t, enums.TenantStatusActive)
	ctx := context.Background()
	master, err := f.router.Master()
	require.NoError(t, err)

	var once sync.Once
	f.dialer.before = func(name string) {
		if name != tenant.DatabaseName {
			return
		}
		once.Do(func() {
			assert.NoError(t, master.DB().Model(&models.Tenant{}).Where("id = ?", tenant.ID).
				Update("status", enums.TenantStatusSuspended).Error)
			f.router.InvalidateTenantCache(ctx, tenant.ID)
		})
	}

	_, err = f.router.GetConnection(ctx, tenant.ID)
	require.ErrorIs(t, err, ErrTenantUnavailable)
	assert.False(t, f.router.HasConnection(tenant.ID))
	assert.Equal(t, 1, f.dialer.Calls(tenant.DatabaseName))
	raw, err := f.cache.Get(ctx, f.cache.TenantRouteKey(tenant.ID.String()))
	require.NoError(t, err)
	var route Route
	require.NoError(t, json.Unmarshal([]byte(raw), &route))
	assert.Equal(t, enums.TenantStatusSuspended, route.Status, "route read before the suspension must not stay cached")
}

func TestInvalidationDuringDialRetriesWithFreshRoute(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	tenant := f.addTenant(t, enums.TenantStatusActive)
	ctx := context.Background()

	var once sync.Once
	f.dialer.before = func(name string) {
		if name == tenant.DatabaseName {
			once.Do(func() { f.router.InvalidateTenantCache(ctx, tenant.ID) })
		}
	}

	conn, err := f.router.GetConnection(ctx, tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.True(t, f.router.HasConnection(tenant.ID))
	assert.Equal(t, 2, f.dialer.Calls(tenant.DatabaseName))
}

func TestEvictIdle(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	idle := f.addTenant(t, enums.TenantStatusActive)
	busy := f.addTenant(t, enums.TenantStatusActive)
	ctx := context.Background()

	_, err := f.router.GetConnection(ctx, idle.ID)
	require.NoError(t, err)
	_, err = f.router.GetConnection(ctx, busy.ID)
	require.NoError(t, err)

	pinnedID := uuid.New()
	pinned, err := db.Open(ctx, db.Options{
		Name: "pinned",
		DSN:  fmt.Sprintf("file:pinned_%s?mode=memory&cache=shared", uuid.NewString()),
		Pool: config.DBConfig{Driver: config.DriverSQLite},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, f.router.RegisterStatic(pinnedID, pinned))

	f.clock.Advance(20 * time.Minute)
	_, err = f.router.GetConnection(ctx, busy.ID)
	require.NoError(t, err)

	assert.Zero(t, f.router.EvictIdle(f.clock.Now()), "nothing idle for 30 minutes yet")

	f.clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, f.router.EvictIdle(f.clock.Now()))
	assert.False(t, f.router.HasConnection(idle.ID))
	assert.True(t, f.router.HasConnection(busy.ID))
	assert.True(t, f.router.HasConnection(pinnedID))

	f.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.router.EvictIdle(f.clock.Now()))
	assert.True(t, f.router.HasConnection(pinnedID), "pinned pools are never evicted")
}

func TestRegisterStaticRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	tenant := f.addTenant(t, enums.TenantStatusActive)
	conn, err := f.router.GetConnection(context.Background(), tenant.ID)
	require.NoError(t, err)

	require.Error(t, f.router.RegisterStatic(tenant.ID, conn))
	require.Error(t, f.router.RegisterStatic(uuid.New(), nil))
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	tenant := f.addTenant(t, enums.TenantStatusActive)
	_, err := f.router.GetConnection(context.Background(), tenant.ID)
	require.NoError(t, err)

	require.NoError(t, f.router.Close())
	require.NoError(t, f.router.Close())

	assert.False(t, f.router.HasConnection(tenant.ID))
	_, err = f.router.GetConnection(context.Background(), tenant.ID)
	require.ErrorIs(t, err, ErrNotInitialized)
	require.ErrorIs(t, f.router.Initialize(context.Background()), ErrNotInitialized)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.router.tenantCfg.EvictionInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.router.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("eviction loop did not stop")
	}
}
