package maintenance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bizledger-backend/internal/tenancy"
	"github.com/angelmondragon/bizledger-backend/pkg/auth/session"
	"github.com/angelmondragon/bizledger-backend/pkg/config"
	"github.com/angelmondragon/bizledger-backend/pkg/db"
	"github.com/angelmondragon/bizledger-backend/pkg/db/models"
	"github.com/angelmondragon/bizledger-backend/pkg/metrics"
)

func openTenantDB(t *testing.T) *db.Client {
	t.Helper()
	conn, err := db.Open(context.Background(), db.Options{
		Name: "tenant",
		DSN:  fmt.Sprintf("file:purge_%s?mode=memory&cache=shared", uuid.NewString()),
		Pool: config.DBConfig{Driver: config.DriverSQLite, MaxOpenConns: 1},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, conn.DB().AutoMigrate(&models.Session{}))
	return conn
}

func seedSessions(t *testing.T, conn *db.Client, now time.Time, expired, live int) {
	t.Helper()
	repo := session.NewRepository(conn.DB())
	ctx := context.Background()
	for i := 0; i < expired; i++ {
		_, err := repo.Create(ctx, session.NewID(), uuid.New(), fmt.Sprintf("old-%d", i), now.Add(-time.Minute), session.ClientInfo{})
		require.NoError(t, err)
	}
	for i := 0; i < live; i++ {
		_, err := repo.Create(ctx, session.NewID(), uuid.New(), fmt.Sprintf("live-%d", i), now.Add(time.Hour), session.ClientInfo{})
		require.NoError(t, err)
	}
}

func countSessions(t *testing.T, conn *db.Client) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.DB().Model(&models.Session{}).Count(&n).Error)
	return n
}

func TestSessionPurgeVisitsEveryTenant(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	router := tenancy.NewRouter(tenancy.RouterParams{})
	t.Cleanup(func() { _ = router.Close() })

	acme, globex := uuid.New(), uuid.New()
	acmeDB, globexDB := openTenantDB(t), openTenantDB(t)
	require.NoError(t, router.RegisterStatic(acme, acmeDB))
	require.NoError(t, router.RegisterStatic(globex, globexDB))
	seedSessions(t, acmeDB, now, 3, 1)
	seedSessions(t, globexDB, now, 1, 2)

	reg := prometheus.NewRegistry()
	job, err := NewSessionPurgeJob(SessionPurgeParams{
		Tenants: CombineTenants(StaticTenants(acme), StaticTenants(globex, acme)),
		Router:  router,
		Metrics: metrics.NewJobMetrics(reg),
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)
	require.Equal(t, "session_purge", job.Name())

	require.NoError(t, job.Run(context.Background()))
	require.EqualValues(t, 1, countSessions(t, acmeDB))
	require.EqualValues(t, 2, countSessions(t, globexDB))

	families, err := reg.Gather()
	require.NoError(t, err)
	var purged float64
	for _, mf := range families {
		if mf.GetName() == "maintenance_job_rows_total" {
			purged = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	require.EqualValues(t, 4, purged)
}

func TestSessionPurgeContinuesPastUnreachableTenant(t *testing.T) {
	now := time.Now().UTC()
	router := tenancy.NewRouter(tenancy.RouterParams{})
	t.Cleanup(func() { _ = router.Close() })

	known := uuid.New()
	conn := openTenantDB(t)
	require.NoError(t, router.RegisterStatic(known, conn))
	seedSessions(t, conn, now, 2, 0)

	missing := uuid.New()
	job, err := NewSessionPurgeJob(SessionPurgeParams{
		Tenants: StaticTenants(missing, known),
		Router:  router,
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), missing.String())
	require.EqualValues(t, 0, countSessions(t, conn))
}
