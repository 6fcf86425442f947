package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/bizledger-backend/pkg/auth/session"
	"github.com/angelmondragon/bizledger-backend/pkg/db"
	"github.com/angelmondragon/bizledger-backend/pkg/logger"
	"github.com/angelmondragon/bizledger-backend/pkg/metrics"
)

const sessionPurgeJobName = "session_purge"

// TenantSource lists the tenants a job should visit.
type TenantSource func(ctx context.Context) ([]uuid.UUID, error)

// StaticTenants always yields the given ids.
func StaticTenants(ids ...uuid.UUID) TenantSource {
	return func(context.Context) ([]uuid.UUID, error) {
		return ids, nil
	}
}

// CombineTenants concatenates sources, dropping duplicates.
func CombineTenants(sources ...TenantSource) TenantSource {
	return func(ctx context.Context) ([]uuid.UUID, error) {
		seen := make(map[uuid.UUID]struct{})
		var out []uuid.UUID
		for _, source := range sources {
			ids, err := source(ctx)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
		return out, nil
	}
}

type connectionGetter interface {
	GetConnection(ctx context.Context, tenantID uuid.UUID) (*db.Client, error)
}

// SessionPurgeParams wires the session purge job.
type SessionPurgeParams struct {
	Tenants TenantSource
	Router  connectionGetter
	Logger  *logger.Logger
	Metrics *metrics.JobMetrics
	Now     func() time.Time
}

// SessionPurgeJob deletes expired session rows in every tenant database.
// Expired rows are already rejected at authentication time; this only keeps
// the table small.
type SessionPurgeJob struct {
	tenants TenantSource
	router  connectionGetter
	logg    *logger.Logger
	metrics *metrics.JobMetrics
	now     func() time.Time
}

func NewSessionPurgeJob(p SessionPurgeParams) (*SessionPurgeJob, error) {
	if p.Tenants == nil {
		return nil, fmt.Errorf("tenant source required")
	}
	if p.Router == nil {
		return nil, fmt.Errorf("connection router required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &SessionPurgeJob{
		tenants: p.Tenants,
		router:  p.Router,
		logg:    p.Logger,
		metrics: p.Metrics,
		now:     p.Now,
	}, nil
}

func (j *SessionPurgeJob) Name() string { return sessionPurgeJobName }

// Run visits each tenant in turn. A tenant that cannot be reached is
// reported in the returned error but does not stop the sweep.
func (j *SessionPurgeJob) Run(ctx context.Context) error {
	ids, err := j.tenants(ctx)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}

	now := j.now()
	var (
		total int64
		errs  error
	)
	for _, tenantID := range ids {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		conn, err := j.router.GetConnection(ctx, tenantID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		n, err := session.NewRepository(conn.DB()).PurgeExpired(ctx, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("tenant %s: purge sessions: %w", tenantID, err))
			continue
		}
		if n > 0 {
			j.logg.Debug(j.logg.WithFields(ctx, map[string]any{
				"tenant_id": tenantID.String(),
				"purged":    n,
			}), "expired sessions purged")
		}
		total += n
	}

	j.metrics.AddAffected(sessionPurgeJobName, total)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"tenants": len(ids),
		"purged":  total,
	}), "session purge finished")
	return errs
}
