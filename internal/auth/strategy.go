package auth

import (
	"context"
	"errors"

	"github.com/angelmondragon/bizledger-backend/internal/credentials"
	pkgauth "github.com/angelmondragon/bizledger-backend/pkg/auth"
	"github.com/angelmondragon/bizledger-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/bizledger-backend/pkg/errors"
	"github.com/google/uuid"
)

var (
	errSingleTenantDisabled = errors.New("single-tenant tokens are not accepted by this deployment")
	errTenantMismatch       = errors.New("token tenant does not match the configured tenant")
)

type connectionRouter interface {
	GetConnection(ctx context.Context, tenantID uuid.UUID) (*db.Client, error)
	Master() (*db.Client, error)
}

// tenantStrategy resolves where a token's tenant data lives. There are exactly
// two implementations, picked from the token's claim mode.
type tenantStrategy interface {
	connect(ctx context.Context, claims pkgauth.Claims) (*db.Client, error)
	tenant(ctx context.Context, tenantID uuid.UUID) (*TenantSummary, error)
}

type multiTenantStrategy struct {
	router connectionRouter
}

func (m multiTenantStrategy) connect(ctx context.Context, claims pkgauth.Claims) (*db.Client, error) {
	return m.router.GetConnection(ctx, claims.TenantID)
}

func (m multiTenantStrategy) tenant(ctx context.Context, tenantID uuid.UUID) (*TenantSummary, error) {
	master, err := m.router.Master()
	if err != nil {
		return nil, err
	}
	row, err := credentials.NewRepository(master.DB()).FindTenant(ctx, tenantID)
	if err != nil {
		if credentials.IsNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "tenant not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading tenant")
	}
	return tenantSummary(*row), nil
}

// singleTenantStrategy serves the legacy deployment: one database registered
// on the router as a static connection, no Master DB involvement.
type singleTenantStrategy struct {
	router   connectionRouter
	enabled  bool
	tenantID uuid.UUID
}

func (s singleTenantStrategy) connect(ctx context.Context, claims pkgauth.Claims) (*db.Client, error) {
	if !s.enabled {
		return nil, errSingleTenantDisabled
	}
	if claims.TenantID != s.tenantID {
		return nil, errTenantMismatch
	}
	return s.router.GetConnection(ctx, s.tenantID)
}

func (s singleTenantStrategy) tenant(_ context.Context, tenantID uuid.UUID) (*TenantSummary, error) {
	return &TenantSummary{ID: tenantID}, nil
}

func newStrategies(router connectionRouter, legacyEnabled bool, legacyTenant uuid.UUID) map[pkgauth.Mode]tenantStrategy {
	return map[pkgauth.Mode]tenantStrategy{
		pkgauth.ModeMultiTenant:  multiTenantStrategy{router: router},
		pkgauth.ModeSingleTenant: singleTenantStrategy{router: router, enabled: legacyEnabled, tenantID: legacyTenant},
	}
}
