package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/bizledger-backend/internal/credentials"
	"github.com/angelmondragon/bizledger-backend/internal/permissions"
	"github.com/angelmondragon/bizledger-backend/internal/users"
	pkgauth "github.com/angelmondragon/bizledger-backend/pkg/auth"
	"github.com/angelmondragon/bizledger-backend/pkg/auth/session"
	"github.com/angelmondragon/bizledger-backend/pkg/config"
	"github.com/angelmondragon/bizledger-backend/pkg/db"
	"github.com/angelmondragon/bizledger-backend/pkg/db/models"
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bizledger-backend/pkg/errors"
	"github.com/angelmondragon/bizledger-backend/pkg/logger"
	"github.com/angelmondragon/bizledger-backend/pkg/metrics"
	"github.com/angelmondragon/bizledger-backend/pkg/security"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	invalidCredentialsMessage = "invalid credentials"
	syncIntegrityMessage      = "account configuration problem, please contact support"
)

// Service defines the behavior needed by the auth controller.
type Service interface {
	Login(ctx context.Context, req LoginRequest, client session.ClientInfo) (*LoginResponse, error)
	Logout(ctx context.Context, tenantID, sessionID uuid.UUID) error
	CurrentUser(ctx context.Context, identity *Identity) (*CurrentUserResponse, error)
}

type credentialStore interface {
	Authenticate(ctx context.Context, email, password, tenantSlug string) (*credentials.TenantUserWithTenant, error)
}

type signFunc func(now time.Time, claims pkgauth.Claims) (string, time.Time, error)

type service struct {
	credentials  credentialStore
	router       connectionRouter
	codec        *pkgauth.Codec
	resolver     *permissions.Resolver
	strategies   map[pkgauth.Mode]tenantStrategy
	legacy       bool
	legacyTenant uuid.UUID
	logg         *logger.Logger
	metrics      *metrics.AuthMetrics
	now          func() time.Time
}

// ServiceParams bundles the dependencies required to build an auth service.
// Credentials may be nil when the legacy single-tenant login is enabled.
type ServiceParams struct {
	Credentials credentialStore
	Router      connectionRouter
	Codec       *pkgauth.Codec
	Resolver    *permissions.Resolver
	Legacy      config.LegacyConfig
	Logger      *logger.Logger
	Metrics     *metrics.AuthMetrics
	Now         func() time.Time
}

// NewService constructs a login service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Router == nil {
		return nil, fmt.Errorf("connection router is required")
	}
	if params.Codec == nil {
		return nil, fmt.Errorf("token codec is required")
	}
	if !params.Legacy.Enabled && params.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	var legacyTenant uuid.UUID
	if params.Legacy.Enabled {
		id, err := params.Legacy.TenantUUID()
		if err != nil {
			return nil, err
		}
		legacyTenant = id
	}
	if params.Resolver == nil {
		params.Resolver = permissions.NewResolver()
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		credentials:  params.Credentials,
		router:       params.Router,
		codec:        params.Codec,
		resolver:     params.Resolver,
		strategies:   newStrategies(params.Router, params.Legacy.Enabled, legacyTenant),
		legacy:       params.Legacy.Enabled,
		legacyTenant: legacyTenant,
		logg:         params.Logger,
		metrics:      params.Metrics,
		now:          params.Now,
	}, nil
}

func (s *service) Login(ctx context.Context, req LoginRequest, client session.ClientInfo) (*LoginResponse, error) {
	mode := pkgauth.ModeMultiTenant
	var (
		resp *LoginResponse
		err  error
	)
	if s.legacy {
		mode = pkgauth.ModeSingleTenant
		resp, err = s.loginSingleTenant(ctx, req, client)
	} else {
		resp, err = s.loginMultiTenant(ctx, req, client)
	}
	s.metrics.Login(loginOutcome(err), mode.String())
	return resp, err
}

func (s *service) loginMultiTenant(ctx context.Context, req LoginRequest, client session.ClientInfo) (*LoginResponse, error) {
	cred, err := s.credentials.Authenticate(ctx, req.Email, req.Password, req.Tenant)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"tenant_id":      cred.TenantID.String(),
		"tenant_user_id": cred.ID.String(),
	})

	conn, err := s.router.GetConnection(ctx, cred.TenantID)
	if err != nil {
		return nil, err
	}

	user, err := users.NewRepository(conn.DB()).FindByEmail(ctx, cred.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Error(s.logg.WithField(ctx, "email", cred.Email),
				"master credential has no matching user in the tenant database", err)
			return nil, pkgerrors.Wrap(pkgerrors.CodeSyncIntegrity, err, syncIntegrityMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading tenant user")
	}

	tenantUserID := cred.ID
	return s.issue(ctx, conn, user, tenantSummary(cred.Tenant), &tenantUserID, client, s.codec.Sign)
}

// loginSingleTenant authenticates against the legacy database directly. It
// has no lockout state of its own; the login rate limit still applies.
func (s *service) loginSingleTenant(ctx context.Context, req LoginRequest, client session.ClientInfo) (*LoginResponse, error) {
	ctx = s.logg.WithTenantID(ctx, s.legacyTenant.String())
	conn, err := s.router.GetConnection(ctx, s.legacyTenant)
	if err != nil {
		return nil, err
	}

	user, err := users.NewRepository(conn.DB()).FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading user")
	}
	if user.PasswordHash == nil || *user.PasswordHash == "" {
		s.logg.Warn(s.logg.WithUserID(ctx, user.ID.String()), "legacy user has no password hash")
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	ok, err := security.VerifyPassword(req.Password, *user.PasswordHash)
	if err != nil {
		s.logg.Error(s.logg.WithUserID(ctx, user.ID.String()), "stored password hash unreadable", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verifying password")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}

	return s.issue(ctx, conn, user, &TenantSummary{ID: s.legacyTenant}, nil, client, s.codec.SignLegacy)
}

// issue runs the steps shared by both login paths once the password has been
// accepted: account state, stores, permissions, session row and token.
func (s *service) issue(
	ctx context.Context,
	conn *db.Client,
	user *models.User,
	tenant *TenantSummary,
	tenantUserID *uuid.UUID,
	client session.ClientInfo,
	sign signFunc,
) (*LoginResponse, error) {
	ctx = s.logg.WithUserID(ctx, user.ID.String())
	if user.Status != enums.UserStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeAccountDisabled, "account is disabled")
	}

	p, err := loadStores(ctx, conn, user)
	if err != nil {
		return nil, s.profileError(ctx, err)
	}

	now := s.now()
	sessionID := session.NewID()
	token, expiresAt, err := sign(now, pkgauth.Claims{
		UserID:       user.ID,
		TenantID:     tenant.ID,
		TenantUserID: tenantUserID,
		Email:        user.Email,
		Role:         user.Role,
		Stores:       storeIDs(p),
		SessionID:    sessionID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "signing token")
	}

	if _, err := session.NewRepository(conn.DB()).Create(ctx, sessionID, user.ID, token, expiresAt, client); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating session")
	}

	if err := users.NewRepository(conn.DB()).UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logg.Warn(ctx, "failed to update last login")
	} else {
		user.LastLoginAt = &now
	}

	s.logg.Info(s.logg.WithSessionID(ctx, sessionID.String()), "login succeeded")
	return &LoginResponse{
		Token:       token,
		ExpiresAt:   expiresAt,
		User:        users.FromModel(user),
		Tenant:      tenant,
		Stores:      storeDTOs(p.stores),
		Permissions: s.resolver.Effective(user.Role, p.subject.Overrides),
	}, nil
}

func (s *service) Logout(ctx context.Context, tenantID, sessionID uuid.UUID) error {
	conn, err := s.router.GetConnection(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := session.NewRepository(conn.DB()).Delete(ctx, sessionID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deleting session")
	}
	s.logg.Info(s.logg.WithSessionID(ctx, sessionID.String()), "session ended")
	return nil
}

func (s *service) CurrentUser(ctx context.Context, identity *Identity) (*CurrentUserResponse, error) {
	if identity == nil || identity.Conn == nil || identity.User == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "re-authenticate")
	}
	p, err := loadProfile(ctx, identity.Conn, identity.User.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "re-authenticate")
		}
		return nil, s.profileError(ctx, err)
	}
	if p.user.Status != enums.UserStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "re-authenticate")
	}

	tenant, err := s.strategies[identity.Claims.Mode()].tenant(ctx, identity.TenantID())
	if err != nil {
		return nil, err
	}
	return &CurrentUserResponse{
		User:        users.FromModel(p.user),
		Tenant:      tenant,
		Stores:      storeDTOs(p.stores),
		Permissions: s.resolver.Effective(p.user.Role, p.subject.Overrides),
		ExpiresAt:   identity.Claims.ExpiresAt,
	}, nil
}

func (s *service) profileError(ctx context.Context, err error) error {
	if errors.Is(err, errInvalidProfile) {
		s.logg.Error(ctx, "stored user profile cannot be resolved", err)
		return pkgerrors.Wrap(pkgerrors.CodeSyncIntegrity, err, syncIntegrityMessage)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading user profile")
}

func storeIDs(p *profile) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(p.stores))
	for _, a := range p.stores {
		out = append(out, a.Store.ID)
	}
	return out
}

func loginOutcome(err error) string {
	if err == nil {
		return metrics.LoginSuccess
	}
	switch pkgerrors.As(err).Code() {
	case pkgerrors.CodeUnauthorized:
		return metrics.LoginInvalid
	case pkgerrors.CodeAccountLocked:
		return metrics.LoginLocked
	case pkgerrors.CodeAccountDisabled:
		return metrics.LoginDisabled
	case pkgerrors.CodeTenantSuspended:
		return metrics.LoginTenantSuspended
	case pkgerrors.CodeSyncIntegrity:
		return metrics.LoginSyncIntegrity
	default:
		return metrics.LoginError
	}
}
