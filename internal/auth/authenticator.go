package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgauth "github.com/angelmondragon/bizledger-backend/pkg/auth"
	"github.com/angelmondragon/bizledger-backend/pkg/auth/session"
	"github.com/angelmondragon/bizledger-backend/pkg/config"
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bizledger-backend/pkg/errors"
	"github.com/angelmondragon/bizledger-backend/pkg/logger"
	"github.com/angelmondragon/bizledger-backend/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const reauthenticateMessage = "re-authenticate"

// Rejection reasons reported to metrics and logs. Clients only ever see
// reauthenticateMessage.
const (
	rejectToken   = "invalid_token"
	rejectTenant  = "unknown_tenant"
	rejectSession = "session_revoked"
	rejectUser    = "user_unavailable"
)

// AuthenticatorParams wires the request authenticator.
type AuthenticatorParams struct {
	Codec   *pkgauth.Codec
	Router  connectionRouter
	Legacy  config.LegacyConfig
	Logger  *logger.Logger
	Metrics *metrics.AuthMetrics
	Now     func() time.Time
}

// Authenticator turns a raw session token into an Identity. Every request pays
// one session lookup so that logout and deactivation take effect immediately.
type Authenticator struct {
	codec      *pkgauth.Codec
	strategies map[pkgauth.Mode]tenantStrategy
	logg       *logger.Logger
	metrics    *metrics.AuthMetrics
	now        func() time.Time
}

// NewAuthenticator validates params and returns an authenticator.
func NewAuthenticator(p AuthenticatorParams) (*Authenticator, error) {
	if p.Codec == nil {
		return nil, fmt.Errorf("token codec is required")
	}
	if p.Router == nil {
		return nil, fmt.Errorf("connection router is required")
	}
	var legacyTenant uuid.UUID
	if p.Legacy.Enabled {
		id, err := p.Legacy.TenantUUID()
		if err != nil {
			return nil, err
		}
		legacyTenant = id
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Authenticator{
		codec:      p.Codec,
		strategies: newStrategies(p.Router, p.Legacy.Enabled, legacyTenant),
		logg:       p.Logger,
		metrics:    p.Metrics,
		now:        p.Now,
	}, nil
}

// Authenticate verifies the token, confirms its session is live and reloads
// the user. Token, session and user failures all return the same
// unauthorized error; routing failures keep their own codes.
func (a *Authenticator) Authenticate(ctx context.Context, rawToken string) (*Identity, error) {
	claims, err := a.codec.Verify(rawToken)
	if err != nil {
		return nil, a.reject(ctx, rejectToken, err)
	}
	ctx = a.logg.WithFields(ctx, map[string]any{
		"tenant_id":  claims.TenantID.String(),
		"user_id":    claims.UserID.String(),
		"session_id": claims.SessionID.String(),
	})

	conn, err := a.strategies[claims.Mode()].connect(ctx, *claims)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) ||
			errors.Is(err, errSingleTenantDisabled) ||
			errors.Is(err, errTenantMismatch) {
			return nil, a.reject(ctx, rejectTenant, err)
		}
		return nil, err
	}

	sess, err := session.NewRepository(conn.DB()).FindActive(ctx, claims.SessionID, a.now())
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, a.reject(ctx, rejectSession, err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading session")
	}
	if sess.UserID != claims.UserID {
		return nil, a.reject(ctx, rejectSession, fmt.Errorf("session %s belongs to another user", sess.ID))
	}

	p, err := loadProfile(ctx, conn, claims.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, a.reject(ctx, rejectUser, err)
		}
		if errors.Is(err, errInvalidProfile) {
			a.logg.Error(ctx, "stored user profile cannot be resolved", err)
			return nil, pkgerrors.Wrap(pkgerrors.CodeSyncIntegrity, err, syncIntegrityMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading user")
	}
	if p.user.Status != enums.UserStatusActive {
		return nil, a.reject(ctx, rejectUser, fmt.Errorf("user status %s", p.user.Status))
	}

	return &Identity{
		Claims:  *claims,
		User:    p.user,
		Conn:    conn,
		Stores:  p.stores,
		Subject: p.subject,
	}, nil
}

func (a *Authenticator) reject(ctx context.Context, reason string, cause error) error {
	a.metrics.Rejected(reason)
	a.logg.Debug(a.logg.WithFields(ctx, map[string]any{"reason": reason, "cause": cause.Error()}), "request authentication rejected")
	return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, cause, reauthenticateMessage)
}
