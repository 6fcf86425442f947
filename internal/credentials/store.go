package credentials

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/angelmondragon/bizledger-backend/pkg/config"
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bizledger-backend/pkg/errors"
	"github.com/angelmondragon/bizledger-backend/pkg/logger"
	"github.com/angelmondragon/bizledger-backend/pkg/security"
	"github.com/google/uuid"
)

const invalidCredentialsMessage = "invalid credentials"

type repository interface {
	FindByEmail(ctx context.Context, email, tenantSlug string) (*TenantUserWithTenant, error)
	RecordFailure(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (int, bool, error)
	ResetLock(ctx context.Context, id uuid.UUID) error
	RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

// StoreParams wires the credential store.
type StoreParams struct {
	Repo     repository
	Lockout  config.LockoutConfig
	Password config.PasswordConfig
	Logger   *logger.Logger
	Now      func() time.Time
}

// Store applies the login policy to Master DB credentials.
type Store struct {
	repo     repository
	lockout  config.LockoutConfig
	password config.PasswordConfig
	logg     *logger.Logger
	now      func() time.Time
}

// NewStore validates params and returns a credential store.
func NewStore(p StoreParams) (*Store, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("credentials repository required")
	}
	if p.Lockout.Threshold <= 0 {
		return nil, fmt.Errorf("lockout threshold must be positive")
	}
	if p.Lockout.Window <= 0 {
		return nil, fmt.Errorf("lockout window must be positive")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Store{
		repo:     p.Repo,
		lockout:  p.Lockout,
		password: p.Password,
		logg:     p.Logger,
		now:      p.Now,
	}, nil
}

// Authenticate checks email and password against the Master DB and enforces
// tenant state, account state and lockout, in that order. tenantSlug is only
// needed when the email exists in more than one tenant.
func (s *Store) Authenticate(ctx context.Context, email, password, tenantSlug string) (*TenantUserWithTenant, error) {
	cred, err := s.repo.FindByEmail(ctx, email, tenantSlug)
	if err != nil {
		if IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
		}
		if errors.Is(err, ErrAmbiguousEmail) {
			s.logg.Warn(ctx, "login email matches several tenants and no tenant was given")
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading credentials")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"tenant_id":      cred.TenantID.String(),
		"tenant_user_id": cred.ID.String(),
	})

	if cred.Tenant.Status != enums.TenantStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeTenantSuspended, "tenant is not active")
	}
	if cred.Status == enums.UserStatusInactive {
		return nil, pkgerrors.New(pkgerrors.CodeAccountDisabled, "account is disabled")
	}

	now := s.now()
	if cred.Status == enums.UserStatusLocked {
		if cred.LockedUntil != nil && cred.LockedUntil.After(now) {
			return nil, lockedError(cred.LockedUntil.Sub(now))
		}
		if err := s.repo.ResetLock(ctx, cred.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clearing expired lock")
		}
		cred.Status = enums.UserStatusActive
		cred.FailedLoginAttempts = 0
		cred.LockedUntil = nil
		s.logg.Info(ctx, "expired account lock cleared")
	}

	ok, err := security.VerifyPassword(password, cred.PasswordHash)
	if err != nil {
		s.logg.Error(ctx, "stored password hash unreadable", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verifying password")
	}
	if !ok {
		return nil, s.failure(ctx, cred.ID, now)
	}

	recorded, err := s.repo.RecordSuccess(ctx, cred.ID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording login")
	}
	if !recorded {
		s.logg.Warn(ctx, "account locked while login was in flight")
		return nil, lockedError(s.lockout.Window)
	}
	cred.FailedLoginAttempts = 0
	cred.LockedUntil = nil
	cred.LastLogin = &now

	if security.NeedsRehash(cred.PasswordHash, s.password) {
		s.upgradeHash(ctx, cred.ID, password)
	}
	return cred, nil
}

func (s *Store) failure(ctx context.Context, id uuid.UUID, now time.Time) error {
	attempts, locked, err := s.repo.RecordFailure(ctx, id, s.lockout.Threshold, now.Add(s.lockout.Window))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording failed login")
	}
	if locked {
		s.logg.Warn(s.logg.WithField(ctx, "failed_attempts", attempts), "account locked after repeated failures")
		return lockedError(s.lockout.Window)
	}
	remaining := s.lockout.Threshold - attempts
	s.logg.Info(s.logg.WithField(ctx, "remaining_attempts", remaining), "invalid password")
	return pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
}

// upgradeHash is best effort: the login already succeeded.
func (s *Store) upgradeHash(ctx context.Context, id uuid.UUID, password string) {
	hash, err := security.HashPassword(password, s.password)
	if err == nil {
		err = s.repo.UpdatePasswordHash(ctx, id, hash)
	}
	if err != nil {
		s.logg.Warn(ctx, "password hash upgrade failed")
		return
	}
	s.logg.Info(ctx, "password hash upgraded")
}

func lockedError(remaining time.Duration) error {
	minutes := int(math.Ceil(remaining.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return pkgerrors.New(pkgerrors.CodeAccountLocked, fmt.Sprintf("account locked, try again in %d minutes", minutes)).
		WithDetails(map[string]any{"retry_after_minutes": minutes})
}
