package credentials

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/bizledger-backend/pkg/db/models"
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantUserWithTenant is a credential row joined with its tenant.
type TenantUserWithTenant struct {
	models.TenantUser
	Tenant models.Tenant
}

// Repository reads and updates Master DB credentials.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a credentials repo to the Master DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ErrAmbiguousEmail is returned when an email has credentials in more than
// one tenant and no tenant slug was supplied.
var ErrAmbiguousEmail = errors.New("email registered in multiple tenants")

// FindByEmail returns the credential for email along with its tenant.
// Emails are compared lower-cased. tenantSlug narrows the search when the
// same email exists in several tenants; it may be empty.
func (r *Repository) FindByEmail(ctx context.Context, email, tenantSlug string) (*TenantUserWithTenant, error) {
	q := r.db.WithContext(ctx).Where("lower(email) = ?", normalizeEmail(email))

	if slug := strings.ToLower(strings.TrimSpace(tenantSlug)); slug != "" {
		var tenant models.Tenant
		if err := r.db.WithContext(ctx).Where("slug = ?", slug).Take(&tenant).Error; err != nil {
			return nil, err
		}
		var user models.TenantUser
		if err := q.Where("tenant_id = ?", tenant.ID).Take(&user).Error; err != nil {
			return nil, err
		}
		return &TenantUserWithTenant{TenantUser: user, Tenant: tenant}, nil
	}

	var users []models.TenantUser
	if err := q.Limit(2).Find(&users).Error; err != nil {
		return nil, err
	}
	switch len(users) {
	case 0:
		return nil, gorm.ErrRecordNotFound
	case 1:
	default:
		return nil, ErrAmbiguousEmail
	}

	var tenant models.Tenant
	if err := r.db.WithContext(ctx).Where("id = ?", users[0].TenantID).Take(&tenant).Error; err != nil {
		return nil, err
	}
	return &TenantUserWithTenant{TenantUser: users[0], Tenant: tenant}, nil
}

type failureRow struct {
	FailedLoginAttempts int
	Status              enums.UserStatus
}

// RecordFailure atomically increments the failure counter and locks the
// account once threshold is reached. It returns the new attempt count and
// whether the account is now locked.
func (r *Repository) RecordFailure(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (int, bool, error) {
	var row failureRow
	err := r.db.WithContext(ctx).Raw(`
		UPDATE tenant_users
		SET failed_login_attempts = failed_login_attempts + 1,
		    status = CASE WHEN failed_login_attempts + 1 >= ? THEN ? ELSE status END,
		    locked_until = CASE WHEN failed_login_attempts + 1 >= ? THEN ? ELSE locked_until END,
		    updated_at = ?
		WHERE id = ?
		RETURNING failed_login_attempts, status`,
		threshold, enums.UserStatusLocked,
		threshold, lockUntil.UTC(),
		time.Now().UTC(),
		id,
	).Scan(&row).Error
	if err != nil {
		return 0, false, err
	}
	if row.Status == "" {
		return 0, false, gorm.ErrRecordNotFound
	}
	return row.FailedLoginAttempts, row.Status == enums.UserStatusLocked, nil
}

// ResetLock clears an expired lock so authentication can proceed.
func (r *Repository) ResetLock(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.TenantUser{}).
		Where("id = ? AND status = ?", id, enums.UserStatusLocked).
		Updates(map[string]any{
			"status":                enums.UserStatusActive,
			"failed_login_attempts": 0,
			"locked_until":          nil,
		}).Error
}

// RecordSuccess resets the failure state and stamps the login time. The write
// only lands on an active row or one whose lock has run out by at; it reports
// false when a lock was applied after the credential was read.
func (r *Repository) RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.TenantUser{}).
		Where("id = ?", id).
		Where("status = ? OR (status = ? AND locked_until IS NOT NULL AND locked_until <= ?)",
			enums.UserStatusActive, enums.UserStatusLocked, at.UTC()).
		Updates(map[string]any{
			"status":                enums.UserStatusActive,
			"failed_login_attempts": 0,
			"locked_until":          nil,
			"last_login":            at.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdatePasswordHash replaces the stored hash, used when upgrading legacy
// bcrypt hashes.
func (r *Repository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return r.db.WithContext(ctx).
		Model(&models.TenantUser{}).
		Where("id = ?", id).
		UpdateColumn("password_hash", hash).Error
}

// FindTenant loads a tenant registry row by id.
func (r *Repository) FindTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

// ActiveTenantIDs lists every tenant currently allowed to log in.
func (r *Repository) ActiveTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Tenant{}).
		Where("status = ?", enums.TenantStatusActive).
		Order("created_at").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// IsNotFound reports whether err means no matching row.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
