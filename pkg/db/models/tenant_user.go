package models

import (
	"time"

	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	"github.com/google/uuid"
)

// TenantUser is the Master DB login credential for a user of one tenant.
type TenantUser struct {
	ID                  uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	TenantID            uuid.UUID        `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:idx_tenant_users_tenant_email"`
	Email               string           `gorm:"column:email;not null;uniqueIndex:idx_tenant_users_tenant_email"`
	PasswordHash        string           `gorm:"column:password_hash;not null"`
	IsOwner             bool             `gorm:"column:is_owner;not null;default:false"`
	Status              enums.UserStatus `gorm:"column:status;type:text;not null;default:'active'"`
	FailedLoginAttempts int              `gorm:"column:failed_login_attempts;not null;default:0"`
	LockedUntil         *time.Time       `gorm:"column:locked_until"`
	LastLogin           *time.Time       `gorm:"column:last_login"`
	CreatedAt           time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
