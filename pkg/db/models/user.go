package models

import (
	"time"

	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	"github.com/google/uuid"
)

// User is the tenant DB identity carrying role and permission overrides.
// PasswordHash is only populated for single-tenant deployments; multi-tenant
// logins verify the password against the Master DB TenantUser instead.
type User struct {
	ID           uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Email        string           `gorm:"column:email;not null;uniqueIndex"`
	PasswordHash *string          `gorm:"column:password_hash"`
	DisplayName  string           `gorm:"column:display_name;not null"`
	Role         enums.Role       `gorm:"column:role;type:text;not null"`
	Permissions  *string          `gorm:"column:permissions;type:text"`
	Status       enums.UserStatus `gorm:"column:status;type:text;not null;default:'active'"`
	LastLoginAt  *time.Time       `gorm:"column:last_login_at"`
	CreatedAt    time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
