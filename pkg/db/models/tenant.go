package models

import (
	"time"

	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	"github.com/google/uuid"
)

// Tenant is the Master DB registry row for one customer account and the
// coordinates of its dedicated database.
type Tenant struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	Name             string                 `gorm:"column:name;not null"`
	Slug             string                 `gorm:"column:slug;not null;uniqueIndex"`
	ContactEmail     string                 `gorm:"column:contact_email;not null;uniqueIndex"`
	Status           enums.TenantStatus     `gorm:"column:status;type:text;not null;default:'active'"`
	DatabaseName     string                 `gorm:"column:database_name;not null"`
	DatabaseServer   string                 `gorm:"column:database_server"`
	SubscriptionPlan enums.SubscriptionPlan `gorm:"column:subscription_plan;type:text;not null;default:'basic'"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
