package models

import (
	"time"

	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	"github.com/google/uuid"
)

// UserStore assigns a user to a store, optionally overriding the user's role
// and permissions for that store only.
type UserStore struct {
	UserID      uuid.UUID   `gorm:"column:user_id;type:uuid;primaryKey"`
	StoreID     uuid.UUID   `gorm:"column:store_id;type:uuid;primaryKey"`
	Role        *enums.Role `gorm:"column:role;type:text"`
	Permissions *string     `gorm:"column:permissions;type:text"`
	CreatedAt   time.Time   `gorm:"column:created_at;autoCreateTime"`
}
