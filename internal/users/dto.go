package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bizledger-backend/pkg/db/models"
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
)

// UserDTO is the transport shape that omits credentials and raw overrides.
type UserDTO struct {
	ID          uuid.UUID        `json:"id"`
	Email       string           `json:"email"`
	DisplayName string           `json:"display_name"`
	Role        enums.Role       `json:"role"`
	Status      enums.UserStatus `json:"status"`
	LastLoginAt *time.Time       `json:"last_login_at,omitempty"`
}

// CreateUserDTO holds the data required to persist a tenant user.
type CreateUserDTO struct {
	Email        string
	DisplayName  string
	Role         enums.Role
	PasswordHash *string
	Permissions  *string
}

// FromModel maps the persisted user into a DTO.
func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}
	return &UserDTO{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Status:      u.Status,
		LastLoginAt: u.LastLoginAt,
	}
}

func (c CreateUserDTO) ToModel() *models.User {
	return &models.User{
		Email:        normalizeEmail(c.Email),
		DisplayName:  c.DisplayName,
		Role:         c.Role,
		PasswordHash: c.PasswordHash,
		Permissions:  c.Permissions,
		Status:       enums.UserStatusActive,
	}
}
