package auth

import (
	"time"

	"github.com/angelmondragon/bizledger-backend/internal/permissions"
	"github.com/angelmondragon/bizledger-backend/internal/stores"
	"github.com/angelmondragon/bizledger-backend/internal/users"
	"github.com/angelmondragon/bizledger-backend/pkg/db/models"
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	"github.com/google/uuid"
)

// LoginRequest captures the credentials sent to the login endpoint. Tenant is
// the tenant slug and is only needed when the email exists in several tenants.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Tenant   string `json:"tenant,omitempty" validate:"omitempty,max=64,slug"`
}

// TenantSummary describes the tenant a session belongs to.
type TenantSummary struct {
	ID               uuid.UUID              `json:"id"`
	Name             string                 `json:"name,omitempty"`
	Slug             string                 `json:"slug,omitempty"`
	SubscriptionPlan enums.SubscriptionPlan `json:"subscription_plan,omitempty"`
}

func tenantSummary(t models.Tenant) *TenantSummary {
	return &TenantSummary{
		ID:               t.ID,
		Name:             t.Name,
		Slug:             t.Slug,
		SubscriptionPlan: t.SubscriptionPlan,
	}
}

// LoginResponse contains the signed token and the identity it grants.
type LoginResponse struct {
	Token       string                    `json:"token"`
	ExpiresAt   time.Time                 `json:"expires_at"`
	User        *users.UserDTO            `json:"user"`
	Tenant      *TenantSummary            `json:"tenant"`
	Stores      []stores.StoreDTO         `json:"stores"`
	Permissions permissions.PermissionMap `json:"permissions"`
}

// CurrentUserResponse is the re-read identity served by /auth/me and
// /auth/refresh. It never carries a new token.
type CurrentUserResponse struct {
	User        *users.UserDTO            `json:"user"`
	Tenant      *TenantSummary            `json:"tenant"`
	Stores      []stores.StoreDTO         `json:"stores"`
	Permissions permissions.PermissionMap `json:"permissions"`
	ExpiresAt   time.Time                 `json:"expires_at"`
}

func storeDTOs(assigned []stores.Assigned) []stores.StoreDTO {
	out := make([]stores.StoreDTO, 0, len(assigned))
	for _, a := range assigned {
		out = append(out, a.DTO())
	}
	return out
}
