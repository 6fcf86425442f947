package auth

import (
	"time"

	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Mode identifies which login path produced a token.
type Mode int

const (
	// ModeMultiTenant tokens were issued after a Master DB credential check.
	ModeMultiTenant Mode = iota
	// ModeSingleTenant tokens come from the legacy single-database login and
	// carry no tenant user id.
	ModeSingleTenant
)

func (m Mode) String() string {
	if m == ModeSingleTenant {
		return "single_tenant"
	}
	return "multi_tenant"
}

// Claims is the normalized session payload, independent of which claim naming
// the token was signed with.
type Claims struct {
	UserID       uuid.UUID
	TenantID     uuid.UUID
	TenantUserID *uuid.UUID
	Email        string
	Role         enums.Role
	Stores       []uuid.UUID
	SessionID    uuid.UUID
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Mode reports the login path the claims belong to.
func (c Claims) Mode() Mode {
	if c.TenantUserID != nil && *c.TenantUserID != uuid.Nil {
		return ModeMultiTenant
	}
	return ModeSingleTenant
}

// HasStore reports whether storeID is among the accessible stores.
func (c Claims) HasStore(storeID uuid.UUID) bool {
	for _, id := range c.Stores {
		if id == storeID {
			return true
		}
	}
	return false
}

// wireClaims is the JSON payload. Both the current and the historical short
// names are declared so either shape decodes into one struct.
type wireClaims struct {
	TenantID     string      `json:"tenant_id,omitempty"`
	TenantUserID string      `json:"tenant_user_id,omitempty"`
	SessionID    string      `json:"session_id,omitempty"`
	Email        string      `json:"email,omitempty"`
	Role         enums.Role  `json:"role,omitempty"`
	Stores       []uuid.UUID `json:"stores"`

	LegacyUserID       string `json:"userId,omitempty"`
	LegacyTenantID     string `json:"tenantId,omitempty"`
	LegacyTenantUserID string `json:"tenantUserId,omitempty"`
	LegacySessionID    string `json:"sessionId,omitempty"`

	jwt.RegisteredClaims
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
