package enums

import (
	"fmt"
	"strings"
)

// Role represents a tenant-level user role.
type Role string

const (
	RoleOwner          Role = "owner"
	RoleCompanyManager Role = "company_manager"
	RoleStoreManager   Role = "store_manager"
	RoleSalesperson    Role = "salesperson"
)

var validRoles = []Role{
	RoleOwner,
	RoleCompanyManager,
	RoleStoreManager,
	RoleSalesperson,
}

// roleLevels orders the hierarchy; higher outranks lower.
var roleLevels = map[Role]int{
	RoleSalesperson:    1,
	RoleStoreManager:   2,
	RoleCompanyManager: 3,
	RoleOwner:          4,
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether the value is a known Role.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// Level returns the hierarchy rank of the role, 0 for unknown roles.
func (r Role) Level() int {
	return roleLevels[r]
}

// HasAllStores reports whether the role implicitly sees every store of its tenant.
func (r Role) HasAllStores() bool {
	return r == RoleOwner || r == RoleCompanyManager
}

// Roles returns every known role ordered from lowest to highest.
func Roles() []Role {
	out := make([]Role, len(validRoles))
	for i := range validRoles {
		out[i] = validRoles[len(validRoles)-1-i]
	}
	return out
}

// ParseRole converts raw input into a Role.
func ParseRole(value string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validRoles {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}
