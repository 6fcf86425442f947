package stores

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/bizledger-backend/pkg/db/models"
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
)

// StoreDTO is the store summary returned with an identity.
type StoreDTO struct {
	ID       uuid.UUID   `json:"id"`
	Name     string      `json:"name"`
	IsActive bool        `json:"is_active"`
	Role     *enums.Role `json:"role,omitempty"`
}

// FromModel maps a store into a DTO.
func FromModel(m models.Store) StoreDTO {
	return StoreDTO{ID: m.ID, Name: m.Name, IsActive: m.IsActive}
}

// Assigned is a store the user may access together with its assignment row,
// which is nil for roles that implicitly see every store.
type Assigned struct {
	Store      models.Store
	Assignment *models.UserStore
}

// DTO maps the pair, carrying the store role override when present.
func (a Assigned) DTO() StoreDTO {
	dto := FromModel(a.Store)
	if a.Assignment != nil {
		dto.Role = a.Assignment.Role
	}
	return dto
}
