package stores

import (
	"context"
	"fmt"

	"github.com/angelmondragon/bizledger-backend/pkg/db/models"
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository reads stores and store assignments from a tenant DB.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to store operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create persists a new store row.
func (r *Repository) Create(ctx context.Context, name string) (*models.Store, error) {
	store := &models.Store{Name: name, IsActive: true}
	if err := r.db.WithContext(ctx).Create(store).Error; err != nil {
		return nil, err
	}
	return store, nil
}

// ListActive returns every active store ordered by name.
func (r *Repository) ListActive(ctx context.Context) ([]models.Store, error) {
	var out []models.Store
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("name ASC").
		Find(&out).Error
	return out, err
}

// Assign upserts the user's assignment to a store.
func (r *Repository) Assign(ctx context.Context, assignment *models.UserStore) error {
	if assignment == nil {
		return fmt.Errorf("assignment is required")
	}
	return r.db.WithContext(ctx).Save(assignment).Error
}

// AssignmentsFor returns the user's assignments to active stores.
func (r *Repository) AssignmentsFor(ctx context.Context, userID uuid.UUID) ([]Assigned, error) {
	var rows []models.UserStore
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []Assigned{}, nil
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.StoreID)
	}
	var stores []models.Store
	err := r.db.WithContext(ctx).
		Where("id IN ? AND is_active = ?", ids, true).
		Order("name ASC").
		Find(&stores).Error
	if err != nil {
		return nil, err
	}

	byStore := make(map[uuid.UUID]models.UserStore, len(rows))
	for _, row := range rows {
		byStore[row.StoreID] = row
	}
	out := make([]Assigned, 0, len(stores))
	for _, s := range stores {
		a := byStore[s.ID]
		out = append(out, Assigned{Store: s, Assignment: &a})
	}
	return out, nil
}

// AccessibleFor returns the stores a user may work in: every active store for
// roles with implicit access, otherwise only assigned active stores.
func (r *Repository) AccessibleFor(ctx context.Context, userID uuid.UUID, role enums.Role) ([]Assigned, error) {
	if !role.HasAllStores() {
		return r.AssignmentsFor(ctx, userID)
	}
	stores, err := r.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Assigned, 0, len(stores))
	for _, s := range stores {
		out = append(out, Assigned{Store: s})
	}
	return out, nil
}
