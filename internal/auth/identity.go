package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/bizledger-backend/internal/permissions"
	"github.com/angelmondragon/bizledger-backend/internal/stores"
	"github.com/angelmondragon/bizledger-backend/internal/users"
	pkgauth "github.com/angelmondragon/bizledger-backend/pkg/auth"
	"github.com/angelmondragon/bizledger-backend/pkg/db"
	"github.com/angelmondragon/bizledger-backend/pkg/db/models"
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	"github.com/google/uuid"
)

// Identity is the authenticated principal of one request.
type Identity struct {
	Claims  pkgauth.Claims
	User    *models.User
	Conn    *db.Client
	Stores  []stores.Assigned
	Subject permissions.Subject
}

// TenantID returns the tenant the identity belongs to.
func (i *Identity) TenantID() uuid.UUID {
	return i.Claims.TenantID
}

// Role returns the user's base role as currently stored.
func (i *Identity) Role() enums.Role {
	return i.User.Role
}

// HasStore reports whether storeID is one of the stores the user may access.
func (i *Identity) HasStore(storeID uuid.UUID) bool {
	for _, s := range i.Stores {
		if s.Store.ID == storeID {
			return true
		}
	}
	return false
}

// StoreIDs lists the accessible store ids in display order.
func (i *Identity) StoreIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(i.Stores))
	for _, s := range i.Stores {
		out = append(out, s.Store.ID)
	}
	return out
}

// errInvalidProfile marks stored user data the resolver cannot interpret.
var errInvalidProfile = errors.New("invalid user profile")

// profile is a tenant user together with everything a permission decision
// needs, read from the tenant database in one place for login, request
// authentication and /me.
type profile struct {
	user    *models.User
	stores  []stores.Assigned
	subject permissions.Subject
}

func loadStores(ctx context.Context, conn *db.Client, user *models.User) (*profile, error) {
	assigned, err := stores.NewRepository(conn.DB()).AccessibleFor(ctx, user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("loading stores: %w", err)
	}
	subject, err := buildSubject(user, assigned)
	if err != nil {
		return nil, err
	}
	return &profile{user: user, stores: assigned, subject: subject}, nil
}

func loadProfile(ctx context.Context, conn *db.Client, userID uuid.UUID) (*profile, error) {
	user, err := users.NewRepository(conn.DB()).FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return loadStores(ctx, conn, user)
}

// buildSubject parses the override columns once per load.
func buildSubject(user *models.User, assigned []stores.Assigned) (permissions.Subject, error) {
	if !user.Role.IsValid() {
		return permissions.Subject{}, fmt.Errorf("%w: user %s has unknown role %q", errInvalidProfile, user.ID, user.Role)
	}
	global, err := permissions.ParseOverridesColumn(user.Permissions)
	if err != nil {
		return permissions.Subject{}, fmt.Errorf("%w: user %s permissions: %w", errInvalidProfile, user.ID, err)
	}
	subject := permissions.Subject{
		Role:        user.Role,
		Overrides:   global,
		Assignments: make(map[uuid.UUID]permissions.Assignment, len(assigned)),
	}
	for _, a := range assigned {
		if a.Assignment == nil {
			continue
		}
		scoped, err := permissions.ParseOverridesColumn(a.Assignment.Permissions)
		if err != nil {
			return permissions.Subject{}, fmt.Errorf("%w: user %s store %s permissions: %w", errInvalidProfile, user.ID, a.Store.ID, err)
		}
		subject.Assignments[a.Store.ID] = permissions.Assignment{
			StoreID:   a.Store.ID,
			Role:      a.Assignment.Role,
			Overrides: scoped,
		}
	}
	return subject, nil
}
