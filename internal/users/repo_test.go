package users

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/angelmondragon/bizledger-backend/pkg/db/models"
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bizledger-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.User{}))
	return db
}

func TestRepositoryUserFlow(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()

	created, err := repo.Create(ctx, CreateUserDTO{Email: " Ana@Acme.Test ", DisplayName: "Ana", Role: enums.RoleStoreManager})
	require.NoError(t, err)
	assert.Equal(t, "ana@acme.test", created.Email)
	assert.Equal(t, enums.UserStatusActive, created.Status)

	found, err := repo.FindByEmail(ctx, "ANA@acme.test")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, repo.UpdateLastLogin(ctx, created.ID, at))
	require.NoError(t, repo.SetStatus(ctx, created.ID, enums.UserStatusInactive))

	reloaded, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastLoginAt)
	assert.True(t, reloaded.LastLoginAt.Equal(at))
	assert.Equal(t, enums.UserStatusInactive, reloaded.Status)

	_, err = repo.FindByEmail(ctx, "missing@acme.test")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestListByRoles(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()
	for _, u := range []CreateUserDTO{
		{Email: "b@x.test", DisplayName: "B", Role: enums.RoleSalesperson},
		{Email: "a@x.test", DisplayName: "A", Role: enums.RoleStoreManager},
		{Email: "c@x.test", DisplayName: "C", Role: enums.RoleOwner},
	} {
		_, err := repo.Create(ctx, u)
		require.NoError(t, err)
	}

	got, err := repo.ListByRoles(ctx, []enums.Role{enums.RoleSalesperson, enums.RoleStoreManager})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a@x.test", got[0].Email)

	empty, err := repo.ListByRoles(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, CreateUserDTO{Email: "ana@acme.test", DisplayName: "Ana", Role: enums.RoleOwner})
	require.NoError(t, err)

	_, err = repo.Create(ctx, CreateUserDTO{Email: "ANA@acme.test", DisplayName: "Ana 2", Role: enums.RoleSalesperson})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())
}

func TestFromModelOmitsCredentials(t *testing.T) {
	hash := "secret-hash"
	dto := FromModel(&models.User{ID: uuid.New(), Email: "x@y.test", PasswordHash: &hash, Role: enums.RoleOwner})
	assert.Equal(t, enums.RoleOwner, dto.Role)
	assert.Nil(t, FromModel(nil))
}
