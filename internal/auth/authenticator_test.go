package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/angelmondragon/bizledger-backend/internal/tenancy"
	pkgauth "github.com/angelmondragon/bizledger-backend/pkg/auth"
	"github.com/angelmondragon/bizledger-backend/pkg/auth/session"
	"github.com/angelmondragon/bizledger-backend/pkg/config"
	"github.com/angelmondragon/bizledger-backend/pkg/db"
	"github.com/angelmondragon/bizledger-backend/pkg/db/models"
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bizledger-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func requireReauthenticate(t *testing.T, err error) {
	t.Helper()
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	assert.Equal(t, pkgerrors.CodeUnauthorized, typed.Code())
	assert.Equal(t, reauthenticateMessage, typed.Message())
}

func TestAuthenticateBuildsIdentity(t *testing.T) {
	h := newHarness(t)
	acme := h.addTenant(t, "acme")
	_, user := h.addUser(t, acme, "manager@acme.test", "pw-123456", enums.RoleStoreManager, true)
	north := addStore(t, acme, "North", true)
	south := addStore(t, acme, "South", true)
	override := `{"reports": ["view", "add"]}`
	require.NoError(t, acme.conn.DB().Create(&models.UserStore{UserID: user.ID, StoreID: north.ID, Permissions: &override}).Error)
	ctx := context.Background()

	resp, err := h.svc.Login(ctx, LoginRequest{Email: user.Email, Password: "pw-123456"}, session.ClientInfo{})
	require.NoError(t, err)

	identity, err := h.authn.Authenticate(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, acme.ID, identity.TenantID())
	assert.Equal(t, enums.RoleStoreManager, identity.Role())
	assert.True(t, identity.HasStore(north.ID))
	assert.False(t, identity.HasStore(south.ID))
	assert.Equal(t, []uuid.UUID{north.ID}, identity.StoreIDs())

	assignment, ok := identity.Subject.Assignments[north.ID]
	require.True(t, ok)
	set, ok := assignment.Overrides.Lookup(enums.ModuleReports)
	require.True(t, ok)
	assert.True(t, set.Has(enums.ActionAdd))
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.authn.Authenticate(ctx, "")
	requireReauthenticate(t, err)

	_, err = h.authn.Authenticate(ctx, "not.a.token")
	requireReauthenticate(t, err)

	other, err := pkgauth.NewCodec(config.JWTConfig{Secret: "other-secret", Issuer: "bizledger", ExpirationMinutes: 60})
	require.NoError(t, err)
	tenantUser := uuid.New()
	token, _, err := other.Sign(time.Now(), pkgauth.Claims{
		UserID:       uuid.New(),
		TenantID:     uuid.New(),
		TenantUserID: &tenantUser,
		Role:         enums.RoleOwner,
		SessionID:    uuid.New(),
	})
	require.NoError(t, err)
	_, err = h.authn.Authenticate(ctx, token)
	requireReauthenticate(t, err)
}

func TestAuthenticateUnknownTenantIsUnauthorized(t *testing.T) {
	h := newHarness(t)
	tenantUser := uuid.New()
	token, _, err := h.codec.Sign(time.Now(), pkgauth.Claims{
		UserID:       uuid.New(),
		TenantID:     uuid.New(),
		TenantUserID: &tenantUser,
		Role:         enums.RoleOwner,
		SessionID:    uuid.New(),
	})
	require.NoError(t, err)

	_, err = h.authn.Authenticate(context.Background(), token)
	requireReauthenticate(t, err)
}

func TestAuthenticateIsolatesTenants(t *testing.T) {
	h := newHarness(t)
	acme := h.addTenant(t, "acme")
	globex := h.addTenant(t, "globex")
	_, acmeUser := h.addUser(t, acme, "shared@example.test", "pw-acme-1", enums.RoleOwner, true)
	_, globexUser := h.addUser(t, globex, "shared@example.test", "pw-globex-1", enums.RoleSalesperson, true)
	ctx := context.Background()

	_, err := h.svc.Login(ctx, LoginRequest{Email: "shared@example.test", Password: "pw-acme-1"}, session.ClientInfo{})
	requireCode(t, err, pkgerrors.CodeUnauthorized)

	resp, err := h.svc.Login(ctx, LoginRequest{Email: "shared@example.test", Password: "pw-acme-1", Tenant: acme.Slug}, session.ClientInfo{})
	require.NoError(t, err)
	identity, err := h.authn.Authenticate(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, acmeUser.ID, identity.User.ID)
	assert.Same(t, acme.conn, identity.Conn)

	resp, err = h.svc.Login(ctx, LoginRequest{Email: "shared@example.test", Password: "pw-globex-1", Tenant: globex.Slug}, session.ClientInfo{})
	require.NoError(t, err)
	identity, err = h.authn.Authenticate(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, globexUser.ID, identity.User.ID)
	assert.Equal(t, enums.RoleSalesperson, identity.Role())

	// A validly signed token pointing an acme session at globex finds no
	// session there.
	claims, err := h.codec.Verify(resp.Token)
	require.NoError(t, err)
	forged := *claims
	forged.TenantID = acme.ID
	forgedToken, _, err := h.codec.Sign(time.Now(), forged)
	require.NoError(t, err)
	_, err = h.authn.Authenticate(ctx, forgedToken)
	requireReauthenticate(t, err)
}

func TestAuthenticateRejectsExpiredSession(t *testing.T) {
	h := newHarness(t)
	acme := h.addTenant(t, "acme")
	_, user := h.addUser(t, acme, "clerk@acme.test", "pw-123456", enums.RoleSalesperson, true)
	ctx := context.Background()

	resp, err := h.svc.Login(ctx, LoginRequest{Email: user.Email, Password: "pw-123456"}, session.ClientInfo{})
	require.NoError(t, err)

	h.clock.Advance(2 * time.Hour)
	_, err = h.authn.Authenticate(ctx, resp.Token)
	requireReauthenticate(t, err)
}

func TestAuthenticateRejectsDeactivatedUser(t *testing.T) {
	h := newHarness(t)
	acme := h.addTenant(t, "acme")
	_, user := h.addUser(t, acme, "clerk@acme.test", "pw-123456", enums.RoleSalesperson, true)
	ctx := context.Background()

	resp, err := h.svc.Login(ctx, LoginRequest{Email: user.Email, Password: "pw-123456"}, session.ClientInfo{})
	require.NoError(t, err)
	_, err = h.authn.Authenticate(ctx, resp.Token)
	require.NoError(t, err)

	require.NoError(t, acme.conn.DB().Model(user).Update("status", enums.UserStatusInactive).Error)
	_, err = h.authn.Authenticate(ctx, resp.Token)
	requireReauthenticate(t, err)
}

func TestAuthenticateRejectsSingleTenantTokenWhenDisabled(t *testing.T) {
	h := newHarness(t)
	acme := h.addTenant(t, "acme")
	_, user := h.addUser(t, acme, "clerk@acme.test", "pw-123456", enums.RoleSalesperson, true)

	token, _, err := h.codec.SignLegacy(time.Now(), pkgauth.Claims{
		UserID:    user.ID,
		TenantID:  acme.ID,
		Role:      user.Role,
		SessionID: uuid.New(),
	})
	require.NoError(t, err)

	_, err = h.authn.Authenticate(context.Background(), token)
	requireReauthenticate(t, err)
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, code), "expected %s, got %v", code, err)
}

type legacyHarness struct {
	svc      Service
	authn    *Authenticator
	conn     *db.Client
	tenantID uuid.UUID
}

func newLegacyHarness(t *testing.T) *legacyHarness {
	t.Helper()
	ctx := context.Background()
	tenantID := uuid.New()
	legacy := config.LegacyConfig{Enabled: true, TenantID: tenantID.String(), Driver: config.DriverSQLite}

	conn, err := db.Open(ctx, db.Options{
		Name: "legacy",
		DSN:  fmt.Sprintf("file:legacy_%s?mode=memory&cache=shared", uuid.NewString()),
		Pool: config.DBConfig{Driver: config.DriverSQLite, MaxOpenConns: 1},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, conn.DB().AutoMigrate(&models.User{}, &models.Session{}, &models.Store{}, &models.UserStore{}))

	router := tenancy.NewRouter(tenancy.RouterParams{})
	t.Cleanup(func() { _ = router.Close() })
	require.NoError(t, router.RegisterStatic(tenantID, conn))

	codec, err := pkgauth.NewCodec(testJWTConfig)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{Router: router, Codec: codec, Legacy: legacy})
	require.NoError(t, err)
	authn, err := NewAuthenticator(AuthenticatorParams{Codec: codec, Router: router, Legacy: legacy})
	require.NoError(t, err)
	return &legacyHarness{svc: svc, authn: authn, conn: conn, tenantID: tenantID}
}

func TestSingleTenantLoginAndAuthenticate(t *testing.T) {
	h := newLegacyHarness(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("legacy-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	hashed := string(hash)
	user := &models.User{
		Email:        "owner@legacy.test",
		DisplayName:  "Owner",
		Role:         enums.RoleOwner,
		Status:       enums.UserStatusActive,
		PasswordHash: &hashed,
	}
	require.NoError(t, h.conn.DB().Create(user).Error)

	_, err = h.svc.Login(ctx, LoginRequest{Email: user.Email, Password: "wrong"}, session.ClientInfo{})
	requireCode(t, err, pkgerrors.CodeUnauthorized)

	resp, err := h.svc.Login(ctx, LoginRequest{Email: user.Email, Password: "legacy-pass"}, session.ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, h.tenantID, resp.Tenant.ID)

	claims, ok := pkgauth.DecodeUnsafe(resp.Token)
	require.True(t, ok)
	assert.Equal(t, pkgauth.ModeSingleTenant, claims.Mode())

	identity, err := h.authn.Authenticate(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.User.ID)
	assert.Same(t, h.conn, identity.Conn)

	current, err := h.svc.CurrentUser(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, h.tenantID, current.Tenant.ID)

	require.NoError(t, h.svc.Logout(ctx, h.tenantID, identity.Claims.SessionID))
	_, err = h.authn.Authenticate(ctx, resp.Token)
	requireReauthenticate(t, err)
}

func TestSingleTenantRejectsForeignTenantToken(t *testing.T) {
	h := newLegacyHarness(t)
	codec, err := pkgauth.NewCodec(testJWTConfig)
	require.NoError(t, err)

	token, _, err := codec.SignLegacy(time.Now(), pkgauth.Claims{
		UserID:    uuid.New(),
		TenantID:  uuid.New(),
		Role:      enums.RoleOwner,
		SessionID: uuid.New(),
	})
	require.NoError(t, err)
	_, err = h.authn.Authenticate(context.Background(), token)
	requireReauthenticate(t, err)
}
