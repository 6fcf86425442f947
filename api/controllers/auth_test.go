package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/angelmondragon/bizledger-backend/api/middleware"
	"github.com/angelmondragon/bizledger-backend/internal/auth"
	"github.com/angelmondragon/bizledger-backend/internal/permissions"
	"github.com/angelmondragon/bizledger-backend/internal/users"
	pkgauth "github.com/angelmondragon/bizledger-backend/pkg/auth"
	"github.com/angelmondragon/bizledger-backend/pkg/auth/session"
	"github.com/angelmondragon/bizledger-backend/pkg/config"
	"github.com/angelmondragon/bizledger-backend/pkg/db/models"
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bizledger-backend/pkg/errors"
	"github.com/google/uuid"
)

type stubAuthService struct {
	login      *auth.LoginResponse
	current    *auth.CurrentUserResponse
	err        error
	gotRequest auth.LoginRequest
	gotClient  session.ClientInfo
	loggedOut  [2]uuid.UUID
}

func (s *stubAuthService) Login(ctx context.Context, req auth.LoginRequest, client session.ClientInfo) (*auth.LoginResponse, error) {
	s.gotRequest = req
	s.gotClient = client
	return s.login, s.err
}

func (s *stubAuthService) Logout(ctx context.Context, tenantID, sessionID uuid.UUID) error {
	s.loggedOut = [2]uuid.UUID{tenantID, sessionID}
	return s.err
}

func (s *stubAuthService) CurrentUser(ctx context.Context, identity *auth.Identity) (*auth.CurrentUserResponse, error) {
	return s.current, s.err
}

func testIdentity(role enums.Role) *auth.Identity {
	user := &models.User{ID: uuid.New(), Email: "ana@example.test", Role: role, Status: enums.UserStatusActive}
	return &auth.Identity{
		Claims:  pkgauth.Claims{UserID: user.ID, TenantID: uuid.New(), SessionID: uuid.New(), Role: role},
		User:    user,
		Subject: permissions.Subject{Role: role, Assignments: map[uuid.UUID]permissions.Assignment{}},
	}
}

func TestAuthLoginSetsTokenHeaderAndCookie(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	svc := &stubAuthService{login: &auth.LoginResponse{
		Token:     "signed-token",
		ExpiresAt: expires,
		User:      &users.UserDTO{ID: uuid.New(), Email: "ana@example.test", Role: enums.RoleOwner},
	}}
	handler := AuthLogin(svc, SessionCookie{Name: "bl_session"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte(`{"email":"ana@example.test","password":"Secret#1","tenant":"acme"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "pos-terminal/2.1")
	req.RemoteAddr = "10.1.2.3:5555"
	resp := httptest.NewRecorder()

	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get(middleware.TokenHeader); got != "signed-token" {
		t.Fatalf("expected token header, got %q", got)
	}
	cookies := resp.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "bl_session" || cookies[0].Value != "signed-token" || !cookies[0].HttpOnly {
		t.Fatalf("unexpected cookies %+v", cookies)
	}
	if svc.gotRequest.Tenant != "acme" {
		t.Fatalf("expected tenant slug forwarded, got %q", svc.gotRequest.Tenant)
	}
	if svc.gotClient.IPAddress != "10.1.2.3" || svc.gotClient.UserAgent != "pos-terminal/2.1" {
		t.Fatalf("unexpected client info %+v", svc.gotClient)
	}

	var envelope struct {
		Data struct {
			Token     string    `json:"token"`
			ExpiresAt time.Time `json:"expires_at"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Token != "signed-token" || !envelope.Data.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected payload %+v", envelope.Data)
	}
}

func TestAuthLoginValidatesBody(t *testing.T) {
	svc := &stubAuthService{}
	handler := AuthLogin(svc, SessionCookie{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte(`{"email":"not-an-email"}`)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if svc.gotRequest.Email != "" {
		t.Fatal("service must not run on invalid input")
	}
}

func TestAuthLoginMapsServiceErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials"), http.StatusUnauthorized},
		{pkgerrors.New(pkgerrors.CodeAccountLocked, "account locked"), http.StatusLocked},
		{pkgerrors.New(pkgerrors.CodeTenantSuspended, "tenant suspended"), http.StatusForbidden},
		{pkgerrors.New(pkgerrors.CodeSyncIntegrity, "missing tenant row"), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		handler := AuthLogin(&stubAuthService{err: tc.err}, SessionCookie{}, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte(`{"email":"ana@example.test","password":"x"}`)))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != tc.status {
			t.Fatalf("%v: expected %d got %d", tc.err, tc.status, resp.Code)
		}
		if resp.Header().Get(middleware.TokenHeader) != "" {
			t.Fatal("no token header on failure")
		}
	}
}

func TestAuthLogoutRevokesSessionAndClearsCookie(t *testing.T) {
	svc := &stubAuthService{}
	identity := testIdentity(enums.RoleSalesperson)
	handler := AuthLogout(svc, SessionCookie{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req = req.WithContext(middleware.WithIdentity(req.Context(), identity))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.loggedOut[0] != identity.TenantID() || svc.loggedOut[1] != identity.Claims.SessionID {
		t.Fatalf("unexpected logout args %v", svc.loggedOut)
	}
	cookies := resp.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expiring cookie, got %+v", cookies)
	}

	var envelope struct {
		Data struct {
			Success bool `json:"success"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !envelope.Data.Success {
		t.Fatalf("expected success flag, got %s", resp.Body.String())
	}
}

func TestAuthLogoutRequiresIdentity(t *testing.T) {
	handler := AuthLogout(&stubAuthService{}, SessionCookie{}, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthMeReturnsCurrentUser(t *testing.T) {
	svc := &stubAuthService{current: &auth.CurrentUserResponse{
		User: &users.UserDTO{Email: "ana@example.test", Role: enums.RoleStoreManager},
	}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req = req.WithContext(middleware.WithIdentity(req.Context(), testIdentity(enums.RoleStoreManager)))
	resp := httptest.NewRecorder()
	AuthMe(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	var envelope struct {
		Data struct {
			User users.UserDTO `json:"user"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.User.Role != enums.RoleStoreManager {
		t.Fatalf("unexpected role %s", envelope.Data.User.Role)
	}
}

func TestAuthPermissionsUsesStoreScope(t *testing.T) {
	storeID := uuid.New()
	narrowed := enums.RoleSalesperson
	identity := testIdentity(enums.RoleStoreManager)
	identity.Subject.Assignments[storeID] = permissions.Assignment{StoreID: storeID, Role: &narrowed}

	serve := func(ctx context.Context) map[string][]string {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/permissions", nil).WithContext(ctx)
		resp := httptest.NewRecorder()
		AuthPermissions(nil, nil).ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d", resp.Code)
		}
		var envelope struct {
			Data struct {
				Permissions map[string][]string `json:"permissions"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		return envelope.Data.Permissions
	}

	base := middleware.WithIdentity(context.Background(), identity)
	if got := serve(base)["reports"]; len(got) != 1 || got[0] != "view" {
		t.Fatalf("expected store manager reports view, got %v", got)
	}
	if _, ok := serve(middleware.WithStoreID(base, storeID))["reports"]; ok {
		t.Fatal("store assignment as salesperson should hide reports")
	}
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	ok := ReadinessCheck{Name: "master_db", Ping: func(context.Context) error { return nil }}
	resp := httptest.NewRecorder()
	HealthReady(cfg, nil, ok).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	down := ReadinessCheck{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }}
	resp = httptest.NewRecorder()
	HealthReady(cfg, nil, ok, down).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
	if got := resp.Header().Get("X-BizLedger-Env"); got != "test" {
		t.Fatalf("expected env header, got %q", got)
	}
}
