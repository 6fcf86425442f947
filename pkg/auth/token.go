package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/bizledger-backend/pkg/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var jwtSigningMethod = jwt.SigningMethodHS256

var (
	// ErrInvalidToken wraps every verification failure.
	ErrInvalidToken = errors.New("invalid token")
	errMissingClaim = errors.New("missing required claim")
)

// Codec signs and verifies session tokens with a shared HS256 secret.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewCodec validates the JWT configuration and returns a codec.
func NewCodec(cfg config.JWTConfig) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("jwt issuer is required")
	}
	if cfg.TTL() <= 0 {
		return nil, fmt.Errorf("jwt expiration minutes must be positive")
	}
	return &Codec{secret: []byte(cfg.Secret), issuer: cfg.Issuer, ttl: cfg.TTL()}, nil
}

// TTL returns the fixed token validity window.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Sign issues a token using the standard claim names. The session id doubles
// as the jti.
func (c *Codec) Sign(now time.Time, claims Claims) (string, time.Time, error) {
	if err := validateForSigning(claims); err != nil {
		return "", time.Time{}, err
	}
	expiresAt := now.Add(c.ttl)

	wire := wireClaims{
		TenantID:  claims.TenantID.String(),
		SessionID: claims.SessionID.String(),
		Email:     claims.Email,
		Role:      claims.Role,
		Stores:    storesOrEmpty(claims.Stores),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID.String(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        claims.SessionID.String(),
		},
	}
	if claims.TenantUserID != nil {
		wire.TenantUserID = claims.TenantUserID.String()
	}

	signed, err := c.sign(wire)
	return signed, expiresAt, err
}

// SignLegacy issues a token with the historical short claim names still
// presented by older clients.
func (c *Codec) SignLegacy(now time.Time, claims Claims) (string, time.Time, error) {
	if err := validateForSigning(claims); err != nil {
		return "", time.Time{}, err
	}
	expiresAt := now.Add(c.ttl)

	wire := wireClaims{
		LegacyUserID:    claims.UserID.String(),
		LegacyTenantID:  claims.TenantID.String(),
		LegacySessionID: claims.SessionID.String(),
		Email:           claims.Email,
		Role:            claims.Role,
		Stores:          storesOrEmpty(claims.Stores),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if claims.TenantUserID != nil {
		wire.LegacyTenantUserID = claims.TenantUserID.String()
	}

	signed, err := c.sign(wire)
	return signed, expiresAt, err
}

func (c *Codec) sign(wire wireClaims) (string, error) {
	token := jwt.NewWithClaims(jwtSigningMethod, wire)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and normalizes either claim shape.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	wire := &wireClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		wire,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	// Legacy tokens predate the issuer claim.
	if wire.Issuer != "" && wire.Issuer != c.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, wire.Issuer)
	}

	claims, err := normalize(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// DecodeUnsafe reads the payload without checking the signature or expiry.
// The result is only fit for diagnostics and must never authorize anything.
func DecodeUnsafe(tokenString string) (*Claims, bool) {
	wire := &wireClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(tokenString), wire); err != nil {
		return nil, false
	}
	claims, err := normalize(wire)
	if err != nil {
		return nil, false
	}
	return claims, true
}

func normalize(wire *wireClaims) (*Claims, error) {
	userID, err := parseID("sub", firstNonEmpty(wire.Subject, wire.LegacyUserID))
	if err != nil {
		return nil, err
	}
	tenantID, err := parseID("tenant_id", firstNonEmpty(wire.TenantID, wire.LegacyTenantID))
	if err != nil {
		return nil, err
	}
	sessionID, err := parseID("session_id", firstNonEmpty(wire.SessionID, wire.LegacySessionID))
	if err != nil {
		return nil, err
	}
	if !wire.Role.IsValid() {
		return nil, fmt.Errorf("invalid role %q", wire.Role)
	}

	claims := &Claims{
		UserID:    userID,
		TenantID:  tenantID,
		SessionID: sessionID,
		Email:     wire.Email,
		Role:      wire.Role,
		Stores:    storesOrEmpty(wire.Stores),
	}
	if raw := firstNonEmpty(wire.TenantUserID, wire.LegacyTenantUserID); raw != "" {
		id, err := parseID("tenant_user_id", raw)
		if err != nil {
			return nil, err
		}
		claims.TenantUserID = &id
	}
	if wire.IssuedAt != nil {
		claims.IssuedAt = wire.IssuedAt.Time
	}
	if wire.ExpiresAt != nil {
		claims.ExpiresAt = wire.ExpiresAt.Time
	}
	return claims, nil
}

func parseID(name, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: %s", errMissingClaim, name)
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid %s claim", name)
	}
	return id, nil
}

func validateForSigning(claims Claims) error {
	if claims.UserID == uuid.Nil {
		return fmt.Errorf("user id is required")
	}
	if claims.TenantID == uuid.Nil {
		return fmt.Errorf("tenant id is required")
	}
	if claims.SessionID == uuid.Nil {
		return fmt.Errorf("session id is required")
	}
	if !claims.Role.IsValid() {
		return fmt.Errorf("invalid role %q", claims.Role)
	}
	return nil
}

func storesOrEmpty(stores []uuid.UUID) []uuid.UUID {
	if stores == nil {
		return []uuid.UUID{}
	}
	return stores
}
