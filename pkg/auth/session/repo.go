package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/bizledger-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrSessionNotFound is returned when a session row is missing or expired.
var ErrSessionNotFound = errors.New("session not found")

// ClientInfo carries request metadata persisted with a session.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// NewID produces the identifier used as the session primary key and JWT jti.
func NewID() uuid.UUID {
	return uuid.New()
}

// TokenRef derives the opaque reference stored alongside a session. The raw
// token is never persisted.
func TokenRef(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Repository persists sessions in one tenant database. Build one per request
// from the tenant connection.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a session repository to a tenant connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create stores a new session for the user.
func (r *Repository) Create(ctx context.Context, id, userID uuid.UUID, token string, expiresAt time.Time, client ClientInfo) (*models.Session, error) {
	sess := &models.Session{
		ID:        id,
		UserID:    userID,
		TokenRef:  TokenRef(token),
		IPAddress: optional(client.IPAddress),
		UserAgent: optional(client.UserAgent),
		ExpiresAt: expiresAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, err
	}
	return sess, nil
}

// FindActive returns the session if it exists and has not expired at now.
func (r *Repository) FindActive(ctx context.Context, id uuid.UUID, now time.Time) (*models.Session, error) {
	var sess models.Session
	err := r.db.WithContext(ctx).
		Where("id = ? AND expires_at > ?", id, now.UTC()).
		First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &sess, nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Session{}).Error
}

// DeleteForUser removes every session of the user, e.g. on deactivation.
func (r *Repository) DeleteForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

// PurgeExpired deletes sessions whose expiry is at or before now.
func (r *Repository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
