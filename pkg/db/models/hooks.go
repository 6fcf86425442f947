package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IDs are assigned in Go so the same models work against postgres and sqlite.

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (t *Tenant) BeforeCreate(*gorm.DB) error     { ensureID(&t.ID); return nil }
func (t *TenantUser) BeforeCreate(*gorm.DB) error { ensureID(&t.ID); return nil }
func (u *User) BeforeCreate(*gorm.DB) error       { ensureID(&u.ID); return nil }
func (s *Session) BeforeCreate(*gorm.DB) error    { ensureID(&s.ID); return nil }
func (s *Store) BeforeCreate(*gorm.DB) error      { ensureID(&s.ID); return nil }
