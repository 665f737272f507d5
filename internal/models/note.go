package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Note struct {
	ID        uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID                   `gorm:"type:uuid;not null;index" json:"user_id"`
	TeamID    *uuid.UUID                  `gorm:"type:uuid;index" json:"team_id,omitempty"`
	ParentID  *uuid.UUID                  `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	Title     string                      `gorm:"not null;default:''" json:"title"`
	Content   string                      `gorm:"type:text;not null;default:''" json:"content"`
	Tags      datatypes.JSONSlice[string] `json:"tags"`
	Position  int                         `gorm:"not null;default:0" json:"position"`
	CreatedAt time.Time                   `json:"created_at"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

func (n *Note) BeforeCreate(tx *gorm.DB) error {
	ensureID(&n.ID)
	if n.Tags == nil {
		n.Tags = datatypes.JSONSlice[string]{}
	}
	return nil
}
