package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

type Conversation struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	TeamID    *uuid.UUID `gorm:"type:uuid;index" json:"team_id,omitempty"`
	Title     string     `gorm:"not null;default:''" json:"title"`
	Messages  []Message  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// Message is one durable entry of a conversation transcript. Order is
// unique within a conversation and assigned by the store on insert.
type Message struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_message_conversation_order,priority:1" json:"conversation_id"`
	ParentID       *uuid.UUID     `gorm:"type:uuid" json:"parent_id,omitempty"`
	Role           Role           `gorm:"not null" json:"role"`
	Content        string         `gorm:"type:text;not null;default:''" json:"content"`
	MessageType    MessageType    `gorm:"not null;default:'content'" json:"message_type"`
	Order          int            `gorm:"column:sort_order;not null;uniqueIndex:idx_message_conversation_order,priority:2" json:"order"`
	Metadata       datatypes.JSON `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	ensureID(&m.ID)
	if len(m.Metadata) == 0 {
		m.Metadata = datatypes.JSON("{}")
	}
	return nil
}

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
