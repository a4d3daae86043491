package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultChatTitle is the placeholder title a chat keeps until it is renamed
// or auto-titled from its first exchange.
const DefaultChatTitle = "New Chat"

// MessageRole is the closed set of message author roles
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
	MessageRoleTool      MessageRole = "tool"
)

func (r MessageRole) IsValid() bool {
	switch r {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleSystem, MessageRoleTool:
		return true
	}
	return false
}

type Chat struct {
	ID         string    `gorm:"column:id;type:uuid;primaryKey"`
	UserID     string    `gorm:"column:user_id;type:uuid;index;not null"`
	Title      string    `gorm:"column:title;size:255;default:'New Chat'"`
	IsArchived bool      `gorm:"column:is_archived;default:false;not null"`
	CreatedAt  time.Time `gorm:"column:created_at"`

	// UpdatedAt is the chat's last-activity timestamp. Every message write
	// that changes the chat's content must bump it; listings order by it.
	UpdatedAt time.Time `gorm:"column:updated_at"`

	Messages []Message `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE"`
}

func (Chat) TableName() string {
	return "chats"
}

func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Title == "" {
		c.Title = DefaultChatTitle
	}
	return nil
}

type Message struct {
	ID         string         `gorm:"column:id;type:uuid;primaryKey"`
	ChatID     string         `gorm:"column:chat_id;type:uuid;index;not null"`
	Role       MessageRole    `gorm:"column:role;size:50;not null"`
	Content    string         `gorm:"column:content;type:text;not null"`
	Thinking   string         `gorm:"column:thinking;type:text"`
	Images     datatypes.JSON `gorm:"column:images"`
	ModelName  string         `gorm:"column:model_name;size:100"`
	TokensUsed int            `gorm:"column:tokens_used;default:0"`

	// ExtendedMetadata carries upstream counters for assistant turns
	// (prompt_eval_count, eval_count, eval_duration) and any free-form data.
	ExtendedMetadata datatypes.JSON `gorm:"column:extended_metadata"`

	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
