package service

import (
	"context"

	"gorm.io/datatypes"

	"github.com/kestrelhq/chatgate/internal/model"
)

// UserStore is the persistence surface the auth/user services need. The gorm
// repository implements it; tests plug in in-memory fakes.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	List(ctx context.Context, skip, limit int) ([]model.User, int64, error)
	Create(ctx context.Context, user *model.User) error
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error
	UpdatePassword(ctx context.Context, id string, passwordHash string) error
	SetActive(ctx context.Context, id string, active bool) error
	UpdateLastLogin(ctx context.Context, id string) error
	IncrementTokenVersion(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
}

// ChatStore is the persistence surface for chats and messages
type ChatStore interface {
	GetByID(ctx context.Context, userID, chatID string) (*model.Chat, error)
	List(ctx context.Context, userID string, skip, limit int, includeArchived bool) ([]model.Chat, int64, error)
	Create(ctx context.Context, chat *model.Chat) error
	UpdateFields(ctx context.Context, userID, chatID string, fields map[string]interface{}) error
	Delete(ctx context.Context, userID, chatID string) error
	DeleteAllForUser(ctx context.Context, userID string) error

	GetMessages(ctx context.Context, chatID string) ([]model.Message, error)
	GetMessage(ctx context.Context, chatID, messageID string) (*model.Message, error)
	CountMessages(ctx context.Context, chatID string) (int64, error)
	CreateMessage(ctx context.Context, message *model.Message) error
	UpdateMessageFields(ctx context.Context, chatID, messageID string, fields map[string]interface{}) error
	DeleteMessage(ctx context.Context, chatID, messageID string) error
	DeleteMessages(ctx context.Context, chatID string, messageIDs []string) (int64, error)
	FinalizeMessage(ctx context.Context, chatID, messageID, content, thinking string, tokensUsed int, metadata datatypes.JSON, title string) error
	UpdateMessageContent(ctx context.Context, chatID, messageID, content string) error
}

// SettingsStore persists per-user preference records
type SettingsStore interface {
	Get(ctx context.Context, userID string) (*model.UserSettings, error)
	Create(ctx context.Context, settings *model.UserSettings) error
	UpdateFields(ctx context.Context, userID string, fields map[string]interface{}) error
	Delete(ctx context.Context, userID string) error
}
