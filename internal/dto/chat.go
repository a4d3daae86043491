package dto

import (
	"time"

	"gorm.io/datatypes"

	"github.com/kestrelhq/chatgate/internal/model"
)

type CreateChatRequest struct {
	Title string `json:"title" binding:"omitempty,max=255"`
}

// UpdateChatRequest patches title and/or archived state; nil means untouched
type UpdateChatRequest struct {
	Title      *string `json:"title" binding:"omitempty,max=255"`
	IsArchived *bool   `json:"is_archived"`
}

type ChatResponse struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title"`
	IsArchived bool      `json:"is_archived"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func NewChatResponse(c *model.Chat) ChatResponse {
	return ChatResponse{
		ID:         c.ID,
		UserID:     c.UserID,
		Title:      c.Title,
		IsArchived: c.IsArchived,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

type ChatListResponse struct {
	Total int64          `json:"total"`
	Chats []ChatResponse `json:"chats"`
	Skip  int            `json:"skip"`
	Limit int            `json:"limit"`
}

type CreateMessageRequest struct {
	Role             string         `json:"role" binding:"required,oneof=user assistant system tool"`
	Content          string         `json:"content" binding:"required"`
	Images           datatypes.JSON `json:"images"`
	ModelName        string         `json:"model_name"`
	TokensUsed       int            `json:"tokens_used"`
	ExtendedMetadata datatypes.JSON `json:"extended_metadata"`
}

// UpdateMessageRequest patches a user-authored message; nil means untouched
type UpdateMessageRequest struct {
	Content          *string        `json:"content" binding:"omitempty"`
	Images           datatypes.JSON `json:"images"`
	ExtendedMetadata datatypes.JSON `json:"extended_metadata"`
}

type BulkDeleteMessagesRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required,min=1"`
}

type BulkDeleteMessagesResponse struct {
	DeletedCount    int64    `json:"deleted_count"`
	FailedDeletions []string `json:"failed_deletions"`
}

type MessageResponse struct {
	ID               string         `json:"id"`
	ChatID           string         `json:"chat_id"`
	Role             string         `json:"role"`
	Content          string         `json:"content"`
	Thinking         string         `json:"thinking,omitempty"`
	Images           datatypes.JSON `json:"images,omitempty"`
	ModelName        string         `json:"model_name,omitempty"`
	TokensUsed       int            `json:"tokens_used"`
	ExtendedMetadata datatypes.JSON `json:"extended_metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

func NewMessageResponse(m *model.Message) MessageResponse {
	return MessageResponse{
		ID:               m.ID,
		ChatID:           m.ChatID,
		Role:             string(m.Role),
		Content:          m.Content,
		Thinking:         m.Thinking,
		Images:           m.Images,
		ModelName:        m.ModelName,
		TokensUsed:       m.TokensUsed,
		ExtendedMetadata: m.ExtendedMetadata,
		CreatedAt:        m.CreatedAt,
	}
}

type ChatWithMessagesResponse struct {
	Chat     ChatResponse      `json:"chat"`
	Messages []MessageResponse `json:"messages"`
}
