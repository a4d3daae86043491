package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kestrelhq/chatgate/internal/model"
	ctxutil "github.com/kestrelhq/chatgate/pkg/context"
	"github.com/kestrelhq/chatgate/pkg/logger"
)

type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// GetByID returns the chat only when it belongs to userID; anything else is
// gorm.ErrRecordNotFound so a foreign chat is indistinguishable from a
// missing one.
func (r *ChatRepository) GetByID(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "GetByID")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	var chat model.Chat
	result := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", chatID, userID).
		First(&chat)

	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			logger.ErrorWithContext(ctx, "Failed to get chat").
				String("chat_id", chatID).
				Err(result.Error).
				Log()
		}
		return nil, result.Error
	}

	return &chat, nil
}

func (r *ChatRepository) List(ctx context.Context, userID string, skip, limit int, includeArchived bool) ([]model.Chat, int64, error) {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "List")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	query := r.db.WithContext(ctx).Model(&model.Chat{}).Where("user_id = ?", userID)
	if !includeArchived {
		query = query.Where("is_archived = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var chats []model.Chat
	if err := query.Order("updated_at DESC").Offset(skip).Limit(limit).Find(&chats).Error; err != nil {
		logger.ErrorWithContext(ctx, "Failed to list chats").
			Int("skip", skip).
			Int("limit", limit).
			Err(err).
			Log()
		return nil, 0, err
	}

	return chats, total, nil
}

func (r *ChatRepository) Create(ctx context.Context, chat *model.Chat) error {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "Create")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	start := time.Now()
	result := r.db.WithContext(ctx).Create(chat)
	duration := time.Since(start)

	if result.Error != nil {
		logger.ErrorWithContext(ctx, "Failed to create chat").
			Duration(duration).
			Err(result.Error).
			Log()
		return result.Error
	}

	logger.InfoWithContext(ctx, "Chat created").
		String("chat_id", chat.ID).
		String("title", chat.Title).
		Duration(duration).
		Log()

	return nil
}

// UpdateFields applies a field-level patch to a chat scoped to its owner
func (r *ChatRepository) UpdateFields(ctx context.Context, userID, chatID string, fields map[string]interface{}) error {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "UpdateFields")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	if len(fields) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).Model(&model.Chat{}).
		Where("id = ? AND user_id = ?", chatID, userID).
		Updates(fields)

	if result.Error != nil {
		logger.ErrorWithContext(ctx, "Failed to update chat").
			String("chat_id", chatID).
			Err(result.Error).
			Log()
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

// Delete removes the chat and its messages
func (r *ChatRepository) Delete(ctx context.Context, userID, chatID string) error {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "Delete")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat model.Chat
		if err := tx.Where("id = ? AND user_id = ?", chatID, userID).First(&chat).Error; err != nil {
			return err
		}

		if err := tx.Where("chat_id = ?", chatID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&chat).Error
	})
}

// DeleteAllForUser removes every chat and message owned by userID
func (r *ChatRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "DeleteAllForUser")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id IN (?)",
			tx.Model(&model.Chat{}).Select("id").Where("user_id = ?", userID),
		).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&model.Chat{}).Error
	})
}

func (r *ChatRepository) GetMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "GetMessages")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	var messages []model.Message
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at").
		Find(&messages).Error; err != nil {
		logger.ErrorWithContext(ctx, "Failed to get messages").
			String("chat_id", chatID).
			Err(err).
			Log()
		return nil, err
	}

	return messages, nil
}

func (r *ChatRepository) GetMessage(ctx context.Context, chatID, messageID string) (*model.Message, error) {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "GetMessage")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	var message model.Message
	result := r.db.WithContext(ctx).
		Where("id = ? AND chat_id = ?", messageID, chatID).
		First(&message)
	if result.Error != nil {
		return nil, result.Error
	}

	return &message, nil
}

func (r *ChatRepository) CountMessages(ctx context.Context, chatID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("chat_id = ?", chatID).
		Count(&count).Error
	return count, err
}

// CreateMessage inserts a message and bumps the parent chat's last-activity
// timestamp in the same transaction.
func (r *ChatRepository) CreateMessage(ctx context.Context, message *model.Message) error {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "CreateMessage")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		return tx.Model(&model.Chat{}).Where("id = ?", message.ChatID).
			Update("updated_at", time.Now().UTC()).Error
	})
	if err != nil {
		logger.ErrorWithContext(ctx, "Failed to create message").
			String("chat_id", message.ChatID).
			Err(err).
			Log()
		return err
	}

	logger.DebugWithContext(ctx, "Message created").
		String("chat_id", message.ChatID).
		String("message_id", message.ID).
		String("role", string(message.Role)).
		Log()

	return nil
}

// FinalizeMessage overwrites a placeholder message with its final content,
// token usage and metadata, and bumps the chat's last-activity timestamp in
// one transaction. A non-empty title renames the chat in the same commit
// (first-turn auto-titling). The update targets the exact placeholder row so
// a finalize can never create a duplicate.
func (r *ChatRepository) FinalizeMessage(ctx context.Context, chatID, messageID, content, thinking string, tokensUsed int, metadata datatypes.JSON, title string) error {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "FinalizeMessage")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Message{}).
			Where("id = ? AND chat_id = ?", messageID, chatID).
			Updates(map[string]interface{}{
				"content":           content,
				"thinking":          thinking,
				"tokens_used":       tokensUsed,
				"extended_metadata": metadata,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		chatFields := map[string]interface{}{
			"updated_at": time.Now().UTC(),
		}
		if title != "" {
			chatFields["title"] = title
		}
		return tx.Model(&model.Chat{}).Where("id = ?", chatID).Updates(chatFields).Error
	})
	if err != nil {
		logger.ErrorWithContext(ctx, "Failed to finalize message").
			String("chat_id", chatID).
			String("message_id", messageID).
			Err(err).
			Log()
		return err
	}

	logger.InfoWithContext(ctx, "Message finalized").
		String("chat_id", chatID).
		String("message_id", messageID).
		Int("tokens_used", tokensUsed).
		Log()

	return nil
}

// UpdateMessageFields patches a message and bumps the parent chat's
// last-activity timestamp in the same transaction
func (r *ChatRepository) UpdateMessageFields(ctx context.Context, chatID, messageID string, fields map[string]interface{}) error {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "UpdateMessageFields")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	if len(fields) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Message{}).
			Where("id = ? AND chat_id = ?", messageID, chatID).
			Updates(fields)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		return tx.Model(&model.Chat{}).Where("id = ?", chatID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

// DeleteMessage removes one message and bumps the chat's last-activity
// timestamp in the same transaction
func (r *ChatRepository) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "DeleteMessage")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND chat_id = ?", messageID, chatID).
			Delete(&model.Message{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		return tx.Model(&model.Chat{}).Where("id = ?", chatID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

// DeleteMessages removes the given messages from a chat in one transaction
// and returns how many rows actually went away. Ids that match nothing are
// simply not counted; the chat's last-activity timestamp is bumped only when
// something was deleted.
func (r *ChatRepository) DeleteMessages(ctx context.Context, chatID string, messageIDs []string) (int64, error) {
	ctx = context.WithValue(ctx, ctxutil.FunctionKey, "DeleteMessages")
	ctx = context.WithValue(ctx, ctxutil.ModuleKey, "repository")

	if len(messageIDs) == 0 {
		return 0, nil
	}

	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("chat_id = ? AND id IN ?", chatID, messageIDs).
			Delete(&model.Message{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected

		if deleted == 0 {
			return nil
		}
		return tx.Model(&model.Chat{}).Where("id = ?", chatID).
			Update("updated_at", time.Now().UTC()).Error
	})
	if err != nil {
		logger.ErrorWithContext(ctx, "Failed to bulk delete messages").
			String("chat_id", chatID).
			Int("requested", len(messageIDs)).
			Err(err).
			Log()
		return 0, err
	}

	return deleted, nil
}

// UpdateMessageContent overwrites only the content of a message. Used for
// best-effort persistence of partial streamed output when a client drops.
func (r *ChatRepository) UpdateMessageContent(ctx context.Context, chatID, messageID, content string) error {
	result := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND chat_id = ?", messageID, chatID).
		Update("content", content)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
