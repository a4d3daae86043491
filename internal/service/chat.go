package service

import (
	"context"
	"encoding/json"
	"errors"
	"unicode/utf8"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kestrelhq/chatgate/internal/dto"
	apperrors "github.com/kestrelhq/chatgate/internal/errors"
	"github.com/kestrelhq/chatgate/internal/model"
	ctxutil "github.com/kestrelhq/chatgate/pkg/context"
	"github.com/kestrelhq/chatgate/pkg/logger"
)

// autoTitleMaxRunes bounds the title derived from a chat's first user message
const autoTitleMaxRunes = 30

// ChatService owns chat and message lifecycle, including the persistence
// around a model turn: the user message and an empty assistant placeholder
// are written before anything is streamed, and the placeholder is finalized
// in a single update once the reply is complete.
type ChatService struct {
	chats ChatStore
}

func NewChatService(chats ChatStore) *ChatService {
	return &ChatService{chats: chats}
}

// CreateChat creates an empty chat owned by userID
func (s *ChatService) CreateChat(ctx context.Context, userID, title string) (*model.Chat, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "chat", "CreateChat")

	chat := &model.Chat{
		UserID: userID,
		Title:  title,
	}
	if err := s.chats.Create(ctx, chat); err != nil {
		logger.ErrorWithContext(ctx, "chat insert failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}

	logger.InfoWithContext(ctx, "chat created").
		String("chat_id", chat.ID).
		String("user_id", userID).
		Log()
	return chat, nil
}

// GetChat fetches one chat owned by userID. A chat owned by someone else is
// indistinguishable from a missing one.
func (s *ChatService) GetChat(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "chat", "GetChat")

	chat, err := s.chats.GetByID(ctx, userID, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrChatNotFound
		}
		logger.ErrorWithContext(ctx, "chat lookup failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}
	return chat, nil
}

// ListChats pages the user's chats by last activity, newest first
func (s *ChatService) ListChats(ctx context.Context, userID string, skip, limit int, includeArchived bool) ([]model.Chat, int64, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "chat", "ListChats")

	chats, total, err := s.chats.List(ctx, userID, skip, limit, includeArchived)
	if err != nil {
		logger.ErrorWithContext(ctx, "chat listing failed").Err(err).Log()
		return nil, 0, apperrors.ErrInternal
	}
	return chats, total, nil
}

// UpdateChat patches title and/or archived state on an owned chat
func (s *ChatService) UpdateChat(ctx context.Context, userID, chatID string, req *dto.UpdateChatRequest) (*model.Chat, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "chat", "UpdateChat")

	fields := map[string]interface{}{}
	if req.Title != nil {
		fields["title"] = *req.Title
	}
	if req.IsArchived != nil {
		fields["is_archived"] = *req.IsArchived
	}

	if len(fields) > 0 {
		if err := s.chats.UpdateFields(ctx, userID, chatID, fields); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperrors.ErrChatNotFound
			}
			logger.ErrorWithContext(ctx, "chat update failed").Err(err).Log()
			return nil, apperrors.ErrInternal
		}
	}

	return s.GetChat(ctx, userID, chatID)
}

// DeleteChat removes an owned chat and all its messages
func (s *ChatService) DeleteChat(ctx context.Context, userID, chatID string) error {
	ctx = ctxutil.NewContextWithRequest(ctx, "chat", "DeleteChat")

	if err := s.chats.Delete(ctx, userID, chatID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrChatNotFound
		}
		logger.ErrorWithContext(ctx, "chat delete failed").Err(err).Log()
		return apperrors.ErrInternal
	}

	logger.InfoWithContext(ctx, "chat deleted").
		String("chat_id", chatID).
		String("user_id", userID).
		Log()
	return nil
}

// DeleteAllChats wipes every chat the user owns
func (s *ChatService) DeleteAllChats(ctx context.Context, userID string) error {
	ctx = ctxutil.NewContextWithRequest(ctx, "chat", "DeleteAllChats")

	if err := s.chats.DeleteAllForUser(ctx, userID); err != nil {
		logger.ErrorWithContext(ctx, "bulk chat delete failed").Err(err).Log()
		return apperrors.ErrInternal
	}

	logger.InfoWithContext(ctx, "all chats deleted").
		String("user_id", userID).
		Log()
	return nil
}

// ListMessages returns an owned chat's messages in chronological order
func (s *ChatService) ListMessages(ctx context.Context, userID, chatID string) ([]model.Message, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "chat", "ListMessages")

	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		return nil, err
	}

	messages, err := s.chats.GetMessages(ctx, chatID)
	if err != nil {
		logger.ErrorWithContext(ctx, "message listing failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}
	return messages, nil
}

// GetMessage returns a single message from an owned chat
func (s *ChatService) GetMessage(ctx context.Context, userID, chatID, messageID string) (*model.Message, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "chat", "GetMessage")

	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		return nil, err
	}

	message, err := s.chats.GetMessage(ctx, chatID, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrMessageNotFound
		}
		logger.ErrorWithContext(ctx, "message lookup failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}
	return message, nil
}

// AddMessage appends a message to an owned chat outside of a model turn,
// e.g. when a client imports history.
func (s *ChatService) AddMessage(ctx context.Context, userID, chatID string, req *dto.CreateMessageRequest) (*model.Message, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "chat", "AddMessage")

	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		return nil, err
	}

	role := model.MessageRole(req.Role)
	if !role.IsValid() {
		return nil, apperrors.ErrInvalidInput
	}

	message := &model.Message{
		ChatID:           chatID,
		Role:             role,
		Content:          req.Content,
		Images:           req.Images,
		ModelName:        req.ModelName,
		TokensUsed:       req.TokensUsed,
		ExtendedMetadata: req.ExtendedMetadata,
	}
	if err := s.chats.CreateMessage(ctx, message); err != nil {
		logger.ErrorWithContext(ctx, "message insert failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}
	return message, nil
}

// UpdateMessage edits a message in an owned chat. Only user-authored
// messages are editable; assistant, system and tool messages are immutable.
func (s *ChatService) UpdateMessage(ctx context.Context, userID, chatID, messageID string, req *dto.UpdateMessageRequest) (*model.Message, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "chat", "UpdateMessage")

	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		return nil, err
	}

	message, err := s.chats.GetMessage(ctx, chatID, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrMessageNotFound
		}
		logger.ErrorWithContext(ctx, "message lookup failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}
	if message.Role != model.MessageRoleUser {
		return nil, apperrors.ErrForbidden
	}

	fields := map[string]interface{}{}
	if req.Content != nil {
		fields["content"] = *req.Content
	}
	if req.Images != nil {
		fields["images"] = req.Images
	}
	if req.ExtendedMetadata != nil {
		fields["extended_metadata"] = req.ExtendedMetadata
	}

	if len(fields) > 0 {
		if err := s.chats.UpdateMessageFields(ctx, chatID, messageID, fields); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperrors.ErrMessageNotFound
			}
			logger.ErrorWithContext(ctx, "message update failed").Err(err).Log()
			return nil, apperrors.ErrInternal
		}
	}

	return s.GetMessage(ctx, userID, chatID, messageID)
}

// DeleteMessage removes a single message from an owned chat
func (s *ChatService) DeleteMessage(ctx context.Context, userID, chatID, messageID string) error {
	ctx = ctxutil.NewContextWithRequest(ctx, "chat", "DeleteMessage")

	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		return err
	}

	if err := s.chats.DeleteMessage(ctx, chatID, messageID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrMessageNotFound
		}
		logger.ErrorWithContext(ctx, "message delete failed").Err(err).Log()
		return apperrors.ErrInternal
	}

	logger.InfoWithContext(ctx, "message deleted").
		String("chat_id", chatID).
		String("message_id", messageID).
		Log()
	return nil
}

// BulkDeleteMessages removes a batch of messages from an owned chat and
// reports the ids that matched nothing. A partially unknown batch is not an
// error; the known messages are still deleted.
func (s *ChatService) BulkDeleteMessages(ctx context.Context, userID, chatID string, messageIDs []string) (int64, []string, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "chat", "BulkDeleteMessages")

	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		return 0, nil, err
	}

	existing, err := s.chats.GetMessages(ctx, chatID)
	if err != nil {
		logger.ErrorWithContext(ctx, "message listing failed").Err(err).Log()
		return 0, nil, apperrors.ErrInternal
	}
	known := make(map[string]struct{}, len(existing))
	for i := range existing {
		known[existing[i].ID] = struct{}{}
	}

	failed := make([]string, 0)
	for _, id := range messageIDs {
		if _, ok := known[id]; !ok {
			failed = append(failed, id)
		}
	}

	deleted, err := s.chats.DeleteMessages(ctx, chatID, messageIDs)
	if err != nil {
		logger.ErrorWithContext(ctx, "bulk message delete failed").Err(err).Log()
		return 0, nil, apperrors.ErrInternal
	}

	logger.InfoWithContext(ctx, "messages bulk deleted").
		String("chat_id", chatID).
		Int64("deleted", deleted).
		Int("failed", len(failed)).
		Log()
	return deleted, failed, nil
}

// Turn is the persistence state of one in-flight model exchange. The
// assistant placeholder exists in the store from the moment the turn begins,
// so a crash mid-stream leaves a visible empty reply rather than nothing.
type Turn struct {
	ChatID        string
	PlaceholderID string

	// AutoTitle is non-empty when finishing this turn should also rename the
	// chat from its default title, derived from the first user message.
	AutoTitle string
}

// BeginTurn verifies ownership, persists the user's message and inserts the
// empty assistant placeholder that the streamed reply will finalize into.
func (s *ChatService) BeginTurn(ctx context.Context, userID, chatID, modelName string, userMessage dto.ChatTurnMessage) (*Turn, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "chat", "BeginTurn")

	chat, err := s.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	// Counted before the user message goes in: only a chat with no prior
	// messages still on its default title gets auto-titled from this turn.
	priorMessages, err := s.chats.CountMessages(ctx, chatID)
	if err != nil {
		logger.ErrorWithContext(ctx, "message count failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}

	var images datatypes.JSON
	if len(userMessage.Images) > 0 {
		if raw, err := json.Marshal(userMessage.Images); err == nil {
			images = raw
		}
	}

	userMsg := &model.Message{
		ChatID:  chatID,
		Role:    model.MessageRoleUser,
		Content: userMessage.Content,
		Images:  images,
	}
	if err := s.chats.CreateMessage(ctx, userMsg); err != nil {
		logger.ErrorWithContext(ctx, "user message insert failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}

	placeholder := &model.Message{
		ChatID:    chatID,
		Role:      model.MessageRoleAssistant,
		Content:   "",
		ModelName: modelName,
	}
	if err := s.chats.CreateMessage(ctx, placeholder); err != nil {
		logger.ErrorWithContext(ctx, "assistant placeholder insert failed").Err(err).Log()
		return nil, apperrors.ErrInternal
	}

	turn := &Turn{
		ChatID:        chatID,
		PlaceholderID: placeholder.ID,
	}
	if priorMessages == 0 && chat.Title == model.DefaultChatTitle {
		turn.AutoTitle = deriveTitle(userMessage.Content)
	}

	logger.DebugWithContext(ctx, "turn started").
		String("chat_id", chatID).
		String("placeholder_id", placeholder.ID).
		Log()
	return turn, nil
}

// FinishTurn writes the completed reply into the placeholder in one update:
// content, token usage, upstream counters, the chat's last-activity bump and
// the auto-title when this was the chat's first exchange.
func (s *ChatService) FinishTurn(ctx context.Context, turn *Turn, completion *ChatCompletion) error {
	ctx = ctxutil.NewContextWithRequest(ctx, "chat", "FinishTurn")

	metadata, err := json.Marshal(map[string]interface{}{
		"prompt_eval_count": completion.PromptEvalCount,
		"eval_count":        completion.EvalCount,
		"eval_duration":     completion.EvalDuration,
	})
	if err != nil {
		return apperrors.ErrInternal
	}

	err = s.chats.FinalizeMessage(ctx, turn.ChatID, turn.PlaceholderID,
		completion.Content, completion.Thinking, completion.EvalCount,
		datatypes.JSON(metadata), turn.AutoTitle)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrMessageNotFound
		}
		logger.ErrorWithContext(ctx, "turn finalize failed").
			String("chat_id", turn.ChatID).
			String("placeholder_id", turn.PlaceholderID).
			Err(err).
			Log()
		return apperrors.ErrInternal
	}

	logger.InfoWithContext(ctx, "turn finalized").
		String("chat_id", turn.ChatID).
		String("message_id", turn.PlaceholderID).
		Int("tokens_used", completion.EvalCount).
		Log()
	return nil
}

// AbandonTurn persists whatever content arrived before the stream was cut
// short. Best effort; the placeholder keeps its partial reply.
func (s *ChatService) AbandonTurn(ctx context.Context, turn *Turn, partialContent string) {
	ctx = ctxutil.NewContextWithRequest(ctx, "chat", "AbandonTurn")

	if err := s.chats.UpdateMessageContent(ctx, turn.ChatID, turn.PlaceholderID, partialContent); err != nil {
		logger.WarnWithContext(ctx, "partial reply persistence failed").
			String("chat_id", turn.ChatID).
			String("message_id", turn.PlaceholderID).
			Err(err).
			Log()
		return
	}

	logger.InfoWithContext(ctx, "partial reply persisted").
		String("chat_id", turn.ChatID).
		String("message_id", turn.PlaceholderID).
		Int("content_len", len(partialContent)).
		Log()
}

// deriveTitle truncates the first user message to a short chat title
func deriveTitle(content string) string {
	if utf8.RuneCountInString(content) <= autoTitleMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:autoTitleMaxRunes]) + "…"
}
