package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kestrelhq/chatgate/internal/dto"
	apperrors "github.com/kestrelhq/chatgate/internal/errors"
	"github.com/kestrelhq/chatgate/internal/model"
)

type fakeChatStore struct {
	chats    map[string]*model.Chat
	messages map[string][]*model.Message
	nextID   int

	finalizeCalls int
}

func newFakeChatStore(chats ...*model.Chat) *fakeChatStore {
	s := &fakeChatStore{
		chats:    make(map[string]*model.Chat),
		messages: make(map[string][]*model.Message),
	}
	for _, c := range chats {
		s.chats[c.ID] = c
	}
	return s
}

func (s *fakeChatStore) GetByID(_ context.Context, userID, chatID string) (*model.Chat, error) {
	c, ok := s.chats[chatID]
	if !ok || c.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *c
	return &copied, nil
}

func (s *fakeChatStore) List(_ context.Context, userID string, skip, limit int, includeArchived bool) ([]model.Chat, int64, error) {
	var out []model.Chat
	for _, c := range s.chats {
		if c.UserID != userID {
			continue
		}
		if c.IsArchived && !includeArchived {
			continue
		}
		out = append(out, *c)
	}
	return out, int64(len(out)), nil
}

func (s *fakeChatStore) Create(_ context.Context, chat *model.Chat) error {
	if chat.ID == "" {
		s.nextID++
		chat.ID = fmt.Sprintf("chat-%d", s.nextID)
	}
	if chat.Title == "" {
		chat.Title = model.DefaultChatTitle
	}
	copied := *chat
	s.chats[chat.ID] = &copied
	return nil
}

func (s *fakeChatStore) UpdateFields(_ context.Context, userID, chatID string, fields map[string]interface{}) error {
	c, ok := s.chats[chatID]
	if !ok || c.UserID != userID {
		return gorm.ErrRecordNotFound
	}
	if v, ok := fields["title"].(string); ok {
		c.Title = v
	}
	if v, ok := fields["is_archived"].(bool); ok {
		c.IsArchived = v
	}
	return nil
}

func (s *fakeChatStore) Delete(_ context.Context, userID, chatID string) error {
	c, ok := s.chats[chatID]
	if !ok || c.UserID != userID {
		return gorm.ErrRecordNotFound
	}
	delete(s.chats, chatID)
	delete(s.messages, chatID)
	return nil
}

func (s *fakeChatStore) DeleteAllForUser(_ context.Context, userID string) error {
	for id, c := range s.chats {
		if c.UserID == userID {
			delete(s.chats, id)
			delete(s.messages, id)
		}
	}
	return nil
}

func (s *fakeChatStore) GetMessages(_ context.Context, chatID string) ([]model.Message, error) {
	out := make([]model.Message, 0, len(s.messages[chatID]))
	for _, m := range s.messages[chatID] {
		out = append(out, *m)
	}
	return out, nil
}

func (s *fakeChatStore) GetMessage(_ context.Context, chatID, messageID string) (*model.Message, error) {
	for _, m := range s.messages[chatID] {
		if m.ID == messageID {
			copied := *m
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeChatStore) CountMessages(_ context.Context, chatID string) (int64, error) {
	return int64(len(s.messages[chatID])), nil
}

func (s *fakeChatStore) CreateMessage(_ context.Context, message *model.Message) error {
	if message.ID == "" {
		s.nextID++
		message.ID = fmt.Sprintf("msg-%d", s.nextID)
	}
	copied := *message
	s.messages[message.ChatID] = append(s.messages[message.ChatID], &copied)
	if c, ok := s.chats[message.ChatID]; ok {
		c.UpdatedAt = time.Now()
	}
	return nil
}

func (s *fakeChatStore) FinalizeMessage(_ context.Context, chatID, messageID, content, thinking string, tokensUsed int, metadata datatypes.JSON, title string) error {
	s.finalizeCalls++
	for _, m := range s.messages[chatID] {
		if m.ID == messageID {
			m.Content = content
			m.Thinking = thinking
			m.TokensUsed = tokensUsed
			m.ExtendedMetadata = metadata
			if c, ok := s.chats[chatID]; ok {
				c.UpdatedAt = time.Now()
				if title != "" {
					c.Title = title
				}
			}
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (s *fakeChatStore) UpdateMessageFields(_ context.Context, chatID, messageID string, fields map[string]interface{}) error {
	for _, m := range s.messages[chatID] {
		if m.ID == messageID {
			if v, ok := fields["content"].(string); ok {
				m.Content = v
			}
			if v, ok := fields["images"].(datatypes.JSON); ok {
				m.Images = v
			}
			if v, ok := fields["extended_metadata"].(datatypes.JSON); ok {
				m.ExtendedMetadata = v
			}
			if c, ok := s.chats[chatID]; ok {
				c.UpdatedAt = time.Now()
			}
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (s *fakeChatStore) DeleteMessage(_ context.Context, chatID, messageID string) error {
	msgs := s.messages[chatID]
	for i, m := range msgs {
		if m.ID == messageID {
			s.messages[chatID] = append(msgs[:i], msgs[i+1:]...)
			if c, ok := s.chats[chatID]; ok {
				c.UpdatedAt = time.Now()
			}
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (s *fakeChatStore) DeleteMessages(_ context.Context, chatID string, messageIDs []string) (int64, error) {
	doomed := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		doomed[id] = struct{}{}
	}

	var kept []*model.Message
	var deleted int64
	for _, m := range s.messages[chatID] {
		if _, ok := doomed[m.ID]; ok {
			deleted++
			continue
		}
		kept = append(kept, m)
	}
	s.messages[chatID] = kept
	if deleted > 0 {
		if c, ok := s.chats[chatID]; ok {
			c.UpdatedAt = time.Now()
		}
	}
	return deleted, nil
}

func (s *fakeChatStore) UpdateMessageContent(_ context.Context, chatID, messageID, content string) error {
	for _, m := range s.messages[chatID] {
		if m.ID == messageID {
			m.Content = content
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func TestGetChatScopedToOwner(t *testing.T) {
	store := newFakeChatStore(&model.Chat{ID: "chat-1", UserID: "owner", Title: "mine"})
	svc := NewChatService(store)

	if _, err := svc.GetChat(context.Background(), "owner", "chat-1"); err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	if _, err := svc.GetChat(context.Background(), "intruder", "chat-1"); !errors.Is(err, apperrors.ErrChatNotFound) {
		t.Fatalf("foreign lookup err = %v, want ErrChatNotFound", err)
	}
}

func TestBeginTurnPersistsUserMessageAndPlaceholder(t *testing.T) {
	store := newFakeChatStore(&model.Chat{ID: "chat-1", UserID: "owner", Title: "existing title"})
	svc := NewChatService(store)

	turn, err := svc.BeginTurn(context.Background(), "owner", "chat-1", "llama3",
		dto.ChatTurnMessage{Role: "user", Content: "What is Go?"})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	msgs := store.messages["chat-1"]
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want user message plus placeholder", len(msgs))
	}
	if msgs[0].Role != model.MessageRoleUser || msgs[0].Content != "What is Go?" {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != model.MessageRoleAssistant || msgs[1].Content != "" {
		t.Errorf("placeholder = %+v", msgs[1])
	}
	if msgs[1].ModelName != "llama3" {
		t.Errorf("placeholder model = %q", msgs[1].ModelName)
	}
	if turn.PlaceholderID != msgs[1].ID {
		t.Errorf("turn placeholder id = %q", turn.PlaceholderID)
	}
	if turn.AutoTitle != "" {
		t.Errorf("a renamed chat must not be auto-titled, got %q", turn.AutoTitle)
	}
}

func TestBeginTurnDerivesTitleForNewChat(t *testing.T) {
	store := newFakeChatStore(&model.Chat{ID: "chat-1", UserID: "owner", Title: model.DefaultChatTitle})
	svc := NewChatService(store)

	turn, err := svc.BeginTurn(context.Background(), "owner", "chat-1", "llama3",
		dto.ChatTurnMessage{Role: "user", Content: "Short question"})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if turn.AutoTitle != "Short question" {
		t.Errorf("auto title = %q", turn.AutoTitle)
	}
}

func TestBeginTurnSkipsTitleWhenChatHasHistory(t *testing.T) {
	store := newFakeChatStore(&model.Chat{ID: "chat-1", UserID: "owner", Title: model.DefaultChatTitle})
	svc := NewChatService(store)

	if _, err := svc.AddMessage(context.Background(), "owner", "chat-1", &dto.CreateMessageRequest{
		Role:    "user",
		Content: "imported history",
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	turn, err := svc.BeginTurn(context.Background(), "owner", "chat-1", "llama3",
		dto.ChatTurnMessage{Role: "user", Content: "a much later question"})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if turn.AutoTitle != "" {
		t.Errorf("auto title = %q, want none on a chat with prior messages", turn.AutoTitle)
	}
}

func TestDeriveTitleTruncation(t *testing.T) {
	long := strings.Repeat("a", 40)
	got := deriveTitle(long)
	if got != strings.Repeat("a", 30)+"…" {
		t.Errorf("truncated title = %q", got)
	}

	exact := strings.Repeat("b", 30)
	if deriveTitle(exact) != exact {
		t.Errorf("a title at the limit must not be truncated")
	}

	// multi-byte runes count as one character each
	unicode := strings.Repeat("é", 35)
	if want := strings.Repeat("é", 30) + "…"; deriveTitle(unicode) != want {
		t.Errorf("unicode title = %q, want %q", deriveTitle(unicode), want)
	}
}

func TestFinishTurnFinalizesPlaceholder(t *testing.T) {
	store := newFakeChatStore(&model.Chat{ID: "chat-1", UserID: "owner", Title: model.DefaultChatTitle})
	svc := NewChatService(store)

	turn, err := svc.BeginTurn(context.Background(), "owner", "chat-1", "llama3",
		dto.ChatTurnMessage{Role: "user", Content: "Hello there"})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	err = svc.FinishTurn(context.Background(), turn, &ChatCompletion{
		Model:           "llama3",
		Content:         "General Kenobi",
		Thinking:        "an old greeting, reply in kind",
		PromptEvalCount: 5,
		EvalCount:       12,
		EvalDuration:    900,
	})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if store.finalizeCalls != 1 {
		t.Fatalf("finalize calls = %d, want exactly one update", store.finalizeCalls)
	}

	placeholder, err := store.GetMessage(context.Background(), "chat-1", turn.PlaceholderID)
	if err != nil {
		t.Fatalf("get placeholder: %v", err)
	}
	if placeholder.Content != "General Kenobi" {
		t.Errorf("content = %q", placeholder.Content)
	}
	if placeholder.TokensUsed != 12 {
		t.Errorf("tokens_used = %d, want the eval count", placeholder.TokensUsed)
	}
	if placeholder.Thinking != "an old greeting, reply in kind" {
		t.Errorf("thinking = %q, want the accumulated reasoning", placeholder.Thinking)
	}
	meta := string(placeholder.ExtendedMetadata)
	for _, key := range []string{"prompt_eval_count", "eval_count", "eval_duration"} {
		if !strings.Contains(meta, key) {
			t.Errorf("metadata %q missing %q", meta, key)
		}
	}

	if store.chats["chat-1"].Title != "Hello there" {
		t.Errorf("chat title = %q, want the auto title", store.chats["chat-1"].Title)
	}
}

func TestFinishTurnMissingPlaceholder(t *testing.T) {
	store := newFakeChatStore(&model.Chat{ID: "chat-1", UserID: "owner"})
	svc := NewChatService(store)

	err := svc.FinishTurn(context.Background(), &Turn{ChatID: "chat-1", PlaceholderID: "gone"}, &ChatCompletion{})
	if !errors.Is(err, apperrors.ErrMessageNotFound) {
		t.Fatalf("err = %v, want ErrMessageNotFound", err)
	}
}

func TestAbandonTurnKeepsPartialContent(t *testing.T) {
	store := newFakeChatStore(&model.Chat{ID: "chat-1", UserID: "owner", Title: "t"})
	svc := NewChatService(store)

	turn, err := svc.BeginTurn(context.Background(), "owner", "chat-1", "llama3",
		dto.ChatTurnMessage{Role: "user", Content: "hi"})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	svc.AbandonTurn(context.Background(), turn, "partial rep")

	placeholder, err := store.GetMessage(context.Background(), "chat-1", turn.PlaceholderID)
	if err != nil {
		t.Fatalf("get placeholder: %v", err)
	}
	if placeholder.Content != "partial rep" {
		t.Errorf("content = %q", placeholder.Content)
	}
}

func TestUpdateChatPatchesFields(t *testing.T) {
	store := newFakeChatStore(&model.Chat{ID: "chat-1", UserID: "owner", Title: "old"})
	svc := NewChatService(store)

	title := "renamed"
	archived := true
	chat, err := svc.UpdateChat(context.Background(), "owner", "chat-1", &dto.UpdateChatRequest{
		Title:      &title,
		IsArchived: &archived,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if chat.Title != "renamed" || !chat.IsArchived {
		t.Errorf("chat = %+v", chat)
	}
}

func TestListChatsFiltersArchived(t *testing.T) {
	store := newFakeChatStore(
		&model.Chat{ID: "chat-1", UserID: "owner"},
		&model.Chat{ID: "chat-2", UserID: "owner", IsArchived: true},
	)
	svc := NewChatService(store)

	visible, total, err := svc.ListChats(context.Background(), "owner", 0, 20, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(visible) != 1 || total != 1 {
		t.Errorf("visible = %d (total %d), want archived chats hidden", len(visible), total)
	}

	all, _, err := svc.ListChats(context.Background(), "owner", 0, 20, true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}
}

func TestGetMessageScopedToChatOwner(t *testing.T) {
	store := newFakeChatStore(&model.Chat{ID: "chat-1", UserID: "owner", Title: "mine"})
	svc := NewChatService(store)

	created, err := svc.AddMessage(context.Background(), "owner", "chat-1", &dto.CreateMessageRequest{
		Role:    "user",
		Content: "hello there",
	})
	if err != nil {
		t.Fatalf("add message: %v", err)
	}

	got, err := svc.GetMessage(context.Background(), "owner", "chat-1", created.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got.Content != "hello there" {
		t.Fatalf("content = %q, want %q", got.Content, "hello there")
	}

	if _, err := svc.GetMessage(context.Background(), "intruder", "chat-1", created.ID); !errors.Is(err, apperrors.ErrChatNotFound) {
		t.Fatalf("foreign chat err = %v, want ErrChatNotFound", err)
	}
	if _, err := svc.GetMessage(context.Background(), "owner", "chat-1", "msg-999"); !errors.Is(err, apperrors.ErrMessageNotFound) {
		t.Fatalf("missing message err = %v, want ErrMessageNotFound", err)
	}
}

func TestUpdateMessageEditsUserMessagesOnly(t *testing.T) {
	store := newFakeChatStore(&model.Chat{ID: "chat-1", UserID: "owner", Title: "mine"})
	svc := NewChatService(store)

	userMsg, err := svc.AddMessage(context.Background(), "owner", "chat-1", &dto.CreateMessageRequest{
		Role:    "user",
		Content: "first draft",
	})
	if err != nil {
		t.Fatalf("seed user message: %v", err)
	}
	assistantMsg, err := svc.AddMessage(context.Background(), "owner", "chat-1", &dto.CreateMessageRequest{
		Role:    "assistant",
		Content: "a reply",
	})
	if err != nil {
		t.Fatalf("seed assistant message: %v", err)
	}

	newContent := "second draft"
	updated, err := svc.UpdateMessage(context.Background(), "owner", "chat-1", userMsg.ID,
		&dto.UpdateMessageRequest{Content: &newContent})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Content != "second draft" {
		t.Errorf("content = %q", updated.Content)
	}

	_, err = svc.UpdateMessage(context.Background(), "owner", "chat-1", assistantMsg.ID,
		&dto.UpdateMessageRequest{Content: &newContent})
	if !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("assistant edit err = %v, want ErrForbidden", err)
	}

	_, err = svc.UpdateMessage(context.Background(), "intruder", "chat-1", userMsg.ID,
		&dto.UpdateMessageRequest{Content: &newContent})
	if !errors.Is(err, apperrors.ErrChatNotFound) {
		t.Fatalf("foreign chat err = %v, want ErrChatNotFound", err)
	}
}

func TestDeleteMessageRemovesRow(t *testing.T) {
	store := newFakeChatStore(&model.Chat{ID: "chat-1", UserID: "owner", Title: "mine"})
	svc := NewChatService(store)

	msg, err := svc.AddMessage(context.Background(), "owner", "chat-1", &dto.CreateMessageRequest{
		Role:    "user",
		Content: "ephemeral",
	})
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}

	if err := svc.DeleteMessage(context.Background(), "owner", "chat-1", msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetMessage(context.Background(), "owner", "chat-1", msg.ID); !errors.Is(err, apperrors.ErrMessageNotFound) {
		t.Fatalf("lookup after delete err = %v, want ErrMessageNotFound", err)
	}
	if err := svc.DeleteMessage(context.Background(), "owner", "chat-1", msg.ID); !errors.Is(err, apperrors.ErrMessageNotFound) {
		t.Fatalf("repeat delete err = %v, want ErrMessageNotFound", err)
	}
}

func TestBulkDeleteMessagesReportsUnknownIDs(t *testing.T) {
	store := newFakeChatStore(&model.Chat{ID: "chat-1", UserID: "owner", Title: "mine"})
	svc := NewChatService(store)

	var ids []string
	for _, content := range []string{"one", "two", "three"} {
		msg, err := svc.AddMessage(context.Background(), "owner", "chat-1", &dto.CreateMessageRequest{
			Role:    "user",
			Content: content,
		})
		if err != nil {
			t.Fatalf("seed message: %v", err)
		}
		ids = append(ids, msg.ID)
	}

	deleted, failed, err := svc.BulkDeleteMessages(context.Background(), "owner", "chat-1",
		[]string{ids[0], ids[2], "msg-999"})
	if err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	if len(failed) != 1 || failed[0] != "msg-999" {
		t.Errorf("failed = %v, want just the unknown id", failed)
	}

	remaining, err := svc.ListMessages(context.Background(), "owner", "chat-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != ids[1] {
		t.Errorf("remaining = %v, want only the untouched message", remaining)
	}
}

func TestAddMessageRejectsUnknownRole(t *testing.T) {
	store := newFakeChatStore(&model.Chat{ID: "chat-1", UserID: "owner"})
	svc := NewChatService(store)

	_, err := svc.AddMessage(context.Background(), "owner", "chat-1", &dto.CreateMessageRequest{
		Role:    "android",
		Content: "beep",
	})
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
