package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kestrelhq/chatgate/internal/constants"
	"github.com/kestrelhq/chatgate/internal/dto"
	"github.com/kestrelhq/chatgate/internal/middleware"
	"github.com/kestrelhq/chatgate/internal/service"
)

// ChatHandler exposes chat and message CRUD. Every route is scoped to the
// authenticated owner; a foreign chat id behaves exactly like a missing one.
type ChatHandler struct {
	chats *service.ChatService
}

func NewChatHandler(chats *service.ChatService) *ChatHandler {
	return &ChatHandler{chats: chats}
}

// CreateChat handles POST /api/chats
func (h *ChatHandler) CreateChat(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	var req dto.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	chat, err := h.chats.CreateChat(c.Request.Context(), user.ID, req.Title)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewChatResponse(chat))
}

// ListChats handles GET /api/chats?skip=&limit=&include_archived=
func (h *ChatHandler) ListChats(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	params := constants.ParsePaginationParams(c)
	includeArchived, _ := strconv.ParseBool(c.DefaultQuery("include_archived", "false"))

	chats, total, err := h.chats.ListChats(c.Request.Context(), user.ID, params.Skip, params.Limit, includeArchived)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]dto.ChatResponse, 0, len(chats))
	for i := range chats {
		out = append(out, dto.NewChatResponse(&chats[i]))
	}

	c.JSON(http.StatusOK, dto.ChatListResponse{
		Total: total,
		Chats: out,
		Skip:  params.Skip,
		Limit: params.Limit,
	})
}

// GetChat handles GET /api/chats/:id, returning the chat with its messages
func (h *ChatHandler) GetChat(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	chat, err := h.chats.GetChat(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	messages, err := h.chats.ListMessages(c.Request.Context(), user.ID, chat.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]dto.MessageResponse, 0, len(messages))
	for i := range messages {
		out = append(out, dto.NewMessageResponse(&messages[i]))
	}

	c.JSON(http.StatusOK, dto.ChatWithMessagesResponse{
		Chat:     dto.NewChatResponse(chat),
		Messages: out,
	})
}

// UpdateChat handles PATCH /api/chats/:id
func (h *ChatHandler) UpdateChat(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	var req dto.UpdateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	chat, err := h.chats.UpdateChat(c.Request.Context(), user.ID, c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewChatResponse(chat))
}

// DeleteChat handles DELETE /api/chats/:id
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	if err := h.chats.DeleteChat(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, constants.BuildSuccessResponse("Chat deleted"))
}

// DeleteAllChats handles DELETE /api/chats
func (h *ChatHandler) DeleteAllChats(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	if err := h.chats.DeleteAllChats(c.Request.Context(), user.ID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, constants.BuildSuccessResponse("All chats deleted"))
}

// ListMessages handles GET /api/chats/:id/messages
func (h *ChatHandler) ListMessages(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	messages, err := h.chats.ListMessages(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]dto.MessageResponse, 0, len(messages))
	for i := range messages {
		out = append(out, dto.NewMessageResponse(&messages[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		constants.ResponseFieldTotal: len(out),
		constants.ResponseFieldData:  out,
	})
}

// GetMessage handles GET /api/chats/:id/messages/:messageID
func (h *ChatHandler) GetMessage(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	message, err := h.chats.GetMessage(c.Request.Context(), user.ID, c.Param("id"), c.Param("messageID"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewMessageResponse(message))
}

// UpdateMessage handles PATCH /api/chats/:id/messages/:messageID
func (h *ChatHandler) UpdateMessage(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	var req dto.UpdateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	message, err := h.chats.UpdateMessage(c.Request.Context(), user.ID, c.Param("id"), c.Param("messageID"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewMessageResponse(message))
}

// DeleteMessage handles DELETE /api/chats/:id/messages/:messageID
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	if err := h.chats.DeleteMessage(c.Request.Context(), user.ID, c.Param("id"), c.Param("messageID")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, constants.BuildSuccessResponse("Message deleted"))
}

// BulkDeleteMessages handles DELETE /api/chats/:id/messages/bulk
func (h *ChatHandler) BulkDeleteMessages(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	var req dto.BulkDeleteMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	deleted, failed, err := h.chats.BulkDeleteMessages(c.Request.Context(), user.ID, c.Param("id"), req.MessageIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.BulkDeleteMessagesResponse{
		DeletedCount:    deleted,
		FailedDeletions: failed,
	})
}

// AddMessage handles POST /api/chats/:id/messages
func (h *ChatHandler) AddMessage(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	var req dto.CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	message, err := h.chats.AddMessage(c.Request.Context(), user.ID, c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewMessageResponse(message))
}
