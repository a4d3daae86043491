package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelhq/chatgate/internal/constants"
	"github.com/kestrelhq/chatgate/internal/dto"
	apperrors "github.com/kestrelhq/chatgate/internal/errors"
	"github.com/kestrelhq/chatgate/internal/middleware"
	"github.com/kestrelhq/chatgate/internal/model"
	"github.com/kestrelhq/chatgate/internal/service"
	"github.com/kestrelhq/chatgate/pkg/logger"
)

// errClientGone distinguishes a broken client connection from an upstream
// failure once a stream is underway.
var errClientGone = errors.New("client connection lost")

// OllamaHandler fronts the model daemon: model management plus the chat-turn
// endpoint in both streamed and atomic form.
type OllamaHandler struct {
	gateway *service.ModelGatewayClient
	chats   *service.ChatService
}

func NewOllamaHandler(gateway *service.ModelGatewayClient, chats *service.ChatService) *OllamaHandler {
	return &OllamaHandler{gateway: gateway, chats: chats}
}

// Version handles GET /api/ollama/version
func (h *OllamaHandler) Version(c *gin.Context) {
	version, err := h.gateway.Version(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

// ListModels handles GET /api/ollama/models
func (h *OllamaHandler) ListModels(c *gin.Context) {
	models, err := h.gateway.ListModels(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// ModelDetails handles GET /api/ollama/models/:name
func (h *OllamaHandler) ModelDetails(c *gin.Context) {
	details, err := h.gateway.ModelDetails(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// PullModel handles POST /api/ollama/models/pull (admin)
func (h *OllamaHandler) PullModel(c *gin.Context) {
	var req dto.PullModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	result, err := h.gateway.PullModel(c.Request.Context(), req.Model)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeleteModel handles DELETE /api/ollama/models (admin)
func (h *OllamaHandler) DeleteModel(c *gin.Context) {
	var req dto.DeleteModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	if err := h.gateway.DeleteModel(c.Request.Context(), req.Model); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, constants.BuildSuccessResponse("Model deleted"))
}

// Chat handles POST /api/ollama/chat. The last message of the payload must be
// the user's new turn; it is persisted together with an empty assistant
// placeholder before anything goes upstream, and the placeholder is finalized
// in one update when the reply completes.
func (h *OllamaHandler) Chat(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			constants.BuildErrorResponse(constants.MsgInvalidCredentials, ""))
		return
	}

	var req dto.OllamaChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindingError(c, err)
		return
	}

	last := req.Messages[len(req.Messages)-1]
	if last.Role != string(model.MessageRoleUser) {
		c.JSON(http.StatusBadRequest,
			constants.BuildErrorResponse(constants.MsgBadRequest, "last message must have role 'user'"))
		return
	}

	turn, err := h.chats.BeginTurn(c.Request.Context(), user.ID, req.ChatID, req.Model, last)
	if err != nil {
		respondError(c, err)
		return
	}

	if req.Stream {
		h.streamTurn(c, turn, &req)
		return
	}

	completion, err := h.gateway.Chat(c.Request.Context(), req.Model, req.Messages, req.Options)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.chats.FinishTurn(c.Request.Context(), turn, completion); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      turn.PlaceholderID,
		"model":   completion.Model,
		"content": completion.Content,
		"done":    true,
	})
}

// streamTurn relays the upstream NDJSON stream to the client as SSE. Each
// delta is one `data:` frame carrying the placeholder id and the chunk text;
// the terminal frame is {"done":true,"id"} on success or {"error"} on
// upstream failure. SSE headers go out lazily so a connection failure before
// the first chunk can still be a plain JSON error.
func (h *OllamaHandler) streamTurn(c *gin.Context, turn *service.Turn, req *dto.OllamaChatRequest) {
	ctx := c.Request.Context()

	flusher, canFlush := c.Writer.(http.Flusher)
	started := false

	beginStream := func() {
		if started {
			return
		}
		started = true
		c.Header(constants.HeaderContentType, constants.ContentTypeEventStream)
		c.Header(constants.HeaderCacheControl, "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Writer.WriteHeader(http.StatusOK)
	}

	writeEvent := func(event dto.StreamEvent) error {
		beginStream()
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
			return errClientGone
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	}

	completion, err := h.gateway.StreamChat(ctx, req.Model, req.Messages, req.Options,
		func(content string) error {
			return writeEvent(dto.StreamEvent{ID: turn.PlaceholderID, Content: content})
		})

	switch {
	case err == nil:
		if fErr := h.chats.FinishTurn(ctx, turn, completion); fErr != nil {
			logger.ErrorWithContext(ctx, "streamed turn finalize failed").
				String("chat_id", turn.ChatID).
				Err(fErr).
				Log()
			_ = writeEvent(dto.StreamEvent{Error: apperrors.GetErrorMessage(fErr)})
			return
		}
		_ = writeEvent(dto.StreamEvent{ID: turn.PlaceholderID, Done: true})

	case errors.Is(err, errClientGone) || ctx.Err() != nil:
		// the client went away; keep whatever arrived. The request context is
		// dead at this point, so the write runs on a detached one.
		if completion != nil && completion.Content != "" {
			h.chats.AbandonTurn(context.WithoutCancel(ctx), turn, completion.Content)
		}

	default:
		if !started {
			respondError(c, err)
			return
		}
		_ = writeEvent(dto.StreamEvent{Error: apperrors.GetErrorMessage(err)})
		if completion != nil && completion.Content != "" {
			h.chats.AbandonTurn(ctx, turn, completion.Content)
		}
	}
}
