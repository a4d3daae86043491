package dto

// ChatTurnMessage is one entry of the conversation payload forwarded upstream
type ChatTurnMessage struct {
	Role    string   `json:"role" binding:"required"`
	Content string   `json:"content" binding:"required"`
	Images  []string `json:"images,omitempty"`
}

// OllamaChatRequest is the inbound chat-turn request. ChatID ties the turn to
// a persisted chat owned by the calling user.
type OllamaChatRequest struct {
	Model    string                 `json:"model" binding:"required"`
	Messages []ChatTurnMessage      `json:"messages" binding:"required,min=1"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
	ChatID   string                 `json:"chatId" binding:"required,uuid"`
}

type PullModelRequest struct {
	Model string `json:"model" binding:"required"`
}

type DeleteModelRequest struct {
	Model string `json:"model" binding:"required"`
}

// StreamEvent is one SSE delta sent to the client:
// {id, content} per chunk, {done:true, id} terminal, {error} on failure.
type StreamEvent struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Error   string `json:"error,omitempty"`
}
