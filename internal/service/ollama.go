package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/kestrelhq/chatgate/internal/dto"
	apperrors "github.com/kestrelhq/chatgate/internal/errors"
	"github.com/kestrelhq/chatgate/pkg/cache"
	ctxutil "github.com/kestrelhq/chatgate/pkg/context"
	"github.com/kestrelhq/chatgate/pkg/logger"
	"github.com/kestrelhq/chatgate/pkg/pool"
)

const (
	cacheKeyModels      = "models"
	cacheKeyModelPrefix = "model:"

	// streaming responses can carry long lines when the model emits a large
	// chunk; the scanner buffer is sized well above anything observed
	maxStreamLineBytes = 1 << 20
)

// UpstreamError carries the status and body of a non-2xx upstream reply. It
// unwraps to ErrGatewayError so the handler layer maps it to 502 while still
// being able to relay the upstream payload.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return apperrors.ErrGatewayError
}

// ModelInfo is one upstream model augmented with its capability list
type ModelInfo struct {
	Name         string          `json:"name"`
	Model        string          `json:"model"`
	ModifiedAt   string          `json:"modified_at"`
	Size         int64           `json:"size"`
	Digest       string          `json:"digest"`
	Details      json.RawMessage `json:"details,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
}

// ChatCompletion is the final result of one model turn, streamed or not
type ChatCompletion struct {
	Model           string
	Content         string
	Thinking        string
	PromptEvalCount int
	EvalCount       int
	EvalDuration    int64
}

// chatChunk is one NDJSON line of an upstream /api/chat response. The same
// shape covers both streamed deltas and the single non-streamed reply; the
// counters are only populated on the line with done=true.
type chatChunk struct {
	Model   string `json:"model"`
	Message struct {
		Role     string `json:"role"`
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	EvalDuration    int64  `json:"eval_duration"`
}

// ModelGatewayClient is the thin HTTP client in front of the model daemon. It
// never retries and never rewrites upstream semantics: connection failures
// surface as ErrGatewayUnreachable, non-2xx replies as an UpstreamError with
// the body intact. Model metadata reads go through a shared TTL cache that is
// flushed whole on any mutation.
type ModelGatewayClient struct {
	baseURL    string
	clients    *pool.ClientPool
	cache      *cache.TTLCache
	showFanout int
}

func NewModelGatewayClient(baseURL string, clients *pool.ClientPool, metaCache *cache.TTLCache, showFanout int) *ModelGatewayClient {
	if showFanout < 1 {
		showFanout = 1
	}
	return &ModelGatewayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clients:    clients,
		cache:      metaCache,
		showFanout: showFanout,
	}
}

// Version reports the daemon version. Also doubles as the upstream liveness
// probe for the health endpoint.
func (g *ModelGatewayClient) Version(ctx context.Context) (map[string]interface{}, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "gateway", "Version")

	var out map[string]interface{}
	if err := g.getJSON(ctx, "/api/version", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListModels returns all upstream models with their capability lists. The
// capability of each model requires a separate show call, so those are fanned
// out with bounded concurrency. The merged snapshot is cached as one unit.
func (g *ModelGatewayClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "gateway", "ListModels")

	if cached, ok := g.cache.Get(cacheKeyModels); ok {
		if models, ok := cached.([]ModelInfo); ok {
			logger.DebugWithContext(ctx, "model list served from cache").
				Int("count", len(models)).
				Log()
			return models, nil
		}
	}

	var tags struct {
		Models []ModelInfo `json:"models"`
	}
	if err := g.getJSON(ctx, "/api/tags", &tags); err != nil {
		return nil, err
	}

	models := tags.Models
	var mu sync.Mutex
	pool.ForEachLimit(ctx, len(models), g.showFanout, func(i int) {
		caps, err := g.showCapabilities(ctx, models[i].Name)
		if err != nil {
			logger.WarnWithContext(ctx, "capability lookup failed").
				String("model", models[i].Name).
				Err(err).
				Log()
			return
		}
		mu.Lock()
		models[i].Capabilities = caps
		mu.Unlock()
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.cache.Set(cacheKeyModels, models)
	logger.InfoWithContext(ctx, "model list refreshed").
		Int("count", len(models)).
		Log()
	return models, nil
}

// ModelDetails returns the full show payload for one model, cached per model
func (g *ModelGatewayClient) ModelDetails(ctx context.Context, name string) (map[string]interface{}, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "gateway", "ModelDetails")

	key := cacheKeyModelPrefix + name
	if cached, ok := g.cache.Get(key); ok {
		if details, ok := cached.(map[string]interface{}); ok {
			return details, nil
		}
	}

	var details map[string]interface{}
	if err := g.postJSON(ctx, "/api/show", map[string]string{"model": name}, &details); err != nil {
		return nil, err
	}

	g.cache.Set(key, details)
	return details, nil
}

// PullModel asks the daemon to download a model. The call waits for the pull
// to finish rather than streaming progress. Any success invalidates the whole
// metadata cache since the model set has changed.
func (g *ModelGatewayClient) PullModel(ctx context.Context, model string) (map[string]interface{}, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "gateway", "PullModel")

	var out map[string]interface{}
	body := map[string]interface{}{"model": model, "stream": false}
	if err := g.doJSON(ctx, http.MethodPost, "/api/pull", body, &out, g.clients.StreamingClient()); err != nil {
		return nil, err
	}

	g.cache.Invalidate()
	logger.InfoWithContext(ctx, "model pulled, metadata cache flushed").
		String("model", model).
		Log()
	return out, nil
}

// DeleteModel removes a model from the daemon and flushes the metadata cache
func (g *ModelGatewayClient) DeleteModel(ctx context.Context, model string) error {
	ctx = ctxutil.NewContextWithRequest(ctx, "gateway", "DeleteModel")

	if err := g.doJSON(ctx, http.MethodDelete, "/api/delete", map[string]string{"model": model}, nil, g.clients.Client()); err != nil {
		return err
	}

	g.cache.Invalidate()
	logger.InfoWithContext(ctx, "model deleted, metadata cache flushed").
		String("model", model).
		Log()
	return nil
}

// Chat runs one non-streamed model turn and returns the complete reply
func (g *ModelGatewayClient) Chat(ctx context.Context, model string, messages []dto.ChatTurnMessage, options map[string]interface{}) (*ChatCompletion, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "gateway", "Chat")

	payload := map[string]interface{}{
		"model":    model,
		"messages": messages,
		"stream":   false,
	}
	if len(options) > 0 {
		payload["options"] = options
	}

	var chunk chatChunk
	if err := g.doJSON(ctx, http.MethodPost, "/api/chat", payload, &chunk, g.clients.Client()); err != nil {
		return nil, err
	}

	return &ChatCompletion{
		Model:           chunk.Model,
		Content:         chunk.Message.Content,
		Thinking:        chunk.Message.Thinking,
		PromptEvalCount: chunk.PromptEvalCount,
		EvalCount:       chunk.EvalCount,
		EvalDuration:    chunk.EvalDuration,
	}, nil
}

// StreamChat runs one streamed model turn. Each content delta is handed to
// onChunk in arrival order while the full reply accumulates; the accumulated
// completion is returned once the upstream signals done. A malformed NDJSON
// line is skipped, not fatal. If onChunk returns an error (client went away),
// the stream stops and the partial completion is returned alongside the error
// so the caller can persist what arrived.
func (g *ModelGatewayClient) StreamChat(ctx context.Context, model string, messages []dto.ChatTurnMessage, options map[string]interface{}, onChunk func(content string) error) (*ChatCompletion, error) {
	ctx = ctxutil.NewContextWithRequest(ctx, "gateway", "StreamChat")

	payload := map[string]interface{}{
		"model":    model,
		"messages": messages,
		"stream":   true,
	}
	if len(options) > 0 {
		payload["options"] = options
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.ErrInternal
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/chat", bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.ErrInternal
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.clients.StreamingClient().Do(req)
	if err != nil {
		logger.ErrorWithContext(ctx, "upstream connection failed").Err(err).Log()
		return nil, apperrors.ErrGatewayUnreachable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	result := &ChatCompletion{}
	var content, thinking strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), maxStreamLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			logger.WarnWithContext(ctx, "skipping malformed stream line").Err(err).Log()
			continue
		}

		if chunk.Model != "" {
			result.Model = chunk.Model
		}
		content.WriteString(chunk.Message.Content)
		thinking.WriteString(chunk.Message.Thinking)

		if chunk.Message.Content != "" && onChunk != nil {
			if err := onChunk(chunk.Message.Content); err != nil {
				result.Content = content.String()
				result.Thinking = thinking.String()
				return result, err
			}
		}

		if chunk.Done {
			result.Content = content.String()
			result.Thinking = thinking.String()
			result.PromptEvalCount = chunk.PromptEvalCount
			result.EvalCount = chunk.EvalCount
			result.EvalDuration = chunk.EvalDuration
			return result, nil
		}
	}

	result.Content = content.String()
	result.Thinking = thinking.String()
	if err := scanner.Err(); err != nil {
		logger.ErrorWithContext(ctx, "upstream stream broke mid-reply").Err(err).Log()
		return result, apperrors.ErrGatewayError
	}

	// the upstream ended the body without a done marker; treat what we have
	// as the complete reply
	return result, nil
}

func (g *ModelGatewayClient) showCapabilities(ctx context.Context, name string) ([]string, error) {
	var show struct {
		Capabilities []string `json:"capabilities"`
	}
	if err := g.postJSON(ctx, "/api/show", map[string]string{"model": name}, &show); err != nil {
		return nil, err
	}
	return show.Capabilities, nil
}

func (g *ModelGatewayClient) getJSON(ctx context.Context, path string, out interface{}) error {
	return g.doJSON(ctx, http.MethodGet, path, nil, out, g.clients.Client())
}

func (g *ModelGatewayClient) postJSON(ctx context.Context, path string, body, out interface{}) error {
	return g.doJSON(ctx, http.MethodPost, path, body, out, g.clients.Client())
}

func (g *ModelGatewayClient) doJSON(ctx context.Context, method, path string, body, out interface{}, client *http.Client) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperrors.ErrInternal
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return apperrors.ErrInternal
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.ErrorWithContext(ctx, "upstream request failed").
			String("method", method).
			String("path", path).
			Err(err).
			Log()
		return apperrors.ErrGatewayUnreachable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &UpstreamError{Status: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		logger.ErrorWithContext(ctx, "upstream response decode failed").
			String("path", path).
			Err(err).
			Log()
		return apperrors.ErrGatewayError
	}
	return nil
}
