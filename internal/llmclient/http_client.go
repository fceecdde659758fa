package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/haasonsaas/nexus/internal/backoff"
)

// HTTPConfig configures an HTTPClient against a generic chat-completions
// streaming endpoint (spec.md §6.3 "LLM backend: base_url, api_key, model").
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxRetries int
	Policy     backoff.BackoffPolicy
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPClient is the default Client implementation: an SSE line-reader over
// stdlib net/http, grounded on the teacher's provider retry/backoff shape
// (internal/agent/providers/anthropic.go) but speaking a generic
// `data: {...}\n\n` / `data: [DONE]` wire format rather than a vendor SDK,
// since spec.md §4.1 documents the backend as an opaque streaming HTTP
// endpoint.
type HTTPClient struct {
	cfg HTTPConfig
}

// NewHTTPClient constructs an HTTPClient, filling unset fields with defaults.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 0} // streaming: caller's ctx governs lifetime
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Policy == (backoff.BackoffPolicy{}) {
		cfg.Policy = backoff.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HTTPClient{cfg: cfg}
}

type wireRequest struct {
	Model           string        `json:"model"`
	Messages        []wireMessage `json:"messages"`
	Temperature     float64       `json:"temperature,omitempty"`
	TopP            float64       `json:"top_p,omitempty"`
	PresencePenalty float64       `json:"presence_penalty,omitempty"`
	MaxTokens       int           `json:"max_tokens,omitempty"`
	Stop            []string      `json:"stop,omitempty"`
	Stream          bool          `json:"stream"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// StreamChat sends req to the configured backend and streams deltas back.
// Connection failures are retried with backoff up to MaxRetries; a non-2xx
// response is not retried (spec.md §4.1).
func (c *HTTPClient) StreamChat(ctx context.Context, req ChatRequest) (<-chan Delta, error) {
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan Delta, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		if err := c.streamBody(ctx, resp.Body, out); err != nil {
			select {
			case out <- Delta{Err: err, Done: true}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (c *HTTPClient) doWithRetry(ctx context.Context, req ChatRequest) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries+1; attempt++ {
		resp, err := c.do(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Non-2xx responses are a BackendError and are not retried.
		var be *BackendError
		if isBackendError(err, &be) {
			return nil, err
		}
		if attempt > c.cfg.MaxRetries {
			break
		}
		delay := backoff.ComputeBackoff(c.cfg.Policy, attempt)
		c.cfg.Logger.Warn("llm backend dial failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		if sleepErr := backoff.SleepWithContext(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, lastErr)
}

func isBackendError(err error, target **BackendError) bool {
	be, ok := err.(*BackendError)
	if ok {
		*target = be
	}
	return ok
}

func (c *HTTPClient) do(ctx context.Context, req ChatRequest) (*http.Response, error) {
	payload := wireRequest{
		Model:           c.cfg.Model,
		Temperature:     req.Config.Temperature,
		TopP:            req.Config.TopP,
		PresencePenalty: req.Config.PresencePenalty,
		MaxTokens:       req.Config.MaxTokens,
		Stop:            req.Config.StopTokens,
		Stream:          true,
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, wireMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &BackendError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return resp, nil
}

func (c *HTTPClient) streamBody(ctx context.Context, body io.Reader, out chan<- Delta) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var inputTokens, outputTokens int
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk wireChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // tolerate keep-alives / unparseable frames
		}
		if chunk.Usage != nil {
			inputTokens = chunk.Usage.PromptTokens
			outputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content != "" {
			select {
			case out <- Delta{Content: content}:
			case <-ctx.Done():
				return nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read llm stream: %w", err)
	}

	select {
	case out <- Delta{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}:
	case <-ctx.Done():
	}
	return nil
}
