package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaClient implements Client against a locally hosted Ollama server.
// This is the local-backend half of the model selection flag.
//
// Ollama's chat API streams newline-delimited JSON objects rather than
// server-sent events.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// OllamaOption configures OllamaClient.
type OllamaOption func(*OllamaClient)

// NewOllama creates a client for a local Ollama server.
// baseURL defaults to "http://localhost:11434" when empty.
func NewOllama(baseURL, model string, opts ...OllamaOption) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	c := &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithOllamaHTTPClient overrides the underlying HTTP client.
func WithOllamaHTTPClient(hc *http.Client) OllamaOption {
	return func(c *OllamaClient) { c.client = hc }
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model     string        `json:"model"`
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
	EvalCount int           `json:"eval_count,omitempty"`
	// prompt_eval_count is absent on intermediate stream frames
	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
}

// buildRequest converts a CompletionRequest to Ollama's wire format.
// Tool definitions are dropped: local models served this way answer
// directly without tool use, matching the original local-model path.
func (c *OllamaClient) buildRequest(req CompletionRequest, stream bool) ollamaRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}

	msgs := make([]ollamaMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		role := string(m.Role)
		if m.Role == RoleTool {
			// Ollama has no tool role; fold results in as user context.
			role = "user"
		}
		msgs = append(msgs, ollamaMessage{Role: role, Content: m.Content})
	}

	var options map[string]any
	if req.Temperature != 0 {
		options = map[string]any{"temperature": req.Temperature}
	}

	return ollamaRequest{Model: model, Messages: msgs, Stream: stream, Options: options}
}

// Complete implements Client.
func (c *OllamaClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	body, err := json.Marshal(c.buildRequest(req, false))
	if err != nil {
		return nil, NewError("complete", err, false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewError("complete", err, false)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewError("complete", ctx.Err(), false)
		}
		return nil, NewError("complete", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, NewError("complete",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
			isRetryableStatus(resp.StatusCode))
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, NewError("complete", fmt.Errorf("decode response: %w", err), false)
	}

	return &CompletionResponse{
		Content:      out.Message.Content,
		Model:        out.Model,
		FinishReason: "stop",
		Duration:     time.Since(start),
		Usage: TokenUsage{
			InputTokens:  out.PromptEvalCount,
			OutputTokens: out.EvalCount,
			TotalTokens:  out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

// Stream implements Client over Ollama's NDJSON stream.
func (c *OllamaClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	body, err := json.Marshal(c.buildRequest(req, true))
	if err != nil {
		return nil, NewError("stream", err, false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewError("stream", err, false)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, NewError("stream", err, true)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, NewError("stream",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
			isRetryableStatus(resp.StatusCode))
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var frame ollamaResponse
			if err := json.Unmarshal([]byte(line), &frame); err != nil {
				ch <- StreamChunk{Error: NewError("stream", fmt.Errorf("decode chunk: %w", err), false)}
				return
			}

			if frame.Done {
				usage := &TokenUsage{
					InputTokens:  frame.PromptEvalCount,
					OutputTokens: frame.EvalCount,
					TotalTokens:  frame.PromptEvalCount + frame.EvalCount,
				}
				ch <- StreamChunk{Done: true, Usage: usage}
				return
			}

			select {
			case ch <- StreamChunk{Content: frame.Message.Content}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			ch <- StreamChunk{Error: NewError("stream", err, true)}
		}
	}()
	return ch, nil
}

// Compile-time interface check.
var _ Client = (*OllamaClient)(nil)
