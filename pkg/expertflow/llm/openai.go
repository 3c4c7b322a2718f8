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

// OpenAICompatClient implements Client against any OpenAI-compatible
// chat-completions endpoint (Groq, OpenAI, DashScope, vLLM, ...).
// This is the hosted-backend half of the model selection flag; the local
// half is OllamaClient.
type OpenAICompatClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// OpenAIOption configures OpenAICompatClient.
type OpenAIOption func(*OpenAICompatClient)

// NewOpenAICompat creates a client for an OpenAI-compatible endpoint.
// baseURL is the API root, e.g. "https://api.groq.com/openai/v1".
func NewOpenAICompat(baseURL, apiKey, model string, opts ...OpenAIOption) *OpenAICompatClient {
	c := &OpenAICompatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *OpenAICompatClient) { c.client = hc }
}

// Wire types for the chat-completions protocol.

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content,omitempty"`
	Name       string       `json:"name,omitempty"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

type oaToolCall struct {
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	Function oaFunction `json:"function"`
}

type oaFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Arguments   string          `json:"arguments,omitempty"`
}

type oaTool struct {
	Type     string     `json:"type"`
	Function oaFunction `json:"function"`
}

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Tools       []oaTool    `json:"tools,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Temperature float64     `json:"temperature,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
}

type oaChoice struct {
	Index        int        `json:"index"`
	FinishReason string     `json:"finish_reason"`
	Message      oaMessage  `json:"message"`
	Delta        *oaMessage `json:"delta,omitempty"`
}

type oaUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaResponse struct {
	ID      string     `json:"id"`
	Model   string     `json:"model"`
	Choices []oaChoice `json:"choices"`
	Usage   *oaUsage   `json:"usage,omitempty"`
}

// queryToolParameters is the JSON Schema for the single-query tool shape
// the retrieval node understands.
var queryToolParameters = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "Search query"}
	},
	"required": ["query"]
}`)

// buildRequest converts a CompletionRequest to the wire format.
func (c *OpenAICompatClient) buildRequest(req CompletionRequest, stream bool) oaRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}

	msgs := make([]oaMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oaMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		om := oaMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == RoleTool {
			om.Name = m.Name
		}
		msgs = append(msgs, om)
	}

	tools := make([]oaTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, oaTool{
			Type: "function",
			Function: oaFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  queryToolParameters,
			},
		})
	}

	return oaRequest{
		Model:       model,
		Messages:    msgs,
		Tools:       tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

// Complete implements Client.
func (c *OpenAICompatClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	body, err := json.Marshal(c.buildRequest(req, false))
	if err != nil {
		return nil, NewError("complete", err, false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, NewError("complete", err, false)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewError("complete", ctx.Err(), false)
		}
		return nil, NewError("complete", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readErrBody(resp.Body)
		return nil, NewError("complete",
			fmt.Errorf("status %d: %s", resp.StatusCode, msg),
			isRetryableStatus(resp.StatusCode) || isRetryableMessage(msg))
	}

	var oa oaResponse
	if err := json.NewDecoder(resp.Body).Decode(&oa); err != nil {
		return nil, NewError("complete", fmt.Errorf("decode response: %w", err), false)
	}
	if len(oa.Choices) == 0 {
		return nil, NewError("complete", fmt.Errorf("no choices in response"), false)
	}

	choice := oa.Choices[0]
	out := &CompletionResponse{
		Content:      choice.Message.Content,
		Model:        oa.Model,
		FinishReason: choice.FinishReason,
		Duration:     time.Since(start),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Query: parseQueryArgument(tc.Function.Arguments),
		})
	}
	if oa.Usage != nil {
		out.Usage = TokenUsage{
			InputTokens:  oa.Usage.PromptTokens,
			OutputTokens: oa.Usage.CompletionTokens,
			TotalTokens:  oa.Usage.TotalTokens,
		}
	}
	return out, nil
}

// Stream implements Client using server-sent events.
func (c *OpenAICompatClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	body, err := json.Marshal(c.buildRequest(req, true))
	if err != nil {
		return nil, NewError("stream", err, false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, NewError("stream", err, false)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, NewError("stream", err, true)
	}
	if resp.StatusCode != http.StatusOK {
		msg := readErrBody(resp.Body)
		resp.Body.Close()
		return nil, NewError("stream",
			fmt.Errorf("status %d: %s", resp.StatusCode, msg),
			isRetryableStatus(resp.StatusCode) || isRetryableMessage(msg))
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		// Accumulates tool calls across deltas; the protocol may split
		// one call's arguments over several frames.
		pending := map[int]*oaToolCall{}

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF && ctx.Err() == nil {
					ch <- StreamChunk{Error: NewError("stream", err, true)}
					return
				}
				flushToolCalls(ch, pending)
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				flushToolCalls(ch, pending)
				ch <- StreamChunk{Done: true}
				return
			}

			var oa oaResponse
			if err := json.Unmarshal([]byte(data), &oa); err != nil {
				ch <- StreamChunk{Error: NewError("stream", fmt.Errorf("decode chunk: %w", err), false)}
				return
			}
			for _, choice := range oa.Choices {
				if choice.Delta == nil {
					continue
				}
				if choice.Delta.Content != "" {
					select {
					case ch <- StreamChunk{Content: choice.Delta.Content}:
					case <-ctx.Done():
						return
					}
				}
				for i, tc := range choice.Delta.ToolCalls {
					p, ok := pending[i]
					if !ok {
						p = &oaToolCall{}
						pending[i] = p
					}
					if tc.ID != "" {
						p.ID = tc.ID
					}
					if tc.Function.Name != "" {
						p.Function.Name = tc.Function.Name
					}
					p.Function.Arguments += tc.Function.Arguments
				}
			}
		}
	}()
	return ch, nil
}

// flushToolCalls emits any accumulated tool calls as a final chunk.
func flushToolCalls(ch chan<- StreamChunk, pending map[int]*oaToolCall) {
	if len(pending) == 0 {
		return
	}
	chunk := StreamChunk{}
	for _, tc := range pending {
		chunk.ToolCalls = append(chunk.ToolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Query: parseQueryArgument(tc.Function.Arguments),
		})
	}
	ch <- chunk
}

// parseQueryArgument extracts the "query" field from tool-call arguments.
// Falls back to the raw argument string for backends that send plain text.
func parseQueryArgument(args string) string {
	var parsed struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(args), &parsed); err == nil && parsed.Query != "" {
		return parsed.Query
	}
	return strings.TrimSpace(args)
}

func (c *OpenAICompatClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// readErrBody extracts a short error message from a failed response body.
func readErrBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// Compile-time interface check.
var _ Client = (*OpenAICompatClient)(nil)
