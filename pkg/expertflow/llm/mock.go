package llm

import (
	"context"
	"sync"
	"time"
)

// MockClient is a deterministic Client for tests.
// It replays scripted responses in order, cycling when exhausted, and
// records every request it receives.
type MockClient struct {
	mu        sync.Mutex
	responses []CompletionResponse
	index     int
	err       error
	chunkSize int

	// Calls records every request, in order.
	Calls []CompletionRequest
}

// NewMockClient creates a mock that always returns the given content.
// Chain WithResponses / WithToolCallResponse to script a sequence.
func NewMockClient(content string) *MockClient {
	m := &MockClient{chunkSize: 4}
	if content != "" {
		m.responses = append(m.responses, CompletionResponse{
			Content:      content,
			Model:        "mock",
			FinishReason: "stop",
		})
	}
	return m
}

// WithResponses replaces the script with plain-content responses,
// returned sequentially and cycling when exhausted.
func (m *MockClient) WithResponses(contents ...string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = m.responses[:0]
	for _, c := range contents {
		m.responses = append(m.responses, CompletionResponse{
			Content:      c,
			Model:        "mock",
			FinishReason: "stop",
		})
	}
	m.index = 0
	return m
}

// WithToolCallResponse appends a response that requests the named tool.
func (m *MockClient) WithToolCallResponse(content, toolName, query string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, CompletionResponse{
		Content:      content,
		Model:        "mock",
		FinishReason: "tool_calls",
		ToolCalls:    []ToolCall{{ID: "call-mock", Name: toolName, Query: query}},
	})
	return m
}

// WithContentResponse appends a plain-content response to the script.
func (m *MockClient) WithContentResponse(content string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, CompletionResponse{
		Content:      content,
		Model:        "mock",
		FinishReason: "stop",
	})
	return m
}

// WithError makes every call fail with err.
func (m *MockClient) WithError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithChunkSize sets the content split size used by Stream.
func (m *MockClient) WithChunkSize(n int) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.chunkSize = n
	}
	return m
}

// CallCount returns the number of calls received.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil if none.
func (m *MockClient) LastCall() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	req := m.Calls[len(m.Calls)-1]
	return &req
}

// next records the request and pops the next scripted response.
func (m *MockClient) next(req CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if m.err != nil {
		return CompletionResponse{}, m.err
	}
	if len(m.responses) == 0 {
		return CompletionResponse{Model: "mock", FinishReason: "stop"}, nil
	}

	resp := m.responses[m.index%len(m.responses)]
	m.index++
	return resp, nil
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := m.next(req)
	if err != nil {
		return nil, err
	}
	resp.Duration = time.Millisecond
	return &resp, nil
}

// Stream implements Client by splitting the scripted content into
// fixed-size chunks. Concatenating the chunks always reproduces the
// atomic Complete content for the same script position.
func (m *MockClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	resp, err := m.next(req)
	if err != nil {
		return nil, err
	}

	size := m.chunkSize
	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		content := resp.Content
		for len(content) > 0 {
			n := size
			if n > len(content) {
				n = len(content)
			}
			select {
			case ch <- StreamChunk{Content: content[:n]}:
			case <-ctx.Done():
				return
			}
			content = content[n:]
		}
		if len(resp.ToolCalls) > 0 {
			ch <- StreamChunk{ToolCalls: resp.ToolCalls}
		}
		ch <- StreamChunk{Done: true, Usage: &TokenUsage{}}
	}()
	return ch, nil
}

// Compile-time interface check.
var _ Client = (*MockClient)(nil)
