package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClientScriptCycles(t *testing.T) {
	m := NewMockClient("").WithResponses("one", "two")
	ctx := context.Background()

	for _, want := range []string{"one", "two", "one"} {
		resp, err := m.Complete(ctx, CompletionRequest{})
		require.NoError(t, err)
		assert.Equal(t, want, resp.Content)
	}
	assert.Equal(t, 3, m.CallCount())
}

func TestMockClientStreamMatchesComplete(t *testing.T) {
	content := "a deterministic answer"
	atomic := NewMockClient(content)
	streaming := NewMockClient(content).WithChunkSize(5)

	resp, err := atomic.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)

	ch, err := streaming.Stream(context.Background(), CompletionRequest{})
	require.NoError(t, err)

	var assembled string
	for chunk := range ch {
		assembled += chunk.Content
	}
	assert.Equal(t, resp.Content, assembled)
}

func TestMockClientStreamEmitsToolCalls(t *testing.T) {
	m := NewMockClient("").WithToolCallResponse("", "retrieve_context", "rent")

	ch, err := m.Stream(context.Background(), CompletionRequest{})
	require.NoError(t, err)

	var calls []ToolCall
	var done bool
	for chunk := range ch {
		calls = append(calls, chunk.ToolCalls...)
		done = done || chunk.Done
	}

	require.Len(t, calls, 1)
	assert.Equal(t, "rent", calls[0].Query)
	assert.True(t, done)
}
