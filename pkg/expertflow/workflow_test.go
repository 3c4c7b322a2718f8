package expertflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanaosei/expertflow/pkg/expertflow/llm"
	"github.com/nanaosei/expertflow/pkg/expertflow/retrieval"
)

var testPersona = Persona{
	Name:      "Ama",
	Expertise: "tenancy law",
	Style:     "precise and plain-spoken",
}

func testRetriever() retrieval.Retriever {
	return retrieval.NewStatic(
		retrieval.Passage{ID: "p1", Text: "Tenants may withhold rent when essential repairs are ignored.", Source: "housing-act"},
		retrieval.Passage{ID: "p2", Text: "A security deposit must be returned within 21 days.", Source: "housing-act"},
	)
}

func runConversation(t *testing.T, state State, model, summarizer llm.Client, opts ...RunOption) (State, error) {
	t.Helper()
	cg, err := NewConversationGraph(WorkflowConfig{})
	require.NoError(t, err)

	ctx := NewContext(context.Background(),
		WithModel(model),
		WithSummarizer(summarizer),
		WithRetriever(testRetriever()),
	)
	return cg.Run(ctx, state, opts...)
}

// preload builds a state carrying n alternating user/assistant messages.
func preload(t *testing.T, threadID string, n int) State {
	t.Helper()
	state := NewState(threadID, testPersona)
	msgs := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			msgs = append(msgs, NewUserMessage(fmt.Sprintf("question %d", i)))
		} else {
			msgs = append(msgs, NewAssistantMessage(fmt.Sprintf("answer %d", i)))
		}
	}
	state, err := state.Apply(Delta{Append: msgs})
	require.NoError(t, err)
	return state
}

func TestTurnWithoutToolCall(t *testing.T) {
	model := llm.NewMockClient("Hello! I'm Ama, a tenancy law expert.")

	state := NewState("t1", testPersona)
	state, err := state.Apply(Delta{Append: []Message{NewUserMessage("Hello")}})
	require.NoError(t, err)

	final, err := runConversation(t, state, model, nil)
	require.NoError(t, err)

	// Exactly user + assistant, no retrieval side effects
	require.Len(t, final.Messages, 2)
	assert.Equal(t, RoleUser, final.Messages[0].Role)
	assert.Equal(t, RoleAssistant, final.Messages[1].Role)
	assert.Empty(t, final.RetrievedContext)
	assert.Empty(t, final.Summary)

	// Persona and summary flow into the system prompt
	req := model.LastCall()
	require.NotNil(t, req)
	assert.Contains(t, req.SystemPrompt, "Ama")
	assert.Contains(t, req.SystemPrompt, "tenancy law")
}

func TestTurnWithToolCall(t *testing.T) {
	model := llm.NewMockClient("").
		WithToolCallResponse("", RetrieveToolName, "withhold rent repairs").
		WithContentResponse("condensed: rent may be withheld over ignored repairs").
		WithContentResponse("You may withhold rent if essential repairs are ignored.")

	state := NewState("t1", testPersona)
	state, err := state.Apply(Delta{Append: []Message{NewUserMessage("Can I withhold rent?")}})
	require.NoError(t, err)

	final, err := runConversation(t, state, model, nil)
	require.NoError(t, err)

	// user, assistant(tool call), tool result, final assistant
	require.Len(t, final.Messages, 4)
	assert.True(t, final.Messages[1].RequestsTool())
	assert.Equal(t, RoleTool, final.Messages[2].Role)
	assert.Equal(t, RoleAssistant, final.Messages[3].Role)

	// The tool result was condensed in place and mirrored into the buffer
	assert.Equal(t, "condensed: rent may be withheld over ignored repairs", final.Messages[2].Content)
	assert.Equal(t, final.Messages[2].Content, final.RetrievedContext)

	// respond, condense, respond: exactly one retrieval pass
	assert.Equal(t, 3, model.CallCount())
}

func TestTurnRetrievalFailureDegrades(t *testing.T) {
	model := llm.NewMockClient("").
		WithToolCallResponse("", RetrieveToolName, "quantum chromodynamics").
		WithContentResponse("I could not find supporting material, but generally...")

	state := NewState("t1", testPersona)
	state, err := state.Apply(Delta{Append: []Message{NewUserMessage("Obscure question")}})
	require.NoError(t, err)

	final, err := runConversation(t, state, model, nil)
	require.NoError(t, err)

	// Placeholder tool result, turn completes
	require.Len(t, final.Messages, 4)
	assert.Equal(t, placeholderToolResult, final.Messages[2].Content)
	assert.Empty(t, final.RetrievedContext)
}

func TestTurnSummarization(t *testing.T) {
	model := llm.NewMockClient("Here is my answer.")
	summarizer := llm.NewMockClient("The user asked about tenancy; Ama explained their rights.")

	state := preload(t, "t1", 31)
	state, err := state.Apply(Delta{Append: []Message{NewUserMessage("one more question")}})
	require.NoError(t, err)

	final, err := runConversation(t, state, model, summarizer)
	require.NoError(t, err)

	// Pruned to the trailing window plus the new assistant reply
	assert.Len(t, final.Messages, DefaultKeepAfterSummary+1)
	assert.NotEmpty(t, final.Summary)

	// Trailing messages preserved verbatim
	last := final.Messages[len(final.Messages)-1]
	assert.Equal(t, "Here is my answer.", last.Content)
	assert.Equal(t, "one more question", final.Messages[len(final.Messages)-2].Content)
}

func TestTurnBelowTriggerSkipsSummarization(t *testing.T) {
	model := llm.NewMockClient("answer")
	summarizer := llm.NewMockClient("should never be called")

	state := preload(t, "t1", 10)
	state, err := state.Apply(Delta{Append: []Message{NewUserMessage("q")}})
	require.NoError(t, err)

	final, err := runConversation(t, state, model, summarizer)
	require.NoError(t, err)

	assert.Len(t, final.Messages, 12)
	assert.Empty(t, final.Summary)
	assert.Zero(t, summarizer.CallCount())
}

func TestTurnSummarizerFailureRetainsHistory(t *testing.T) {
	model := llm.NewMockClient("answer")
	summarizer := llm.NewMockClient("").WithError(errors.New("summary backend down"))

	state := preload(t, "t1", 31)
	state, err := state.Apply(Delta{Append: []Message{NewUserMessage("q")}})
	require.NoError(t, err)

	final, err := runConversation(t, state, model, summarizer)
	require.NoError(t, err)

	// Pruning skipped, turn still succeeds
	assert.Len(t, final.Messages, 33)
	assert.Empty(t, final.Summary)
}

func TestTurnModelFailureAborts(t *testing.T) {
	model := llm.NewMockClient("").WithError(errors.New("connection refused"))

	state := NewState("t1", testPersona)
	state, err := state.Apply(Delta{Append: []Message{NewUserMessage("Hello")}})
	require.NoError(t, err)

	_, runErr := runConversation(t, state, model, nil)
	require.Error(t, runErr)

	var modelErr *ModelError
	assert.ErrorAs(t, runErr, &modelErr)
}

func TestTurnExtendsExistingSummary(t *testing.T) {
	model := llm.NewMockClient("answer")
	summarizer := llm.NewMockClient("extended summary")

	state := preload(t, "t1", 31)
	prior := "earlier: the user asked about deposits"
	state, err := state.Apply(Delta{Summary: &prior, Append: []Message{NewUserMessage("q")}})
	require.NoError(t, err)

	final, err := runConversation(t, state, model, summarizer)
	require.NoError(t, err)
	assert.Equal(t, "extended summary", final.Summary)

	// The extend prompt carries the prior summary
	req := summarizer.LastCall()
	require.NotNil(t, req)
	assert.Contains(t, req.Messages[len(req.Messages)-1].Content, prior)
}

func TestRouters(t *testing.T) {
	cfg := WorkflowConfig{}.applyDefaults()
	ctx := NewContext(context.Background())

	t.Run("after respond", func(t *testing.T) {
		router := afterRespond(cfg)

		state := NewState("t1", testPersona)
		msg := NewAssistantMessage("checking")
		msg.ToolCall = &ToolCall{ID: "c1", Name: RetrieveToolName, Query: "rent"}
		state, err := state.Apply(Delta{Append: []Message{msg}})
		require.NoError(t, err)
		assert.Equal(t, NodeRetrieve, router(ctx, state))

		state, err = state.Apply(Delta{Append: []Message{NewAssistantMessage("done")}})
		require.NoError(t, err)
		assert.Equal(t, NodeConnector, router(ctx, state))
	})

	t.Run("after connector", func(t *testing.T) {
		router := afterConnector(cfg)

		assert.Equal(t, END, router(ctx, preload(t, "t1", 30)))
		assert.Equal(t, NodeSummarize, router(ctx, preload(t, "t1", 31)))
	})
}
