package expertflow

import (
	"strings"

	"github.com/nanaosei/expertflow/pkg/expertflow/llm"
	"github.com/nanaosei/expertflow/pkg/expertflow/retrieval"
)

// Node identifiers for the conversation workflow.
const (
	NodeRespond   = "respond"
	NodeRetrieve  = "retrieve"
	NodeCondense  = "condense"
	NodeSummarize = "summarize"
	NodeConnector = "connector"
)

// RetrieveToolName is the tool the model may request to pull domain
// context into the conversation.
const RetrieveToolName = "retrieve_context"

// retrieveToolDescription is handed to the model with every respond call.
const retrieveToolDescription = "Search the knowledge base for passages relevant to the user's question. Use when the answer needs specific source material."

// placeholderToolResult stands in for retrieved context when retrieval
// fails or returns nothing. The turn continues in degraded mode.
const placeholderToolResult = "No relevant context found."

// WorkflowConfig carries the knobs the nodes and routers need.
// Zero values are replaced with defaults by applyDefaults.
type WorkflowConfig struct {
	// SummaryTrigger is the message count above which a turn ends with a
	// summarization pass.
	SummaryTrigger int
	// KeepAfterSummary is how many trailing messages survive pruning.
	// Must be less than SummaryTrigger.
	KeepAfterSummary int
	// RetrievalTopK is the passage count requested per retrieval.
	RetrievalTopK int
	// MaxTokens bounds each model completion. Zero means backend default.
	MaxTokens int
	// Temperature is passed through to the model backend.
	Temperature float64
}

// Defaults matching the original deployment.
const (
	DefaultSummaryTrigger   = 30
	DefaultKeepAfterSummary = 5
	DefaultRetrievalTopK    = 3
)

func (c WorkflowConfig) applyDefaults() WorkflowConfig {
	if c.SummaryTrigger <= 0 {
		c.SummaryTrigger = DefaultSummaryTrigger
	}
	if c.KeepAfterSummary <= 0 {
		c.KeepAfterSummary = DefaultKeepAfterSummary
	}
	if c.RetrievalTopK <= 0 {
		c.RetrievalTopK = DefaultRetrievalTopK
	}
	return c
}

// toModelMessages converts conversation history to the model wire shape.
func toModelMessages(msgs []Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		lm := llm.Message{Role: llm.Role(m.Role), Content: m.Content}
		if m.Role == RoleTool {
			lm.Name = RetrieveToolName
		}
		out = append(out, lm)
	}
	return out
}

// respondNode generates the assistant reply. When the context carries an
// emitter, model chunks are forwarded as they arrive; the accumulated
// content still lands in the state delta so streaming and atomic turns
// produce identical history.
func respondNode(cfg WorkflowConfig) NodeFunc {
	return func(ctx Context, state State) (Delta, error) {
		model := ctx.Model()
		if model == nil {
			return Delta{}, ErrNoModel
		}

		card, err := CharacterCard(state.Persona, state.Summary)
		if err != nil {
			return Delta{}, err
		}

		req := llm.CompletionRequest{
			SystemPrompt: card,
			Messages:     toModelMessages(state.Messages),
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
			Tools: []llm.Tool{{
				Name:        RetrieveToolName,
				Description: retrieveToolDescription,
			}},
		}

		var content string
		var toolCalls []llm.ToolCall

		if emitter := ctx.Emitter(); emitter != nil {
			content, toolCalls, err = streamCompletion(ctx, model, emitter, req)
		} else {
			var resp *llm.CompletionResponse
			resp, err = model.Complete(ctx, req)
			if err == nil {
				content = resp.Content
				toolCalls = resp.ToolCalls
			}
		}
		if err != nil {
			return Delta{}, &ModelError{Op: "respond", Err: err}
		}

		msg := NewAssistantMessage(content)
		if len(toolCalls) > 0 {
			// One tool call per assistant message; the condense node
			// depends on a single latest tool result.
			tc := toolCalls[0]
			msg.ToolCall = &ToolCall{ID: tc.ID, Name: tc.Name, Query: tc.Query}
			if len(toolCalls) > 1 {
				ctx.Logger().Warn("dropping extra tool calls",
					"kept", tc.Name,
					"dropped", len(toolCalls)-1)
			}
		}

		return Delta{Append: []Message{msg}}, nil
	}
}

// streamCompletion drives the model's streaming mode, forwarding content
// frames to the emitter and accumulating the full response.
func streamCompletion(ctx Context, model llm.Client, emitter Emitter, req llm.CompletionRequest) (string, []llm.ToolCall, error) {
	ch, err := model.Stream(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	var toolCalls []llm.ToolCall
	for chunk := range ch {
		if chunk.Error != nil {
			return "", nil, chunk.Error
		}
		if chunk.Content != "" {
			b.WriteString(chunk.Content)
			if err := emitter.Emit(ctx, Frame{Type: FrameContent, Content: chunk.Content}); err != nil {
				return "", nil, err
			}
		}
		toolCalls = append(toolCalls, chunk.ToolCalls...)
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	return b.String(), toolCalls, nil
}

// retrieveNode executes the tool call from the preceding assistant
// message, exactly once. Retrieval failure degrades to a placeholder tool
// result instead of aborting the turn.
func retrieveNode(cfg WorkflowConfig) NodeFunc {
	return func(ctx Context, state State) (Delta, error) {
		last, ok := state.LastMessage()
		if !ok || !last.RequestsTool() {
			return Delta{}, &NodeError{NodeID: NodeRetrieve, Op: "execute",
				Err: ErrNoToolRequest}
		}

		query := strings.TrimSpace(last.ToolCall.Query)
		if query == "" {
			query = lastUserContent(state.Messages)
		}

		var passages []retrieval.Passage
		var err error
		if r := ctx.Retriever(); r != nil {
			passages, err = r.Retrieve(ctx, query, cfg.RetrievalTopK)
		} else {
			err = ErrNoRetriever
		}

		retrieved := retrieval.FormatPassages(passages)
		if err != nil || retrieved == "" {
			if err != nil {
				ctx.Logger().Warn("retrieval degraded to placeholder",
					"error", &ToolError{Query: query, Err: err})
			}
			empty := ""
			return Delta{
				Append:           []Message{NewToolMessage(placeholderToolResult, last.ToolCall.ID)},
				RetrievedContext: &empty,
			}, nil
		}

		return Delta{
			Append:           []Message{NewToolMessage(retrieved, last.ToolCall.ID)},
			RetrievedContext: &retrieved,
		}, nil
	}
}

// lastUserContent returns the content of the most recent user message.
func lastUserContent(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// condenseNode compresses the latest tool result in place so the context
// re-entering the response loop stays small. A summarizer failure leaves
// the full text in place; the turn continues.
func condenseNode(cfg WorkflowConfig) NodeFunc {
	return func(ctx Context, state State) (Delta, error) {
		last, ok := state.LastMessage()
		if !ok || last.Role != RoleTool {
			return Delta{}, &NodeError{NodeID: NodeCondense, Op: "execute",
				Err: ErrNoToolResult}
		}
		if last.Content == placeholderToolResult {
			return Delta{}, nil
		}

		summarizer := ctx.Summarizer()
		if summarizer == nil {
			return Delta{}, nil
		}

		prompt, err := CondenseContextPrompt(last.Content)
		if err != nil {
			return Delta{}, err
		}

		resp, err := summarizer.Complete(ctx, llm.CompletionRequest{
			Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		})
		if err != nil {
			ctx.Logger().Warn("context condensation skipped",
				"error", &SummaryError{Op: "context", Err: err})
			return Delta{}, nil
		}

		condensed := strings.TrimSpace(resp.Content)
		if condensed == "" {
			return Delta{}, nil
		}

		return Delta{
			SetContent:       &ContentEdit{MessageID: last.ID, Content: condensed},
			RetrievedContext: &condensed,
		}, nil
	}
}

// summarizeNode produces or extends the running summary, then prunes all
// but the trailing KeepAfterSummary messages. On summarizer failure the
// history is retained unpruned and the turn still succeeds.
func summarizeNode(cfg WorkflowConfig) NodeFunc {
	return func(ctx Context, state State) (Delta, error) {
		summarizer := ctx.Summarizer()
		if summarizer == nil {
			ctx.Logger().Warn("summarization skipped", "error", ErrNoModel)
			return Delta{}, nil
		}

		var prompt string
		var err error
		if state.Summary == "" {
			prompt, err = CreateSummaryPrompt(state.Persona)
		} else {
			prompt, err = ExtendSummaryPrompt(state.Persona, state.Summary)
		}
		if err != nil {
			return Delta{}, err
		}

		msgs := toModelMessages(state.Messages)
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: prompt})

		resp, err := summarizer.Complete(ctx, llm.CompletionRequest{Messages: msgs})
		if err != nil {
			ctx.Logger().Warn("summarization skipped, history retained",
				"error", &SummaryError{Op: "conversation", Err: err},
				"messages", len(state.Messages))
			return Delta{}, nil
		}

		summary := strings.TrimSpace(resp.Content)
		if summary == "" {
			ctx.Logger().Warn("summarizer returned empty summary, history retained")
			return Delta{}, nil
		}

		// Keep the trailing context window plus the reply this turn
		// just produced.
		delta := Delta{Summary: &summary}
		if cut := len(state.Messages) - cfg.KeepAfterSummary - 1; cut > 0 {
			delta.Remove = make([]string, 0, cut)
			for _, m := range state.Messages[:cut] {
				delta.Remove = append(delta.Remove, m.ID)
			}
		}
		return delta, nil
	}
}

// connectorNode is a no-op branch point between the tool loop and the
// summarization decision.
func connectorNode() NodeFunc {
	return func(ctx Context, state State) (Delta, error) {
		return Delta{}, nil
	}
}
