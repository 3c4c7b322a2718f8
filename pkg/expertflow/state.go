package expertflow

import (
	"fmt"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
// The set is closed: every node that inspects messages switches over
// exactly these values.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a retrieval request attached to an assistant message.
// Query carries the search text the model wants passed to the retriever.
type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Query string `json:"query"`
}

// Message is one entry in a thread's conversation history.
// IDs are unique within a thread; insertion order is significant.
type Message struct {
	ID       string    `json:"id"`
	Role     Role      `json:"role"`
	Content  string    `json:"content"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// NewUserMessage creates a user message with a fresh ID.
func NewUserMessage(content string) Message {
	return Message{ID: uuid.New().String(), Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message with a fresh ID.
func NewAssistantMessage(content string) Message {
	return Message{ID: uuid.New().String(), Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a tool-result message with a fresh ID.
// callID links the result back to the assistant tool call it answers.
func NewToolMessage(content, callID string) Message {
	return Message{
		ID:       uuid.New().String(),
		Role:     RoleTool,
		Content:  content,
		ToolCall: &ToolCall{ID: callID},
	}
}

// RequestsTool reports whether the message carries a tool-call request.
// Only assistant messages can request tools.
func (m Message) RequestsTool() bool {
	return m.Role == RoleAssistant && m.ToolCall != nil
}

// Persona is the expert descriptor bound to a thread at creation.
// It never changes for the lifetime of the thread.
type Persona struct {
	Name      string `json:"name"`
	Expertise string `json:"expertise"`
	Style     string `json:"style"`
}

// State is the per-thread conversation record that flows through the graph.
//
// RetrievedContext holds only the most recent retrieval result; each
// retrieval cycle overwrites it. Summary is empty until the first
// summarization cycle. Messages are only ever appended or bulk-deleted
// during summarization, never reordered.
type State struct {
	ThreadID         string    `json:"thread_id"`
	Messages         []Message `json:"messages"`
	Summary          string    `json:"summary"`
	RetrievedContext string    `json:"retrieved_context"`
	Persona          Persona   `json:"persona"`
}

// NewState creates the initial state for a thread: the persona is bound,
// everything else starts empty.
func NewState(threadID string, persona Persona) State {
	return State{ThreadID: threadID, Persona: persona}
}

// LastMessage returns the most recently appended message.
// The second return value is false for an empty history.
func (s State) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// ContentEdit targets one message by ID for in-place content replacement.
type ContentEdit struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// Delta is a partial state update produced by a node and merged by the
// engine. Nodes never mutate State directly; every change is expressed
// here so it can be staged in the pending-writes ledger before commit.
//
// Zero-value fields mean "unchanged". Remove and Append may both be set;
// removals are applied first.
type Delta struct {
	Append           []Message    `json:"append,omitempty"`
	Remove           []string     `json:"remove,omitempty"`
	SetContent       *ContentEdit `json:"set_content,omitempty"`
	Summary          *string      `json:"summary,omitempty"`
	RetrievedContext *string      `json:"retrieved_context,omitempty"`
}

// IsZero reports whether the delta changes nothing.
func (d Delta) IsZero() bool {
	return len(d.Append) == 0 && len(d.Remove) == 0 &&
		d.SetContent == nil && d.Summary == nil && d.RetrievedContext == nil
}

// Apply merges a delta into the state and returns the result.
// The receiver is not modified; the message slice is copied before any
// change so concurrent readers of the old state stay consistent.
//
// Returns an error if SetContent names a message ID that does not exist.
func (s State) Apply(d Delta) (State, error) {
	if d.IsZero() {
		return s, nil
	}

	msgs := make([]Message, 0, len(s.Messages)+len(d.Append))

	if len(d.Remove) > 0 {
		drop := make(map[string]bool, len(d.Remove))
		for _, id := range d.Remove {
			drop[id] = true
		}
		for _, m := range s.Messages {
			if !drop[m.ID] {
				msgs = append(msgs, m)
			}
		}
	} else {
		msgs = append(msgs, s.Messages...)
	}

	if d.SetContent != nil {
		found := false
		for i := range msgs {
			if msgs[i].ID == d.SetContent.MessageID {
				msgs[i].Content = d.SetContent.Content
				found = true
				break
			}
		}
		if !found {
			return s, fmt.Errorf("set content: message %s not found", d.SetContent.MessageID)
		}
	}

	msgs = append(msgs, d.Append...)

	next := s
	next.Messages = msgs
	if d.Summary != nil {
		next.Summary = *d.Summary
	}
	if d.RetrievedContext != nil {
		next.RetrievedContext = *d.RetrievedContext
	}
	return next, nil
}
