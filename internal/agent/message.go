// Package agent runs a tool-using conversational loop over a chat model,
// with the retriever exposed as a tool and the history bounded per turn.
package agent

// MaxMemoryWindow is the default number of messages sent to the model.
const MaxMemoryWindow = 10

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one conversation entry.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// UserMessage returns a user message with text.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage returns an assistant message with text.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// TrimWindow bounds history to at most window messages starting with a
// user message. When history is longer than window, the oldest excess
// messages are dropped, then any further messages up to the first user
// message. The result may be shorter than window, or empty when no user
// message remains. A non-positive window uses MaxMemoryWindow.
func TrimWindow(history []Message, window int) []Message {
	if window <= 0 {
		window = MaxMemoryWindow
	}
	if len(history) <= window {
		return history
	}
	start := len(history) - window
	for start < len(history) && history[start].Role != RoleUser {
		start++
	}
	return history[start:]
}

// Resume rebuilds a model-ready history from a stored thread: it keeps
// only user and assistant text messages, the last window of them, and
// drops leading assistant messages.
func Resume(stored []Message, window int) []Message {
	if window <= 0 {
		window = MaxMemoryWindow
	}
	kept := make([]Message, 0, len(stored))
	for _, m := range stored {
		if m.Role == RoleUser || (m.Role == RoleAssistant && len(m.ToolCalls) == 0) {
			kept = append(kept, m)
		}
	}
	kept = TrimWindow(kept, window)
	for len(kept) > 0 && kept[0].Role != RoleUser {
		kept = kept[1:]
	}
	return kept
}
