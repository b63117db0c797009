package agent

import "context"

// ToolSpec describes a tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema of the arguments object
}

// Request is one model invocation.
type Request struct {
	System      string
	Messages    []Message
	Tools       []ToolSpec
	Temperature *float64
}

// Reply is the complete model output of one invocation.
type Reply struct {
	Content   string
	ToolCalls []ToolCall
}

// Message returns the reply as an assistant message.
func (r Reply) Message() Message {
	return Message{Role: RoleAssistant, Content: r.Content, ToolCalls: r.ToolCalls}
}

// Model is a streaming chat model.
type Model interface {
	// Stream calls onDelta for each text fragment as it is produced and
	// returns the assembled reply. An error from onDelta aborts the stream.
	Stream(ctx context.Context, req Request, onDelta func(delta string) error) (Reply, error)
}
