package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// DefaultMaxToolRounds bounds the tool invocations of one turn.
const DefaultMaxToolRounds = 5

// DefaultSystemPrompt instructs the model to ground answers in the knowledge base.
const DefaultSystemPrompt = `You are a helpful assistant answering questions about the documents in a knowledge base.
Use the retrieve_context tool to look up information before answering.
Base your answers on the retrieved content and cite the source URL when you use it.
If the knowledge base is empty or holds nothing relevant, say so instead of guessing.`

// Node tells which part of the loop produced an event.
type Node string

const (
	NodeModel Node = "model"
	NodeTool  Node = "tools"
)

// Event is one item of a streamed response. Model events carry answer
// tokens; tool events carry a truncated preview of a tool's output. The
// last event has Done set, and Err when the turn failed.
type Event struct {
	Node Node
	Tool string
	Text string
	Err  error
	Done bool
}

// Options tune an Agent.
type Options struct {
	SystemPrompt  string
	Window        int // Defaults to MaxMemoryWindow
	MaxToolRounds int // Defaults to DefaultMaxToolRounds
	Temperature   *float64
	Logger        *slog.Logger
}

// Agent answers user messages with a model that may call tools.
type Agent struct {
	model     Model
	memory    Memory
	tools     map[string]Tool
	specs     []ToolSpec
	system    string
	window    int
	maxRounds int
	temp      *float64
	logger    *slog.Logger
}

// New creates an agent.
func New(model Model, memory Memory, tools []Tool, opts Options) *Agent {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.Window <= 0 {
		opts.Window = MaxMemoryWindow
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if memory == nil {
		memory = NewInMemory()
	}
	a := &Agent{
		model:     model,
		memory:    memory,
		tools:     make(map[string]Tool, len(tools)),
		system:    opts.SystemPrompt,
		window:    opts.Window,
		maxRounds: opts.MaxToolRounds,
		temp:      opts.Temperature,
		logger:    opts.Logger,
	}
	for _, t := range tools {
		a.tools[t.Name] = t
		a.specs = append(a.specs, t.Spec())
	}
	return a
}

type state int

const (
	stateAwaitingModel state = iota
	stateInToolCall
	stateCommitting
	stateDone
)

// turn is the mutable state of one Respond call.
type turn struct {
	threadID     string
	user         Message
	conversation []Message
	pending      []ToolCall
	final        Message
	rounds       int
	events       chan<- Event
}

// Respond answers userText within thread threadID. The returned channel
// streams events and is closed when the turn ends; callers must drain it
// until it closes, since a failed or cancelled turn always delivers a final
// event carrying Err. Stored history is trimmed to the memory window before
// the user message is added, so every model request carries the question.
// The user message and the final answer are committed to memory only when
// the turn completes; a cancelled turn commits nothing.
func (a *Agent) Respond(ctx context.Context, threadID, userText string) (<-chan Event, error) {
	history, err := a.memory.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	// A capped store may have cut the thread mid-exchange.
	history = Resume(history, a.window)

	events := make(chan Event, 16)
	t := &turn{
		threadID:     threadID,
		user:         UserMessage(userText),
		conversation: append(history, UserMessage(userText)),
		events:       events,
	}
	go a.run(ctx, t)
	return events, nil
}

func (a *Agent) run(ctx context.Context, t *turn) {
	defer close(t.events)

	st := stateAwaitingModel
	for st != stateDone {
		var err error
		if err = ctx.Err(); err == nil {
			switch st {
			case stateAwaitingModel:
				st, err = a.callModel(ctx, t)
			case stateInToolCall:
				st, err = a.callTools(ctx, t)
			case stateCommitting:
				st, err = a.commit(ctx, t)
			}
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			a.logger.Info("Turn cancelled", "thread_id", t.threadID)
			t.events <- Event{Err: ctx.Err(), Done: true}
			return
		}
		a.logger.Error("Turn failed", "thread_id", t.threadID, "error", err)
		t.events <- Event{Err: err, Done: true}
		return
	}
}

func (a *Agent) callModel(ctx context.Context, t *turn) (state, error) {
	req := Request{
		System:      a.system,
		Messages:    t.conversation,
		Temperature: a.temp,
	}
	// Past the round limit the model must answer without tools.
	if t.rounds < a.maxRounds {
		req.Tools = a.specs
	}

	reply, err := a.model.Stream(ctx, req, func(delta string) error {
		return a.emit(ctx, t, Event{Node: NodeModel, Text: delta})
	})
	if err != nil {
		return stateDone, fmt.Errorf("model: %w", err)
	}

	msg := reply.Message()
	t.conversation = append(t.conversation, msg)
	if len(msg.ToolCalls) > 0 && req.Tools != nil {
		t.pending = msg.ToolCalls
		t.rounds++
		return stateInToolCall, nil
	}
	t.final = AssistantMessage(msg.Content)
	return stateCommitting, nil
}

func (a *Agent) callTools(ctx context.Context, t *turn) (state, error) {
	for _, call := range t.pending {
		output := a.invoke(ctx, call)
		if err := ctx.Err(); err != nil {
			return stateDone, err
		}
		if err := a.emit(ctx, t, Event{Node: NodeTool, Tool: call.Name, Text: Preview(output)}); err != nil {
			return stateDone, err
		}
		t.conversation = append(t.conversation, Message{Role: RoleTool, Content: output, ToolCallID: call.ID})
	}
	t.pending = nil
	return stateAwaitingModel, nil
}

// invoke runs one tool call. Failures become the tool output so the model can react.
func (a *Agent) invoke(ctx context.Context, call ToolCall) string {
	tool, ok := a.tools[call.Name]
	if !ok {
		a.logger.Warn("Model called unknown tool", "tool", call.Name)
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}
	args := json.RawMessage(call.Arguments)
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	out, err := tool.Call(ctx, args)
	if err != nil {
		a.logger.Warn("Tool call failed", "tool", call.Name, "error", err)
		return "error: " + err.Error()
	}
	a.logger.Debug("Tool call finished", "tool", call.Name, "bytes", len(out))
	return out
}

func (a *Agent) commit(ctx context.Context, t *turn) (state, error) {
	if err := a.memory.Append(ctx, t.threadID, t.user, t.final); err != nil {
		return stateDone, fmt.Errorf("commit history: %w", err)
	}
	if err := a.emit(ctx, t, Event{Done: true}); err != nil {
		return stateDone, err
	}
	return stateDone, nil
}

// emit delivers ev unless ctx is done first.
func (a *Agent) emit(ctx context.Context, t *turn, ev Event) error {
	select {
	case t.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
