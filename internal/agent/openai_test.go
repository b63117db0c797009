package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseChunk(delta map[string]any, finish any) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   "gpt-4o",
		"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finish}},
	})
	return fmt.Sprintf("data: %s\n\n", b)
}

func fakeChatServer(t *testing.T, chunks []string, gotBody *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, gotBody))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			_, _ = io.WriteString(w, c)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
}

func newTestModel(url string) *OpenAIModel {
	client := openai.NewClient(option.WithAPIKey("test"), option.WithBaseURL(url+"/"), option.WithMaxRetries(0))
	return NewOpenAIModel(&client, "")
}

func TestOpenAIModelStreamsText(t *testing.T) {
	var body map[string]any
	srv := fakeChatServer(t, []string{
		sseChunk(map[string]any{"role": "assistant", "content": "Hel"}, nil),
		sseChunk(map[string]any{"content": "lo"}, nil),
		sseChunk(map[string]any{}, "stop"),
	}, &body)
	defer srv.Close()

	var deltas []string
	temp := 0.5
	reply, err := newTestModel(srv.URL).Stream(context.Background(), Request{
		System:      "be brief",
		Messages:    []Message{UserMessage("hi")},
		Temperature: &temp,
	}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", reply.Content)
	assert.Empty(t, reply.ToolCalls)

	assert.Equal(t, DefaultModel, body["model"])
	assert.Equal(t, true, body["stream"])
	assert.InDelta(t, 0.5, body["temperature"], 1e-9)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
}

func TestOpenAIModelAccumulatesToolCalls(t *testing.T) {
	var body map[string]any
	srv := fakeChatServer(t, []string{
		sseChunk(map[string]any{"role": "assistant", "tool_calls": []map[string]any{{
			"index": 0, "id": "call_1", "type": "function",
			"function": map[string]any{"name": "retrieve_context", "arguments": `{"query":`},
		}}}, nil),
		sseChunk(map[string]any{"tool_calls": []map[string]any{{
			"index": 0, "function": map[string]any{"arguments": `"walrus"}`},
		}}}, nil),
		sseChunk(map[string]any{}, "tool_calls"),
	}, &body)
	defer srv.Close()

	tool := RetrieverTool(&staticRetriever{})
	history := []Message{
		UserMessage("earlier"),
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_0", Name: "retrieve_context", Arguments: `{"query":"x"}`}}},
		{Role: RoleTool, Content: "passages", ToolCallID: "call_0"},
		AssistantMessage("answer"),
		UserMessage("walrus?"),
	}
	reply, err := newTestModel(srv.URL).Stream(context.Background(), Request{
		Messages: history,
		Tools:    []ToolSpec{tool.Spec()},
	}, func(string) error { return nil })
	require.NoError(t, err)

	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, ToolCall{ID: "call_1", Name: "retrieve_context", Arguments: `{"query":"walrus"}`}, reply.ToolCalls[0])

	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "retrieve_context", fn["name"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 5)
	assert.Equal(t, "tool", msgs[2].(map[string]any)["role"])
	assert.Equal(t, "call_0", msgs[2].(map[string]any)["tool_call_id"])
	assert.NotEmpty(t, msgs[1].(map[string]any)["tool_calls"])
}
