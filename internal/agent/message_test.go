package agent

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conversation(roles string) []Message {
	out := make([]Message, 0, len(roles))
	counts := map[rune]int{}
	for _, r := range roles {
		counts[r]++
		switch r {
		case 'U':
			out = append(out, UserMessage(fmt.Sprintf("U%d", counts[r])))
		case 'A':
			out = append(out, AssistantMessage(fmt.Sprintf("A%d", counts[r])))
		case 'T':
			out = append(out, Message{Role: RoleTool, Content: fmt.Sprintf("T%d", counts[r])})
		}
	}
	return out
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestTrimWindowConcreteCase(t *testing.T) {
	history := conversation("UAUAUAUAUAU")
	require.Len(t, history, 11)

	got := TrimWindow(history, 10)
	assert.Equal(t, []string{"U2", "A2", "U3", "A3", "U4", "A4", "U5", "A5", "U6"}, contents(got))
}

func TestTrimWindow(t *testing.T) {
	tests := []struct {
		name   string
		roles  string
		window int
		want   []string
	}{
		{name: "empty", roles: "", window: 10, want: []string{}},
		{name: "within window untouched", roles: "AUA", window: 3, want: []string{"A1", "U1", "A2"}},
		{name: "exact cut on user", roles: "UAUA", window: 2, want: []string{"U2", "A2"}},
		{name: "skips tool messages", roles: "UATTAUA", window: 5, want: []string{"U2", "A3"}},
		{name: "no user left", roles: "UAAA", window: 2, want: []string{}},
		{name: "default window", roles: "UAUAUAUAUAUA", window: 0, want: []string{"U2", "A2", "U3", "A3", "U4", "A4", "U5", "A5", "U6", "A6"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, contents(TrimWindow(conversation(tt.roles), tt.window)))
		})
	}
}

func TestTrimWindowInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	roles := []rune{'U', 'A', 'T'}
	for range 2000 {
		n := rng.Intn(30)
		seq := make([]rune, n)
		for i := range seq {
			seq[i] = roles[rng.Intn(len(roles))]
		}
		window := 1 + rng.Intn(12)
		history := conversation(string(seq))

		got := TrimWindow(history, window)
		if len(history) > window {
			require.LessOrEqual(t, len(got), window, "roles=%s window=%d", string(seq), window)
			if len(got) > 0 {
				require.Equal(t, RoleUser, got[0].Role, "roles=%s window=%d", string(seq), window)
			}
		} else {
			require.Equal(t, history, got)
		}
		// The result is always a suffix of the history.
		require.Equal(t, history[len(history)-len(got):], got)
	}
}

func TestResume(t *testing.T) {
	stored := conversation("UAUAUAUAUAUA")
	got := Resume(stored, 5)
	assert.Equal(t, []string{"U5", "A5", "U6", "A6"}, contents(got))

	withTools := []Message{
		UserMessage("q"),
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "retrieve_context"}}},
		{Role: RoleTool, Content: "passages", ToolCallID: "1"},
		AssistantMessage("answer"),
	}
	assert.Equal(t, []string{"q", "answer"}, contents(Resume(withTools, 10)))
	assert.Empty(t, Resume([]Message{AssistantMessage("hi")}, 10))
}
