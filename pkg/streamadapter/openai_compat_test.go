package streamadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(id, name, args string) string {
	out := `{"choices":[{"delta":{"tool_calls":[{"index":0`
	if id != "" || name != "" || args != "" {
		out += `,"id":"` + id + `"`
	}
	out += `,"function":{`
	first := true
	if name != "" {
		out += `"name":"` + name + `"`
		first = false
	}
	if args != "" {
		if !first {
			out += ","
		}
		out += `"arguments":"` + args + `"`
	}
	out += `}}]}}]}`
	return out
}

func TestOpenAICompatAdapter_EmptyIDContinuation(t *testing.T) {
	a := NewOpenAICompatAdapter("qwen-plus")

	evs, err := a.Adapt(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"read_file"}}]}}]}`)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, ToolStart, evs[0].Type)
	assert.Equal(t, "read_file", evs[0].ToolName)

	evs, err = a.Adapt(chunk("", "", `{"file_`))
	require.NoError(t, err)
	assert.Empty(t, evs)

	evs, err = a.Adapt(chunk("", "", `path": "src/main.rs"}`))
	require.NoError(t, err)
	assert.Empty(t, evs)

	evs, err = a.Adapt(`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, ToolComplete, evs[0].Type)
	assert.Equal(t, `{"file_path": "src/main.rs"}`, evs[0].ToolArguments)
	assert.Equal(t, Complete, evs[1].Type)
}

func TestOpenAICompatAdapter_SameIDContinuation(t *testing.T) {
	a := NewOpenAICompatAdapter("qwen3-omni-flash")

	_, err := a.Adapt(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_x","function":{"name":"search","arguments":"{q: "}}]}}}]}`)
	require.NoError(t, err)

	evs, err := a.Adapt(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_x","function":{"arguments":"go}"}}]}}]}`)
	require.NoError(t, err)
	assert.Empty(t, evs, "repeated non-empty id must not flush or restart")

	evs, err = a.Adapt(`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, ToolComplete, evs[0].Type)
	assert.Equal(t, `{q: go}`, evs[0].ToolArguments)
}

func TestOpenAICompatAdapter_EmptyNameNeverAcquired(t *testing.T) {
	a := NewOpenAICompatAdapter("gpt-4o")

	_, err := a.Adapt(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"arguments":"{}"}}]}}]}`)
	require.NoError(t, err)

	evs, err := a.Adapt(`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`)
	require.NoError(t, err)
	require.Len(t, evs, 1, "no ToolComplete should ever be emitted when a name is never acquired")
	assert.Equal(t, Complete, evs[0].Type)
}

func TestOpenAICompatAdapter_DifferentIDFlushesPrevious(t *testing.T) {
	a := NewOpenAICompatAdapter("gpt-4o")

	_, err := a.Adapt(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"foo","arguments":"{}"}}]}}]}`)
	require.NoError(t, err)

	evs, err := a.Adapt(`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_2","function":{"name":"bar","arguments":"{}"}}]}}]}`)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, ToolComplete, evs[0].Type)
	assert.Equal(t, "call_1", evs[0].ToolID)
	assert.Equal(t, ToolStart, evs[1].Type)
	assert.Equal(t, "call_2", evs[1].ToolID)
}

func TestOpenAICompatAdapter_ReasoningThenText(t *testing.T) {
	a := NewOpenAICompatAdapter("qwen3-thinking")

	evs, err := a.Adapt(`{"choices":[{"delta":{"reasoning_content":"let me think"}}]}`)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, ThinkingStart, evs[0].Type)
	assert.Equal(t, ThinkingDelta, evs[1].Type)

	evs, err = a.Adapt(`{"choices":[{"delta":{"content":"answer"}}]}`)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, ThinkingEnd, evs[0].Type)
	assert.Equal(t, TextDelta, evs[1].Type)
}

func TestOpenAICompatAdapter_DoneSentinel(t *testing.T) {
	a := NewOpenAICompatAdapter("gpt-4o")
	_, err := a.Adapt(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"foo","arguments":"{}"}}]}}]}`)
	require.NoError(t, err)

	evs, err := a.Adapt("data: [DONE]")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, ToolComplete, evs[0].Type)
}

func TestOpenAICompatAdapter_Reset(t *testing.T) {
	a := NewOpenAICompatAdapter("gpt-4o")
	_, err := a.Adapt(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"foo","arguments":"{}"}}]}}]}`)
	require.NoError(t, err)

	a.Reset()

	evs, err := a.Adapt(`{"choices":[{"delta":{},"finish_reason":"stop"}]}`)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, Complete, evs[0].Type)
}
