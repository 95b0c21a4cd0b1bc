package streamadapter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(content string, done bool) string {
	if !done {
		return `{"message":{"content":"` + content + `"},"done":false}`
	}
	return `{"message":{"content":"` + content + `"},"done":true,"done_reason":"stop","eval_count":5,"prompt_eval_count":3}`
}

func TestLocalThinkAdapter_PlainTextNoTags(t *testing.T) {
	a := NewLocalThinkAdapter()

	evs, err := a.Adapt(line("hello world", false))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, TextDelta, evs[0].Type)
	assert.Equal(t, "hello world", evs[0].Content)
}

func TestLocalThinkAdapter_TagWithinOneChunk(t *testing.T) {
	a := NewLocalThinkAdapter()

	var allText, allThinking strings.Builder
	collect := func(evs []Event) {
		for _, ev := range evs {
			switch ev.Type {
			case TextDelta:
				allText.WriteString(ev.Content)
			case ThinkingDelta:
				allThinking.WriteString(ev.Content)
			}
		}
	}

	evs, err := a.Adapt(line("before<think>reasoning here</think>after", false))
	require.NoError(t, err)
	collect(evs)

	evs, err = a.Adapt(line("", true))
	require.NoError(t, err)
	collect(evs)

	assert.Equal(t, "beforeafter", allText.String())
	assert.Equal(t, "reasoning here", allThinking.String())
}

func TestLocalThinkAdapter_TagSplitAcrossChunks(t *testing.T) {
	a := NewLocalThinkAdapter()

	var allText, allThinking strings.Builder
	chunks := []string{"plain text <thi", "nk>secret", " reasoning</th", "ink> rest"}
	for _, c := range chunks {
		evs, err := a.Adapt(line(c, false))
		require.NoError(t, err)
		for _, ev := range evs {
			switch ev.Type {
			case TextDelta:
				allText.WriteString(ev.Content)
			case ThinkingDelta:
				allThinking.WriteString(ev.Content)
			}
		}
	}

	finalEvs, err := a.Adapt(line("", true))
	require.NoError(t, err)
	for _, ev := range finalEvs {
		if ev.Type == TextDelta {
			allText.WriteString(ev.Content)
		}
	}

	assert.Equal(t, "plain text  rest", allText.String())
	assert.Equal(t, "secret reasoning", allThinking.String())
}

func TestLocalThinkAdapter_DoneEmitsUsageAndComplete(t *testing.T) {
	a := NewLocalThinkAdapter()
	evs, err := a.Adapt(line("done", true))
	require.NoError(t, err)

	var sawUsage, sawComplete bool
	for _, ev := range evs {
		if ev.Type == Usage {
			sawUsage = true
			assert.Equal(t, 3, ev.InputTokens)
			assert.Equal(t, 5, ev.OutputTokens)
		}
		if ev.Type == Complete {
			sawComplete = true
			assert.Equal(t, "stop", ev.StopReason)
		}
	}
	assert.True(t, sawUsage)
	assert.True(t, sawComplete)
}

func TestLocalThinkAdapter_UnterminatedThinkingFlushedOnDone(t *testing.T) {
	a := NewLocalThinkAdapter()

	_, err := a.Adapt(line("intro<think>stuck reasoning", false))
	require.NoError(t, err)

	evs, err := a.Adapt(line("", true))
	require.NoError(t, err)

	var sawThinkingEnd bool
	for _, ev := range evs {
		if ev.Type == ThinkingEnd {
			sawThinkingEnd = true
		}
	}
	assert.True(t, sawThinkingEnd)
}
