package streamadapter

import (
	"encoding/json"
	"strings"
)

// OpenAICompatAdapter adapts OpenAI-compatible chat/completions SSE streams
// (OpenAI, DashScope/Qwen, and other providers that mirror the same delta
// shape) into unified events.
//
// The incremental tool-call assembly rules below are load-bearing and must
// not be "simplified": a tool call is identified by its delta.tool_calls[i].id
// arriving exactly once, at the first delta for that call. Every subsequent
// delta for the same call carries either an empty id or (for some providers)
// repeats the same non-empty id — both must be treated as a continuation of
// the pending call, never as the start of a new one. A tool name that never
// arrives non-empty before the call is flushed must not produce a
// ToolComplete event at all.
type OpenAICompatAdapter struct {
	model string

	inReasoning bool

	toolID   string
	hasTool  bool
	toolName string
	hasName  bool
	toolArgs strings.Builder
}

// NewOpenAICompatAdapter constructs an adapter for the given model name.
// The model name only affects whether reasoning_content deltas are expected;
// emission is unconditional on whatever the provider actually sends.
func NewOpenAICompatAdapter(model string) *OpenAICompatAdapter {
	return &OpenAICompatAdapter{model: model}
}

func (a *OpenAICompatAdapter) Reset() {
	a.inReasoning = false
	a.toolID = ""
	a.hasTool = false
	a.toolName = ""
	a.hasName = false
	a.toolArgs.Reset()
}

type openaiChunk struct {
	Choices []openaiChoice `json:"choices"`
	Usage   *openaiUsage   `json:"usage"`
}

type openaiChoice struct {
	Delta        *openaiDelta `json:"delta"`
	FinishReason *string      `json:"finish_reason"`
}

type openaiDelta struct {
	Content          *string          `json:"content"`
	ReasoningContent *string          `json:"reasoning_content"`
	ToolCalls        []openaiToolCall `json:"tool_calls"`
}

type openaiToolCall struct {
	Index    int                 `json:"index"`
	ID       *string             `json:"id"`
	Type     *string             `json:"type"`
	Function *openaiFunctionCall `json:"function"`
}

type openaiFunctionCall struct {
	Name      *string `json:"name"`
	Arguments *string `json:"arguments"`
}

type openaiUsage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	ReasoningTokens  *int `json:"reasoning_tokens"`
}

func (a *OpenAICompatAdapter) Adapt(raw string) ([]Event, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "data:"))
	raw = strings.TrimSpace(raw)

	if raw == "" || raw == "[DONE]" {
		var events []Event
		events = append(events, a.flushPendingTool()...)
		if a.inReasoning {
			events = append(events, Event{Type: ThinkingEnd})
			a.inReasoning = false
		}
		return events, nil
	}

	var chunk openaiChunk
	if err := json.Unmarshal([]byte(raw), &chunk); err != nil {
		return nil, err
	}

	var events []Event

	if chunk.Usage != nil {
		ev := Event{
			Type:         Usage,
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		}
		if chunk.Usage.ReasoningTokens != nil {
			ev.ThinkingTokens = *chunk.Usage.ReasoningTokens
		}
		events = append(events, ev)
	}

	for _, choice := range chunk.Choices {
		if choice.FinishReason != nil {
			events = append(events, a.flushPendingTool()...)
			if a.inReasoning {
				events = append(events, Event{Type: ThinkingEnd})
				a.inReasoning = false
			}
			events = append(events, Event{Type: Complete, StopReason: *choice.FinishReason})
			continue
		}

		if choice.Delta == nil {
			continue
		}

		if choice.Delta.ReasoningContent != nil && *choice.Delta.ReasoningContent != "" {
			if !a.inReasoning {
				events = append(events, Event{Type: ThinkingStart})
				a.inReasoning = true
			}
			events = append(events, Event{Type: ThinkingDelta, Content: *choice.Delta.ReasoningContent})
		}

		if choice.Delta.Content != nil && *choice.Delta.Content != "" {
			if a.inReasoning {
				events = append(events, Event{Type: ThinkingEnd})
				a.inReasoning = false
			}
			events = append(events, Event{Type: TextDelta, Content: *choice.Delta.Content})
		}

		for _, tc := range choice.Delta.ToolCalls {
			events = append(events, a.consumeToolCallDelta(tc)...)
		}
	}

	return events, nil
}

// consumeToolCallDelta implements the continuation rule: a new id (non-nil,
// non-empty, and different from the currently pending id) starts a new tool
// call and flushes any previous one. An empty id, or a repeated non-empty id
// matching the pending call, is always a continuation — never a new start.
func (a *OpenAICompatAdapter) consumeToolCallDelta(tc openaiToolCall) []Event {
	var events []Event

	isNewCall := tc.ID != nil && *tc.ID != "" && (!a.hasTool || *tc.ID != a.toolID)

	if isNewCall {
		events = append(events, a.flushPendingTool()...)

		a.toolID = *tc.ID
		a.hasTool = true
		a.toolArgs.Reset()
		a.toolName = ""
		a.hasName = false

		if tc.Function != nil && tc.Function.Name != nil && *tc.Function.Name != "" {
			a.toolName = *tc.Function.Name
			a.hasName = true
			events = append(events, Event{Type: ToolStart, ToolID: a.toolID, ToolName: a.toolName})
		}
	}

	if tc.Function != nil {
		if !a.hasName && tc.Function.Name != nil && *tc.Function.Name != "" {
			a.toolName = *tc.Function.Name
			a.hasName = true
		}
		if tc.Function.Arguments != nil {
			a.toolArgs.WriteString(*tc.Function.Arguments)
		}
	}

	return events
}

// flushPendingTool emits a ToolComplete only if both an id and a name were
// ever acquired for the pending call. A tool call whose name never arrived
// (e.g. a provider glitch, or a call aborted before the name streamed) is
// silently dropped rather than surfaced with an empty name.
func (a *OpenAICompatAdapter) flushPendingTool() []Event {
	if !a.hasTool {
		return nil
	}
	defer func() {
		a.hasTool = false
		a.toolID = ""
		a.toolName = ""
		a.hasName = false
		a.toolArgs.Reset()
	}()

	if !a.hasName {
		return nil
	}

	return []Event{{
		Type:          ToolComplete,
		ToolID:        a.toolID,
		ToolName:      a.toolName,
		ToolArguments: a.toolArgs.String(),
	}}
}
