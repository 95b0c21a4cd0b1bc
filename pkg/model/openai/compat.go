// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/loopwright/agentcore/pkg/model"
	"github.com/loopwright/agentcore/pkg/streamadapter"
	"github.com/loopwright/agentcore/pkg/tool"
)

// chat/completions request/response shapes, shared by OpenAI-compatible
// gateways (DashScope/Qwen, self-hosted vLLM/llama.cpp-server, etc). This is
// the wire format streamadapter.OpenAICompatAdapter targets; it is distinct
// from this package's own Responses API types in openai.go.

type compatRequest struct {
	Model       string         `json:"model"`
	Messages    []compatMsg    `json:"messages"`
	Stream      bool           `json:"stream,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Tools       []compatTool   `json:"tools,omitempty"`
	ToolChoice  string         `json:"tool_choice,omitempty"`
	StreamOpts  map[string]any `json:"stream_options,omitempty"`
}

type compatMsg struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []compatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type compatToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function compatFuncCall  `json:"function"`
	Index    *int            `json:"index,omitempty"`
}

type compatFuncCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type compatTool struct {
	Type     string      `json:"type"`
	Function compatToolD `json:"function"`
}

type compatToolD struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type compatResponse struct {
	Choices []compatChoice `json:"choices"`
	Usage   *compatUsage   `json:"usage"`
}

type compatChoice struct {
	Message      compatRespMsg `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type compatRespMsg struct {
	Role             string           `json:"role"`
	Content          string           `json:"content"`
	ReasoningContent string           `json:"reasoning_content"`
	ToolCalls        []compatToolCall `json:"tool_calls"`
}

type compatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (c *Client) chatCompletionsURL() string {
	return strings.TrimSuffix(c.baseURL, "/") + "/chat/completions"
}

// buildCompatRequest converts a model.Request into the chat/completions shape.
func (c *Client) buildCompatRequest(req *model.Request, stream bool) *compatRequest {
	out := &compatRequest{
		Model:  c.modelName,
		Stream: stream,
	}
	if c.maxTokens > 0 {
		out.MaxTokens = c.maxTokens
	}
	if c.temperature != nil {
		out.Temperature = c.temperature
	}
	if stream {
		out.StreamOpts = map[string]any{"include_usage": true}
	}

	if req.SystemInstruction != "" {
		out.Messages = append(out.Messages, compatMsg{Role: "system", Content: req.SystemInstruction})
	}
	out.Messages = append(out.Messages, convertMessagesCompat(req.Messages)...)

	if len(req.Tools) > 0 {
		out.Tools = make([]compatTool, len(req.Tools))
		for i, t := range req.Tools {
			out.Tools[i] = compatTool{
				Type: "function",
				Function: compatToolD{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		}
		out.ToolChoice = "auto"
	}

	return out
}

// convertMessagesCompat converts a2a messages to chat/completions messages:
// tool results become role="tool" messages keyed by tool_call_id, assistant
// tool-use becomes an assistant message carrying tool_calls.
func convertMessagesCompat(messages []*a2a.Message) []compatMsg {
	var out []compatMsg

	for _, msg := range messages {
		if msg == nil {
			continue
		}

		var toolResults []tool.ToolResult
		var toolCalls []tool.ToolCall
		var text strings.Builder

		for _, part := range msg.Parts {
			switch p := part.(type) {
			case a2a.TextPart:
				text.WriteString(p.Text)
			case a2a.DataPart:
				switch p.Data["type"] {
				case "tool_result":
					toolResults = append(toolResults, tool.ToolResult{
						ToolCallID: getString(p.Data, "tool_call_id"),
						Content:    getString(p.Data, "content"),
					})
				case "tool_use":
					tc := tool.ToolCall{ID: getString(p.Data, "id")}
					if name, ok := p.Data["name"].(string); ok {
						tc.Name = name
					}
					if args, ok := p.Data["arguments"].(map[string]any); ok {
						tc.Args = args
					}
					toolCalls = append(toolCalls, tc)
				}
			}
		}

		if len(toolResults) > 0 {
			for _, tr := range toolResults {
				out = append(out, compatMsg{Role: "tool", Content: tr.Content, ToolCallID: tr.ToolCallID})
			}
			continue
		}

		role := "user"
		if msg.Role == a2a.MessageRoleAgent {
			role = "assistant"
		}

		if role == "assistant" && len(toolCalls) > 0 {
			m := compatMsg{Role: role, Content: text.String()}
			for _, tc := range toolCalls {
				argsJSON, _ := json.Marshal(tc.Args)
				m.ToolCalls = append(m.ToolCalls, compatToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: compatFuncCall{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			out = append(out, m)
			continue
		}

		if text.Len() > 0 {
			out = append(out, compatMsg{Role: role, Content: text.String()})
		}
	}

	return out
}

// generateCompat performs a non-streaming chat/completions call.
func (c *Client) generateCompat(ctx context.Context, req *model.Request) (*model.Response, error) {
	apiReq := c.buildCompatRequest(req, false)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.chatCompletionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp compatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return c.parseCompatResponse(&apiResp)
}

func (c *Client) parseCompatResponse(resp *compatResponse) (*model.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	choice := resp.Choices[0]

	result := &model.Response{
		Partial:      false,
		TurnComplete: true,
		FinishReason: compatFinishReason(choice.FinishReason),
	}
	if resp.Usage != nil {
		result.Usage = &model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	if choice.Message.ReasoningContent != "" {
		result.Thinking = &model.ThinkingBlock{Content: choice.Message.ReasoningContent}
	}

	var parts []a2a.Part
	if choice.Message.Content != "" {
		parts = append(parts, a2a.TextPart{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
		} else {
			args = map[string]any{}
		}
		result.ToolCalls = append(result.ToolCalls, tool.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
		parts = append(parts, a2a.DataPart{Data: map[string]any{
			"type": "tool_use", "id": tc.ID, "name": tc.Function.Name, "arguments": args,
		}})
	}
	if len(parts) > 0 {
		result.Content = &model.Content{Parts: parts, Role: a2a.MessageRoleAgent}
	}

	return result, nil
}

func compatFinishReason(reason string) model.FinishReason {
	switch reason {
	case "tool_calls":
		return model.FinishReasonToolCalls
	case "length":
		return model.FinishReasonLength
	case "content_filter":
		return model.FinishReasonContent
	case "":
		return model.FinishReasonStop
	default:
		return model.FinishReasonStop
	}
}

// generateStreamCompat streams a chat/completions SSE response through
// streamadapter.OpenAICompatAdapter, translating unified events into
// model.Response partials via the StreamingAggregator.
func (c *Client) generateStreamCompat(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		apiReq := c.buildCompatRequest(req, true)

		body, err := json.Marshal(apiReq)
		if err != nil {
			yield(nil, fmt.Errorf("failed to marshal request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.chatCompletionsURL(), bytes.NewReader(body))
		if err != nil {
			yield(nil, fmt.Errorf("failed to create request: %w", err))
			return
		}
		c.setHeaders(httpReq)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			yield(nil, fmt.Errorf("request failed: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			yield(nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes)))
			return
		}

		adapter := streamadapter.NewOpenAICompatAdapter(c.modelName)
		agg := model.NewStreamingAggregator()
		reader := bufio.NewReader(resp.Body)

		for {
			line, err := reader.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				if !c.forwardCompatLine(string(line), adapter, agg, yield) {
					return
				}
			}
			if err != nil {
				if err == io.EOF {
					break
				}
				yield(nil, fmt.Errorf("stream read error: %w", err))
				return
			}
		}

		if final := agg.Close(); final != nil {
			yield(final, nil)
		}
	}
}

// forwardCompatLine feeds one SSE line through the adapter and translates
// its unified events into aggregator-driven Response partials. Returns
// false if the caller should stop (yield returned false).
func (c *Client) forwardCompatLine(
	line string,
	adapter *streamadapter.OpenAICompatAdapter,
	agg *model.StreamingAggregator,
	yield func(*model.Response, error) bool,
) bool {
	events, err := adapter.Adapt(line)
	if err != nil {
		return yield(nil, fmt.Errorf("adapter error: %w", err))
	}

	for _, ev := range events {
		switch ev.Type {
		case streamadapter.TextDelta:
			for resp, err := range agg.ProcessTextDelta(ev.Content) {
				if !yield(resp, err) {
					return false
				}
			}
		case streamadapter.ThinkingDelta:
			for resp, err := range agg.ProcessThinkingDelta(ev.Content) {
				if !yield(resp, err) {
					return false
				}
			}
		case streamadapter.ThinkingEnd:
			agg.ProcessThinkingComplete(agg.ThinkingText(), "")
		case streamadapter.ToolComplete:
			var args map[string]any
			if ev.ToolArguments != "" {
				if err := json.Unmarshal([]byte(ev.ToolArguments), &args); err != nil {
					args = map[string]any{}
				}
			} else {
				args = map[string]any{}
			}
			tc := tool.ToolCall{ID: ev.ToolID, Name: ev.ToolName, Args: args}
			for resp, err := range agg.ProcessToolCall(tc) {
				if !yield(resp, err) {
					return false
				}
			}
		case streamadapter.Usage:
			agg.SetUsage(&model.Usage{
				PromptTokens:     ev.InputTokens,
				CompletionTokens: ev.OutputTokens,
				TotalTokens:      ev.InputTokens + ev.OutputTokens,
			})
		case streamadapter.Complete:
			agg.SetFinishReason(compatFinishReason(ev.StopReason))
		case streamadapter.Error:
			return yield(nil, fmt.Errorf("stream error: %s", ev.Message))
		}
	}

	return true
}
