// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"

	"github.com/loopwright/agentcore/pkg/agent"
	"github.com/loopwright/agentcore/pkg/agent/llmagent"
	"github.com/loopwright/agentcore/pkg/config"
	"github.com/loopwright/agentcore/pkg/memory"
	"github.com/loopwright/agentcore/pkg/model"
	"github.com/loopwright/agentcore/pkg/model/anthropic"
	"github.com/loopwright/agentcore/pkg/model/gemini"
	"github.com/loopwright/agentcore/pkg/model/ollama"
	"github.com/loopwright/agentcore/pkg/model/openai"
	"github.com/loopwright/agentcore/pkg/tool"
	"github.com/loopwright/agentcore/pkg/tool/filetool"
	"github.com/loopwright/agentcore/pkg/tool/mcptoolset"
	"github.com/loopwright/agentcore/pkg/tool/todotool"
	"github.com/loopwright/agentcore/pkg/tool/webtool"
)

// sharedTodoManager backs every todo_write tool instance built in this
// process, so an agent's todos persist across turns within the same run
// even though each call builds a fresh tool slice.
var sharedTodoManager = todotool.NewTodoManager()

// buildModel constructs a model.LLM from an LLM config entry, dispatching
// on Provider the same way hector's config-first design expects agents to
// reference llms by name.
func buildModel(llmCfg *config.LLMConfig) (model.LLM, error) {
	if llmCfg == nil {
		return nil, fmt.Errorf("llm config is required")
	}

	switch llmCfg.Provider {
	case config.LLMProviderAnthropic:
		thinking := llmCfg.Thinking
		client, err := anthropic.New(anthropic.Config{
			APIKey:         llmCfg.APIKey,
			Model:          llmCfg.Model,
			MaxTokens:      llmCfg.MaxTokens,
			Temperature:    llmCfg.Temperature,
			BaseURL:        llmCfg.BaseURL,
			EnableThinking: thinking != nil && config.BoolValue(thinking.Enabled, false),
			ThinkingBudget: thinkingBudget(thinking),
		})
		if err != nil {
			return nil, fmt.Errorf("build anthropic model: %w", err)
		}
		return client, nil

	case config.LLMProviderOpenAI:
		thinking := llmCfg.Thinking
		client, err := openai.New(openai.Config{
			APIKey:          llmCfg.APIKey,
			Model:           llmCfg.Model,
			MaxTokens:       llmCfg.MaxTokens,
			Temperature:     llmCfg.Temperature,
			BaseURL:         llmCfg.BaseURL,
			EnableReasoning: thinking != nil && config.BoolValue(thinking.Enabled, false),
			ReasoningBudget: thinkingBudget(thinking),
		})
		if err != nil {
			return nil, fmt.Errorf("build openai model: %w", err)
		}
		return client, nil

	case config.LLMProviderGemini:
		temp := 0.7
		if llmCfg.Temperature != nil {
			temp = *llmCfg.Temperature
		}
		llm, err := gemini.New(gemini.Config{
			APIKey:      llmCfg.APIKey,
			Model:       llmCfg.Model,
			MaxTokens:   llmCfg.MaxTokens,
			Temperature: temp,
		})
		if err != nil {
			return nil, fmt.Errorf("build gemini model: %w", err)
		}
		return llm, nil

	case config.LLMProviderOllama:
		client, err := ollama.New(ollama.Config{
			BaseURL:     llmCfg.BaseURL,
			Model:       llmCfg.Model,
			Temperature: llmCfg.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("build ollama model: %w", err)
		}
		return client, nil

	case config.LLMProviderDashScope:
		client, err := openai.NewDashScope(openai.Config{
			APIKey:      llmCfg.APIKey,
			Model:       llmCfg.Model,
			MaxTokens:   llmCfg.MaxTokens,
			Temperature: llmCfg.Temperature,
			BaseURL:     llmCfg.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("build dashscope model: %w", err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unsupported llm provider %q", llmCfg.Provider)
	}
}

func thinkingBudget(t *config.ThinkingConfig) int {
	if t == nil || t.BudgetTokens == 0 {
		return 1024
	}
	return t.BudgetTokens
}

// buildTools resolves an agent's tool name list into concrete tool.Tool
// instances, looking up each name's ToolConfig (falling back to the
// built-in defaults) and dispatching on Type/Handler.
func buildTools(cfg *config.Config, names []string) ([]tool.Tool, []tool.Toolset, error) {
	defaults := config.GetDefaultToolConfigs()
	workDir := "./"

	var tools []tool.Tool
	var toolsets []tool.Toolset

	for _, name := range names {
		toolCfg, ok := cfg.GetTool(name)
		if !ok {
			toolCfg = defaults[name]
		}
		if toolCfg == nil {
			return nil, nil, fmt.Errorf("tool %q is not configured and has no built-in default", name)
		}
		if !toolCfg.IsEnabled() {
			continue
		}

		switch toolCfg.Type {
		case config.ToolTypeMCP:
			ts, err := mcptoolset.New(mcptoolset.Config{
				Name:      name,
				URL:       toolCfg.URL,
				Transport: toolCfg.Transport,
				Command:   toolCfg.Command,
				Args:      toolCfg.Args,
				Env:       toolCfg.Env,
				Filter:    toolCfg.Filter,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("build mcp toolset %q: %w", name, err)
			}
			toolsets = append(toolsets, ts)

		case config.ToolTypeFunction:
			t, err := buildFunctionTool(toolCfg.Handler, workDir)
			if err != nil {
				return nil, nil, fmt.Errorf("build tool %q: %w", name, err)
			}
			tools = append(tools, t)

		case config.ToolTypeCommand:
			return nil, nil, fmt.Errorf("command tool %q is not supported by this build", name)

		default:
			return nil, nil, fmt.Errorf("tool %q has unknown type %q", name, toolCfg.Type)
		}
	}

	return tools, toolsets, nil
}

// buildFunctionTool maps a ToolConfig.Handler to its built-in constructor.
// This mirrors config.GetDefaultToolConfigs()'s handler names.
func buildFunctionTool(handler, workDir string) (tool.CallableTool, error) {
	switch handler {
	case "read_file":
		return filetool.NewReadFile(&filetool.ReadFileConfig{WorkingDirectory: workDir})
	case "write_file":
		return filetool.NewWriteFile(&filetool.WriteFileConfig{WorkingDirectory: workDir})
	case "search_replace":
		return filetool.NewSearchReplace(&filetool.SearchReplaceConfig{WorkingDirectory: workDir})
	case "apply_patch":
		return filetool.NewApplyPatch(&filetool.ApplyPatchConfig{WorkingDirectory: workDir})
	case "grep_search":
		return filetool.NewGrepSearch(&filetool.GrepSearchConfig{WorkingDirectory: workDir})
	case "web_request":
		return webtool.NewWebRequest(nil)
	case "todo_write":
		return sharedTodoManager.Tool()
	default:
		return nil, fmt.Errorf("no built-in constructor for handler %q", handler)
	}
}

// buildAgent assembles an agent.Agent for the named agent config: resolves
// its LLM, its tools, and its reasoning settings into an llmagent.
func buildAgent(cfg *config.Config, agentName string) (agent.Agent, error) {
	agentCfg, ok := cfg.GetAgent(agentName)
	if !ok {
		return nil, fmt.Errorf("agent %q not found in configuration", agentName)
	}

	llmCfg, ok := cfg.GetLLM(agentCfg.LLM)
	if !ok {
		return nil, fmt.Errorf("agent %q references unknown llm %q", agentName, agentCfg.LLM)
	}

	llm, err := buildModel(llmCfg)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", agentName, err)
	}

	tools, toolsets, err := buildTools(cfg, agentCfg.Tools)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", agentName, err)
	}

	var reasoning *llmagent.ReasoningConfig
	if agentCfg.Reasoning != nil {
		reasoning = &llmagent.ReasoningConfig{
			MaxIterations:         agentCfg.Reasoning.MaxIterations,
			EnableExitTool:        config.BoolValue(agentCfg.Reasoning.EnableExitTool, false),
			EnableEscalateTool:    config.BoolValue(agentCfg.Reasoning.EnableEscalateTool, false),
			CompletionInstruction: agentCfg.Reasoning.CompletionInstruction,
		}
		if sm := agentCfg.Reasoning.SessionMemory; sm != nil {
			reasoning.SessionMemory = &memory.SessionMemoryConfig{
				Enabled:         config.BoolValue(sm.Enabled, true),
				MemoryIndex:     sm.MemoryIndex,
				MaxFilesTracked: sm.MaxFilesTracked,
				MaxFindings:     sm.MaxFindings,
			}
		}
		reasoning.EnableCompletionHeuristic = config.BoolValue(agentCfg.Reasoning.EnableCompletionHeuristic, false)
		reasoning.EnableFallbackToolCalls = config.BoolValue(agentCfg.Reasoning.EnableFallbackToolCalls, false)
		reasoning.FallbackToolCallsReadOnly = config.BoolValue(agentCfg.Reasoning.FallbackToolCallsReadOnly, false)
	}

	return llmagent.New(llmagent.Config{
		Name:            agentCfg.Name,
		Description:     agentCfg.Description,
		Model:           llm,
		Instruction:     agentCfg.GetSystemPrompt(),
		EnableStreaming: config.BoolValue(agentCfg.Streaming, false),
		Tools:           tools,
		Toolsets:        toolsets,
		Reasoning:       reasoning,
	})
}
