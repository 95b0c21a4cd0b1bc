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

// Package todotool provides the todo_write built-in tool: a structured,
// per-session task list the agent maintains to track progress on
// multi-step work, mirroring the "## Tool Usage" / progress bookkeeping
// described for session memory.
package todotool

import (
	"fmt"
	"strings"
	"sync"

	"github.com/loopwright/agentcore/pkg/tool"
)

// validStatuses are the only statuses a TodoItem may hold.
var validStatuses = map[string]bool{
	"pending":     true,
	"in_progress": true,
	"completed":   true,
	"canceled":    true,
}

// TodoItem is a single task in an agent's todo list.
type TodoItem struct {
	ID      string
	Content string
	Status  string
}

// TodoManager owns the per-session todo lists behind the todo_write tool.
// One manager is shared by every invocation of the tool within a process;
// lists are keyed by session ID so concurrent runs don't interfere.
type TodoManager struct {
	mu    sync.RWMutex
	lists map[string][]TodoItem
}

// NewTodoManager creates an empty manager.
func NewTodoManager() *TodoManager {
	return &TodoManager{lists: make(map[string][]TodoItem)}
}

// GetTodos returns a copy of the current todo list for a session.
func (m *TodoManager) GetTodos(sessionID string) []TodoItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	todos := m.lists[sessionID]
	out := make([]TodoItem, len(todos))
	copy(out, todos)
	return out
}

// GetTodosSummary renders a one-line status-count summary, or "" if the
// session has no todos.
func (m *TodoManager) GetTodosSummary(sessionID string) string {
	todos := m.GetTodos(sessionID)
	if len(todos) == 0 {
		return ""
	}

	var pending, inProgress, completed, canceled int
	for _, t := range todos {
		switch t.Status {
		case "pending":
			pending++
		case "in_progress":
			inProgress++
		case "completed":
			completed++
		case "canceled":
			canceled++
		}
	}

	return fmt.Sprintf("%d pending, %d in progress, %d completed, %d canceled", pending, inProgress, completed, canceled)
}

// Tool returns the todo_write CallableTool backed by this manager.
func (m *TodoManager) Tool() (tool.CallableTool, error) {
	return &todoWriteTool{manager: m}, nil
}

// FormatTodosForContext renders a todo list as a checklist for inclusion
// in a prompt or session-memory block. Returns "" for an empty list.
func FormatTodosForContext(todos []TodoItem) string {
	if len(todos) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, t := range todos {
		mark := " "
		switch t.Status {
		case "completed":
			mark = "x"
		case "in_progress":
			mark = "~"
		case "canceled":
			mark = "-"
		}
		fmt.Fprintf(&sb, "[%s] %s\n", mark, t.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

type todoWriteTool struct {
	manager *TodoManager
}

func (t *todoWriteTool) Name() string        { return "todo_write" }
func (t *todoWriteTool) IsLongRunning() bool { return false }
func (t *todoWriteTool) RequiresApproval() bool {
	return false
}

func (t *todoWriteTool) Description() string {
	return "Create and manage a structured task list for tracking progress. Use for complex multi-step tasks (3+ steps) to demonstrate thoroughness."
}

func (t *todoWriteTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"merge": map[string]any{
				"type":        "boolean",
				"description": "If true, update matching IDs and append new ones instead of replacing the whole list.",
			},
			"todos": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":      map[string]any{"type": "string"},
						"content": map[string]any{"type": "string"},
						"status":  map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed", "canceled"}},
					},
					"required": []string{"id", "content", "status"},
				},
			},
		},
		"required": []string{"todos"},
	}
}

func (t *todoWriteTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	rawTodos, _ := args["todos"].([]any)
	if len(rawTodos) == 0 {
		return nil, fmt.Errorf("todo_write: todos must not be empty")
	}
	merge, _ := args["merge"].(bool)

	incoming := make([]TodoItem, 0, len(rawTodos))
	for i, raw := range rawTodos {
		item, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("todo_write: todos[%d] must be an object", i)
		}

		id, _ := item["id"].(string)
		content, _ := item["content"].(string)
		status, _ := item["status"].(string)

		if content == "" {
			return nil, fmt.Errorf("todo_write: todos[%d] missing required field content", i)
		}
		if !validStatuses[status] {
			return nil, fmt.Errorf("todo_write: todos[%d] has invalid status %q", i, status)
		}

		incoming = append(incoming, TodoItem{ID: id, Content: content, Status: status})
	}

	sessionID := ctx.SessionID()

	t.manager.mu.Lock()
	var final []TodoItem
	if merge {
		existing := t.manager.lists[sessionID]
		byID := make(map[string]int, len(existing))
		final = make([]TodoItem, len(existing))
		copy(final, existing)
		for i, e := range final {
			byID[e.ID] = i
		}
		for _, item := range incoming {
			if idx, ok := byID[item.ID]; ok {
				final[idx] = item
			} else {
				final = append(final, item)
			}
		}
	} else {
		final = incoming
	}
	t.manager.lists[sessionID] = final
	t.manager.mu.Unlock()

	return map[string]any{
		"count": len(final),
		"todos": final,
	}, nil
}

var _ tool.CallableTool = (*todoWriteTool)(nil)
