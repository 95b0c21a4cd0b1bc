package memory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
)

// FileRead records one file the agent has already read, so it isn't asked
// to read it again after context compaction.
type FileRead struct {
	Path  string
	Lines int
	Bytes int64
}

// SessionMemory is the Layer 2 context the SessionMemoryManager injects:
// task description, files already read, key findings, and tool usage
// counts, preserved across context compaction.
type SessionMemory struct {
	TaskDescription string
	FilesRead       []FileRead
	KeyFindings     []string
	ToolUsageCounts map[string]int
}

// ToContextString renders the memory as the message body injected into the
// conversation, including the "do not re-read" instruction.
func (m *SessionMemory) ToContextString() string {
	var parts []string
	parts = append(parts, "[Session Memory - Preserved across context compaction]")

	if m.TaskDescription != "" {
		parts = append(parts, fmt.Sprintf("\n## Task\n%s", m.TaskDescription))
	}

	if len(m.FilesRead) > 0 {
		var b strings.Builder
		b.WriteString("\n## Files Already Read\n")
		b.WriteString("IMPORTANT: Do NOT re-read these files. Their contents were already processed.")
		for _, f := range m.FilesRead {
			fmt.Fprintf(&b, "\n- %s (%d lines, %d bytes)", f.Path, f.Lines, f.Bytes)
		}
		parts = append(parts, b.String())
	}

	if len(m.KeyFindings) > 0 {
		var b strings.Builder
		b.WriteString("\n## Key Findings")
		for _, f := range m.KeyFindings {
			fmt.Fprintf(&b, "\n- %s", f)
		}
		parts = append(parts, b.String())
	}

	if len(m.ToolUsageCounts) > 0 {
		type usage struct {
			name  string
			count int
		}
		usages := make([]usage, 0, len(m.ToolUsageCounts))
		for name, count := range m.ToolUsageCounts {
			usages = append(usages, usage{name, count})
		}
		sort.Slice(usages, func(i, j int) bool {
			if usages[i].count != usages[j].count {
				return usages[i].count > usages[j].count
			}
			return usages[i].name < usages[j].name
		})
		summaries := make([]string, len(usages))
		for i, u := range usages {
			summaries[i] = fmt.Sprintf("%s(%d)", u.name, u.count)
		}
		parts = append(parts, fmt.Sprintf("\n## Tool Usage\n%s", strings.Join(summaries, ", ")))
	}

	return strings.Join(parts, "\n")
}

// findingIndicators are substrings (checked lowercased) that mark a
// conversation line as a candidate key finding worth preserving across
// compaction.
var findingIndicators = []string{
	"found", "discovered", "confirmed", "determined", "decided",
	"issue:", "error:", "warning:", "note:", "important:", "conclusion:",
	"result:", "observation:", "the file contains", "the code uses",
	"the project uses", "implemented", "fixed", "created", "modified", "updated",
}

// ExtractKeyFindings scans snippets for lines that look like conclusions,
// discoveries, or decisions, returning up to maxFindings deduplicated
// matches in the order encountered.
func ExtractKeyFindings(snippets []string, maxFindings int) []string {
	if maxFindings <= 0 {
		maxFindings = 15
	}

	var findings []string
	seen := make(map[string]bool)

	for _, snippet := range snippets {
		for _, line := range strings.Split(snippet, "\n") {
			trimmed := strings.TrimSpace(line)
			if len(trimmed) < 20 || len(trimmed) > 300 {
				continue
			}
			lower := strings.ToLower(trimmed)

			matched := false
			for _, ind := range findingIndicators {
				if strings.Contains(lower, ind) {
					matched = true
					break
				}
			}
			if !matched || seen[lower] {
				continue
			}

			seen[lower] = true
			findings = append(findings, trimmed)
			if len(findings) >= maxFindings {
				return findings
			}
		}
	}

	return findings
}

// sessionMemoryMarker is embedded at the start of the session memory
// message so SessionMemoryManager can find and replace it in-place, and so
// a compaction strategy can recognize and preserve it.
const sessionMemoryMarker = "[SESSION_MEMORY_V1]"

// SessionMemoryManager maintains session memory at a fixed message index
// within a conversation, updating it in place before each LLM call.
//
// Three-layer context architecture this belongs to:
//   - Layer 1 (stable): system prompt (message index 0)
//   - Layer 2 (semi-stable): session memory, at MemoryIndex — this type
//   - Layer 3 (volatile): the rest of the conversation
type SessionMemoryManager struct {
	memoryIndex int
}

// NewSessionMemoryManager creates a manager that keeps the memory message
// at memoryIndex (typically 1, right after the system prompt).
func NewSessionMemoryManager(memoryIndex int) *SessionMemoryManager {
	if memoryIndex < 0 {
		memoryIndex = 1
	}
	return &SessionMemoryManager{memoryIndex: memoryIndex}
}

// BuildMemoryMessage renders mem into an assistant-role a2a.Message with
// the marker prepended.
func (m *SessionMemoryManager) BuildMemoryMessage(mem *SessionMemory) *a2a.Message {
	content := sessionMemoryMarker + "\n" + mem.ToContextString()
	return a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: content})
}

// UpdateOrInsert replaces the existing session memory message in messages
// with a freshly built one, or inserts one at memoryIndex if none exists
// yet.
func (m *SessionMemoryManager) UpdateOrInsert(messages []*a2a.Message, mem *SessionMemory) []*a2a.Message {
	newMsg := m.BuildMemoryMessage(mem)

	if idx := FindMemoryIndex(messages); idx >= 0 {
		messages[idx] = newMsg
		return messages
	}

	insertAt := m.memoryIndex
	if insertAt > len(messages) {
		insertAt = len(messages)
	}

	out := make([]*a2a.Message, 0, len(messages)+1)
	out = append(out, messages[:insertAt]...)
	out = append(out, newMsg)
	out = append(out, messages[insertAt:]...)
	return out
}

// FindMemoryIndex scans messages for the session memory marker, returning
// its index or -1 if not present.
func FindMemoryIndex(messages []*a2a.Message) int {
	for i, msg := range messages {
		if messageHasMarker(msg) {
			return i
		}
	}
	return -1
}

func messageHasMarker(msg *a2a.Message) bool {
	if msg == nil {
		return false
	}
	for _, part := range msg.Parts {
		if tp, ok := part.(a2a.TextPart); ok && strings.Contains(tp.Text, sessionMemoryMarker) {
			return true
		}
	}
	return false
}
