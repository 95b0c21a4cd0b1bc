package fallbacktool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFallbackToolCalls_XMLForm(t *testing.T) {
	text := `I'll read the file now.
<read_file>{"path": "main.go"}</read_file>
Done.`

	parsed := ParseFallbackToolCalls(text, "", false)
	require.Len(t, parsed.Calls, 1)
	assert.Equal(t, "read_file", parsed.Calls[0].ToolName)
	assert.Equal(t, "main.go", parsed.Calls[0].Arguments["path"])
}

func TestParseFallbackToolCalls_ToolCodeForm(t *testing.T) {
	text := "```tool_code\n" + `grep(pattern="TODO", path=".")` + "\n```"

	parsed := ParseFallbackToolCalls(text, "", false)
	require.Len(t, parsed.Calls, 1)
	assert.Equal(t, "grep_search", parsed.Calls[0].ToolName)
	assert.Equal(t, "TODO", parsed.Calls[0].Arguments["pattern"])
	assert.Equal(t, ".", parsed.Calls[0].Arguments["path"])
}

func TestParseFallbackToolCalls_GrepDefaultsPath(t *testing.T) {
	text := `<grep>{"pattern": "TODO"}</grep>`

	parsed := ParseFallbackToolCalls(text, "", false)
	require.Len(t, parsed.Calls, 1)
	assert.Equal(t, ".", parsed.Calls[0].Arguments["path"])
}

func TestParseFallbackToolCalls_MissingRequiredFieldDropped(t *testing.T) {
	text := `<grep>{"path": "."}</grep>`

	parsed := ParseFallbackToolCalls(text, "", false)
	assert.Empty(t, parsed.Calls)
	require.Len(t, parsed.DroppedReasons, 1)
}

func TestParseFallbackToolCalls_MutatingToolRejectedInReadOnly(t *testing.T) {
	text := `<write_file>{"path": "a.go", "content": "package a"}</write_file>`

	parsed := ParseFallbackToolCalls(text, "", true)
	assert.Empty(t, parsed.Calls)
	require.Len(t, parsed.DroppedReasons, 1)
}

func TestParseFallbackToolCalls_PathEscapeRejectedInReadOnly(t *testing.T) {
	text := `<read_file>{"path": "../../etc/passwd"}</read_file>`

	parsed := ParseFallbackToolCalls(text, "", true)
	assert.Empty(t, parsed.Calls)
	require.Len(t, parsed.DroppedReasons, 1)
}

func TestParseFallbackToolCalls_TrailingCommaRepaired(t *testing.T) {
	text := `<read_file>{"path": "main.go",}</read_file>`

	parsed := ParseFallbackToolCalls(text, "", false)
	require.Len(t, parsed.Calls, 1)
	assert.Equal(t, "main.go", parsed.Calls[0].Arguments["path"])
}

func TestParseFallbackToolCalls_DeduplicatesRepeats(t *testing.T) {
	text := `<read_file>{"path": "main.go"}</read_file>
<read_file>{"path": "main.go"}</read_file>`

	parsed := ParseFallbackToolCalls(text, "", false)
	assert.Len(t, parsed.Calls, 1)
}

func TestParseFallbackToolCalls_UnsupportedToolDropped(t *testing.T) {
	text := `<teleport>{"to": "moon"}</teleport>`

	parsed := ParseFallbackToolCalls(text, "", false)
	assert.Empty(t, parsed.Calls)
	require.Len(t, parsed.DroppedReasons, 1)
}
