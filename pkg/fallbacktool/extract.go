package fallbacktool

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParsedToolCall is one fallback-syntax tool call recovered from assistant
// text, with its arguments normalized and its name canonicalized so it can
// be dispatched exactly like a structurally-emitted tool call.
type ParsedToolCall struct {
	ToolName  string
	Arguments map[string]any
	RawText   string
}

// ParsedFallbackCalls is the result of one extraction pass: the calls that
// were accepted, and the reasons any candidate was dropped (surfaced for
// diagnostics, never shown to the user as a tool result).
type ParsedFallbackCalls struct {
	Calls          []ParsedToolCall
	DroppedReasons []string
}

// xmlCallPattern matches an XML-ish `<ToolName>{...json...}</ToolName>`
// block. The opening/closing tag names are captured separately and
// compared so mismatched tags don't match.
var xmlCallPattern = regexp.MustCompile(`(?s)<(\w+)>\s*(\{.*?\})\s*</(\w+)>`)

// toolCodeBlockPattern matches a fenced ` ```tool_code ... ``` ` block.
var toolCodeBlockPattern = regexp.MustCompile("(?s)```tool_code\\s*\\n(.*?)```")

// toolCodeCallPattern matches one `name(arg=\"value\", ...)` call inside a
// tool_code block.
var toolCodeCallPattern = regexp.MustCompile(`(?s)^\s*(\w+)\((.*)\)\s*$`)

// ParseFallbackToolCalls scans an assistant response's text and thinking
// content for fallback tool-call syntax, normalizing and deduplicating the
// result. readOnly restricts the accepted tools to non-mutating ones and
// rejects paths that escape the working directory — the equivalent of the
// original's "analysis phase" restriction.
func ParseFallbackToolCalls(content, thinking string, readOnly bool) ParsedFallbackCalls {
	var parsed ParsedFallbackCalls
	seen := make(map[string]bool)

	for _, text := range []string{content, thinking} {
		if text == "" {
			continue
		}
		for _, call := range parseRawCalls(text) {
			name, args, err := prepareToolCallForExecution(call.name, call.argsJSON, readOnly)
			if err != nil {
				parsed.DroppedReasons = append(parsed.DroppedReasons, err.Error())
				continue
			}
			encoded, _ := json.Marshal(args)
			signature := name + ":" + string(encoded)
			if seen[signature] {
				continue
			}
			seen[signature] = true
			parsed.Calls = append(parsed.Calls, ParsedToolCall{
				ToolName:  name,
				Arguments: args,
				RawText:   call.raw,
			})
		}
	}

	return parsed
}

// rawCall is an as-yet-uncanonicalized, unnormalized candidate extracted
// from one of the two recognized textual forms.
type rawCall struct {
	name     string
	argsJSON string // canonical-JSON-encodable argument text
	raw      string
}

// parseRawCalls recognizes the two concrete fallback forms in text: the
// XML-ish tagged block and the fenced tool_code block.
func parseRawCalls(text string) []rawCall {
	var calls []rawCall

	for _, m := range xmlCallPattern.FindAllStringSubmatch(text, -1) {
		if m[1] != m[3] {
			continue // mismatched open/close tag
		}
		calls = append(calls, rawCall{name: m[1], argsJSON: m[2], raw: m[0]})
	}

	for _, block := range toolCodeBlockPattern.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(block[1])
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			cm := toolCodeCallPattern.FindStringSubmatch(line)
			if cm == nil {
				continue
			}
			argsJSON, err := pythonArgsToJSON(cm[2])
			if err != nil {
				continue
			}
			calls = append(calls, rawCall{name: cm[1], argsJSON: argsJSON, raw: line})
		}
	}

	return calls
}

// pythonArgsToJSON converts a python-call-style argument list, e.g.
// `path="a.go", limit=5, recursive=true`, into a JSON object string.
func pythonArgsToJSON(argList string) (string, error) {
	args := splitArgs(argList)
	pairs := make([]string, 0, len(args))
	for _, a := range args {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		eq := strings.Index(a, "=")
		if eq < 0 {
			return "", fmt.Errorf("malformed argument %q", a)
		}
		key := strings.TrimSpace(a[:eq])
		val := strings.TrimSpace(a[eq+1:])
		encoded, err := pythonLiteralToJSON(val)
		if err != nil {
			return "", err
		}
		keyJSON, _ := json.Marshal(key)
		pairs = append(pairs, string(keyJSON)+":"+encoded)
	}
	return "{" + strings.Join(pairs, ",") + "}", nil
}

// splitArgs splits a top-level comma-separated argument list, respecting
// single- and double-quoted string values so commas inside them don't
// split the list.
func splitArgs(s string) []string {
	var out []string
	var cur strings.Builder
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote && (i == 0 || s[i-1] != '\\') {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			cur.WriteByte(c)
		case c == ',':
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// pythonLiteralToJSON converts one python-style literal (quoted string,
// number, true/false/None) into its JSON text form.
func pythonLiteralToJSON(val string) (string, error) {
	if len(val) >= 2 && (val[0] == '\'' || val[0] == '"') && val[len(val)-1] == val[0] {
		inner := val[1 : len(val)-1]
		encoded, _ := json.Marshal(inner)
		return string(encoded), nil
	}
	switch val {
	case "true", "True":
		return "true", nil
	case "false", "False":
		return "false", nil
	case "None", "null":
		return "null", nil
	}
	if _, err := strconv.ParseFloat(val, 64); err == nil {
		return val, nil
	}
	// Bareword fallback: treat as a string literal.
	encoded, _ := json.Marshal(val)
	return string(encoded), nil
}

// canonicalToolName maps a case-insensitive alias to the tool's real
// registered Definition name in this tree.
func canonicalToolName(name string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "read", "read_file", "readfile":
		return "read_file", true
	case "write", "write_file", "writefile":
		return "write_file", true
	case "edit", "search_replace", "replace":
		return "search_replace", true
	case "patch", "apply_patch":
		return "apply_patch", true
	case "grep", "grep_search", "search_grep":
		return "grep_search", true
	case "search", "websearch", "web_search", "knowledge_search":
		return "search", true
	case "fetch", "webfetch", "web_fetch", "web_request", "curl":
		return "web_request", true
	default:
		return "", false
	}
}

// mutatingTools are never allowed when readOnly restrictions are in force.
var mutatingTools = map[string]bool{
	"write_file":     true,
	"search_replace": true,
	"apply_patch":    true,
	"web_request":    true,
}

// prepareToolCallForExecution canonicalizes name, decodes argsJSON (repairing
// near-miss JSON first), applies per-tool default/required-field rules, and
// enforces readOnly restrictions. Mirrors the original's
// prepare_tool_call_for_execution.
func prepareToolCallForExecution(name, argsJSON string, readOnly bool) (string, map[string]any, error) {
	canonical, ok := canonicalToolName(name)
	if !ok {
		return "", nil, fmt.Errorf("unsupported tool name %q", strings.TrimSpace(name))
	}

	if readOnly && mutatingTools[canonical] {
		return "", nil, fmt.Errorf("%s is disabled in read-only mode", canonical)
	}

	args, err := decodeArgs(argsJSON)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", canonical, err)
	}

	switch canonical {
	case "read_file":
		if !nonEmptyString(args, "path") {
			return "", nil, fmt.Errorf("read_file requires non-empty 'path'")
		}
	case "write_file":
		if !nonEmptyString(args, "path") {
			return "", nil, fmt.Errorf("write_file requires non-empty 'path'")
		}
		if _, ok := args["content"]; !ok {
			return "", nil, fmt.Errorf("write_file requires 'content'")
		}
	case "search_replace":
		if !nonEmptyString(args, "path") || !nonEmptyString(args, "old_string") {
			return "", nil, fmt.Errorf("search_replace requires non-empty 'path' and 'old_string'")
		}
	case "apply_patch":
		if !nonEmptyString(args, "path") || !nonEmptyString(args, "old_string") {
			return "", nil, fmt.Errorf("apply_patch requires non-empty 'path' and 'old_string'")
		}
	case "grep_search":
		if !nonEmptyString(args, "pattern") {
			return "", nil, fmt.Errorf("grep_search requires non-empty 'pattern'")
		}
		if !nonEmptyString(args, "path") {
			args["path"] = "."
		}
	case "search":
		if !nonEmptyString(args, "query") {
			return "", nil, fmt.Errorf("search requires non-empty 'query'")
		}
	case "web_request":
		if !nonEmptyString(args, "url") {
			return "", nil, fmt.Errorf("web_request requires non-empty 'url'")
		}
	}

	if readOnly {
		for _, key := range []string{"path", "file_path"} {
			if p, ok := args[key].(string); ok && escapesWorkingDirectory(p) {
				return "", nil, fmt.Errorf("path %q escapes the working directory", p)
			}
		}
	}

	return canonical, args, nil
}

func nonEmptyString(args map[string]any, key string) bool {
	s, ok := args[key].(string)
	return ok && strings.TrimSpace(s) != ""
}

// escapesWorkingDirectory reports whether a path, once its ".." segments
// are resolved, would leave the directory it's relative to.
func escapesWorkingDirectory(path string) bool {
	if strings.HasPrefix(path, "/") {
		return true
	}
	depth := 0
	for _, seg := range strings.Split(filepathToSlash(path), "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}
	return false
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// decodeArgs parses argsJSON as a JSON object, repairing near-miss JSON
// (trailing commas, unquoted keys) via jsonrepair before giving up.
func decodeArgs(argsJSON string) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err == nil {
		return args, nil
	}

	repaired, err := jsonrepair.JSONRepair(argsJSON)
	if err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments after repair: %w", err)
	}
	return args, nil
}
