// Package fallbacktool implements §4.3.4/§4.3.5: recovering tool calls a
// model described in prose instead of emitting structurally, and the
// rule-based heuristic that decides whether an assistant's text is a
// complete answer without spending a model round-trip on the question.
package fallbacktool

import (
	"strings"
)

// IsCompleteAnswer reports whether text looks like a finished, substantive
// answer rather than a mid-thought fragment. It is a pure text heuristic:
// no model call is involved.
//
// All of the following must hold:
//   - character count (not byte count, so CJK text isn't penalized) > 200
//   - an even number of ``` fences (no unclosed code block)
//   - the last non-empty line doesn't end with ":", "...", or "…"
//   - the last non-empty line doesn't end with an intent phrase ("I will",
//     "let me", "I'll", ...)
//   - the last non-empty line doesn't end with a dangling conjunction
//     ("and", "but", "or", "then")
//   - the last non-empty line doesn't narrate a pending action (e.g.
//     "let me check the README next")
func IsCompleteAnswer(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) <= 200 {
		return false
	}

	if strings.Count(trimmed, "```")%2 != 0 {
		return false
	}

	lastLine := lastNonEmptyLine(trimmed)
	lastLower := strings.ToLower(lastLine)

	for _, suffix := range []string{":", "...", "…"} {
		if strings.HasSuffix(lastLine, suffix) {
			return false
		}
	}

	for _, prefix := range intentPhrases {
		if strings.HasSuffix(lastLower, prefix) || strings.HasSuffix(lastLower, prefix+",") {
			return false
		}
	}

	for _, word := range danglingConjunctions {
		if endsWithWhileWord(lastLower, word) {
			return false
		}
	}

	if describesPendingAction(lastLine) {
		return false
	}

	return true
}

var intentPhrases = []string{
	"i will",
	"i'll",
	"let me",
	"i am going to",
	"i'm going to",
	"next i will",
	"next, i will",
	"now i will",
	"now i'll",
	"now let me",
}

var danglingConjunctions = []string{"and", "but", "or", "then"}

// endsWithWhileWord reports whether s ends with word as a whole word (not
// as a suffix of a longer word).
func endsWithWhileWord(s, word string) bool {
	if !strings.HasSuffix(s, word) {
		return false
	}
	prefixLen := len(s) - len(word)
	if prefixLen == 0 {
		return true
	}
	return s[prefixLen-1] == ' '
}

// isRhetoricalOffer reports whether text is a rhetorical offer to do more
// ("need me to dig further?", or the Chinese equivalents) rather than a
// genuine pending action; these count as completions.
func isRhetoricalOffer(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	hasQuestionSuffix := false
	for _, suffix := range questionSuffixes {
		if strings.HasSuffix(trimmed, suffix) {
			hasQuestionSuffix = true
			break
		}
	}
	if !hasQuestionSuffix {
		return false
	}

	for _, marker := range zhConditionalMarkers {
		if strings.Contains(trimmed, marker) {
			return true
		}
	}
	for _, marker := range zhInvitationMarkers {
		if strings.Contains(trimmed, marker) {
			return true
		}
	}
	return false
}

var questionSuffixes = []string{"吗？", "吗?", "么？", "么?", "？", "?"}

var zhConditionalMarkers = []string{
	"如果", // 如果
	"是否", // 是否
	"你想", // 你想
	"你需要", // 你需要
	"需要我", // 需要我
}

var zhInvitationMarkers = []string{
	"可以告诉我", // 可以告诉我
	"请告诉我",       // 请告诉我
	"可以进一步", // 可以进一步
}

// describesPendingAction reports whether text narrates an unfinished next
// step (e.g. "let me check the README next", "接下来我会继续分析"), even
// when it doesn't name a tool explicitly.
func describesPendingAction(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if isRhetoricalOffer(trimmed) {
		return false
	}

	lower := strings.ToLower(trimmed)

	hasPendingMarker := false
	for _, marker := range enPendingMarkers {
		if strings.Contains(lower, marker) {
			hasPendingMarker = true
			break
		}
	}
	if !hasPendingMarker {
		for _, marker := range zhPendingMarkers {
			if strings.Contains(trimmed, marker) {
				hasPendingMarker = true
				break
			}
		}
	}
	if !hasPendingMarker {
		return false
	}

	for _, term := range enActionTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	for _, term := range zhActionTerms {
		if strings.Contains(trimmed, term) {
			return true
		}
	}

	for _, hint := range []string{"readme", ".md", ".go", ".ts", ".py"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return strings.Contains(trimmed, "文件") || strings.Contains(trimmed, "目录") // 文件 / 目录
}

var enPendingMarkers = []string{
	"let me", "i will", "i'll", "i am going to", "i'm going to",
	"i need to", "next i", "next, i", "now i", "now, i",
}

var zhPendingMarkers = []string{
	"让我",         // 让我
	"让我先",   // 让我先
	"我先",         // 我先
	"我将",         // 我将
	"我会",         // 我会
	"我来",         // 我来
	"接下来",   // 接下来
	"下一步",   // 下一步
}

var enActionTerms = []string{
	"check", "read", "inspect", "analyze", "review", "open",
	"list", "search", "explore", "verify", "look at", "look into",
}

var zhActionTerms = []string{
	"查看",         // 查看
	"读取",         // 读取
	"阅读",         // 阅读
	"检查",         // 检查
	"分析",         // 分析
	"搜索",         // 搜索
	"打开",         // 打开
	"列出",         // 列出
	"看一下",   // 看一下
}

func lastNonEmptyLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
