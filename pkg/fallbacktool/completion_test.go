package fallbacktool

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func longAnswer(body string) string {
	return strings.Repeat("x", 201) + "\n" + body
}

func TestIsCompleteAnswer_TooShort(t *testing.T) {
	assert.False(t, IsCompleteAnswer("short answer."))
}

func TestIsCompleteAnswer_UnclosedCodeFence(t *testing.T) {
	text := longAnswer("```go\nfunc main() {}\n")
	assert.False(t, IsCompleteAnswer(text))
}

func TestIsCompleteAnswer_TrailingColon(t *testing.T) {
	text := longAnswer("Here is the summary:")
	assert.False(t, IsCompleteAnswer(text))
}

func TestIsCompleteAnswer_IntentPhrase(t *testing.T) {
	text := longAnswer("I found the bug. Let me")
	assert.False(t, IsCompleteAnswer(text))
}

func TestIsCompleteAnswer_DanglingConjunction(t *testing.T) {
	text := longAnswer("I fixed the parser and")
	assert.False(t, IsCompleteAnswer(text))
}

func TestIsCompleteAnswer_PendingAction(t *testing.T) {
	text := longAnswer("Let me check the README next.")
	assert.False(t, IsCompleteAnswer(text))
}

func TestIsCompleteAnswer_RhetoricalOfferIsComplete(t *testing.T) {
	text := longAnswer("需要我进一步分析吗？")
	assert.True(t, IsCompleteAnswer(text))
}

func TestIsCompleteAnswer_SubstantiveAnswer(t *testing.T) {
	text := longAnswer("The bug was a missing nil check in the handler, now fixed and covered by a regression test.")
	assert.True(t, IsCompleteAnswer(text))
}

func TestIsCompleteAnswer_ClosedCodeFenceStillComplete(t *testing.T) {
	text := longAnswer("```go\nfunc main() {}\n```\nThis function does nothing.")
	assert.True(t, IsCompleteAnswer(text))
}
