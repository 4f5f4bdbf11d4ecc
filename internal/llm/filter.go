package llm

import (
	"regexp"
	"strings"
)

var (
	thinkingBlock = regexp.MustCompile(`(?is)<(thinking|think)>.*?</(thinking|think)>`)
	// An opening tag with no close hides everything after it.
	thinkingOpen = regexp.MustCompile(`(?is)<(thinking|think)>.*$`)
)

// StripThinking removes reasoning sections delimited by <thinking> or <think>
// tags and trims surrounding whitespace.
func StripThinking(text string) string {
	text = thinkingBlock.ReplaceAllString(text, "")
	text = thinkingOpen.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
