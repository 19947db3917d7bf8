package wakeword

import (
	"regexp"
	"strings"
)

// Leading patterns that mark a fragment as a real instruction. An
// allow-list keeps false positives out of the parser: anything that
// doesn't match is treated as the wake phrase mentioned in passing,
// which bounds LLM cost and prevents spurious side effects.
var (
	imperativeVerbs = []string{
		"remind", "tell", "send", "text", "message", "call",
		"add", "create", "make", "put", "set", "schedule", "book",
		"search", "find", "look", "check", "show", "get", "play",
		"turn", "start", "stop", "cancel", "delete", "remove",
	}

	requestLead  = regexp.MustCompile(`(?i)^(can|could|would|will)\s+you\b`)
	questionLead = regexp.MustCompile(`(?i)^(what|when|where|who|why|how|is|are|do|does|did)\b`)

	domainKeywords = []string{
		"weather", "reminder", "schedule", "calendar", "grocery",
		"groceries", "shopping list", "task", "todo", "to-do",
		"appointment", "meeting", "timer",
	}
)

// IsActionable reports whether a detected command fragment looks like
// an instruction rather than an incidental mention.
func IsActionable(commandText string) bool {
	text := strings.TrimSpace(strings.ToLower(commandText))
	if text == "" {
		return false
	}

	first := text
	if idx := strings.IndexAny(first, " \t"); idx > 0 {
		first = first[:idx]
	}
	// "please remind me..." — skip the politeness word.
	if first == "please" {
		rest := strings.TrimSpace(strings.TrimPrefix(text, "please"))
		return IsActionable(rest)
	}

	for _, verb := range imperativeVerbs {
		if first == verb {
			return true
		}
	}

	if requestLead.MatchString(text) || questionLead.MatchString(text) {
		return true
	}

	for _, kw := range domainKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}

	return false
}
