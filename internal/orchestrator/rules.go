package orchestrator

import (
	"fmt"
	"strings"
)

// DefaultSystemPrompt opens the first-pass conversation.
const DefaultSystemPrompt = "You are a GIS assistant for a Google Earth Engine app. " +
	"If the user asks to do something, use tools."

var defaultRules = []string{
	"Call a tool whenever the user asks to change the analysed years, show a vegetation index or export a video.",
	"Only call the tools you were given. Never invent tool names or arguments that are not in the tool schema.",
	"Years are four-digit integers, never strings. Dates are ISO 8601 calendar dates (YYYY-MM-DD).",
	"If the request is ambiguous or no tool applies, answer briefly in plain text instead of calling a tool.",
	"Tool results describe what the map client will do. Summarise them for the user in one or two sentences.",
}

// BuildSystemPrompt appends a rules section to base: the built-in rules
// first, then every non-blank custom rule tagged [custom]. An empty base
// falls back to DefaultSystemPrompt.
func BuildSystemPrompt(base string, custom []string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultSystemPrompt
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\n## Rules\n")
	for _, rule := range defaultRules {
		fmt.Fprintf(&sb, "- %s\n", rule)
	}
	for _, rule := range custom {
		if rule = strings.TrimSpace(rule); rule != "" {
			fmt.Fprintf(&sb, "- [custom] %s\n", rule)
		}
	}
	return sb.String()
}
