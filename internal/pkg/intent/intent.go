package intent

import (
	"regexp"
	"strings"
)

// Kind tags what the user wants done with a free-text message.
type Kind string

const (
	// Add records the described food after confirmation. Default.
	Add Kind = "add"
	// CalculateOnly estimates without saving anything.
	CalculateOnly Kind = "calculate_only"
	// Delete removes previously recorded meals.
	Delete Kind = "delete"
	// Edit changes fields of a recorded meal.
	Edit Kind = "edit"
)

// Pattern lists are data, not control flow: classification stays testable in
// isolation and tweakable without touching the dispatcher.
var (
	calculateOnlyPatterns = compile(
		`^(сколько|how (?:much|many))\b`,
		`\b(не сохраняй|не записывай|без записи)\b`,
		`\b(don'?t save|just (?:calculate|estimate|curious)|only calculate)\b`,
		`\b(просто посчитай|только посчитай|прикинь)\b`,
	)
	deletePatterns = compile(
		`^(удали|удалить|убери|сотри)\b`,
		`^(delete|remove|undo)\b`,
		`\b(удали последн\w+|remove (?:the )?last)\b`,
	)
	editPatterns = compile(
		`^(измени|исправь|поправь|замени)\b`,
		`^(edit|change|fix|correct)\b`,
	)
)

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// Classify maps a message to its intent. Anything unrecognized is treated as
// a food description to add.
func Classify(text string) Kind {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return Add
	}

	switch {
	case matches(deletePatterns, t):
		return Delete
	case matches(editPatterns, t):
		return Edit
	case matches(calculateOnlyPatterns, t):
		return CalculateOnly
	default:
		return Add
	}
}

func matches(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
