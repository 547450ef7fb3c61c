package utils

import (
	"regexp"
	"strings"
)

// Control characters (except common whitespace)
var controlCharPattern = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

// maxNotesLength caps free-text notes to keep rows and Slack messages bounded
const maxNotesLength = 10000

// SanitizeNotes cleans free-text notes before storage: control characters
// are stripped (tabs and newlines survive), surrounding whitespace is
// trimmed and the length is capped.
func SanitizeNotes(notes string) string {
	notes = controlCharPattern.ReplaceAllString(notes, "")
	notes = strings.TrimSpace(notes)
	if len(notes) > maxNotesLength {
		notes = notes[:maxNotesLength]
	}
	return notes
}

// EscapeForLogging escapes free text for safe single-line logging
func EscapeForLogging(text string, maxLen int) string {
	if len(text) > maxLen {
		text = text[:maxLen] + "..."
	}

	text = strings.ReplaceAll(text, "\n", "\\n")
	text = strings.ReplaceAll(text, "\r", "\\r")
	text = strings.ReplaceAll(text, "\t", "\\t")

	return text
}
