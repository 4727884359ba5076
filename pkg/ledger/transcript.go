package ledger

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NoHistory is the context text used when there are no prior entries.
const NoHistory = "No history found."

// FormatTranscript renders entries as newline-terminated "Role: content"
// lines, oldest first. Roles are normalised to a leading capital with the rest
// lower-cased.
func FormatTranscript(entries []Entry) string {
	if len(entries) == 0 {
		return NoHistory
	}

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(capitalize(e.Role))
		b.WriteString(": ")
		b.WriteString(e.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
