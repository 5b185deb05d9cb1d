package llm

import "strings"

// SanitizeReply rewrites raw model output for safe delivery: mention
// sigils are escaped so the platform doesn't ping anyone, and blank
// lines the model likes to leave just inside fenced code blocks are
// collapsed.
func SanitizeReply(s string) string {
	s = strings.ReplaceAll(s, "@", `\@`)
	s = strings.ReplaceAll(s, "```\n\n", "```")
	s = strings.ReplaceAll(s, "\n\n```", "\n```")
	return s
}
