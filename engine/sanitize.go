package engine

import (
	"regexp"
	"strings"
)

var ansiCSIRe = regexp.MustCompile(`\x1b\[[^A-Za-z]*[A-Za-z]?`)

var chromePrefixes = []string{"╭", "╰", "│", "├", "└"}

// Sanitize strips terminal escapes and CLI chrome from tool output.
func Sanitize(stdout string) string {
	if stdout == "" {
		return ""
	}
	stdout = strings.ReplaceAll(stdout, "\r\n", "\n")
	lines := strings.Split(stdout, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		cleaned := ansiCSIRe.ReplaceAllString(line, "")
		trimmed := strings.TrimSpace(cleaned)
		if trimmed == "" {
			out = append(out, "")
			continue
		}
		if isChromeLine(trimmed) {
			continue
		}
		out = append(out, cleaned)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func isChromeLine(trimmed string) bool {
	for _, p := range chromePrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return strings.HasPrefix(trimmed, "Running ") && strings.HasSuffix(trimmed, "...")
}
