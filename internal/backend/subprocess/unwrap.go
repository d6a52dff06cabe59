package subprocess

import (
	"regexp"
	"strings"
)

var shellWrapperPattern = regexp.MustCompile(`^/bin/(?:zsh|bash|sh)\s+-lc\s+(.*)$`)
var cdPrefixPattern = regexp.MustCompile(`^cd\s+\S+\s+&&\s+(.*)$`)

// unwrapShellCommand undoes the `/bin/{zsh,bash,sh} -lc <command>`
// wrapping (with single-quoted, double-quoted, or unquoted <command>)
// the driver applies to shell commands for display, and strips a
// leading `cd <path> &&` inside it. Idempotent on already-unwrapped
// input (§4.3, §8).
func unwrapShellCommand(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if m := shellWrapperPattern.FindStringSubmatch(cmd); m != nil {
		cmd = unquote(strings.TrimSpace(m[1]))
	}
	if m := cdPrefixPattern.FindStringSubmatch(cmd); m != nil {
		cmd = m[1]
	}
	return cmd
}

func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
