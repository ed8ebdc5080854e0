package permission

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchTool reports whether a tool name matches an allowed-tool pattern.
// Plain patterns match exactly; patterns containing wildcards are matched
// with doublestar semantics. A pattern like "Bash(git:*)" matches the tool
// name up to the parenthesis, leaving argument-level enforcement to the
// engine.
func MatchTool(pattern, tool string) bool {
	if idx := strings.IndexByte(pattern, '('); idx >= 0 {
		pattern = pattern[:idx]
	}
	if pattern == tool {
		return true
	}
	if !strings.ContainsAny(pattern, "*?[") {
		return false
	}
	ok, err := doublestar.Match(pattern, tool)
	return err == nil && ok
}

// MergeAllowedTools combines pattern lists, dropping duplicates while
// preserving first-seen order.
func MergeAllowedTools(lists ...[]string) []string {
	seen := make(map[string]bool)
	var merged []string
	for _, list := range lists {
		for _, p := range list {
			p = strings.TrimSpace(p)
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			merged = append(merged, p)
		}
	}
	return merged
}
