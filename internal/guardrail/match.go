package guardrail

import "strings"

// matchGlobPattern matches path against pattern, segment by segment,
// with ** matching any number of path segments (including zero).
// It is the guardrail's test_paths matcher.
func matchGlobPattern(path, pattern string) bool {
	pathParts := strings.Split(path, "/")
	patternParts := strings.Split(pattern, "/")
	return matchParts(pathParts, patternParts)
}

func matchParts(path, pattern []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}

	p := pattern[0]
	rest := pattern[1:]

	if p == "**" {
		if len(rest) == 0 {
			return true
		}
		for i := 0; i <= len(path); i++ {
			if matchParts(path[i:], rest) {
				return true
			}
		}
		return false
	}

	if len(path) == 0 {
		return false
	}
	if !matchSegment(path[0], p) {
		return false
	}
	return matchParts(path[1:], rest)
}

func matchSegment(segment, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == segment {
		return true
	}
	if strings.Contains(pattern, "*") {
		return matchWildcard(segment, pattern)
	}
	return false
}

func matchWildcard(s, pattern string) bool {
	parts := strings.Split(pattern, "*")
	pos := 0

	for i, part := range parts {
		if part == "" {
			continue
		}
		if i == 0 {
			if !strings.HasPrefix(s, part) {
				return false
			}
			pos = len(part)
			continue
		}
		if i == len(parts)-1 && !strings.HasSuffix(pattern, "*") {
			if !strings.HasSuffix(s, part) {
				return false
			}
			continue
		}
		idx := strings.Index(s[pos:], part)
		if idx == -1 {
			return false
		}
		pos += idx + len(part)
	}
	return true
}

// baseDir extracts the directory a test_paths pattern is rooted under,
// e.g. "tests/**" -> "tests", "test/**/*.py" -> "test", "*.py" -> "".
func baseDir(pattern string) string {
	if idx := strings.Index(pattern, "**"); idx != -1 {
		return strings.TrimSuffix(pattern[:idx], "/")
	}
	if idx := strings.Index(pattern, "/"); idx != -1 {
		return pattern[:idx]
	}
	return ""
}
