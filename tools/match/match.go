package match

import "strings"

// Match reports whether a dot-separated action name matches a glob pattern.
// '*' matches within one segment, '**' matches across segments, everything
// else is literal. "gateway.**" therefore covers "gateway.notify" as well as
// "gateway.internal.danger".
func Match(name, pattern string) bool {
	if pattern == name {
		return true
	}
	return matchSegs(splitSegs(name), splitSegs(pattern))
}

// Any reports whether the name matches any of the patterns.
func Any(name string, patterns []string) bool {
	for _, p := range patterns {
		if Match(name, p) {
			return true
		}
	}
	return false
}

func splitSegs(s string) []string {
	return strings.Split(s, ".")
}

func matchSegs(name, pattern []string) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	if pattern[0] == "**" {
		// '**' swallows zero or more segments
		for i := 0; i <= len(name); i++ {
			if matchSegs(name[i:], pattern[1:]) {
				return true
			}
		}
		return false
	}
	if len(name) == 0 {
		return false
	}
	if !matchSeg(name[0], pattern[0]) {
		return false
	}
	return matchSegs(name[1:], pattern[1:])
}

// matchSeg matches one segment, where '*' in the pattern matches any run of
// characters.
func matchSeg(s, p string) bool {
	if !strings.Contains(p, "*") {
		return s == p
	}
	parts := strings.Split(p, "*")
	// anchored prefix and suffix, middle parts in order
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}
