package eventbus

import "strings"

// Match reports whether an event type matches a subscription pattern.
//
// Without a wildcard the pattern must equal the type exactly. A "*" segment
// consumes one or more whole segments of the type, so "graph.*.added"
// matches "graph.entity.added" and "graph.a.b.added".
func Match(pattern, eventType string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == eventType
	}
	return matchSegments(strings.Split(pattern, "."), strings.Split(eventType, "."))
}

func matchSegments(pattern, typ []string) bool {
	if len(pattern) == 0 {
		return len(typ) == 0
	}
	if pattern[0] != "*" {
		return len(typ) > 0 && pattern[0] == typ[0] && matchSegments(pattern[1:], typ[1:])
	}
	for consumed := 1; consumed <= len(typ); consumed++ {
		if matchSegments(pattern[1:], typ[consumed:]) {
			return true
		}
	}
	return false
}
