package bus

import "strings"

// MatchTopic reports whether pattern matches topic. Patterns are dotted
// strings whose last segment may be "*", which matches any trailing
// segments. A "*" in any other position is treated literally.
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	p := strings.Split(pattern, ".")
	if p[len(p)-1] != "*" {
		return false
	}

	t := strings.Split(topic, ".")
	prefix := p[:len(p)-1]
	if len(prefix) > len(t) {
		return false
	}
	for i, seg := range prefix {
		if seg != t[i] {
			return false
		}
	}
	return true
}
