package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"integration.registered", "integration.registered", true},
		{"integration.registered", "integration.removed", false},
		{"integration.*", "integration.registered", true},
		{"integration.*", "integration.alpha.request", true},
		{"integration.*", "unrelated.topic", false},
		{"integration.*", "integration", true},
		{"*", "anything", true},
		{"*", "a.b.c", true},
		{"a.b.*", "a.b.c", true},
		{"a.b.*", "a.b.c.d", true},
		{"a.b.*", "a.x.c", false},
		// Non-trailing wildcards are literal segments
		{"a.*.c", "a.b.c", false},
		{"a.*.c", "a.*.c", true},
	}

	for _, tt := range tests {
		got := MatchTopic(tt.pattern, tt.topic)
		assert.Equal(t, tt.want, got, "MatchTopic(%q, %q)", tt.pattern, tt.topic)
	}
}
