package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		typ     string
		want    bool
	}{
		{"graph.entity.added", "graph.entity.added", true},
		{"graph.entity.added", "graph.entity.removed", false},
		{"graph.*", "graph.entity.added", true},
		{"graph.*", "graph.reset", true},
		{"graph.*", "graph", false},
		{"graph.entity.*", "graph.entity.updated", true},
		{"graph.entity.*", "graph.relation.updated", false},
		{"graph.*.added", "graph.entity.added", true},
		{"graph.*.added", "graph.a.b.added", true},
		{"graph.*.added", "graph.added", false},
		{"*", "version.created", true},
		{"*.created", "version.created", true},
		{"*.created", "branch.switched", false},
		{"version", "version.created", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.typ, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.typ))
		})
	}
}
