package graph

import (
	"fmt"
	"log/slog"
)

// CascadePolicy decides what happens to relations when an entity they
// reference is removed.
type CascadePolicy string

const (
	// CascadeOrphan leaves the relations in place, dangling.
	CascadeOrphan CascadePolicy = "orphan"

	// CascadeDelete removes the relations as part of the same mutation. They
	// are listed under "cascade" in the graph.entity.removed payload.
	CascadeDelete CascadePolicy = "delete"

	// CascadeReject refuses the removal with a HAS_RELATIONS error.
	CascadeReject CascadePolicy = "reject"
)

// ParseCascadePolicy parses a policy name. The empty string yields the
// default, CascadeOrphan.
func ParseCascadePolicy(s string) (CascadePolicy, error) {
	switch CascadePolicy(s) {
	case "", CascadeOrphan:
		return CascadeOrphan, nil
	case CascadeDelete:
		return CascadeDelete, nil
	case CascadeReject:
		return CascadeReject, nil
	}
	return "", fmt.Errorf("unknown cascade policy %q (valid: orphan, delete, reject)", s)
}

// Option configures a Graph.
type Option func(*Graph)

// WithCascade sets the cascade policy. Default: CascadeOrphan.
func WithCascade(p CascadePolicy) Option {
	return func(g *Graph) { g.cascade = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) { g.logger = l }
}
