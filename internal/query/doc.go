// Package query implements the fluent, immutable graph query builder.
//
// A Query is built from a Reader (usually a *graph.Graph) and evaluated by
// Execute in a fixed ten-stage pipeline: initial set, filters, traversals,
// expansions, path search, distinct, order, offset, limit and projection.
//
// Predicates form a closed set (see Predicate) so that they can be
// evaluated in memory here and compiled to SQL by package querysql.
package query
