// Package graph is the entity/relation store at the center of strata.
//
// Every successful mutation validates against the schema, commits, and then
// emits exactly one event on the bus:
//
//	graph.entity.added      {entity}
//	graph.entity.updated    {id, before, after, patch}
//	graph.entity.removed    {id, entity, cascade?}
//	graph.relation.added    {relation}
//	graph.relation.updated  {id, before, after, patch}
//	graph.relation.removed  {id, relation}
//
// Bulk operations emit graph.loaded and graph.reset. Records are kept in
// insertion order, so Serialize is deterministic for a given history.
package graph
