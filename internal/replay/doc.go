// Package replay rebuilds graph state from a base snapshot and an event
// log.
//
// Replay is deterministic: the same snapshot and the same filtered event
// sequence always produce byte-identical serialized state. It is also
// best-effort. An event that fails to apply is recorded as an
// *ApplicationError and replay moves on to the next one.
//
// Only replayable graph.* events take part (see Filter). Each mutation
// event maps to exactly one graph operation:
//
//	graph.entity.added      AddEntity(data.entity)
//	graph.entity.updated    UpdateEntity(data.id, data.patch)
//	graph.entity.removed    RemoveRelation for each data.cascade, then RemoveEntity(data.id)
//	graph.relation.added    AddRelation(data.relation), or ReinstateRelation when data.reinstated
//	graph.relation.updated  UpdateRelation(data.id, data.patch)
//	graph.relation.removed  RemoveRelation(data.id)
//	graph.reset             Reset()
//	graph.loaded            Restore(data.entities, data.relations)
//
// Any other graph.* type is skipped.
package replay
