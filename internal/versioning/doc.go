// Package versioning captures immutable snapshots of a graph as versions
// linked into a DAG, and maintains named branches over them.
//
// The engine tracks whether the graph has changed since the last snapshot
// by subscribing to graph mutation events; it never polls.
//
//	clean --(graph mutation)--> dirty --(CreateVersion)--> clean
//	                                  --(SwitchToVersion)--> clean
//
// Versions are never mutated after creation. Their snapshots are frozen in
// canonical form, so every read hands out an independent copy.
package versioning
