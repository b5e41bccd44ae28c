// Package eventbus implements the synchronous publish/subscribe channel every
// strata component reports through.
//
// Emit appends the event to an in-memory history and then calls every
// listener whose pattern matches, in subscription order, on the caller's
// goroutine. A listener failure (panic or returned error) is logged and does
// not stop the remaining listeners.
//
// Patterns are dot-separated. A "*" segment matches one or more segments, so
// "graph.*" matches "graph.entity.added" and "graph.reset" but not "graph".
package eventbus
