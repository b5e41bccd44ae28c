// Package undo implements the undo/redo manager.
//
// The manager subscribes to graph mutation events and turns each into a
// Command whose Undo and Execute call back into the graph. Batches group
// several mutations into one undo step; Transaction adds rollback on
// error. The undo stack is bounded and drops its oldest entry first.
package undo
