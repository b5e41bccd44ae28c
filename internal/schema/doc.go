// Package schema validates entity and relation records against registered
// type definitions.
//
// A Schema is constructed explicitly and handed to the graph; there is no
// package-level registry. Type definitions can be built in Go or compiled
// from CUE (see CompileCUE).
package schema
