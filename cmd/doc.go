// Package cmd implements the command-line interface of geoKV. It opens a
// backend from flags or GEOKV_* environment variables and runs index
// operations against it.
//
// The package is organized into several subpackages:
//
//   - index: Commands to initialize, write and query an index (init, append, update, box, ...)
//   - lock: Commands to run a program while holding an index lock file
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See geokv -help for a list of all commands.
package cmd
