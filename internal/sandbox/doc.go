// Package sandbox defines the boundary to sandbox execution engines.
//
// A Capability creates isolated Contexts. A session drives a context through
// a fixed sequence:
//
//  1. Create the context
//  2. Mount the workspace seed files
//  3. Install (install + start step)
//  4. Spawn the interactive process
//
// and afterwards propagates edits with WriteFile until it calls Close.
//
// Backends:
//   - jsvm: in-process JavaScript sandbox on goja with an in-memory filesystem
//   - local: host directory per context with a PTY shell
//   - sandboxtest: scripted fake for tests
package sandbox
