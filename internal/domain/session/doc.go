// Package session implements the sandbox session: one running sandbox per
// workspace name, shared by every observer of that workspace.
//
// Lifecycle:
//
//	Acquire ──> Booting ──(create, mount, install, attach)──> Ready
//	               │                                             │
//	               └──────────────> Failed <─────────────────────┘ (never)
//
// A Failed session stays failed until it is acquired again (manual retry)
// or, in auto mode, until the backoff timer starts a new attempt. The last
// Release removes the session from the Manager; a later Acquire boots a new
// session with a new ID.
//
// Writes are accepted only while Ready. Each returns a WriteResult that
// settles exactly once; writes to the same path are applied in issue order.
//
// Process output is pumped by one goroutine per session into a bounded
// scrollback and to at most one sink set with Route.
package session
