// Package projection exposes sessions to UI consumers as memoized views.
//
// Observe registers an Observer; ProjectFiles and ProjectTerminal wait for
// the session to settle and return views shared by every observer of the
// same session attempt. The views are rebuilt only when the session itself
// changes (a new boot attempt or a new session), never by re-observing.
// A Failed session yields errors wrapping ErrUnavailable and the boot cause.
package projection
