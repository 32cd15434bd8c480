// Package terminal provides the terminal handle of a workspace: a logical
// terminal created independently of any rendering surface, then bound to
// one Target at a time with Attach.
//
//	term := terminal.New("effect", sess, logger, metrics)
//	_ = term.Attach(ws)   // ws receives scrollback, then live output
//	_ = term.Attach(ws)   // no-op
//	_ = term.Attach(ws2)  // ws detached, ws2 receives scrollback + output
//
// Output is never delivered to two targets. Keystrokes go back through
// Write; Resize changes the process dimensions.
package terminal
