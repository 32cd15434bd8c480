// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Components receive a *Logger and tag entries with the field helpers
// (Workspace, Session, Stage, Path) so boot and write events can be
// correlated per workspace.
//
//	logger := logging.NewDefault().Named("session")
//	logger.ForWorkspace("effect").Info("boot ready", logging.Session(id))
package logging
