// Package http exposes the workspace catalog, session snapshots, file writes
// and archive export over gin.
package http
