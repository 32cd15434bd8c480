// Command playground serves interactive tutorial workspaces.
//
// Usage:
//
//	playground serve [--port 8000] [--backend jsvm|local] [--catalog DIR]
//	playground catalog list [--dir DIR]
//	playground catalog validate [DIR]
//
// Configuration is read from the environment (PORT, LOG_LEVEL,
// SANDBOX_BACKEND, SESSION_RETRY_MODE, CATALOG_DIR, ...); flags override it.
package main
