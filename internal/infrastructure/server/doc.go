// Package server assembles the playground: catalog, sandbox backend, session
// manager, projector and the gin router with HTTP and WebSocket routes.
package server
