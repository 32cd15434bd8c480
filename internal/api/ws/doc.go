// Package ws serves the WebSocket observer endpoint. Each connection is one
// observer of a workspace session: it receives state, files and terminal
// output, and sends edits, keystrokes and resizes.
package ws
