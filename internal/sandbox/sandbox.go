package sandbox

import (
	"context"
	"io"
)

// File is one (path, content) entry mounted into a sandbox filesystem
type File struct {
	Path    string
	Content string
}

// Capability creates isolated execution contexts.
// Implementations must be safe for concurrent use.
type Capability interface {
	// Name returns the backend identifier (e.g. "jsvm", "local")
	Name() string

	// Create requests a fresh isolated context for a workspace
	Create(ctx context.Context, workspace string) (Context, error)
}

// Context is one isolated execution context. It is owned by a single session.
type Context interface {
	// ID returns the context identifier
	ID() string

	// Mount writes every entry into the context filesystem
	Mount(ctx context.Context, files []File) error

	// Install runs the install + start step. Its output is part of the
	// interactive process output stream.
	Install(ctx context.Context) error

	// Spawn attaches the interactive process. It is called at most once.
	Spawn(ctx context.Context) (Process, error)

	// WriteFile propagates new content for one path
	WriteFile(ctx context.Context, path, content string) error

	// ReadFile returns the current content of one path
	ReadFile(ctx context.Context, path string) (string, error)

	// Close releases every resource held by the context, including a
	// running process. It is safe to call more than once.
	Close() error
}

// Process is the interactive process of a context
type Process interface {
	// Output is the ordered output stream; it returns io.EOF once the
	// process has exited and all output was read.
	Output() io.Reader

	// Input receives keystrokes
	Input() io.Writer

	// Resize changes the terminal dimensions
	Resize(cols, rows int) error

	// Kill terminates the process
	Kill() error

	// Wait blocks until the process exits
	Wait() error
}

// Default terminal dimensions
const (
	DefaultCols = 80
	DefaultRows = 24
)
