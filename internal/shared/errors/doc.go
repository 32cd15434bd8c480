// Package errors provides the playground error taxonomy.
//
// # Error Kinds
//
//	KindBoot       // BootFailure: create, mount, install or attach stage failed
//	KindWrite      // WriteFailure: session not Ready, or propagation failed
//	KindAttach     // AttachFailure: terminal attached to an invalid target
//	KindNotFound   // unknown workspace or path
//	KindValidation // invalid descriptor or request
//	KindConfig     // configuration could not be loaded
//
// Boot and write failures are carried as values in session state and write
// results. They are never panics.
//
// # Sentinels
//
//	ErrUnavailable   // the session is Booting, Failed or released
//	ErrInvalidTarget // nil or closed render target
//	ErrClosed        // the handle was closed
//
// # Boundaries
//
// GetHTTPStatus maps an error chain to an API status code, GetExitCode maps it
// to a CLI exit code:
//
//	if err != nil {
//	    os.Exit(errors.GetExitCode(err))
//	}
package errors
