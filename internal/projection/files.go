package projection

import (
	"github.com/GriffinCanCode/playground/internal/domain/session"
)

// FileHandle reads the live content of one file of interest
type FileHandle struct {
	path    string
	session *session.Session
}

// Path returns the workspace-relative path
func (h FileHandle) Path() string { return h.path }

// Content returns the current live content
func (h FileHandle) Content() (string, error) {
	return h.session.ReadFile(h.path)
}

// WriteFunc is the write capability of one path; it never blocks
type WriteFunc func(content string) *session.WriteResult

// Entry pairs a file handle with its write capability
type Entry struct {
	Handle FileHandle
	Write  WriteFunc
}

// FileSet is the ordered files-of-interest projection of one session attempt
type FileSet struct {
	workspace string
	sessionID string
	attempt   int
	entries   []Entry
	index     map[string]int
}

func newFileSet(s *session.Session, attempt int) *FileSet {
	paths := s.Workspace().FilesOfInterest()
	fs := &FileSet{
		workspace: s.Workspace().Name(),
		sessionID: s.ID().String(),
		attempt:   attempt,
		entries:   make([]Entry, len(paths)),
		index:     make(map[string]int, len(paths)),
	}
	for i, p := range paths {
		fs.entries[i] = Entry{
			Handle: FileHandle{path: p, session: s},
			Write: func(content string) *session.WriteResult {
				return s.Write(p, content)
			},
		}
		fs.index[p] = i
	}
	return fs
}

// Workspace returns the workspace name
func (fs *FileSet) Workspace() string { return fs.workspace }

// SessionID returns the session the set is bound to
func (fs *FileSet) SessionID() string { return fs.sessionID }

// Attempt returns the boot attempt the set was built for
func (fs *FileSet) Attempt() int { return fs.attempt }

// Len returns the number of files of interest
func (fs *FileSet) Len() int { return len(fs.entries) }

// Entries returns the entries in files-of-interest order
func (fs *FileSet) Entries() []Entry {
	return append([]Entry(nil), fs.entries...)
}

// Lookup returns the entry for path
func (fs *FileSet) Lookup(path string) (Entry, bool) {
	i, ok := fs.index[path]
	if !ok {
		return Entry{}, false
	}
	return fs.entries[i], true
}
