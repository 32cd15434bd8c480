package ws

import (
	"github.com/GriffinCanCode/playground/internal/domain/session"
	"github.com/GriffinCanCode/playground/internal/projection"
	perrors "github.com/GriffinCanCode/playground/internal/shared/errors"
)

// Message types
const (
	TypeEdit        = "edit"
	TypeResize      = "resize"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeState       = "state"
	TypeFiles       = "files"
	TypeWriteResult = "write_result"
	TypeError       = "error"
)

// ClientMessage is any text frame sent by the browser
type ClientMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	Cols    int    `json:"cols,omitempty"`
	Rows    int    `json:"rows,omitempty"`
}

// StateMessage reports the session state
type StateMessage struct {
	Type      string `json:"type"`
	Workspace string `json:"workspace"`
	Session   string `json:"session"`
	Attempt   int    `json:"attempt"`
	State     string `json:"state"`
	Cause     string `json:"cause,omitempty"`
}

// FileMessage is one file of interest
type FileMessage struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FilesMessage carries the file projection of one attempt
type FilesMessage struct {
	Type    string        `json:"type"`
	Attempt int           `json:"attempt"`
	Files   []FileMessage `json:"files"`
}

// WriteResultMessage reports a settled edit
type WriteResultMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	WriteID string `json:"write_id"`
	Path    string `json:"path"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// ErrorMessage reports a rejected request or a failed boot
type ErrorMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// PongMessage answers a ping
type PongMessage struct {
	Type string `json:"type"`
}

func stateMessage(snap session.Snapshot) StateMessage {
	return StateMessage{
		Type:      TypeState,
		Workspace: snap.Workspace,
		Session:   snap.ID,
		Attempt:   snap.Attempt,
		State:     snap.State.String(),
		Cause:     snap.Cause,
	}
}

func filesMessage(fs *projection.FileSet) FilesMessage {
	msg := FilesMessage{Type: TypeFiles, Attempt: fs.Attempt(), Files: make([]FileMessage, 0, fs.Len())}
	for _, e := range fs.Entries() {
		content, _ := e.Handle.Content()
		msg.Files = append(msg.Files, FileMessage{Path: e.Handle.Path(), Content: content})
	}
	return msg
}

func writeResultMessage(clientID string, res *session.WriteResult) WriteResultMessage {
	msg := WriteResultMessage{
		Type:    TypeWriteResult,
		ID:      clientID,
		WriteID: res.ID().String(),
		Path:    res.Path(),
		Status:  res.Status().String(),
	}
	if err := res.Err(); err != nil {
		msg.Error = err.Error()
	}
	return msg
}

func errorMessage(clientID string, err error) ErrorMessage {
	return ErrorMessage{
		Type:    TypeError,
		ID:      clientID,
		Kind:    perrors.KindOf(err).String(),
		Message: err.Error(),
	}
}
