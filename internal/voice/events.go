package voice

import "errors"

// EventType identifies entries of a session's event stream.
type EventType string

const (
	// EventRecognize reports finalized user input, typed or transcribed.
	EventRecognize EventType = "recognize"
	// EventReply carries the text of a say action.
	EventReply EventType = "reply"
	// EventCommand asks the client to execute a command and report back.
	EventCommand EventType = "command"
	// EventError is terminal: the session was torn down by an internal fault.
	EventError EventType = "error"
)

// Event is one entry of a session's ordered event sequence. Events are
// delivered in the exact order the dialog engine produced the underlying
// actions.
type Event struct {
	Type       EventType
	Text       string
	ValidInput bool
	CommandID  string
	DispatchID string
	Parameters map[string]string
}

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInputClosed    = errors.New("audio input closed")
)
