package voice

import (
	"context"
	"sync"
	"time"

	"github.com/parley-voice/parley/internal/dialog"
)

// runtime is the server-side state of one live session. The registry record
// is the session's identity; the runtime owns everything that moves: the
// conversation, the broadcaster, the audio-input slot, and the pending
// command table. It is created by CreateSession and torn down exactly once.
type runtime struct {
	sessionID string
	modelID   string
	conv      dialog.Conversation

	ctx    context.Context
	cancel context.CancelFunc

	events *broadcaster

	// dialogMu serializes every call into the conversation. Text input,
	// recognized audio input, and command results all take it, so the engine
	// never sees concurrent calls for one session.
	dialogMu sync.Mutex

	// openMu serializes OpenAudioInput calls; inputMu guards only the slot
	// pointer so the transcript pump can release it without deadlocking an
	// in-progress open.
	openMu  sync.Mutex
	inputMu sync.Mutex
	input   *AudioInput

	cmdMu   sync.Mutex
	pending map[string]pendingCommand
}

type pendingCommand struct {
	CommandID  string
	DispatchID string
	Parameters map[string]string
	IssuedAt   time.Time
}

func newRuntime(sessionID, modelID string, conv dialog.Conversation) *runtime {
	ctx, cancel := context.WithCancel(context.Background())
	return &runtime{
		sessionID: sessionID,
		modelID:   modelID,
		conv:      conv,
		ctx:       ctx,
		cancel:    cancel,
		events:    newBroadcaster(ctx),
		pending:   make(map[string]pendingCommand),
	}
}

// takePending removes and returns the pending command, if any.
func (r *runtime) takePending(commandID string) (pendingCommand, bool) {
	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()
	p, ok := r.pending[commandID]
	if ok {
		delete(r.pending, commandID)
	}
	return p, ok
}

// discardPending drops every outstanding command and reports how many there
// were. Unfinished commands are never retried.
func (r *runtime) discardPending() int {
	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()
	n := len(r.pending)
	r.pending = make(map[string]pendingCommand)
	return n
}
