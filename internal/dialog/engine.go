package dialog

import (
	"context"
	"errors"
)

var ErrInvalidModel = errors.New("unknown dialog model")

// ModelInfo describes one entry of the model catalog.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Conversation is the per-session dialog state. Callers must serialize access:
// a Conversation is not safe for concurrent use, and the session layer
// guarantees at most one in-flight call per conversation.
type Conversation interface {
	ProcessText(ctx context.Context, text string) (Outcome, error)
	ProcessCommandResult(ctx context.Context, result CommandResult) (Outcome, error)
}

// Engine creates conversations from an enumerated model catalog. Alternate
// backends (an external interpreter service, a scripted fake) implement this
// interface; the session layer never depends on a concrete engine.
type Engine interface {
	Models() []ModelInfo
	NewConversation(ctx context.Context, modelID string) (Conversation, error)
}
