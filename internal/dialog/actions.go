package dialog

// ActionType identifies the kinds of instructions a dialog model can emit.
type ActionType string

const (
	// ActionSay is a prompt to speak back to the user.
	ActionSay ActionType = "say"
	// ActionCommand asks the client to execute a side effect and report back.
	ActionCommand ActionType = "command"
	// ActionWaitInput indicates the conversation is idle until the next input.
	ActionWaitInput ActionType = "wait_input"
	// ActionEndSession ends the conversation.
	ActionEndSession ActionType = "end_session"
)

// Action is a single instruction emitted by the engine. Fields are populated
// depending on Type: Text for say actions, CommandID/Parameters for command
// actions. DispatchID is assigned by the caller when the command is actually
// dispatched to a client; the engine leaves it empty.
type Action struct {
	Type       ActionType
	Text       string
	CommandID  string
	Parameters map[string]string
	DispatchID string
}

// CommandResult reports the outcome of a previously emitted command action.
type CommandResult struct {
	CommandID string
	Output    map[string]string
	Error     string
}

// Outcome is the engine's response to one serialized input turn.
type Outcome struct {
	Actions []Action
	// Recognized reports whether the input matched something the model
	// understands. Unmatched input still produces actions (fallback prompts).
	Recognized bool
}
