package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Intent matches user input against keywords and describes the model's
// response. A command intent dispatches CommandID to the client and speaks
// DoneReply once the command finishes; a plain intent speaks Reply directly.
type Intent struct {
	ID         string            `json:"id"`
	Keywords   []string          `json:"keywords"`
	Reply      string            `json:"reply,omitempty"`
	CommandID  string            `json:"command_id,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
	DoneReply  string            `json:"done_reply,omitempty"`
	EndSession bool              `json:"end_session,omitempty"`
}

// Model is one dialog model of the catalog.
type Model struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Fallback string   `json:"fallback"`
	Intents  []Intent `json:"intents"`
}

// RuleEngine is the built-in keyword interpreter. It stands in for a full
// dialog-model runtime so the server works end to end without an external
// policy service.
type RuleEngine struct {
	models map[string]Model
}

func NewRuleEngine(models ...Model) *RuleEngine {
	e := &RuleEngine{models: make(map[string]Model, len(models))}
	for _, m := range models {
		e.models[m.ID] = m
	}
	return e
}

// DefaultCatalog returns the models bundled with the server.
func DefaultCatalog() []Model {
	return []Model{
		{
			ID:       "home",
			Name:     "Home Automation",
			Fallback: "Sorry, I didn't catch that.",
			Intents: []Intent{
				{
					ID:        "light_on",
					Keywords:  []string{"turn", "on", "light"},
					CommandID: "turnOnLight",
					DoneReply: "Done.",
				},
				{
					ID:        "light_off",
					Keywords:  []string{"turn", "off", "light"},
					CommandID: "turnOffLight",
					DoneReply: "Done.",
				},
				{
					ID:       "greeting",
					Keywords: []string{"hello"},
					Reply:    "Hello. How can I help?",
				},
				{
					ID:         "farewell",
					Keywords:   []string{"goodbye"},
					Reply:      "Goodbye.",
					EndSession: true,
				},
			},
		},
		{
			ID:       "echo",
			Name:     "Echo",
			Fallback: "",
			Intents:  nil,
		},
	}
}

// LoadCatalogFile reads additional models from a JSON file. The file holds an
// array of Model objects.
func LoadCatalogFile(path string) ([]Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model catalog: %w", err)
	}
	var models []Model
	if err := json.Unmarshal(raw, &models); err != nil {
		return nil, fmt.Errorf("parse model catalog %s: %w", path, err)
	}
	for _, m := range models {
		if strings.TrimSpace(m.ID) == "" {
			return nil, fmt.Errorf("parse model catalog %s: model with empty id", path)
		}
	}
	return models, nil
}

func (e *RuleEngine) Models() []ModelInfo {
	out := make([]ModelInfo, 0, len(e.models))
	for _, m := range e.models {
		out = append(out, ModelInfo{ID: m.ID, Name: m.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *RuleEngine) NewConversation(_ context.Context, modelID string) (Conversation, error) {
	m, ok := e.models[modelID]
	if !ok {
		return nil, ErrInvalidModel
	}
	return &ruleConversation{model: m, doneReplies: make(map[string]string)}, nil
}

// ruleConversation holds per-session interpreter state. Access is serialized
// by the session layer.
type ruleConversation struct {
	model       Model
	doneReplies map[string]string
}

func (c *ruleConversation) ProcessText(ctx context.Context, text string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Outcome{Actions: []Action{{Type: ActionWaitInput}}}, nil
	}

	// The echo model has no intents and simply repeats the input.
	if len(c.model.Intents) == 0 && c.model.Fallback == "" {
		return Outcome{
			Actions: []Action{
				{Type: ActionSay, Text: trimmed},
				{Type: ActionWaitInput},
			},
			Recognized: true,
		}, nil
	}

	if intent, ok := matchIntent(c.model.Intents, trimmed); ok {
		actions := make([]Action, 0, 3)
		if intent.CommandID != "" {
			c.doneReplies[intent.CommandID] = intent.DoneReply
			actions = append(actions, Action{
				Type:       ActionCommand,
				CommandID:  intent.CommandID,
				Parameters: intent.Parameters,
			})
		}
		if intent.Reply != "" {
			actions = append(actions, Action{Type: ActionSay, Text: intent.Reply})
		}
		if intent.EndSession {
			actions = append(actions, Action{Type: ActionEndSession})
		} else {
			actions = append(actions, Action{Type: ActionWaitInput})
		}
		return Outcome{Actions: actions, Recognized: true}, nil
	}

	actions := []Action{{Type: ActionWaitInput}}
	if c.model.Fallback != "" {
		actions = []Action{
			{Type: ActionSay, Text: c.model.Fallback},
			{Type: ActionWaitInput},
		}
	}
	return Outcome{Actions: actions}, nil
}

func (c *ruleConversation) ProcessCommandResult(ctx context.Context, result CommandResult) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	if result.Error != "" {
		return Outcome{
			Actions: []Action{
				{Type: ActionSay, Text: "That didn't work: " + result.Error},
				{Type: ActionWaitInput},
			},
			Recognized: true,
		}, nil
	}

	reply := c.doneReplies[result.CommandID]
	delete(c.doneReplies, result.CommandID)
	if reply == "" {
		return Outcome{Actions: []Action{{Type: ActionWaitInput}}, Recognized: true}, nil
	}
	return Outcome{
		Actions: []Action{
			{Type: ActionSay, Text: reply},
			{Type: ActionWaitInput},
		},
		Recognized: true,
	}, nil
}

func matchIntent(intents []Intent, text string) (Intent, bool) {
	lowered := strings.ToLower(text)
	for _, intent := range intents {
		if len(intent.Keywords) == 0 {
			continue
		}
		all := true
		for _, kw := range intent.Keywords {
			if !containsWord(lowered, strings.ToLower(kw)) {
				all = false
				break
			}
		}
		if all {
			return intent, true
		}
	}
	return Intent{}, false
}

func containsWord(text, word string) bool {
	for _, field := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '?' || r == '!'
	}) {
		if field == word {
			return true
		}
	}
	return false
}
