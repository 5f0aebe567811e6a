package dialog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MockEngine replays scripted outcomes and records every call. It also guards
// the single-in-flight contract: overlapping calls into one conversation fail
// loudly instead of racing silently.
type MockEngine struct {
	mu      sync.Mutex
	scripts map[string][]Outcome
	convs   []*MockConversation
}

func NewMockEngine() *MockEngine {
	return &MockEngine{scripts: make(map[string][]Outcome)}
}

// Script queues outcomes for the named model, consumed one per input turn.
func (e *MockEngine) Script(modelID string, outcomes ...Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripts[modelID] = append(e.scripts[modelID], outcomes...)
}

func (e *MockEngine) Models() []ModelInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ModelInfo, 0, len(e.scripts))
	for id := range e.scripts {
		out = append(out, ModelInfo{ID: id, Name: id})
	}
	return out
}

func (e *MockEngine) NewConversation(_ context.Context, modelID string) (Conversation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.scripts[modelID]; !ok {
		return nil, ErrInvalidModel
	}
	c := &MockConversation{engine: e, modelID: modelID}
	e.convs = append(e.convs, c)
	return c, nil
}

// Conversations returns every conversation created so far, in creation order.
func (e *MockEngine) Conversations() []*MockConversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*MockConversation(nil), e.convs...)
}

type MockConversation struct {
	engine   *MockEngine
	modelID  string
	inFlight atomic.Int32

	// Calls received, in order. Guarded by engine.mu.
	Texts   []string
	Results []CommandResult
}

func (c *MockConversation) next() (Outcome, error) {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	queue := c.engine.scripts[c.modelID]
	if len(queue) == 0 {
		return Outcome{Actions: []Action{{Type: ActionWaitInput}}}, nil
	}
	out := queue[0]
	c.engine.scripts[c.modelID] = queue[1:]
	return out, nil
}

func (c *MockConversation) enter() error {
	if c.inFlight.Add(1) != 1 {
		return fmt.Errorf("concurrent conversation call for model %s", c.modelID)
	}
	return nil
}

func (c *MockConversation) ProcessText(ctx context.Context, text string) (Outcome, error) {
	if err := c.enter(); err != nil {
		return Outcome{}, err
	}
	defer c.inFlight.Add(-1)
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	c.engine.mu.Lock()
	c.Texts = append(c.Texts, text)
	c.engine.mu.Unlock()
	return c.next()
}

func (c *MockConversation) ProcessCommandResult(ctx context.Context, result CommandResult) (Outcome, error) {
	if err := c.enter(); err != nil {
		return Outcome{}, err
	}
	defer c.inFlight.Add(-1)
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	c.engine.mu.Lock()
	c.Results = append(c.Results, result)
	c.engine.mu.Unlock()
	return c.next()
}

// ReceivedTexts returns the text inputs processed so far.
func (c *MockConversation) ReceivedTexts() []string {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	return append([]string(nil), c.Texts...)
}

// ReceivedResults returns the command results processed so far.
func (c *MockConversation) ReceivedResults() []CommandResult {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	return append([]CommandResult(nil), c.Results...)
}
