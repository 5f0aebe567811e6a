package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-voice/parley/internal/dialog"
	"github.com/parley-voice/parley/internal/observability"
	"github.com/parley-voice/parley/internal/session"
	"github.com/parley-voice/parley/internal/speech"
	"github.com/parley-voice/parley/internal/transcript"
)

const transcriptSaveTimeout = 2 * time.Second

// Orchestrator is the session and stream correlation core. It owns the live
// runtimes, routes input into the dialog engine with at most one in-flight
// call per session, fans resulting events out to the event and reply streams,
// and matches command completions back to the engine. Calls for different
// sessions proceed fully in parallel.
type Orchestrator struct {
	sessions    *session.Manager
	engine      dialog.Engine
	recognizer  speech.Recognizer
	synthesizer speech.Synthesizer
	transcripts transcript.Store
	metrics     *observability.Metrics

	mu       sync.RWMutex
	runtimes map[string]*runtime
}

func NewOrchestrator(
	sessions *session.Manager,
	engine dialog.Engine,
	recognizer speech.Recognizer,
	synthesizer speech.Synthesizer,
	transcripts transcript.Store,
	metrics *observability.Metrics,
) *Orchestrator {
	o := &Orchestrator{
		sessions:    sessions,
		engine:      engine,
		recognizer:  recognizer,
		synthesizer: synthesizer,
		transcripts: transcripts,
		metrics:     metrics,
		runtimes:    make(map[string]*runtime),
	}
	sessions.SetExpireHook(func(s *session.Session) {
		o.teardown(s.ID)
		o.metrics.SessionEvents.WithLabelValues("expired").Inc()
	})
	return o
}

// Models reports the dialog model catalog.
func (o *Orchestrator) Models() []dialog.ModelInfo {
	return o.engine.Models()
}

// CreateSession validates the model, allocates a session and its runtime, and
// returns the registry record.
func (o *Orchestrator) CreateSession(ctx context.Context, modelID string) (*session.Session, error) {
	conv, err := o.engine.NewConversation(ctx, modelID)
	if err != nil {
		return nil, err
	}

	s := o.sessions.Create(modelID)
	r := newRuntime(s.ID, modelID, conv)

	o.mu.Lock()
	o.runtimes[s.ID] = r
	o.mu.Unlock()

	o.metrics.SessionEvents.WithLabelValues("created").Inc()
	o.metrics.ActiveSessions.Set(float64(o.sessions.ActiveCount()))
	return s, nil
}

// EndSession terminates the session: every open stream for it closes, and
// outstanding commands are discarded. Ending an unknown or already-ended
// session fails with session.ErrNotFound.
func (o *Orchestrator) EndSession(_ context.Context, sessionID string) (*session.Session, error) {
	s, err := o.sessions.End(sessionID)
	if err != nil {
		return nil, err
	}
	o.teardown(sessionID)
	o.metrics.SessionEvents.WithLabelValues("ended").Inc()
	return s, nil
}

// SessionEvents subscribes to the session's dialog events. A new subscription
// supersedes any prior one for the session; the superseded stream observes a
// graceful close and missed events are not replayed. The returned cancel
// must be called when the consumer is done.
func (o *Orchestrator) SessionEvents(_ context.Context, sessionID string) (<-chan Event, func(), error) {
	r, err := o.runtimeFor(sessionID)
	if err != nil {
		return nil, nil, err
	}
	_ = o.sessions.Touch(sessionID)

	ch, cancel := r.events.subscribe(tapEvents)
	o.metrics.StreamEvents.WithLabelValues("events", "subscribed").Inc()
	return ch, cancel, nil
}

// PushText routes typed or externally recognized text into the dialog engine.
// The ack means the turn was accepted and processed by the engine, not that
// resulting events were delivered.
func (o *Orchestrator) PushText(ctx context.Context, sessionID, text string) error {
	r, err := o.runtimeFor(sessionID)
	if err != nil {
		return err
	}
	_ = o.sessions.Touch(sessionID)
	return o.processText(ctx, r, text)
}

// OpenAudioInput attaches a new audio sink to the session. If one is already
// open it is terminated first and fully released before the new sink accepts
// any frame.
func (o *Orchestrator) OpenAudioInput(_ context.Context, sessionID string) (*AudioInput, error) {
	r, err := o.runtimeFor(sessionID)
	if err != nil {
		return nil, err
	}
	_ = o.sessions.Touch(sessionID)

	r.openMu.Lock()
	defer r.openMu.Unlock()

	r.inputMu.Lock()
	cur := r.input
	r.input = nil
	r.inputMu.Unlock()
	if cur != nil {
		cur.terminate()
		<-cur.done
		o.metrics.StreamEvents.WithLabelValues("audio_input", "superseded").Inc()
	}

	ictx, icancel := context.WithCancel(r.ctx)
	stream, err := o.recognizer.NewStream(ictx, sessionID)
	if err != nil {
		icancel()
		o.metrics.AdapterErrors.WithLabelValues("recognizer").Inc()
		return nil, fmt.Errorf("open recognizer stream: %w", err)
	}

	in := &AudioInput{
		sessionID: sessionID,
		ctx:       ictx,
		cancel:    icancel,
		stream:    stream,
		done:      make(chan struct{}),
	}

	r.inputMu.Lock()
	r.input = in
	r.inputMu.Unlock()

	o.metrics.StreamEvents.WithLabelValues("audio_input", "opened").Inc()
	go o.pumpTranscripts(r, in)
	return in, nil
}

// AudioReplies subscribes to the session's ordered reply units. Subscription
// policy mirrors SessionEvents: supersede-old, no replay.
func (o *Orchestrator) AudioReplies(ctx context.Context, sessionID string) (<-chan ReplyChunk, func(), error) {
	r, err := o.runtimeFor(sessionID)
	if err != nil {
		return nil, nil, err
	}
	_ = o.sessions.Touch(sessionID)

	src, unsub := r.events.subscribe(tapReplies)

	pctx, pcancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-r.ctx.Done():
			pcancel()
		case <-pctx.Done():
		}
	}()

	out := make(chan ReplyChunk, 16)
	go o.pumpReplies(pctx, src, out)

	cancel := func() {
		pcancel()
		unsub()
	}
	o.metrics.StreamEvents.WithLabelValues("replies", "subscribed").Inc()
	return out, cancel, nil
}

// CommandFinished matches a completion report against the session's pending
// commands and forwards the outcome into the dialog engine. A non-empty
// errMsg reports the command as failed; the engine decides the follow-up.
func (o *Orchestrator) CommandFinished(ctx context.Context, sessionID, commandID string, output map[string]string, errMsg string) error {
	r, err := o.runtimeFor(sessionID)
	if err != nil {
		return err
	}
	_ = o.sessions.Touch(sessionID)

	if _, ok := r.takePending(commandID); !ok {
		return ErrUnknownCommand
	}
	o.metrics.PendingCommands.Dec()

	r.dialogMu.Lock()
	defer r.dialogMu.Unlock()
	out, err := r.conv.ProcessCommandResult(ctx, dialog.CommandResult{CommandID: commandID, Output: output, Error: errMsg})
	if err != nil {
		return err
	}
	o.routeActions(r, out.Actions)
	return nil
}

// GetSession returns the registry record for an active session.
func (o *Orchestrator) GetSession(_ context.Context, sessionID string) (*session.Session, error) {
	return o.sessions.Get(sessionID)
}

// NewASRStream opens an ephemeral recognition stream with no session attached.
func (o *Orchestrator) NewASRStream(ctx context.Context) (speech.RecognizerStream, error) {
	return o.recognizer.NewStream(ctx, "asr-"+uuid.NewString())
}

// SynthesizeText runs one ephemeral synthesis with no session attached.
func (o *Orchestrator) SynthesizeText(ctx context.Context, text string) (<-chan speech.SynthesisChunk, error) {
	return o.synthesizer.Synthesize(ctx, text)
}

func (o *Orchestrator) runtimeFor(sessionID string) (*runtime, error) {
	o.mu.RLock()
	r := o.runtimes[sessionID]
	o.mu.RUnlock()
	if r == nil {
		return nil, session.ErrNotFound
	}
	return r, nil
}

// processText is the single entry point for user input turns; dialogMu makes
// the engine call serialized per session.
func (o *Orchestrator) processText(ctx context.Context, r *runtime, text string) error {
	r.dialogMu.Lock()
	defer r.dialogMu.Unlock()

	out, err := r.conv.ProcessText(ctx, text)
	if err != nil {
		return err
	}

	o.saveTurn(r.sessionID, transcript.RoleUser, text)
	r.events.publish(Event{Type: EventRecognize, Text: text, ValidInput: out.Recognized})
	o.routeActions(r, out.Actions)
	return nil
}

// routeActions publishes engine actions to the session's streams and records
// command dispatches. Callers hold dialogMu, so the published order is the
// engine's order.
func (o *Orchestrator) routeActions(r *runtime, actions []dialog.Action) {
	endSession := false
	for _, a := range actions {
		o.metrics.DialogActions.WithLabelValues(string(a.Type)).Inc()
		switch a.Type {
		case dialog.ActionSay:
			o.saveTurn(r.sessionID, transcript.RoleAssistant, a.Text)
			r.events.publish(Event{Type: EventReply, Text: a.Text})
		case dialog.ActionCommand:
			p := pendingCommand{
				CommandID:  a.CommandID,
				DispatchID: uuid.NewString(),
				Parameters: a.Parameters,
				IssuedAt:   time.Now().UTC(),
			}
			r.cmdMu.Lock()
			r.pending[a.CommandID] = p
			r.cmdMu.Unlock()
			o.metrics.PendingCommands.Inc()
			o.saveTurn(r.sessionID, transcript.RoleCommand, a.CommandID)
			r.events.publish(Event{
				Type:       EventCommand,
				CommandID:  a.CommandID,
				DispatchID: p.DispatchID,
				Parameters: a.Parameters,
			})
		case dialog.ActionEndSession:
			endSession = true
		case dialog.ActionWaitInput:
			// Nothing to deliver; the session waits for the next input.
		}
	}

	if endSession {
		// The engine asked to end the session. Tear down outside dialogMu.
		go func(id string) {
			if _, err := o.EndSession(context.Background(), id); err != nil && !errors.Is(err, session.ErrNotFound) {
				log.Printf("session %s: dialog-directed end failed: %v", id, err)
			}
		}(r.sessionID)
	}
}

// pumpTranscripts routes finalized recognizer results into the dialog engine
// exactly like typed text.
func (o *Orchestrator) pumpTranscripts(r *runtime, in *AudioInput) {
	defer close(in.done)
	defer func() {
		if p := recover(); p != nil {
			o.failSession(r, fmt.Errorf("audio input pump panic: %v", p))
		}
	}()
	defer func() {
		r.inputMu.Lock()
		if r.input == in {
			r.input = nil
		}
		r.inputMu.Unlock()
	}()

	for {
		select {
		case <-in.ctx.Done():
			return
		case tr, ok := <-in.stream.Results():
			if !ok {
				return
			}
			if tr.Type != speech.TranscriptFinal {
				continue
			}
			if err := o.processText(in.ctx, r, tr.Text); err != nil {
				log.Printf("session %s: recognized input rejected: %v", r.sessionID, err)
			}
		}
	}
}

// failSession handles an internal fault: subscribers get a terminal error
// event, then the session is force-ended.
func (o *Orchestrator) failSession(r *runtime, cause error) {
	log.Printf("session %s: internal fault: %v", r.sessionID, cause)
	r.events.publish(Event{Type: EventError, Text: cause.Error()})
	if _, err := o.sessions.End(r.sessionID); err == nil {
		o.metrics.SessionEvents.WithLabelValues("faulted").Inc()
	}
	o.teardown(r.sessionID)
}

// teardown releases the runtime: cancels the session context so every
// subscriber and sink unblocks, terminates the audio input, and discards
// pending commands. Safe to call more than once.
func (o *Orchestrator) teardown(sessionID string) {
	o.mu.Lock()
	r := o.runtimes[sessionID]
	delete(o.runtimes, sessionID)
	o.mu.Unlock()
	if r == nil {
		return
	}

	r.cancel()

	r.inputMu.Lock()
	cur := r.input
	r.input = nil
	r.inputMu.Unlock()
	if cur != nil {
		cur.terminate()
	}

	if n := r.discardPending(); n > 0 {
		o.metrics.PendingCommands.Sub(float64(n))
	}
	o.metrics.ActiveSessions.Set(float64(o.sessions.ActiveCount()))
}

func (o *Orchestrator) saveTurn(sessionID string, role transcript.Role, content string) {
	if o.transcripts == nil || content == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), transcriptSaveTimeout)
		defer cancel()
		if err := o.transcripts.SaveTurn(ctx, transcript.TurnRecord{
			SessionID: sessionID,
			Role:      role,
			Content:   content,
		}); err != nil {
			log.Printf("session %s: transcript save failed: %v", sessionID, err)
		}
	}()
}
