package speech

import "context"

type TranscriptType string

const (
	TranscriptPartial TranscriptType = "partial"
	TranscriptFinal   TranscriptType = "final"
)

// Transcript is one incremental recognition result.
type Transcript struct {
	Type       TranscriptType
	Text       string
	Confidence float64
}

// RecognizerStream accepts raw audio frames for one recognition run. Results
// arrive on Results in the order they were produced; the channel closes after
// Close once any trailing final result has been emitted.
type RecognizerStream interface {
	PushAudio(ctx context.Context, frame []byte) error
	Close() error
	Results() <-chan Transcript
}

// Recognizer is the ASR capability. The id tags the run for logging and
// diagnostics; it carries no cross-call state.
type Recognizer interface {
	NewStream(ctx context.Context, id string) (RecognizerStream, error)
}

// SynthesisChunk is one unit of synthesized audio. A chunk with Err set is
// terminal for the run; the channel closes afterwards.
type SynthesisChunk struct {
	Audio []byte
	Err   error
}

// Synthesizer is the TTS capability. Synthesize returns an ordered chunk
// channel that closes when synthesis completes or ctx is cancelled.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (<-chan SynthesisChunk, error)
}
