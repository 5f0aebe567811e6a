package voice

import (
	"context"
	"sync"

	"github.com/parley-voice/parley/internal/speech"
)

// AudioInput is the live audio sink for a session. At most one is active per
// session at any instant: opening a new one first terminates the previous
// sink and waits for it to release, so frames from two openings can never
// interleave into the recognizer.
type AudioInput struct {
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	stream    speech.RecognizerStream

	// done closes once the transcript pump has fully released this input.
	done chan struct{}

	streamOnce sync.Once
}

// Push forwards one raw audio frame to the recognizer. It fails with
// ErrInputClosed once the input has been superseded or the session ended.
func (in *AudioInput) Push(ctx context.Context, frame []byte) error {
	select {
	case <-in.ctx.Done():
		return ErrInputClosed
	default:
	}
	return in.stream.PushAudio(ctx, frame)
}

// Close signals that no more audio is coming. The recognizer flushes, and any
// trailing final transcript is still routed into the dialog engine.
func (in *AudioInput) Close() error {
	in.closeStream()
	return nil
}

// Done closes when the input has fully released its recognizer stream.
func (in *AudioInput) Done() <-chan struct{} { return in.done }

func (in *AudioInput) closeStream() {
	in.streamOnce.Do(func() { _ = in.stream.Close() })
}

// terminate force-closes the input: cancellation first so a blocked Push
// fails fast, then the recognizer stream.
func (in *AudioInput) terminate() {
	in.cancel()
	in.closeStream()
}
