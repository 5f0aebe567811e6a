package voice

import (
	"context"
	"time"
)

// ReplyChunkType identifies entries of the audio reply stream.
type ReplyChunkType string

const (
	// ReplyText opens a reply unit: the text about to be synthesized.
	ReplyText ReplyChunkType = "text"
	// ReplyAudio is one synthesized audio chunk.
	ReplyAudio ReplyChunkType = "audio"
	// ReplyEnd closes a reply unit.
	ReplyEnd ReplyChunkType = "end"
	// ReplyError terminates a reply unit after an adapter failure, in place
	// of its end marker. The stream itself continues with the next say.
	ReplyError ReplyChunkType = "error"
)

// Error codes carried by ReplyError chunks. A synthesis failure is local to
// its reply unit; a session failure is terminal for the whole stream.
const (
	ReplyCodeSynthesisFailed = "synthesis_failed"
	ReplyCodeSessionFailed   = "internal_failure"
)

// ReplyChunk is one entry of a session's ordered audio reply stream. For each
// say action the stream carries exactly one text chunk, the synthesized audio
// chunks in production order, and one end marker, with no interleaving across
// say actions.
type ReplyChunk struct {
	Type   ReplyChunkType
	Text   string
	Audio  []byte
	Code   string
	Detail string
}

// pumpReplies consumes the replies tap, keeping a single outstanding
// synthesis per session: synthesis of say N+1 does not start before the end
// marker of N is emitted.
func (o *Orchestrator) pumpReplies(ctx context.Context, src <-chan Event, out chan<- ReplyChunk) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-src:
			if !ok {
				return
			}
			switch evt.Type {
			case EventReply:
				if !o.synthesizeReply(ctx, out, evt.Text) {
					return
				}
			case EventError:
				o.emitReply(ctx, out, ReplyChunk{Type: ReplyError, Code: ReplyCodeSessionFailed, Detail: evt.Text})
				return
			default:
				// Recognize and command events are not part of the reply stream.
			}
		}
	}
}

func (o *Orchestrator) synthesizeReply(ctx context.Context, out chan<- ReplyChunk, text string) bool {
	if !o.emitReply(ctx, out, ReplyChunk{Type: ReplyText, Text: text}) {
		return false
	}

	start := time.Now()
	chunks, err := o.synthesizer.Synthesize(ctx, text)
	if err != nil {
		o.metrics.AdapterErrors.WithLabelValues("synthesizer").Inc()
		return o.emitReply(ctx, out, ReplyChunk{Type: ReplyError, Code: ReplyCodeSynthesisFailed, Detail: err.Error()})
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			o.metrics.AdapterErrors.WithLabelValues("synthesizer").Inc()
			return o.emitReply(ctx, out, ReplyChunk{Type: ReplyError, Code: ReplyCodeSynthesisFailed, Detail: chunk.Err.Error()})
		}
		if !o.emitReply(ctx, out, ReplyChunk{Type: ReplyAudio, Audio: chunk.Audio}) {
			return false
		}
	}

	o.metrics.ObserveSynthesisLatency(time.Since(start))
	return o.emitReply(ctx, out, ReplyChunk{Type: ReplyEnd})
}

func (o *Orchestrator) emitReply(ctx context.Context, out chan<- ReplyChunk, chunk ReplyChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
