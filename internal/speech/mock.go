package speech

import (
	"context"
	"strings"
	"sync"
)

// MockProvider is a deterministic in-process recognizer and synthesizer used
// for tests and for running the server without real speech engines. Audio
// frames are treated as UTF-8 text: each pushed frame extends the transcript,
// and closing the stream commits the accumulated text as the final result.
// Synthesis renders the text bytes as fixed-size audio chunks.
type MockProvider struct {
	ChunkSize int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{ChunkSize: 8}
}

func (p *MockProvider) NewStream(_ context.Context, _ string) (RecognizerStream, error) {
	return &mockRecognizerStream{results: make(chan Transcript, 16)}, nil
}

type mockRecognizerStream struct {
	mu      sync.Mutex
	results chan Transcript
	text    strings.Builder
	closed  bool
}

func (s *mockRecognizerStream) PushAudio(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if len(frame) == 0 {
		return nil
	}
	s.text.Write(frame)
	s.results <- Transcript{Type: TranscriptPartial, Text: s.text.String(), Confidence: 0.5}
	return nil
}

func (s *mockRecognizerStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	final := strings.TrimSpace(s.text.String())
	if final != "" {
		s.results <- Transcript{Type: TranscriptFinal, Text: final, Confidence: 0.9}
	}
	close(s.results)
	return nil
}

func (s *mockRecognizerStream) Results() <-chan Transcript { return s.results }

func (p *MockProvider) Synthesize(ctx context.Context, text string) (<-chan SynthesisChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := p.ChunkSize
	if size <= 0 {
		size = 8
	}

	out := make(chan SynthesisChunk, 4)
	go func() {
		defer close(out)
		data := []byte(text)
		for len(data) > 0 {
			n := size
			if n > len(data) {
				n = len(data)
			}
			chunk := make([]byte, n)
			copy(chunk, data[:n])
			data = data[n:]
			select {
			case out <- SynthesisChunk{Audio: chunk}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
