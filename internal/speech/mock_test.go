package speech

import (
	"context"
	"testing"
	"time"
)

func TestMockRecognizerPartialsThenFinal(t *testing.T) {
	p := NewMockProvider()
	stream, err := p.NewStream(context.Background(), "test")
	if err != nil {
		t.Fatalf("NewStream() error = %v", err)
	}

	if err := stream.PushAudio(context.Background(), []byte("turn on ")); err != nil {
		t.Fatalf("PushAudio() error = %v", err)
	}
	if err := stream.PushAudio(context.Background(), []byte("the light")); err != nil {
		t.Fatalf("PushAudio() error = %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var got []Transcript
	for res := range stream.Results() {
		got = append(got, res)
	}
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3: %+v", len(got), got)
	}
	if got[0].Type != TranscriptPartial || got[0].Text != "turn on " {
		t.Fatalf("first partial = %+v", got[0])
	}
	if got[1].Type != TranscriptPartial || got[1].Text != "turn on the light" {
		t.Fatalf("second partial = %+v", got[1])
	}
	if got[2].Type != TranscriptFinal || got[2].Text != "turn on the light" {
		t.Fatalf("final = %+v", got[2])
	}
}

func TestMockRecognizerEmptyStreamHasNoFinal(t *testing.T) {
	p := NewMockProvider()
	stream, _ := p.NewStream(context.Background(), "test")
	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for res := range stream.Results() {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestMockRecognizerCloseIsIdempotent(t *testing.T) {
	p := NewMockProvider()
	stream, _ := p.NewStream(context.Background(), "test")
	_ = stream.PushAudio(context.Background(), []byte("hi"))
	if err := stream.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := stream.PushAudio(context.Background(), []byte("late")); err != nil {
		t.Fatalf("PushAudio() after Close error = %v", err)
	}
}

func TestMockSynthesizerChunksText(t *testing.T) {
	p := NewMockProvider()
	p.ChunkSize = 4

	chunks, err := p.Synthesize(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	var audio []byte
	count := 0
	for chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("chunk error = %v", chunk.Err)
		}
		audio = append(audio, chunk.Audio...)
		count++
	}
	if string(audio) != "hello world" {
		t.Fatalf("reassembled audio = %q", audio)
	}
	if count != 3 {
		t.Fatalf("got %d chunks, want 3", count)
	}
}

func TestMockSynthesizerHonorsCancel(t *testing.T) {
	p := NewMockProvider()
	p.ChunkSize = 1

	ctx, cancel := context.WithCancel(context.Background())
	chunks, err := p.Synthesize(ctx, "a long sentence that will be cut off")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-chunks:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("chunk channel not closed after cancel")
		}
	}
}
