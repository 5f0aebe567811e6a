package httpapi

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/parley-voice/parley/internal/protocol"
	"github.com/parley-voice/parley/internal/speech"
	"github.com/parley-voice/parley/internal/voice"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsCloseTimeout = 2 * time.Second
)

// handleSessionEvents streams dialog events for one session until the
// session ends or the client disconnects.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Subscribing supersedes any earlier subscriber, so take the tap only
	// once the upgrade has succeeded. Before that, reject bad requests
	// with a plain HTTP status.
	if _, err := s.orch.GetSession(r.Context(), id); err != nil {
		s.respondMappedError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: events upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel, err := s.orch.SessionEvents(r.Context(), id)
	if err != nil {
		writeNormalClose(conn)
		return
	}
	defer cancel()

	s.metrics.StreamEvents.WithLabelValues("events", "open").Inc()
	defer s.metrics.StreamEvents.WithLabelValues("events", "close").Inc()

	// Client frames are not expected here. Reading still surfaces
	// disconnects so the writer loop can stop.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				writeNormalClose(conn)
				return
			}
			if err := writeJSON(conn, eventMessage(id, evt)); err != nil {
				return
			}
			if evt.Type == voice.EventError {
				writeNormalClose(conn)
				return
			}
		case <-disconnected:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// handleAudioInput accepts binary audio frames for one session. A control
// frame with action "finish" flushes the recognizer and closes the stream.
func (s *Server) handleAudioInput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Opening the input slot displaces any earlier stream, so only do it
	// once the upgrade has succeeded.
	if _, err := s.orch.GetSession(r.Context(), id); err != nil {
		s.respondMappedError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: audio input upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	in, err := s.orch.OpenAudioInput(r.Context(), id)
	if err != nil {
		writeNormalClose(conn)
		return
	}
	defer in.Close()

	s.metrics.StreamEvents.WithLabelValues("audio_input", "open").Inc()
	defer s.metrics.StreamEvents.WithLabelValues("audio_input", "close").Inc()

	// A newer input stream or session teardown invalidates this one.
	// Nudge the blocked reader so the handler can exit.
	go func() {
		select {
		case <-in.Done():
		case <-r.Context().Done():
		}
		deadline := time.Now().Add(wsCloseTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "input closed"), deadline)
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			if err := in.Push(r.Context(), data); err != nil {
				return
			}
		case websocket.TextMessage:
			ctl, err := protocol.ParseControl(data)
			if err != nil {
				log.Printf("httpapi: audio input bad control frame: %v", err)
				continue
			}
			if ctl.Action == protocol.ControlFinish {
				_ = in.Close()
				writeNormalClose(conn)
				return
			}
		}
	}
}

// handleAudioReplies streams synthesized replies for one session in reply
// units: a text chunk, the audio chunks, then an end marker.
func (s *Server) handleAudioReplies(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.orch.GetSession(r.Context(), id); err != nil {
		s.respondMappedError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: audio replies upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	chunks, cancel, err := s.orch.AudioReplies(r.Context(), id)
	if err != nil {
		writeNormalClose(conn)
		return
	}
	defer cancel()

	s.metrics.StreamEvents.WithLabelValues("audio_replies", "open").Inc()
	defer s.metrics.StreamEvents.WithLabelValues("audio_replies", "close").Inc()

	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				writeNormalClose(conn)
				return
			}
			if err := writeJSON(conn, replyChunkMessage(id, chunk)); err != nil {
				return
			}
			// A synthesis failure only ends its own reply unit. The
			// stream stays open for later units unless the session
			// itself failed.
			if chunk.Type == voice.ReplyError && chunk.Code == voice.ReplyCodeSessionFailed {
				writeNormalClose(conn)
				return
			}
		case <-disconnected:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// handleASR runs speech recognition outside any session. Binary frames are
// audio, a "finish" control frame flushes the final transcript.
func (s *Server) handleASR(w http.ResponseWriter, r *http.Request) {
	stream, err := s.orch.NewASRStream(r.Context())
	if err != nil {
		s.respondMappedError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		stream.Close()
		log.Printf("httpapi: asr upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.metrics.StreamEvents.WithLabelValues("asr", "open").Inc()
	defer s.metrics.StreamEvents.WithLabelValues("asr", "close").Inc()

	ctx, cancelPump := context.WithCancel(r.Context())
	defer cancelPump()

	// Transcripts flow back on the same connection while audio keeps
	// arriving, so the writer runs beside the reader.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case res, ok := <-stream.Results():
				if !ok {
					writeNormalClose(conn)
					return
				}
				msg := protocol.Transcript{
					Type:       protocol.TypeTranscript,
					Text:       res.Text,
					Final:      res.Type == speech.TranscriptFinal,
					Confidence: res.Confidence,
				}
				if err := writeJSON(conn, msg); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	defer stream.Close()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			// Client went away. Flush so pending results drain, then
			// wait for the writer to observe the closed results channel.
			_ = stream.Close()
			<-writerDone
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			if err := stream.PushAudio(r.Context(), data); err != nil {
				_ = stream.Close()
				<-writerDone
				return
			}
		case websocket.TextMessage:
			ctl, err := protocol.ParseControl(data)
			if err != nil {
				log.Printf("httpapi: asr bad control frame: %v", err)
				continue
			}
			if ctl.Action == protocol.ControlFinish {
				_ = stream.Close()
				<-writerDone
				return
			}
		}
	}
}

// handleTTS synthesizes the text query parameter and streams audio chunks
// followed by an end marker.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("text"))
	if text == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text query parameter is required")
		return
	}

	chunks, err := s.orch.SynthesizeText(r.Context(), text)
	if err != nil {
		s.respondMappedError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: tts upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.metrics.StreamEvents.WithLabelValues("tts", "open").Inc()
	defer s.metrics.StreamEvents.WithLabelValues("tts", "close").Inc()

	for chunk := range chunks {
		if chunk.Err != nil {
			log.Printf("httpapi: tts synthesis failed: %v", chunk.Err)
			_ = writeJSON(conn, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   voice.ReplyCodeSynthesisFailed,
				Detail: chunk.Err.Error(),
			})
			writeNormalClose(conn)
			return
		}
		msg := protocol.TTSChunk{
			Type:        protocol.TypeTTSAudio,
			AudioBase64: base64.StdEncoding.EncodeToString(chunk.Audio),
		}
		if err := writeJSON(conn, msg); err != nil {
			return
		}
	}
	_ = writeJSON(conn, protocol.TTSChunk{Type: protocol.TypeTTSEnd})
	writeNormalClose(conn)
}

func eventMessage(sessionID string, evt voice.Event) any {
	switch evt.Type {
	case voice.EventRecognize:
		return protocol.RecognizeEvent{
			Type:       protocol.TypeRecognizeEvent,
			SessionID:  sessionID,
			Text:       evt.Text,
			ValidInput: evt.ValidInput,
		}
	case voice.EventReply:
		return protocol.ReplyEvent{
			Type:      protocol.TypeReplyEvent,
			SessionID: sessionID,
			Text:      evt.Text,
		}
	case voice.EventCommand:
		return protocol.CommandEvent{
			Type:       protocol.TypeCommandEvent,
			SessionID:  sessionID,
			CommandID:  evt.CommandID,
			DispatchID: evt.DispatchID,
			Parameters: evt.Parameters,
		}
	default:
		return protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "session_failed",
			Detail:    evt.Text,
		}
	}
}

func replyChunkMessage(sessionID string, chunk voice.ReplyChunk) any {
	switch chunk.Type {
	case voice.ReplyText:
		return protocol.ReplyChunk{
			Type:      protocol.TypeReplyText,
			SessionID: sessionID,
			Text:      chunk.Text,
		}
	case voice.ReplyAudio:
		return protocol.ReplyChunk{
			Type:        protocol.TypeReplyAudio,
			SessionID:   sessionID,
			AudioBase64: base64.StdEncoding.EncodeToString(chunk.Audio),
		}
	case voice.ReplyError:
		return protocol.ReplyChunk{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      chunk.Code,
			Detail:    chunk.Detail,
		}
	default:
		return protocol.ReplyChunk{
			Type:      protocol.TypeReplyEnd,
			SessionID: sessionID,
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(v)
}

func writeNormalClose(conn *websocket.Conn) {
	deadline := time.Now().Add(wsCloseTimeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}
