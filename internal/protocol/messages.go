package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Session event stream, server to client.
	TypeRecognizeEvent MessageType = "recognize_event"
	TypeReplyEvent     MessageType = "reply_event"
	TypeCommandEvent   MessageType = "command_event"
	TypeErrorEvent     MessageType = "error_event"

	// Audio reply stream, server to client.
	TypeReplyText  MessageType = "reply_text"
	TypeReplyAudio MessageType = "reply_audio"
	TypeReplyEnd   MessageType = "reply_end"

	// Session-independent ASR/TTS streams, server to client.
	TypeTranscript MessageType = "transcript"
	TypeTTSAudio   MessageType = "tts_audio"
	TypeTTSEnd     MessageType = "tts_end"

	// Client to server control frames on audio streams.
	TypeControl MessageType = "control"
)

// ControlFinish tells the server no more audio is coming on the stream.
const ControlFinish = "finish"

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// RecognizeEvent reports finalized user input for a session.
type RecognizeEvent struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	ValidInput bool        `json:"valid_input"`
}

// ReplyEvent carries the text of a say action.
type ReplyEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

// CommandEvent asks the client to execute a command and report completion
// through the CommandFinished call.
type CommandEvent struct {
	Type       MessageType       `json:"type"`
	SessionID  string            `json:"session_id"`
	CommandID  string            `json:"command_id"`
	DispatchID string            `json:"dispatch_id"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// ErrorEvent reports a failure. On the session event stream it is terminal;
// on the audio reply stream a synthesis failure only ends its reply unit and
// the stream continues with the next one.
type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

// ReplyChunk is one entry of a session's audio reply stream: a text chunk
// opening a reply unit, an audio chunk, or the unit's end marker.
type ReplyChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Text        string      `json:"text,omitempty"`
	AudioBase64 string      `json:"audio_base64,omitempty"`
	Code        string      `json:"code,omitempty"`
	Detail      string      `json:"detail,omitempty"`
}

// Transcript is one incremental result on the session-independent ASR stream.
type Transcript struct {
	Type       MessageType `json:"type"`
	Text       string      `json:"text"`
	Final      bool        `json:"final"`
	Confidence float64     `json:"confidence,omitempty"`
}

// TTSChunk is one entry of the session-independent TTS stream.
type TTSChunk struct {
	Type        MessageType `json:"type"`
	AudioBase64 string      `json:"audio_base64,omitempty"`
}

// Control is a client frame on an audio stream.
type Control struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

// ParseControl decodes a client control frame. Audio arrives as binary
// websocket frames and never reaches this parser.
func ParseControl(raw []byte) (Control, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Control{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type != TypeControl {
		return Control{}, ErrUnsupportedType
	}

	var msg Control
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Control{}, err
	}
	if msg.Action == "" {
		return Control{}, errors.New("invalid control: missing action")
	}
	return msg, nil
}
