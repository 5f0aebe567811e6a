// Command parley-probe replays synthetic text turns against a running
// server and reports per-turn reply latency. It exercises the session
// lifecycle, the event stream, and the audio reply stream end to end.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-voice/parley/internal/audio"
	"github.com/parley-voice/parley/internal/protocol"
)

type options struct {
	baseURL     string
	modelID     string
	turns       int
	turnTimeout time.Duration
	interTurn   time.Duration
	texts       []string
	wavOut      string
	sampleRate  int
	verbose     bool
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// The defaults avoid the farewell intent: it ends the session, which would
// cut the reply stream out from under later turns.
var defaultUtterances = []string{
	"turn on the light",
	"hello there",
	"turn off the light",
	"hello again",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley-probe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parley-probe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var turnTimeoutMS int
	var interTurnMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:9000", "Parley base URL")
	flag.StringVar(&cfg.modelID, "model-id", "home", "dialog model for the probe session")
	flag.IntVar(&cfg.turns, "turns", 4, "number of text turns to replay")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout waiting for a reply unit per turn in milliseconds")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 150, "delay between turns in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.StringVar(&cfg.wavOut, "wav-out", "", "optional path to write captured reply audio as WAV")
	flag.IntVar(&cfg.sampleRate, "sample-rate", audio.DefaultSampleRate, "sample rate recorded in the WAV header")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	cfg.interTurn = time.Duration(interTurnMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	if cfg.verbose {
		fmt.Printf("parley-probe: session=%s model=%s turns=%d\n", sessionID, cfg.modelID, cfg.turns)
	}

	eventsURL, err := wsURL(cfg.baseURL, "/v1/sessions/"+url.PathEscape(sessionID)+"/events")
	if err != nil {
		return err
	}
	eventsConn, _, err := websocket.DefaultDialer.DialContext(ctx, eventsURL, nil)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer eventsConn.Close()

	// Command events need a completion report before the engine says its
	// done reply, so the probe acts as the command executor.
	go answerCommands(ctx, eventsConn, httpClient, cfg, sessionID)

	repliesURL, err := wsURL(cfg.baseURL, "/v1/sessions/"+url.PathEscape(sessionID)+"/audio/replies")
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, repliesURL, nil)
	if err != nil {
		return fmt.Errorf("open reply stream: %w", err)
	}
	defer conn.Close()

	unitCh := make(chan replyUnit, 8)
	readErrCh := make(chan error, 1)
	go readReplies(conn, unitCh, readErrCh)

	var captured []byte
	var total time.Duration
	completed := 0
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		start := time.Now()
		if err := pushText(ctx, httpClient, cfg.baseURL, sessionID, text); err != nil {
			return fmt.Errorf("turn %d push text: %w", i+1, err)
		}
		unit, err := awaitReply(unitCh, readErrCh, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		elapsed := time.Since(start)
		total += elapsed
		completed++
		captured = append(captured, unit.pcm...)
		if cfg.verbose {
			fmt.Printf("parley-probe: turn %d/%d text=%q reply=%q audio_bytes=%d latency=%s\n",
				i+1, cfg.turns, text, unit.text, len(unit.pcm), elapsed.Round(time.Millisecond))
		}
		if cfg.interTurn > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurn)
		}
	}

	if completed > 0 && cfg.verbose {
		fmt.Printf("parley-probe: mean reply latency %s over %d turns\n",
			(total / time.Duration(completed)).Round(time.Millisecond), completed)
	}
	if cfg.wavOut != "" {
		if err := audio.WriteWAVFile(cfg.wavOut, captured, cfg.sampleRate); err != nil {
			return fmt.Errorf("write %s: %w", cfg.wavOut, err)
		}
		if cfg.verbose {
			fmt.Printf("parley-probe: wrote %s (%s of audio)\n",
				cfg.wavOut, audio.Duration(captured, cfg.sampleRate).Round(time.Millisecond))
		}
	}
	return nil
}

func answerCommands(ctx context.Context, conn *websocket.Conn, client *http.Client, cfg options, sessionID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type != protocol.TypeCommandEvent {
			continue
		}
		var cmd protocol.CommandEvent
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		if cfg.verbose {
			fmt.Printf("parley-probe: executing command %s dispatch=%s\n", cmd.CommandID, cmd.DispatchID)
		}
		if err := commandFinished(ctx, client, cfg.baseURL, sessionID, cmd.CommandID); err != nil {
			fmt.Fprintf(os.Stderr, "parley-probe: command finished: %v\n", err)
		}
	}
}

func commandFinished(ctx context.Context, client *http.Client, baseURL, sessionID, commandID string) error {
	payload, err := json.Marshal(map[string]map[string]string{"output": {"status": "ok"}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/v1/sessions/"+url.PathEscape(sessionID)+"/commands/"+url.PathEscape(commandID)+"/finished",
		bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// replyUnit is one complete reply from the audio stream: the text chunk and
// the concatenated audio chunks up to the end marker.
type replyUnit struct {
	text string
	pcm  []byte
}

func readReplies(conn *websocket.Conn, units chan<- replyUnit, errCh chan<- error) {
	var current replyUnit
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		var msg protocol.ReplyChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			errCh <- fmt.Errorf("decode reply chunk: %w", err)
			return
		}
		switch msg.Type {
		case protocol.TypeReplyText:
			current = replyUnit{text: msg.Text}
		case protocol.TypeReplyAudio:
			pcm, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
			if err != nil {
				errCh <- fmt.Errorf("decode reply audio: %w", err)
				return
			}
			current.pcm = append(current.pcm, pcm...)
		case protocol.TypeReplyEnd:
			units <- current
			current = replyUnit{}
		case protocol.TypeErrorEvent:
			errCh <- fmt.Errorf("reply stream error: %s: %s", msg.Code, msg.Detail)
			return
		}
	}
}

func awaitReply(units <-chan replyUnit, errCh <-chan error, timeout time.Duration) (replyUnit, error) {
	select {
	case unit := <-units:
		return unit, nil
	case err := <-errCh:
		return replyUnit{}, err
	case <-time.After(timeout):
		return replyUnit{}, fmt.Errorf("timed out after %s", timeout)
	}
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(map[string]string{"model_id": cfg.modelID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/v1/sessions/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func pushText(ctx context.Context, client *http.Client, baseURL, sessionID, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/v1/sessions/"+url.PathEscape(sessionID)+"/text", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func wsURL(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = path
	return u.String(), nil
}
