package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parley-voice/parley/internal/config"
	"github.com/parley-voice/parley/internal/dialog"
	"github.com/parley-voice/parley/internal/observability"
	"github.com/parley-voice/parley/internal/session"
	"github.com/parley-voice/parley/internal/speech"
	"github.com/parley-voice/parley/internal/transcript"
	"github.com/parley-voice/parley/internal/voice"
)

var metricsSeq atomic.Int64

type testServer struct {
	http   *httptest.Server
	engine *dialog.MockEngine
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWith(t, nil)
}

// newTestServerWith swaps in a custom synthesizer; nil keeps the mock provider.
func newTestServerWith(t *testing.T, synth speech.Synthesizer) *testServer {
	t.Helper()
	engine := dialog.NewMockEngine()
	engine.Script("test")
	sessions := session.NewManager(time.Minute)
	provider := speech.NewMockProvider()
	var synthesizer speech.Synthesizer = provider
	if synth != nil {
		synthesizer = synth
	}
	store := transcript.NewInMemoryStore()
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", metricsSeq.Add(1)))
	orch := voice.NewOrchestrator(sessions, engine, provider, synthesizer, store, metrics)

	srv := New(config.Config{}, "1.2.3-test", orch, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testServer{http: ts, engine: engine}
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
	}
	res, err := http.Post(ts.http.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return res, raw
}

func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()
	res, raw := ts.postJSON(t, "/v1/sessions", map[string]string{"model_id": "test"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create session HTTP %d: %s", res.StatusCode, raw)
	}
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if out.SessionID == "" {
		t.Fatalf("missing session_id: %s", raw)
	}
	return out.SessionID
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	var out struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode error body %q: %v", raw, err)
	}
	return out.Code
}

func TestVersionEndpoint(t *testing.T) {
	ts := newTestServer(t)
	res, err := http.Get(ts.http.URL + "/v1/version")
	if err != nil {
		t.Fatalf("GET /v1/version: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("HTTP %d", res.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["version"] != "1.2.3-test" {
		t.Fatalf("version = %q", out["version"])
	}
}

func TestModelsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	res, err := http.Get(ts.http.URL + "/v1/models")
	if err != nil {
		t.Fatalf("GET /v1/models: %v", err)
	}
	defer res.Body.Close()
	var out struct {
		Models []dialog.ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Models) != 1 || out.Models[0].ID != "test" {
		t.Fatalf("models = %+v", out.Models)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		res, err := http.Get(ts.http.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s HTTP %d", path, res.StatusCode)
		}
	}
}

func TestCreateSessionInvalidModel(t *testing.T) {
	ts := newTestServer(t)
	res, raw := ts.postJSON(t, "/v1/sessions", map[string]string{"model_id": "bogus"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("HTTP %d: %s", res.StatusCode, raw)
	}
	if code := errorCode(t, raw); code != "invalid_model" {
		t.Fatalf("code = %q, want invalid_model", code)
	}
}

func TestCreateSessionMissingModel(t *testing.T) {
	ts := newTestServer(t)
	res, raw := ts.postJSON(t, "/v1/sessions", map[string]string{})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("HTTP %d: %s", res.StatusCode, raw)
	}
	if code := errorCode(t, raw); code != "invalid_model" {
		t.Fatalf("code = %q, want invalid_model", code)
	}
}

func TestEndSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	res, raw := ts.postJSON(t, "/v1/sessions/"+id+"/end", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("end HTTP %d: %s", res.StatusCode, raw)
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "ended" {
		t.Fatalf("status = %q, want ended", out.Status)
	}

	res, raw = ts.postJSON(t, "/v1/sessions/"+id+"/end", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second end HTTP %d: %s", res.StatusCode, raw)
	}
	if code := errorCode(t, raw); code != "session_not_found" {
		t.Fatalf("code = %q, want session_not_found", code)
	}
}

func TestPushTextUnknownSession(t *testing.T) {
	ts := newTestServer(t)
	res, raw := ts.postJSON(t, "/v1/sessions/nope/text", map[string]string{"text": "hi"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("HTTP %d: %s", res.StatusCode, raw)
	}
	if code := errorCode(t, raw); code != "session_not_found" {
		t.Fatalf("code = %q, want session_not_found", code)
	}
}

func TestPushTextAccepted(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)
	res, raw := ts.postJSON(t, "/v1/sessions/"+id+"/text", map[string]string{"text": "hello"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("HTTP %d: %s", res.StatusCode, raw)
	}
}

func TestCommandFinishedUnknownCommand(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)
	res, raw := ts.postJSON(t, "/v1/sessions/"+id+"/commands/never/finished", map[string]any{"output": map[string]string{}})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("HTTP %d: %s", res.StatusCode, raw)
	}
	if code := errorCode(t, raw); code != "unknown_command" {
		t.Fatalf("code = %q, want unknown_command", code)
	}
}

func TestCommandFinishedEmptyBody(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)
	ts.engine.Script("test", dialog.Outcome{
		Recognized: true,
		Actions: []dialog.Action{
			{Type: dialog.ActionCommand, CommandID: "beep"},
			{Type: dialog.ActionWaitInput},
		},
	})
	if res, raw := ts.postJSON(t, "/v1/sessions/"+id+"/text", map[string]string{"text": "beep"}); res.StatusCode != http.StatusOK {
		t.Fatalf("push text HTTP %d: %s", res.StatusCode, raw)
	}

	// A completion report with no body at all is still valid.
	res, err := http.Post(ts.http.URL+"/v1/sessions/"+id+"/commands/beep/finished", "application/json", nil)
	if err != nil {
		t.Fatalf("POST finished: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(res.Body)
		t.Fatalf("HTTP %d: %s", res.StatusCode, raw)
	}
}

func TestCommandFinishedReportsFailure(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)
	ts.engine.Script("test",
		dialog.Outcome{
			Recognized: true,
			Actions: []dialog.Action{
				{Type: dialog.ActionCommand, CommandID: "brewCoffee"},
				{Type: dialog.ActionWaitInput},
			},
		},
		dialog.Outcome{
			Recognized: true,
			Actions:    []dialog.Action{{Type: dialog.ActionWaitInput}},
		},
	)
	if res, raw := ts.postJSON(t, "/v1/sessions/"+id+"/text", map[string]string{"text": "make coffee"}); res.StatusCode != http.StatusOK {
		t.Fatalf("push text HTTP %d: %s", res.StatusCode, raw)
	}

	res, raw := ts.postJSON(t, "/v1/sessions/"+id+"/commands/brewCoffee/finished", map[string]any{
		"status": "failure",
		"error":  "device offline",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("HTTP %d: %s", res.StatusCode, raw)
	}

	results := ts.engine.Conversations()[0].ReceivedResults()
	if len(results) != 1 || results[0].CommandID != "brewCoffee" || results[0].Error != "device offline" {
		t.Fatalf("engine received results %+v, want failure carried through", results)
	}
}

func TestCommandFinishedFailureWithoutMessage(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)
	ts.engine.Script("test", dialog.Outcome{
		Recognized: true,
		Actions: []dialog.Action{
			{Type: dialog.ActionCommand, CommandID: "beep"},
			{Type: dialog.ActionWaitInput},
		},
	})
	if res, raw := ts.postJSON(t, "/v1/sessions/"+id+"/text", map[string]string{"text": "beep"}); res.StatusCode != http.StatusOK {
		t.Fatalf("push text HTTP %d: %s", res.StatusCode, raw)
	}

	res, raw := ts.postJSON(t, "/v1/sessions/"+id+"/commands/beep/finished", map[string]any{"status": "failure"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("HTTP %d: %s", res.StatusCode, raw)
	}

	results := ts.engine.Conversations()[0].ReceivedResults()
	if len(results) != 1 || results[0].Error == "" {
		t.Fatalf("engine received results %+v, want a non-empty failure message", results)
	}
}

func TestCommandFinishedRejectsBadStatus(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)
	res, raw := ts.postJSON(t, "/v1/sessions/"+id+"/commands/beep/finished", map[string]any{"status": "maybe"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("HTTP %d: %s", res.StatusCode, raw)
	}
	if code := errorCode(t, raw); code != "invalid_request" {
		t.Fatalf("code = %q, want invalid_request", code)
	}
}
