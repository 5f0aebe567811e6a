package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/parley-voice/parley/internal/config"
	"github.com/parley-voice/parley/internal/dialog"
	"github.com/parley-voice/parley/internal/observability"
	"github.com/parley-voice/parley/internal/session"
	"github.com/parley-voice/parley/internal/speech"
	"github.com/parley-voice/parley/internal/voice"
)

// Orchestrator is the session core as seen by the transport layer.
type Orchestrator interface {
	Models() []dialog.ModelInfo
	CreateSession(ctx context.Context, modelID string) (*session.Session, error)
	EndSession(ctx context.Context, sessionID string) (*session.Session, error)
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)
	SessionEvents(ctx context.Context, sessionID string) (<-chan voice.Event, func(), error)
	PushText(ctx context.Context, sessionID, text string) error
	OpenAudioInput(ctx context.Context, sessionID string) (*voice.AudioInput, error)
	AudioReplies(ctx context.Context, sessionID string) (<-chan voice.ReplyChunk, func(), error)
	CommandFinished(ctx context.Context, sessionID, commandID string, output map[string]string, errMsg string) error
	NewASRStream(ctx context.Context) (speech.RecognizerStream, error)
	SynthesizeText(ctx context.Context, text string) (<-chan speech.SynthesisChunk, error)
}

type Server struct {
	cfg      config.Config
	version  string
	orch     Orchestrator
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, version string, orch Orchestrator, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		version: version,
		orch:    orch,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/version", s.handleVersion)
	r.Get("/v1/models", s.handleModels)
	r.Post("/v1/sessions", s.handleCreateSession)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Post("/v1/sessions/{id}/text", s.handlePushText)
	r.Post("/v1/sessions/{id}/commands/{commandID}/finished", s.handleCommandFinished)

	r.Get("/v1/sessions/{id}/events", s.handleSessionEvents)
	r.Get("/v1/sessions/{id}/audio/input", s.handleAudioInput)
	r.Get("/v1/sessions/{id}/audio/replies", s.handleAudioReplies)
	r.Get("/v1/asr", s.handleASR)
	r.Get("/v1/tts", s.handleTTS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"models": s.orch.Models()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelID string `json:"model_id"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ModelID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_model", "model_id is required")
		return
	}

	sess, err := s.orch.CreateSession(r.Context(), req.ModelID)
	if err != nil {
		s.respondMappedError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.orch.EndSession(r.Context(), id)
	if err != nil {
		s.respondMappedError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePushText(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := s.orch.PushText(r.Context(), id, req.Text); err != nil {
		s.respondMappedError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleCommandFinished(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	commandID := chi.URLParam(r, "commandID")
	var req struct {
		Status string            `json:"status"`
		Output map[string]string `json:"output"`
		Error  string            `json:"error"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	errMsg := strings.TrimSpace(req.Error)
	switch req.Status {
	case "", "success":
	case "failure":
		if errMsg == "" {
			errMsg = "command failed"
		}
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "status must be \"success\" or \"failure\"")
		return
	}

	if err := s.orch.CommandFinished(r.Context(), id, commandID, req.Output, errMsg); err != nil {
		s.respondMappedError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondMappedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, dialog.ErrInvalidModel):
		respondError(w, http.StatusBadRequest, "invalid_model", err.Error())
	case errors.Is(err, voice.ErrUnknownCommand):
		respondError(w, http.StatusNotFound, "unknown_command", err.Error())
	case errors.Is(err, voice.ErrInputClosed):
		respondError(w, http.StatusConflict, "input_closed", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_failure", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
