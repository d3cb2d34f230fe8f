package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/dgnsrekt/voxline/internal/directive"
	"github.com/dgnsrekt/voxline/internal/params"
	"github.com/dgnsrekt/voxline/internal/speech"
	"github.com/dgnsrekt/voxline/internal/tts"
)

// DirectiveRequest is one element of a speak request.
type DirectiveRequest struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	DurationMs int    `json:"duration_ms,omitempty"`
	Index      int    `json:"index,omitempty"`
	Value      int    `json:"value,omitempty"`
}

// SpeakRequest represents the request body for /v1/speak. Text is a
// shorthand for a single text directive.
type SpeakRequest struct {
	Text       string             `json:"text,omitempty"`
	Directives []DirectiveRequest `json:"directives,omitempty"`
	Interrupt  bool               `json:"interrupt,omitempty"`
}

// SpeakResponse represents the response body for /v1/speak.
type SpeakResponse struct {
	SubmissionID string `json:"submission_id"`
	Message      string `json:"message"`
}

// PauseRequest represents the request body for /v1/pause.
type PauseRequest struct {
	Paused bool `json:"paused"`
}

// ParamRequest represents the request body for PUT /v1/params.
type ParamRequest struct {
	Name  string `json:"name"`
	Value *int   `json:"value,omitempty"`
	Voice string `json:"voice,omitempty"`
}

// VoicesResponse represents the response body for /v1/voices.
type VoicesResponse struct {
	Voices []tts.Voice `json:"voices"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse represents the response body for /v1/healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Speaking bool   `json:"speaking"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonic.ConfigStd.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := sonic.ConfigStd.NewDecoder(r.Body).Decode(v); err != nil {
		s.logger.Warn("failed to decode request", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// handleHealthz handles GET /v1/healthz requests.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Err(); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "terminated"})
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Speaking: s.session.Speaking()})
}

// handleSpeak handles POST /v1/speak requests.
func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req SpeakRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.Text != "" {
		req.Directives = append([]DirectiveRequest{{Type: "text", Text: req.Text}}, req.Directives...)
	}
	if len(req.Directives) == 0 {
		s.writeError(w, http.StatusBadRequest, "text or directives are required")
		return
	}

	seq, textLength, err := toDirectives(req.Directives, s.cfg.MaxBreakMs)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if textLength > s.cfg.MaxTextLength {
		s.logger.Warn("text exceeds max length", "length", textLength, "max", s.cfg.MaxTextLength)
		s.writeError(w, http.StatusBadRequest, "text exceeds maximum length")
		return
	}

	// Handle interrupt: stop current speech before queueing the new sequence
	if req.Interrupt {
		s.session.Cancel()
	}

	id, err := s.session.Submit(seq)
	if err != nil {
		switch {
		case errors.Is(err, speech.ErrSessionTerminated):
			s.writeError(w, http.StatusServiceUnavailable, "speech session terminated")
		case errors.Is(err, speech.ErrInvalidDirective):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("failed to submit sequence", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to submit sequence")
		}
		return
	}

	s.logger.Info("speak request enqueued",
		"submission_id", id,
		"directives", len(seq),
		"text_length", textLength,
		"interrupt", req.Interrupt,
	)

	s.writeJSON(w, http.StatusAccepted, SpeakResponse{
		SubmissionID: id,
		Message:      "sequence enqueued",
	})
}

// toDirectives converts request elements and returns the total text length.
// Breaks longer than maxBreakMs are rejected.
func toDirectives(reqs []DirectiveRequest, maxBreakMs int) ([]directive.Directive, int, error) {
	seq := make([]directive.Directive, 0, len(reqs))
	textLength := 0
	for i, d := range reqs {
		switch d.Type {
		case "text":
			if d.Text == "" {
				return nil, 0, fmt.Errorf("directive %d: text is required", i)
			}
			textLength += len(d.Text)
			seq = append(seq, directive.Utterance{Text: d.Text})
		case "break":
			if d.DurationMs < 0 {
				return nil, 0, fmt.Errorf("directive %d: duration_ms must be non-negative", i)
			}
			if d.DurationMs > maxBreakMs {
				return nil, 0, fmt.Errorf("directive %d: duration_ms exceeds maximum of %d", i, maxBreakMs)
			}
			seq = append(seq, directive.Silence{DurationMs: d.DurationMs})
		case "index":
			seq = append(seq, directive.IndexMarker{Index: d.Index})
		case "pitch":
			seq = append(seq, directive.PitchOverride{Value: d.Value})
		case "end":
			seq = append(seq, directive.EndOfSequence{})
		default:
			return nil, 0, fmt.Errorf("directive %d: unknown type %q", i, d.Type)
		}
	}
	return seq, textLength, nil
}

// handleCancel handles POST /v1/cancel requests.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.session.Cancel()
	s.logger.Info("speech cancelled")
	w.WriteHeader(http.StatusNoContent)
}

// handlePause handles POST /v1/pause requests.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.session.Pause(req.Paused); err != nil {
		s.logger.Error("failed to pause", "paused", req.Paused, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to pause playback")
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

// handleGetParams handles GET /v1/params requests.
func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Parameters())
}

// handleSetParam handles PUT /v1/params requests.
func (s *Server) handleSetParam(w http.ResponseWriter, r *http.Request) {
	var req ParamRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.Name == "voice" {
		if req.Voice == "" {
			s.writeError(w, http.StatusBadRequest, "voice is required")
			return
		}
		s.session.SetVoice(req.Voice)
	} else {
		if req.Value == nil {
			s.writeError(w, http.StatusBadRequest, "value is required")
			return
		}
		if err := s.session.SetParameter(params.Name(req.Name), *req.Value); err != nil {
			if errors.Is(err, params.ErrUnknownParameter) {
				s.writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			s.writeError(w, http.StatusInternalServerError, "failed to set parameter")
			return
		}
	}

	s.logger.Info("parameter updated", "name", req.Name)
	s.writeJSON(w, http.StatusOK, s.session.Parameters())
}

// handleVoices handles GET /v1/voices requests.
func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	refresh := false
	if v := r.URL.Query().Get("refresh"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "refresh must be a boolean")
			return
		}
		refresh = b
	}

	voices, err := s.session.Voices(r.Context(), refresh)
	if err != nil {
		switch {
		case errors.Is(err, speech.ErrVoicesUnsupported):
			s.writeError(w, http.StatusNotImplemented, err.Error())
		case errors.Is(err, tts.ErrBackendUnavailable), errors.Is(err, tts.ErrInvalidResponse):
			s.logger.Error("failed to list voices", "error", err)
			s.writeError(w, http.StatusBadGateway, "synthesis backend unavailable")
		default:
			s.logger.Error("failed to list voices", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to list voices")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, VoicesResponse{Voices: voices})
}
