// Package mockagent is a development stand-in for the Python agent
// backend. It implements the same HTTP contract the client speaks so
// the CLI can be exercised end to end without a real agent.
package mockagent

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxRequestBodySize = 1 << 20 // 1MB

const maxUploadSize = 32 << 20 // 32MB

// Server serves a fake agent backend for local development.
type Server struct {
	logger *slog.Logger

	// StreamDelay spaces out SSE events so the client's incremental
	// rendering is visible. Zero means no delay.
	StreamDelay time.Duration

	mu       sync.Mutex
	sessions map[string][]string // session id -> uploaded file names
}

func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:   logger,
		sessions: make(map[string][]string),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealthz)
	r.Post("/run-agent", s.handleRun)
	r.Post("/run-agent-stream", s.handleRunStream)
	r.Post("/upload-doc", s.handleUpload)
	r.Post("/clear-session", s.handleClearSession)

	return r
}

type runRequest struct {
	Prompt    string `json:"prompt"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRun(w, r)
	if !ok {
		return
	}

	sessionID := s.ensureSession(req.SessionID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"answer":    s.answerFor(req, sessionID),
		"sessionId": sessionID,
	})
}

func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRun(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sessionID := s.ensureSession(req.SessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	emit := func(payload map[string]any) {
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error("marshaling stream event", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		if s.StreamDelay > 0 {
			select {
			case <-r.Context().Done():
			case <-time.After(s.StreamDelay):
			}
		}
	}

	emit(map[string]any{"type": "log", "level": "INFO", "channel": "agent", "message": "🚀 Step 1/3: Reading the question…"})
	emit(map[string]any{"type": "log", "level": "INFO", "channel": "tools", "message": "Step 2/3: Consulting attached documents…"})
	emit(map[string]any{"type": "log", "level": "INFO", "channel": "agent", "message": "Step 3/3: Composing the answer…"})
	emit(map[string]any{"type": "final", "answer": s.answerFor(req, sessionID), "sessionId": sessionID})
	fmt.Fprint(w, "event: done\ndata: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	defer r.Body.Close()

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		httpError(w, http.StatusBadRequest, "invalid multipart form: %v", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "missing file part: %v", err)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		httpError(w, http.StatusBadRequest, "reading file part: %v", err)
		return
	}

	sessionID := s.ensureSession(r.FormValue("sessionId"))

	s.mu.Lock()
	s.sessions[sessionID] = append(s.sessions[sessionID], header.Filename)
	s.mu.Unlock()

	text := string(content)
	preview := text
	if utf8.RuneCountInString(preview) > 240 {
		preview = string([]rune(preview)[:240])
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"sessionId": sessionID,
		"file":      header.Filename,
		"fields":    map[string]any{"size": len(content)},
		"chars":     utf8.RuneCountInString(text),
		"preview":   preview,
	})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	s.mu.Lock()
	delete(s.sessions, req.SessionID)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"cleared"}`))
}

func (s *Server) decodeRun(w http.ResponseWriter, r *http.Request) (runRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return runRequest{}, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		httpError(w, http.StatusBadRequest, "prompt is required")
		return runRequest{}, false
	}
	return req, true
}

// ensureSession returns the given session id, minting one when empty.
func (s *Server) ensureSession(id string) string {
	if id != "" {
		return id
	}
	id = uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = nil
	s.mu.Unlock()
	return id
}

func (s *Server) answerFor(req runRequest, sessionID string) string {
	s.mu.Lock()
	docs := len(s.sessions[sessionID])
	s.mu.Unlock()

	provider := req.Provider
	if provider == "" {
		provider = "auto"
	}
	answer := fmt.Sprintf("[%s] You asked: %s", provider, strings.TrimSpace(req.Prompt))
	if docs > 0 {
		answer += fmt.Sprintf(" (considering %d attached document(s))", docs)
	}
	return answer
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": fmt.Sprintf(format, args...),
	})
}
