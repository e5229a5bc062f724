package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/glotlabs/glot/internal/agent"
	"github.com/glotlabs/glot/internal/sse"
)

// TurnState is the lifecycle position of the runner.
type TurnState int

const (
	StateIdle TurnState = iota
	StateSending
	StateStreaming
)

var (
	// ErrTurnInFlight is returned when a submit arrives while a turn
	// is already running. Submits are rejected, never queued.
	ErrTurnInFlight = errors.New("a turn is already in flight")
	// ErrEmptyPrompt is returned for blank user input.
	ErrEmptyPrompt = errors.New("empty prompt")
	// ErrNoAPIKey is returned when no credential is configured.
	ErrNoAPIKey = errors.New("no API key configured")
)

const noResponseFallback = "No response received."

// TurnBackend is the agent client surface a turn needs.
type TurnBackend interface {
	Run(ctx context.Context, req agent.RunRequest) (string, error)
	RunStream(ctx context.Context, req agent.RunRequest) (io.ReadCloser, error)
}

// FocusNotifier receives turn boundary signals. Implemented by
// focus.Coordinator; a nil notifier disables the signals.
type FocusNotifier interface {
	TurnStarted()
	TurnEnded()
}

// StatusFunc receives transient one-line status updates for display.
type StatusFunc func(text string)

// TurnOptions carries the settings snapshot one turn runs under.
type TurnOptions struct {
	APIKey         string
	Provider       string
	Model          string
	AllowedDomains []string
}

// TurnDeps holds the collaborators of a TurnRunner.
type TurnDeps struct {
	Session *Session
	Backend TurnBackend
	Focus   FocusNotifier
	Status  StatusFunc
	Logger  *slog.Logger
}

// TurnRunner drives one user request through to a terminal assistant
// reply: open the stream, fold events into the provisional message,
// fall back to the one-shot endpoint when streaming breaks.
type TurnRunner struct {
	session *Session
	backend TurnBackend
	focus   FocusNotifier
	status  StatusFunc
	logger  *slog.Logger

	mu    sync.Mutex
	state TurnState
}

// NewTurnRunner creates a runner. Focus, Status, and Logger may be nil.
func NewTurnRunner(deps TurnDeps) *TurnRunner {
	r := &TurnRunner{
		session: deps.Session,
		backend: deps.Backend,
		focus:   deps.Focus,
		status:  deps.Status,
		logger:  deps.Logger,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.status == nil {
		r.status = func(string) {}
	}
	return r
}

// State returns the runner's current lifecycle position.
func (r *TurnRunner) State() TurnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *TurnRunner) setState(st TurnState) {
	r.mu.Lock()
	r.state = st
	r.mu.Unlock()
}

// providerAllowed is the fixed provider selector set. Anything else is
// treated as auto and omitted from the request body.
var providerAllowed = map[string]bool{
	"openai": true,
	"google": true,
	"ollama": true,
}

func buildRequest(text string, opts TurnOptions, sessionID string) agent.RunRequest {
	req := agent.RunRequest{Prompt: text, APIKey: opts.APIKey}
	if p := strings.ToLower(strings.TrimSpace(opts.Provider)); providerAllowed[p] {
		req.Provider = p
	}
	if m := strings.TrimSpace(opts.Model); m != "" {
		req.Model = m
	}
	if len(opts.AllowedDomains) > 0 {
		req.AllowedDomains = opts.AllowedDomains
	}
	req.SessionID = sessionID
	return req
}

// Submit runs one full turn synchronously. A terminal failure surfaces
// as an error-flavored assistant message, not as a returned error;
// Submit errors only on guard violations (busy, blank input, no key).
func (r *TurnRunner) Submit(ctx context.Context, text string, opts TurnOptions) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyPrompt
	}
	if opts.APIKey == "" {
		return ErrNoAPIKey
	}

	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return ErrTurnInFlight
	}
	r.state = StateSending
	r.mu.Unlock()
	defer r.setState(StateIdle)

	epoch := r.session.beginExchange(text)
	req := buildRequest(text, opts, r.session.SessionID())

	if r.focus != nil {
		r.focus.TurnStarted()
		defer r.focus.TurnEnded()
	}
	r.status("Agent running…")

	streamErr := r.consumeStream(ctx, req, epoch)
	if streamErr == nil {
		return nil
	}

	// One-shot fallback, attempted at most once per turn.
	r.logger.Debug("stream failed, falling back to one-shot", "error", streamErr)
	answer, err := r.backend.Run(ctx, req)
	if err != nil {
		r.session.settleProvisional(epoch, "Error: "+err.Error())
		r.status("Request failed")
		return nil
	}
	if answer == "" {
		answer = noResponseFallback
	}
	r.session.settleProvisional(epoch, answer)
	r.status("Ready")
	return nil
}

// eventPayload is the JSON carried by stream events.
type eventPayload struct {
	Type      string `json:"type"`
	Level     string `json:"level"`
	Channel   string `json:"channel"`
	Logger    string `json:"logger"`
	Message   string `json:"message"`
	Answer    string `json:"answer"`
	Error     string `json:"error"`
	SessionID string `json:"sessionId"`
}

// agentOrTools reports whether a log event originates from the agent
// or its tools. Logs from any other channel (http, service internals)
// must not reach the chat.
func (p *eventPayload) agentOrTools() bool {
	ch := strings.ToLower(p.Channel)
	lg := strings.ToLower(p.Logger)
	return ch == "agent" || ch == "tools" ||
		strings.Contains(lg, "agent") || strings.Contains(lg, "tools")
}

// consumeStream reads the SSE stream to a terminal event. A non-nil
// return means no terminal event was observed and the caller should
// fall back to the one-shot endpoint.
func (r *TurnRunner) consumeStream(ctx context.Context, req agent.RunRequest, epoch uint64) error {
	body, err := r.backend.RunStream(ctx, req)
	if err != nil {
		return err
	}
	defer body.Close()

	dec := sse.NewDecoder(body)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			// Stream ended without a terminal event.
			return io.ErrUnexpectedEOF
		}
		if err != nil {
			return err
		}
		r.setState(StateStreaming)

		if ev.Name == "done" {
			// Guard against a final payload never arriving.
			r.session.finishExchange(epoch)
			r.status("Ready")
			return nil
		}
		if ev.Data == "" {
			continue
		}

		var payload eventPayload
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			// Malformed payloads are dropped; the stream continues.
			r.logger.Debug("dropping malformed stream payload", "error", err)
			continue
		}

		switch payload.Type {
		case "log":
			if !strings.EqualFold(payload.Level, "INFO") || !payload.agentOrTools() {
				continue
			}
			// Replace, don't append: the bubble shows only the latest
			// thinking line.
			r.session.updateProvisional(epoch, SanitizeThinking(payload.Message))
		case "final":
			r.session.AdoptSessionID(payload.SessionID)
			answer := payload.Answer
			if answer == "" {
				answer = payload.Message
			}
			if answer == "" {
				answer = noResponseFallback
			}
			r.session.settleProvisional(epoch, answer)
			r.status("Ready")
			return nil
		case "error":
			r.session.settleProvisional(epoch, "Error: "+payload.Error)
			r.status("Request failed")
			return nil
		}
	}
}
