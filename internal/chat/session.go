package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/glotlabs/glot/internal/store"
)

// ErrNotFound is returned when a requested conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// SessionBackend is the slice of the agent client the session needs:
// invalidating server-side session state on clear.
type SessionBackend interface {
	ClearSession(ctx context.Context, sessionID string) error
}

// Attachments is the document pipeline surface the session drives when
// the active chat is cleared.
type Attachments interface {
	Clear() error
}

// Session owns the active message sequence, the conversation archive,
// and the backend session id. All mutation goes through its methods;
// collaborators never touch the slices directly.
type Session struct {
	kv      store.KV
	backend SessionBackend
	logger  *slog.Logger

	mu             sync.Mutex
	messages       []Message
	conversations  []Conversation
	sessionID      string
	conversationID string

	// provisionalIdx points at the in-flight assistant reply, -1 when
	// no turn is active. epoch invalidates late stream callbacks after
	// the chat they belong to has been cleared or replaced.
	provisionalIdx int
	epoch          uint64
	attachments    Attachments
}

// NewSession loads persisted chat state from the store.
func NewSession(kv store.KV, backend SessionBackend, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		kv:             kv,
		backend:        backend,
		logger:         logger,
		provisionalIdx: -1,
	}
	s.load()
	return s
}

// SetAttachments binds the document pipeline cleared alongside the
// chat. Must be called before ClearActive; wiring happens at startup.
func (s *Session) SetAttachments(a Attachments) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments = a
}

func (s *Session) load() {
	if raw, err := s.kv.Get(store.KeyChatHistory); err == nil {
		var msgs []Message
		if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
			s.logger.Warn("discarding malformed chat history", "error", err)
		} else {
			for i := range msgs {
				msgs[i].Role = normalizeRole(msgs[i].Role)
			}
			s.messages = msgs
		}
	}
	if raw, err := s.kv.Get(store.KeyConversations); err == nil {
		var convs []Conversation
		if err := json.Unmarshal([]byte(raw), &convs); err != nil {
			s.logger.Warn("discarding malformed conversation archive", "error", err)
		} else {
			s.conversations = convs
		}
	}
	if id, err := s.kv.Get(store.KeySessionID); err == nil {
		s.sessionID = id
	}
}

// Messages returns a copy of the active message sequence.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// SessionID returns the backend session id, or "" when none is held.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// AdoptSessionID records a backend-issued session id. Once a session
// id is held it is never overwritten; only ClearActive releases it.
func (s *Session) AdoptSessionID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID != "" {
		return
	}
	s.sessionID = id
	if err := s.kv.Set(store.KeySessionID, id); err != nil {
		s.logger.Warn("persisting session id", "error", err)
	}
}

// ClearActive archives the current chat, wipes the active messages and
// document records, releases the session id, and asks the backend to
// drop its side of the session. The backend call is advisory; its
// failure is logged and swallowed.
func (s *Session) ClearActive(ctx context.Context) {
	s.ArchiveCurrent()

	s.mu.Lock()
	sessionID := s.sessionID
	s.sessionID = ""
	s.messages = nil
	s.provisionalIdx = -1
	s.epoch++
	attachments := s.attachments
	s.persistMessagesLocked()
	s.mu.Unlock()

	if err := s.kv.Delete(store.KeySessionID); err != nil {
		s.logger.Warn("clearing session id", "error", err)
	}
	if attachments != nil {
		if err := attachments.Clear(); err != nil {
			s.logger.Warn("clearing document records", "error", err)
		}
	}
	if sessionID != "" && s.backend != nil {
		if err := s.backend.ClearSession(ctx, sessionID); err != nil {
			s.logger.Warn("backend clear-session failed", "session", sessionID, "error", err)
		}
	}
}

// --- exchange slot, used by TurnRunner ---

const typingPlaceholder = "…"

// beginExchange appends the user message plus a provisional assistant
// reply and returns the epoch the exchange is bound to.
func (s *Session) beginExchange(userText string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, Message{Role: RoleUser, Content: userText})
	s.messages = append(s.messages, Message{Role: RoleAssistant, Content: typingPlaceholder, Typing: true})
	s.provisionalIdx = len(s.messages) - 1
	return s.epoch
}

// updateProvisional replaces the in-flight reply content, keeping it
// provisional. Returns false when the exchange is stale.
func (s *Session) updateProvisional(epoch uint64, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || s.provisionalIdx < 0 {
		return false
	}
	s.messages[s.provisionalIdx] = Message{Role: RoleAssistant, Content: content, Typing: true}
	return true
}

// settleProvisional replaces the in-flight reply with its terminal
// content and persists the chat. Returns false when the exchange is
// stale; nothing is persisted in that case.
func (s *Session) settleProvisional(epoch uint64, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || s.provisionalIdx < 0 {
		return false
	}
	s.messages[s.provisionalIdx] = Message{Role: RoleAssistant, Content: content}
	s.provisionalIdx = -1
	s.persistMessagesLocked()
	return true
}

// finishExchange settles the in-flight reply with whatever content it
// currently holds. Used when the stream signals completion without a
// final payload.
func (s *Session) finishExchange(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || s.provisionalIdx < 0 {
		return false
	}
	m := s.messages[s.provisionalIdx]
	s.messages[s.provisionalIdx] = Message{Role: RoleAssistant, Content: m.Content}
	s.provisionalIdx = -1
	s.persistMessagesLocked()
	return true
}

// persistMessagesLocked writes the most recent maxHistoryMessages
// entries. Callers hold s.mu.
func (s *Session) persistMessagesLocked() {
	capped := s.messages
	if len(capped) > maxHistoryMessages {
		capped = capped[len(capped)-maxHistoryMessages:]
	}
	raw, err := json.Marshal(capped)
	if err != nil {
		s.logger.Error("marshaling chat history", "error", err)
		return
	}
	if err := s.kv.Set(store.KeyChatHistory, string(raw)); err != nil {
		s.logger.Warn("persisting chat history", "error", err)
	}
}
