package chat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/glotlabs/glot/internal/store"
)

// Conversations returns a copy of the archive, most recent first.
func (s *Session) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Conversation(nil), s.conversations...)
}

// ArchiveCurrent snapshots the active chat into the archive. Provisional
// and empty messages are dropped first; a chat with nothing left is not
// archived. Re-archiving under an id already present replaces that entry
// and moves it to the front instead of duplicating it.
func (s *Session) ArchiveCurrent() (id string, archived bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var clean []Message
	for _, m := range s.messages {
		if m.Typing || strings.TrimSpace(m.Content) == "" {
			continue
		}
		clean = append(clean, Message{Role: normalizeRole(m.Role), Content: m.Content})
	}
	if len(clean) == 0 {
		return "", false
	}

	title := deriveTitle(clean)

	if s.conversationID != "" {
		for i, c := range s.conversations {
			if c.ID != s.conversationID {
				continue
			}
			c.Title = title
			c.Messages = clean
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			s.conversations = append([]Conversation{c}, s.conversations...)
			s.capAndPersistConversationsLocked()
			return c.ID, true
		}
		// Id not found, e.g. history was cleared since: fall through and
		// mint a fresh entry.
	}

	conv := Conversation{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Title:     title,
		Messages:  clean,
	}
	s.conversations = append([]Conversation{conv}, s.conversations...)
	s.capAndPersistConversationsLocked()
	return conv.ID, true
}

// deriveTitle takes the first line of the first user message (falling
// back to the first message, then a default) and ellipsizes it.
func deriveTitle(clean []Message) string {
	src := ""
	for _, m := range clean {
		if m.Role == RoleUser && strings.TrimSpace(m.Content) != "" {
			src = m.Content
			break
		}
	}
	if src == "" {
		src = clean[0].Content
	}
	if src == "" {
		return defaultTitle
	}
	title := strings.TrimSpace(strings.SplitN(src, "\n", 2)[0])
	if title == "" {
		return defaultTitle
	}
	if runes := []rune(title); len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes]) + "…"
	}
	return title
}

// OpenConversation replaces the active chat with a copy of an archived
// conversation. The backend session id is deliberately dropped: an old
// conversation does not resume the agent session it was recorded under.
func (s *Session) OpenConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *Conversation
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			found = &s.conversations[i]
			break
		}
	}
	if found == nil {
		return ErrNotFound
	}

	msgs := make([]Message, len(found.Messages))
	for i, m := range found.Messages {
		msgs[i] = Message{Role: normalizeRole(m.Role), Content: m.Content}
	}
	s.messages = msgs
	s.sessionID = ""
	s.provisionalIdx = -1
	s.epoch++
	s.conversationID = id
	s.persistMessagesLocked()
	if err := s.kv.Delete(store.KeySessionID); err != nil {
		s.logger.Warn("clearing session id", "error", err)
	}
	return nil
}

// DeleteConversation removes one archive entry. Absent ids are a no-op.
func (s *Session) DeleteConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.conversations {
		if c.ID == id {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			s.capAndPersistConversationsLocked()
			return
		}
	}
}

// ClearAllConversations empties the archive and forgets the active
// conversation id.
func (s *Session) ClearAllConversations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = nil
	s.conversationID = ""
	s.capAndPersistConversationsLocked()
}

// capAndPersistConversationsLocked enforces the archive bound and
// writes it out. Callers hold s.mu.
func (s *Session) capAndPersistConversationsLocked() {
	if len(s.conversations) > maxConversations {
		s.conversations = s.conversations[:maxConversations]
	}
	raw, err := json.Marshal(s.conversations)
	if err != nil {
		s.logger.Error("marshaling conversation archive", "error", err)
		return
	}
	if err := s.kv.Set(store.KeyConversations, string(raw)); err != nil {
		s.logger.Warn("persisting conversation archive", "error", err)
	}
}
