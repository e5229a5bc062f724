// Package chat owns the conversational state of the client: the active
// message sequence, the bounded conversation archive, and the state
// machine driving one agent turn at a time.
package chat

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// normalizeRole coerces unknown roles to assistant. Persisted state may
// predate the current schema; a wrong role must never crash rendering.
func normalizeRole(r Role) Role {
	if r == RoleUser || r == RoleAssistant {
		return r
	}
	return RoleAssistant
}

// Message is one chat entry. Typing marks the single provisional
// assistant message that is still being updated by a running turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Typing  bool   `json:"typing,omitempty"`
}

// Conversation is an archived chat with a derived title.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
}

const (
	// maxHistoryMessages bounds the persisted active message sequence.
	maxHistoryMessages = 50
	// maxConversations bounds the archive; oldest entries are evicted.
	maxConversations = 30
	// maxTitleRunes bounds derived conversation titles.
	maxTitleRunes = 80

	defaultTitle = "Conversation"
)
