package store

// Well-known keys for persisted client state. The backend and the
// settings panel share these; renaming one is a breaking migration.
const (
	KeyAPIKey         = "apiKey"
	KeyProvider       = "provider"
	KeyModel          = "model"
	KeyAllowedDomains = "allowedDomains"
	KeyKeepOpen       = "keepOpen"
	KeyAllSites       = "enableAllSites"
	KeyChatHistory    = "chatHistory"
	KeyConversations  = "chatConversations"
	KeySessionID      = "sessionId"
	KeyDocList        = "docList"
)
