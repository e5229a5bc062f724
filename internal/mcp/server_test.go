package mcp

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/glotlabs/glot/internal/agent"
	"github.com/glotlabs/glot/internal/chat"
	"github.com/glotlabs/glot/internal/config"
	"github.com/glotlabs/glot/internal/docs"
	"github.com/glotlabs/glot/internal/store"
)

// --- mocks ---

type mockTurnBackend struct {
	stream string
}

func (m *mockTurnBackend) RunStream(context.Context, agent.RunRequest) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(m.stream)), nil
}

func (m *mockTurnBackend) Run(context.Context, agent.RunRequest) (string, error) {
	return "one-shot answer", nil
}

type mockUploader struct {
	result agent.UploadResult
}

func (m *mockUploader) UploadDoc(_ context.Context, _, filename string, _ io.Reader) (agent.UploadResult, error) {
	res := m.result
	if res.File == "" {
		res.File = filename
	}
	return res, nil
}

// --- helpers ---

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	session := chat.NewSession(st, nil, nil)
	backend := &mockTurnBackend{
		stream: `data: {"type":"final","answer":"the answer","sessionId":"sess-1"}` + "\n\n",
	}
	runner := chat.NewTurnRunner(chat.TurnDeps{Session: session, Backend: backend})
	pipeline := docs.NewPipeline(docs.Deps{
		Backend: &mockUploader{result: agent.UploadResult{Chars: 5, Preview: "hello"}},
		Session: session,
		KV:      st,
	})
	session.SetAttachments(pipeline)

	return Deps{
		Runner:  runner,
		Session: session,
		Docs:    pipeline,
		Settings: func() (config.Settings, error) {
			return config.Settings{APIKey: "sk-test", Provider: "openai"}, nil
		},
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_Ask(t *testing.T) {
	deps := newTestDeps(t)
	handler := mcpAsk(deps)

	req := makeCallToolRequest("ask", map[string]interface{}{
		"question": "what is glot?",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "the answer" {
		t.Fatalf("unexpected answer: %s", text)
	}

	// The chat now holds the exchange and the adopted session id.
	messages := deps.Session.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if deps.Session.SessionID() != "sess-1" {
		t.Fatalf("session id = %q, want sess-1", deps.Session.SessionID())
	}
}

func TestMCPTool_Ask_MissingQuestion(t *testing.T) {
	deps := newTestDeps(t)
	handler := mcpAsk(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error for missing question")
	}
}

func TestMCPTool_AttachDocument(t *testing.T) {
	deps := newTestDeps(t)
	handler := mcpAttachDocument(deps)

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	req := makeCallToolRequest("attach_document", map[string]interface{}{
		"path": path,
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); !strings.Contains(text, "notes.txt") {
		t.Fatalf("unexpected response: %s", text)
	}
	if len(deps.Docs.Records()) != 1 {
		t.Fatalf("expected 1 record, got %d", len(deps.Docs.Records()))
	}
}

func TestMCPTool_AttachDocument_MissingFile(t *testing.T) {
	deps := newTestDeps(t)
	handler := mcpAttachDocument(deps)

	req := makeCallToolRequest("attach_document", map[string]interface{}{
		"path": filepath.Join(t.TempDir(), "absent.txt"),
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error for missing file")
	}
}

func TestMCPTool_ListHistory(t *testing.T) {
	deps := newTestDeps(t)

	// Run one turn and archive it.
	askResult, err := mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question": "first question",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if askResult.IsError {
		t.Fatalf("ask failed: %s", toolText(t, askResult))
	}
	deps.Session.ClearActive(context.Background())

	result, err := mcpListHistory(deps)(context.Background(), makeCallToolRequest("list_history", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var summaries []struct {
		Title    string `json:"title"`
		Messages int    `json:"messages"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &summaries); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(summaries))
	}
	if summaries[0].Title != "first question" {
		t.Fatalf("title = %q", summaries[0].Title)
	}
	if summaries[0].Messages != 2 {
		t.Fatalf("messages = %d, want 2", summaries[0].Messages)
	}
}

func TestMCPTool_NewChat(t *testing.T) {
	deps := newTestDeps(t)

	if _, err := mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question": "hello",
	})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := mcpNewChat(deps)(context.Background(), makeCallToolRequest("new_chat", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	if len(deps.Session.Messages()) != 0 {
		t.Fatal("expected empty chat after new_chat")
	}
	if deps.Session.SessionID() != "" {
		t.Fatal("expected released session id after new_chat")
	}
	if len(deps.Session.Conversations()) != 1 {
		t.Fatal("expected previous chat to be archived")
	}
}

func TestMCPResource_CurrentChat(t *testing.T) {
	deps := newTestDeps(t)

	if _, err := mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question": "hello",
	})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	contents, err := mcpResourceCurrent(deps)(context.Background(), makeReadResourceRequest("chat://current"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var messages []chat.Message
	if err := json.Unmarshal([]byte(tc.Text), &messages); err != nil {
		t.Fatalf("failed to parse messages JSON: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != chat.RoleUser || messages[0].Content != "hello" {
		t.Fatalf("unexpected first message: %+v", messages[0])
	}
}

func TestMCPResource_Documents(t *testing.T) {
	deps := newTestDeps(t)

	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := mcpAttachDocument(deps)(context.Background(), makeCallToolRequest("attach_document", map[string]interface{}{
		"path": path,
	})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	contents, err := mcpResourceDocuments(deps)(context.Background(), makeReadResourceRequest("chat://documents"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var records []docs.Record
	if err := json.Unmarshal([]byte(tc.Text), &records); err != nil {
		t.Fatalf("failed to parse records JSON: %v", err)
	}
	if len(records) != 1 || records[0].File != "doc.txt" {
		t.Fatalf("unexpected records: %+v", records)
	}
}
