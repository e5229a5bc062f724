// Package mcp exposes the agent session over the Model Context
// Protocol so other MCP clients can drive it.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/glotlabs/glot/internal/chat"
	"github.com/glotlabs/glot/internal/config"
	"github.com/glotlabs/glot/internal/docs"
)

// Deps holds dependencies for the MCP server.
type Deps struct {
	Runner   *chat.TurnRunner
	Session  *chat.Session
	Docs     *docs.Pipeline
	Settings func() (config.Settings, error)
}

// NewServer creates an MCP server with all glot tools and resources
// registered.
func NewServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"glot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("glot — agent session client with chat history and document attachments."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Send a question to the agent backend and return its answer."),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("attach_document",
			mcp.WithDescription("Upload a local file to the current agent session so later questions can use it."),
			mcp.WithString("path", mcp.Description("Path to the file to attach"), mcp.Required()),
		),
		mcpAttachDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("list_history",
			mcp.WithDescription("List archived conversations, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of conversations (default 10)")),
		),
		mcpListHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("new_chat",
			mcp.WithDescription("Archive the current chat and start a fresh agent session."),
		),
		mcpNewChat(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"chat://current",
			"Current Chat",
			mcp.WithResourceDescription("Messages of the active chat as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCurrent(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"chat://documents",
			"Attached Documents",
			mcp.WithResourceDescription("Documents attached to the active session as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDocuments(deps),
	)

	return s
}

func mcpAsk(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		settings, err := deps.Settings()
		if err != nil {
			return mcpError(fmt.Sprintf("loading settings: %v", err)), nil
		}

		opts := chat.TurnOptions{
			APIKey:   settings.APIKey,
			Provider: settings.Provider,
			Model:    settings.Model,
		}
		if settings.AllowedDomains != "" {
			opts.AllowedDomains = config.SplitDomains(settings.AllowedDomains)
		}

		if err := deps.Runner.Submit(ctx, question, opts); err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		messages := deps.Session.Messages()
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == chat.RoleAssistant {
				return mcpText(messages[i].Content), nil
			}
		}
		return mcpError("no answer produced"), nil
	}
}

func mcpAttachDocument(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}

		if err := deps.Docs.AddFile(ctx, path); err != nil {
			return mcpError(fmt.Sprintf("attach failed: %v", err)), nil
		}

		records := deps.Docs.Records()
		last := records[len(records)-1]
		return mcpText(fmt.Sprintf("Attached %s (%d chars)", last.File, last.Chars)), nil
	}
}

func mcpListHistory(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}

		conversations := deps.Session.Conversations()
		if len(conversations) > limit {
			conversations = conversations[:limit]
		}

		type conversationSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Title     string `json:"title"`
			Messages  int    `json:"messages"`
		}

		summaries := make([]conversationSummary, len(conversations))
		for i, c := range conversations {
			summaries[i] = conversationSummary{
				ID:        c.ID,
				CreatedAt: c.CreatedAt.Format(time.RFC3339),
				Title:     c.Title,
				Messages:  len(c.Messages),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpNewChat(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		deps.Session.ClearActive(ctx)
		return mcpText("Started a new chat."), nil
	}
}

func mcpResourceCurrent(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Session.Messages())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal messages: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceDocuments(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Docs.Records())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal documents: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
