package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Bot     Dispatcher
	Store   AdminStore
	Version string
}

// NewMCPServer creates an MCP server exposing the chatbot as tools and the
// learned facts as a resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"parlebot",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("parlebot: rule-based French chatbot with a learned question/answer store."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("chat",
			mcp.WithDescription("Send one message to the chatbot. Supports the commands 'apprendre : question = réponse', 'recherche : requête' and 'mail : destinataire + objet + message'."),
			mcp.WithString("message", mcp.Description("Message text"), mcp.Required()),
		),
		mcpChat(deps),
	)

	s.AddTool(
		mcp.NewTool("list_facts",
			mcp.WithDescription("List learned question/answer pairs, oldest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of facts (default 20, max 100)")),
			mcp.WithNumber("offset", mcp.Description("Number of facts to skip")),
		),
		mcpListFacts(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"facts://all",
			"Learned facts",
			mcp.WithResourceDescription("All learned facts as a JSON object keyed by normalized question"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceFacts(deps),
	)

	return s
}

func mcpChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		resp := deps.Bot.Handle(ctx, message)
		if resp.IsError() {
			return mcpError(resp.Error), nil
		}

		var b strings.Builder
		b.WriteString(resp.Reply)
		for _, r := range resp.Results {
			fmt.Fprintf(&b, "\n- %s (%s)", r.Title, r.Link)
			if r.Snippet != "" {
				fmt.Fprintf(&b, "\n  %s", r.Snippet)
			}
		}
		return mcpText(b.String()), nil
	}
}

func mcpListFacts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}
		offset := req.GetInt("offset", 0)
		if offset < 0 {
			offset = 0
		}

		facts, err := deps.Store.ListFacts(ctx, limit, offset)
		if err != nil {
			slog.Error("mcp: listing facts failed", "error", err)
			return mcpError("failed to list facts"), nil
		}
		if len(facts) == 0 {
			return mcpText("[]"), nil
		}

		type factResult struct {
			Question string `json:"question"`
			Answer   string `json:"answer"`
		}
		results := make([]factResult, len(facts))
		for i, f := range facts {
			results[i] = factResult{Question: f.Question, Answer: f.Answer}
		}

		b, err := json.Marshal(results)
		if err != nil {
			slog.Error("mcp: encoding facts failed", "error", err)
			return mcpError("failed to marshal facts"), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceFacts(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		facts, err := deps.Store.AllFacts(ctx)
		if err != nil {
			slog.Error("mcp: loading facts failed", "error", err)
			return nil, errors.New("failed to load facts")
		}
		if facts == nil {
			facts = map[string]string{}
		}

		b, err := json.Marshal(facts)
		if err != nil {
			slog.Error("mcp: encoding facts failed", "error", err)
			return nil, errors.New("failed to marshal facts")
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
