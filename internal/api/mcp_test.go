package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/parlebot/internal/bot"
	"github.com/kalambet/parlebot/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	b, err := bot.New(store, nil, nil)
	if err != nil {
		t.Fatalf("bot.New: %v", err)
	}

	return MCPDeps{Bot: b, Store: store}, store
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

func TestMCPTool_ChatLearnAndRecall(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpChat(deps)
	ctx := context.Background()

	result, err := handler(ctx, makeCallToolRequest("chat", map[string]interface{}{
		"message": "apprendre : capitale de la France = Paris",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	result, err = handler(ctx, makeCallToolRequest("chat", map[string]interface{}{
		"message": "capitale de la France",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != "Paris" {
		t.Errorf("reply = %q, want %q", got, "Paris")
	}

	answer, err := store.GetFact(ctx, "capitale de la france")
	if err != nil || answer != "Paris" {
		t.Errorf("GetFact = %q, %v", answer, err)
	}
}

func TestMCPTool_ChatMissingMessage(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, err := mcpChat(deps)(context.Background(), makeCallToolRequest("chat", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing message")
	}
}

func TestMCPTool_ChatBotErrorIsToolError(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, err := mcpChat(deps)(context.Background(), makeCallToolRequest("chat", map[string]interface{}{
		"message": "mail : not-an-email + Hi + Hello",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if got := toolText(t, result); !strings.Contains(got, "not-an-email") {
		t.Errorf("error text = %q", got)
	}
}

func TestMCPTool_ChatFormatsResults(t *testing.T) {
	stub := &stubDispatcher{resp: bot.Response{
		Reply: `Résultats pour "go" :`,
		Results: []bot.Result{
			{Title: "Go", Link: "https://go.dev", Snippet: "The Go language"},
			{Title: "Sans titre", Link: "#"},
		},
	}}

	result, err := mcpChat(MCPDeps{Bot: stub})(context.Background(), makeCallToolRequest("chat", map[string]interface{}{
		"message": "recherche : go",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "Résultats pour \"go\" :\n- Go (https://go.dev)\n  The Go language\n- Sans titre (#)"
	if got := toolText(t, result); got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
}

func TestMCPTool_ListFacts(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	ctx := context.Background()
	store.UpsertFact(ctx, "ciel", "bleu")
	store.UpsertFact(ctx, "herbe", "verte")
	store.UpsertFact(ctx, "neige", "blanche")

	result, err := mcpListFacts(deps)(ctx, makeCallToolRequest("list_facts", map[string]interface{}{
		"limit":  2,
		"offset": 1,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var facts []struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &facts); err != nil {
		t.Fatalf("parsing result: %v", err)
	}
	if len(facts) != 2 || facts[0].Question != "herbe" || facts[1].Question != "neige" {
		t.Errorf("facts = %+v", facts)
	}
}

func TestMCPTool_ListFactsStoreErrorHidesDetails(t *testing.T) {
	deps := MCPDeps{Bot: &stubDispatcher{}, Store: failingStore{}}

	result, err := mcpListFacts(deps)(context.Background(), makeCallToolRequest("list_facts", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if got := toolText(t, result); got != "failed to list facts" {
		t.Errorf("error text = %q", got)
	}
}

func TestMCPTool_ListFactsEmpty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, err := mcpListFacts(deps)(context.Background(), makeCallToolRequest("list_facts", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != "[]" {
		t.Errorf("text = %q, want []", got)
	}
}

func TestMCPResource_Facts(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	ctx := context.Background()
	store.UpsertFact(ctx, "ciel", "bleu")

	contents, err := mcpResourceFacts(deps)(ctx, makeReadResourceRequest("facts://all"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "facts://all" || tc.MIMEType != "application/json" {
		t.Errorf("contents = %+v", tc)
	}
	var facts map[string]string
	if err := json.Unmarshal([]byte(tc.Text), &facts); err != nil {
		t.Fatalf("parsing resource: %v", err)
	}
	if facts["ciel"] != "bleu" {
		t.Errorf("facts = %v", facts)
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
