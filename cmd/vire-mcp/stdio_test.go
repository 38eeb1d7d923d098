package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bobmcallan/vire-assistant/internal/app"
)

// newStdioClient starts serveStdio over io.Pipe and returns an initialized
// MCP client talking to it. No market data key is configured.
func newStdioClient(t *testing.T) *client.Client {
	t.Helper()

	a, err := app.NewApp(writeTestConfig(t))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	// clientOut -> serverIn, serverOut -> clientIn
	serverIn, clientOut := io.Pipe()
	clientIn, serverOut := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- serveStdio(ctx, a, serverIn, serverOut)
	}()

	stdioTransport := transport.NewIO(clientIn, clientOut, io.NopCloser(strings.NewReader("")))
	if err := stdioTransport.Start(context.Background()); err != nil {
		cancel()
		t.Fatalf("Failed to start stdio transport: %v", err)
	}
	c := client.NewClient(stdioTransport)

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "stdio-test", Version: "1.0.0"}
	initCtx, initCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer initCancel()
	if _, err := c.Initialize(initCtx, initReq); err != nil {
		cancel()
		c.Close()
		t.Fatalf("Failed to initialize MCP via stdio: %v", err)
	}

	t.Cleanup(func() {
		c.Close()
		cancel()
		clientOut.Close()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("serveStdio returned error: %v", err)
			}
		case <-time.After(2 * time.Second):
		}
	})

	return c
}

func callTool(t *testing.T, c *client.Client, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := c.CallTool(ctx, req)
	if err != nil {
		t.Fatalf("%s over stdio failed: %v", name, err)
	}
	return result
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("Expected content in tool result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func TestStdio_ListTools(t *testing.T) {
	c := newStdioClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		t.Fatalf("ListTools over stdio failed: %v", err)
	}

	names := make(map[string]bool)
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"ask_portfolio", "index_status", "recent_queries", "get_version"} {
		if !names[want] {
			t.Errorf("Expected tool %q over stdio, got %v", want, names)
		}
	}
}

func TestStdio_IndexStatusStartsEmpty(t *testing.T) {
	c := newStdioClient(t)

	text := textOf(t, callTool(t, c, "index_status", nil))
	if !strings.Contains(text, "Index documents: 0") {
		t.Errorf("Expected empty index, got: %s", text)
	}
	if !strings.Contains(text, "Index ready: false") {
		t.Errorf("Expected index not ready, got: %s", text)
	}
}

func TestStdio_AskPortfolioRunsPipeline(t *testing.T) {
	c := newStdioClient(t)

	result := callTool(t, c, "ask_portfolio", map[string]interface{}{
		"query":   "What is our risk exposure?",
		"tickers": []string{"AAPL"},
	})
	if !result.IsError {
		t.Fatal("Expected error result without a market data key")
	}
	if text := textOf(t, result); !strings.Contains(text, "FETCH_MARKET_DATA") {
		t.Errorf("Expected failing stage in message, got: %s", text)
	}
}

func TestStdio_AskPortfolioRequiresQuery(t *testing.T) {
	c := newStdioClient(t)

	result := callTool(t, c, "ask_portfolio", map[string]interface{}{"query": "  "})
	if !result.IsError {
		t.Fatal("Expected error result for a blank query")
	}
	if text := textOf(t, result); !strings.Contains(text, "query parameter is required") {
		t.Errorf("Unexpected message: %s", text)
	}
}

func TestServeStdio_ReturnsOnEOF(t *testing.T) {
	a, err := app.NewApp(writeTestConfig(t))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	defer a.Close()

	var out strings.Builder
	done := make(chan error, 1)
	go func() { done <- serveStdio(context.Background(), a, strings.NewReader(""), &out) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil on EOF, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serveStdio did not return on EOF")
	}
	if out.Len() != 0 {
		t.Errorf("Expected no output, got %q", out.String())
	}
}

// --- test helpers ---

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	t.Setenv("EODHD_API_KEY", "")
	t.Setenv("VIRE_EODHD_API_KEY", "")
	t.Setenv("VIRE_EMBEDDER", "")
	t.Setenv("VIRE_DATA_PATH", "")

	config := `
[storage.journal]
enabled = false

[logging]
level = "error"
outputs = ["console"]
file_path = "` + filepath.Join(dir, "vire-mcp.log") + `"
`
	configPath := filepath.Join(dir, "vire-assistant.toml")
	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}
