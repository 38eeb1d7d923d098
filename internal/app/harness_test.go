package app

import (
	"context"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/models"
)

// mockPipeline records Query calls and returns a canned result or error.
type mockPipeline struct {
	mu          sync.Mutex
	lastQuery   string
	lastTickers []string
	result      *models.QueryResult
	err         error
	status      models.IndexStatus
}

func (m *mockPipeline) Query(ctx context.Context, text string, tickers []string) (*models.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuery = text
	m.lastTickers = tickers
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockPipeline) SampleQuery(ctx context.Context) (*models.QueryResult, error) {
	return m.Query(ctx, "sample", nil)
}

func (m *mockPipeline) IndexStatus() models.IndexStatus { return m.status }

func (m *mockPipeline) LastAnalytics() *models.PortfolioAnalytics { return nil }

// mockJournal serves a fixed entry list.
type mockJournal struct {
	entries []*models.JournalEntry
	err     error
}

func (m *mockJournal) Record(context.Context, *models.JournalEntry) error { return nil }

func (m *mockJournal) Recent(_ context.Context, limit int) ([]*models.JournalEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.entries) {
		return m.entries[:limit], nil
	}
	return m.entries, nil
}

func (m *mockJournal) Close() error { return nil }

// testHarness provides an in-process MCP client connected to a Vire assistant
// MCP server with mock services. Tests can configure mock behavior before
// calling tools.
type testHarness struct {
	t            *testing.T
	client       *client.Client
	mcpServer    *server.MCPServer
	mockPipeline *mockPipeline
	mockJournal  *mockJournal
	logger       *common.Logger
}

// newTestHarness creates an MCP server with mock services and an in-process client.
// The client is already initialized and ready to call tools.
func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	logger := common.NewLogger("error")
	mp := &mockPipeline{}
	mj := &mockJournal{}

	mcpServer := server.NewMCPServer(
		"vire-assistant-test",
		"test",
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createGetVersionTool(), handleGetVersion())
	mcpServer.AddTool(createAskPortfolioTool(), handleAskPortfolio(mp, logger))
	mcpServer.AddTool(createIndexStatusTool(), handleIndexStatus(mp))
	mcpServer.AddTool(createRecentQueriesTool(), handleRecentQueries(mj, logger))

	c, err := newInProcessClient(t, mcpServer)
	if err != nil {
		t.Fatalf("Failed to create in-process client: %v", err)
	}

	h := &testHarness{
		t:            t,
		client:       c,
		mcpServer:    mcpServer,
		mockPipeline: mp,
		mockJournal:  mj,
		logger:       logger,
	}

	t.Cleanup(h.close)
	return h
}

// callTool invokes an MCP tool by name with the given arguments.
func (h *testHarness) callTool(name string, args map[string]any) (*mcp.CallToolResult, error) {
	h.t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return h.client.CallTool(context.Background(), req)
}

// getTextContent extracts text from a content block at the given index.
// Fails the test if index is out of range or content is not text.
func (h *testHarness) getTextContent(result *mcp.CallToolResult, index int) string {
	h.t.Helper()
	if index >= len(result.Content) {
		h.t.Fatalf("Content index %d out of range (have %d blocks)", index, len(result.Content))
	}
	tc, ok := result.Content[index].(mcp.TextContent)
	if !ok {
		h.t.Fatalf("Content[%d] is %T, not TextContent", index, result.Content[index])
	}
	return tc.Text
}

func (h *testHarness) close() {
	if h.client != nil {
		h.client.Close()
	}
}
