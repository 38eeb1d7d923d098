package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/interfaces"
	"github.com/bobmcallan/vire-assistant/internal/models"
)

// createGetVersionTool returns the get_version tool definition
func createGetVersionTool() mcp.Tool {
	return mcp.NewTool("get_version",
		mcp.WithDescription("Get the Vire assistant version and status. Use this to verify connectivity."),
	)
}

// createAskPortfolioTool returns the ask_portfolio tool definition
func createAskPortfolioTool() mcp.Tool {
	return mcp.NewTool("ask_portfolio",
		mcp.WithDescription("Answer a natural-language question about a stock portfolio using live prices, sector analysis and the latest news for the given tickers."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The question to answer (e.g., 'What is our risk exposure today?')"),
		),
		mcp.WithArray("tickers",
			mcp.WithStringItems(),
			mcp.Description("Ticker symbols making up the portfolio (e.g., ['AAPL', 'NVDA']). Defaults to the configured tickers."),
		),
	)
}

// createIndexStatusTool returns the index_status tool definition
func createIndexStatusTool() mcp.Tool {
	return mcp.NewTool("index_status",
		mcp.WithDescription("Show how many news documents are in the retrieval index and whether it is ready."),
	)
}

// createRecentQueriesTool returns the recent_queries tool definition
func createRecentQueriesTool() mcp.Tool {
	return mcp.NewTool("recent_queries",
		mcp.WithDescription("List recently answered portfolio questions, newest first."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum entries to return (default: 10, max: 50)"),
		),
	)
}

// handleGetVersion implements the get_version tool
func handleGetVersion() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := fmt.Sprintf("Vire Assistant\nVersion: %s\nBuild: %s\nCommit: %s\nStatus: OK",
			common.GetVersion(), common.GetBuild(), common.GetGitCommit())
		return textResult(result), nil
	}
}

// handleAskPortfolio implements the ask_portfolio tool
func handleAskPortfolio(pipeline interfaces.PipelineService, logger *common.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return errorResult("Error: query parameter is required"), nil
		}

		tickers := request.GetStringSlice("tickers", nil)

		result, err := pipeline.Query(ctx, query, tickers)
		if err != nil {
			if errors.Is(err, common.ErrInvalidInput) {
				return errorResult(fmt.Sprintf("Error: %v", err)), nil
			}
			logger.Error().Err(err).Msg("ask_portfolio failed")
			if stage, ok := common.StageOf(err); ok {
				return errorResult(fmt.Sprintf("Query failed at %s: %v", stage, err)), nil
			}
			return errorResult(fmt.Sprintf("Query error: %v", err)), nil
		}

		return textResult(formatQueryResult(result)), nil
	}
}

// handleIndexStatus implements the index_status tool
func handleIndexStatus(pipeline interfaces.PipelineService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := pipeline.IndexStatus()
		return textResult(fmt.Sprintf("Index documents: %d\nIndex ready: %t", status.TotalDocuments, status.IndexReady)), nil
	}
}

// handleRecentQueries implements the recent_queries tool
func handleRecentQueries(journal interfaces.QueryJournal, logger *common.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if journal == nil {
			return errorResult("Query journal is not enabled"), nil
		}

		limit := request.GetInt("limit", 10)
		if limit < 1 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		entries, err := journal.Recent(ctx, limit)
		if err != nil {
			logger.Error().Err(err).Msg("recent_queries failed")
			return errorResult(fmt.Sprintf("Journal error: %v", err)), nil
		}
		if len(entries) == 0 {
			return textResult("No queries recorded yet."), nil
		}

		var sb strings.Builder
		sb.WriteString("# Recent Queries\n\n")
		sb.WriteString("| Time | Focus | Tickers | Query |\n")
		sb.WriteString("|------|-------|---------|-------|\n")
		for _, e := range entries {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				e.CreatedAt.Format("2006-01-02 15:04"),
				e.QueryFocus,
				strings.Join(e.Tickers, ", "),
				strings.ReplaceAll(e.Query, "|", "\\|"),
			))
		}
		return textResult(sb.String()), nil
	}
}

// formatQueryResult renders the answer followed by the pipeline counters
func formatQueryResult(r *models.QueryResult) string {
	var sb strings.Builder
	sb.WriteString(r.Response)
	sb.WriteString("\n\n---\n")
	sb.WriteString(fmt.Sprintf("Focus: %s | Stocks: %d | News: %d | Retrieved: %d",
		r.QueryFocus, r.StockCount, r.NewsCount, len(r.RetrievedDocs)))
	if r.Degraded {
		sb.WriteString(" | News retrieval unavailable")
	}
	return sb.String()
}

// Helper functions

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(message),
		},
		IsError: true,
	}
}
