// Command vire-mcp serves the assistant's MCP tools over stdio for hosts that
// launch tools as subprocesses. It runs the full query pipeline in-process;
// no vire-assistant server needs to be running.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/vire-assistant/internal/app"
)

func main() {
	configPath := os.Getenv("VIRE_CONFIG")
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	a, err := app.NewApp(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Logger.Info().
		Str("embedder", a.Embedder.Name()).
		Bool("market_data", a.MarketDataConfigured()).
		Msg("Serving MCP over stdio")

	if err := serveStdio(ctx, a, os.Stdin, os.Stdout); err != nil {
		a.Logger.Error().Err(err).Msg("stdio server stopped")
		a.Close()
		os.Exit(1)
	}
}

// serveStdio runs the app's MCP server on r/w until r is exhausted or ctx is
// cancelled. Stdout carries only JSON-RPC, so transport errors go to the
// app logger.
func serveStdio(ctx context.Context, a *app.App, r io.Reader, w io.Writer) error {
	stdio := server.NewStdioServer(a.MCPServer)
	stdio.SetErrorLogger(log.New(&a.Logger.Logger, "", 0))

	err := stdio.Listen(ctx, r, w)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
