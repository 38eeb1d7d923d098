package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bobmcallan/vire-assistant/internal/app"
	"github.com/bobmcallan/vire-assistant/internal/common"
)

// minWriteTimeout is the floor for the response deadline; chart renders and
// journal reads need no more than this.
const minWriteTimeout = 60 * time.Second

// Server serves the query API and the MCP endpoint for one App.
type Server struct {
	app          *app.App
	server       *http.Server
	logger       *common.Logger
	shutdownChan chan struct{}
}

// SetShutdownChannel sets the channel that will be signaled when HTTP shutdown is requested.
func (s *Server) SetShutdownChannel(ch chan struct{}) {
	s.shutdownChan = ch
}

// NewServer creates the HTTP server for a.
func NewServer(a *app.App) *Server {
	s := &Server{
		app:    a,
		logger: a.Logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port),
		Handler:      applyMiddleware(mux, a.Logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: queryWriteTimeout(a.Config.Pipeline),
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// queryWriteTimeout bounds a response by the worst-case pipeline run: the
// market fetch, the ingest and retrieve embedding calls, plus slack for
// analysis, composition and the journal write.
func queryWriteTimeout(p common.PipelineConfig) time.Duration {
	d := p.GetMarketTimeout() + 2*p.GetEmbedTimeout() + 15*time.Second
	if d < minWriteTimeout {
		return minWriteTimeout
	}
	return d
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.server.Addr).
		Str("embedder", s.app.Embedder.Name()).
		Bool("market_data", s.app.MarketDataConfigured()).
		Bool("journal", s.app.Journal != nil).
		Dur("write_timeout", s.server.WriteTimeout).
		Msg("Starting assistant API server")
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight queries to
// finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Int("indexed_documents", s.app.Pipeline.IndexStatus().TotalDocuments).Msg("Stopping assistant API server")
	return s.server.Shutdown(ctx)
}
