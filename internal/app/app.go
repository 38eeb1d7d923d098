package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/vire-assistant/internal/clients/eodhd"
	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/embeddings"
	"github.com/bobmcallan/vire-assistant/internal/interfaces"
	"github.com/bobmcallan/vire-assistant/internal/services/analysis"
	"github.com/bobmcallan/vire-assistant/internal/services/language"
	"github.com/bobmcallan/vire-assistant/internal/services/market"
	"github.com/bobmcallan/vire-assistant/internal/services/pipeline"
	"github.com/bobmcallan/vire-assistant/internal/services/report"
	"github.com/bobmcallan/vire-assistant/internal/services/retrieval"
	"github.com/bobmcallan/vire-assistant/internal/storage/journal"
)

// App holds all initialized services, clients, and the MCP server.
// It is the shared core used by cmd/vire-assistant and the server tests.
type App struct {
	Config          *common.Config
	Logger          *common.Logger
	EODHDClient     interfaces.EODHDClient
	Embedder        interfaces.Embedder
	VectorStore     interfaces.VectorStore
	MarketService   interfaces.MarketDataService
	AnalysisService interfaces.AnalysisService
	Composer        interfaces.ResponseComposer
	Pipeline        interfaces.PipelineService
	ChartService    interfaces.ChartRenderer
	Journal         interfaces.QueryJournal // nil when disabled or unavailable
	MCPServer       *server.MCPServer
	StartupTime     time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes clients, services, the journal and the MCP server.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	binDir := getBinaryDir()

	// Load configuration - check provided path, VIRE_CONFIG, then binary dir, then fallback
	if configPath == "" {
		configPath = os.Getenv("VIRE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "vire-assistant.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/vire-assistant.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative journal path to binary directory
	if config.Storage.Journal.Path != "" && !filepath.IsAbs(config.Storage.Journal.Path) {
		config.Storage.Journal.Path = filepath.Join(binDir, config.Storage.Journal.Path)
	}

	// Resolve relative log file path to binary directory
	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(binDir, config.Logging.FilePath)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	return newAppWithConfig(config, logger, startupStart)
}

// newAppWithConfig wires everything from an already loaded config.
func newAppWithConfig(config *common.Config, logger *common.Logger, startupStart time.Time) (*App, error) {
	ctx := context.Background()

	a := &App{
		Config:      config,
		Logger:      logger,
		StartupTime: startupStart,
	}

	// Market data client. Without a key the pipeline fails at FETCH_MARKET_DATA.
	eodhdKey, err := common.ResolveAPIKey(ctx, "eodhd_api_key", config.Clients.EODHD.APIKey)
	if err != nil {
		logger.Warn().Msg("EODHD API key not configured - queries will fail at market data")
	} else {
		a.EODHDClient = eodhd.NewClient(eodhdKey,
			eodhd.WithBaseURL(config.Clients.EODHD.BaseURL),
			eodhd.WithLogger(logger),
			eodhd.WithRateLimit(config.Clients.EODHD.RateLimit),
			eodhd.WithTimeout(config.Clients.EODHD.GetTimeout()),
		)
	}

	embedder, err := embeddings.New(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	a.Embedder = embedder

	store, err := retrieval.NewStore(embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	a.VectorStore = store

	// Journal is optional; a failure to open it only loses history
	if config.Storage.Journal.Enabled {
		j, err := journal.Open(logger, config.Storage.Journal.Path)
		if err != nil {
			logger.Warn().Err(err).Str("path", config.Storage.Journal.Path).Msg("Query journal unavailable - continuing without it")
		} else {
			a.Journal = j
		}
	}

	marketService := market.NewService(a.EODHDClient, logger)
	analysisService := analysis.NewService(logger)
	composer := language.NewComposer(logger)

	a.MarketService = marketService
	a.AnalysisService = analysisService
	a.Composer = composer
	a.ChartService = report.NewService(marketService, analysisService, logger)
	a.Pipeline = pipeline.NewController(
		marketService,
		store,
		analysisService,
		composer,
		a.Journal,
		pipeline.OptionsFromConfig(config),
		logger,
	)

	a.MCPServer = server.NewMCPServer(
		"vire-assistant",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)
	a.registerTools()

	logger.Info().
		Str("embedder", embedder.Name()).
		Bool("market_data", a.EODHDClient != nil).
		Bool("journal", a.Journal != nil).
		Dur("startup", time.Since(startupStart)).
		Msg("App initialized")

	return a, nil
}

// MarketDataConfigured reports whether a market data client is available.
func (a *App) MarketDataConfigured() bool {
	return a.EODHDClient != nil
}

// Close releases all resources held by the App.
func (a *App) Close() {
	if a.Journal != nil {
		if err := a.Journal.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close query journal")
		}
		a.Journal = nil
	}
}

// registerTools registers all MCP tools on the App's MCPServer.
func (a *App) registerTools() {
	s := a.MCPServer
	logger := a.Logger

	s.AddTool(createGetVersionTool(), handleGetVersion())
	s.AddTool(createAskPortfolioTool(), handleAskPortfolio(a.Pipeline, logger))
	s.AddTool(createIndexStatusTool(), handleIndexStatus(a.Pipeline))
	s.AddTool(createRecentQueriesTool(), handleRecentQueries(a.Journal, logger))
}
