package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/justme409/aiprojectengineerv3/internal/assetstore"
	"github.com/justme409/aiprojectengineerv3/internal/config"
	"github.com/justme409/aiprojectengineerv3/internal/ctxlog"
	"github.com/justme409/aiprojectengineerv3/internal/docfetch"
	"github.com/justme409/aiprojectengineerv3/internal/graph"
	"github.com/justme409/aiprojectengineerv3/internal/pipeline"
	"github.com/justme409/aiprojectengineerv3/internal/run"
)

// Options holds everything the CLI frontend resolved for one invocation.
type Options struct {
	ConfigPath      string
	ProjectID       string
	DocumentIDs     []string
	HealthcheckPort int
	LogFormat       string
	LogLevel        string
	MockMode        bool
	PauseForReview  bool
}

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	config  *config.Config
	graph   *graph.Graph
	manager *run.Manager
	mock    *mockCollaborators
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger. Startup failures
// are programmer or deployment errors and panic; the entrypoint recovers.
func NewApp(outW io.Writer, opts *Options, loader config.Loader) *App {
	logger := newLogger(opts.LogLevel, opts.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	cfg, err := loader.Load(ctx, opts.ConfigPath)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	applyOverrides(cfg, opts)
	logger.Debug("Configuration loaded.", "mock_mode", cfg.MockMode)

	deps, cps, mock, err := wireCollaborators(ctx, cfg, opts)
	if err != nil {
		panic(fmt.Errorf("failed to wire collaborators: %w", err))
	}

	g, err := pipeline.BuildGraph(deps, pipeline.Options{
		PauseForInspection: cfg.PauseForReview,
	})
	if err != nil {
		panic(fmt.Errorf("failed to build pipeline graph: %w", err))
	}
	logger.Debug("Pipeline graph compiled.", "stages", g.Len())

	var managerOpts []run.Option
	if cfg.StageTimeoutSec > 0 {
		managerOpts = append(managerOpts, run.WithStageTimeout(time.Duration(cfg.StageTimeoutSec)*time.Second))
	}

	return &App{
		outW:    outW,
		logger:  logger,
		config:  cfg,
		graph:   g,
		manager: run.NewManager(g, cps, managerOpts...),
		mock:    mock,
	}
}

// Manager returns the application's run manager. This is primarily for
// embedding and testing.
func (a *App) Manager() *run.Manager {
	return a.manager
}

// MockStores exposes the in-memory asset store and document fetcher so mock
// runs can be seeded and inspected. Both are nil outside mock mode.
func (a *App) MockStores() (*assetstore.MemStore, *docfetch.MemFetcher) {
	if a.mock == nil {
		return nil, nil
	}
	return a.mock.assets, a.mock.fetcher
}

// applyOverrides layers CLI flags over the file configuration.
func applyOverrides(cfg *config.Config, opts *Options) {
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.LogFormat = opts.LogFormat
	}
	if opts.HealthcheckPort > 0 {
		cfg.HealthcheckPort = opts.HealthcheckPort
	}
	if opts.MockMode {
		cfg.MockMode = true
	}
	if opts.PauseForReview {
		cfg.PauseForReview = true
	}
	cfg.Normalize()
}
