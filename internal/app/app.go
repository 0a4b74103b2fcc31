// Package app wires configuration, storage, clients, and services into one
// runnable application core.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vaultmind/vaultmind/internal/clients/gemini"
	"github.com/vaultmind/vaultmind/internal/clients/localembed"
	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/events"
	"github.com/vaultmind/vaultmind/internal/interfaces"
	"github.com/vaultmind/vaultmind/internal/services/jobqueue"
	"github.com/vaultmind/vaultmind/internal/services/pipeline"
	"github.com/vaultmind/vaultmind/internal/services/registry"
	"github.com/vaultmind/vaultmind/internal/services/search"
	"github.com/vaultmind/vaultmind/internal/services/watcher"
	"github.com/vaultmind/vaultmind/internal/storage"
)

// App holds all initialized services and clients. Construction order is
// fixed: storage, embedding client, event bus, job queue, registry,
// pipeline, watcher, search. Every dependency is injected through a
// constructor; nothing reaches for a global.
type App struct {
	Config        *common.Config
	Logger        *common.Logger
	Storage       interfaces.StorageManager
	Embedder      interfaces.EmbeddingClient
	Bus           *events.Bus
	Jobs          interfaces.JobService
	Registry      interfaces.RegistryService
	SearchService interfaces.SearchService
	Watcher       interfaces.WatcherService
	StartupTime   time.Time

	queue *jobqueue.Manager
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes storage, clients, and services.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	// Load version from .version file (fallback if ldflags not set)
	common.LoadVersionFromFile()

	binDir := getBinaryDir()

	// Load configuration - check provided path, VAULTMIND_CONFIG, then binary dir, then fallback
	if configPath == "" {
		configPath = os.Getenv("VAULTMIND_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "vaultmind.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/vaultmind.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative paths to the binary directory
	if config.Storage.DataDir != "" && !filepath.IsAbs(config.Storage.DataDir) {
		config.Storage.DataDir = filepath.Join(binDir, config.Storage.DataDir)
	}
	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(binDir, config.Logging.FilePath)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	storageManager, err := storage.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder, err := newEmbeddingClient(config, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	bus := events.NewBus(logger)
	queue := jobqueue.NewManager(storageManager.JobStore(), bus, logger, config.Queue)
	registryService := registry.NewService(storageManager, queue, logger, config)

	pipelineService := pipeline.NewService(storageManager, embedder, logger, config)
	pipelineService.Register(queue, registryService.ApplyJobResult)

	watcherService := watcher.NewService(storageManager, queue, logger, config)
	searchService := search.NewService(storageManager, embedder, logger)

	a := &App{
		Config:        config,
		Logger:        logger,
		Storage:       storageManager,
		Embedder:      embedder,
		Bus:           bus,
		Jobs:          queue,
		Registry:      registryService,
		SearchService: searchService,
		Watcher:       watcherService,
		StartupTime:   startupStart,

		queue: queue,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// newEmbeddingClient selects the configured embedding provider. The local
// provider needs no credentials and is the default.
func newEmbeddingClient(config *common.Config, logger *common.Logger) (interfaces.EmbeddingClient, error) {
	switch config.Embedding.Provider {
	case "gemini":
		if config.Embedding.APIKey == "" {
			return nil, fmt.Errorf("gemini embedding provider requires an API key")
		}
		return gemini.NewClient(context.Background(), config.Embedding.APIKey,
			gemini.WithLogger(logger),
			gemini.WithModel(config.Embedding.Model),
			gemini.WithDimension(config.Embedding.Dimension),
			gemini.WithRateLimit(config.Embedding.RateLimit),
			gemini.WithTimeout(config.Embedding.GetTimeout()),
		)
	case "", "local":
		return localembed.NewClient(config.Embedding.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider '%s'", config.Embedding.Provider)
	}
}

// Start launches the background machinery: event bus, job queue dispatcher,
// and (when enabled) the filesystem watcher.
func (a *App) Start(ctx context.Context) error {
	a.Bus.Start()
	a.queue.Start()

	if a.Config.Watcher.Enabled {
		if err := a.Watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
	}
	return nil
}

// Close releases all resources. Shutdown order is the reverse of startup:
// watcher, queue, bus, storage.
func (a *App) Close() {
	if a.Watcher != nil && a.Watcher.Running() {
		a.Watcher.Stop()
	}
	if a.queue != nil {
		a.queue.Stop()
		a.queue = nil
	}
	if a.Bus != nil {
		a.Bus.Stop()
	}
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
}
