package storage

import (
	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/interfaces"
	"github.com/vaultmind/vaultmind/internal/storage/badger"
	"github.com/vaultmind/vaultmind/internal/storage/vectorfs"
)

// Manager owns the durable stores: collections.db, jobs.db, vectors/ and
// watcher/ all live under a single configurable data_dir.
type Manager struct {
	dataDir     string
	collections *badger.Store
	jobs        *badger.Store
	vectors     *vectorfs.Store

	collectionStore interfaces.CollectionStore
	jobStore        interfaces.JobStore
	watchStateStore interfaces.WatchStateStore
	logger          *common.Logger
}

// Compile-time interface check
var _ interfaces.StorageManager = (*Manager)(nil)

// NewManager opens all stores under config.Storage.DataDir.
func NewManager(logger *common.Logger, cfg *common.Config) (*Manager, error) {
	collections, err := badger.NewStore(logger, cfg.Storage.CollectionsPath())
	if err != nil {
		return nil, err
	}

	jobs, err := badger.NewStore(logger, cfg.Storage.JobsPath())
	if err != nil {
		collections.Close()
		return nil, err
	}

	vectors, err := vectorfs.NewStore(logger, cfg.Storage.VectorsPath())
	if err != nil {
		collections.Close()
		jobs.Close()
		return nil, err
	}

	watchStates, err := NewWatchStateStore(logger, cfg.Storage.WatcherPath())
	if err != nil {
		collections.Close()
		jobs.Close()
		vectors.Close()
		return nil, err
	}

	m := &Manager{
		dataDir:         cfg.Storage.DataDir,
		collections:     collections,
		jobs:            jobs,
		vectors:         vectors,
		collectionStore: badger.NewCollectionStore(collections, logger),
		jobStore:        badger.NewJobStore(jobs, logger),
		watchStateStore: watchStates,
		logger:          logger,
	}

	logger.Info().Str("data_dir", cfg.Storage.DataDir).Msg("Storage initialized")
	return m, nil
}

func (m *Manager) CollectionStore() interfaces.CollectionStore { return m.collectionStore }
func (m *Manager) JobStore() interfaces.JobStore               { return m.jobStore }
func (m *Manager) VectorStore() interfaces.VectorStore         { return m.vectors }
func (m *Manager) WatchStateStore() interfaces.WatchStateStore { return m.watchStateStore }
func (m *Manager) DataDir() string                             { return m.dataDir }

// Close closes every underlying store, returning the first error seen.
func (m *Manager) Close() error {
	var firstErr error
	for _, closer := range []func() error{m.collections.Close, m.jobs.Close, m.vectors.Close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
