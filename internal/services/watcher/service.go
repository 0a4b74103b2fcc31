// Package watcher turns filesystem changes into incremental update jobs.
// Native fsnotify events catch changes quickly; a periodic snapshot scan
// catches anything the native watcher missed.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/indexer"
	"github.com/vaultmind/vaultmind/internal/interfaces"
	"github.com/vaultmind/vaultmind/internal/models"
)

// watch is the in-memory runtime of one watched collection.
type watch struct {
	config       models.WatchConfig
	snapshot     map[string]models.FileState
	lastScan     time.Time
	eventsSeen   int64
	jobsEnqueued int64

	// pending holds debounced changes keyed by relative path.
	pending map[string]pendingChange
	timer   *time.Timer
}

type pendingChange struct {
	kind     string
	lastSeen time.Time
}

// Service implements interfaces.WatcherService.
type Service struct {
	storage interfaces.StorageManager
	queue   interfaces.JobService
	logger  *common.Logger
	config  common.WatcherConfig

	mu      sync.Mutex
	watches map[string]*watch
	notify  *fsnotify.Watcher
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ interfaces.WatcherService = (*Service)(nil)

// NewService creates the watcher service. Watches are loaded from the
// persisted state on Start.
func NewService(storage interfaces.StorageManager, queue interfaces.JobService, logger *common.Logger, cfg *common.Config) *Service {
	return &Service{
		storage: storage,
		queue:   queue,
		logger:  logger,
		config:  cfg.Watcher,
		watches: make(map[string]*watch),
	}
}

// Start loads persisted watches and launches the event and scan loops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return common.WrapError(common.CodeInternal, err, "failed to create filesystem watcher")
	}
	s.notify = notify

	states, err := s.storage.WatchStateStore().ListAll(ctx)
	if err != nil {
		notify.Close()
		return err
	}
	for i := range states {
		state := states[i]
		w := &watch{
			config:   state.Config,
			snapshot: state.Snapshot,
			lastScan: state.LastScan,
			pending:  make(map[string]pendingChange),
		}
		s.watches[state.Config.Name] = w
		if state.Config.Enabled {
			s.addNativeWatches(w)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(2)
	go s.eventLoop(runCtx)
	go s.scanLoop(runCtx)

	s.logger.Info().Int("watches", len(s.watches)).Msg("Watcher started")
	return nil
}

// Stop halts the loops and closes the native watcher.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	for _, w := range s.watches {
		if w.timer != nil {
			w.timer.Stop()
		}
	}
	notify := s.notify
	s.mu.Unlock()

	notify.Close()
	s.wg.Wait()
	s.logger.Info().Msg("Watcher stopped")
}

// Running reports whether the loops are active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// AddWatch registers a watch for a collection, takes an initial snapshot,
// and persists it.
func (s *Service) AddWatch(ctx context.Context, cfg models.WatchConfig) error {
	if cfg.Name == "" || cfg.Path == "" {
		return common.InvalidArgument("watch requires a collection name and a path")
	}
	if _, err := s.storage.CollectionStore().Get(ctx, cfg.Name); err != nil {
		return err
	}
	if _, err := parseDurationOr(cfg.ScanInterval, s.config.GetScanInterval()); err != nil {
		return common.InvalidArgument("invalid scan_interval '%s'", cfg.ScanInterval)
	}
	if _, err := parseDurationOr(cfg.Debounce, s.config.GetDebounce()); err != nil {
		return common.InvalidArgument("invalid debounce '%s'", cfg.Debounce)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watches[cfg.Name]; ok {
		return common.Conflict("watch for collection '%s' already exists", cfg.Name)
	}

	snapshot, err := indexer.Snapshot(cfg.Path, s.ignorePatternsLocked(ctx, cfg.Name))
	if err != nil {
		return common.WrapError(common.CodeInvalidArgument, err, "cannot snapshot '%s'", cfg.Path)
	}

	w := &watch{
		config:   cfg,
		snapshot: snapshot,
		lastScan: time.Now().UTC(),
		pending:  make(map[string]pendingChange),
	}
	s.watches[cfg.Name] = w
	if s.running && cfg.Enabled {
		s.addNativeWatches(w)
	}

	if err := s.persistLocked(ctx, w); err != nil {
		delete(s.watches, cfg.Name)
		return err
	}
	s.logger.Info().Str("collection", cfg.Name).Str("path", cfg.Path).Msg("Watch added")
	return nil
}

// UpdateWatch replaces the configuration of an existing watch.
func (s *Service) UpdateWatch(ctx context.Context, name string, cfg models.WatchConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.watches[name]
	if !ok {
		return common.NotFound("no watch for collection '%s'", name)
	}
	cfg.Name = name
	if cfg.Path == "" {
		cfg.Path = w.config.Path
	}

	wasEnabled := w.config.Enabled
	oldPath := w.config.Path
	w.config = cfg

	if s.running {
		if wasEnabled && (!cfg.Enabled || cfg.Path != oldPath) {
			s.removeNativeWatches(oldPath)
		}
		if cfg.Enabled && (!wasEnabled || cfg.Path != oldPath) {
			s.addNativeWatches(w)
		}
	}

	if err := s.persistLocked(ctx, w); err != nil {
		return err
	}
	s.logger.Info().Str("collection", name).Bool("enabled", cfg.Enabled).Msg("Watch updated")
	return nil
}

// RemoveWatch drops a watch and its persisted state.
func (s *Service) RemoveWatch(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.watches[name]
	if !ok {
		return common.NotFound("no watch for collection '%s'", name)
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	if s.running && w.config.Enabled {
		s.removeNativeWatches(w.config.Path)
	}
	delete(s.watches, name)

	if err := s.storage.WatchStateStore().Delete(ctx, name); err != nil {
		return err
	}
	s.logger.Info().Str("collection", name).Msg("Watch removed")
	return nil
}

// ListWatches returns every watch with its counters.
func (s *Service) ListWatches(ctx context.Context) ([]models.WatchStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]models.WatchStatus, 0, len(s.watches))
	for _, w := range s.watches {
		statuses = append(statuses, models.WatchStatus{
			WatchConfig:  w.config,
			LastScan:     w.lastScan,
			FilesTracked: len(w.snapshot),
			EventsSeen:   w.eventsSeen,
			JobsEnqueued: w.jobsEnqueued,
		})
	}
	return statuses, nil
}

// ScanNow performs an immediate snapshot scan for one collection and
// enqueues the resulting changeset, if any.
func (s *Service) ScanNow(ctx context.Context, name string) (*models.IncrementalPayload, error) {
	s.mu.Lock()
	w, ok := s.watches[name]
	s.mu.Unlock()
	if !ok {
		return nil, common.NotFound("no watch for collection '%s'", name)
	}
	changes, err := s.scanWatch(ctx, w)
	if err != nil {
		return nil, err
	}
	return &changes, nil
}

// scanWatch diffs the current filesystem against the persisted snapshot,
// enqueues the changeset, and persists the new snapshot.
func (s *Service) scanWatch(ctx context.Context, w *watch) (models.IncrementalPayload, error) {
	s.mu.Lock()
	name := w.config.Name
	root := w.config.Path
	previous := w.snapshot
	ignore := s.ignorePatternsLocked(ctx, name)
	s.mu.Unlock()

	current, err := indexer.Snapshot(root, ignore)
	if err != nil {
		return models.IncrementalPayload{}, common.WrapError(common.CodeUnavailable, err, "scan of '%s' failed", root)
	}
	changes := indexer.DiffSnapshots(previous, current)

	if !changes.IsEmpty() {
		if err := s.enqueue(ctx, w, changes); err != nil {
			return changes, err
		}
	}

	s.mu.Lock()
	w.snapshot = current
	w.lastScan = time.Now().UTC()
	err = s.persistLocked(ctx, w)
	s.mu.Unlock()
	return changes, err
}

// ignorePatternsLocked reads the collection's ignore patterns; missing
// collections just mean no extra patterns.
func (s *Service) ignorePatternsLocked(ctx context.Context, name string) []string {
	collection, err := s.storage.CollectionStore().Get(ctx, name)
	if err != nil {
		return nil
	}
	return collection.Config.IgnorePatterns
}

func (s *Service) persistLocked(ctx context.Context, w *watch) error {
	return s.storage.WatchStateStore().Save(ctx, &models.WatchState{
		Config:   w.config,
		Snapshot: w.snapshot,
		LastScan: w.lastScan,
	})
}

func parseDurationOr(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}
