package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/indexer"
	"github.com/vaultmind/vaultmind/internal/models"
)

// flushTimeout bounds the background work triggered by a debounce timer.
const flushTimeout = 30 * time.Second

// eventLoop consumes native filesystem events until the context ends.
func (s *Service) eventLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.notify.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.notify.Errors:
			if !ok {
				return
			}
			s.logger.Warn().Err(err).Msg("Filesystem watcher error")
		}
	}
}

// scanLoop wakes periodically and runs the snapshot scan for every watch
// whose interval has elapsed.
func (s *Service) scanLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDueScans(ctx)
		}
	}
}

func (s *Service) runDueScans(ctx context.Context) {
	s.mu.Lock()
	var due []*watch
	now := time.Now().UTC()
	for _, w := range s.watches {
		if !w.config.Enabled {
			continue
		}
		interval, _ := parseDurationOr(w.config.ScanInterval, s.config.GetScanInterval())
		if now.Sub(w.lastScan) >= interval {
			due = append(due, w)
		}
	}
	s.mu.Unlock()

	for _, w := range due {
		if _, err := s.scanWatch(ctx, w); err != nil {
			s.logger.Warn().Str("collection", w.config.Name).Err(err).Msg("Periodic scan failed")
		}
	}
}

// handleEvent translates one fsnotify event into a debounced pending change.
// A rename is a delete of the old path; the create at the new path arrives
// as its own event, so a move becomes deleted + added.
func (s *Service) handleEvent(event fsnotify.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.watchForPathLocked(event.Name)
	if w == nil {
		return
	}

	// new directories need their own native watch
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !indexer.ExcludedDir(filepath.Base(event.Name)) {
				s.addNativeWatches(w)
			}
			return
		}
	}

	rel, err := filepath.Rel(w.config.Path, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if !indexer.IndexableFile(rel, nil) {
		return
	}

	var kind string
	switch {
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		kind = models.ChangeDeleted
	case event.Op.Has(fsnotify.Create):
		kind = models.ChangeCreated
	case event.Op.Has(fsnotify.Write):
		kind = models.ChangeModified
	default:
		return
	}

	w.eventsSeen++
	s.recordPendingLocked(w, rel, kind)
}

// recordPendingLocked merges a change into the pending set and (re)arms the
// debounce timer. Merging collapses event runs: a create followed by writes
// stays a create; a create followed by a delete vanishes entirely.
func (s *Service) recordPendingLocked(w *watch, rel, kind string) {
	if existing, ok := w.pending[rel]; ok {
		switch {
		case existing.kind == models.ChangeCreated && kind == models.ChangeDeleted:
			delete(w.pending, rel)
			return
		case existing.kind == models.ChangeCreated && kind == models.ChangeModified:
			kind = models.ChangeCreated
		case existing.kind == models.ChangeDeleted && kind == models.ChangeCreated:
			kind = models.ChangeModified
		}
	}
	w.pending[rel] = pendingChange{kind: kind, lastSeen: time.Now().UTC()}

	debounce, _ := parseDurationOr(w.config.Debounce, s.config.GetDebounce())
	name := w.config.Name
	if w.timer == nil {
		w.timer = time.AfterFunc(debounce, func() { s.flush(name) })
	} else {
		w.timer.Reset(debounce)
	}
}

// flush drains pending changes whose debounce window has elapsed and
// enqueues them as one changeset. Still-fresh entries re-arm the timer.
func (s *Service) flush(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	s.mu.Lock()
	w, ok := s.watches[name]
	if !ok || !s.running {
		s.mu.Unlock()
		return
	}

	debounce, _ := parseDurationOr(w.config.Debounce, s.config.GetDebounce())
	now := time.Now().UTC()
	var changes models.IncrementalPayload
	due := make(map[string]pendingChange)
	for rel, pc := range w.pending {
		if now.Sub(pc.lastSeen) < debounce {
			continue
		}
		due[rel] = pc
		delete(w.pending, rel)
		switch pc.kind {
		case models.ChangeCreated:
			changes.Added = append(changes.Added, rel)
		case models.ChangeModified:
			changes.Modified = append(changes.Modified, rel)
		case models.ChangeDeleted:
			changes.Deleted = append(changes.Deleted, rel)
		}
	}
	if len(w.pending) > 0 {
		w.timer.Reset(debounce)
	}
	s.mu.Unlock()

	if changes.IsEmpty() {
		return
	}

	if err := s.enqueue(ctx, w, changes); err != nil {
		// the collection is busy; put the changes back and retry later
		s.mu.Lock()
		for rel, pc := range due {
			if _, ok := w.pending[rel]; !ok {
				w.pending[rel] = pc
			}
		}
		w.timer.Reset(debounce)
		s.mu.Unlock()
		s.logger.Debug().Str("collection", name).Err(err).Msg("Changeset held, collection busy")
		return
	}

	s.refreshSnapshot(ctx, w, changes)
}

// enqueue routes a changeset into the job queue: fold into an existing
// not-yet-started incremental job when one exists, otherwise create a fresh
// one. Any other active job means the changeset must wait.
func (s *Service) enqueue(ctx context.Context, w *watch, changes models.IncrementalPayload) error {
	name := w.config.Name

	active, err := s.queue.ActiveForCollection(ctx, name)
	if err != nil {
		return err
	}
	if active != nil {
		if active.Kind == models.JobKindIncrementalUpdate {
			merged, mergeErr := s.queue.MergeIncremental(ctx, active.ID, changes)
			if mergeErr != nil {
				return mergeErr
			}
			if merged {
				s.logger.Info().
					Str("collection", name).
					Str("job_id", active.ID).
					Msg("Changeset merged into queued job")
				return nil
			}
		}
		return common.Conflict("collection '%s' has an active %s job", name, active.Kind)
	}

	jobID, err := s.queue.Create(ctx, models.JobKindIncrementalUpdate, name,
		models.JobPayload{Kind: models.JobKindIncrementalUpdate, Incremental: &changes},
		models.PriorityIncremental)
	if err != nil {
		return err
	}

	s.mu.Lock()
	w.jobsEnqueued++
	s.mu.Unlock()

	s.logger.Info().
		Str("collection", name).
		Str("job_id", jobID).
		Int("added", len(changes.Added)).
		Int("modified", len(changes.Modified)).
		Int("deleted", len(changes.Deleted)).
		Msg("Incremental job enqueued")
	return nil
}

// refreshSnapshot folds an already-enqueued changeset into the persisted
// snapshot so the next periodic scan does not re-report it.
func (s *Service) refreshSnapshot(ctx context.Context, w *watch, changes models.IncrementalPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := w.config.Path
	for _, rel := range changes.Deleted {
		delete(w.snapshot, rel)
	}
	for _, rel := range append(append([]string{}, changes.Added...), changes.Modified...) {
		full := filepath.Join(root, rel)
		info, err := os.Stat(full)
		if err != nil {
			delete(w.snapshot, rel)
			continue
		}
		hash, err := indexer.HashFile(full)
		if err != nil {
			continue
		}
		w.snapshot[rel] = models.FileState{
			Size:        info.Size(),
			ModTime:     info.ModTime().UTC(),
			ContentHash: hash,
		}
	}

	if err := s.persistLocked(ctx, w); err != nil {
		s.logger.Warn().Str("collection", w.config.Name).Err(err).Msg("Failed to persist watch state")
	}
}

// watchForPathLocked maps an absolute event path to its owning watch.
func (s *Service) watchForPathLocked(path string) *watch {
	for _, w := range s.watches {
		if !w.config.Enabled {
			continue
		}
		root := w.config.Path
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return w
		}
	}
	return nil
}

// addNativeWatches registers the watch root and every non-excluded
// subdirectory with fsnotify.
func (s *Service) addNativeWatches(w *watch) {
	err := filepath.WalkDir(w.config.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, the periodic scan still covers it
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.config.Path && indexer.ExcludedDir(d.Name()) {
			return filepath.SkipDir
		}
		if addErr := s.notify.Add(path); addErr != nil {
			s.logger.Warn().Str("path", path).Err(addErr).Msg("Failed to watch directory")
		}
		return nil
	})
	if err != nil {
		s.logger.Warn().Str("path", w.config.Path).Err(err).Msg("Failed to walk watch root")
	}
}

// removeNativeWatches drops every registered directory under root.
func (s *Service) removeNativeWatches(root string) {
	for _, watched := range s.notify.WatchList() {
		if watched == root || strings.HasPrefix(watched, root+string(filepath.Separator)) {
			_ = s.notify.Remove(watched)
		}
	}
}
