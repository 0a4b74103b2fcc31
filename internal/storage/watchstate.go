// Package storage wires the durable stores under a single data_dir root.
package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/interfaces"
	"github.com/vaultmind/vaultmind/internal/models"
)

// watchStateStore persists one JSON document per collection under
// <data_dir>/watcher/<name>.json.
type watchStateStore struct {
	dir    string
	logger *common.Logger
}

// Compile-time interface check
var _ interfaces.WatchStateStore = (*watchStateStore)(nil)

// NewWatchStateStore creates a file-backed WatchStateStore rooted at dir.
func NewWatchStateStore(logger *common.Logger, dir string) (interfaces.WatchStateStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, common.WrapError(common.CodeUnavailable, err, "failed to create watcher state directory %s", dir)
	}
	return &watchStateStore{dir: dir, logger: logger}, nil
}

func (s *watchStateStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *watchStateStore) Save(_ context.Context, state *models.WatchState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return common.WrapError(common.CodeInternal, err, "failed to marshal watch state for '%s'", state.Config.Name)
	}

	// Write-then-rename so a crash mid-write never corrupts the document.
	tmp := s.path(state.Config.Name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return common.WrapError(common.CodeUnavailable, err, "failed to write watch state for '%s'", state.Config.Name)
	}
	if err := os.Rename(tmp, s.path(state.Config.Name)); err != nil {
		return common.WrapError(common.CodeUnavailable, err, "failed to persist watch state for '%s'", state.Config.Name)
	}
	return nil
}

func (s *watchStateStore) Load(_ context.Context, name string) (*models.WatchState, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.NotFound("watch state for '%s' not found", name)
		}
		return nil, common.WrapError(common.CodeUnavailable, err, "failed to read watch state for '%s'", name)
	}
	var state models.WatchState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, common.WrapError(common.CodeInternal, err, "failed to parse watch state for '%s'", name)
	}
	return &state, nil
}

func (s *watchStateStore) Delete(_ context.Context, name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return common.WrapError(common.CodeUnavailable, err, "failed to delete watch state for '%s'", name)
	}
	return nil
}

func (s *watchStateStore) ListAll(ctx context.Context) ([]models.WatchState, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, common.WrapError(common.CodeUnavailable, err, "failed to list watcher state directory")
	}
	var states []models.WatchState
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		state, err := s.Load(ctx, name)
		if err != nil {
			s.logger.Warn().Str("name", name).Err(err).Msg("Skipping unreadable watch state")
			continue
		}
		states = append(states, *state)
	}
	return states, nil
}
