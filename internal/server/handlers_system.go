package server

import (
	"net/http"
	"time"

	"github.com/vaultmind/vaultmind/internal/common"
)

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	collections, err := s.app.Storage.CollectionStore().Count(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	stats, err := s.app.Jobs.Stats(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        common.GetVersion(),
		"uptime_seconds": int(time.Since(s.app.StartupTime).Seconds()),
		"collections":    collections,
		"queue":          stats,
		"watcher":        s.app.Watcher.Running(),
	})
}

// handleVersion handles GET /api/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"version": common.GetVersion()})
}

// handleConfig handles GET /api/config — the redacted effective configuration.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	cfg := s.app.Config
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"environment": cfg.Environment,
		"data_dir":    cfg.Storage.DataDir,
		"embedding": map[string]interface{}{
			"provider":  cfg.Embedding.Provider,
			"model":     s.app.Embedder.Model(),
			"dimension": s.app.Embedder.Dimension(),
		},
		"indexing": map[string]interface{}{
			"chunk_size":    cfg.Indexing.ChunkSize,
			"chunk_overlap": cfg.Indexing.ChunkOverlap,
			"batch_size":    cfg.Indexing.BatchSize,
		},
		"watcher": map[string]interface{}{
			"enabled":       cfg.Watcher.Enabled,
			"scan_interval": cfg.Watcher.GetScanInterval().String(),
			"debounce":      cfg.Watcher.GetDebounce().String(),
		},
		"queue": map[string]interface{}{
			"max_concurrent": cfg.Queue.GetMaxConcurrent(),
			"max_retries":    cfg.Queue.MaxRetries,
		},
	})
}
