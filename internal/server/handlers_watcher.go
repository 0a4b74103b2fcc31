package server

import (
	"net/http"

	"github.com/vaultmind/vaultmind/internal/models"
)

// handleWatcherStatus handles GET /api/watcher/status.
func (s *Server) handleWatcherStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	watches, err := s.app.Watcher.ListWatches(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"running": s.app.Watcher.Running(),
		"watches": watches,
	})
}

// handleWatcherStart handles POST /api/watcher/start.
func (s *Server) handleWatcherStart(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.app.Watcher.Start(r.Context()); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"running": true})
}

// handleWatcherStop handles POST /api/watcher/stop.
func (s *Server) handleWatcherStop(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	s.app.Watcher.Stop()
	WriteJSON(w, http.StatusOK, map[string]bool{"running": false})
}

// handleWatches handles /api/watcher/watches (list, add).
func (s *Server) handleWatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		watches, err := s.app.Watcher.ListWatches(r.Context())
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"watches": watches})

	case http.MethodPost:
		var cfg models.WatchConfig
		if !DecodeJSON(w, r, &cfg) {
			return
		}
		if err := s.app.Watcher.AddWatch(r.Context(), cfg); err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, cfg)

	default:
		w.Header().Set("Allow", "GET, POST")
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleWatch handles /api/watcher/watches/{name} (update, remove).
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request, name string) {
	switch r.Method {
	case http.MethodPut, http.MethodPatch:
		var cfg models.WatchConfig
		if !DecodeJSON(w, r, &cfg) {
			return
		}
		if err := s.app.Watcher.UpdateWatch(r.Context(), name, cfg); err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg)

	case http.MethodDelete:
		if err := s.app.Watcher.RemoveWatch(r.Context(), name); err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]bool{"removed": true})

	default:
		w.Header().Set("Allow", "PUT, PATCH, DELETE")
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleWatchScan handles POST /api/watcher/watches/{name}/scan.
func (s *Server) handleWatchScan(w http.ResponseWriter, r *http.Request, name string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	changes, err := s.app.Watcher.ScanNow(r.Context(), name)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, changes)
}
