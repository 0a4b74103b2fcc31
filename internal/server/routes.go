package server

import (
	"net/http"
	"strings"
	"time"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)

	// Collections
	mux.HandleFunc("/api/collections/", s.routeCollections)
	mux.HandleFunc("/api/collections", s.handleCollections)

	// Jobs
	mux.HandleFunc("/api/jobs/stats", s.handleJobStats)
	mux.HandleFunc("/api/jobs/", s.routeJobs)
	mux.HandleFunc("/api/jobs", s.handleJobList)

	// Watcher
	mux.HandleFunc("/api/watcher/status", s.handleWatcherStatus)
	mux.HandleFunc("/api/watcher/start", s.handleWatcherStart)
	mux.HandleFunc("/api/watcher/stop", s.handleWatcherStop)
	mux.HandleFunc("/api/watcher/watches/", s.routeWatches)
	mux.HandleFunc("/api/watcher/watches", s.handleWatches)

	// Global event stream
	mux.HandleFunc("/api/events/ws", s.handleGlobalWS)
}

// routeCollections dispatches /api/collections/{name}[/*] to the handler for
// the sub-resource.
func (s *Server) routeCollections(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/collections/")
	if path == "" {
		WriteError(w, http.StatusBadRequest, "collection name is required in path")
		return
	}

	parts := strings.SplitN(path, "/", 2)
	name := parts[0]
	if len(parts) == 1 {
		s.handleCollection(w, r, name)
		return
	}

	switch parts[1] {
	case "config":
		s.handleCollectionConfig(w, r, name)
	case "reindex":
		s.handleCollectionReindex(w, r, name)
	case "pause":
		s.handleCollectionPause(w, r, name)
	case "resume":
		s.handleCollectionResume(w, r, name)
	case "cancel":
		s.handleCollectionCancel(w, r, name)
	case "search":
		s.handleCollectionSearch(w, r, name)
	case "jobs":
		s.handleCollectionJobs(w, r, name)
	case "health":
		s.handleCollectionHealth(w, r, name)
	case "deletion-token":
		s.handleDeletionToken(w, r, name)
	case "ws":
		s.handleCollectionWS(w, r, name)
	default:
		WriteError(w, http.StatusNotFound, "Unknown collection resource")
	}
}

// routeJobs dispatches /api/jobs/{id}[/{action}].
func (s *Server) routeJobs(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if path == "" {
		WriteError(w, http.StatusBadRequest, "job id is required in path")
		return
	}

	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if len(parts) == 1 {
		s.handleJob(w, r, id)
		return
	}

	switch parts[1] {
	case "pause":
		s.handleJobPause(w, r, id)
	case "resume":
		s.handleJobResume(w, r, id)
	case "cancel":
		s.handleJobCancel(w, r, id)
	default:
		WriteError(w, http.StatusNotFound, "Unknown job action")
	}
}

// routeWatches dispatches /api/watcher/watches/{name}[/scan].
func (s *Server) routeWatches(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/watcher/watches/")
	if path == "" {
		WriteError(w, http.StatusBadRequest, "collection name is required in path")
		return
	}

	parts := strings.SplitN(path, "/", 2)
	name := parts[0]
	if len(parts) == 1 {
		s.handleWatch(w, r, name)
		return
	}

	if parts[1] == "scan" {
		s.handleWatchScan(w, r, name)
		return
	}
	WriteError(w, http.StatusNotFound, "Unknown watch resource")
}

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}
