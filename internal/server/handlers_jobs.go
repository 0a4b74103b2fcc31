package server

import (
	"net/http"

	"github.com/vaultmind/vaultmind/internal/common"
)

// handleJobList handles GET /api/jobs — every non-terminal job.
func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobs, err := s.app.Jobs.ListActive(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// handleJobStats handles GET /api/jobs/stats.
func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := s.app.Jobs.Stats(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// handleJob handles GET /api/jobs/{id}.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := s.app.Jobs.Get(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// handleJobPause handles POST /api/jobs/{id}/pause.
func (s *Server) handleJobPause(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	paused, err := s.app.Jobs.Pause(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if !paused {
		WriteServiceError(w, common.PreconditionFailed("job '%s' is not running", id))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// handleJobResume handles POST /api/jobs/{id}/resume.
func (s *Server) handleJobResume(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	resumed, err := s.app.Jobs.Resume(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if !resumed {
		WriteServiceError(w, common.PreconditionFailed("job '%s' is not paused", id))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"resumed": true})
}

// handleJobCancel handles POST /api/jobs/{id}/cancel.
func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	cancelled, err := s.app.Jobs.Cancel(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if !cancelled {
		WriteServiceError(w, common.PreconditionFailed("job '%s' is already finished", id))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}
