package server

import (
	"net/http"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/models"
)

// CreateCollectionRequest is the body of POST /api/collections.
type CreateCollectionRequest struct {
	Name        string                        `json:"name"`
	SourcePath  string                        `json:"source_path"`
	Description string                        `json:"description,omitempty"`
	Config      *models.CollectionConfigPatch `json:"config,omitempty"`
}

// handleCollections handles /api/collections (list, create).
func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		page := QueryInt(r, "page", 1)
		limit := QueryInt(r, "limit", 20)
		items, meta, err := s.app.Registry.List(r.Context(), page, limit)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"collections": items,
			"pagination":  meta,
		})

	case http.MethodPost:
		var req CreateCollectionRequest
		if !DecodeJSON(w, r, &req) {
			return
		}
		view, err := s.app.Registry.Create(r.Context(), req.Name, req.SourcePath, req.Description, req.Config)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, view)

	default:
		w.Header().Set("Allow", "GET, POST")
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleCollection handles /api/collections/{name} (get, update config, delete).
func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request, name string) {
	switch r.Method {
	case http.MethodGet:
		view, err := s.app.Registry.Get(r.Context(), name)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)

	case http.MethodPatch:
		var partial map[string]interface{}
		if !DecodeJSON(w, r, &partial) {
			return
		}
		view, err := s.app.Registry.UpdateConfig(r.Context(), name, partial)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)

	case http.MethodDelete:
		token := r.URL.Query().Get("token")
		if token == "" {
			var body struct {
				Token string `json:"token"`
			}
			if r.Body != nil && r.ContentLength > 0 {
				if !DecodeJSON(w, r, &body) {
					return
				}
				token = body.Token
			}
		}
		if token == "" {
			WriteError(w, http.StatusBadRequest, "deletion token is required")
			return
		}
		jobID, err := s.app.Registry.Delete(r.Context(), name, token)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})

	default:
		w.Header().Set("Allow", "GET, PATCH, DELETE")
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleCollectionConfig handles /api/collections/{name}/config (get, update).
func (s *Server) handleCollectionConfig(w http.ResponseWriter, r *http.Request, name string) {
	switch r.Method {
	case http.MethodGet:
		view, err := s.app.Registry.Get(r.Context(), name)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view.Config)

	case http.MethodPatch:
		var partial map[string]interface{}
		if !DecodeJSON(w, r, &partial) {
			return
		}
		view, err := s.app.Registry.UpdateConfig(r.Context(), name, partial)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)

	default:
		w.Header().Set("Allow", "GET, PATCH")
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// activeJobOrError resolves the collection's single active job for the
// pause/resume/cancel sub-resources.
func (s *Server) activeJobOrError(w http.ResponseWriter, r *http.Request, name string) *models.Job {
	if _, err := s.app.Registry.Get(r.Context(), name); err != nil {
		WriteServiceError(w, err)
		return nil
	}
	job, err := s.app.Jobs.ActiveForCollection(r.Context(), name)
	if err != nil {
		WriteServiceError(w, err)
		return nil
	}
	if job == nil {
		WriteServiceError(w, common.PreconditionFailed("no active job for collection '%s'", name))
		return nil
	}
	return job
}

// handleCollectionPause handles POST /api/collections/{name}/pause.
func (s *Server) handleCollectionPause(w http.ResponseWriter, r *http.Request, name string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	job := s.activeJobOrError(w, r, name)
	if job == nil {
		return
	}
	paused, err := s.app.Jobs.Pause(r.Context(), job.ID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if !paused {
		WriteServiceError(w, common.PreconditionFailed("job '%s' is not running", job.ID))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"paused": true, "job_id": job.ID})
}

// handleCollectionResume handles POST /api/collections/{name}/resume.
func (s *Server) handleCollectionResume(w http.ResponseWriter, r *http.Request, name string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	job := s.activeJobOrError(w, r, name)
	if job == nil {
		return
	}
	resumed, err := s.app.Jobs.Resume(r.Context(), job.ID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if !resumed {
		WriteServiceError(w, common.PreconditionFailed("job '%s' is not paused", job.ID))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"resumed": true, "job_id": job.ID})
}

// handleCollectionCancel handles POST /api/collections/{name}/cancel.
func (s *Server) handleCollectionCancel(w http.ResponseWriter, r *http.Request, name string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	job := s.activeJobOrError(w, r, name)
	if job == nil {
		return
	}
	cancelled, err := s.app.Jobs.Cancel(r.Context(), job.ID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if !cancelled {
		WriteServiceError(w, common.PreconditionFailed("job '%s' is already finished", job.ID))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"cancelled": true, "job_id": job.ID})
}

// handleCollectionReindex handles POST /api/collections/{name}/reindex.
func (s *Server) handleCollectionReindex(w http.ResponseWriter, r *http.Request, name string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var body struct {
		Force bool `json:"force,omitempty"`
	}
	if r.Body != nil && r.ContentLength > 0 {
		if !DecodeJSON(w, r, &body) {
			return
		}
	}

	if _, err := s.app.Registry.Get(r.Context(), name); err != nil {
		WriteServiceError(w, err)
		return
	}

	jobID, err := s.app.Jobs.Create(r.Context(), models.JobKindReindex, name,
		models.JobPayload{Kind: models.JobKindReindex, Reindex: &models.ReindexPayload{Force: body.Force}},
		models.PriorityReindex)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// handleCollectionSearch handles POST /api/collections/{name}/search.
func (s *Server) handleCollectionSearch(w http.ResponseWriter, r *http.Request, name string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.SearchRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	response, err := s.app.SearchService.Search(r.Context(), name, req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, response)
}

// handleCollectionJobs handles GET /api/collections/{name}/jobs.
func (s *Server) handleCollectionJobs(w http.ResponseWriter, r *http.Request, name string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := QueryInt(r, "limit", 20)
	jobs, err := s.app.Jobs.ListForCollection(r.Context(), name, limit)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// handleCollectionHealth handles GET /api/collections/{name}/health.
func (s *Server) handleCollectionHealth(w http.ResponseWriter, r *http.Request, name string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	report, err := s.app.Registry.Health(r.Context(), name)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// handleDeletionToken handles POST /api/collections/{name}/deletion-token.
func (s *Server) handleDeletionToken(w http.ResponseWriter, r *http.Request, name string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	token, err := s.app.Registry.IssueDeletionToken(r.Context(), name)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, token)
}
