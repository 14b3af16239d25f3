package api

import (
	"net/http"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/httputil"
	"github.com/metarr/metarr/internal/jobs"
	"github.com/metarr/metarr/internal/models"
)

func (s *Server) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	libs, err := s.libraries.List()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, libs)
}

func (s *Server) handleCreateLibrary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Path        string `json:"path"`
		AutoEnrich  bool   `json:"auto_enrich"`
		AutoPublish bool   `json:"auto_publish"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Name == "" || req.Path == "" {
		httputil.WriteError(w, errkind.New(errkind.KindRequiredField, "name and path are required"))
		return
	}
	lib := &models.Library{
		Name:        req.Name,
		Path:        req.Path,
		AutoEnrich:  req.AutoEnrich,
		AutoPublish: req.AutoPublish,
	}
	if err := s.libraries.Create(lib); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, lib)
}

func (s *Server) handleGetLibrary(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	lib, err := s.libraries.GetByID(id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, lib)
}

func (s *Server) handleDeleteLibrary(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.libraries.Delete(id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{"deleted": id})
}

// handleScanLibrary enqueues a full walk at elevated priority.
func (s *Server) handleScanLibrary(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if _, err := s.libraries.GetByID(id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	jobID, err := s.queue.Enqueue(jobs.TaskFileScan, models.PriorityElevated, jobs.FileScanPayload{LibraryID: id})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]int64{"job_id": jobID})
}
