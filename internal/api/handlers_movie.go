package api

import (
	"net/http"
	"strconv"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/httputil"
	"github.com/metarr/metarr/internal/jobs"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/repository"
)

func (s *Server) handleListMovies(w http.ResponseWriter, r *http.Request) {
	libraryID, err := strconv.ParseInt(r.URL.Query().Get("library_id"), 10, 64)
	if err != nil {
		httputil.WriteError(w, errkind.New(errkind.KindRequiredField, "library_id query parameter is required"))
		return
	}
	movies, err := s.movies.ListByLibrary(libraryID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, movies)
}

func (s *Server) handleGetMovie(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	movie, err := s.movies.GetByID(id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, movie)
}

func (s *Server) handleMovieAssets(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	selected, err := s.assets.ListSelected(id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, selected)
}

// handleRejectAsset bans one candidate and re-runs selection so a
// replacement gets picked.
func (s *Server) handleRejectAsset(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req struct {
		FilePath string `json:"file_path"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.FilePath == "" {
		httputil.WriteError(w, errkind.New(errkind.KindRequiredField, "file_path is required"))
		return
	}
	movie, err := s.movies.GetByID(id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.assets.Reject(movie.ID, req.FilePath); err != nil {
		httputil.WriteError(w, err)
		return
	}
	jobID, err := s.queue.Enqueue(jobs.TaskEnrichMetadata, models.PriorityHigh, jobs.EnrichPayload{
		MovieID:   movie.ID,
		LibraryID: movie.LibraryID,
		Manual:    true,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]int64{"job_id": jobID})
}

// handleRefreshMovie enqueues a manual enrichment run. force=true bypasses
// the provider cache.
func (s *Server) handleRefreshMovie(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	movie, err := s.movies.GetByID(id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	force := r.URL.Query().Get("force") == "true"
	jobID, err := s.queue.Enqueue(jobs.TaskEnrichMetadata, models.PriorityHigh, jobs.EnrichPayload{
		MovieID:      movie.ID,
		LibraryID:    movie.LibraryID,
		Manual:       true,
		ForceRefresh: force,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]int64{"job_id": jobID})
}

// handleIdentifyMovie pins the movie to operator-supplied external ids and
// re-enriches from scratch.
func (s *Server) handleIdentifyMovie(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req struct {
		TmdbID *int64  `json:"tmdb_id"`
		ImdbID *string `json:"imdb_id"`
		TvdbID *int64  `json:"tvdb_id"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.TmdbID == nil && req.ImdbID == nil && req.TvdbID == nil {
		httputil.WriteError(w, errkind.New(errkind.KindRequiredField, "at least one external id is required"))
		return
	}
	movie, err := s.movies.GetByID(id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if existing, err := s.movies.GetByExternalID(req.TmdbID, req.ImdbID, req.TvdbID); err == nil && existing.ID != movie.ID {
		httputil.WriteError(w, errkind.Newf(errkind.KindAlreadyExists,
			"another movie (id %d) already holds these ids", existing.ID))
		return
	}
	update := &repository.MetadataUpdate{TmdbID: req.TmdbID, ImdbID: req.ImdbID, TvdbID: req.TvdbID}
	if _, err := s.movies.ApplyMetadataWithLocks(movie, update); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.movies.UpdateState(movie.ID, models.StateIdentified); err != nil {
		httputil.WriteError(w, err)
		return
	}
	jobID, err := s.queue.Enqueue(jobs.TaskEnrichMetadata, models.PriorityHigh, jobs.EnrichPayload{
		MovieID:      movie.ID,
		LibraryID:    movie.LibraryID,
		Manual:       true,
		ForceRefresh: true,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]int64{"job_id": jobID})
}

func (s *Server) handleMovieJobs(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := s.jobRepo.ListForMovie(id, 50)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}
