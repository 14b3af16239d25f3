package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/httputil"
	"github.com/metarr/metarr/internal/jobs"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/webhooks"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	token, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleWebhookIntake verifies, parses and defers. The HTTP path does no
// routing work; the webhook-received job carries the rest.
func (s *Server) handleWebhookIntake(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if !webhooks.KnownSource(source) {
		httputil.WriteError(w, errkind.Newf(errkind.KindNotFound, "unknown webhook source %s", source))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httputil.WriteError(w, errkind.Wrap(errkind.KindReadFailed, "read webhook body", err))
		return
	}
	signature := r.Header.Get("X-Webhook-Signature")
	if err := s.dispatcher.VerifySignature(source, body, signature); err != nil {
		httputil.WriteError(w, err)
		return
	}
	ev, err := webhooks.ParseBody(source, body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	jobID, err := s.queue.Enqueue(jobs.TaskWebhookReceived, models.PriorityCritical, jobs.WebhookPayload{
		Source:    ev.Source,
		EventType: ev.EventType,
		FilePath:  ev.FilePath,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]int64{"job_id": jobID})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	type providerInfo struct {
		Name       string `json:"name"`
		Configured bool   `json:"configured"`
		Kind       string `json:"kind"`
	}
	out := []providerInfo{
		{Name: "tmdb", Configured: s.cfg.TMDBAPIKey != "", Kind: "metadata+images"},
		{Name: "imdb", Configured: s.cfg.OMDBAPIKey != "", Kind: "metadata"},
		{Name: "fanart_tv", Configured: s.cfg.FanartAPIKey != "", Kind: "images"},
		{Name: "local", Configured: true, Kind: "metadata+images"},
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleListPriorities(w http.ResponseWriter, r *http.Request) {
	preset, err := s.priorities.ActivePreset()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	fields, err := s.priorities.List(preset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"preset": preset,
		"fields": fields,
	})
}

func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category  string   `json:"category"`
		Field     string   `json:"field"`
		Providers []string `json:"providers"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Category == "" || req.Field == "" || len(req.Providers) == 0 {
		httputil.WriteError(w, errkind.New(errkind.KindRequiredField, "category, field and providers are required"))
		return
	}
	if err := s.priorities.Set(req.Category, req.Field, req.Providers); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.settings.All()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	// Secrets never leave over the wire.
	delete(all, "admin_password_hash")
	httputil.WriteJSON(w, http.StatusOK, all)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	for key, value := range req {
		if key == "admin_password_hash" {
			continue
		}
		if err := s.settings.Set(key, value); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"updated": len(req)})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "libraryID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	schedules, err := s.libraries.ListSchedules(id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, schedules)
}

func (s *Server) handleSetSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LibraryID     int64  `json:"library_id"`
		Kind          string `json:"kind"`
		Enabled       bool   `json:"enabled"`
		IntervalHours int    `json:"interval_hours"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	kind := models.ScheduleKind(req.Kind)
	if kind != models.ScheduleFileScan && kind != models.ScheduleProviderUpdate {
		httputil.WriteError(w, errkind.Newf(errkind.KindInputInvalid, "unknown schedule kind %s", req.Kind))
		return
	}
	if req.IntervalHours <= 0 {
		httputil.WriteError(w, errkind.New(errkind.KindInputInvalid, "interval_hours must be positive"))
		return
	}
	sched := &models.Schedule{
		LibraryID:     req.LibraryID,
		Kind:          kind,
		Enabled:       req.Enabled,
		IntervalHours: req.IntervalHours,
	}
	if err := s.libraries.SetSchedule(sched); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sched)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.channels.ListEnabled()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, channels)
}

// handleTestChannel fires a test message so a channel can be verified
// before real events flow through it.
func (s *Server) handleTestChannel(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	channel, err := s.channels.GetByID(id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.sender.SendTest(r.Context(), channel); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := s.activity.ListRecent(100)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}
