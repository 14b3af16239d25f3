package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/httputil"
	"github.com/metarr/metarr/internal/jobs"
	"github.com/metarr/metarr/internal/metrics"
	"github.com/metarr/metarr/internal/notifications"
	"github.com/metarr/metarr/internal/repository"
	"github.com/metarr/metarr/internal/version"
	"github.com/metarr/metarr/internal/webhooks"
)

// Server is the HTTP surface: reads hit the store, writes enqueue jobs.
type Server struct {
	cfg      *config.Config
	auth     *Auth
	queue    *jobs.Queue
	hub      *WSHub
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	movies     *repository.MovieRepository
	libraries  *repository.LibraryRepository
	assets     *repository.AssetRepository
	jobRepo    *repository.JobRepository
	priorities *repository.PriorityRepository
	settings   *repository.SettingsRepository
	activity   *repository.ActivityRepository
	channels   *repository.NotificationRepository
	dispatcher *webhooks.Dispatcher
	sender     *notifications.WebhookSender

	router chi.Router
	http   *http.Server
}

type Deps struct {
	Config     *config.Config
	Queue      *jobs.Queue
	Hub        *WSHub
	Metrics    *metrics.Metrics
	Movies     *repository.MovieRepository
	Libraries  *repository.LibraryRepository
	Assets     *repository.AssetRepository
	Jobs       *repository.JobRepository
	Priorities *repository.PriorityRepository
	Settings   *repository.SettingsRepository
	Activity   *repository.ActivityRepository
	Channels   *repository.NotificationRepository
	Dispatcher *webhooks.Dispatcher
	Sender     *notifications.WebhookSender
	Logger     zerolog.Logger
}

func NewServer(d Deps) *Server {
	s := &Server{
		cfg:        d.Config,
		auth:       NewAuth(d.Config.JWTSecret, d.Settings),
		queue:      d.Queue,
		hub:        d.Hub,
		metrics:    d.Metrics,
		logger:     d.Logger.With().Str("component", "api").Logger(),
		movies:     d.Movies,
		libraries:  d.Libraries,
		assets:     d.Assets,
		jobRepo:    d.Jobs,
		priorities: d.Priorities,
		settings:   d.Settings,
		activity:   d.Activity,
		channels:   d.Channels,
		dispatcher: d.Dispatcher,
		sender:     d.Sender,
		router:     chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP)
	r.Get("/api/system/health", s.handleHealth)

	// Webhook intake authenticates by HMAC, not by bearer token.
	r.Post("/api/webhooks/{source}", s.handleWebhookIntake)
	r.Post("/api/auth/login", s.handleLogin)
	r.Get("/api/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Route("/libraries", func(r chi.Router) {
			r.Get("/", s.handleListLibraries)
			r.Post("/", s.handleCreateLibrary)
			r.Get("/{id}", s.handleGetLibrary)
			r.Delete("/{id}", s.handleDeleteLibrary)
			r.Post("/{id}/scan", s.handleScanLibrary)
		})

		r.Route("/movies", func(r chi.Router) {
			r.Get("/", s.handleListMovies)
			r.Get("/{id}", s.handleGetMovie)
			r.Get("/{id}/assets", s.handleMovieAssets)
			r.Post("/{id}/assets/reject", s.handleRejectAsset)
			r.Post("/{id}/refresh", s.handleRefreshMovie)
			r.Post("/{id}/identify", s.handleIdentifyMovie)
			r.Get("/{id}/jobs", s.handleMovieJobs)
		})

		r.Get("/providers", s.handleListProviders)

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.handleListChannels)
			r.Post("/{id}/test", s.handleTestChannel)
		})

		r.Route("/priorities", func(r chi.Router) {
			r.Get("/", s.handleListPriorities)
			r.Put("/", s.handleSetPriority)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.handleGetSettings)
			r.Put("/", s.handlePutSettings)
		})

		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/{libraryID}", s.handleListSchedules)
			r.Put("/", s.handleSetSchedule)
		})

		r.Get("/system/info", s.handleSystemInfo)
		r.Get("/system/activity", s.handleActivity)
		r.Get("/system/jobs", s.handleJobStats)
	})
}

// requestLogger tags each request with an id and logs its outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// Start serves until ctx is cancelled, then drains with a grace window.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	s.logger.Info().Int("port", s.cfg.Port).Msg("api listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "up"})
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version":    version.Version,
		"commit":     version.Commit,
		"ws_clients": s.hub.ClientCount(),
	})
}

// urlID parses the {id} segment.
func urlID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, errkind.Wrap(errkind.KindInputInvalid, "invalid id", err)
	}
	return id, nil
}
