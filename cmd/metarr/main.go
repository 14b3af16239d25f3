package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/metarr/metarr/internal/api"
	"github.com/metarr/metarr/internal/blobcache"
	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/db"
	"github.com/metarr/metarr/internal/enrich"
	"github.com/metarr/metarr/internal/jobs"
	"github.com/metarr/metarr/internal/metrics"
	"github.com/metarr/metarr/internal/notifications"
	"github.com/metarr/metarr/internal/playersync"
	"github.com/metarr/metarr/internal/priority"
	"github.com/metarr/metarr/internal/providers"
	"github.com/metarr/metarr/internal/publish"
	"github.com/metarr/metarr/internal/repository"
	"github.com/metarr/metarr/internal/scanner"
	"github.com/metarr/metarr/internal/scheduler"
	"github.com/metarr/metarr/internal/version"
	"github.com/metarr/metarr/internal/watcher"
	"github.com/metarr/metarr/internal/webhooks"
)

func main() {
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("version", version.Version).Str("commit", version.Commit).Msg("metarr starting")

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer database.Close()

	if err := db.Migrate(database, "migrations"); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	cfg.MergeFromDB(database.DB, logger)

	m := metrics.New()

	movies := repository.NewMovieRepository(database.DB)
	libraries := repository.NewLibraryRepository(database.DB)
	relations := repository.NewRelationRepository(database.DB)
	assets := repository.NewAssetRepository(database.DB)
	trailers := repository.NewTrailerRepository(database.DB)
	jobRepo := repository.NewJobRepository(database.DB)
	settings := repository.NewSettingsRepository(database.DB)
	priorities := repository.NewPriorityRepository(database.DB, settings)
	provCache := repository.NewProviderCacheRepository(database.DB)
	cacheRepo := repository.NewCacheRepository(database.DB)
	activity := repository.NewActivityRepository(database.DB)
	recycle := repository.NewRecycleRepository(database.DB)
	channels := repository.NewNotificationRepository(database.DB)
	players := repository.NewPlayerRepository(database.DB)
	whSources := repository.NewWebhookSourceRepository(database.DB)

	cache := blobcache.New(cfg.CacheDir, cacheRepo, logger)
	resolver := priority.NewResolver(priorities, logger)

	fetcher := providers.NewOrchestrator(resolver, provCache, m, logger)
	if cfg.TMDBAPIKey != "" {
		tmdb := providers.NewTMDBProvider(cfg.TMDBAPIKey)
		fetcher.RegisterMetadata(tmdb)
		fetcher.RegisterImages(tmdb)
	}
	if cfg.OMDBAPIKey != "" {
		fetcher.RegisterMetadata(providers.NewOMDBProvider(cfg.OMDBAPIKey))
	}
	if cfg.FanartAPIKey != "" {
		fetcher.RegisterImages(providers.NewFanartProvider(cfg.FanartAPIKey))
	}
	ytdlp := providers.NewYtdlpClient(cfg.YtdlpPath)

	pipeline := enrich.NewPipeline(enrich.Deps{
		Movies:            movies,
		Relations:         relations,
		Assets:            assets,
		Trailers:          trailers,
		Libraries:         libraries,
		Fetcher:           fetcher,
		Resolver:          resolver,
		Prober:            ytdlp,
		Downloader:        ytdlp,
		Blobs:             cache,
		Metrics:           m,
		Logger:            logger,
		PreferredLanguage: cfg.PreferredLanguage,
		MaxResolution:     cfg.MaxResolution,
	})
	publisher := publish.NewPublisher(movies, relations, assets, libraries, cache, m, logger)
	scan := scanner.New(movies, assets, logger)
	dispatcher := webhooks.NewDispatcher(whSources, libraries, movies, recycle, channels, activity, logger)
	syncer := playersync.NewSyncer(players, nil, logger)
	sender := notifications.NewWebhookSender()

	queue := jobs.NewQueue(jobRepo, cfg.WorkerCount, time.Duration(cfg.LeaseDuration)*time.Second, m, logger)
	jobs.RegisterHandlers(queue, jobs.HandlerDeps{
		Scanner:    scan,
		Pipeline:   pipeline,
		Publisher:  publisher,
		Dispatcher: dispatcher,
		Syncer:     syncer,
		Sender:     sender,
		Cache:      cache,
		Movies:     movies,
		Libraries:  libraries,
		Players:    players,
		Channels:   channels,
		Relations:  relations,
		Recycle:    recycle,
		Logger:     logger,
	})

	hub := api.NewWSHub()
	queue.SetNotifier(hub)

	sched := scheduler.New(libraries, jobRepo, queue, logger)

	fw, err := watcher.New(libraries, queue, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("filesystem watcher init failed")
	}

	server := api.NewServer(api.Deps{
		Config:     cfg,
		Queue:      queue,
		Hub:        hub,
		Metrics:    m,
		Movies:     movies,
		Libraries:  libraries,
		Assets:     assets,
		Jobs:       jobRepo,
		Priorities: priorities,
		Settings:   settings,
		Activity:   activity,
		Channels:   channels,
		Dispatcher: dispatcher,
		Sender:     sender,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("scheduler start failed")
	}
	fw.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return queue.Run(gctx) })
	g.Go(func() error { return server.Start(gctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("runtime failure")
	}

	fw.Stop()
	sched.Stop()
	logger.Info().Msg("shutdown complete")
}
