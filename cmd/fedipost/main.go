package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomasv/fedipost/internal/api"
	"github.com/tomasv/fedipost/internal/catalog"
	"github.com/tomasv/fedipost/internal/config"
	"github.com/tomasv/fedipost/internal/daemon"
	"github.com/tomasv/fedipost/internal/domain"
	"github.com/tomasv/fedipost/internal/fetch"
	"github.com/tomasv/fedipost/internal/logger"
	"github.com/tomasv/fedipost/internal/mastodon"
	"github.com/tomasv/fedipost/internal/pool"
	"github.com/tomasv/fedipost/internal/publish"
	"github.com/tomasv/fedipost/internal/repository"
	"github.com/tomasv/fedipost/internal/version"
)

func main() {
	configPath := flag.String("config", "", "Path to the configuration file")
	postNow := flag.Bool("now", false, "Post one image immediately at start and then follow schedule")
	check := flag.Bool("check", false, "Validate configuration, catalog and server connectivity, then exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	// Initialize logger from config
	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "fedipost",
		LogFile:     cfg.Log.File,
		LogFileOnly: cfg.Log.FileOnly,
		MaxSize:     cfg.Log.MaxSize,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAge:      cfg.Log.MaxAge,
		Compress:    cfg.Log.Compress,
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	appLogger.WithField("version", version.Version).Info("Starting fedipost")

	slots, err := cfg.Slots()
	if err != nil {
		appLogger.WithError(err).Fatal("Invalid post times in configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Restore pool state; an absent snapshot file means a first run.
	imagePool := pool.New(appLogger)
	store := pool.NewFileStore(cfg.Pool.StatePath)
	snap, found, err := store.Load()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load pool snapshot")
	}
	if found {
		imagePool.Restore(snap)
	}

	// Initial catalog load is fatal: without a catalog there is nothing
	// to post and nothing to reconcile against.
	loader := catalog.NewLoader(appLogger)
	gen, err := loader.Load(ctx, cfg.Catalog.Source)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load image catalog")
	}

	if hasLocalImages(gen.Catalog) && cfg.Post.LocalRoot == "" {
		appLogger.Fatal("Catalog references local images but post.local_root is not configured")
	}

	report := imagePool.Reconcile(gen.Order, gen.Catalog, nil)
	daemon.LogReconcile(appLogger, report)

	client := mastodon.NewClient(cfg.Server.BaseURL, cfg.Server.Token)
	account, err := client.VerifyCredentials(ctx)
	if *check {
		if err != nil {
			appLogger.WithError(err).Fatal("Server connectivity check failed")
		}
		appLogger.Infof("Configuration and images are correct, authenticated as @%s", account)
		return
	}
	if err != nil {
		appLogger.WithError(err).Error("Unable to verify server credentials, continuing anyway")
	} else {
		appLogger.Infof("Authenticated as @%s", account)
	}

	if err := store.Save(imagePool.Snapshot()); err != nil {
		appLogger.WithError(err).Error("Failed to persist pool snapshot")
	}

	// Optional sqlite publish history.
	var historyRepo *repository.PublishRecordRepository
	var recorder publish.Recorder
	if cfg.History.Path != "" {
		db, err := repository.InitDB(cfg.History.Path)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize history database")
		}
		historyRepo = repository.NewPublishRecordRepository(db)
		recorder = historyRepo
	}

	fetcher := fetch.New(cfg.Post.LocalRoot)
	pipeline := publish.New(imagePool, fetcher, client, recorder, publish.Options{
		Tags:       cfg.Post.Tags,
		Visibility: cfg.Post.Visibility,
		Rotation:   cfg.Post.VisibilityRotation,
	}, appLogger)

	loop := daemon.New(imagePool, store, loader, pipeline, daemon.Options{
		CatalogSource:   cfg.Catalog.Source,
		RefreshInterval: cfg.Catalog.RefreshInterval,
		RetryInterval:   cfg.Schedule.RetryInterval,
		WakeInterval:    cfg.Schedule.WakeInterval,
		Slots:           slots,
	}, appLogger)

	if *postNow {
		loop.PostNow(ctx, gen)
	}

	// SIGUSR1 requests a catalog reload on the next wake.
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(reloadChan, syscall.SIGUSR1)
	go func() {
		for range reloadChan {
			appLogger.Info("Reload signal received")
			loop.RequestReload()
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, stopping...")
		cancel()
	}()

	// Optional local admin server.
	if cfg.Admin.Listen != "" {
		router := api.SetupRouter(loop, historyRepo, appLogger, cfg.Admin.Mode)
		go func() {
			appLogger.WithField("listen", cfg.Admin.Listen).Info("Admin server listening")
			if err := router.Run(cfg.Admin.Listen); err != nil && err != http.ErrServerClosed {
				appLogger.WithError(err).Error("Admin server stopped")
			}
		}()
	}

	loop.Run(ctx, gen)
}

// hasLocalImages reports whether any catalog entry uses a "file:"
// location.
func hasLocalImages(c domain.Catalog) bool {
	for _, img := range c {
		if img.IsLocal() {
			return true
		}
	}
	return false
}
