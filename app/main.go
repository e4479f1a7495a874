package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/autopress/app/api"
	"github.com/lysyi3m/autopress/app/campaign"
	"github.com/lysyi3m/autopress/app/cfg"
	"github.com/lysyi3m/autopress/app/database"
	"github.com/lysyi3m/autopress/app/dispatch"
	"github.com/lysyi3m/autopress/app/engine"
	"github.com/lysyi3m/autopress/app/ingest"
	"github.com/lysyi3m/autopress/app/jobs"
	"github.com/lysyi3m/autopress/app/publication"
)

const directFetchConcurrency = 4

func main() {
	config, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if config == nil {
		return
	}

	level := slog.LevelInfo
	if config.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("Starting Autopress server", "version", config.Version)

	db, err := database.NewConnection(config.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "path", config.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", config.DBPath, "schema_version", version, "dirty", dirty)

	configCache := campaign.NewConfigCache(config.CampaignsDir)
	if err := configCache.Run(); err != nil {
		slog.Error("Failed to load campaign configurations", "dir", config.CampaignsDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Campaign configurations loaded", "count", configCache.GetConfigCount())

	campaignRepo := database.NewCampaignRepository(db)
	taskRepo := database.NewTaskRepository(db)
	historyRepo := database.NewHistoryRepository(db)
	checkRepo := database.NewCheckRepository(db)

	httpClient := &http.Client{}

	dispatcher := dispatch.NewDispatcher(campaignRepo, taskRepo, httpClient,
		config.CallbackURL(), config.UserAgent, config.GetDispatchTimeout())

	var publisher publication.Handler = publication.LogHandler{}
	if config.PublishURL != "" {
		publisher = publication.NewHTTPHandler(config.PublishURL, httpClient, config.UserAgent, config.GetPublishTimeout())
	} else {
		slog.Warn("PUBLISH_URL not set, finished content is only logged")
	}

	orchestrator := engine.New(campaignRepo, taskRepo, checkRepo, dispatcher, publisher, engine.Options{
		CheckInterval: config.GetCheckInterval(),
		TaskTimeout:   config.GetTaskTimeout(),
	})

	ingestor := ingest.NewIngestor(campaignRepo, taskRepo, historyRepo,
		ingest.NewWorkerFetcher(httpClient, config.UserAgent, config.GetFeedTimeout()),
		ingest.NewDirectFetcher(httpClient, config.UserAgent, config.GetFeedTimeout(), directFetchConcurrency),
		orchestrator)

	slog.Info("Starting background scheduler", "workers", config.WorkerCount, "interval", config.GetSchedulerInterval().String())
	scheduler := jobs.NewScheduler(configCache, campaignRepo, orchestrator, ingestor,
		config.GetSchedulerInterval(), config.WorkerCount)
	scheduler.Start()

	handler := api.NewHandler(orchestrator, ingestor, campaignRepo, taskRepo, historyRepo, configCache, scheduler)
	server := api.NewServer(handler, config.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", config.Port, "callback_url", config.CallbackURL())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	scheduler.Stop()
	slog.Info("Background scheduler stopped")

	slog.Info("Autopress server shutdown complete")
}
