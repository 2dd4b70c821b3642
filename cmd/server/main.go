package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/persona-segmentation/internal/api"
	"github.com/ignite/persona-segmentation/internal/app"
	"github.com/ignite/persona-segmentation/internal/classifier"
	"github.com/ignite/persona-segmentation/internal/config"
	"github.com/ignite/persona-segmentation/internal/outreach"
	"github.com/ignite/persona-segmentation/internal/pkg/distlock"
	"github.com/ignite/persona-segmentation/internal/pkg/logger"
	"github.com/ignite/persona-segmentation/internal/repository/memory"
	"github.com/ignite/persona-segmentation/internal/repository/postgres"
	"github.com/ignite/persona-segmentation/internal/routing"
	"github.com/ignite/persona-segmentation/internal/service/campaign"
	"github.com/ignite/persona-segmentation/internal/service/ingest"
	"github.com/ignite/persona-segmentation/internal/service/stats"
	"github.com/ignite/persona-segmentation/internal/workflow"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %v\n"+
			"  Hint: run 'lsof -i' to find the blocking process", addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	app.ConfigureLogging(cfg.Logging)

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := app.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Database: %v", err)
	}
	if db != nil {
		defer db.Close()
		if err := postgres.Migrate(db); err != nil {
			log.Fatalf("Migrations: %v", err)
		}
		logger.Info("database connected, migrations applied")
	} else {
		logger.Warn("DATABASE_URL not set; campaign logs are kept in memory")
	}

	redisClient, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		// Redis only backs optional features.
		logger.Warn("redis unavailable, continuing without it", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	dests, err := app.Destinations(cfg)
	if err != nil {
		log.Fatalf("Personas: %v", err)
	}
	store, err := app.NewStore(ctx, cfg, db, dests)
	if err != nil {
		log.Fatalf("Destination store: %v", err)
	}

	var campaigns campaign.Repository = memory.NewCampaignRepo()
	if db != nil {
		campaigns = postgres.NewCampaignRepo(db, cfg.Database.QueryTimeout())
	}

	// Batch pipeline
	if cfg.Classifier.URL == "" {
		log.Fatal("classifier.url (CLASSIFIER_URL) is required")
	}
	predictor := classifier.NewClient(cfg.Classifier.URL, cfg.Classifier.Timeout(), cfg.Classifier.MaxRetries)
	pipelineOpts := []ingest.Option{}
	if redisClient != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithReports(ingest.NewRedisReports(redisClient, cfg.Redis.BatchReportTTL())))
	} else {
		pipelineOpts = append(pipelineOpts, ingest.WithReports(ingest.NewMemoryReports()))
	}
	archive, err := app.NewArchive(ctx, cfg.Archive, cfg.Store.AWSProfile)
	if err != nil {
		log.Fatalf("Upload archive: %v", err)
	}
	if archive != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithArchive(archive))
	}
	pipeline := ingest.NewPipeline(app.NewSanitizer(cfg.Sanitizer), predictor, routing.NewRouter(dests, store), pipelineOpts...)

	// Campaign tracking
	campaignOpts := []campaign.Option{}
	var ledger *outreach.RedisLedger
	if redisClient != nil {
		ledger = outreach.NewRedisLedger(redisClient, 30*24*time.Hour)
		campaignOpts = append(campaignOpts, campaign.WithLedger(ledger))
	}
	if locks := distlock.NewFactory(redisClient, db, cfg.Redis.LockTTL()); locks != nil {
		campaignOpts = append(campaignOpts, campaign.WithLocks(locks))
	}
	tracker := campaign.NewService(campaigns, dests, store, campaignOpts...)

	wf := workflow.NewClient(cfg.Workflow.WebhookURL, cfg.Workflow.CampaignTriggerURL, cfg.Workflow.Timeout(), cfg.Workflow.MaxRetries)

	handlers := &api.Handlers{
		Segmenter:      pipeline,
		Campaigns:      tracker,
		Stats:          stats.NewAggregator(dests, store, campaigns),
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
	}
	if cfg.Workflow.CampaignTriggerURL != "" {
		handlers.Trigger = wf
	}
	if cfg.Workflow.WebhookURL != "" {
		comp, err := app.NewComposer(ctx, cfg.Composer)
		if err != nil {
			log.Fatalf("Composer: %v", err)
		}
		var l outreach.Ledger
		if ledger != nil {
			l = ledger
		}
		handlers.Dispatcher = outreach.NewDispatcher(dests, store, cfg.Offers, comp, wf, l, cfg.Workflow.DispatchWorkers)
	} else {
		logger.Warn("workflow webhook not configured; campaign dispatch disabled")
	}

	var probeTable string
	if tables := dests.Tables(); len(tables) > 0 {
		probeTable = tables[0]
	}
	health := api.NewHealthChecker(db, redisClient, store, probeTable)
	server := api.NewServer(cfg.Server, handlers, health)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", "addr", addr, "store", cfg.Store.Backend)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}
