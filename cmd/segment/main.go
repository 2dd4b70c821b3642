// Command segment runs one customer file through the segmentation pipeline
// without the HTTP server and prints the batch report as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ignite/persona-segmentation/internal/app"
	"github.com/ignite/persona-segmentation/internal/classifier"
	"github.com/ignite/persona-segmentation/internal/config"
	"github.com/ignite/persona-segmentation/internal/routing"
	"github.com/ignite/persona-segmentation/internal/service/ingest"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the configuration file")
	file := flag.String("file", "", "CSV file to segment")
	flag.Parse()

	if *file == "" {
		log.Fatal("-file is required")
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("read %s: %v", *file, err)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	app.ConfigureLogging(cfg.Logging)
	if cfg.Classifier.URL == "" {
		log.Fatal("classifier.url (CLASSIFIER_URL) is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Database: %v", err)
	}
	if db != nil {
		defer db.Close()
	}
	dests, err := app.Destinations(cfg)
	if err != nil {
		log.Fatalf("Personas: %v", err)
	}
	store, err := app.NewStore(ctx, cfg, db, dests)
	if err != nil {
		log.Fatalf("Destination store: %v", err)
	}

	var opts []ingest.Option
	archive, err := app.NewArchive(ctx, cfg.Archive, cfg.Store.AWSProfile)
	if err != nil {
		log.Fatalf("Upload archive: %v", err)
	}
	if archive != nil {
		opts = append(opts, ingest.WithArchive(archive))
	}

	predictor := classifier.NewClient(cfg.Classifier.URL, cfg.Classifier.Timeout(), cfg.Classifier.MaxRetries)
	pipeline := ingest.NewPipeline(app.NewSanitizer(cfg.Sanitizer), predictor, routing.NewRouter(dests, store), opts...)

	rep, err := pipeline.Run(ctx, ingest.Upload{Filename: filepath.Base(*file), Data: data})
	if err != nil {
		log.Fatalf("segment %s: %v", *file, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		log.Fatalf("encode report: %v", err)
	}
	if rep.Failed() {
		os.Exit(1)
	}
}
