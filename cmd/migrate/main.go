package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/ignite/persona-segmentation/internal/app"
	"github.com/ignite/persona-segmentation/internal/config"
	"github.com/ignite/persona-segmentation/internal/repository/postgres"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the configuration file")
	flag.Usage = func() {
		log.Printf("usage: %s [-config path] up|status|down|tables", os.Args[0])
	}
	flag.Parse()

	cmd := "up"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()
	db, err := app.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	switch cmd {
	case "up":
		err = postgres.Migrate(db)
	case "status":
		err = postgres.MigrationStatus(db)
	case "down":
		err = postgres.Rollback(db)
	case "tables":
		dests, derr := app.Destinations(cfg)
		if derr != nil {
			log.Fatalf("personas: %v", derr)
		}
		err = postgres.NewCustomerStore(db, cfg.Database.QueryTimeout()).EnsureTables(ctx, dests.Tables())
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
	log.Printf("%s: done", cmd)
}
