// Package app builds the service's components from configuration. The
// binaries under cmd/ share it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/persona-segmentation/internal/composer"
	"github.com/ignite/persona-segmentation/internal/config"
	"github.com/ignite/persona-segmentation/internal/pkg/logger"
	"github.com/ignite/persona-segmentation/internal/repository/dynamo"
	"github.com/ignite/persona-segmentation/internal/repository/memory"
	"github.com/ignite/persona-segmentation/internal/repository/postgres"
	"github.com/ignite/persona-segmentation/internal/routing"
	"github.com/ignite/persona-segmentation/internal/segmentation"
	"github.com/ignite/persona-segmentation/internal/storage"
)

// ConfigureLogging applies the logging section.
func ConfigureLogging(cfg config.LoggingConfig) {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	if cfg.RedactPII != nil {
		logger.SetRedactPII(*cfg.RedactPII)
	}
}

// OpenDatabase connects to PostgreSQL. It returns nil, nil when no URL is
// configured.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenRedis connects to Redis. It returns nil, nil when no URL is configured.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		// Plain host:port
		opts = &redis.Options{Addr: cfg.URL}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Destinations validates the persona ladder.
func Destinations(cfg *config.Config) (*routing.DestinationMap, error) {
	return routing.NewDestinationMap(cfg.Personas)
}

// NewStore builds the destination store for the configured backend and
// makes sure every persona table exists.
func NewStore(ctx context.Context, cfg *config.Config, db *sql.DB, dests *routing.DestinationMap) (routing.DestinationStore, error) {
	switch cfg.Store.Backend {
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("store backend postgres needs database.url")
		}
		store := postgres.NewCustomerStore(db, cfg.Database.QueryTimeout())
		if err := store.EnsureTables(ctx, dests.Tables()); err != nil {
			return nil, err
		}
		return store, nil
	case "dynamodb":
		store, err := dynamo.NewCustomerStore(ctx, cfg.Store.DynamoDBTable, cfg.Store.AWSRegion, cfg.Store.AWSProfile, cfg.Database.QueryTimeout())
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		logger.Warn("using in-memory destination store; data is lost on restart")
		return memory.NewCustomerStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// NewArchive returns the upload archive, or nil when archiving is off.
func NewArchive(ctx context.Context, cfg config.ArchiveConfig, profile string) (storage.Archive, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.S3Bucket != "" {
		a, err := storage.NewS3Archive(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.AWSRegion, profile)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	a, err := storage.NewDiskArchive(cfg.LocalPath)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// NewSanitizer builds the upload sanitizer.
func NewSanitizer(cfg config.SanitizerConfig) *segmentation.Sanitizer {
	return segmentation.NewSanitizer(segmentation.Schema{
		SentinelTokens: cfg.SentinelTokens,
		BooleanFields:  cfg.BooleanFields,
		NumericFields:  cfg.NumericFields,
		OptionalFields: cfg.OptionalFields,
	})
}

// NewComposer builds the copy generator. The Bedrock provider falls back to
// the templates when a model call fails.
func NewComposer(ctx context.Context, cfg config.ComposerConfig) (composer.Composer, error) {
	tmpl, err := composer.NewTemplate(cfg.SubjectTmpl, cfg.BodyTmpl)
	if err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case "template":
		return tmpl, nil
	case "bedrock":
		br, err := composer.NewBedrock(ctx, cfg.BedrockModelID, cfg.AWSRegion, cfg.Timeout())
		if err != nil {
			return nil, err
		}
		return composer.Fallback{Primary: br, Secondary: tmpl}, nil
	default:
		return nil, fmt.Errorf("unknown composer provider %q", cfg.Provider)
	}
}
