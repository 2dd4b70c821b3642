package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ignite/persona-segmentation/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Store      StoreConfig      `yaml:"store"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Composer   ComposerConfig   `yaml:"composer"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Sanitizer  SanitizerConfig  `yaml:"sanitizer"`

	// Personas is the ordered tier list, least affluent first. Each entry
	// carries its destination table; the order drives labeling.
	Personas []domain.Destination `yaml:"personas"`
	Offers   []domain.Offer       `yaml:"offers"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for the listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL                 string `yaml:"url"`
	MaxOpenConns        int    `yaml:"max_open_conns"`
	MaxIdleConns        int    `yaml:"max_idle_conns"`
	QueryTimeoutSeconds int    `yaml:"query_timeout_seconds"`
}

// QueryTimeout returns the per-statement timeout as a duration
func (c DatabaseConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

// RedisConfig holds Redis settings. An empty URL disables every Redis-backed
// feature (batch reports, dispatch ledger, completion locks).
type RedisConfig struct {
	URL               string `yaml:"url"`
	BatchReportTTLHrs int    `yaml:"batch_report_ttl_hours"`
	LockTTLSeconds    int    `yaml:"lock_ttl_seconds"`
}

// BatchReportTTL returns how long batch reports are kept
func (c RedisConfig) BatchReportTTL() time.Duration {
	return time.Duration(c.BatchReportTTLHrs) * time.Hour
}

// LockTTL returns the completion lock TTL
func (c RedisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// StoreConfig selects the destination store backend.
type StoreConfig struct {
	Backend       string `yaml:"backend"` // "postgres", "dynamodb" or "memory"
	DynamoDBTable string `yaml:"dynamodb_table"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"`
}

// ArchiveConfig holds S3 settings for raw upload archival.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	S3Bucket  string `yaml:"s3_bucket"`
	S3Prefix  string `yaml:"s3_prefix"`
	AWSRegion string `yaml:"aws_region"`
	// LocalPath archives to disk instead of S3 when no bucket is set.
	LocalPath string `yaml:"local_path"`
}

// ClassifierConfig points at the external clustering model.
type ClassifierConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the configured timeout as a duration
func (c ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ComposerConfig selects how marketing copy is generated.
type ComposerConfig struct {
	Provider       string `yaml:"provider"` // "bedrock" or "template"
	BedrockModelID string `yaml:"bedrock_model_id"`
	AWSRegion      string `yaml:"aws_region"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	SubjectTmpl    string `yaml:"subject_template"`
	BodyTmpl       string `yaml:"body_template"`
}

// Timeout returns the configured timeout as a duration
func (c ComposerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WorkflowConfig holds the workflow automation webhook settings.
type WorkflowConfig struct {
	WebhookURL         string `yaml:"webhook_url"`
	CampaignTriggerURL string `yaml:"campaign_trigger_url"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	MaxRetries         int    `yaml:"max_retries"`
	DispatchWorkers    int    `yaml:"dispatch_workers"`
}

// Timeout returns the configured timeout as a duration
func (c WorkflowConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SanitizerConfig declares the upload schema.
type SanitizerConfig struct {
	SentinelTokens []string `yaml:"sentinel_tokens"`
	BooleanFields  []string `yaml:"boolean_fields"`
	NumericFields  []string `yaml:"numeric_fields"`
	OptionalFields []string `yaml:"optional_fields"`
}

// DefaultPersonas is the five-tier ladder used when the config file does not
// declare one.
var DefaultPersonas = []domain.Destination{
	{Persona: "New & Cautious", Table: "new_and_cautious"},
	{Persona: "Stable Earners", Table: "stable_earners"},
	{Persona: "Mid-Tier Professionals", Table: "mid_tier_professionals"},
	{Persona: "Affluent Customers", Table: "affluent_customers"},
	{Persona: "High-Value Elite", Table: "high_value_elite"},
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 32
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.QueryTimeoutSeconds == 0 {
		cfg.Database.QueryTimeoutSeconds = 15
	}
	if cfg.Redis.BatchReportTTLHrs == 0 {
		cfg.Redis.BatchReportTTLHrs = 24
	}
	if cfg.Redis.LockTTLSeconds == 0 {
		cfg.Redis.LockTTLSeconds = 30
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "postgres"
	}
	if cfg.Store.AWSRegion == "" {
		cfg.Store.AWSRegion = "us-east-1"
	}
	if cfg.Archive.AWSRegion == "" {
		cfg.Archive.AWSRegion = cfg.Store.AWSRegion
	}
	if cfg.Archive.S3Prefix == "" {
		cfg.Archive.S3Prefix = "uploads"
	}
	if cfg.Classifier.TimeoutSeconds == 0 {
		cfg.Classifier.TimeoutSeconds = 30
	}
	if cfg.Classifier.MaxRetries == 0 {
		cfg.Classifier.MaxRetries = 2
	}
	if cfg.Composer.Provider == "" {
		cfg.Composer.Provider = "template"
	}
	if cfg.Composer.BedrockModelID == "" {
		cfg.Composer.BedrockModelID = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	if cfg.Composer.AWSRegion == "" {
		cfg.Composer.AWSRegion = "us-east-1"
	}
	if cfg.Composer.TimeoutSeconds == 0 {
		cfg.Composer.TimeoutSeconds = 30
	}
	if cfg.Workflow.TimeoutSeconds == 0 {
		cfg.Workflow.TimeoutSeconds = 30
	}
	if cfg.Workflow.MaxRetries == 0 {
		cfg.Workflow.MaxRetries = 3
	}
	if cfg.Workflow.DispatchWorkers == 0 {
		cfg.Workflow.DispatchWorkers = 4
	}
	if len(cfg.Sanitizer.SentinelTokens) == 0 {
		cfg.Sanitizer.SentinelTokens = []string{"_INVALID_", "_RARE_"}
	}
	if len(cfg.Sanitizer.BooleanFields) == 0 {
		cfg.Sanitizer.BooleanFields = []string{"has_loan", "has_credit_card", "has_investment"}
	}
	if len(cfg.Sanitizer.NumericFields) == 0 {
		cfg.Sanitizer.NumericFields = []string{"age", "income", "balance", "account_tenure"}
	}
	if len(cfg.Personas) == 0 {
		cfg.Personas = append([]domain.Destination(nil), DefaultPersonas...)
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (cfg *Config) Validate() error {
	switch cfg.Store.Backend {
	case "postgres", "dynamodb", "memory":
	default:
		return fmt.Errorf("store.backend must be postgres, dynamodb or memory, got %q", cfg.Store.Backend)
	}
	if cfg.Store.Backend == "dynamodb" && cfg.Store.DynamoDBTable == "" {
		return fmt.Errorf("store.dynamodb_table is required for the dynamodb backend")
	}
	if cfg.Archive.Enabled && cfg.Archive.S3Bucket == "" && cfg.Archive.LocalPath == "" {
		return fmt.Errorf("archive.s3_bucket or archive.local_path is required when archive is enabled")
	}
	for _, d := range cfg.Personas {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("CLASSIFIER_URL"); v != "" {
		cfg.Classifier.URL = v
	}
	if v := os.Getenv("WORKFLOW_WEBHOOK_URL"); v != "" {
		cfg.Workflow.WebhookURL = v
	}
	if v := os.Getenv("WORKFLOW_CAMPAIGN_TRIGGER_URL"); v != "" {
		cfg.Workflow.CampaignTriggerURL = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
		cfg.Archive.Enabled = true
	}
	if v := os.Getenv("BEDROCK_MODEL_ID"); v != "" {
		cfg.Composer.BedrockModelID = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, cfg.Validate()
}
