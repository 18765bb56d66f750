package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"leadbase"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"leadbase"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:""`
	RedisDB   int    `envconfig:"REDIS_DB" default:"0"`

	GeminiAPIKey        string `envconfig:"GEMINI_API_KEY"`
	GeminiEmbedModel    string `envconfig:"GEMINI_EMBED_MODEL" default:"gemini-embedding-001"`
	GeminiAnalysisModel string `envconfig:"GEMINI_ANALYSIS_MODEL" default:"gemini-1.5-flash"`

	SalesforceDomain      string  `envconfig:"SF_DOMAIN"`
	SalesforceUsername    string  `envconfig:"SF_USERNAME"`
	SalesforceConsumerKey string  `envconfig:"SF_CONSUMER_KEY"`
	SalesforceKeyPath     string  `envconfig:"SF_KEY_PATH"`
	SalesforceObject      string  `envconfig:"SF_OBJECT" default:"Lead"`
	SalesforceRPS         float64 `envconfig:"SF_RPS" default:"5"`

	// Similarity search defaults for the duplicate surfacing pass.
	SimilarityThreshold float64 `envconfig:"LEAD_SIMILARITY_THRESHOLD" default:"0.85"`
	MaxSimilarLeads     int     `envconfig:"MAX_SIMILAR_LEADS" default:"5"`

	// Contact history lookup: low threshold on purpose, the contact matcher
	// does the real filtering.
	ContactHistoryThreshold float64 `envconfig:"CONTACT_HISTORY_THRESHOLD" default:"0.1"`
	ContactHistoryLimit     int     `envconfig:"CONTACT_HISTORY_LIMIT" default:"50"`

	// Duplicate decision policy. The defaults are a reference policy, not
	// tuned constants.
	SuspiciousWindowMinutes  int     `envconfig:"DUPLICATE_SUSPICIOUS_WINDOW_MINUTES" default:"60"`
	SuspiciousThreshold      float64 `envconfig:"DUPLICATE_SUSPICIOUS_THRESHOLD" default:"0.9"`
	LinkWindowHours          int     `envconfig:"DUPLICATE_LINK_WINDOW_HOURS" default:"24"`
	LinkThreshold            float64 `envconfig:"DUPLICATE_LINK_THRESHOLD" default:"0.8"`
	FlagSuspiciousDuplicates bool    `envconfig:"FLAG_SUSPICIOUS_DUPLICATES" default:"true"`
	AutoLinkRelatedLeads     bool    `envconfig:"AUTO_LINK_RELATED_LEADS" default:"true"`

	EnableAsyncIntake  bool `envconfig:"ENABLE_ASYNC_INTAKE" default:"true"`
	IntakeConcurrency  int  `envconfig:"INTAKE_CONCURRENCY" default:"8"`
	RateLimitPerMinute int  `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`

	EmbedTimeoutSeconds    int `envconfig:"EMBED_TIMEOUT_SECONDS" default:"30"`
	AnalysisTimeoutSeconds int `envconfig:"ANALYSIS_TIMEOUT_SECONDS" default:"30"`
	SyncTimeoutSeconds     int `envconfig:"SYNC_TIMEOUT_SECONDS" default:"30"`

	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root.
	// Ignore errors, as env vars might be set in the shell.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	thresholds := map[string]float64{
		"LEAD_SIMILARITY_THRESHOLD":      c.SimilarityThreshold,
		"CONTACT_HISTORY_THRESHOLD":      c.ContactHistoryThreshold,
		"DUPLICATE_SUSPICIOUS_THRESHOLD": c.SuspiciousThreshold,
		"DUPLICATE_LINK_THRESHOLD":       c.LinkThreshold,
	}
	for name, v := range thresholds {
		if v < 0.0 || v > 1.0 {
			return fmt.Errorf("%s must be between 0.0 and 1.0, got %f", name, v)
		}
	}
	if c.IntakeConcurrency < 1 {
		return fmt.Errorf("INTAKE_CONCURRENCY must be at least 1, got %d", c.IntakeConcurrency)
	}
	return nil
}

// SalesforceConfigured reports whether CRM sync can be enabled.
func (c *Config) SalesforceConfigured() bool {
	return c.SalesforceDomain != "" && c.SalesforceConsumerKey != "" && c.SalesforceKeyPath != ""
}
