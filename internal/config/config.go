package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the sync service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	ContaHub ContaHubConfig `yaml:"contahub"`
	Nibo     NiboConfig     `yaml:"nibo"`
	Sync     SyncConfig     `yaml:"sync"`
	Notify   NotifyConfig   `yaml:"notify"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, listening on all interfaces in containers.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the warehouse connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the optional Redis connection for the writer lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// ContaHubConfig holds ContaHub POS API configuration.
type ContaHubConfig struct {
	BaseURL        string `yaml:"base_url"`
	Email          string `yaml:"email"`
	Password       string `yaml:"password"`
	CompanyID      string `yaml:"company_id"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration.
func (c ContaHubConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// NiboConfig holds NIBO accounting API configuration.
type NiboConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIToken       string `yaml:"api_token"`
	OrganizationID string `yaml:"organization_id"`
	PageSize       int    `yaml:"page_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration.
func (c NiboConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SyncConfig holds the pipeline tuning knobs.
type SyncConfig struct {
	MaxBatchSize         int    `yaml:"max_batch_size"`          // rows per upsert call
	BatchPauseMS         int    `yaml:"batch_pause_ms"`          // pause between sub-batches
	PeriodPauseMS        int    `yaml:"period_pause_ms"`         // pause between periods
	VendorDelayMS        int    `yaml:"vendor_delay_ms"`         // min spacing between vendor calls
	EmptyPeriodThreshold int    `yaml:"empty_period_threshold"`  // backlog auto-stop streak
	BacklogStartDate     string `yaml:"backlog_start_date"`      // first period of backlog crawls
	LockTTLMinutes       int    `yaml:"lock_ttl_minutes"`
}

// BatchPause returns the pause between sub-batch upserts.
func (c SyncConfig) BatchPause() time.Duration {
	return time.Duration(c.BatchPauseMS) * time.Millisecond
}

// PeriodPause returns the pause between period iterations.
func (c SyncConfig) PeriodPause() time.Duration {
	return time.Duration(c.PeriodPauseMS) * time.Millisecond
}

// VendorDelay returns the minimum spacing between vendor API calls.
func (c SyncConfig) VendorDelay() time.Duration {
	return time.Duration(c.VendorDelayMS) * time.Millisecond
}

// LockTTL returns the writer-lock TTL.
func (c SyncConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// NotifyConfig holds the completion-webhook settings.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Enabled    bool   `yaml:"enabled"`
}

// ArchiveConfig holds the optional S3 raw-payload archive settings.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.ContaHub.BaseURL == "" {
		cfg.ContaHub.BaseURL = "https://sp.contahub.com"
	}
	if cfg.ContaHub.TimeoutSeconds == 0 {
		cfg.ContaHub.TimeoutSeconds = 60
	}
	if cfg.Nibo.BaseURL == "" {
		cfg.Nibo.BaseURL = "https://api.nibo.com.br/empresas/v1"
	}
	if cfg.Nibo.PageSize == 0 {
		cfg.Nibo.PageSize = 100
	}
	if cfg.Nibo.TimeoutSeconds == 0 {
		cfg.Nibo.TimeoutSeconds = 30
	}
	if cfg.Sync.MaxBatchSize == 0 {
		cfg.Sync.MaxBatchSize = 1000
	}
	if cfg.Sync.BatchPauseMS == 0 {
		cfg.Sync.BatchPauseMS = 50
	}
	if cfg.Sync.PeriodPauseMS == 0 {
		cfg.Sync.PeriodPauseMS = 500
	}
	if cfg.Sync.VendorDelayMS == 0 {
		cfg.Sync.VendorDelayMS = 200
	}
	if cfg.Sync.EmptyPeriodThreshold == 0 {
		cfg.Sync.EmptyPeriodThreshold = 3
	}
	if cfg.Sync.LockTTLMinutes == 0 {
		cfg.Sync.LockTTLMinutes = 30
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("CONTAHUB_BASE_URL"); v != "" {
		cfg.ContaHub.BaseURL = v
	}
	if v := os.Getenv("CONTAHUB_EMAIL"); v != "" {
		cfg.ContaHub.Email = v
	}
	if v := os.Getenv("CONTAHUB_PASSWORD"); v != "" {
		cfg.ContaHub.Password = v
	}
	if v := os.Getenv("CONTAHUB_COMPANY_ID"); v != "" {
		cfg.ContaHub.CompanyID = v
	}
	if v := os.Getenv("NIBO_API_TOKEN"); v != "" {
		cfg.Nibo.APIToken = v
	}
	if v := os.Getenv("NIBO_ORGANIZATION_ID"); v != "" {
		cfg.Nibo.OrganizationID = v
	}
	if v := os.Getenv("SYNC_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
		cfg.Notify.Enabled = true
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
		cfg.Archive.Enabled = true
	}
	if v := os.Getenv("ARCHIVE_S3_REGION"); v != "" {
		cfg.Archive.S3Region = v
	}
	if v := os.Getenv("SYNC_EMPTY_PERIOD_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sync.EmptyPeriodThreshold = n
		}
	}
	if v := os.Getenv("SYNC_MAX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sync.MaxBatchSize = n
		}
	}

	return cfg, nil
}
