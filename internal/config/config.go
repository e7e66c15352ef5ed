package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/sydlexius/iconforge/internal/bundle"
	"github.com/sydlexius/iconforge/internal/convert"
	img "github.com/sydlexius/iconforge/internal/image"
	"github.com/sydlexius/iconforge/internal/webhook"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Storage     StorageConfig     `yaml:"storage" toml:"storage"`
	Limits      LimitsConfig      `yaml:"limits" toml:"limits"`
	Convert     ConvertConfig     `yaml:"convert" toml:"convert"`
	Watch       WatchConfig       `yaml:"watch" toml:"watch"`
	Retention   RetentionConfig   `yaml:"retention" toml:"retention"`
	Backup      BackupConfig      `yaml:"backup" toml:"backup"`
	Maintenance MaintenanceConfig `yaml:"maintenance" toml:"maintenance"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Webhooks    []webhook.Webhook `yaml:"webhooks" toml:"webhooks"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int    `yaml:"port" toml:"port"`
	BasePath       string `yaml:"base_path" toml:"base_path"`
	MaxConnections int    `yaml:"max_connections" toml:"max_connections"`
	TLSCert        string `yaml:"tls_cert" toml:"tls_cert"`
	TLSKey         string `yaml:"tls_key" toml:"tls_key"`
	HTTP3          bool   `yaml:"http3" toml:"http3"`
	// APITokenHash is a bcrypt hash; when set, API routes other than health
	// require "Authorization: Bearer <token>".
	APITokenHash string `yaml:"api_token_hash" toml:"api_token_hash"`
	// RateLimit is the sustained conversions per second allowed per client IP.
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" toml:"rate_burst"`
}

// TLSEnabled reports whether both certificate and key are configured.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCert != "" && s.TLSKey != ""
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// StorageConfig locates the artifact store.
type StorageConfig struct {
	Root string `yaml:"root" toml:"root"`
}

// LimitsConfig bounds uploads and output sizes.
type LimitsConfig struct {
	MaxUploadMB  int `yaml:"max_upload_mb" toml:"max_upload_mb"`
	MinDimension int `yaml:"min_dimension" toml:"min_dimension"`
	MaxDimension int `yaml:"max_dimension" toml:"max_dimension"`
}

// MaxUploadBytes converts MaxUploadMB to bytes.
func (l LimitsConfig) MaxUploadBytes() int64 {
	return int64(l.MaxUploadMB) << 20
}

// ConvertConfig holds conversion defaults.
type ConvertConfig struct {
	Filter      string `yaml:"filter" toml:"filter"`
	Threshold   int    `yaml:"threshold" toml:"threshold"`
	Thickness   int    `yaml:"thickness" toml:"thickness"`
	Concurrency int    `yaml:"concurrency" toml:"concurrency"`
}

// WatchConfig configures the inbox folder.
type WatchConfig struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled"`
	Inbox        string `yaml:"inbox" toml:"inbox"`
	Outbox       string `yaml:"outbox" toml:"outbox"`
	ProcessedDir string `yaml:"processed_dir" toml:"processed_dir"`
	Preset       string `yaml:"preset" toml:"preset"`
	Size         string `yaml:"size" toml:"size"`
	Silhouette   bool   `yaml:"silhouette" toml:"silhouette"`
	BundleFormat string `yaml:"bundle_format" toml:"bundle_format"`
	Poll         bool   `yaml:"poll" toml:"poll"`
}

// RetentionConfig controls history pruning. Hours <= 0 keeps everything.
type RetentionConfig struct {
	Hours           int `yaml:"hours" toml:"hours"`
	IntervalMinutes int `yaml:"interval_minutes" toml:"interval_minutes"`
}

// BackupConfig controls scheduled database snapshots. RetentionCount 0
// keeps every backup; MaxAgeDays 0 disables age pruning.
type BackupConfig struct {
	Enabled        bool   `yaml:"enabled" toml:"enabled"`
	Dir            string `yaml:"dir" toml:"dir"`
	IntervalHours  int    `yaml:"interval_hours" toml:"interval_hours"`
	RetentionCount int    `yaml:"retention_count" toml:"retention_count"`
	MaxAgeDays     int    `yaml:"max_age_days" toml:"max_age_days"`
}

// MaintenanceConfig controls database optimization and the orphan sweep.
type MaintenanceConfig struct {
	IntervalHours      int `yaml:"interval_hours" toml:"interval_hours"`
	OrphanGraceMinutes int `yaml:"orphan_grace_minutes" toml:"orphan_grace_minutes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level" toml:"level"`
	Format         string `yaml:"format" toml:"format"`
	FilePath       string `yaml:"file_path" toml:"file_path"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb" toml:"file_max_size_mb"`
	FileMaxFiles   int    `yaml:"file_max_files" toml:"file_max_files"`
	FileMaxAgeDays int    `yaml:"file_max_age_days" toml:"file_max_age_days"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			BasePath:       "/",
			MaxConnections: 256,
			RateLimit:      2,
			RateBurst:      10,
		},
		Database: DatabaseConfig{
			Path: "/data/iconforge.db",
		},
		Storage: StorageConfig{
			Root: "/data/artifacts",
		},
		Limits: LimitsConfig{
			MaxUploadMB:  10,
			MinDimension: 16,
			MaxDimension: 2048,
		},
		Convert: ConvertConfig{
			Filter:    img.FilterCatmullRom,
			Threshold: convert.DefaultThreshold,
		},
		Watch: WatchConfig{
			Inbox:        "/data/inbox",
			Outbox:       "/data/outbox",
			Preset:       convert.PresetElectron,
			Size:         "512x512",
			BundleFormat: bundle.FormatZip,
		},
		Retention: RetentionConfig{
			Hours:           24 * 7,
			IntervalMinutes: 60,
		},
		Backup: BackupConfig{
			Dir:            "/data/backups",
			IntervalHours:  24,
			RetentionCount: 7,
		},
		Maintenance: MaintenanceConfig{
			IntervalHours:      24,
			OrphanGraceMinutes: 60,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			FileMaxSizeMB:  10,
			FileMaxFiles:   5,
			FileMaxAgeDays: 30,
		},
	}
}

// Load reads config from a YAML or TOML file (if it exists) and overrides
// with environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err = toml.Decode(string(data), c)
		return err
	}
	return yaml.Unmarshal(data, c)
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) loadFromEnv() {
	envInt("IF_PORT", &c.Server.Port)
	envString("IF_BASE_PATH", &c.Server.BasePath)
	envInt("IF_MAX_CONNECTIONS", &c.Server.MaxConnections)
	envString("IF_TLS_CERT", &c.Server.TLSCert)
	envString("IF_TLS_KEY", &c.Server.TLSKey)
	envBool("IF_HTTP3", &c.Server.HTTP3)
	envString("IF_API_TOKEN_HASH", &c.Server.APITokenHash)
	envString("IF_DB_PATH", &c.Database.Path)
	envString("IF_STORAGE_ROOT", &c.Storage.Root)
	envInt("IF_MAX_UPLOAD_MB", &c.Limits.MaxUploadMB)
	envString("IF_FILTER", &c.Convert.Filter)
	envBool("IF_WATCH_ENABLED", &c.Watch.Enabled)
	envString("IF_WATCH_INBOX", &c.Watch.Inbox)
	envString("IF_WATCH_OUTBOX", &c.Watch.Outbox)
	envString("IF_WATCH_PRESET", &c.Watch.Preset)
	envInt("IF_RETENTION_HOURS", &c.Retention.Hours)
	envBool("IF_BACKUP_ENABLED", &c.Backup.Enabled)
	envString("IF_BACKUP_DIR", &c.Backup.Dir)
	envInt("IF_BACKUP_RETENTION", &c.Backup.RetentionCount)
	envInt("IF_MAINTENANCE_INTERVAL_HOURS", &c.Maintenance.IntervalHours)
	envString("IF_LOG_LEVEL", &c.Logging.Level)
	envString("IF_LOG_FORMAT", &c.Logging.Format)
	envString("IF_LOG_FILE", &c.Logging.FilePath)
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	if c.Server.HTTP3 && !c.Server.TLSEnabled() {
		return fmt.Errorf("http3 requires tls_cert and tls_key")
	}
	if c.Limits.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1")
	}
	if c.Limits.MinDimension < 1 || c.Limits.MaxDimension < c.Limits.MinDimension {
		return fmt.Errorf("invalid dimension bounds %d..%d", c.Limits.MinDimension, c.Limits.MaxDimension)
	}
	if !img.ValidFilter(c.Convert.Filter) {
		return fmt.Errorf("unknown resampling filter %q", c.Convert.Filter)
	}
	if c.Convert.Threshold < 0 || c.Convert.Threshold > 255 {
		return fmt.Errorf("threshold must be 0..255, got %d", c.Convert.Threshold)
	}
	if c.Convert.Thickness < -convert.MaxThickness || c.Convert.Thickness > convert.MaxThickness {
		return fmt.Errorf("thickness must be -%d..%d, got %d", convert.MaxThickness, convert.MaxThickness, c.Convert.Thickness)
	}
	if !bundle.Valid(c.Watch.BundleFormat) {
		return fmt.Errorf("unknown bundle format %q", c.Watch.BundleFormat)
	}
	switch c.Watch.Preset {
	case convert.PresetSingle:
		if _, err := convert.ParseSize(c.Watch.Size); err != nil {
			return fmt.Errorf("watch size: %w", err)
		}
	case convert.PresetElectron:
	default:
		return fmt.Errorf("unknown watch preset %q", c.Watch.Preset)
	}
	if c.Watch.Enabled && (c.Watch.Inbox == "" || c.Watch.Outbox == "") {
		return fmt.Errorf("watch requires inbox and outbox")
	}
	if c.Retention.IntervalMinutes <= 0 {
		c.Retention.IntervalMinutes = 60
	}
	if c.Backup.Enabled && c.Backup.Dir == "" {
		return fmt.Errorf("backup requires dir")
	}
	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Backup.RetentionCount < 0 || c.Backup.MaxAgeDays < 0 {
		return fmt.Errorf("backup retention_count and max_age_days must not be negative")
	}
	if c.Maintenance.IntervalHours <= 0 {
		c.Maintenance.IntervalHours = 24
	}
	if c.Maintenance.OrphanGraceMinutes < 1 {
		return fmt.Errorf("maintenance orphan_grace_minutes must be at least 1")
	}
	for i := range c.Webhooks {
		if err := c.Webhooks[i].Validate(); err != nil {
			return err
		}
	}
	switch c.Logging.Format {
	case "json", "text", "auto":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	return nil
}

// WatchSilhouette returns the silhouette parameters for inbox conversions,
// or nil when disabled.
func (c *Config) WatchSilhouette() *convert.SilhouetteParams {
	if !c.Watch.Silhouette {
		return nil
	}
	return &convert.SilhouetteParams{Threshold: uint8(c.Convert.Threshold), Thickness: c.Convert.Thickness} //nolint:gosec // G115: validated 0..255
}
