// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/export"
	"github.com/JakeFAU/webscraper/internal/parser"
	"github.com/JakeFAU/webscraper/internal/policy/domain"
	"github.com/JakeFAU/webscraper/internal/storage/postgres"
)

// EnvPrefix is prepended to environment overrides, e.g. SCRAPER_MAX_PAGES.
const EnvPrefix = "SCRAPER"

// DefaultUserAgent is sent when no user_agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Config captures every scraper knob loaded via Viper.
type Config struct {
	TargetURL     string                 `mapstructure:"target_url"`
	MaxPages      int                    `mapstructure:"max_pages"`
	DelaySeconds  float64                `mapstructure:"delay_between_requests"`
	TimeoutSecs   float64                `mapstructure:"timeout"`
	MaxBodySize   int                    `mapstructure:"max_body_size"`
	FollowLinks   bool                   `mapstructure:"follow_links"`
	MaxDepth      int                    `mapstructure:"max_depth"`
	Workers       int                    `mapstructure:"workers"`
	AllowedDomain []string               `mapstructure:"allowed_domains"`
	DomainMatch   string                 `mapstructure:"domain_match"`
	Selectors     map[string]string      `mapstructure:"selectors"`
	ExtractRules  map[string]parser.Rule `mapstructure:"extract_rules"`
	ExtractTables bool                   `mapstructure:"extract_tables"`
	OutputFormat  string                 `mapstructure:"output_format"`
	OutputFile    string                 `mapstructure:"output_file"`
	OutputDir     string                 `mapstructure:"output_dir"`
	SaveHTML      bool                   `mapstructure:"save_html"`
	ExportFields  []string               `mapstructure:"export_fields"`
	UserAgent     string                 `mapstructure:"user_agent"`
	Headers       map[string]string      `mapstructure:"headers"`

	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig controls the optional metrics/progress listener.
type ServerConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// StorageConfig selects where exports and HTML snapshots are written.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig controls OpenTelemetry tracing of fetches.
type TelemetryConfig struct {
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	ServiceName    string `mapstructure:"service_name"`
	// TraceProjectID exports spans to Google Cloud Trace.
	TraceProjectID string `mapstructure:"trace_project_id"`
}

// Delay returns delay_between_requests as a duration.
func (c Config) Delay() time.Duration {
	return seconds(c.DelaySeconds)
}

// Timeout returns the per-request timeout as a duration.
func (c Config) Timeout() time.Duration {
	return seconds(c.TimeoutSecs)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// New returns a Viper instance with defaults and environment overrides applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads path (when given) into v, then unmarshals and validates the
// result. A file that cannot be read is logged and the defaults are kept.
func Load(v *viper.Viper, path string, logger *zap.Logger) (Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			logger.Warn("could not load config file, using defaults",
				zap.String("path", path), zap.Error(err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("target_url", "https://example.com")
	v.SetDefault("max_pages", 10)
	v.SetDefault("delay_between_requests", 2.0)
	v.SetDefault("timeout", 30.0)
	v.SetDefault("max_body_size", 0)
	v.SetDefault("follow_links", true)
	v.SetDefault("max_depth", 3)
	v.SetDefault("workers", 1)
	v.SetDefault("allowed_domains", []string{})
	v.SetDefault("domain_match", string(domain.ModeSubstring))
	v.SetDefault("selectors", map[string]string{
		"title":   "h1",
		"content": "p",
		"links":   "a",
	})
	v.SetDefault("extract_rules", map[string]any{})
	v.SetDefault("extract_tables", false)
	v.SetDefault("output_format", string(export.FormatJSON))
	v.SetDefault("output_file", export.DefaultBaseName)
	v.SetDefault("output_dir", "output")
	v.SetDefault("save_html", false)
	v.SetDefault("export_fields", []string{"url", "title", "content", "timestamp"})
	v.SetDefault("user_agent", DefaultUserAgent)
	v.SetDefault("headers", map[string]string{})
	v.SetDefault("logging.development", true)
	v.SetDefault("server.metrics_addr", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", postgres.DefaultTable)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.service_name", "webscraper")
	v.SetDefault("telemetry.trace_project_id", "")
}

// FlagKeys maps command-line flag names to the config keys they override.
var FlagKeys = map[string]string{
	"url":             "target_url",
	"crawl":           "follow_links",
	"max-pages":       "max_pages",
	"delay":           "delay_between_requests",
	"output":          "output_format",
	"timeout":         "timeout",
	"allowed-domains": "allowed_domains",
	"workers":         "workers",
	"domain-match":    "domain_match",
	"save-html":       "save_html",
	"metrics-addr":    "server.metrics_addr",
}

// BindFlags binds every flag in FlagKeys that fs defines. Viper only prefers a
// bound flag over file and env values once it has been set on the command line.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range FlagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// WriteExample writes the default configuration to path. The format follows
// the file extension (json, yaml or toml).
func WriteExample(path string) error {
	v := New()
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write example config: %w", err)
	}
	return nil
}

// Validate performs basic sanity checks.
func (c Config) Validate() error {
	if c.MaxPages < 0 {
		return fmt.Errorf("max_pages must be >= 0")
	}
	if c.DelaySeconds < 0 {
		return fmt.Errorf("delay_between_requests must be >= 0")
	}
	if c.TimeoutSecs <= 0 {
		return fmt.Errorf("timeout must be > 0")
	}
	if c.MaxBodySize < 0 {
		return fmt.Errorf("max_body_size must be >= 0")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1")
	}
	if _, err := export.ParseFormat(c.OutputFormat); err != nil {
		return err
	}
	if _, err := domain.ParseMode(c.DomainMatch); err != nil {
		return err
	}
	if c.DB.Table != "" && !postgres.ValidTableName(c.DB.Table) {
		return fmt.Errorf("db.table %q is not a valid identifier", c.DB.Table)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}
