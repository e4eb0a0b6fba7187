// Package models - Service configuration and operational settings.
// This file defines the configuration tree for every component of the RBT
// edge service: the HTTP server, persistence, the shared TTL cache, request
// mitigation, the translation worker and its LLM client, and observability.
//
// Configuration layering:
// - NewDefaultConfig supplies values that run out of the box (memory backends)
// - A YAML file overrides defaults per deployment
// - Environment variables override the file (see internal/config)
// - Validate runs last so every source is checked the same way
package models

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"time"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Cache type constants
const (
	CacheTypeMemory   = "memory"
	CacheTypePostgres = "postgres"
	CacheTypeSQLite   = "sqlite"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`               // HTTP server configuration
	Storage       StorageConfig       `yaml:"storage" json:"storage"`             // Job queue and translation persistence
	Content       ContentConfig       `yaml:"content" json:"content"`             // Read-only source text database
	Cache         CacheConfig         `yaml:"cache" json:"cache"`                 // Shared TTL cache (rate limits, bans)
	Security      SecurityConfig      `yaml:"security" json:"security"`           // Keys, rate limiting, bot filter
	Translation   TranslationConfig   `yaml:"translation" json:"translation"`     // LLM client settings
	Worker        WorkerConfig        `yaml:"worker" json:"worker"`               // Background job worker
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`             // Logging and output configuration
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`             // Prometheus endpoint
	Observability ObservabilityConfig `yaml:"observability" json:"observability"` // OpenTelemetry tracing
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	Debug        bool          `yaml:"debug" json:"debug"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	// Migrate applies the embedded schema migrations on startup.
	Migrate bool `yaml:"migrate" json:"migrate"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// ContentConfig points at the PostgreSQL database holding the Bible text
// schemas (genesis, old_testament, new_testament, joseph_aseneth). When DSN is
// empty and storage is postgres, the storage DSN is reused.
type ContentConfig struct {
	DSN string `yaml:"dsn" json:"dsn"`
}

type CacheConfig struct {
	Type string `yaml:"type" json:"type"`
	// DSN is required for the sqlite and postgres cache types. An empty DSN
	// with a SQL cache type reuses the storage DSN.
	DSN string `yaml:"dsn" json:"dsn"`
	// MaxEntries bounds the SQL cache table; the janitor culls a quarter of
	// the soonest-expiring rows when the bound is crossed.
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
	// PurgeSchedule is a cron expression for the expired-entry janitor.
	PurgeSchedule string `yaml:"purge_schedule" json:"purge_schedule"`
}

type SecurityConfig struct {
	// AdminKeys authorise the ban management endpoints.
	AdminKeys []string `yaml:"admin_keys" json:"admin_keys"`
	// EditorKeys mark a request as an authenticated editor; editors skip
	// rate limiting and the bot filter.
	EditorKeys []string          `yaml:"editor_keys" json:"editor_keys"`
	RateLimit  RateLimitConfig   `yaml:"rate_limit" json:"rate_limit"`
	Human      HumanVerifyConfig `yaml:"human_verification" json:"human_verification"`
	BotFilter  BotFilterConfig   `yaml:"bot_filter" json:"bot_filter"`
	// TrustedProxies lists the CIDRs whose X-Forwarded-For and X-Real-IP
	// headers are believed. Requests from anywhere else are identified by
	// their connection address.
	TrustedProxies []string `yaml:"trusted_proxies" json:"trusted_proxies"`
}

// RateLimitConfig holds the per-category fixed window policies.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// ChallengeRedirect sends over-limit browsers to the human challenge page.
	// When false they receive a plain 429.
	ChallengeRedirect bool          `yaml:"challenge_redirect" json:"challenge_redirect"`
	StrikeTTL         time.Duration `yaml:"strike_ttl" json:"strike_ttl"`
	Verse             PolicyConfig  `yaml:"verse" json:"verse"`
	Chapter           PolicyConfig  `yaml:"chapter" json:"chapter"`
	API               PolicyConfig  `yaml:"api" json:"api"`
	General           PolicyConfig  `yaml:"general" json:"general"`
}

type PolicyConfig struct {
	Limit       int           `yaml:"limit" json:"limit"`
	Window      time.Duration `yaml:"window" json:"window"`
	MaxStrikes  int           `yaml:"max_strikes" json:"max_strikes"`
	BanDuration time.Duration `yaml:"ban_duration" json:"ban_duration"`
}

type HumanVerifyConfig struct {
	Secret string        `yaml:"secret" json:"-"`
	MaxAge time.Duration `yaml:"max_age" json:"max_age"`
	// VerifyPerMinute paces POSTs to the verify endpoint per client IP.
	VerifyPerMinute int `yaml:"verify_per_minute" json:"verify_per_minute"`
	VerifyBurst     int `yaml:"verify_burst" json:"verify_burst"`
}

type BotFilterConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Blocked []string `yaml:"blocked" json:"blocked"`
	Allowed []string `yaml:"allowed" json:"allowed"`
}

type TranslationConfig struct {
	APIKeys []string `yaml:"api_keys" json:"-"`
	Model   string   `yaml:"model" json:"model"`
	// RequestsPerMinute paces calls to the LLM across all keys.
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	// DetectLanguage logs a warning when output still reads as English.
	DetectLanguage bool `yaml:"detect_language" json:"detect_language"`
	// ChapterCacheTTL bounds how long a read-back chapter is served from the
	// cache. Completed jobs and clear-cache requests drop it sooner.
	ChapterCacheTTL time.Duration `yaml:"chapter_cache_ttl" json:"chapter_cache_ttl"`
}

type WorkerConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	PollInterval      time.Duration `yaml:"poll_interval" json:"poll_interval"`
	ErrorBackoff      time.Duration `yaml:"error_backoff" json:"error_backoff"`
	StaleAfter        time.Duration `yaml:"stale_after" json:"stale_after"`
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts"`
	VerseBatchSize    int           `yaml:"verse_batch_size" json:"verse_batch_size"`
	FootnoteBatchSize int           `yaml:"footnote_batch_size" json:"footnote_batch_size"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// DefaultBlockedAgents are user agent fragments rejected by the bot filter.
var DefaultBlockedAgents = []string{
	"python-requests", "curl", "wget", "scrapy", "bot", "spider", "crawler",
	"scraper", "http", "libwww", "snoopy", "mechanize", "java", "headless",
}

// DefaultAllowedAgents are search and social crawlers let through even though
// they match a blocked fragment.
var DefaultAllowedAgents = []string{
	"googlebot", "bingbot", "slurp", "duckduckbot", "baiduspider", "yandexbot",
	"facebookexternalhit", "twitterbot", "linkedinbot",
}

// NewDefaultConfig creates a configuration that runs without external
// dependencies: memory storage and cache, rate limiting on with the
// production category policies, worker enabled.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
				MaxAge:         86400,
			},
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
			Migrate: true,
		},
		Cache: CacheConfig{
			Type:          CacheTypeMemory,
			MaxEntries:    10000,
			PurgeSchedule: "@every 1m",
		},
		Security: SecurityConfig{
			AdminKeys:      []string{},
			EditorKeys:     []string{},
			TrustedProxies: []string{"127.0.0.1/32", "::1/128"},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				ChallengeRedirect: true,
				StrikeTTL:         2 * time.Hour,
				Verse:             PolicyConfig{Limit: 30, Window: time.Minute, MaxStrikes: 3, BanDuration: 30 * time.Minute},
				Chapter:           PolicyConfig{Limit: 60, Window: time.Minute, MaxStrikes: 4, BanDuration: 30 * time.Minute},
				API:               PolicyConfig{Limit: 20, Window: time.Minute, MaxStrikes: 3, BanDuration: time.Hour},
				General:           PolicyConfig{Limit: 120, Window: time.Minute, MaxStrikes: 6, BanDuration: 5 * time.Minute},
			},
			Human: HumanVerifyConfig{
				MaxAge:          24 * time.Hour,
				VerifyPerMinute: 10,
				VerifyBurst:     3,
			},
			BotFilter: BotFilterConfig{
				Enabled: true,
				Blocked: slices.Clone(DefaultBlockedAgents),
				Allowed: slices.Clone(DefaultAllowedAgents),
			},
		},
		Translation: TranslationConfig{
			APIKeys:           []string{},
			Model:             "gemini-3-flash-preview",
			RequestsPerMinute: 30,
			Timeout:           2 * time.Minute,
			DetectLanguage:    true,
			ChapterCacheTTL:   time.Hour,
		},
		Worker: WorkerConfig{
			Enabled:           true,
			PollInterval:      2 * time.Second,
			ErrorBackoff:      5 * time.Second,
			StaleAfter:        5 * time.Minute,
			MaxAttempts:       3,
			VerseBatchSize:    10,
			FootnoteBatchSize: 12,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "rbt",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("invalid cache config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Translation.Validate(); err != nil {
		return fmt.Errorf("invalid translation config: %w", err)
	}

	if err := c.Worker.Validate(); err != nil {
		return fmt.Errorf("invalid worker config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
		return nil
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
}

func (cc *CacheConfig) Validate() error {
	if !slices.Contains([]string{CacheTypeMemory, CacheTypePostgres, CacheTypeSQLite}, cc.Type) {
		return fmt.Errorf("invalid cache type: %s", cc.Type)
	}
	if cc.MaxEntries < 0 {
		return errors.New("max entries cannot be negative")
	}
	if cc.PurgeSchedule == "" {
		return errors.New("purge schedule cannot be empty")
	}
	return nil
}

func (sec *SecurityConfig) Validate() error {
	if sec.RateLimit.Enabled {
		policies := map[string]PolicyConfig{
			"verse":   sec.RateLimit.Verse,
			"chapter": sec.RateLimit.Chapter,
			"api":     sec.RateLimit.API,
			"general": sec.RateLimit.General,
		}
		for name, p := range policies {
			if err := p.Validate(); err != nil {
				return fmt.Errorf("rate limit %s: %w", name, err)
			}
		}
		if sec.RateLimit.StrikeTTL <= 0 {
			return errors.New("strike TTL must be positive")
		}
	}

	if sec.Human.MaxAge <= 0 {
		return errors.New("human verification max age must be positive")
	}
	if sec.Human.VerifyPerMinute <= 0 || sec.Human.VerifyBurst <= 0 {
		return errors.New("human verification pacing must be positive")
	}

	for _, cidr := range sec.TrustedProxies {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return fmt.Errorf("invalid trusted proxy %q: %w", cidr, err)
		}
	}

	for _, k := range append(slices.Clone(sec.AdminKeys), sec.EditorKeys...) {
		if k == "" {
			return errors.New("API key cannot be empty")
		}
	}

	return nil
}

func (p PolicyConfig) Validate() error {
	if p.Limit <= 0 {
		return errors.New("limit must be positive")
	}
	if p.Window <= 0 {
		return errors.New("window must be positive")
	}
	if p.MaxStrikes <= 0 {
		return errors.New("max strikes must be positive")
	}
	if p.BanDuration <= 0 {
		return errors.New("ban duration must be positive")
	}
	return nil
}

func (tc *TranslationConfig) Validate() error {
	if tc.Model == "" {
		return errors.New("model cannot be empty")
	}
	if tc.RequestsPerMinute <= 0 {
		return errors.New("requests per minute must be positive")
	}
	if tc.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}
	if tc.ChapterCacheTTL < 0 {
		return errors.New("chapter cache TTL cannot be negative")
	}
	return nil
}

func (wc *WorkerConfig) Validate() error {
	if !wc.Enabled {
		return nil
	}
	if wc.PollInterval <= 0 || wc.ErrorBackoff <= 0 {
		return errors.New("poll interval and error backoff must be positive")
	}
	if wc.StaleAfter <= 0 {
		return errors.New("stale after must be positive")
	}
	if wc.MaxAttempts <= 0 {
		return errors.New("max attempts must be positive")
	}
	if wc.VerseBatchSize <= 0 || wc.FootnoteBatchSize <= 0 {
		return errors.New("batch sizes must be positive")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !slices.Contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}
	if !oc.Tracing.Enabled {
		return nil
	}
	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("unsupported trace exporter: %s", oc.Tracing.Exporter)
	}
	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}
	return nil
}
