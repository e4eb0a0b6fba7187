package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	// Test server defaults
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 30*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, config.Server.WriteTimeout)
	assert.Equal(t, 60*time.Second, config.Server.IdleTimeout)
	assert.False(t, config.Server.TLSEnabled)
	assert.False(t, config.Server.Debug)

	// Test backend defaults
	assert.Equal(t, StorageTypeMemory, config.Storage.Type)
	assert.True(t, config.Storage.Migrate)
	assert.Equal(t, CacheTypeMemory, config.Cache.Type)
	assert.Equal(t, "@every 1m", config.Cache.PurgeSchedule)

	// Test request mitigation defaults
	rl := config.Security.RateLimit
	assert.True(t, rl.Enabled)
	assert.True(t, rl.ChallengeRedirect)
	assert.Equal(t, 2*time.Hour, rl.StrikeTTL)
	assert.Equal(t, PolicyConfig{Limit: 30, Window: time.Minute, MaxStrikes: 3, BanDuration: 30 * time.Minute}, rl.Verse)
	assert.Equal(t, PolicyConfig{Limit: 60, Window: time.Minute, MaxStrikes: 4, BanDuration: 30 * time.Minute}, rl.Chapter)
	assert.Equal(t, PolicyConfig{Limit: 20, Window: time.Minute, MaxStrikes: 3, BanDuration: time.Hour}, rl.API)
	assert.Equal(t, PolicyConfig{Limit: 120, Window: time.Minute, MaxStrikes: 6, BanDuration: 5 * time.Minute}, rl.General)
	assert.True(t, config.Security.BotFilter.Enabled)
	assert.Contains(t, config.Security.BotFilter.Blocked, "python-requests")
	assert.Contains(t, config.Security.BotFilter.Allowed, "googlebot")

	// Test worker defaults
	assert.True(t, config.Worker.Enabled)
	assert.Equal(t, 5*time.Minute, config.Worker.StaleAfter)
	assert.Equal(t, 3, config.Worker.MaxAttempts)
	assert.Equal(t, 10, config.Worker.VerseBatchSize)
	assert.Equal(t, 12, config.Worker.FootnoteBatchSize)

	// Test logging defaults
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.Equal(t, "stdout", config.Logging.Output)

	// Test observability defaults
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "/metrics", config.Metrics.Path)
	assert.Equal(t, 9090, config.Metrics.Port)
	assert.Equal(t, "rbt", config.Observability.ServiceName)
	assert.False(t, config.Observability.Tracing.Enabled)

	require.NoError(t, config.Validate())
}

func TestDefaultConfigListsAreCopies(t *testing.T) {
	a := NewDefaultConfig()
	a.Security.BotFilter.Blocked[0] = "changed"

	b := NewDefaultConfig()
	assert.Equal(t, "python-requests", b.Security.BotFilter.Blocked[0])
	assert.Equal(t, "python-requests", DefaultBlockedAgents[0])
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{"valid default", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server config"},
		{"empty host", func(c *Config) { c.Server.Host = "" }, "host cannot be empty"},
		{"negative timeout", func(c *Config) { c.Server.ReadTimeout = -time.Second }, "timeouts cannot be negative"},
		{"tls without cert", func(c *Config) { c.Server.TLSEnabled = true }, "TLS cert file is required"},
		{"tls without key", func(c *Config) {
			c.Server.TLSEnabled = true
			c.Server.TLSCertFile = "cert.pem"
		}, "TLS key file is required"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "json" }, "invalid storage type: json"},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = StorageTypePostgres }, "database DSN is required"},
		{"sqlite with dsn", func(c *Config) {
			c.Storage.Type = StorageTypeSQLite
			c.Storage.Database.DSN = "rbt.db"
		}, ""},
		{"unknown cache", func(c *Config) { c.Cache.Type = "redis" }, "invalid cache type: redis"},
		{"negative cache bound", func(c *Config) { c.Cache.MaxEntries = -1 }, "max entries cannot be negative"},
		{"empty purge schedule", func(c *Config) { c.Cache.PurgeSchedule = "" }, "purge schedule cannot be empty"},
		{"zero verse limit", func(c *Config) { c.Security.RateLimit.Verse.Limit = 0 }, "rate limit verse: limit must be positive"},
		{"zero api window", func(c *Config) { c.Security.RateLimit.API.Window = 0 }, "rate limit api: window must be positive"},
		{"zero strikes", func(c *Config) { c.Security.RateLimit.General.MaxStrikes = 0 }, "max strikes must be positive"},
		{"zero ban", func(c *Config) { c.Security.RateLimit.Chapter.BanDuration = 0 }, "ban duration must be positive"},
		{"zero strike ttl", func(c *Config) { c.Security.RateLimit.StrikeTTL = 0 }, "strike TTL must be positive"},
		{"policies ignored when disabled", func(c *Config) {
			c.Security.RateLimit.Enabled = false
			c.Security.RateLimit.Verse = PolicyConfig{}
		}, ""},
		{"zero human max age", func(c *Config) { c.Security.Human.MaxAge = 0 }, "max age must be positive"},
		{"zero verify burst", func(c *Config) { c.Security.Human.VerifyBurst = 0 }, "pacing must be positive"},
		{"empty admin key", func(c *Config) { c.Security.AdminKeys = []string{""} }, "API key cannot be empty"},
		{"empty editor key", func(c *Config) { c.Security.EditorKeys = []string{"ok", ""} }, "API key cannot be empty"},
		{"empty model", func(c *Config) { c.Translation.Model = "" }, "model cannot be empty"},
		{"zero pacing", func(c *Config) { c.Translation.RequestsPerMinute = 0 }, "requests per minute must be positive"},
		{"zero poll", func(c *Config) { c.Worker.PollInterval = 0 }, "poll interval"},
		{"zero stale", func(c *Config) { c.Worker.StaleAfter = 0 }, "stale after must be positive"},
		{"zero attempts", func(c *Config) { c.Worker.MaxAttempts = 0 }, "max attempts must be positive"},
		{"zero batch", func(c *Config) { c.Worker.VerseBatchSize = 0 }, "batch sizes must be positive"},
		{"worker disabled", func(c *Config) {
			c.Worker.Enabled = false
			c.Worker.MaxAttempts = 0
		}, ""},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid log level: verbose"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format: xml"},
		{"bad log output", func(c *Config) { c.Logging.Output = "syslog" }, "invalid log output: syslog"},
		{"file without path", func(c *Config) { c.Logging.Output = "file" }, "file path is required"},
		{"empty metrics path", func(c *Config) { c.Metrics.Path = "" }, "metrics path cannot be empty"},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = 70000 }, "metrics port"},
		{"metrics disabled", func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.Port = 0
		}, ""},
		{"empty service name", func(c *Config) { c.Observability.ServiceName = "" }, "service name cannot be empty"},
		{"otlp without endpoint", func(c *Config) {
			c.Observability.Tracing.Enabled = true
			c.Observability.Tracing.Exporter = "otlp"
		}, "OTLP endpoint is required"},
		{"unknown exporter", func(c *Config) {
			c.Observability.Tracing.Enabled = true
			c.Observability.Tracing.Exporter = "zipkin"
		}, "unsupported trace exporter"},
		{"bad sample rate", func(c *Config) {
			c.Observability.Tracing.Enabled = true
			c.Observability.Tracing.SampleRate = 1.5
		}, "sample rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.modify(config)

			err := config.Validate()
			if tt.expectError == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.expectError)
			}
		})
	}
}
