package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	Dispatch    DispatchConfig    `toml:"dispatch"`
	ServiceAuth ServiceAuthConfig `toml:"service_auth"`
	Mailer      MailerConfig      `toml:"mailer"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Logging     LoggingConfig     `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// DispatchConfig configures the outbound trigger to the external render service
type DispatchConfig struct {
	RenderURL      string        `toml:"render_url"`       // External render service endpoint
	Audience       string        `toml:"audience"`         // ID token audience (defaults to render_url)
	IdentityURL    string        `toml:"identity_url"`     // Identity token endpoint (metadata server)
	RequestTimeout time.Duration `toml:"request_timeout"`  // HTTP request timeout for triggers
	TriggerRate    float64       `toml:"trigger_rate"`     // Max outbound triggers per second
	TriggerBurst   int           `toml:"trigger_burst"`    // Burst size for the trigger rate limiter
	CallbackURL    string        `toml:"callback_url"`     // Base URL the render service calls back on
}

// ServiceAuthConfig configures verification of inbound service-to-service tokens
type ServiceAuthConfig struct {
	Issuer         string `toml:"issuer"`          // Expected token issuer
	Audience       string `toml:"audience"`        // Expected token audience (this service)
	JWKSURL        string `toml:"jwks_url"`        // JWKS endpoint (defaults to issuer well-known path)
	ServiceAccount string `toml:"service_account"` // Allowed caller service account email
	Disabled       bool   `toml:"disabled"`        // Skip verification (development only)
}

// MailerConfig contains SMTP settings for certificate email delivery
type MailerConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	FromName string `toml:"from_name"`
	UseTLS   bool   `toml:"use_tls"`
}

// MaintenanceConfig configures the periodic maintenance scheduler
type MaintenanceConfig struct {
	Enabled       bool   `toml:"enabled"`
	Schedule      string `toml:"schedule"`       // Cron schedule format
	RetentionDays int    `toml:"retention_days"` // Purge soft-deleted emissions older than this
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Dispatch: DispatchConfig{
			IdentityURL:    "http://metadata.google.internal/computeMetadata/v1/instance/service-accounts/default/identity",
			RequestTimeout: 30 * time.Second,
			TriggerRate:    50,
			TriggerBurst:   100,
		},
		ServiceAuth: ServiceAuthConfig{
			Issuer: "https://accounts.google.com",
		},
		Mailer: MailerConfig{
			Port:     587,
			UseTLS:   true,
			FromName: "Certmill",
		},
		Maintenance: MaintenanceConfig{
			Enabled:       true,
			Schedule:      "0 0 */6 * * *", // Every 6 hours
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CERTMILL_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("CERTMILL_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CERTMILL_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("CERTMILL_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Dispatch configuration
	if renderURL := os.Getenv("CERTMILL_DISPATCH_RENDER_URL"); renderURL != "" {
		config.Dispatch.RenderURL = renderURL
	}
	if audience := os.Getenv("CERTMILL_DISPATCH_AUDIENCE"); audience != "" {
		config.Dispatch.Audience = audience
	}
	if identityURL := os.Getenv("CERTMILL_DISPATCH_IDENTITY_URL"); identityURL != "" {
		config.Dispatch.IdentityURL = identityURL
	}
	if callbackURL := os.Getenv("CERTMILL_DISPATCH_CALLBACK_URL"); callbackURL != "" {
		config.Dispatch.CallbackURL = callbackURL
	}
	if timeout := os.Getenv("CERTMILL_DISPATCH_REQUEST_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Dispatch.RequestTimeout = d
		}
	}

	// Service auth configuration
	if issuer := os.Getenv("CERTMILL_SERVICE_AUTH_ISSUER"); issuer != "" {
		config.ServiceAuth.Issuer = issuer
	}
	if audience := os.Getenv("CERTMILL_SERVICE_AUTH_AUDIENCE"); audience != "" {
		config.ServiceAuth.Audience = audience
	}
	if jwksURL := os.Getenv("CERTMILL_SERVICE_AUTH_JWKS_URL"); jwksURL != "" {
		config.ServiceAuth.JWKSURL = jwksURL
	}
	if sa := os.Getenv("CERTMILL_SERVICE_AUTH_SERVICE_ACCOUNT"); sa != "" {
		config.ServiceAuth.ServiceAccount = sa
	}

	// Mailer configuration
	if smtpHost := os.Getenv("CERTMILL_SMTP_HOST"); smtpHost != "" {
		config.Mailer.Host = smtpHost
	}
	if smtpPort := os.Getenv("CERTMILL_SMTP_PORT"); smtpPort != "" {
		if p, err := strconv.Atoi(smtpPort); err == nil {
			config.Mailer.Port = p
		}
	}
	if smtpUser := os.Getenv("CERTMILL_SMTP_USERNAME"); smtpUser != "" {
		config.Mailer.Username = smtpUser
	}
	if smtpPass := os.Getenv("CERTMILL_SMTP_PASSWORD"); smtpPass != "" {
		config.Mailer.Password = smtpPass
	}
	if smtpFrom := os.Getenv("CERTMILL_SMTP_FROM"); smtpFrom != "" {
		config.Mailer.From = smtpFrom
	}

	// Logging configuration
	if level := os.Getenv("CERTMILL_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CERTMILL_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// TokenAudience returns the audience for outbound identity tokens,
// falling back to the render URL when no explicit audience is set.
func (c *DispatchConfig) TokenAudience() string {
	if c.Audience != "" {
		return c.Audience
	}
	return c.RenderURL
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
