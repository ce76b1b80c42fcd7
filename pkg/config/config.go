// Package config loads server configuration from an optional YAML file,
// .env files, URBANMCP_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/NERVsystems/urbanmcp/pkg/core"
)

// EnvPrefix prefixes every environment override, e.g. URBANMCP_LOG_LEVEL.
const EnvPrefix = "URBANMCP"

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Overpass   OverpassConfig   `mapstructure:"overpass"`
	Geocoder   GeocoderConfig   `mapstructure:"geocoder"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Narrative  NarrativeConfig  `mapstructure:"narrative"`
	Server     ServerConfig     `mapstructure:"server"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Tracing    TracingConfig    `mapstructure:"tracing"`

	Registration RegistrationConfig `mapstructure:"registration"`
}

// LogConfig configures the process-wide slog logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// OverpassConfig configures the map data interpreter client.
type OverpassConfig struct {
	URL         string  `mapstructure:"url" validate:"required,url"`
	UserAgent   string  `mapstructure:"user_agent" validate:"required"`
	RPS         float64 `mapstructure:"rps" validate:"gte=0"`
	Burst       int     `mapstructure:"burst" validate:"gte=1"`
	TimeoutSecs int     `mapstructure:"timeout_secs" validate:"gt=0"`
}

// GeocoderConfig configures place name lookup. When disabled, places
// resolve from coordinates and the builtin city table only.
type GeocoderConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	URL         string  `mapstructure:"url" validate:"required_if=Enabled true,omitempty,url"`
	RPS         float64 `mapstructure:"rps" validate:"gte=0"`
	TimeoutSecs int     `mapstructure:"timeout_secs" validate:"gt=0"`
}

// AnalysisConfig configures the pipeline.
type AnalysisConfig struct {
	Retries      int  `mapstructure:"retries" validate:"gte=0,lte=5"`
	RetryPauseMS int  `mapstructure:"retry_pause_ms" validate:"gte=0"`
	ClipToBBox   bool `mapstructure:"clip_to_bbox"`
}

// NarrativeConfig configures the text generation collaborator.
type NarrativeConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model" validate:"required"`
	BaseURL     string `mapstructure:"base_url" validate:"omitempty,url"`
	MaxTokens   int64  `mapstructure:"max_tokens" validate:"gt=0"`
	MaxRetries  int    `mapstructure:"max_retries" validate:"gte=0"`
	TimeoutSecs int    `mapstructure:"timeout_secs" validate:"gt=0"`
}

// ServerConfig configures the MCP transports.
type ServerConfig struct {
	HTTPEnabled bool   `mapstructure:"http_enabled"`
	HTTPOnly    bool   `mapstructure:"http_only"`
	HTTPAddr    string `mapstructure:"http_addr" validate:"required"`
	BaseURL     string `mapstructure:"base_url" validate:"omitempty,url"`
	RateLimit   int    `mapstructure:"rate_limit" validate:"gte=0"`
	// AuthToken, when set, is required as a bearer token on every HTTP
	// request except health checks.
	AuthToken      string `mapstructure:"auth_token"`
	MaxRequestSize int64  `mapstructure:"max_request_size" validate:"gt=0"`
}

// MonitoringConfig configures Prometheus and health endpoints.
type MonitoringConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

// TracingConfig configures OpenTelemetry export. An empty endpoint
// disables export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	Environment string  `mapstructure:"environment"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// RegistrationConfig configures announcing the server to a service
// registry.
type RegistrationConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RegistryURL   string `mapstructure:"registry_url" validate:"required_if=Enabled true,omitempty,url"`
	ServiceURL    string `mapstructure:"service_url" validate:"omitempty,url"`
	HeartbeatSecs int    `mapstructure:"heartbeat_secs" validate:"gt=0"`
}

// HeartbeatInterval returns the registry heartbeat period.
func (c RegistrationConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSecs) * time.Second
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"debug":             "log.level",
	"log-format":        "log.format",
	"overpass-url":      "overpass.url",
	"user-agent":        "overpass.user_agent",
	"overpass-rps":      "overpass.rps",
	"overpass-burst":    "overpass.burst",
	"geocoder":          "geocoder.enabled",
	"nominatim-url":     "geocoder.url",
	"retries":           "analysis.retries",
	"clip":              "analysis.clip_to_bbox",
	"narrative":         "narrative.enabled",
	"model":             "narrative.model",
	"enable-http":       "server.http_enabled",
	"http-only":         "server.http_only",
	"http-addr":         "server.http_addr",
	"http-base-url":     "server.base_url",
	"rate-limit":        "server.rate_limit",
	"http-auth-token":   "server.auth_token",
	"enable-monitoring": "monitoring.enabled",
	"monitoring-addr":   "monitoring.addr",

	"enable-registration": "registration.enabled",
	"registry-url":        "registration.registry_url",
	"service-url":         "registration.service_url",
}

// Options controls where Load looks for configuration.
type Options struct {
	// ConfigFile is an explicit YAML file. When empty urbanmcp.yaml is
	// searched for in the working directory.
	ConfigFile string
	// EnvFiles are loaded with godotenv; missing files are ignored.
	// Defaults to .env.
	EnvFiles []string
	// Flags, when set, override file and environment values for every
	// flag the user changed.
	Flags *pflag.FlagSet
}

// Load reads and validates the configuration.
func Load(opts Options) (*Config, error) {
	envFiles := opts.EnvFiles
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			slog.Debug("env file not loaded", "file", f, "error", err)
		}
	}

	v := viper.New()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("urbanmcp")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Well-known variables shared with other tools.
	if err := v.BindEnv("narrative.api_key", EnvPrefix+"_NARRATIVE_API_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return nil, fmt.Errorf("config: bind env: %w", err)
	}
	if err := v.BindEnv("tracing.endpoint", EnvPrefix+"_TRACING_ENDPOINT", "OTLP_ENDPOINT"); err != nil {
		return nil, fmt.Errorf("config: bind env: %w", err)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	if opts.Flags != nil {
		if err := bindFlags(v, opts.Flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := core.ValidateStruct(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("overpass.url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.user_agent", "urbanmcp/0.1.0")
	v.SetDefault("overpass.rps", 1.0)
	v.SetDefault("overpass.burst", 3)
	v.SetDefault("overpass.timeout_secs", 120)

	v.SetDefault("geocoder.enabled", true)
	v.SetDefault("geocoder.url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoder.rps", 1.0)
	v.SetDefault("geocoder.timeout_secs", 30)

	v.SetDefault("analysis.retries", 1)
	v.SetDefault("analysis.retry_pause_ms", 1500)
	v.SetDefault("analysis.clip_to_bbox", false)

	v.SetDefault("narrative.enabled", true)
	v.SetDefault("narrative.api_key", "")
	v.SetDefault("narrative.model", "claude-haiku-4-5-20251001")
	v.SetDefault("narrative.base_url", "")
	v.SetDefault("narrative.max_tokens", 1024)
	v.SetDefault("narrative.max_retries", 1)
	v.SetDefault("narrative.timeout_secs", 60)

	v.SetDefault("server.http_enabled", false)
	v.SetDefault("server.http_only", false)
	v.SetDefault("server.http_addr", ":7082")
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.rate_limit", 60)
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.max_request_size", 1<<20)

	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.addr", ":9090")

	v.SetDefault("registration.enabled", false)
	v.SetDefault("registration.registry_url", "")
	v.SetDefault("registration.service_url", "")
	v.SetDefault("registration.heartbeat_secs", 30)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// bindFlags applies flags the user set explicitly. The boolean --debug
// flag maps onto log.level.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		if f.Name == "debug" {
			if f.Value.String() == "true" {
				v.Set(key, "debug")
			}
			return
		}
		err = v.BindPFlag(key, f)
	})
	if err != nil {
		return fmt.Errorf("config: bind flags: %w", err)
	}
	return nil
}

// RetryOptions returns the fetch retry policy.
func (c AnalysisConfig) RetryOptions() core.RetryOptions {
	return core.RetryOptions{
		Retries: c.Retries,
		Pause:   time.Duration(c.RetryPauseMS) * time.Millisecond,
	}
}

// Timeout returns the interpreter request timeout.
func (c OverpassConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Timeout returns the geocoder request timeout.
func (c GeocoderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Timeout returns the narrative request timeout.
func (c NarrativeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// SlogLevel returns the configured log level.
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
