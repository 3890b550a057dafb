// Package config loads runtime settings from defaults, an optional scrape.yaml,
// a .env file and SCRAPE_* environment variables, and builds the global logger.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"scrape/internal/fetch"
)

// Config holds the full application configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http" mapstructure:"http"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Run     RunConfig     `yaml:"run" mapstructure:"run"`
}

// HTTPConfig configures the fetch session.
type HTTPConfig struct {
	UserAgent string        `yaml:"user_agent" mapstructure:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// RateLimit is requests per second for detail pages; 0 disables it.
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// OutputConfig configures where result files go.
type OutputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StorageConfig selects the optional database sink. An empty Kind disables it.
type StorageConfig struct {
	Kind string `yaml:"kind" mapstructure:"kind"`
	DSN  string `yaml:"dsn" mapstructure:"dsn"`
}

// Metrics backends.
const (
	MetricsNone        = "none"
	MetricsDatadog     = "datadog"
	MetricsPushgateway = "pushgateway"
)

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	Backend        string        `yaml:"backend" mapstructure:"backend"`
	Job            string        `yaml:"job" mapstructure:"job"`
	PushgatewayURL string        `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	Tags           string        `yaml:"tags" mapstructure:"tags"`
	FlushEvery     time.Duration `yaml:"flush_every" mapstructure:"flush_every"`
}

// RunConfig configures the runner.
type RunConfig struct {
	PauseBetweenTasks time.Duration `yaml:"pause_between_tasks" mapstructure:"pause_between_tasks"`
}

// Load reads configuration. When path is empty, scrape.yaml is looked up in
// the working directory and may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	// .env is optional; variables already in the environment win.
	_ = godotenv.Load()

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scrape")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SCRAPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.user_agent", fetch.DefaultUserAgent)
	v.SetDefault("http.timeout", fetch.DefaultTimeout)
	v.SetDefault("http.rate_limit", 0)
	v.SetDefault("output.dir", ".")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("storage.kind", "")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("metrics.backend", MetricsNone)
	v.SetDefault("metrics.job", "scrape")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.tags", "")
	v.SetDefault("metrics.flush_every", 60*time.Second)
	v.SetDefault("run.pause_between_tasks", 0)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("config: http.timeout must be positive, got %s", c.HTTP.Timeout)
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("config: http.rate_limit must not be negative, got %g", c.HTTP.RateLimit)
	}
	if c.Run.PauseBetweenTasks < 0 {
		return fmt.Errorf("config: run.pause_between_tasks must not be negative")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: log.format must be console or json, got %q", c.Log.Format)
	}
	switch c.Metrics.Backend {
	case "", MetricsNone, MetricsDatadog:
	case MetricsPushgateway:
		if c.Metrics.PushgatewayURL == "" {
			return fmt.Errorf("config: metrics.pushgateway_url is required for the pushgateway backend")
		}
	default:
		return fmt.Errorf("config: unknown metrics.backend %q", c.Metrics.Backend)
	}
	if c.Storage.Kind != "" && c.Storage.DSN == "" {
		return fmt.Errorf("config: storage.dsn is required when storage.kind=%s", c.Storage.Kind)
	}
	return nil
}

// InitLogger initializes the global zap logger. Logs go to stderr.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.DisableStacktrace = true
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
