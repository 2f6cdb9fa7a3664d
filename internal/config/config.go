package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Graph    GraphConfig    `mapstructure:"graph"`
	FactLog  FactLogConfig  `mapstructure:"factlog"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Watch    WatchConfig    `mapstructure:"watch"`
}

type SourceConfig struct {
	Root         string   `mapstructure:"root"`
	Extensions   []string `mapstructure:"extensions"`
	Exclude      []string `mapstructure:"exclude"`
	MaxFileBytes int64    `mapstructure:"max_file_bytes"`
}

type ExtractConfig struct {
	// ParametersAsVariables counts function parameters as used variables.
	ParametersAsVariables bool `mapstructure:"parameters_as_variables"`
}

type PipelineConfig struct {
	Workers int `mapstructure:"workers"`
}

type GraphConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	URI              string        `mapstructure:"uri"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	Database         string        `mapstructure:"database"`
	ResolveCrossFile bool          `mapstructure:"resolve_cross_file"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
}

type FactLogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	Mode    string `mapstructure:"mode"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	// Debug forces the debug level; it is bound to the legacy DEBUG variable.
	Debug bool `mapstructure:"debug"`
}

type TracingConfig struct {
	Endpoint   string  `mapstructure:"endpoint"`
	Insecure   bool    `mapstructure:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

type MetricsConfig struct {
	// Textfile is a node-exporter textfile written at the end of a run.
	Textfile string `mapstructure:"textfile"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	// Listen is the address of the health and metrics endpoints; empty
	// disables them.
	Listen string `mapstructure:"listen"`
}

var defaults = map[string]any{
	"source.root":                     ".",
	"source.extensions":               []string{".py"},
	"source.exclude":                  []string{},
	"source.max_file_bytes":           int64(5 << 20),
	"extract.parameters_as_variables": false,
	"pipeline.workers":                runtime.NumCPU(),
	"graph.enabled":                   true,
	"graph.uri":                       "bolt://localhost:7687",
	"graph.username":                  "neo4j",
	"graph.password":                  "",
	"graph.database":                  "",
	"graph.resolve_cross_file":        true,
	"graph.max_retries":               3,
	"graph.retry_delay":               200 * time.Millisecond,
	"factlog.enabled":                 true,
	"factlog.dir":                     "facts",
	"factlog.mode":                    "snapshot",
	"log.level":                       "info",
	"log.format":                      "text",
	"log.file":                        "",
	"log.max_size_mb":                 1,
	"log.max_backups":                 5,
	"log.debug":                       false,
	"tracing.endpoint":                "",
	"tracing.insecure":                false,
	"tracing.sample_rate":             1.0,
	"metrics.textfile":                "",
	"watch.debounce":                  500 * time.Millisecond,
	"watch.listen":                    "",
}

// legacyEnv maps keys to the environment variables of earlier releases.
var legacyEnv = map[string]string{
	"source.root":    "CODEBASE_PATH",
	"graph.uri":      "NEO4J_URI",
	"graph.username": "NEO4J_USERNAME",
	"graph.password": "NEO4J_PASSWORD",
	"log.debug":      "DEBUG",
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Graph.Enabled && c.Graph.URI != "" && c.Graph.Password == "" {
		warnings = append(warnings, fmt.Sprintf("graph uri '%s' is configured but password is empty", c.Graph.URI))
	}

	if c.Pipeline.Workers > 4*runtime.NumCPU() {
		warnings = append(warnings, fmt.Sprintf("pipeline workers %d is far above the %d available CPUs", c.Pipeline.Workers, runtime.NumCPU()))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1.0 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside range [0.0, 1.0]", c.Tracing.SampleRate))
	}

	if !c.Graph.Enabled && !c.FactLog.Enabled {
		warnings = append(warnings, "both graph and factlog are disabled; results are only logged")
	}

	return warnings
}

// Check returns an error for settings the pipeline cannot run with.
func (c *Config) Check() error {
	if strings.TrimSpace(c.Source.Root) == "" {
		return fmt.Errorf("source.root is empty")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	switch c.FactLog.Mode {
	case "", "snapshot", "journal":
	default:
		return fmt.Errorf("factlog.mode %q is not one of snapshot, journal", c.FactLog.Mode)
	}
	if c.FactLog.Enabled && c.FactLog.Dir == "" {
		return fmt.Errorf("factlog.dir is empty")
	}
	if !logLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// Load reads configuration from an optional file and the environment.
// Environment variables use the CODEGRAPH_ prefix with dots replaced by
// underscores (CODEGRAPH_GRAPH_URI); the legacy names in legacyEnv are
// honoured when the prefixed variable is unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("CODEGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := "CODEGRAPH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if cfg.Log.Debug {
		cfg.Log.Level = "debug"
	}

	// Validate configuration and print warnings
	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
