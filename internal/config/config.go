// Package config loads the process-wide Config for carton binaries. Values
// are layered flag > env (CARTON_-prefixed) > config file > default, using
// spf13/viper bound to a cobra/pflag command tree.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for a carton process.
type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Server    ServerConfig    `mapstructure:"server"`
	Trace     TraceConfig     `mapstructure:"trace"`
	LogLevel  string          `mapstructure:"log_level"`
}

// PathsConfig locates runner installs and their scratch directories.
type PathsConfig struct {
	RunnerDir     string `mapstructure:"runner_dir"`
	RunnerDataDir string `mapstructure:"runner_data_dir"`
}

// RuntimeConfig tunes the orchestrator and shared-memory pool.
type RuntimeConfig struct {
	DefaultDevice    string `mapstructure:"default_device"`
	ShmPoolMaxBytes  int64  `mapstructure:"shm_pool_max_bytes"`
	InferTimeoutSecs int    `mapstructure:"infer_timeout_secs"`
	LoadTimeoutSecs  int    `mapstructure:"load_timeout_secs"`
}

// RegistryConfig points at the runner catalog used when a local runner is
// missing.
type RegistryConfig struct {
	CatalogURL     string `mapstructure:"catalog_url"`
	InstallTimeout int    `mapstructure:"install_timeout_secs"`
}

// ServerConfig configures "carton serve"'s HTTP listener (health + metrics
// only; there is no inference-serving surface).
type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout_secs"`
}

// TraceConfig controls the optional Chrome-trace file exporter and the
// OpenTelemetry OTLP exporter.
type TraceConfig struct {
	FilePath     string `mapstructure:"file_path"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// LoadOptions parameterizes Load.
type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

// DefaultConfig returns the built-in defaults, rooted under $HOME.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return Config{
		Paths: PathsConfig{
			RunnerDir:     filepath.Join(home, ".carton", "runners"),
			RunnerDataDir: filepath.Join(home, ".carton", "runner_data"),
		},
		Runtime: RuntimeConfig{
			DefaultDevice:    "cpu",
			ShmPoolMaxBytes:  512 << 20,
			InferTimeoutSecs: 60,
			LoadTimeoutSecs:  120,
		},
		Registry: RegistryConfig{
			CatalogURL:     "",
			InstallTimeout: 300,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 30,
		},
		Trace: TraceConfig{
			FilePath:     "",
			OTLPEndpoint: "",
		},
		LogLevel: "info",
	}
}

// RegisterFlags registers every config field as a pflag on fs, seeded from
// defaults.
func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-runner-dir", defaults.Paths.RunnerDir, "Directory containing installed runner descriptors and binaries")
	fs.String("paths-runner-data-dir", defaults.Paths.RunnerDataDir, "Per-runner scratch directory")
	fs.String("runtime-default-device", defaults.Runtime.DefaultDevice, "Device string used when a carton omits visible_device")
	fs.Int64("runtime-shm-pool-max-bytes", defaults.Runtime.ShmPoolMaxBytes, "Upper bound on retained shared-memory pool bytes")
	fs.Int("runtime-infer-timeout", defaults.Runtime.InferTimeoutSecs, "Per-call Infer timeout in seconds (stored in the config; Infer does not apply it)")
	fs.Int("runtime-load-timeout", defaults.Runtime.LoadTimeoutSecs, "Load timeout in seconds")
	fs.String("registry-catalog-url", defaults.Registry.CatalogURL, "URL of the runner catalog JSON document")
	fs.Int("registry-install-timeout", defaults.Registry.InstallTimeout, "Runner install timeout in seconds (stored in the config; runner installs do not apply it)")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address for health and metrics")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain timeout in seconds")
	fs.String("trace-file", defaults.Trace.FilePath, "Write a Chrome-trace-compatible JSON event log to this path")
	fs.String("trace-otlp-endpoint", defaults.Trace.OTLPEndpoint, "OTLP/HTTP collector endpoint for live spans")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

// Load resolves the layered configuration: flag > env > config file >
// default.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("config: bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("CARTON")
	replacer := strings.NewReplacer("-", "_", ".", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("paths.runner_dir", "CARTON_RUNNER_DIR"); err != nil {
		return Config{}, fmt.Errorf("config: bind CARTON_RUNNER_DIR: %w", err)
	}
	if err := v.BindEnv("paths.runner_data_dir", "CARTON_RUNNER_DATA_DIR"); err != nil {
		return Config{}, fmt.Errorf("config: bind CARTON_RUNNER_DATA_DIR: %w", err)
	}
	if err := v.BindEnv("trace.file_path", "CARTON_TRACE_FILE"); err != nil {
		return Config{}, fmt.Errorf("config: bind CARTON_TRACE_FILE: %w", err)
	}
	v.AutomaticEnv()

	configPath := opts.ConfigFile
	if configPath == "" {
		configPath = os.Getenv("CARTON_CONFIG_PATH")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".carton"))
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("config: read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.runner_dir", c.Paths.RunnerDir)
	v.SetDefault("paths.runner_data_dir", c.Paths.RunnerDataDir)
	v.SetDefault("runtime.default_device", c.Runtime.DefaultDevice)
	v.SetDefault("runtime.shm_pool_max_bytes", c.Runtime.ShmPoolMaxBytes)
	v.SetDefault("runtime.infer_timeout_secs", c.Runtime.InferTimeoutSecs)
	v.SetDefault("runtime.load_timeout_secs", c.Runtime.LoadTimeoutSecs)
	v.SetDefault("registry.catalog_url", c.Registry.CatalogURL)
	v.SetDefault("registry.install_timeout_secs", c.Registry.InstallTimeout)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.shutdown_timeout_secs", c.Server.ShutdownTimeout)
	v.SetDefault("trace.file_path", c.Trace.FilePath)
	v.SetDefault("trace.otlp_endpoint", c.Trace.OTLPEndpoint)
	v.SetDefault("log_level", c.LogLevel)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.runner_dir", "paths-runner-dir")
	v.RegisterAlias("paths.runner_data_dir", "paths-runner-data-dir")
	v.RegisterAlias("runtime.default_device", "runtime-default-device")
	v.RegisterAlias("runtime.shm_pool_max_bytes", "runtime-shm-pool-max-bytes")
	v.RegisterAlias("runtime.infer_timeout_secs", "runtime-infer-timeout")
	v.RegisterAlias("runtime.load_timeout_secs", "runtime-load-timeout")
	v.RegisterAlias("registry.catalog_url", "registry-catalog-url")
	v.RegisterAlias("registry.install_timeout_secs", "registry-install-timeout")
	v.RegisterAlias("server.listen_addr", "server-listen-addr")
	v.RegisterAlias("server.shutdown_timeout_secs", "server-shutdown-timeout")
	v.RegisterAlias("trace.file_path", "trace-file")
	v.RegisterAlias("trace.otlp_endpoint", "trace-otlp-endpoint")
	v.RegisterAlias("log_level", "log-level")
}
