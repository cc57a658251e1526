// Package config loads the YAML configuration of the localmesh CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/localmesh/model"
)

// Config is the top-level CLI configuration.
type Config struct {
	ModelsDir string         `yaml:"models_dir"`
	Registry  RegistryConfig `yaml:"registry"`
	Download  DownloadConfig `yaml:"download"`
	Inference model.Options  `yaml:"inference"`
	Engine    EngineConfig   `yaml:"engine"`
	Models    []ModelConfig  `yaml:"models"`
	Logger    LoggerConfig   `yaml:"logger"`
	Metrics   MetricsConfig  `yaml:"metrics"`
	Tracer    TracerConfig   `yaml:"tracer"`
}

// RegistryConfig locates the HTTP registry weights are pulled from.
type RegistryConfig struct {
	URL string `yaml:"url"`
	// RequestsPerMinute throttles pulls. Zero is unlimited.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// DownloadConfig is the download policy of directory backed models.
type DownloadConfig struct {
	// Mode is "default", "no-download" or "wait-for-download".
	Mode         string        `yaml:"mode"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// EngineConfig bounds invocation concurrency.
type EngineConfig struct {
	MaxConcurrentInvocations int `yaml:"max_concurrent_invocations"`
	MaxModelCalls            int `yaml:"max_model_calls"`
}

// ModelConfig declares a named model.
type ModelConfig struct {
	Name string `yaml:"name"`
	// Provider is "local", "openai" or "anthropic".
	Provider    string            `yaml:"provider"`
	Slug        string            `yaml:"slug,omitempty"`
	ContextSize int               `yaml:"context_size,omitempty"`
	Model       string            `yaml:"model,omitempty"`
	APIKey      string            `yaml:"api_key,omitempty"`
	BaseURL     string            `yaml:"base_url,omitempty"`
	System      string            `yaml:"system,omitempty"`
	Params      map[string]string `yaml:"params,omitempty"`
}

// LoggerConfig selects level and format of the CLI logger.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// TracerConfig controls OpenTelemetry tracing.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

func defaultModelsDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "localmesh", "models")
	}
	return filepath.Join(".", "models")
}

// Defaults returns the configuration used when no file exists.
func Defaults() *Config {
	return &Config{
		ModelsDir: defaultModelsDir(),
		Download: DownloadConfig{
			Mode:         "default",
			Timeout:      10 * time.Minute,
			PollInterval: 500 * time.Millisecond,
		},
		Inference: model.DefaultOptions(),
		Engine: EngineConfig{
			MaxConcurrentInvocations: 10,
		},
		Logger: LoggerConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{
			Addr:      ":9090",
			Namespace: "localmesh",
		},
		Tracer: TracerConfig{Exporter: "stdout", SampleRatio: 1},
	}
}

// Load reads a YAML config file on top of Defaults, expands ${VAR}
// references and validates the result. A missing file yields the
// validated defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Model returns the model named name.
func (c *Config) Model(name string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// DownloadPolicy converts the download section into a model.DownloadPolicy.
func (c *Config) DownloadPolicy() (model.DownloadPolicy, error) {
	mode, err := model.ParseDownloadMode(c.Download.Mode)
	if err != nil {
		return model.DownloadPolicy{}, err
	}
	return model.DownloadPolicy{Mode: mode, Timeout: c.Download.Timeout}, nil
}
