package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hupe1980/localmesh/model"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg and returns a *ValidationError listing every problem.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateStorage(cfg, ve)
	validateEngine(cfg, ve)
	validateModels(cfg, ve)
	validateObservability(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateStorage(cfg *Config, ve *ValidationError) {
	if cfg.ModelsDir == "" {
		ve.Add("models_dir is required")
	}
	if cfg.Registry.URL != "" {
		u, err := url.Parse(cfg.Registry.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			ve.Add("registry.url %q must be an absolute http(s) URL", cfg.Registry.URL)
		}
	}
	if cfg.Registry.RequestsPerMinute < 0 {
		ve.Add("registry.requests_per_minute must be >= 0")
	}
	if _, err := model.ParseDownloadMode(cfg.Download.Mode); err != nil {
		ve.Add("download.mode %q is unknown", cfg.Download.Mode)
	}
	if cfg.Download.Timeout < 0 {
		ve.Add("download.timeout must be >= 0")
	}
	if cfg.Download.PollInterval <= 0 {
		ve.Add("download.poll_interval must be > 0")
	}
}

func validateEngine(cfg *Config, ve *ValidationError) {
	if cfg.Engine.MaxConcurrentInvocations <= 0 {
		ve.Add("engine.max_concurrent_invocations must be > 0")
	}
	if cfg.Engine.MaxModelCalls < 0 {
		ve.Add("engine.max_model_calls must be >= 0")
	}
	if cfg.Inference.MaxTokens < 0 {
		ve.Add("inference.max_tokens must be >= 0")
	}
	if cfg.Inference.Temperature < 0 || cfg.Inference.Temperature > 2 {
		ve.Add("inference.temperature must be within [0, 2]")
	}
}

func validateModels(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool, len(cfg.Models))
	for i, m := range cfg.Models {
		if m.Name == "" {
			ve.Add("models[%d].name is required", i)
		} else if seen[m.Name] {
			ve.Add("models[%d].name %q is duplicated", i, m.Name)
		}
		seen[m.Name] = true

		switch m.Provider {
		case "local":
			if m.Slug == "" {
				ve.Add("models[%d].slug is required for provider local", i)
			}
		case "openai", "anthropic":
			if m.Model == "" {
				ve.Add("models[%d].model is required for provider %s", i, m.Provider)
			}
		default:
			ve.Add("models[%d].provider %q is unknown", i, m.Provider)
		}
	}
}

func validateObservability(cfg *Config, ve *ValidationError) {
	switch cfg.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		ve.Add("logger.level %q is unknown", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "json", "text":
	default:
		ve.Add("logger.format %q is unknown", cfg.Logger.Format)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		ve.Add("metrics.addr is required when metrics are enabled")
	}
	if cfg.Tracer.Enabled {
		switch cfg.Tracer.Exporter {
		case "stdout", "noop":
		default:
			ve.Add("tracer.exporter %q is unknown", cfg.Tracer.Exporter)
		}
	}
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be within [0, 1]")
	}
}
