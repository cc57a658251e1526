package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/hupe1980/localmesh"
	"github.com/hupe1980/localmesh/config"
	"github.com/hupe1980/localmesh/core"
	"github.com/hupe1980/localmesh/download"
	"github.com/hupe1980/localmesh/engine"
	"github.com/hupe1980/localmesh/internal/telemetry"
	"github.com/hupe1980/localmesh/logging"
	"github.com/hupe1980/localmesh/metrics"
	"github.com/hupe1980/localmesh/model"
	"github.com/hupe1980/localmesh/model/anthropic"
	"github.com/hupe1980/localmesh/model/openai"
)

// ErrUnknownModel is returned for a model name missing from the config.
var ErrUnknownModel = errors.New("cli: unknown model")

// app holds everything one command invocation needs.
type app struct {
	cfg     *config.Config
	logger  *logging.MeshLogger
	dir     *download.LocalDirectory
	mesh    *localmesh.LocalMesh
	factory model.Factory

	registry        *prometheus.Registry
	metricsSrv      *http.Server
	shutdownTracing telemetry.ShutdownFunc
}

func newApp(ctx context.Context, cfg *config.Config, opts Options, stderr io.Writer) (*app, error) {
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Logger.Level),
		Format: cfg.Logger.Format,
		Output: stderr,
	})

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Tracer.Enabled,
		Exporter:    cfg.Tracer.Exporter,
		SampleRatio: cfg.Tracer.SampleRatio,
		Writer:      stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	dir := download.NewLocalDirectory(cfg.ModelsDir, func(o *download.Options) {
		o.PollInterval = cfg.Download.PollInterval
		o.Logger = logging.Component(logger, "download")
		if cfg.Registry.URL != "" {
			fetcher := download.NewHTTPFetcher(cfg.Registry.URL)
			if rpm := cfg.Registry.RequestsPerMinute; rpm > 0 {
				fetcher.Limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
			}
			o.Fetcher = fetcher
		}
	})

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(cfg.Metrics.Namespace, registry)

	env := core.Environment{}.WithOptions(cfg.Inference)
	if cfg.Engine.MaxModelCalls > 0 {
		env = env.WithMaxModelCalls(cfg.Engine.MaxModelCalls)
	}

	mesh := localmesh.New(func(o *localmesh.Options) {
		o.EngineConfig = engine.Config{MaxConcurrentInvocations: cfg.Engine.MaxConcurrentInvocations}
		o.StoreObserver = collector
		o.Callbacks = collector.Callbacks()
		o.Env = env
		o.Logger = logger
	})

	factory := opts.LocalFactory
	if factory == nil {
		factory = model.MockFactory()
	}

	a := &app{
		cfg:             cfg,
		logger:          logger,
		dir:             dir,
		mesh:            mesh,
		factory:         factory,
		registry:        registry,
		shutdownTracing: shutdownTracing,
	}

	if cfg.Metrics.Enabled {
		a.serveMetrics()
	}

	return a, nil
}

func (a *app) serveMetrics() {
	a.metricsSrv = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "addr", a.cfg.Metrics.Addr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", a.cfg.Metrics.Addr)
}

// slug maps a configured model name to its slug and passes anything else
// through unchanged.
func (a *app) slug(nameOrSlug string) string {
	if m, ok := a.cfg.Model(nameOrSlug); ok && m.Provider == "local" {
		return m.Slug
	}
	return nameOrSlug
}

// loader builds the loader of the configured model name.
func (a *app) loader(name string) (model.Loader, error) {
	m, ok := a.cfg.Model(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}

	switch m.Provider {
	case "local":
		policy, err := a.cfg.DownloadPolicy()
		if err != nil {
			return nil, err
		}
		return model.NewDirectoryLoader(m.Slug, a.dir, a.factory, func(o *model.DirectoryLoaderOptions) {
			if m.ContextSize > 0 {
				o.ContextSize = m.ContextSize
			}
			o.Params = m.Params
			o.Policy = policy
		}), nil
	case "openai":
		var clientOpts []openaiopt.RequestOption
		if m.APIKey != "" {
			clientOpts = append(clientOpts, openaiopt.WithAPIKey(m.APIKey))
		}
		if m.BaseURL != "" {
			clientOpts = append(clientOpts, openaiopt.WithBaseURL(m.BaseURL))
		}
		return model.NewConfigLoader(remoteConfig(m), openai.NewFactory(clientOpts), withSlug(m.Name)), nil
	case "anthropic":
		var clientOpts []anthropicopt.RequestOption
		if m.BaseURL != "" {
			clientOpts = append(clientOpts, anthropicopt.WithBaseURL(m.BaseURL))
		}
		return model.NewConfigLoader(remoteConfig(m), anthropic.NewFactory(clientOpts, func(o *anthropic.Options) {
			o.APIKey = m.APIKey
		}), withSlug(m.Name)), nil
	default:
		return nil, fmt.Errorf("cli: model %q has unknown provider %q", name, m.Provider)
	}
}

func remoteConfig(m config.ModelConfig) model.Config {
	params := map[string]string{
		"provider": m.Provider,
		"model":    m.Model,
		"base_url": m.BaseURL,
		"system":   m.System,
	}
	for k, v := range m.Params {
		params[k] = v
	}
	return model.Config{Params: params}
}

func withSlug(slug string) func(o *model.ConfigLoaderOptions) {
	return func(o *model.ConfigLoaderOptions) { o.Slug = slug }
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.mesh.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.shutdownTracing(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
