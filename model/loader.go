package model

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"

	"github.com/google/uuid"
)

// Loader describes how to obtain a Model, independent of caching. The
// variant set is closed: ConfigLoader, DirectoryLoader, ConstantLoader and
// NoneLoader.
type Loader interface {
	// Key returns the cache identity. Operationally equivalent loaders
	// return equal keys.
	Key() Key

	// Slug returns a cache independent display name.
	Slug() string

	// Load constructs the model. It may block, e.g. while waiting for a
	// download, and must honor ctx.
	Load(ctx context.Context) (Model, error)
}

// Config is the resolved configuration a model is constructed from.
type Config struct {
	Path        string            `json:"path" yaml:"path"`
	ContextSize int               `json:"context_size,omitempty" yaml:"context_size,omitempty"`
	CorpusDir   string            `json:"corpus_dir,omitempty" yaml:"corpus_dir,omitempty"`
	Params      map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// resolved returns a copy with absolute, cleaned paths so equivalent
// spellings of the same location produce the same key.
func (c Config) resolved() Config {
	out := c
	out.Path = absPath(c.Path)
	out.CorpusDir = absPath(c.CorpusDir)
	return out
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// Factory constructs a model from a resolved configuration. It is the seam
// to the inference engine.
type Factory func(ctx context.Context, cfg Config) (Model, error)

// ConfigLoaderOptions configures a ConfigLoader.
type ConfigLoaderOptions struct {
	// Key overrides the derived cache key when non-zero.
	Key Key
	// Slug overrides the display name (defaults to the file name of Path).
	Slug string
}

// ConfigLoader constructs a model directly from a configuration.
type ConfigLoader struct {
	cfg     Config
	factory Factory
	key     Key
	slug    string
}

var _ Loader = (*ConfigLoader)(nil)

// NewConfigLoader creates a loader for cfg using factory.
func NewConfigLoader(cfg Config, factory Factory, optFns ...func(o *ConfigLoaderOptions)) *ConfigLoader {
	opts := ConfigLoaderOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg = cfg.resolved()

	key := opts.Key
	if key.IsZero() {
		key = NewKey("config", cfg.Path, cfg.ContextSize, cfg.CorpusDir, cfg.Params)
	}

	slug := opts.Slug
	if slug == "" {
		slug = filepath.Base(cfg.Path)
	}

	return &ConfigLoader{cfg: cfg, factory: factory, key: key, slug: slug}
}

// Key implements Loader.
func (l *ConfigLoader) Key() Key { return l.key }

// Slug implements Loader.
func (l *ConfigLoader) Slug() string { return l.slug }

// Config returns the resolved configuration.
func (l *ConfigLoader) Config() Config { return l.cfg }

// Load implements Loader.
func (l *ConfigLoader) Load(ctx context.Context) (Model, error) {
	if l.factory == nil {
		return nil, &LoadError{Slug: l.slug, Err: fmt.Errorf("no factory configured")}
	}
	m, err := l.factory(ctx, l.cfg)
	if err != nil {
		return nil, &LoadError{Slug: l.slug, Err: err}
	}
	return m, nil
}

// ConstantLoader wraps an already loaded handle.
type ConstantLoader struct {
	model Model
	key   Key
}

var _ Loader = (*ConstantLoader)(nil)

// NewConstantLoader creates a loader that always returns m. Loaders wrapping
// the same pointer share a key; non-pointer handles get a per-loader key.
func NewConstantLoader(m Model) *ConstantLoader {
	return &ConstantLoader{model: m, key: identityKey(m)}
}

func identityKey(m Model) Key {
	v := reflect.ValueOf(m)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return NewKey("constant", fmt.Sprintf("%T@%x", m, v.Pointer()))
	default:
		return NewKey("constant", uuid.NewString())
	}
}

// Key implements Loader.
func (l *ConstantLoader) Key() Key { return l.key }

// Slug implements Loader.
func (l *ConstantLoader) Slug() string {
	if l.model == nil {
		return "constant"
	}
	return l.model.Info().Name
}

// Load implements Loader.
func (l *ConstantLoader) Load(context.Context) (Model, error) {
	if l.model == nil {
		return nil, ErrNoModelConfigured
	}
	return l.model, nil
}

// NoneLoader always fails with ErrNoModelConfigured.
type NoneLoader struct{}

var _ Loader = NoneLoader{}

var noneKey = Key{kind: "none"}

// Key implements Loader.
func (NoneLoader) Key() Key { return noneKey }

// Slug implements Loader.
func (NoneLoader) Slug() string { return "none" }

// Load implements Loader.
func (NoneLoader) Load(context.Context) (Model, error) { return nil, ErrNoModelConfigured }
