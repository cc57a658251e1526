package core

import (
	"fmt"

	"github.com/hupe1980/localmesh/logging"
	"github.com/hupe1980/localmesh/model"
	"github.com/hupe1980/localmesh/store"
	"github.com/hupe1980/localmesh/stream"
)

// EnvKey enumerates the options an Environment carries.
type EnvKey int

const (
	EnvModelStore EnvKey = iota
	EnvOptions
	EnvNamespace
	EnvLogger
	EnvMaxModelCalls

	numEnvKeys
)

// String returns the key name.
func (k EnvKey) String() string {
	switch k {
	case EnvModelStore:
		return "model_store"
	case EnvOptions:
		return "options"
	case EnvNamespace:
		return "namespace"
	case EnvLogger:
		return "logger"
	case EnvMaxModelCalls:
		return "max_model_calls"
	default:
		return fmt.Sprintf("EnvKey(%d)", int(k))
	}
}

// EnvKeys returns every key in declaration order.
func EnvKeys() []EnvKey {
	keys := make([]EnvKey, 0, numEnvKeys)
	for k := EnvKey(0); k < numEnvKeys; k++ {
		keys = append(keys, k)
	}
	return keys
}

// Environment is the immutable configuration threaded through an agent
// composition. Unset options fall back to process-wide defaults. The With
// methods return a modified copy and never touch the receiver.
//
//	env := core.Environment{}.WithNamespace("planner").WithOptions(model.Options{MaxTokens: 256})
type Environment struct {
	set uint32

	modelStore    store.ModelStore
	options       model.Options
	namespace     string
	logger        logging.Logger
	maxModelCalls int
}

// IsSet reports whether k was overridden.
func (e Environment) IsSet(k EnvKey) bool { return e.set&(1<<uint(k)) != 0 }

func (e Environment) mark(k EnvKey) Environment {
	e.set |= 1 << uint(k)
	return e
}

// ModelStore returns the active store. Defaults to store.Default().
func (e Environment) ModelStore() store.ModelStore {
	if e.IsSet(EnvModelStore) {
		return e.modelStore
	}
	return store.Default()
}

// Options returns the inference options. Defaults to model.DefaultOptions().
func (e Environment) Options() model.Options {
	if e.IsSet(EnvOptions) {
		return e.options
	}
	return model.DefaultOptions()
}

// Namespace returns the current substream namespace. Defaults to
// stream.DefaultNamespace.
func (e Environment) Namespace() string {
	if e.IsSet(EnvNamespace) {
		return e.namespace
	}
	return stream.DefaultNamespace
}

// Logger returns the logger. Defaults to a no-op logger.
func (e Environment) Logger() logging.Logger {
	if e.IsSet(EnvLogger) {
		return e.logger
	}
	return logging.NoOpLogger{}
}

// MaxModelCalls returns the per-invocation model call budget. Zero means
// unlimited.
func (e Environment) MaxModelCalls() int {
	if e.IsSet(EnvMaxModelCalls) {
		return e.maxModelCalls
	}
	return 0
}

// Get returns the effective value for k.
func (e Environment) Get(k EnvKey) any {
	switch k {
	case EnvModelStore:
		return e.ModelStore()
	case EnvOptions:
		return e.Options()
	case EnvNamespace:
		return e.Namespace()
	case EnvLogger:
		return e.Logger()
	case EnvMaxModelCalls:
		return e.MaxModelCalls()
	default:
		return nil
	}
}

// WithModelStore overrides the store. A nil store disallows model access.
func (e Environment) WithModelStore(s store.ModelStore) Environment {
	if s == nil {
		s = store.NoOp{}
	}
	e.modelStore = s
	return e.mark(EnvModelStore)
}

// WithOptions replaces the inference options.
func (e Environment) WithOptions(o model.Options) Environment {
	o.StopSequences = append([]string(nil), o.StopSequences...)
	e.options = o
	return e.mark(EnvOptions)
}

// WithNamespace overrides the namespace.
func (e Environment) WithNamespace(ns string) Environment {
	e.namespace = ns
	return e.mark(EnvNamespace)
}

// WithLogger overrides the logger.
func (e Environment) WithLogger(l logging.Logger) Environment {
	e.logger = logging.OrNoOp(l)
	return e.mark(EnvLogger)
}

// WithMaxModelCalls overrides the model call budget.
func (e Environment) WithMaxModelCalls(n int) Environment {
	e.maxModelCalls = n
	return e.mark(EnvMaxModelCalls)
}

// Merge returns e with every option set in override applied on top.
func (e Environment) Merge(override Environment) Environment {
	if override.IsSet(EnvModelStore) {
		e = e.WithModelStore(override.modelStore)
	}
	if override.IsSet(EnvOptions) {
		e = e.WithOptions(override.options)
	}
	if override.IsSet(EnvNamespace) {
		e = e.WithNamespace(override.namespace)
	}
	if override.IsSet(EnvLogger) {
		e = e.WithLogger(override.logger)
	}
	if override.IsSet(EnvMaxModelCalls) {
		e = e.WithMaxModelCalls(override.maxModelCalls)
	}
	return e
}
