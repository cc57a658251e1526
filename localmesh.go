// Package localmesh is the high-level façade of the module: one engine, one
// shared model store and the environment that connects them. Most
// applications interact with this package by:
//  1. Creating a LocalMesh via New()
//  2. Prewarming the models they will need (optional)
//  3. Registering agents (model, sequential, parallel, loop, tagged, custom)
//  4. Invoking agents asynchronously (Invoke) or synchronously (InvokeSync)
//
// Every agent invoked through one LocalMesh borrows models from the same
// store, so two agents naming the same model share one loaded instance.
package localmesh

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/localmesh/core"
	"github.com/hupe1980/localmesh/engine"
	"github.com/hupe1980/localmesh/logging"
	"github.com/hupe1980/localmesh/model"
	"github.com/hupe1980/localmesh/runner"
	"github.com/hupe1980/localmesh/store"
)

// Options configures the LocalMesh instance.
type Options struct {
	// EngineConfig tunes the engine (concurrency).
	EngineConfig engine.Config

	// Store is the model store. Defaults to a new store.Store using Logger
	// and StoreObserver.
	Store store.ModelStore

	// StoreObserver receives store events of the default store, e.g. a
	// metrics.Collector.
	StoreObserver store.Observer

	// Env holds further environment defaults (options, namespace, call
	// budget). Its store and logger are replaced by Store and Logger.
	Env core.Environment

	// Callbacks are registered on the engine.
	Callbacks []engine.Callback

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// LocalMesh aggregates the engine and the model store.
type LocalMesh struct {
	opts   Options
	store  store.ModelStore
	engine *engine.Engine
}

// New creates a new LocalMesh instance with optional overrides.
func New(optFns ...func(o *Options)) *LocalMesh {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	if opts.Store == nil {
		opts.Store = store.New(func(o *store.Options) {
			o.Logger = logging.Component(opts.Logger, "store")
			o.Observer = opts.StoreObserver
		})
	}

	env := opts.Env.
		WithModelStore(opts.Store).
		WithLogger(logging.Component(opts.Logger, "agent"))

	e := engine.New(func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Env = env
		o.Logger = logging.Component(opts.Logger, "engine")
		o.Callbacks = opts.Callbacks
	})

	return &LocalMesh{opts: opts, store: opts.Store, engine: e}
}

// Store returns the shared model store.
func (m *LocalMesh) Store() store.ModelStore { return m.store }

// Engine returns the underlying engine.
func (m *LocalMesh) Engine() *engine.Engine { return m.engine }

// RegisterAgent adds an agent to the underlying engine.
func (m *LocalMesh) RegisterAgent(a core.Agent) { m.engine.Register(a) }

// Prewarm loads every loader's model concurrently and returns the joined
// load errors. One failing model does not stop the others.
func (m *LocalMesh) Prewarm(ctx context.Context, loaders ...model.Loader) error {
	errs := make([]error, len(loaders))

	var g errgroup.Group
	for i, l := range loaders {
		g.Go(func() error {
			errs[i] = m.store.Prewarm(ctx, l)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Invoke starts an asynchronous invocation. Consume the invocation's
// streams and call Wait for the output.
func (m *LocalMesh) Invoke(ctx context.Context, agentName, input string, optFns ...func(o *runner.RunOptions)) (*runner.Invocation, error) {
	return m.engine.Invoke(ctx, agentName, input, optFns...)
}

// InvokeSync invokes agentName and waits for its output.
func (m *LocalMesh) InvokeSync(ctx context.Context, agentName, input string, optFns ...func(o *runner.RunOptions)) (string, error) {
	return m.engine.InvokeSync(ctx, agentName, input, optFns...)
}

// Close stops running invocations and releases the store's models when the
// store supports it.
func (m *LocalMesh) Close(ctx context.Context) error {
	err := m.engine.Shutdown(ctx)

	switch s := m.store.(type) {
	case interface{ Close(context.Context) error }:
		err = errors.Join(err, s.Close(ctx))
	case io.Closer:
		err = errors.Join(err, s.Close())
	}

	return err
}
