package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/localmesh/core"
	"github.com/hupe1980/localmesh/logging"
	"github.com/hupe1980/localmesh/runner"
)

// ErrAgentNotFound is returned by Invoke for unregistered agent names.
var ErrAgentNotFound = errors.New("engine: agent not found")

// Config defines tuning parameters for the Engine's operational behavior.
type Config struct {
	// MaxConcurrentInvocations limits the number of agent invocations that
	// can execute simultaneously. Invoke blocks while the limit is reached.
	// Set to 0 for unlimited.
	MaxConcurrentInvocations int
}

// DefaultConfig provides default configuration values.
var DefaultConfig = Config{
	MaxConcurrentInvocations: 10,
}

// Options configures an Engine instance using the functional options pattern.
//
// Example:
//
//	e := engine.New(func(o *engine.Options) {
//		o.Config.MaxConcurrentInvocations = 4
//		o.Env = core.Environment{}.WithModelStore(s)
//		o.Logger = logger
//	})
type Options struct {
	// Config contains operational parameters for the engine behavior.
	// Defaults to DefaultConfig if not specified.
	Config Config

	// Env is the base environment of every invocation.
	Env core.Environment

	// Logger provides structured logging for debugging and monitoring.
	// Defaults to NoOp logger if nil.
	Logger logging.Logger

	// Callbacks are registered at construction.
	Callbacks []Callback
}

// Engine is a registry of named agents that invokes them with bounded
// concurrency.
//
// Concurrency Model:
//   - Thread-safe agent registration and lookup via RWMutex
//   - Bounded concurrent invocations through a weighted semaphore
//   - Per-invocation goroutines with cancellation propagation
//
// Example Usage:
//
//	e := engine.New()
//	e.Register(assistant)
//
//	inv, err := e.Invoke(ctx, "assistant", "hello")
//	if err != nil {
//		return err
//	}
//	text, err := inv.Stream.Text(ctx)
//	...
//	out, err := inv.Wait(ctx)
type Engine struct {
	env       core.Environment
	logger    logging.Logger
	config    Config
	callbacks *CallbackManager
	slots     *semaphore.Weighted

	agents map[string]*runner.Runner
	mu     sync.RWMutex

	activeInvocations map[string]*runner.Invocation
	invocationsMu     sync.RWMutex
	wg                sync.WaitGroup

	metadata sync.Map // invocation id -> map[string]any
}

// New creates a new Engine instance with sensible defaults and optional configuration.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	e := &Engine{
		env:               opts.Env,
		logger:            logging.OrNoOp(opts.Logger),
		config:            opts.Config,
		callbacks:         NewCallbackManager(),
		agents:            make(map[string]*runner.Runner),
		activeInvocations: make(map[string]*runner.Invocation),
	}
	if n := opts.Config.MaxConcurrentInvocations; n > 0 {
		e.slots = semaphore.NewWeighted(int64(n))
	}
	for _, cb := range opts.Callbacks {
		e.callbacks.RegisterCallback(cb)
	}

	return e
}

// Env returns the base environment.
func (e *Engine) Env() core.Environment { return e.env }

// RegisterCallback adds a lifecycle callback.
func (e *Engine) RegisterCallback(cb Callback) { e.callbacks.RegisterCallback(cb) }

// Register adds an agent to the engine's registry, making it available for
// invocation by its name. An agent with the same name is replaced.
func (e *Engine) Register(a core.Agent) {
	r := runner.New(a, func(o *runner.Options) {
		o.Env = e.env
		o.Logger = e.logger
		o.Hooks = runner.Hooks{
			BeforeRun: func(ic *core.InvocationContext) error { return e.beforeAgent(a, ic) },
			AfterRun: func(ic *core.InvocationContext, out string, err error) {
				e.afterAgent(a, ic, out, err)
			},
		}
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents[a.Name()] = r
}

// GetAgent retrieves a registered agent by name.
func (e *Engine) GetAgent(name string) (core.Agent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.agents[name]
	if !ok {
		return nil, false
	}
	return r.Agent(), true
}

// Agents returns the registered agent names, sorted.
func (e *Engine) Agents() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.agents))
	for name := range e.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke starts agentName asynchronously. It blocks while
// MaxConcurrentInvocations invocations are running and fails with ctx's
// error when ctx ends first. Consume the returned invocation's streams and
// call Wait for the result.
func (e *Engine) Invoke(ctx context.Context, agentName, input string, optFns ...func(o *runner.RunOptions)) (*runner.Invocation, error) {
	e.mu.RLock()
	r, ok := e.agents[agentName]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentName)
	}

	if e.slots != nil {
		if err := e.slots.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}

	inv, err := r.Run(ctx, input, optFns...)
	if err != nil {
		e.release()
		return nil, err
	}

	e.invocationsMu.Lock()
	e.activeInvocations[inv.ID] = inv
	e.invocationsMu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		<-inv.Done()

		e.invocationsMu.Lock()
		delete(e.activeInvocations, inv.ID)
		e.invocationsMu.Unlock()

		e.release()
	}()

	return inv, nil
}

func (e *Engine) release() {
	if e.slots != nil {
		e.slots.Release(1)
	}
}

// InvokeSync invokes agentName and waits for its output.
func (e *Engine) InvokeSync(ctx context.Context, agentName, input string, optFns ...func(o *runner.RunOptions)) (string, error) {
	inv, err := e.Invoke(ctx, agentName, input, optFns...)
	if err != nil {
		return "", err
	}
	return inv.Wait(ctx)
}

// StopInvocation cancels a running invocation by its ID.
func (e *Engine) StopInvocation(invocationID string) error {
	e.invocationsMu.RLock()
	inv, exists := e.activeInvocations[invocationID]
	e.invocationsMu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", runner.ErrInvocationNotFound, invocationID)
	}

	inv.Cancel()
	return nil
}

// ActiveInvocations returns the ids of running invocations, sorted.
func (e *Engine) ActiveInvocations() []string {
	e.invocationsMu.RLock()
	defer e.invocationsMu.RUnlock()

	ids := make([]string, 0, len(e.activeInvocations))
	for id := range e.activeInvocations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown cancels every running invocation and waits for them to finish
// or for ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.invocationsMu.RLock()
	for _, inv := range e.activeInvocations {
		inv.Cancel()
	}
	e.invocationsMu.RUnlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) beforeAgent(a core.Agent, ic *core.InvocationContext) error {
	meta := map[string]any{}
	e.metadata.Store(ic.InvocationID, meta)

	return e.callbacks.ExecuteCallbacks(ic.Context, CallbackBeforeAgent, &CallbackContext{
		InvocationContext: ic,
		AgentName:         a.Name(),
		Metadata:          meta,
	})
}

func (e *Engine) afterAgent(a core.Agent, ic *core.InvocationContext, out string, err error) {
	meta := map[string]any{}
	if v, ok := e.metadata.LoadAndDelete(ic.InvocationID); ok {
		meta = v.(map[string]any)
	}

	cbCtx := &CallbackContext{
		InvocationContext: ic,
		AgentName:         a.Name(),
		Output:            out,
		Err:               err,
		Metadata:          meta,
	}

	// The invocation context may already be cancelled; callbacks still run.
	ctx := context.WithoutCancel(ic.Context)

	if cbErr := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterAgent, cbCtx); cbErr != nil {
		e.logger.Warn("engine.callback.failed", "agent", a.Name(), "invocation_id", ic.InvocationID, "error", cbErr)
	}
	if err == nil {
		return
	}
	if cbErr := e.callbacks.ExecuteCallbacks(ctx, CallbackOnError, cbCtx); cbErr != nil {
		e.logger.Warn("engine.callback.failed", "agent", a.Name(), "invocation_id", ic.InvocationID, "error", cbErr)
	}
}
