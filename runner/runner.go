package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/localmesh/core"
	"github.com/hupe1980/localmesh/logging"
	"github.com/hupe1980/localmesh/model"
	"github.com/hupe1980/localmesh/stream"
)

// ErrNoAgent is returned when a Runner has no root agent.
var ErrNoAgent = errors.New("runner: no agent")

// ErrInvocationNotFound is returned by Cancel for unknown ids.
var ErrInvocationNotFound = errors.New("runner: invocation not found")

// Hooks run around the root agent of every invocation.
type Hooks struct {
	// BeforeRun runs before the agent. An error fails the invocation
	// without running the agent.
	BeforeRun func(ic *core.InvocationContext) error
	// AfterRun observes the agent's output and error.
	AfterRun func(ic *core.InvocationContext, output string, err error)
}

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Env is the base environment of every invocation.
	Env core.Environment
	// Logger receives invocation lifecycle messages. It does not change
	// the environment's logger.
	Logger logging.Logger
	// Hooks run around the root agent.
	Hooks Hooks
}

// RunOptions configures a single invocation.
type RunOptions struct {
	// InvocationID overrides the generated id.
	InvocationID string
	// Assets are attached to the root invocation context.
	Assets []model.Asset
	// Env is merged over the runner's environment.
	Env core.Environment
}

// Runner interprets a root agent against an environment: every Run creates
// a fresh bus, runs the agent on its own goroutine and closes the bus with
// the agent's error when it returns. Public methods are safe for
// concurrent use.
type Runner struct {
	agent  core.Agent
	env    core.Environment
	logger logging.Logger
	hooks  Hooks

	active map[string]*Invocation
	mu     sync.RWMutex
}

// New constructs a Runner with optional overrides.
func New(agent core.Agent, optFns ...func(o *Options)) *Runner {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		agent:  agent,
		env:    opts.Env,
		logger: logging.OrNoOp(opts.Logger),
		hooks:  opts.Hooks,
		active: make(map[string]*Invocation),
	}
}

// Agent returns the root agent.
func (r *Runner) Agent() core.Agent { return r.agent }

// Env returns the base environment.
func (r *Runner) Env() core.Environment { return r.env }

// Run starts an asynchronous invocation. Cancelling ctx cancels the
// invocation; the returned Invocation exposes its token streams and result.
func (r *Runner) Run(ctx context.Context, input string, optFns ...func(o *RunOptions)) (*Invocation, error) {
	if r.agent == nil {
		return nil, ErrNoAgent
	}

	opts := RunOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.InvocationID == "" {
		opts.InvocationID = uuid.NewString()
	}

	r.mu.Lock()
	if _, exists := r.active[opts.InvocationID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("runner: invocation %s already running", opts.InvocationID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	bus := stream.NewBus()
	inv := &Invocation{
		ID:     opts.InvocationID,
		Bus:    bus,
		Stream: stream.NewStream[string](bus),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.active[inv.ID] = inv
	r.mu.Unlock()

	env := r.env.Merge(opts.Env)
	env = env.WithLogger(logging.ForInvocation(env.Logger(), inv.ID))
	ic := core.NewInvocationContext(runCtx, inv.ID, agentInfo(r.agent), input, bus, env)
	ic.Assets = append(ic.Assets, opts.Assets...)

	go func() {
		defer cancel()

		start := time.Now()
		out, err := r.execute(ic)

		bus.Close(err)
		logging.Invocation(r.logger, r.agent.Name(), bus.Len(), time.Since(start), err)

		r.mu.Lock()
		delete(r.active, inv.ID)
		r.mu.Unlock()

		inv.finish(out, err)
	}()

	r.logger.Debug("runner.invocation.start", "invocation_id", inv.ID, "agent", r.agent.Name())

	return inv, nil
}

// RunSync runs an invocation and waits for its output.
func (r *Runner) RunSync(ctx context.Context, input string, optFns ...func(o *RunOptions)) (string, error) {
	inv, err := r.Run(ctx, input, optFns...)
	if err != nil {
		return "", err
	}
	return inv.Wait(ctx)
}

// Cancel cancels a running invocation by ID.
func (r *Runner) Cancel(invocationID string) error {
	r.mu.RLock()
	inv, exists := r.active[invocationID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrInvocationNotFound, invocationID)
	}

	inv.Cancel()

	return nil
}

// Active returns the ids of running invocations, sorted.
func (r *Runner) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Runner) execute(ic *core.InvocationContext) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("runner: agent %s panicked: %v", r.agent.Name(), p)
		}
		if r.hooks.AfterRun != nil {
			r.hooks.AfterRun(ic, out, err)
		}
	}()

	if r.hooks.BeforeRun != nil {
		if err := r.hooks.BeforeRun(ic); err != nil {
			return "", err
		}
	}

	return r.agent.Run(ic)
}

func agentInfo(a core.Agent) core.AgentInfo {
	if i, ok := a.(interface{ Info() core.AgentInfo }); ok {
		return i.Info()
	}
	return core.AgentInfo{Name: a.Name(), Type: "custom"}
}
