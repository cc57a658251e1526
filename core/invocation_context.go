package core

import (
	"context"

	"github.com/google/uuid"

	"github.com/hupe1980/localmesh/logging"
	"github.com/hupe1980/localmesh/model"
	"github.com/hupe1980/localmesh/stream"
)

// InvocationContext carries the execution scope of one agent run:
//   - the ambient cancellation Context
//   - identifiers (InvocationID, Agent info, Branch)
//   - the input text and asset references
//   - the Environment in effect
//   - the Bus and the Emitter that routes this agent's tokens
//   - the shared model call Limiter
//
// Derivation methods (WithAgent, WithEnv, WithInput, WithEmitter,
// WithContext, Child) return a copy and never mutate the receiver, so
// composites can hand isolated contexts to their children.
type InvocationContext struct {
	Context      context.Context
	InvocationID string
	Agent        AgentInfo
	Input        string
	Assets       []model.Asset
	Env          Environment
	Bus          *stream.Bus
	Branch       string
	Limiter      *ModelLimiter

	emitter *stream.Emitter
	*loggerAdapter
}

// NewInvocationContext creates a root context. Tokens emitted through it go
// to the bus's default stream under a fresh message id.
func NewInvocationContext(
	ctx context.Context,
	invocationID string,
	agent AgentInfo,
	input string,
	bus *stream.Bus,
	env Environment,
) *InvocationContext {
	return &InvocationContext{
		Context:       ctx,
		InvocationID:  invocationID,
		Agent:         agent,
		Input:         input,
		Env:           env,
		Bus:           bus,
		Limiter:       NewModelLimiter(env.MaxModelCalls()),
		emitter:       stream.NewEmitter[string](bus, uuid.NewString(), "", ""),
		loggerAdapter: newLoggerAdapter(env.Logger()),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (ic *InvocationContext) Done() <-chan struct{} { return ic.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (ic *InvocationContext) Err() error { return ic.Context.Err() }

// MessageID returns the id tokens from this context are produced under.
func (ic *InvocationContext) MessageID() string { return ic.emitter.MessageID() }

// Emitter returns the emitter tokens from this context are routed through.
func (ic *InvocationContext) Emitter() *stream.Emitter { return ic.emitter }

// Emit pushes one token to the current route.
func (ic *InvocationContext) Emit(text string) error { return ic.emitter.Emit(text) }

// Clone returns a shallow copy. The Bus and Limiter stay shared.
func (ic *InvocationContext) Clone() *InvocationContext {
	c := *ic
	c.Assets = append([]model.Asset(nil), ic.Assets...)
	return &c
}

// WithAgent derives a context for running agent a.
func (ic *InvocationContext) WithAgent(a AgentInfo) *InvocationContext {
	c := ic.Clone()
	c.Agent = a
	return c
}

// WithEnv derives a context with env in effect.
func (ic *InvocationContext) WithEnv(env Environment) *InvocationContext {
	c := ic.Clone()
	c.Env = env
	c.loggerAdapter = newLoggerAdapter(env.Logger())
	return c
}

// WithInput derives a context with a different input.
func (ic *InvocationContext) WithInput(input string) *InvocationContext {
	c := ic.Clone()
	c.Input = input
	return c
}

// WithEmitter derives a context that routes its tokens through e.
func (ic *InvocationContext) WithEmitter(e *stream.Emitter) *InvocationContext {
	c := ic.Clone()
	c.emitter = e
	return c
}

// WithContext derives a context bound to ctx.
func (ic *InvocationContext) WithContext(ctx context.Context) *InvocationContext {
	c := ic.Clone()
	c.Context = ctx
	return c
}

// Child derives the context for a child agent and extends the branch path
// when branch is non-empty.
func (ic *InvocationContext) Child(a AgentInfo, branch string) *InvocationContext {
	c := ic.WithAgent(a)
	if branch != "" {
		if c.Branch == "" {
			c.Branch = branch
		} else {
			c.Branch = c.Branch + "." + branch
		}
	}
	return c
}

// Logger returns the environment's logger.
func (ic *InvocationContext) Logger() logging.Logger { return ic.loggerAdapter.Logger() }
