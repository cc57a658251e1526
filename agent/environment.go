package agent

import (
	"github.com/hupe1980/localmesh/core"
	"github.com/hupe1980/localmesh/logging"
	"github.com/hupe1980/localmesh/model"
	"github.com/hupe1980/localmesh/store"
)

// EnvAgent runs its child under a modified environment. The modification
// is applied to whatever environment is in effect when the node runs, so
// the same composition can be reused under different parents.
type EnvAgent struct {
	BaseAgent
	child core.Agent
	apply func(core.Environment) core.Environment
}

// WithEnvironment runs child with apply(env) in effect.
func WithEnvironment(child core.Agent, apply func(core.Environment) core.Environment) *EnvAgent {
	return &EnvAgent{
		BaseAgent: NewBaseAgent(child.Name(), "environment"),
		child:     child,
		apply:     apply,
	}
}

// WithEnvironmentOverride runs child with every option set in override
// applied on top of the current environment.
func WithEnvironmentOverride(child core.Agent, override core.Environment) *EnvAgent {
	return WithEnvironment(child, func(env core.Environment) core.Environment { return env.Merge(override) })
}

// Namespaced runs child with ns as the substream namespace.
func Namespaced(ns string, child core.Agent) *EnvAgent {
	return WithEnvironment(child, func(env core.Environment) core.Environment { return env.WithNamespace(ns) })
}

// UseModelStore runs child against s. A nil s disallows model access.
func UseModelStore(s store.ModelStore, child core.Agent) *EnvAgent {
	return WithEnvironment(child, func(env core.Environment) core.Environment { return env.WithModelStore(s) })
}

// DisallowModelAccess runs child with a store that refuses every access.
func DisallowModelAccess(child core.Agent) *EnvAgent {
	return UseModelStore(store.NoOp{}, child)
}

// UseOptions runs child with o merged over the current inference options.
func UseOptions(o model.Options, child core.Agent) *EnvAgent {
	return WithEnvironment(child, func(env core.Environment) core.Environment {
		return env.WithOptions(env.Options().Merge(o))
	})
}

// UseLogger runs child with l as logger.
func UseLogger(l logging.Logger, child core.Agent) *EnvAgent {
	return WithEnvironment(child, func(env core.Environment) core.Environment { return env.WithLogger(l) })
}

// SubAgents returns the wrapped child.
func (e *EnvAgent) SubAgents() []core.Agent { return []core.Agent{e.child} }

// Run implements core.Agent.
func (e *EnvAgent) Run(ic *core.InvocationContext) (string, error) {
	return e.child.Run(ic.WithEnv(e.apply(ic.Env)).WithAgent(infoOf(e.child)))
}
