package core

// Agent is a unit that transforms an input into streamed output.
//
// Run emits tokens through the InvocationContext while it works and returns
// its final text, which composites feed to the next step. Agents are plain
// values: they read the environment from the context when they run, so the
// same agent can be reused under different environments.
//
// Implementations must respect cancellation of ic.Context.
type Agent interface {
	Name() string
	Description() string
	Run(ic *InvocationContext) (string, error)
}

// AgentInfo carries identifying details about an agent used in contexts and
// logs. Type categorizes the implementation (e.g. "model", "sequential").
type AgentInfo struct{ Name, Type string }
