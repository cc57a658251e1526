package agent

import (
	"fmt"

	"github.com/hupe1980/localmesh/core"
)

// BaseAgent bundles identity shared by every agent in this package. Embed it
// in concrete agent implementations and supply a Run method to satisfy the
// core.Agent interface.
type BaseAgent struct {
	name        string // Human-readable name
	description string // Detailed description of agent's purpose
	typ         string // Implementation category reported in AgentInfo
}

// NewBaseAgent constructs a BaseAgent with generated description (customizable via SetDescription).
func NewBaseAgent(name, typ string) BaseAgent {
	return BaseAgent{
		name:        name,
		description: fmt.Sprintf("Agent %s", name),
		typ:         typ,
	}
}

// Name returns the human-readable name for this agent.
func (b *BaseAgent) Name() string { return b.name }

// Description returns a detailed description of this agent's purpose.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the agent's description.
func (b *BaseAgent) SetDescription(desc string) { b.description = desc }

// Info returns the identity recorded in invocation contexts.
func (b *BaseAgent) Info() core.AgentInfo { return core.AgentInfo{Name: b.name, Type: b.typ} }

// Composite is implemented by agents that wrap other agents.
type Composite interface {
	core.Agent
	SubAgents() []core.Agent
}

// FindAgent searches root and its descendants depth-first for an agent with
// the given name.
func FindAgent(root core.Agent, name string) core.Agent {
	if root == nil {
		return nil
	}
	if root.Name() == name {
		return root
	}
	c, ok := root.(Composite)
	if !ok {
		return nil
	}
	for _, sub := range c.SubAgents() {
		if found := FindAgent(sub, name); found != nil {
			return found
		}
	}
	return nil
}

// infoOf returns the AgentInfo of a, falling back to a generic type for
// agents defined outside this package.
func infoOf(a core.Agent) core.AgentInfo {
	if i, ok := a.(interface{ Info() core.AgentInfo }); ok {
		return i.Info()
	}
	return core.AgentInfo{Name: a.Name(), Type: "custom"}
}

// runChild runs a with a child context of ic whose branch is extended by the
// child's name.
func runChild(ic *core.InvocationContext, a core.Agent) (string, error) {
	info := infoOf(a)
	return a.Run(ic.Child(info, info.Name))
}
