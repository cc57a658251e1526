package agent

import (
	"fmt"

	"github.com/hupe1980/localmesh/core"
)

// SequentialAgent coordinates the execution of multiple child agents in sequence.
//
// Each child receives the previous child's output as its input, so a
// sequence reads as a pipeline:
//
//	agent.NewSequentialAgent("pipeline", draft, critique, rewrite)
//
// Execution stops at the first error. The output of the last child is the
// output of the sequence.
type SequentialAgent struct {
	BaseAgent              // Embedded base agent functionality
	children  []core.Agent // Child agents to execute in sequence
}

// NewSequentialAgent creates a new sequential execution coordinator.
func NewSequentialAgent(name string, children ...core.Agent) *SequentialAgent {
	return &SequentialAgent{
		BaseAgent: NewBaseAgent(name, "sequential"),
		children:  children,
	}
}

// SubAgents returns the children in execution order.
func (s *SequentialAgent) SubAgents() []core.Agent { return s.children }

// Run implements core.Agent.
func (s *SequentialAgent) Run(ic *core.InvocationContext) (string, error) {
	output := ic.Input
	for i, child := range s.children {
		if err := ic.Err(); err != nil {
			return output, err
		}

		ic.LogDebug("agent.sequential.step", "agent", s.Name(), "step", i+1, "child", child.Name())

		out, err := runChild(ic.WithInput(output), child)
		if err != nil {
			return output, fmt.Errorf("sequential step %d (%s) failed: %w", i+1, child.Name(), err)
		}
		output = out
	}

	return output, nil
}
