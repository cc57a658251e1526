package agent

import "github.com/hupe1980/localmesh/core"

// FuncAgent adapts a plain function to core.Agent. The function may emit
// tokens through ic and returns its output.
type FuncAgent struct {
	BaseAgent
	fn func(ic *core.InvocationContext) (string, error)
}

// NewFuncAgent wraps fn as an agent.
func NewFuncAgent(name string, fn func(ic *core.InvocationContext) (string, error)) *FuncAgent {
	return &FuncAgent{BaseAgent: NewBaseAgent(name, "func"), fn: fn}
}

// Run implements core.Agent.
func (f *FuncAgent) Run(ic *core.InvocationContext) (string, error) { return f.fn(ic) }

// Echo returns an agent that emits its input as a single token and returns
// it unchanged.
func Echo(name string) *FuncAgent {
	return NewFuncAgent(name, func(ic *core.InvocationContext) (string, error) {
		if ic.Input != "" {
			if err := ic.Emit(ic.Input); err != nil {
				return "", err
			}
		}
		return ic.Input, nil
	})
}
