package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/localmesh/core"
)

// ParallelAgentOptions configures a ParallelAgent.
type ParallelAgentOptions struct {
	// Timeout bounds the whole fan-out. Zero means no timeout.
	Timeout time.Duration
	// MaxConcurrency caps how many children run at once. Zero means all.
	MaxConcurrency int
	// Separator joins the children's outputs. Defaults to "\n".
	Separator string
}

// ParallelAgent coordinates the concurrent execution of multiple child agents.
//
// Every child receives the same input in its own branch. Children that
// share the default stream interleave their tokens there; wrap them in
// Tagged to give each its own substream. The output is the children's
// outputs joined in declaration order.
//
// Successful children continue even if siblings fail; the first error is
// returned after all complete.
type ParallelAgent struct {
	BaseAgent
	children       []core.Agent
	timeout        time.Duration
	maxConcurrency int
	separator      string
}

// NewParallelAgent creates a new parallel execution coordinator.
func NewParallelAgent(name string, children []core.Agent, optFns ...func(o *ParallelAgentOptions)) *ParallelAgent {
	opts := ParallelAgentOptions{
		Separator: "\n",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &ParallelAgent{
		BaseAgent:      NewBaseAgent(name, "parallel"),
		children:       children,
		timeout:        opts.Timeout,
		maxConcurrency: opts.MaxConcurrency,
		separator:      opts.Separator,
	}
}

// SubAgents returns the children in declaration order.
func (p *ParallelAgent) SubAgents() []core.Agent { return p.children }

// Run implements core.Agent.
func (p *ParallelAgent) Run(ic *core.InvocationContext) (string, error) {
	if p.timeout > 0 {
		ctx, cancel := context.WithTimeout(ic.Context, p.timeout)
		defer cancel()
		ic = ic.WithContext(ctx)
	}

	var g errgroup.Group
	if p.maxConcurrency > 0 {
		g.SetLimit(p.maxConcurrency)
	}

	outputs := make([]string, len(p.children))
	for i, child := range p.children {
		g.Go(func() error {
			out, err := runChild(ic, child)
			if err != nil {
				return fmt.Errorf("parallel execution failed for agent %s: %w", child.Name(), err)
			}
			outputs[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	return strings.Join(outputs, p.separator), nil
}
