package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/localmesh/core"
)

// ErrEscalated is returned by a child agent to end the enclosing loop early.
// The loop treats it as a normal termination, not a failure.
var ErrEscalated = errors.New("child agent escalated")

// LoopAgent coordinates the repeated execution of a child agent.
//
// The loop ends when any of these holds:
//   - maxIters iterations ran
//   - the predicate accepts an iteration's output
//   - the child returns an error wrapping ErrEscalated
//   - the child fails and stopOnError is set
//   - the context is cancelled
//
// With feedback enabled each iteration receives the previous output as its
// input; otherwise every iteration sees the loop's input. The output of the
// last successful iteration is the loop's output.
type LoopAgent struct {
	BaseAgent
	child       core.Agent
	maxIters    int
	interval    time.Duration
	stopOnError bool
	feedback    bool
	predicate   func(string) bool
}

// NewLoopAgent constructs a looping coordinator around a child agent.
// Defaults: 100 iterations, no interval, stop on first error, no feedback.
func NewLoopAgent(name string, child core.Agent, opts ...LoopOption) *LoopAgent {
	la := &LoopAgent{
		BaseAgent:   NewBaseAgent(name, "loop"),
		child:       child,
		maxIters:    100,
		stopOnError: true,
	}

	for _, o := range opts {
		o(la)
	}

	return la
}

// LoopOption defines a configuration function for customizing LoopAgent behavior.
type LoopOption func(*LoopAgent)

// WithMaxIters sets the maximum number of iterations for the loop.
func WithMaxIters(n int) LoopOption {
	return func(l *LoopAgent) { l.maxIters = n }
}

// WithInterval sets the time delay between loop iterations.
func WithInterval(d time.Duration) LoopOption {
	return func(l *LoopAgent) { l.interval = d }
}

// WithStopOnError controls whether a failing iteration ends the loop.
func WithStopOnError(stop bool) LoopOption {
	return func(l *LoopAgent) { l.stopOnError = stop }
}

// WithFeedback feeds each iteration's output into the next iteration.
func WithFeedback() LoopOption {
	return func(l *LoopAgent) { l.feedback = true }
}

// WithPredicate sets a custom termination condition based on output.
//
// Example:
//
//	WithPredicate(func(output string) bool {
//	    return strings.Contains(output, "COMPLETE")
//	})
func WithPredicate(pred func(string) bool) LoopOption {
	return func(l *LoopAgent) { l.predicate = pred }
}

// SubAgents returns the looped child.
func (l *LoopAgent) SubAgents() []core.Agent { return []core.Agent{l.child} }

// Run implements core.Agent.
func (l *LoopAgent) Run(ic *core.InvocationContext) (string, error) {
	input := ic.Input
	var output string

	for i := 0; i < l.maxIters; i++ {
		if err := ic.Err(); err != nil {
			return output, err
		}

		ic.LogDebug("agent.loop.iteration", "agent", l.Name(), "iteration", i+1)

		out, err := runChild(ic.WithInput(input), l.child)
		if errors.Is(err, ErrEscalated) {
			ic.LogDebug("agent.loop.escalated", "agent", l.Name(), "iteration", i+1)
			return output, nil
		}
		if err != nil {
			if l.stopOnError {
				return output, fmt.Errorf("loop iteration %d failed for agent %s: %w", i+1, l.child.Name(), err)
			}
			ic.LogWarn("agent.loop.iteration_failed", "agent", l.Name(), "iteration", i+1, "error", err)
		} else {
			output = out
			if l.feedback {
				input = out
			}
			if l.predicate != nil && l.predicate(out) {
				ic.LogDebug("agent.loop.predicate_met", "agent", l.Name(), "iteration", i+1)
				return output, nil
			}
		}

		if l.interval > 0 && i < l.maxIters-1 {
			t := time.NewTimer(l.interval)
			select {
			case <-ic.Done():
				t.Stop()
				return output, ic.Err()
			case <-t.C:
			}
		}
	}

	return output, nil
}
