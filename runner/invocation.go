package runner

import (
	"context"

	"github.com/hupe1980/localmesh/stream"
)

// Invocation is a running or finished agent run.
//
// Bus carries every token produced by the run; Stream is its default
// stream, and substreams are resolved from Bus with stream.Resolve. The bus
// closes when the root agent returns, with the agent's error.
type Invocation struct {
	ID     string
	Bus    *stream.Bus
	Stream *stream.Stream[string]

	cancel context.CancelFunc
	done   chan struct{}
	output string
	err    error
}

func (inv *Invocation) finish(output string, err error) {
	inv.output, inv.err = output, err
	close(inv.done)
}

// Done returns a channel closed when the run finished.
func (inv *Invocation) Done() <-chan struct{} { return inv.done }

// Cancel cancels the run. The agent observes the cancellation through its
// context.
func (inv *Invocation) Cancel() { inv.cancel() }

// Wait blocks until the run finished and returns the root agent's output.
// Cancelling ctx stops waiting but not the run.
func (inv *Invocation) Wait(ctx context.Context) (string, error) {
	select {
	case <-inv.done:
		return inv.output, inv.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
