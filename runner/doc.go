// Package runner executes a root agent against an environment.
//
// Each Run creates an Invocation with its own token bus. The caller consumes
// the default stream (Invocation.Stream) or resolves substreams from
// Invocation.Bus while the agent runs on a separate goroutine, then collects
// the final output with Wait:
//
//	r := runner.New(root, func(o *runner.Options) { o.Env = env })
//	inv, err := r.Run(ctx, "plan a trip")
//	if err != nil {
//		return err
//	}
//	plan, err := stream.Resolve[Plan](ctx, inv.Bus, "plan", "")
//	...
//	out, err := inv.Wait(ctx)
package runner
