// Package engine hosts named agents and invokes them with bounded
// concurrency.
//
// # Responsibilities
//
//   - Thread-safe agent registry with name-based lookup
//   - Asynchronous (Invoke) and synchronous (InvokeSync) execution
//   - A cap on simultaneously running invocations; Invoke waits for a free
//     slot or for its context to end
//   - Cancellation of single invocations (StopInvocation) and of all of
//     them (Shutdown)
//   - Lifecycle callbacks (before agent, after agent, on error)
//
// Each registered agent gets a runner.Runner sharing the engine's base
// environment, so every invocation borrows models from the same store:
//
//	s := store.New()
//	e := engine.New(func(o *engine.Options) {
//		o.Env = core.Environment{}.WithModelStore(s)
//	})
//	e.Register(agent.NewModelAgent("assistant", loader))
//	out, err := e.InvokeSync(ctx, "assistant", "hello")
package engine
