// Package agent contains the composable agents of localmesh. The package
// focuses on three concerns:
//
//  1. Model-backed work (ModelAgent) that borrows its model from the store
//     in effect and streams tokens while it runs
//  2. Coordination patterns (SequentialAgent, ParallelAgent, LoopAgent,
//     FuncAgent)
//  3. Routing and environment nodes: Tagged sends a child's tokens into a
//     typed substream; WithEnvironment, Namespaced, UseModelStore and
//     UseOptions change the environment for a subtree
//
// Agents are plain values. They read the environment from the invocation
// context when they run, so one composition can be reused under different
// stores, namespaces and options:
//
//	planner := agent.NewModelAgent("planner", loader, func(o *agent.ModelAgentOptions) {
//		o.Instruction = agent.NewInstructionFromText("Reply with a JSON plan.")
//	})
//	root := agent.NewSequentialAgent("root",
//		agent.Namespaced("team-a", agent.Tagged[Plan]("plan", planner)),
//		writer,
//	)
package agent
