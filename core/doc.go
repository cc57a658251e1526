// Package core provides the foundational types shared by agents and
// executors:
//
//   - Agent, the unit of work, and AgentInfo
//   - Environment, the immutable configuration bag (model store, inference
//     options, namespace, logger, model call budget) with copy-on-override
//   - InvocationContext, the per-run execution scope that routes tokens to a
//     stream.Bus
//   - ModelLimiter, the per-invocation model call budget
//
// Concrete agents live in package agent; runner and engine execute them.
package core
