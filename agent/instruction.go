package agent

import (
	"github.com/hupe1980/localmesh/core"
	"github.com/hupe1980/localmesh/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from the input, environment, etc.
type Provider interface {
	Instruction(*core.InvocationContext) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(*core.InvocationContext) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(ic *core.InvocationContext) (string, error) { return f(ic) }

// Instruction represents either a static instruction string, a template or
// a dynamic provider.
//
// Templates use text/template syntax and see the variables input, agent,
// namespace, branch and invocation_id:
//
//	agent.NewInstructionFromTemplate("Summarize for {{.namespace}}: {{.input}}")
type Instruction struct {
	text     string
	template bool
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromTemplate creates an Instruction rendered against the
// invocation context on every run.
func NewInstructionFromTemplate(text string) Instruction {
	return Instruction{text: text, template: true}
}

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(*core.InvocationContext) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil && !i.template }

// IsZero reports whether the instruction yields nothing.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the instruction text, rendering or invoking the provider
// if needed.
func (i Instruction) Resolve(ic *core.InvocationContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ic)
	}
	if i.template {
		return util.RenderTemplate(i.text, templateData(ic))
	}
	return i.text, nil
}

func templateData(ic *core.InvocationContext) map[string]any {
	return map[string]any{
		"input":         ic.Input,
		"agent":         ic.Agent.Name,
		"namespace":     ic.Env.Namespace(),
		"branch":        ic.Branch,
		"invocation_id": ic.InvocationID,
	}
}
