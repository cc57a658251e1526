package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hupe1980/localmesh/core"
	"github.com/hupe1980/localmesh/model"
	"github.com/hupe1980/localmesh/store"
)

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	// Instruction is prepended to the input. Empty means the input is the
	// whole prompt.
	Instruction Instruction
	// Options override the environment's inference options field by field.
	Options model.Options
	// Assets are sent with every request in addition to the context's.
	Assets []model.Asset
	// Separator joins instruction and input. Defaults to a blank line.
	Separator string
}

// ModelAgent runs one model call per invocation. It borrows the model from
// the store in effect (core.Environment.ModelStore), so every ModelAgent
// naming the same loader key shares one loaded instance and the calls are
// serialized by the store.
//
// Tokens are emitted through the invocation context as they arrive; the
// final text is returned to the caller.
type ModelAgent struct {
	BaseAgent
	loader      model.Loader
	instruction Instruction
	options     model.Options
	assets      []model.Asset
	separator   string
}

// NewModelAgent creates a model agent backed by loader.
func NewModelAgent(name string, loader model.Loader, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{
		Separator: "\n\n",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &ModelAgent{
		BaseAgent:   NewBaseAgent(name, "model"),
		loader:      loader,
		instruction: opts.Instruction,
		options:     opts.Options,
		assets:      opts.Assets,
		separator:   opts.Separator,
	}
}

// NewModelAgentFromModel creates a model agent around an already loaded
// handle. The handle is still accessed through the store so concurrent runs
// are serialized.
func NewModelAgentFromModel(name string, m model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	return NewModelAgent(name, model.NewConstantLoader(m), optFns...)
}

// Loader returns the loader the agent borrows its model through.
func (a *ModelAgent) Loader() model.Loader { return a.loader }

// Prompt assembles the prompt for ic: the resolved instruction followed by
// the input.
func (a *ModelAgent) Prompt(ic *core.InvocationContext) (string, error) {
	instr, err := a.instruction.Resolve(ic)
	if err != nil {
		return "", err
	}

	switch {
	case instr == "":
		return ic.Input, nil
	case ic.Input == "":
		return instr, nil
	default:
		return strings.Join([]string{instr, ic.Input}, a.separator), nil
	}
}

// Run implements core.Agent.
func (a *ModelAgent) Run(ic *core.InvocationContext) (string, error) {
	if a.loader == nil {
		return "", model.ErrNoModelConfigured
	}

	prompt, err := a.Prompt(ic)
	if err != nil {
		ic.LogError("agent.model.prompt_failed", "agent", a.Name(), "error", err)
		return "", err
	}

	if err := ic.Limiter.Acquire(); err != nil {
		return "", err
	}

	req := model.Request{
		Prompt:  prompt,
		Assets:  append(append([]model.Asset(nil), ic.Assets...), a.assets...),
		Options: ic.Env.Options().Merge(a.options),
	}

	ic.LogDebug("agent.model.start", "agent", a.Name(), "model", a.loader.Slug(), "branch", ic.Branch)
	start := time.Now()

	var (
		emitErr error
		tokens  int
	)
	res, err := store.Access(ic.Context, ic.Env.ModelStore(), a.loader, func(ctx context.Context, m model.Model) (model.Result, error) {
		return m.Invoke(ctx, req, func(tok string) {
			tokens++
			if emitErr == nil {
				emitErr = ic.Emit(tok)
			}
		})
	})
	if err == nil {
		err = emitErr
	}

	switch {
	case err == nil:
		ic.LogDebug("agent.model.complete", "agent", a.Name(), "tokens", tokens, "duration", time.Since(start))
	case errors.Is(err, context.Canceled):
		ic.LogDebug("agent.model.cancelled", "agent", a.Name())
	default:
		ic.LogError("agent.model.failed", "agent", a.Name(), "model", a.loader.Slug(), "error", err)
	}

	if err != nil {
		return "", err
	}
	return res.Text, nil
}
