package testutil

import (
	"context"
	"sync/atomic"

	"github.com/hupe1980/localmesh/model"
)

// ScriptedModel emits a fixed token sequence and tracks concurrent
// invocations.
type ScriptedModel struct {
	Name   string
	Tokens []string
	// Hold, when non-nil, blocks every Invoke after the first token until
	// it is closed.
	Hold chan struct{}

	active    atomic.Int64
	maxActive atomic.Int64
	calls     atomic.Int64
}

var _ model.Model = (*ScriptedModel)(nil)

// NewScriptedModel creates a model that streams tokens.
func NewScriptedModel(name string, tokens ...string) *ScriptedModel {
	return &ScriptedModel{Name: name, Tokens: tokens}
}

// Info implements model.Model.
func (m *ScriptedModel) Info() model.Info {
	return model.Info{Name: m.Name, Provider: "test", Kind: model.KindLanguage}
}

// Invoke implements model.Model.
func (m *ScriptedModel) Invoke(ctx context.Context, _ model.Request, onToken func(string)) (model.Result, error) {
	m.calls.Add(1)
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		cur := m.maxActive.Load()
		if n <= cur || m.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	text := ""
	for i, tok := range m.Tokens {
		if err := ctx.Err(); err != nil {
			return model.Result{}, err
		}
		if onToken != nil {
			onToken(tok)
		}
		text += tok
		if i == 0 && m.Hold != nil {
			select {
			case <-m.Hold:
			case <-ctx.Done():
				return model.Result{}, ctx.Err()
			}
		}
	}

	return model.Result{Text: text, FinishReason: "stop"}, nil
}

// Calls returns the number of Invoke calls.
func (m *ScriptedModel) Calls() int { return int(m.calls.Load()) }

// MaxActive returns the highest number of overlapping Invoke calls seen.
func (m *ScriptedModel) MaxActive() int { return int(m.maxActive.Load()) }
