package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MockModel is a lightweight in-memory Model useful for tests & examples.
// It streams its completion one rune at a time.
type MockModel struct {
	info Info

	mu        sync.RWMutex
	responses map[string]string
	delay     time.Duration

	calls  atomic.Int64
	closed atomic.Bool
}

var _ Model = (*MockModel)(nil)

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:     name,
			Provider: provider,
			Kind:     KindLanguage,
		},
		responses: make(map[string]string),
	}
}

// MockFactory returns a Factory producing a fresh MockModel named after the
// configured path.
func MockFactory() Factory {
	return func(_ context.Context, cfg Config) (Model, error) {
		return NewMockModel(cfg.Path, "mock"), nil
	}
}

// AddResponse registers a deterministic canned completion for a prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// SetTokenDelay makes Invoke sleep between tokens.
func (m *MockModel) SetTokenDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns the number of Invoke calls so far.
func (m *MockModel) Calls() int { return int(m.calls.Load()) }

// Closed reports whether Close was called.
func (m *MockModel) Closed() bool { return m.closed.Load() }

// Close releases the handle. Invoking a closed MockModel fails.
func (m *MockModel) Close() error {
	m.closed.Store(true)
	return nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

// Invoke implements Model.
func (m *MockModel) Invoke(ctx context.Context, req Request, onToken func(token string)) (Result, error) {
	m.calls.Add(1)

	if m.closed.Load() {
		return Result{}, fmt.Errorf("mock model %q is closed", m.info.Name)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{}, fmt.Errorf("no prompt provided")
	}

	m.mu.RLock()
	full, ok := m.responses[req.Prompt]
	delay := m.delay
	m.mu.RUnlock()
	if !ok {
		full = fmt.Sprintf("Mock response to: %s", req.Prompt)
	}

	finish := "stop"
	count := 0
	for _, r := range full {
		if req.Options.MaxTokens > 0 && count >= req.Options.MaxTokens {
			finish = "length"
			break
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(delay):
			}
		} else if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if onToken != nil {
			onToken(string(r))
		}
		count++
	}

	text := full
	if finish == "length" {
		text = string([]rune(full)[:count])
	}

	return Result{
		Text:         text,
		FinishReason: finish,
		Usage: &TokenUsage{
			PromptTokens:     len([]rune(req.Prompt)),
			CompletionTokens: count,
			TotalTokens:      len([]rune(req.Prompt)) + count,
		},
	}, nil
}
