package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/localmesh/model"
)

// CountingLoader is a model.Loader that counts Load calls. Loads can be
// delayed, gated on a channel and made to fail.
//
//	l := testutil.NewCountingLoader("m").WithDelay(50 * time.Millisecond)
//	... exercise the store ...
//	assert.Equal(t, 1, l.Loads())
type CountingLoader struct {
	key   model.Key
	slug  string
	delay time.Duration
	gate  chan struct{}

	mu    sync.Mutex
	fails []error
	model func() model.Model

	loads atomic.Int64
}

var _ model.Loader = (*CountingLoader)(nil)

// NewCountingLoader creates a loader keyed by slug. Loaders with the same
// slug share a key.
func NewCountingLoader(slug string) *CountingLoader {
	return &CountingLoader{
		key:  model.ExplicitKey("test/" + slug),
		slug: slug,
		model: func() model.Model {
			return model.NewMockModel(slug, "test")
		},
	}
}

// WithDelay makes every load take at least d (chainable).
func (l *CountingLoader) WithDelay(d time.Duration) *CountingLoader {
	l.delay = d
	return l
}

// WithGate makes loads block until Release is called (chainable).
func (l *CountingLoader) WithGate() *CountingLoader {
	l.gate = make(chan struct{})
	return l
}

// WithModel makes loads return the model built by fn (chainable).
func (l *CountingLoader) WithModel(fn func() model.Model) *CountingLoader {
	l.model = fn
	return l
}

// FailNext queues errors returned by the next loads, in order.
func (l *CountingLoader) FailNext(errs ...error) *CountingLoader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fails = append(l.fails, errs...)
	return l
}

// Release opens the gate.
func (l *CountingLoader) Release() { close(l.gate) }

// Loads returns the number of Load calls so far.
func (l *CountingLoader) Loads() int { return int(l.loads.Load()) }

// Key implements model.Loader.
func (l *CountingLoader) Key() model.Key { return l.key }

// Slug implements model.Loader.
func (l *CountingLoader) Slug() string { return l.slug }

// Load implements model.Loader.
func (l *CountingLoader) Load(ctx context.Context) (model.Model, error) {
	l.loads.Add(1)

	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	var err error
	if len(l.fails) > 0 {
		err, l.fails = l.fails[0], l.fails[1:]
	}
	build := l.model
	l.mu.Unlock()

	if err != nil {
		return nil, &model.LoadError{Slug: l.slug, Err: err}
	}
	return build(), nil
}
