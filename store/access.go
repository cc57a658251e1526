package store

import (
	"context"

	"github.com/hupe1980/localmesh/model"
)

// Access is the typed form of ModelStore.WithModelAccess: it returns the
// value produced by fn.
func Access[T any](ctx context.Context, s ModelStore, loader model.Loader, fn func(ctx context.Context, m model.Model) (T, error)) (T, error) {
	var out T
	err := s.WithModelAccess(ctx, loader, func(ctx context.Context, m model.Model) error {
		v, err := fn(ctx, m)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// NoOp is a ModelStore that refuses all access. Compositions use it where
// model access is explicitly disallowed.
type NoOp struct{}

var _ ModelStore = NoOp{}

// Prewarm implements ModelStore.
func (NoOp) Prewarm(context.Context, model.Loader) error { return ErrAccessDisallowed }

// WithModelAccess implements ModelStore.
func (NoOp) WithModelAccess(context.Context, model.Loader, func(ctx context.Context, m model.Model) error) error {
	return ErrAccessDisallowed
}
