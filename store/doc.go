// Package store implements the load-once model cache.
//
// A Store maps a model.Key to a cache entry that moves through
// Empty → Loading → Ready | Failed. The first caller for a key starts the
// load; concurrent callers wait on the same entry and observe the same
// outcome. A failed entry is replaced on the next request, so load errors
// are never cached permanently.
//
// WithModelAccess hands the model to a callback. Callbacks for the same key
// never overlap and are admitted in arrival order; different keys proceed
// independently:
//
//	err := s.WithModelAccess(ctx, loader, func(ctx context.Context, m model.Model) error {
//		_, err := m.Invoke(ctx, req, onToken)
//		return err
//	})
//
// Default returns a process-wide store; NoOp refuses all access.
package store
