// Package logging provides a minimal logging interface and adapters for localmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the store, engine and agents use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - MeshLogger with component / invocation context and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	s := store.New(func(o *store.Options) { o.Logger = logger.WithComponent("store") })
package logging
