package download

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Sentinel errors for download operations.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrTimeout indicates the bounded wait for a download elapsed.
	ErrTimeout = errors.New("download: timed out waiting for completion")

	// ErrCancelled indicates the download task was cancelled before completion.
	ErrCancelled = errors.New("download: cancelled")

	// ErrInProgressElsewhere indicates another process holds the download lock.
	ErrInProgressElsewhere = errors.New("download: in progress elsewhere")

	// ErrIncomplete indicates a download finished without persisting the weights.
	ErrIncomplete = errors.New("download: finished without persisting weights")

	// ErrNoFetcher indicates the directory has no way to obtain weights.
	ErrNoFetcher = errors.New("download: no fetcher configured")

	// ErrInvalidSlug indicates a slug that does not name a location below the
	// directory root.
	ErrInvalidSlug = errors.New("download: invalid slug")
)

// ValidateSlug reports whether slug is a relative, slash separated path that
// stays below a directory root.
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSlug)
	}
	if path.IsAbs(slug) || filepath.IsAbs(slug) || strings.Contains(slug, `\`) {
		return fmt.Errorf("%w: %q is not a relative slash separated path", ErrInvalidSlug, slug)
	}
	for _, elem := range strings.Split(slug, "/") {
		if elem == ".." {
			return fmt.Errorf("%w: %q contains \"..\"", ErrInvalidSlug, slug)
		}
	}
	if !filepath.IsLocal(filepath.FromSlash(slug)) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	return nil
}

// Directory resolves model slugs against local storage and coordinates
// downloads of missing weights. Implementations must be safe for concurrent use.
type Directory interface {
	// ID returns a stable identity for the directory, e.g. its absolute root.
	// Loaders fold it into their cache keys.
	ID() string

	// Path returns the location the weights for slug occupy once persisted,
	// or "" when slug is invalid.
	Path(slug string) string

	// IsPersisted reports whether the weights for slug are fully available.
	IsPersisted(slug string) bool

	// InProgressElsewhere reports whether a download for slug runs outside
	// this Directory instance (e.g. another process).
	InProgressElsewhere(slug string) bool

	// StartOrAttach starts a download for slug or returns the one already
	// running in this Directory.
	StartOrAttach(slug string) Task

	// Await blocks until the download for slug completes, ctx is done or the
	// timeout elapses (ErrTimeout). A timeout <= 0 waits without bound.
	Await(ctx context.Context, slug string, timeout time.Duration) error
}

// Task is a cancellable, observable download.
type Task interface {
	// Slug returns the slug being downloaded.
	Slug() string

	// Done is closed once the task finished (successfully or not).
	Done() <-chan struct{}

	// Err returns the terminal error; nil while running or on success.
	Err() error

	// Cancel aborts the download. Safe to call multiple times.
	Cancel()
}
