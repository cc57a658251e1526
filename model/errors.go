package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for model resolution and loading.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrModelNotFound indicates no local weights exist and the policy forbids downloading.
	ErrModelNotFound = errors.New("model: not found")

	// ErrModelDownloading indicates a download is in progress and the caller's policy does not wait.
	ErrModelDownloading = errors.New("model: download in progress")

	// ErrDownloadTimeout indicates the bounded wait for a download elapsed.
	ErrDownloadTimeout = errors.New("model: timed out waiting for download")

	// ErrModelLoadFailed indicates constructing the model failed. Returned wrapped in *LoadError.
	ErrModelLoadFailed = errors.New("model: load failed")

	// ErrNoModelConfigured indicates the sentinel loader was invoked.
	ErrNoModelConfigured = errors.New("model: no model configured")
)

// LoadError carries the underlying construction or parse failure of a load.
// errors.Is(err, ErrModelLoadFailed) reports true for it.
type LoadError struct {
	Slug string
	Err  error
}

// Error implements error.
func (e *LoadError) Error() string {
	return fmt.Sprintf("model: load %q failed: %v", e.Slug, e.Err)
}

// Unwrap returns the underlying cause.
func (e *LoadError) Unwrap() error { return e.Err }

// Is matches ErrModelLoadFailed.
func (e *LoadError) Is(target error) bool { return target == ErrModelLoadFailed }
