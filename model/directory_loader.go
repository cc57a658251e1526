package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/localmesh/download"
)

// DownloadMode selects what a DirectoryLoader does when weights are missing.
type DownloadMode int

const (
	// DownloadDefault starts a download (unless one runs elsewhere) and
	// fails with ErrModelDownloading until it has finished.
	DownloadDefault DownloadMode = iota
	// NoDownload fails with ErrModelNotFound.
	NoDownload
	// WaitForDownload starts or attaches to a download and blocks until it
	// completes or the policy timeout elapses.
	WaitForDownload
)

// String returns the mode name.
func (m DownloadMode) String() string {
	switch m {
	case DownloadDefault:
		return "default"
	case NoDownload:
		return "no-download"
	case WaitForDownload:
		return "wait-for-download"
	default:
		return fmt.Sprintf("DownloadMode(%d)", int(m))
	}
}

// ParseDownloadMode parses the String form of a DownloadMode.
func ParseDownloadMode(s string) (DownloadMode, error) {
	switch s {
	case "", "default":
		return DownloadDefault, nil
	case "no-download":
		return NoDownload, nil
	case "wait-for-download":
		return WaitForDownload, nil
	default:
		return 0, fmt.Errorf("model: unknown download mode %q", s)
	}
}

// DownloadPolicy is the download behavior of a DirectoryLoader. Timeout
// only applies to WaitForDownload; zero waits without bound.
type DownloadPolicy struct {
	Mode    DownloadMode
	Timeout time.Duration
}

// WaitFor returns a WaitForDownload policy bounded by timeout.
func WaitFor(timeout time.Duration) DownloadPolicy {
	return DownloadPolicy{Mode: WaitForDownload, Timeout: timeout}
}

// DirectoryLoaderOptions configures a DirectoryLoader.
type DirectoryLoaderOptions struct {
	ContextSize int
	CorpusDir   string
	Params      map[string]string
	Policy      DownloadPolicy
}

// DirectoryLoader resolves a named model against a download.Directory.
type DirectoryLoader struct {
	slug    string
	dir     download.Directory
	factory Factory
	opts    DirectoryLoaderOptions
	key     Key
}

var _ Loader = (*DirectoryLoader)(nil)

// NewDirectoryLoader creates a loader for slug within dir.
func NewDirectoryLoader(slug string, dir download.Directory, factory Factory, optFns ...func(o *DirectoryLoaderOptions)) *DirectoryLoader {
	opts := DirectoryLoaderOptions{ContextSize: 2048}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.CorpusDir = absPath(opts.CorpusDir)

	key := NewKey("directory",
		slug,
		opts.ContextSize,
		opts.CorpusDir,
		dir.ID(),
		opts.Policy.Mode.String(),
		opts.Policy.Timeout,
		opts.Params,
	)

	return &DirectoryLoader{slug: slug, dir: dir, factory: factory, opts: opts, key: key}
}

// Key implements Loader.
func (l *DirectoryLoader) Key() Key { return l.key }

// Slug implements Loader.
func (l *DirectoryLoader) Slug() string { return l.slug }

// Policy returns the download policy.
func (l *DirectoryLoader) Policy() DownloadPolicy { return l.opts.Policy }

// Load implements Loader.
func (l *DirectoryLoader) Load(ctx context.Context) (Model, error) {
	if err := download.ValidateSlug(l.slug); err != nil {
		return nil, &LoadError{Slug: l.slug, Err: err}
	}
	if l.dir.IsPersisted(l.slug) {
		return l.construct(ctx)
	}

	switch l.opts.Policy.Mode {
	case NoDownload:
		return nil, fmt.Errorf("%w: %q in %s", ErrModelNotFound, l.slug, l.dir.ID())
	case WaitForDownload:
		if err := l.awaitDownload(ctx); err != nil {
			return nil, err
		}
		return l.construct(ctx)
	default:
		return nil, l.startDownload()
	}
}

// startDownload kicks off a download unless one runs elsewhere and reports
// the outcome the default policy surfaces.
func (l *DirectoryLoader) startDownload() error {
	if !l.dir.InProgressElsewhere(l.slug) {
		t := l.dir.StartOrAttach(l.slug)
		select {
		case <-t.Done():
			if err := l.downloadErr(t.Err()); err != nil {
				return err
			}
		default:
		}
	}
	return fmt.Errorf("%w: %q", ErrModelDownloading, l.slug)
}

// downloadErr maps a finished task's error. Nil means "keep reporting
// downloading".
func (l *DirectoryLoader) downloadErr(err error) error {
	switch {
	case err == nil, errors.Is(err, download.ErrInProgressElsewhere):
		return nil
	case errors.Is(err, download.ErrNoFetcher):
		return fmt.Errorf("%w: %q in %s (no download configured)", ErrModelNotFound, l.slug, l.dir.ID())
	default:
		return &LoadError{Slug: l.slug, Err: err}
	}
}

func (l *DirectoryLoader) awaitDownload(ctx context.Context) error {
	var t download.Task
	if !l.dir.InProgressElsewhere(l.slug) {
		t = l.dir.StartOrAttach(l.slug)
	}

	err := l.dir.Await(ctx, l.slug, l.opts.Policy.Timeout)
	switch {
	case err == nil:
	case errors.Is(err, download.ErrTimeout):
		return fmt.Errorf("%w: %q after %s", ErrDownloadTimeout, l.slug, l.opts.Policy.Timeout)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		if t != nil && t.Err() != nil {
			err = t.Err()
		}
		if mapped := l.downloadErr(err); mapped != nil {
			return mapped
		}
		return &LoadError{Slug: l.slug, Err: err}
	}

	if !l.dir.IsPersisted(l.slug) {
		return fmt.Errorf("%w: %q in %s", ErrModelNotFound, l.slug, l.dir.ID())
	}
	return nil
}

func (l *DirectoryLoader) construct(ctx context.Context) (Model, error) {
	if l.factory == nil {
		return nil, &LoadError{Slug: l.slug, Err: fmt.Errorf("no factory configured")}
	}
	m, err := l.factory(ctx, Config{
		Path:        l.dir.Path(l.slug),
		ContextSize: l.opts.ContextSize,
		CorpusDir:   l.opts.CorpusDir,
		Params:      l.opts.Params,
	})
	if err != nil {
		return nil, &LoadError{Slug: l.slug, Err: err}
	}
	return m, nil
}
