package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hupe1980/localmesh/logging"
)

// Fetcher streams the weights for slug into w.
type Fetcher interface {
	Fetch(ctx context.Context, slug string, w io.Writer) error
}

// FetcherFunc adapts an ordinary function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, slug string, w io.Writer) error

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, slug string, w io.Writer) error {
	return f(ctx, slug, w)
}

// Options configures a LocalDirectory.
type Options struct {
	// Fetcher obtains missing weights. Without one every download fails
	// with ErrNoFetcher.
	Fetcher Fetcher

	// PollInterval is how often Await re-checks a download running in
	// another process.
	PollInterval time.Duration

	// Logger receives download lifecycle messages.
	Logger logging.Logger
}

// LocalDirectory is a filesystem backed Directory.
type LocalDirectory struct {
	root string
	opts Options

	mu    sync.Mutex
	tasks map[string]*task
}

var _ Directory = (*LocalDirectory)(nil)

// NewLocalDirectory creates a LocalDirectory rooted at root. The root is
// created on the first download if it does not exist.
func NewLocalDirectory(root string, optFns ...func(o *Options)) *LocalDirectory {
	opts := Options{
		PollInterval: 250 * time.Millisecond,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &LocalDirectory{root: filepath.Clean(root), opts: opts, tasks: map[string]*task{}}
}

// Root returns the absolute root directory.
func (d *LocalDirectory) Root() string { return d.root }

// ID implements Directory.
func (d *LocalDirectory) ID() string { return "local:" + d.root }

// Path implements Directory.
func (d *LocalDirectory) Path(slug string) string {
	if ValidateSlug(slug) != nil {
		return ""
	}
	return filepath.Join(d.root, filepath.FromSlash(slug))
}

// lockPath keeps every marker directly in the root, whatever the slug depth.
func (d *LocalDirectory) lockPath(slug string) string {
	return filepath.Join(d.root, "."+url.PathEscape(slug)+".lock")
}

// IsPersisted implements Directory.
func (d *LocalDirectory) IsPersisted(slug string) bool {
	p := d.Path(slug)
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

// InProgressElsewhere implements Directory. Downloads started by this
// instance are not "elsewhere".
func (d *LocalDirectory) InProgressElsewhere(slug string) bool {
	if ValidateSlug(slug) != nil {
		return false
	}
	d.mu.Lock()
	_, own := d.tasks[slug]
	d.mu.Unlock()
	if own {
		return false
	}
	return lockHeld(d.lockPath(slug))
}

// StartOrAttach implements Directory.
func (d *LocalDirectory) StartOrAttach(slug string) Task {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.tasks[slug]; ok {
		return t
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{slug: slug, done: make(chan struct{}), cancel: cancel}

	if err := ValidateSlug(slug); err != nil {
		cancel()
		t.finish(err)
		return t
	}

	if d.opts.Fetcher == nil {
		cancel()
		t.finish(ErrNoFetcher)
		return t
	}

	lock, err := d.acquireLock(slug)
	if err != nil {
		cancel()
		t.finish(err)
		return t
	}
	t.lock = lock

	d.tasks[slug] = t
	go d.run(ctx, t)

	return t
}

// acquireLock takes the marker lock for slug. It is held until the
// download finishes.
func (d *LocalDirectory) acquireLock(slug string) (*fileLock, error) {
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return nil, fmt.Errorf("download: create root: %w", err)
	}
	lock, err := tryFileLock(d.lockPath(slug))
	if err != nil {
		if errors.Is(err, ErrInProgressElsewhere) {
			return nil, err
		}
		return nil, fmt.Errorf("download: create lock: %w", err)
	}
	return lock, nil
}

func (d *LocalDirectory) run(ctx context.Context, t *task) {
	start := time.Now()
	err := d.fetch(ctx, t.slug)
	if err != nil && ctx.Err() != nil {
		err = ErrCancelled
	}

	if unlockErr := t.lock.Unlock(); unlockErr != nil {
		d.opts.Logger.Warn("download: release lock", "slug", t.slug, "error", unlockErr)
	}

	d.mu.Lock()
	delete(d.tasks, t.slug)
	d.mu.Unlock()

	logging.Download(d.opts.Logger, t.slug, time.Since(start), err)

	t.finish(err)
}

func (d *LocalDirectory) fetch(ctx context.Context, slug string) error {
	if d.opts.Fetcher == nil {
		return ErrNoFetcher
	}

	target := d.Path(slug)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("download: create parent: %w", err)
	}

	partial := target + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("download: create partial file: %w", err)
	}

	if err := d.opts.Fetcher.Fetch(ctx, slug, f); err != nil {
		_ = f.Close()
		_ = os.Remove(partial)
		return err
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("download: close partial file: %w", err)
	}

	if err := os.Rename(partial, target); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("download: finalize: %w", err)
	}

	return nil
}

// Await implements Directory.
func (d *LocalDirectory) Await(ctx context.Context, slug string, timeout time.Duration) error {
	if err := ValidateSlug(slug); err != nil {
		return err
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	d.mu.Lock()
	t, own := d.tasks[slug]
	d.mu.Unlock()

	if own {
		select {
		case <-t.Done():
			return t.Err()
		case <-waitCtx.Done():
			return waitErr(ctx, waitCtx)
		}
	}

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		if d.IsPersisted(slug) {
			return nil
		}
		if !d.InProgressElsewhere(slug) {
			// One more look: the rename happens before the lock is removed.
			if d.IsPersisted(slug) {
				return nil
			}
			return ErrIncomplete
		}
		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			return waitErr(ctx, waitCtx)
		}
	}
}

// waitErr distinguishes the caller giving up from the bounded wait elapsing.
func waitErr(parent, wait context.Context) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(wait.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return wait.Err()
}

// task implements Task.
type task struct {
	slug   string
	done   chan struct{}
	cancel context.CancelFunc
	lock   *fileLock

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (t *task) Slug() string          { return t.slug }
func (t *task) Done() <-chan struct{} { return t.done }
func (t *task) Cancel()               { t.cancel() }

func (t *task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *task) finish(err error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.done)
	})
}
