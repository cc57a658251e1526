package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/localmesh/logging"
	"github.com/hupe1980/localmesh/model"
)

// ErrAccessDisallowed is returned by NoOp for every operation.
var ErrAccessDisallowed = errors.New("store: model access disallowed")

// ModelStore grants load-once, scoped exclusive access to models.
type ModelStore interface {
	// Prewarm ensures a load for loader.Key() is started or complete and
	// returns when it has finished. It fails with the load's error.
	Prewarm(ctx context.Context, loader model.Loader) error

	// WithModelAccess runs fn with the loaded model. No two callbacks for
	// the same key run concurrently. Access is not re-entrant: fn must not
	// request the same key again.
	WithModelAccess(ctx context.Context, loader model.Loader, fn func(ctx context.Context, m model.Model) error) error
}

// State is the lifecycle state of a cache entry.
type State int

const (
	// StateEmpty means no entry exists for the key.
	StateEmpty State = iota
	// StateLoading means a load is in flight.
	StateLoading
	// StateReady means the model is loaded.
	StateReady
	// StateFailed means the last load failed. The next request retries.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EntryInfo is a point-in-time view of one cache entry.
type EntryInfo struct {
	Key   model.Key
	Slug  string
	State State
	Err   error
	// Waiters is the number of callers waiting for the load to finish.
	Waiters int
	// Queued is the number of callers waiting for exclusive access.
	Queued int
}

// Options configures a Store.
type Options struct {
	// Logger receives load and eviction messages.
	Logger logging.Logger

	// Observer receives metric events.
	Observer Observer

	// TracerProvider creates the store tracer. Defaults to the global
	// provider.
	TracerProvider trace.TracerProvider
}

// Store is the in-memory ModelStore. The zero value is not usable; use New.
type Store struct {
	opts   Options
	tracer trace.Tracer

	mu      sync.Mutex
	entries map[model.Key]*entry
}

var _ ModelStore = (*Store)(nil)

// New creates an empty Store.
func New(optFns ...func(o *Options)) *Store {
	opts := Options{
		Logger:   logging.NoOpLogger{},
		Observer: NoOpObserver{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Observer == nil {
		opts.Observer = NoOpObserver{}
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}

	return &Store{
		opts:    opts,
		tracer:  opts.TracerProvider.Tracer("github.com/hupe1980/localmesh/store"),
		entries: make(map[model.Key]*entry),
	}
}

var defaultStore = sync.OnceValue(func() *Store { return New() })

// Default returns the process-wide shared store.
func Default() *Store { return defaultStore() }

// entry is the promise cell for one key. model and err are written once
// before done is closed.
type entry struct {
	key  model.Key
	slug string

	done  chan struct{}
	model model.Model
	err   error

	// sem serializes access callbacks; its waiters are served FIFO.
	sem     *semaphore.Weighted
	evicted atomic.Bool
	// gone is closed once an evicted entry's model is closed and the entry
	// left the map.
	gone chan struct{}

	waiters atomic.Int64
	queued  atomic.Int64
}

func newEntry(key model.Key, slug string) *entry {
	return &entry{
		key:  key,
		slug: slug,
		done: make(chan struct{}),
		sem:  semaphore.NewWeighted(1),
		gone: make(chan struct{}),
	}
}

func (e *entry) state() State {
	select {
	case <-e.done:
		if e.err != nil {
			return StateFailed
		}
		return StateReady
	default:
		return StateLoading
	}
}

// Prewarm implements ModelStore.
func (s *Store) Prewarm(ctx context.Context, loader model.Loader) error {
	_, err := s.resolve(ctx, loader)
	return err
}

// WithModelAccess implements ModelStore.
func (s *Store) WithModelAccess(ctx context.Context, loader model.Loader, fn func(ctx context.Context, m model.Model) error) error {
	for {
		e, err := s.resolve(ctx, loader)
		if err != nil {
			return err
		}

		start := time.Now()
		e.queued.Add(1)
		err = e.sem.Acquire(ctx, 1)
		e.queued.Add(-1)
		if err != nil {
			return err
		}

		// Evict took the entry away while we were queued: start over.
		if e.evicted.Load() {
			e.sem.Release(1)
			continue
		}

		wait := time.Since(start)
		s.opts.Observer.OnAccessWait(e.slug, wait)

		return s.run(ctx, e, wait, fn)
	}
}

func (s *Store) run(ctx context.Context, e *entry, wait time.Duration, fn func(ctx context.Context, m model.Model) error) error {
	defer e.sem.Release(1)

	ctx, span := s.tracer.Start(ctx, "store.access", trace.WithAttributes(
		attribute.String("model.slug", e.slug),
		attribute.String("model.key", e.key.String()),
		attribute.Int64("store.wait_ms", wait.Milliseconds()),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx, e.model)
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	logging.ModelAccess(s.opts.Logger, e.slug, wait, time.Since(start), err)

	return err
}

// resolve returns the ready entry for loader's key, starting a load when
// there is none. A failed entry is replaced by a fresh load. An entry being
// evicted is only replaced once its model is closed.
func (s *Store) resolve(ctx context.Context, loader model.Loader) (*entry, error) {
	key := loader.Key()

	s.mu.Lock()
	e, ok := s.entries[key]
	for ok && e.evicted.Load() {
		s.mu.Unlock()
		select {
		case <-e.gone:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		s.mu.Lock()
		e, ok = s.entries[key]
	}
	if ok && e.state() == StateFailed {
		delete(s.entries, key)
		ok = false
	}
	if !ok {
		e = newEntry(key, loader.Slug())
		s.entries[key] = e
	}
	// Joining an in-flight load is not a hit.
	hit := ok && e.state() == StateReady
	e.waiters.Add(1)
	s.mu.Unlock()

	defer e.waiters.Add(-1)

	if !ok {
		// Detached so one caller giving up does not fail the others.
		go s.load(context.WithoutCancel(ctx), e, loader)
	} else if hit {
		s.opts.Observer.OnCacheHit(e.slug)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if e.err != nil {
		return nil, e.err
	}
	return e, nil
}

func (s *Store) load(ctx context.Context, e *entry, loader model.Loader) {
	ctx, span := s.tracer.Start(ctx, "store.load", trace.WithAttributes(
		attribute.String("model.slug", e.slug),
		attribute.String("model.key", e.key.String()),
	))
	defer span.End()

	s.opts.Observer.OnLoadStart(e.slug)
	s.opts.Logger.Info("Model load started", "slug", e.slug, "key", e.key.String())

	start := time.Now()
	m, err := safeLoad(ctx, loader)
	dur := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	logging.ModelLoad(s.opts.Logger, e.slug, dur, err)
	s.opts.Observer.OnLoadDone(e.slug, dur, err)

	e.model, e.err = m, err
	close(e.done)
}

func safeLoad(ctx context.Context, loader model.Loader) (m model.Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, &model.LoadError{Slug: loader.Slug(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	m, err = loader.Load(ctx)
	if err == nil && m == nil {
		err = &model.LoadError{Slug: loader.Slug(), Err: errors.New("loader returned no model")}
	}
	return m, err
}

// State returns the state of the entry for key.
func (s *Store) State(key model.Key) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return StateEmpty
	}
	return e.state()
}

// Keys returns the keys currently in the cache.
func (s *Store) Keys() []model.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]model.Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Entries returns a snapshot of all entries ordered by slug.
func (s *Store) Entries() []EntryInfo {
	s.mu.Lock()
	infos := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		info := EntryInfo{
			Key:     e.key,
			Slug:    e.slug,
			State:   e.state(),
			Waiters: int(e.waiters.Load()),
			Queued:  int(e.queued.Load()),
		}
		if info.State == StateFailed {
			info.Err = e.err
		}
		infos = append(infos, info)
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Slug != infos[j].Slug {
			return infos[i].Slug < infos[j].Slug
		}
		return infos[i].Key.String() < infos[j].Key.String()
	})
	return infos
}

// Evict removes the entry for key. It waits for an in-flight load and for
// the running access callback, then closes the model if it implements
// io.Closer. Callers queued behind the eviction trigger a fresh load once
// the old model is closed.
func (s *Store) Evict(ctx context.Context, key model.Key) error {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)

	if e.evicted.Swap(true) {
		return nil
	}

	var closeErr error
	if c, ok := e.model.(io.Closer); ok {
		if err := c.Close(); err != nil {
			closeErr = fmt.Errorf("store: close %q: %w", e.slug, err)
		}
	}

	s.mu.Lock()
	if s.entries[key] == e {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	close(e.gone)

	s.opts.Observer.OnEvict(e.slug)
	s.opts.Logger.Info("Model evicted", "slug", e.slug, "key", key.String())

	return closeErr
}

// Close evicts every entry.
func (s *Store) Close(ctx context.Context) error {
	var errs []error
	for _, key := range s.Keys() {
		if err := s.Evict(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
