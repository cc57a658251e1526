package download

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func staticFetcher(content string) Fetcher {
	return FetcherFunc(func(_ context.Context, _ string, w io.Writer) error {
		_, err := io.WriteString(w, content)
		return err
	})
}

func blockingFetcher() Fetcher {
	return FetcherFunc(func(ctx context.Context, _ string, _ io.Writer) error {
		<-ctx.Done()
		return ctx.Err()
	})
}

func TestLocalDirectory_DownloadPersists(t *testing.T) {
	root := t.TempDir()
	d := NewLocalDirectory(root, func(o *Options) { o.Fetcher = staticFetcher("weights") })

	assert.False(t, d.IsPersisted("blob"))

	task := d.StartOrAttach("blob")
	<-task.Done()
	require.NoError(t, task.Err())

	assert.True(t, d.IsPersisted("blob"))
	data, err := os.ReadFile(d.Path("blob"))
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	_, err = os.Stat(filepath.Join(root, ".blob.lock"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "lock marker removed")
}

func TestLocalDirectory_StartOrAttachDeduplicates(t *testing.T) {
	d := NewLocalDirectory(t.TempDir(), func(o *Options) { o.Fetcher = blockingFetcher() })

	t1 := d.StartOrAttach("blob")
	t2 := d.StartOrAttach("blob")
	assert.Same(t, t1, t2)
	assert.False(t, d.InProgressElsewhere("blob"), "own download is not elsewhere")

	t1.Cancel()
	t1.Cancel()
	<-t1.Done()
	assert.ErrorIs(t, t1.Err(), ErrCancelled)
	assert.False(t, d.IsPersisted("blob"))
}

// gatedFetcher writes content once release is closed.
func gatedFetcher(release <-chan struct{}, content string) Fetcher {
	return FetcherFunc(func(ctx context.Context, _ string, w io.Writer) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		_, err := io.WriteString(w, content)
		return err
	})
}

func TestLocalDirectory_InProgressElsewhere(t *testing.T) {
	root := t.TempDir()

	// A second directory on the same root stands in for another process.
	other := NewLocalDirectory(root, func(o *Options) { o.Fetcher = blockingFetcher() })
	foreign := other.StartOrAttach("blob")
	defer func() {
		foreign.Cancel()
		<-foreign.Done()
	}()

	d := NewLocalDirectory(root, func(o *Options) { o.Fetcher = staticFetcher("x") })
	assert.True(t, d.InProgressElsewhere("blob"))

	task := d.StartOrAttach("blob")
	<-task.Done()
	assert.ErrorIs(t, task.Err(), ErrInProgressElsewhere)
}

func TestLocalDirectory_StaleMarkerDoesNotBlock(t *testing.T) {
	root := t.TempDir()
	marker := filepath.Join(root, ".blob.lock")
	require.NoError(t, os.WriteFile(marker, []byte("999999\n"), 0o644))

	d := NewLocalDirectory(root, func(o *Options) { o.Fetcher = staticFetcher("fresh") })
	assert.False(t, d.InProgressElsewhere("blob"), "nobody holds the marker")

	task := d.StartOrAttach("blob")
	<-task.Done()
	require.NoError(t, task.Err())

	data, err := os.ReadFile(d.Path("blob"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))

	_, err = os.Stat(marker)
	assert.True(t, errors.Is(err, os.ErrNotExist), "stale marker cleaned up")
}

func TestLocalDirectory_LockReleasedAfterCancel(t *testing.T) {
	root := t.TempDir()
	first := NewLocalDirectory(root, func(o *Options) { o.Fetcher = blockingFetcher() })
	task := first.StartOrAttach("blob")
	task.Cancel()
	<-task.Done()

	second := NewLocalDirectory(root, func(o *Options) { o.Fetcher = staticFetcher("w") })
	assert.False(t, second.InProgressElsewhere("blob"))

	retry := second.StartOrAttach("blob")
	<-retry.Done()
	require.NoError(t, retry.Err())
	assert.True(t, second.IsPersisted("blob"))
}

func TestLocalDirectory_NestedSlug(t *testing.T) {
	root := t.TempDir()
	d := NewLocalDirectory(root, func(o *Options) { o.Fetcher = staticFetcher("nested") })

	task := d.StartOrAttach("org/model")
	<-task.Done()
	require.NoError(t, task.Err())

	assert.Equal(t, filepath.Join(d.Root(), "org", "model"), d.Path("org/model"))
	assert.True(t, d.IsPersisted("org/model"))
	data, err := os.ReadFile(filepath.Join(root, "org", "model"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(data))

	_, err = os.Stat(filepath.Join(root, ".org%2Fmodel.lock"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "lock marker removed")
}

func TestLocalDirectory_RejectsEscapingSlug(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "models")
	require.NoError(t, os.WriteFile(filepath.Join(base, "escaped"), []byte("outside"), 0o644))

	var fetched atomic.Bool
	d := NewLocalDirectory(root, func(o *Options) {
		o.Fetcher = FetcherFunc(func(context.Context, string, io.Writer) error {
			fetched.Store(true)
			return nil
		})
	})

	assert.Empty(t, d.Path("../escaped"))
	assert.False(t, d.IsPersisted("../escaped"))
	assert.False(t, d.InProgressElsewhere("../escaped"))

	task := d.StartOrAttach("../escaped")
	<-task.Done()
	assert.ErrorIs(t, task.Err(), ErrInvalidSlug)
	assert.ErrorIs(t, d.Await(context.Background(), "../escaped", time.Second), ErrInvalidSlug)
	assert.False(t, fetched.Load())
}

func TestValidateSlug(t *testing.T) {
	tests := []struct {
		slug string
		ok   bool
	}{
		{"blob", true},
		{"org/model", true},
		{"org/model-7b.gguf", true},
		{"", false},
		{"/etc/passwd", false},
		{"../escaped", false},
		{"org/../../escaped", false},
		{"org/..", false},
		{`org\model`, false},
	}
	for _, tt := range tests {
		err := ValidateSlug(tt.slug)
		if tt.ok {
			assert.NoError(t, err, tt.slug)
		} else {
			assert.ErrorIs(t, err, ErrInvalidSlug, tt.slug)
		}
	}
}

func TestLocalDirectory_AwaitTimeout(t *testing.T) {
	d := NewLocalDirectory(t.TempDir(), func(o *Options) { o.Fetcher = blockingFetcher() })
	task := d.StartOrAttach("blob")
	defer task.Cancel()

	err := d.Await(context.Background(), "blob", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestLocalDirectory_AwaitPollsForeignDownload(t *testing.T) {
	root := t.TempDir()
	release := make(chan struct{})

	other := NewLocalDirectory(root, func(o *Options) { o.Fetcher = gatedFetcher(release, "w") })
	foreign := other.StartOrAttach("blob")

	d := NewLocalDirectory(root, func(o *Options) { o.PollInterval = 5 * time.Millisecond })
	require.True(t, d.InProgressElsewhere("blob"))

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(release)
	}()

	require.NoError(t, d.Await(context.Background(), "blob", time.Second))
	assert.True(t, d.IsPersisted("blob"))

	<-foreign.Done()
	require.NoError(t, foreign.Err())
}

func TestLocalDirectory_AwaitCallerCancelled(t *testing.T) {
	d := NewLocalDirectory(t.TempDir(), func(o *Options) { o.Fetcher = blockingFetcher() })
	task := d.StartOrAttach("blob")
	defer task.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Await(ctx, "blob", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestLocalDirectory_NoFetcher(t *testing.T) {
	d := NewLocalDirectory(t.TempDir())
	task := d.StartOrAttach("blob")
	<-task.Done()
	assert.ErrorIs(t, task.Err(), ErrNoFetcher)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/blob" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "remote-weights")
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL + "/")
	var sb strings.Builder
	require.NoError(t, f.Fetch(context.Background(), "blob", &sb))
	assert.Equal(t, "remote-weights", sb.String())

	err := f.Fetch(context.Background(), "missing", &sb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}

func TestHTTPFetcher_RateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "w")
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL)
	f.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	require.NoError(t, f.Fetch(context.Background(), "a", io.Discard))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.Fetch(ctx, "b", io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.EqualValues(t, 1, hits.Load())
}
