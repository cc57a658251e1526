package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type plan struct {
	Steps []string `json:"steps"`
}

func push(t *testing.T, b *Bus, tok Token) {
	t.Helper()
	require.NoError(t, b.Push(tok))
}

func readAll(t *testing.T, r *Reader) ([]string, error) {
	t.Helper()
	var out []string
	for {
		tok, err := r.Next(context.Background())
		if err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
		out = append(out, tok.Text)
	}
}

func TestBus_DefaultStreamOrder(t *testing.T) {
	b := NewBus()
	s := NewStream[string](b)

	for _, text := range []string{"t1", "t2", "t3"} {
		push(t, b, Token{MessageID: "m", Text: text})
	}
	b.Close(nil)

	got, err := readAll(t, s.Tokens())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "t3"}, got)

	// Readers replay independently.
	again, err := readAll(t, s.Tokens())
	require.NoError(t, err)
	assert.Equal(t, got, again)

	text, err := s.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t1t2t3", text)
}

func TestBus_SeqAssigned(t *testing.T) {
	b := NewBus()
	push(t, b, Token{MessageID: "m", Text: "a"})
	push(t, b, Token{MessageID: "m", Text: "b", Tag: "x"})

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, 0, snap[0].Seq)
	assert.Equal(t, 1, snap[1].Seq)
	assert.Equal(t, DefaultNamespace, snap[1].Namespace)
}

func TestBus_OrderingProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		type route struct{ tag, ns string }
		routes := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) route {
			return route{
				tag: rapid.SampledFrom([]string{"", "a", "b"}).Draw(t, "tag"),
				ns:  rapid.SampledFrom([]string{"ns1", "ns2"}).Draw(t, "ns"),
			}
		}), 0, 40).Draw(rt, "tokens")

		b := NewBus()
		want := map[route][]string{}
		for i, sp := range routes {
			text := string(rune('A' + i%26))
			ns := sp.ns
			if sp.tag == "" {
				ns = ""
			}
			if err := b.Push(Token{MessageID: "m", Text: text, Tag: sp.tag, Namespace: ns}); err != nil {
				rt.Fatalf("push: %v", err)
			}
			key := route{tag: sp.tag, ns: ns}
			want[key] = append(want[key], text)
		}
		b.Close(nil)

		root, err := readAll(t, NewStream[string](b).Tokens())
		if err != nil {
			rt.Fatalf("root: %v", err)
		}
		if len(root) != len(want[route{}]) {
			rt.Fatalf("root saw %v, want %v", root, want[route{}])
		}
		for i := range root {
			if root[i] != want[route{}][i] {
				rt.Fatalf("root order %v, want %v", root, want[route{}])
			}
		}

		for key, texts := range want {
			if key.tag == "" {
				continue
			}
			sub, err := Resolve[string](context.Background(), b, key.tag, key.ns)
			if err != nil {
				rt.Fatalf("resolve %v: %v", key, err)
			}
			got, err := readAll(t, sub.Tokens())
			if err != nil {
				rt.Fatalf("read %v: %v", key, err)
			}
			if len(got) != len(texts) {
				rt.Fatalf("substream %v saw %v, want %v", key, got, texts)
			}
			for i := range got {
				if got[i] != texts[i] {
					rt.Fatalf("substream %v order %v, want %v", key, got, texts)
				}
			}
		}
	})
}

func TestSubstream_Isolation(t *testing.T) {
	b := NewBus()
	push(t, b, Token{MessageID: "m1", Text: "a1", Tag: "A", Namespace: "ns1"})
	push(t, b, Token{MessageID: "m2", Text: "b1", Tag: "B", Namespace: "ns1"})
	push(t, b, Token{MessageID: "m3", Text: "a2", Tag: "A", Namespace: "ns2"})
	push(t, b, Token{MessageID: "m1", Text: "a3", Tag: "A", Namespace: "ns1"})
	b.Close(nil)

	ctx := context.Background()
	a1, err := Resolve[string](ctx, b, "A", "ns1")
	require.NoError(t, err)
	text, err := a1.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1a3", text)

	b1, err := Resolve[string](ctx, b, "B", "ns1")
	require.NoError(t, err)
	text, err = b1.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b1", text)

	root, err := NewStream[string](b).Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, root)
}

func TestSubstream_SuspendsUntilFirstTaggedToken(t *testing.T) {
	b := NewBus()
	push(t, b, Token{MessageID: "root", Text: "hello "})

	first := make(chan Token, 1)
	errCh := make(chan error, 1)
	go func() {
		sub, err := Resolve[string](context.Background(), b, "sub1", "global")
		if err != nil {
			errCh <- err
			return
		}
		tok, err := sub.Tokens().Next(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		first <- tok
	}()

	select {
	case <-first:
		t.Fatal("resolved before any tagged token")
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	for _, text := range []string{"x", "y", "z"} {
		push(t, b, Token{MessageID: "child", Text: text, Tag: "sub1", Namespace: "global"})
	}

	select {
	case tok := <-first:
		assert.Equal(t, "x", tok.Text)
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("resolver never resumed")
	}
}

func TestSubstream_NeverMaterialized(t *testing.T) {
	b := NewBus()
	errCh := make(chan error, 1)
	go func() {
		_, err := Resolve[string](context.Background(), b, "missing", "")
		errCh <- err
	}()

	push(t, b, Token{MessageID: "m", Text: "untagged"})
	b.Close(nil)

	assert.ErrorIs(t, <-errCh, ErrSubstreamNeverMaterialized)

	failed := NewBus()
	cause := errors.New("model crashed")
	failed.Close(cause)
	_, err := Resolve[string](context.Background(), failed, "missing", "")
	assert.ErrorIs(t, err, ErrSubstreamNeverMaterialized)
	assert.ErrorIs(t, err, cause)
}

func TestSubstream_ResolveCancelled(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := Resolve[string](ctx, b, "later", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubstream_TypeMismatch(t *testing.T) {
	b := NewBus()
	e := NewEmitter[plan](b, "m", "plan", "")
	require.NoError(t, e.Emit(`{"steps":[]}`))

	_, err := Resolve[string](context.Background(), b, "plan", "")
	require.ErrorIs(t, err, ErrInvalidSubstreamType)

	var typeErr *InvalidSubstreamTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "string", typeErr.Want)
	assert.Equal(t, "stream.plan", typeErr.Got)
}

func TestSubstream_SameViewTwice(t *testing.T) {
	b := NewBus()
	push(t, b, Token{MessageID: "m", Text: "x", Tag: "t"})

	s1, err := Resolve[string](context.Background(), b, "t", "")
	require.NoError(t, err)
	s2, err := Resolve[string](context.Background(), b, "t", DefaultNamespace)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestSubstream_Conflict(t *testing.T) {
	b := NewBus()
	push(t, b, Token{MessageID: "m1", Text: "a", Tag: "t"})

	err := b.Push(Token{MessageID: "m2", Text: "b", Tag: "t"})
	assert.ErrorIs(t, err, ErrSubstreamConflict)
	assert.Equal(t, 1, b.Len())
}

func TestSubstream_FinishEndsView(t *testing.T) {
	b := NewBus()
	e := NewEmitter[plan](b, "m", "plan", "")
	require.NoError(t, e.Emit(`{"steps":["a",`))
	require.NoError(t, e.Emit(`"b"]}`))
	require.NoError(t, e.Finish(nil))

	sub, err := Resolve[plan](context.Background(), b, "plan", "")
	require.NoError(t, err)

	// The bus is still open, the substream is complete.
	got, err := sub.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Steps)

	assert.ErrorIs(t, e.Emit("late"), ErrBusClosed)
}

func TestSubstream_FinishWithoutTokens(t *testing.T) {
	b := NewBus()
	cause := errors.New("child failed")
	e := NewEmitter[string](b, "m", "empty", "")
	require.NoError(t, e.Finish(cause))

	sub, err := Resolve[string](context.Background(), b, "empty", "")
	require.NoError(t, err)
	_, err = sub.Collect(context.Background())
	assert.ErrorIs(t, err, cause)
}

func TestBus_CloseSemantics(t *testing.T) {
	b := NewBus()
	cause := errors.New("first")
	b.Close(cause)
	b.Close(errors.New("second"))

	assert.Equal(t, cause, b.Err())
	assert.ErrorIs(t, b.Push(Token{Text: "x"}), ErrBusClosed)
	select {
	case <-b.Done():
	default:
		t.Fatal("done not closed")
	}

	_, err := NewStream[string](b).Collect(context.Background())
	assert.ErrorIs(t, err, cause)
}

func TestReader_BlocksUntilToken(t *testing.T) {
	b := NewBus()
	r := NewStream[string](b).Tokens()

	got := make(chan Token, 1)
	go func() {
		tok, err := r.Next(context.Background())
		if err == nil {
			got <- tok
		}
	}()

	time.Sleep(5 * time.Millisecond)
	push(t, b, Token{MessageID: "m", Text: "late"})

	select {
	case tok := <-got:
		assert.Equal(t, "late", tok.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not wake")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReader_Chan(t *testing.T) {
	b := NewBus()
	push(t, b, Token{MessageID: "m", Text: "a"})
	push(t, b, Token{MessageID: "m", Text: "b"})
	b.Close(nil)

	tokCh, errCh := b.Reader().Chan(context.Background())
	var texts []string
	for tok := range tokCh {
		texts = append(texts, tok.Text)
	}
	assert.NoError(t, <-errCh)
	assert.Equal(t, []string{"a", "b"}, texts)
}

func TestOnToken_LiveAndCancel(t *testing.T) {
	b := NewBus()
	s := NewStream[string](b)
	push(t, b, Token{MessageID: "m", Text: "before"})

	var mu sync.Mutex
	var seen []string
	sub := s.OnToken(func(tok Token) {
		mu.Lock()
		seen = append(seen, tok.Text)
		mu.Unlock()
	})

	push(t, b, Token{MessageID: "m", Text: "after1"})
	push(t, b, Token{MessageID: "m", Text: "after2"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, time.Millisecond)

	sub.Cancel()
	sub.Cancel()
	<-sub.Done()

	push(t, b, Token{MessageID: "m", Text: "after-cancel"})
	b.Close(nil)
	time.Sleep(5 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"after1", "after2"}, seen)
	assert.NoError(t, sub.Err())
}

func TestOnToken_CancelFromCallback(t *testing.T) {
	b := NewBus()
	s := NewStream[string](b)

	var sub *Subscription
	calls := 0
	ready := make(chan struct{})
	sub = s.OnToken(func(Token) {
		<-ready
		calls++
		sub.Cancel()
	})
	close(ready)

	push(t, b, Token{MessageID: "m", Text: "a"})
	<-sub.Done()
	push(t, b, Token{MessageID: "m", Text: "b"})
	b.Close(nil)

	assert.Equal(t, 1, calls)
}

func TestOnToken_CancelWhileCallbackBlocked(t *testing.T) {
	b := NewBus()
	s := NewStream[string](b)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	sub := s.OnToken(func(Token) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
	})

	push(t, b, Token{MessageID: "m", Text: "a"})
	push(t, b, Token{MessageID: "m", Text: "b"})
	<-entered

	cancelled := make(chan struct{})
	go func() {
		sub.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel waited for a running callback")
	}

	close(release)
	<-sub.Done()
	b.Close(nil)
	assert.EqualValues(t, 1, calls.Load(), "no dispatch after Cancel returned")
}

func TestOnToken_NoDispatchAfterCancelReturns(t *testing.T) {
	for i := 0; i < 200; i++ {
		b := NewBus()
		s := NewStream[string](b)

		var calls atomic.Int32
		sub := s.OnToken(func(Token) { calls.Add(1) })

		stop := make(chan struct{})
		go func() {
			for {
				select {
				case <-stop:
					return
				default:
					_ = b.Push(Token{MessageID: "m", Text: "x"})
				}
			}
		}()

		require.Eventually(t, func() bool { return calls.Load() > 0 }, 2*time.Second, time.Millisecond)
		sub.Cancel()
		atCancel := calls.Load()
		<-sub.Done()
		time.Sleep(time.Millisecond)
		close(stop)

		// Only a callback already running when Cancel was called may finish.
		assert.LessOrEqual(t, calls.Load(), atCancel+1)
		b.Close(nil)
	}
}

func TestOnToken_EndsWithStream(t *testing.T) {
	b := NewBus()
	cause := errors.New("boom")
	sub := NewStream[string](b).OnToken(func(Token) {})
	b.Close(cause)

	<-sub.Done()
	assert.ErrorIs(t, sub.Err(), cause)
}

func TestPartials_JSON(t *testing.T) {
	b := NewBus()
	e := NewEmitter[plan](b, "m", "plan", "")
	for _, tok := range []string{`{"st`, `eps": ["wr`, `ite", "te`, `st"]}`} {
		require.NoError(t, e.Emit(tok))
	}
	b.Close(nil)

	sub, err := Resolve[plan](context.Background(), b, "plan", "")
	require.NoError(t, err)

	partials, errs := sub.Partials(context.Background())
	var got []plan
	for p := range partials {
		got = append(got, p)
	}
	require.NoError(t, <-errs)

	require.NotEmpty(t, got)
	assert.Equal(t, []string{"write", "test"}, got[len(got)-1].Steps)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, len(got[i].Steps), len(got[i-1].Steps))
	}
}

func TestPartials_DecodeErrorIsolated(t *testing.T) {
	b := NewBus()
	push(t, b, Token{MessageID: "m", Text: "hello world"})
	b.Close(nil)

	typed := NewStream[plan](b)
	partials, errs := typed.Partials(context.Background())
	for range partials {
	}
	err := <-errs
	assert.ErrorIs(t, err, ErrDecodePartialFailed)

	// A sibling consumer of the same bus is unaffected.
	text, err := NewStream[string](b).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestCollect_DecodeFailure(t *testing.T) {
	b := NewBus()
	push(t, b, Token{MessageID: "m", Text: `{"steps": [`})
	b.Close(nil)

	_, err := NewStream[plan](b).Collect(context.Background())
	assert.ErrorIs(t, err, ErrDecodePartialFailed)
}
