package stream

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// ViewOptions configures a Stream view.
type ViewOptions[T any] struct {
	// Codec decodes the view's text. Defaults to DefaultCodec[T].
	Codec Codec[T]
}

// Stream is a typed, read-only view over a Bus: either the default stream
// (untagged tokens) or one substream.
type Stream[T any] struct {
	bus   *Bus
	codec Codec[T]

	tag string
	ns  string
}

// NewStream returns the default stream of bus: every untagged token. It
// completes when the bus closes.
func NewStream[T any](bus *Bus, optFns ...func(o *ViewOptions[T])) *Stream[T] {
	return newView(bus, "", "", optFns)
}

func newView[T any](bus *Bus, tag, ns string, optFns []func(o *ViewOptions[T])) *Stream[T] {
	opts := ViewOptions[T]{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = DefaultCodec[T]()
	}
	return &Stream[T]{bus: bus, codec: opts.Codec, tag: tag, ns: ns}
}

// Resolve returns the substream (tag, ns) of bus decoded as T. It blocks
// until the first token for the pair arrived, and fails with
// ErrSubstreamNeverMaterialized when the bus closes first. Resolving the
// same pair again with the same T returns the same *Stream; options only
// apply to the first resolution.
func Resolve[T any](ctx context.Context, bus *Bus, tag, ns string, optFns ...func(o *ViewOptions[T])) (*Stream[T], error) {
	ns = normalizeNS(ns)
	key := subKey{tag: tag, ns: ns}
	want := TypeName[T]()

	for {
		bus.mu.Lock()
		if sub, ok := bus.subs[key]; ok {
			defer bus.mu.Unlock()

			if sub.typ != "" && sub.typ != want {
				return nil, &InvalidSubstreamTypeError{Tag: tag, Namespace: ns, Want: want, Got: sub.typ}
			}
			if view, ok := sub.view.(*Stream[T]); ok {
				return view, nil
			}
			view := newView(bus, tag, ns, optFns)
			sub.view = view
			return view, nil
		}
		if bus.closed {
			err := bus.err
			bus.mu.Unlock()
			if err != nil {
				return nil, fmt.Errorf("%w: %q/%q: %w", ErrSubstreamNeverMaterialized, ns, tag, err)
			}
			return nil, fmt.Errorf("%w: %q/%q", ErrSubstreamNeverMaterialized, ns, tag)
		}
		signal := bus.signal
		bus.mu.Unlock()

		select {
		case <-signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Tag returns the substream tag, empty for the default stream.
func (s *Stream[T]) Tag() string { return s.tag }

// Namespace returns the substream namespace, empty for the default stream.
func (s *Stream[T]) Namespace() string { return s.ns }

func (s *Stream[T]) filter(tok Token) bool {
	if s.tag == "" {
		return !tok.Tagged()
	}
	return tok.Tag == s.tag && tok.Namespace == s.ns
}

// end must be called with the bus lock held.
func (s *Stream[T]) end() (bool, error) {
	if s.tag != "" {
		if sub, ok := s.bus.subs[subKey{tag: s.tag, ns: s.ns}]; ok && sub.finished {
			return true, sub.err
		}
	}
	return s.bus.closed, s.bus.err
}

// Tokens returns a reader that replays the view from its first token.
func (s *Stream[T]) Tokens() *Reader {
	return newReader(s.bus, 0, s.filter, s.end)
}

// OnToken delivers every token produced into the view after the call, in
// order, on a separate goroutine.
func (s *Stream[T]) OnToken(fn func(Token)) *Subscription {
	s.bus.mu.Lock()
	pos := len(s.bus.tokens)
	s.bus.mu.Unlock()

	return subscribe(newReader(s.bus, pos, s.filter, s.end), fn)
}

// Partials decodes the view incrementally and emits each refined value. A
// decode error ends this consumer only. Both channels close when done.
func (s *Stream[T]) Partials(ctx context.Context) (<-chan T, <-chan error) {
	outCh := make(chan T)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(outCh)

		r := s.Tokens()
		dec := s.codec.NewDecoder()
		for {
			tok, err := r.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- err
				return
			}

			v, ok, err := dec.Feed(tok.Text)
			if err != nil {
				errCh <- err
				return
			}
			if !ok {
				continue
			}

			select {
			case outCh <- v:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return outCh, errCh
}

// Text waits for the view to complete and returns its concatenated text.
func (s *Stream[T]) Text(ctx context.Context) (string, error) {
	r := s.Tokens()
	var sb strings.Builder
	for {
		tok, err := r.Next(ctx)
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(tok.Text)
	}
}

// Collect waits for the view to complete and decodes its full text.
func (s *Stream[T]) Collect(ctx context.Context) (T, error) {
	text, err := s.Text(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.codec.Decode(text)
}
