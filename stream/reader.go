package stream

import (
	"context"
	"io"
)

// Reader iterates over the tokens of one view in production order. A
// Reader is not safe for concurrent use; create one per consumer.
type Reader struct {
	bus    *Bus
	pos    int
	filter func(Token) bool
	// end reports whether the view is complete and with which error. It is
	// called with the bus lock held.
	end func() (bool, error)
}

func newReader(b *Bus, pos int, filter func(Token) bool, end func() (bool, error)) *Reader {
	return &Reader{bus: b, pos: pos, filter: filter, end: end}
}

// Next returns the next token. It blocks until one is available and returns
// io.EOF once the view completed successfully, or the producer's error.
func (r *Reader) Next(ctx context.Context) (Token, error) {
	for {
		r.bus.mu.Lock()
		for r.pos < len(r.bus.tokens) {
			tok := r.bus.tokens[r.pos]
			r.pos++
			if r.filter(tok) {
				r.bus.mu.Unlock()
				return tok, nil
			}
		}
		if done, err := r.end(); done {
			r.bus.mu.Unlock()
			if err != nil {
				return Token{}, err
			}
			return Token{}, io.EOF
		}
		signal := r.bus.signal
		r.bus.mu.Unlock()

		select {
		case <-signal:
		case <-ctx.Done():
			return Token{}, ctx.Err()
		}
	}
}

// Chan streams the remaining tokens. The error channel receives at most one
// value and is closed after the token channel; a clean end sends nothing.
func (r *Reader) Chan(ctx context.Context) (<-chan Token, <-chan error) {
	tokCh := make(chan Token)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(tokCh)

		for {
			tok, err := r.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- err
				return
			}
			select {
			case tokCh <- tok:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return tokCh, errCh
}
