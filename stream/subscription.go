package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// Subscription is a push-style consumer created by Stream.OnToken.
type Subscription struct {
	mu        sync.Mutex
	cancelled bool
	stop      context.CancelFunc
	done      chan struct{}
	err       error

	// delivery spans the cancellation check and the callback it admits.
	delivery   sync.Mutex
	inCallback atomic.Bool
}

func subscribe(r *Reader, fn func(Token)) *Subscription {
	ctx, stop := context.WithCancel(context.Background())
	s := &Subscription{stop: stop, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		for {
			tok, err := r.Next(ctx)
			if err != nil {
				s.mu.Lock()
				if !s.cancelled {
					s.err = err
				}
				s.mu.Unlock()
				return
			}
			if !s.dispatch(tok, fn) {
				return
			}
		}
	}()

	return s
}

// dispatch runs fn unless the subscription was cancelled.
func (s *Subscription) dispatch(tok Token, fn func(Token)) bool {
	s.delivery.Lock()
	defer s.delivery.Unlock()

	s.mu.Lock()
	cancelled := s.cancelled
	s.mu.Unlock()
	if cancelled {
		return false
	}

	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	fn(tok)
	return true
}

// Cancel stops delivery. Once it returns no further token is dispatched;
// a callback already dispatched runs to completion. Cancel is idempotent and
// may be called from within the callback.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.stop()

	if s.inCallback.Load() {
		return
	}
	// Wait out a dispatch that passed the check before cancelled was set.
	s.delivery.Lock()
	s.delivery.Unlock()
}

// Done is closed when delivery has ended, by cancellation or because the
// stream ended.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns how the stream ended: nil before Done is closed, io.EOF on a
// clean end, the producer's error otherwise. A cancelled subscription
// reports nil.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
